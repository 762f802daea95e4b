package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func openTestBolt(t *testing.T, path string) *BoltDevice {
	t.Helper()
	dev, err := OpenBoltDevice(path, 8192, 4, 512)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestBoltDeviceReadsErasedWhenEmpty(t *testing.T) {
	dev := openTestBolt(t, filepath.Join(t.TempDir(), "flash.db"))
	buf := make([]byte, 64)
	if err := dev.ReadAt(buf, 1000); err != nil {
		t.Fatal(err)
	}
	for i, b := range buf {
		if b != 0xFF {
			t.Fatalf("byte %d reads %#x, want erased", i, b)
		}
	}
}

func TestBoltDeviceProgramSpansBlocks(t *testing.T) {
	dev := openTestBolt(t, filepath.Join(t.TempDir(), "flash.db"))
	data := make([]byte, 128)
	for i := range data {
		data[i] = byte(i)
	}
	// Straddles the block boundary at 512.
	if err := dev.Program(448, data); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(data))
	if err := dev.ReadAt(got, 448); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read back differs from programmed data")
	}

	if err := dev.Erase(512, 512); err != nil {
		t.Fatal(err)
	}
	if err := dev.ReadAt(got, 448); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[:64], data[:64]) {
		t.Error("erase clobbered the preceding block")
	}
	for i := 64; i < len(got); i++ {
		if got[i] != 0xFF {
			t.Fatalf("byte %d survived erase: %#x", i, got[i])
		}
	}
}

func TestBoltDevicePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.db")
	dev, err := OpenBoltDevice(path, 8192, 4, 512)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(dev)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Format(); err != nil {
		t.Fatal(err)
	}
	words := testProgram(12)
	loadProgram(t, s, words, nil)
	if err := dev.Close(); err != nil {
		t.Fatal(err)
	}

	dev2 := openTestBolt(t, path)
	s2, err := NewStore(dev2)
	if err != nil {
		t.Fatal(err)
	}
	if err := s2.LoadHeader(); err != nil {
		t.Fatal(err)
	}
	if s2.ProgramWords() != len(words) {
		t.Fatalf("reopened store has %d words, want %d", s2.ProgramWords(), len(words))
	}
	got, err := s2.ReadProgram()
	if err != nil {
		t.Fatal(err)
	}
	for i := range words {
		if got[i] != words[i] {
			t.Fatalf("word %d: got %d, want %d", i, got[i], words[i])
		}
	}
}

func TestBoltDeviceRejectsBadGeometry(t *testing.T) {
	if _, err := OpenBoltDevice(filepath.Join(t.TempDir(), "flash.db"), 1000, 4, 512); err == nil {
		t.Fatal("expected error for size not a multiple of erase block")
	}
}

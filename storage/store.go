// Package storage persists exactly one active light machine program, plus
// an opaque UI-state blob, across resets. It runs on raw block-erasable
// storage via the Device interface: two fixed slots, each a CRC-guarded
// header followed by program words and aligned UI-state bytes. A new
// program streams into the inactive slot and becomes active only when its
// header is programmed, so an interrupted load leaves the previous program
// selected on the next boot.
package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/chazu/lumen/vm"
)

// HeaderSize is the slot header size in bytes.
const HeaderSize = 32

// headerMagic reads as 'P','L','M','1' on the device.
const headerMagic uint32 = 0x314D4C50

// headerVersion is the current slot layout generation.
const headerVersion uint32 = 1

// header is the 32-byte slot header. All fields little-endian; crc covers
// the first 28 bytes.
type header struct {
	magic        uint32
	version      uint32
	programWords uint32
	programCRC   uint32
	uiLen        uint32
	uiCRC        uint32
	seq          uint32
	crc          uint32
}

func (h *header) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], h.magic)
	binary.LittleEndian.PutUint32(buf[4:], h.version)
	binary.LittleEndian.PutUint32(buf[8:], h.programWords)
	binary.LittleEndian.PutUint32(buf[12:], h.programCRC)
	binary.LittleEndian.PutUint32(buf[16:], h.uiLen)
	binary.LittleEndian.PutUint32(buf[20:], h.uiCRC)
	binary.LittleEndian.PutUint32(buf[24:], h.seq)
	h.crc = crc32.ChecksumIEEE(buf[:28])
	binary.LittleEndian.PutUint32(buf[28:], h.crc)
	return buf
}

func decodeHeader(buf []byte) header {
	return header{
		magic:        binary.LittleEndian.Uint32(buf[0:]),
		version:      binary.LittleEndian.Uint32(buf[4:]),
		programWords: binary.LittleEndian.Uint32(buf[8:]),
		programCRC:   binary.LittleEndian.Uint32(buf[12:]),
		uiLen:        binary.LittleEndian.Uint32(buf[16:]),
		uiCRC:        binary.LittleEndian.Uint32(buf[20:]),
		seq:          binary.LittleEndian.Uint32(buf[24:]),
		crc:          binary.LittleEndian.Uint32(buf[28:]),
	}
}

// newerSeq reports whether candidate is a strictly newer sequence number
// than current under wraparound-aware comparison.
func newerSeq(candidate, current uint32) bool {
	return candidate != current && candidate-current < 0x8000_0000
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

// Store manages two program slots on one device.
type Store struct {
	dev      Device
	slotSize int

	active int // -1 when no slot holds a valid program
	hdr    header
}

// NewStore splits the device window into two erase-aligned slots. The
// device's write alignment must divide the header size.
func NewStore(dev Device) (*Store, error) {
	if HeaderSize%dev.WriteAlign() != 0 {
		return nil, errKind(ErrUnalignedWrite, "write alignment %d does not divide header", dev.WriteAlign())
	}
	slot := dev.Size() / 2 / dev.EraseAlign() * dev.EraseAlign()
	if slot < dev.EraseAlign() || slot < HeaderSize {
		return nil, errKind(ErrProgramTooLarge, "window of %d too small for two slots", dev.Size())
	}
	return &Store{dev: dev, slotSize: slot, active: -1}, nil
}

// SlotSize returns the per-slot capacity in bytes.
func (s *Store) SlotSize() int { return s.slotSize }

// ActiveSlot returns the selected slot, or -1 for an empty store.
func (s *Store) ActiveSlot() int { return s.active }

// Seq returns the active program's sequence number.
func (s *Store) Seq() uint32 { return s.hdr.seq }

// ProgramWords returns the active program length; 0 for an empty store.
func (s *Store) ProgramWords() int {
	if s.active < 0 {
		return 0
	}
	return int(s.hdr.programWords)
}

// UiStateLen returns the active UI-state blob length in bytes.
func (s *Store) UiStateLen() int {
	if s.active < 0 {
		return 0
	}
	return int(s.hdr.uiLen)
}

func (s *Store) slotBase(slot int) int { return slot * s.slotSize }

// uiStart returns the slot-relative byte offset of the UI-state region for
// a program of the given word count.
func (s *Store) uiStart(programWords int) int {
	return alignUp(HeaderSize+2*programWords, s.dev.WriteAlign())
}

// LoadHeader scans both slots, validates every candidate fully (header CRC
// and version, then program and UI-state region checksums independently)
// and selects the newest valid one. A store with no valid slot is empty,
// not an error.
func (s *Store) LoadHeader() error {
	s.active = -1
	for slot := 0; slot < 2; slot++ {
		h, ok, err := s.validateSlot(slot)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if s.active < 0 || newerSeq(h.seq, s.hdr.seq) {
			s.active = slot
			s.hdr = h
		}
	}
	return nil
}

func (s *Store) validateSlot(slot int) (header, bool, error) {
	base := s.slotBase(slot)
	buf := make([]byte, HeaderSize)
	if err := s.dev.ReadAt(buf, base); err != nil {
		return header{}, false, wrapDevice(err)
	}
	h := decodeHeader(buf)
	if h.magic != headerMagic || h.version != headerVersion {
		return header{}, false, nil
	}
	if crc32.ChecksumIEEE(buf[:28]) != h.crc {
		return header{}, false, nil
	}
	progBytes := 2 * int(h.programWords)
	uiStart := s.uiStart(int(h.programWords))
	if HeaderSize+progBytes > s.slotSize || uiStart+int(h.uiLen) > s.slotSize {
		return header{}, false, nil
	}
	// A committed header does not prove the body landed: an interrupted
	// write can leave either region torn, so both checksum independently.
	progCRC, err := s.crcRegion(base+HeaderSize, progBytes)
	if err != nil {
		return header{}, false, err
	}
	if progCRC != h.programCRC {
		return header{}, false, nil
	}
	uiCRC, err := s.crcRegion(base+uiStart, int(h.uiLen))
	if err != nil {
		return header{}, false, err
	}
	if uiCRC != h.uiCRC {
		return header{}, false, nil
	}
	return h, true, nil
}

// crcRegion checksums a device span in bounded chunks.
func (s *Store) crcRegion(off, length int) (uint32, error) {
	var crc uint32
	buf := make([]byte, 256)
	for n := 0; n < length; {
		span := len(buf)
		if span > length-n {
			span = length - n
		}
		if err := s.dev.ReadAt(buf[:span], off+n); err != nil {
			return 0, wrapDevice(err)
		}
		crc = crc32.Update(crc, crc32.IEEETable, buf[:span])
		n += span
	}
	return crc, nil
}

// ReadProgram returns the active program image. An empty store yields an
// empty image.
func (s *Store) ReadProgram() ([]vm.ProgramWord, error) {
	words := s.ProgramWords()
	if words == 0 {
		return nil, nil
	}
	buf := make([]byte, 2*words)
	if err := s.dev.ReadAt(buf, s.slotBase(s.active)+HeaderSize); err != nil {
		return nil, wrapDevice(err)
	}
	out := make([]vm.ProgramWord, words)
	for i := range out {
		out[i] = vm.ProgramWord(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return out, nil
}

// ReadUiState reads from the active UI-state blob at a byte offset and
// returns the bytes copied, short at the end of the blob.
func (s *Store) ReadUiState(off int, buf []byte) (int, error) {
	if s.active < 0 {
		return 0, errKind(ErrUnknownProgram, "empty store")
	}
	uiLen := int(s.hdr.uiLen)
	if off < 0 || off > uiLen {
		return 0, errKind(ErrUiStateReadOutOfBounds, "offset %d of %d", off, uiLen)
	}
	n := len(buf)
	if n > uiLen-off {
		n = uiLen - off
	}
	if n == 0 {
		return 0, nil
	}
	base := s.slotBase(s.active) + s.uiStart(int(s.hdr.programWords))
	if err := s.dev.ReadAt(buf[:n], base+off); err != nil {
		return 0, wrapDevice(err)
	}
	return n, nil
}

// Format erases both slots and writes an empty valid header to each,
// leaving slot 0 active with sequence 0. Boot code calls this when neither
// slot validates.
func (s *Store) Format() error {
	for slot := 0; slot < 2; slot++ {
		if err := s.dev.Erase(s.slotBase(slot), s.slotSize); err != nil {
			return wrapDevice(err)
		}
		h := header{magic: headerMagic, version: headerVersion}
		if err := s.dev.Program(s.slotBase(slot), h.encode()); err != nil {
			return wrapDevice(err)
		}
	}
	s.active = 0
	s.hdr = header{magic: headerMagic, version: headerVersion}
	return nil
}

// GetProgramLoader validates capacity against the inactive slot, erases its
// needed span up front and returns a loader for the incoming streams. The
// store stays on the previous program until the loader commits.
func (s *Store) GetProgramLoader(programWords, uiStateBytes int) (*Loader, error) {
	if programWords < 0 || HeaderSize+2*programWords > s.slotSize {
		return nil, errKind(ErrProgramTooLarge, "%d words in slot of %d bytes", programWords, s.slotSize)
	}
	uiStart := s.uiStart(programWords)
	if uiStateBytes < 0 || uiStart+uiStateBytes > s.slotSize {
		return nil, errKind(ErrUiStateTooLarge, "%d bytes after %d program words", uiStateBytes, programWords)
	}

	slot := 0
	seq := uint32(1)
	if s.active >= 0 {
		slot = 1 - s.active
		seq = s.hdr.seq + 1
	}
	base := s.slotBase(slot)
	span := alignUp(uiStart+uiStateBytes, s.dev.EraseAlign())
	if span > s.slotSize {
		span = s.slotSize
	}
	if err := s.dev.Erase(base, span); err != nil {
		return nil, wrapDevice(err)
	}

	return &Loader{
		s:            s,
		slot:         slot,
		seq:          seq,
		programWords: programWords,
		uiLen:        uiStateBytes,
		progWriteOff: base + HeaderSize,
		uiWriteOff:   base + uiStart,
	}, nil
}

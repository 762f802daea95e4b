package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/chazu/lumen/vm"
)

// Loader streams a new program and UI-state blob into the inactive slot.
// Blocks must arrive in strictly increasing block-number order per stream;
// writes go to the device incrementally, so the memory held is one block
// plus a sub-alignment carry, never the whole program. FinishLoad programs
// the header, which is the single commit point.
type Loader struct {
	s    *Store
	slot int
	seq  uint32

	programWords int
	uiLen        int

	nextBlock   int
	nextUiBlock int

	progOff int // program bytes received
	uiOff   int // UI-state bytes received

	progCRC uint32
	uiCRC   uint32

	progWriteOff int // next device offset for the program stream
	uiWriteOff   int // next device offset for the UI-state stream

	progTail []byte // sub-alignment carry between blocks
	uiTail   []byte

	done bool
}

// Slot returns the slot being loaded.
func (l *Loader) Slot() int { return l.slot }

// AddBlock appends one program block. block is the 0-based block number and
// must be exactly the next expected one.
func (l *Loader) AddBlock(block int, words []vm.ProgramWord) error {
	if l.done {
		return errKind(ErrUnexpectedBlock, "loader already committed")
	}
	if block != l.nextBlock {
		return errKind(ErrUnexpectedBlock, "program block %d, want %d", block, l.nextBlock)
	}
	data := make([]byte, 2*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(w))
	}
	if l.progOff+len(data) > 2*l.programWords {
		return errKind(ErrProgramTooLarge, "block %d overruns %d program words", block, l.programWords)
	}
	l.progCRC = crc32.Update(l.progCRC, crc32.IEEETable, data)
	l.progOff += len(data)
	l.nextBlock++

	var err error
	l.progTail, l.progWriteOff, err = l.writeAligned(l.progTail, data, l.progWriteOff)
	return err
}

// AddUiBlock appends one UI-state block. Intermediate blocks must be
// exactly write-aligned; only the final block may fall short, and it is
// padded on the device while the CRC covers the unpadded bytes.
func (l *Loader) AddUiBlock(block int, data []byte) error {
	if l.done {
		return errKind(ErrUnexpectedBlock, "loader already committed")
	}
	if block != l.nextUiBlock {
		return errKind(ErrUnexpectedBlock, "ui block %d, want %d", block, l.nextUiBlock)
	}
	if l.uiOff+len(data) > l.uiLen {
		return errKind(ErrUiStateTooLarge, "block %d overruns %d bytes", block, l.uiLen)
	}
	final := l.uiOff+len(data) == l.uiLen
	if !final && len(data)%l.s.dev.WriteAlign() != 0 {
		return errKind(ErrUnalignedWrite, "intermediate ui block of %d bytes", len(data))
	}
	l.uiCRC = crc32.Update(l.uiCRC, crc32.IEEETable, data)
	l.uiOff += len(data)
	l.nextUiBlock++

	var err error
	l.uiTail, l.uiWriteOff, err = l.writeAligned(l.uiTail, data, l.uiWriteOff)
	return err
}

// writeAligned programs the aligned prefix of tail+data and carries the
// remainder.
func (l *Loader) writeAligned(tail, data []byte, writeOff int) ([]byte, int, error) {
	wa := l.s.dev.WriteAlign()
	buf := append(tail, data...)
	n := len(buf) / wa * wa
	if n > 0 {
		if err := l.s.dev.Program(writeOff, buf[:n]); err != nil {
			return nil, 0, wrapDevice(err)
		}
	}
	return append([]byte(nil), buf[n:]...), writeOff + n, nil
}

// flushTail pads and programs a sub-alignment remainder.
func (l *Loader) flushTail(tail []byte, writeOff int) error {
	if len(tail) == 0 {
		return nil
	}
	wa := l.s.dev.WriteAlign()
	buf := make([]byte, wa)
	for i := range buf {
		buf[i] = erasedByte
	}
	copy(buf, tail)
	return wrapDevice(l.s.dev.Program(writeOff, buf))
}

// FinishLoad verifies both streams arrived completely, flushes any padded
// remainders and commits by programming the slot header. On success the
// store switches to the new slot.
func (l *Loader) FinishLoad() error {
	if l.done {
		return errKind(ErrUnexpectedBlock, "loader already committed")
	}
	if l.progOff != 2*l.programWords {
		return errKind(ErrProgramIncomplete, "%d of %d program bytes", l.progOff, 2*l.programWords)
	}
	if l.uiOff != l.uiLen {
		return errKind(ErrUiStateIncomplete, "%d of %d ui bytes", l.uiOff, l.uiLen)
	}
	if err := l.flushTail(l.progTail, l.progWriteOff); err != nil {
		return err
	}
	if err := l.flushTail(l.uiTail, l.uiWriteOff); err != nil {
		return err
	}

	h := header{
		magic:        headerMagic,
		version:      headerVersion,
		programWords: uint32(l.programWords),
		programCRC:   l.progCRC,
		uiLen:        uint32(l.uiLen),
		uiCRC:        l.uiCRC,
		seq:          l.seq,
	}
	if err := l.s.dev.Program(l.s.slotBase(l.slot), h.encode()); err != nil {
		return wrapDevice(err)
	}
	l.s.active = l.slot
	l.s.hdr = h
	l.done = true
	return nil
}

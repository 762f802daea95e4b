package storage

import "fmt"

// Device is the raw storage a Store runs on: block-erasable, aligned
// programmable, randomly readable. Offsets are byte offsets from the start
// of the device's storage window. Implementations bounds-check every
// operation and never panic.
type Device interface {
	// Size returns the usable window size in bytes.
	Size() int
	// WriteAlign returns the program-operation alignment in bytes. Program
	// offsets and lengths must be multiples of it.
	WriteAlign() int
	// EraseAlign returns the erase-block size in bytes. Erase offsets and
	// lengths must be multiples of it.
	EraseAlign() int

	ReadAt(p []byte, off int) error
	Erase(off, length int) error
	Program(off int, p []byte) error
}

// erasedByte is the value erased flash reads back as.
const erasedByte = 0xFF

// MemoryDevice emulates a flash window in RAM: erase fills with 0xFF,
// program enforces alignment. Non-flash targets use it as a plain
// double-buffer with no power-loss concerns; tests corrupt its backing
// slice directly to simulate interrupted writes.
type MemoryDevice struct {
	buf        []byte
	writeAlign int
	eraseAlign int
}

// NewMemoryDevice allocates an erased window.
func NewMemoryDevice(size, writeAlign, eraseAlign int) *MemoryDevice {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = erasedByte
	}
	return &MemoryDevice{buf: buf, writeAlign: writeAlign, eraseAlign: eraseAlign}
}

// Size returns the window size in bytes.
func (d *MemoryDevice) Size() int { return len(d.buf) }

// WriteAlign returns the program alignment in bytes.
func (d *MemoryDevice) WriteAlign() int { return d.writeAlign }

// EraseAlign returns the erase-block size in bytes.
func (d *MemoryDevice) EraseAlign() int { return d.eraseAlign }

// Bytes exposes the backing slice for test corruption.
func (d *MemoryDevice) Bytes() []byte { return d.buf }

// ReadAt fills p from the window at off.
func (d *MemoryDevice) ReadAt(p []byte, off int) error {
	if off < 0 || off+len(p) > len(d.buf) {
		return fmt.Errorf("read [%d,%d) outside window of %d", off, off+len(p), len(d.buf))
	}
	copy(p, d.buf[off:])
	return nil
}

// Erase resets a span to the erased value.
func (d *MemoryDevice) Erase(off, length int) error {
	if off%d.eraseAlign != 0 || length%d.eraseAlign != 0 {
		return fmt.Errorf("erase [%d,%d) not %d-aligned", off, off+length, d.eraseAlign)
	}
	if off < 0 || off+length > len(d.buf) {
		return fmt.Errorf("erase [%d,%d) outside window of %d", off, off+length, len(d.buf))
	}
	for i := off; i < off+length; i++ {
		d.buf[i] = erasedByte
	}
	return nil
}

// Program writes p at off, both write-aligned.
func (d *MemoryDevice) Program(off int, p []byte) error {
	if off%d.writeAlign != 0 || len(p)%d.writeAlign != 0 {
		return fmt.Errorf("program [%d,%d) not %d-aligned", off, off+len(p), d.writeAlign)
	}
	if off < 0 || off+len(p) > len(d.buf) {
		return fmt.Errorf("program [%d,%d) outside window of %d", off, off+len(p), len(d.buf))
	}
	copy(d.buf[off:], p)
	return nil
}

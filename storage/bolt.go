package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var flashBucket = []byte("flash")

// BoltDevice persists a flash window in a bbolt database, one record per
// erase block, so a desktop daemon keeps its program store across restarts
// the way a flash part would. Blocks absent from the database read as
// erased.
type BoltDevice struct {
	db         *bolt.DB
	size       int
	writeAlign int
	eraseAlign int
}

// OpenBoltDevice opens (creating if needed) the database at path.
func OpenBoltDevice(path string, size, writeAlign, eraseAlign int) (*BoltDevice, error) {
	if size%eraseAlign != 0 {
		return nil, fmt.Errorf("storage: size %d not a multiple of erase block %d", size, eraseAlign)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(flashBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init %s: %w", path, err)
	}
	return &BoltDevice{db: db, size: size, writeAlign: writeAlign, eraseAlign: eraseAlign}, nil
}

// Close releases the database.
func (d *BoltDevice) Close() error { return d.db.Close() }

// Size returns the window size in bytes.
func (d *BoltDevice) Size() int { return d.size }

// WriteAlign returns the program alignment in bytes.
func (d *BoltDevice) WriteAlign() int { return d.writeAlign }

// EraseAlign returns the erase-block size in bytes.
func (d *BoltDevice) EraseAlign() int { return d.eraseAlign }

func blockKey(n int) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(n))
	return k[:]
}

// ReadAt fills p from the window at off, treating missing blocks as erased.
func (d *BoltDevice) ReadAt(p []byte, off int) error {
	if off < 0 || off+len(p) > d.size {
		return fmt.Errorf("read [%d,%d) outside window of %d", off, off+len(p), d.size)
	}
	return d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(flashBucket)
		for n := 0; n < len(p); {
			block := (off + n) / d.eraseAlign
			blockOff := (off + n) % d.eraseAlign
			span := d.eraseAlign - blockOff
			if span > len(p)-n {
				span = len(p) - n
			}
			if v := b.Get(blockKey(block)); v != nil {
				copy(p[n:n+span], v[blockOff:])
			} else {
				for i := n; i < n+span; i++ {
					p[i] = erasedByte
				}
			}
			n += span
		}
		return nil
	})
}

// Erase drops whole blocks back to the erased state.
func (d *BoltDevice) Erase(off, length int) error {
	if off%d.eraseAlign != 0 || length%d.eraseAlign != 0 {
		return fmt.Errorf("erase [%d,%d) not %d-aligned", off, off+length, d.eraseAlign)
	}
	if off < 0 || off+length > d.size {
		return fmt.Errorf("erase [%d,%d) outside window of %d", off, off+length, d.size)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(flashBucket)
		for block := off / d.eraseAlign; block < (off+length)/d.eraseAlign; block++ {
			if err := b.Delete(blockKey(block)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Program writes p at off, read-modify-writing each touched block in one
// transaction.
func (d *BoltDevice) Program(off int, p []byte) error {
	if off%d.writeAlign != 0 || len(p)%d.writeAlign != 0 {
		return fmt.Errorf("program [%d,%d) not %d-aligned", off, off+len(p), d.writeAlign)
	}
	if off < 0 || off+len(p) > d.size {
		return fmt.Errorf("program [%d,%d) outside window of %d", off, off+len(p), d.size)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(flashBucket)
		for n := 0; n < len(p); {
			block := (off + n) / d.eraseAlign
			blockOff := (off + n) % d.eraseAlign
			span := d.eraseAlign - blockOff
			if span > len(p)-n {
				span = len(p) - n
			}
			page := make([]byte, d.eraseAlign)
			if v := b.Get(blockKey(block)); v != nil {
				copy(page, v)
			} else {
				for i := range page {
					page[i] = erasedByte
				}
			}
			copy(page[blockOff:], p[n:n+span])
			if err := b.Put(blockKey(block), page); err != nil {
				return err
			}
			n += span
		}
		return nil
	})
}

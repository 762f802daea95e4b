package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"github.com/chazu/lumen/vm"
)

// ---------------------------------------------------------------------------
// Content hashing
// ---------------------------------------------------------------------------
//
// Interning keys are SHA-256 digests over a canonical little-endian
// serialization. Bodies hash their abstract word forms, so two functions
// intern identically exactly when they would emit identical words given the
// same static placements, independent of where either is finally placed.

func hashWord(h hash.Hash, w vm.ProgramWord) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(w))
	h.Write(buf[:])
}

func hashInt(h hash.Hash, v int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
	h.Write(buf[:])
}

func hashBody(body []WordRef) [32]byte {
	h := sha256.New()
	hashInt(h, len(body))
	for _, ref := range body {
		hashInt(h, int(ref.Kind))
		hashWord(h, ref.Value)
		hashInt(h, int(ref.Static))
		hashWord(h, ref.Offset)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func hashStatic(words []vm.ProgramWord) [32]byte {
	h := sha256.New()
	hashInt(h, len(words))
	for _, w := range words {
		hashWord(h, w)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// hashType covers a machine's globals size, function count and every
// function body in index order. The machine's source name is deliberately
// excluded: two machines named differently but defined identically are the
// same type.
func hashType(t *machineType) [32]byte {
	h := sha256.New()
	hashInt(h, t.globals)
	hashInt(h, t.funcCount)
	for i := 0; i < t.funcCount; i++ {
		bh := hashBody(t.funcs[i])
		h.Write(bh[:])
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

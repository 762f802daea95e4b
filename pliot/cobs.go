package pliot

import "fmt"

// ---------------------------------------------------------------------------
// COBS framing
// ---------------------------------------------------------------------------
//
// Consistent Overhead Byte Stuffing removes every zero byte from a payload
// so a single zero can delimit frames on the stream. Each code byte gives
// the distance to the next zero (or to the next code byte for maximal
// 254-byte runs).

// cobsEncode stuffs src into a zero-free byte sequence.
func cobsEncode(src []byte) []byte {
	out := make([]byte, 0, len(src)+1+len(src)/254)
	codeIdx := len(out)
	out = append(out, 0)
	code := byte(1)
	for _, b := range src {
		if b == 0 {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
		}
	}
	out[codeIdx] = code
	return out
}

// cobsDecode unstuffs a zero-free sequence back into the payload.
func cobsDecode(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		code := src[i]
		if code == 0 {
			return nil, fmt.Errorf("pliot: zero code byte at %d", i)
		}
		i++
		n := int(code) - 1
		if i+n > len(src) {
			return nil, fmt.Errorf("pliot: truncated group at %d", i)
		}
		for j := 0; j < n; j++ {
			if src[i+j] == 0 {
				return nil, fmt.Errorf("pliot: embedded zero at %d", i+j)
			}
		}
		out = append(out, src[i:i+n]...)
		i += n
		if code != 0xFF && i < len(src) {
			out = append(out, 0)
		}
	}
	return out, nil
}

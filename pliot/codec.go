package pliot

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode encodes canonically so identical messages produce identical
// bytes on every endpoint.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborEncMode = em
}

// EncodeFrame serializes a message and stuffs it into one zero-delimited
// frame, trailing delimiter included.
func EncodeFrame(m *Message) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	payload, err := cborEncMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("pliot: encode %s: %w", m.Kind, err)
	}
	frame := append(cobsEncode(payload), 0)
	if len(frame) > MaxFrameBytes {
		return nil, fmt.Errorf("pliot: frame of %d bytes, limit %d", len(frame), MaxFrameBytes)
	}
	return frame, nil
}

// DecodeFrame parses one frame, with or without its trailing delimiter,
// and enforces the shared size ceilings.
func DecodeFrame(frame []byte) (*Message, error) {
	if n := len(frame); n > 0 && frame[n-1] == 0 {
		frame = frame[:n-1]
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("pliot: empty frame")
	}
	payload, err := cobsDecode(frame)
	if err != nil {
		return nil, err
	}
	var m Message
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("pliot: decode frame: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

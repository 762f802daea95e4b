// Package pliot is the wire protocol between the firmware core and its
// clients: COBS-delimited frames carrying canonically-encoded CBOR
// messages, plus the dispatcher that drives the VM and storage from
// decoded messages and produces exactly the replies each kind requires.
package pliot

import "fmt"

// Size ceilings shared by both endpoints. They are part of the wire
// contract for a given firmware build and must match on the peer.
const (
	// MaxArgs caps the argument vector of Call and CallStaticFunction.
	MaxArgs = 8
	// MaxResults caps the result vector of Return and StaticFunctionResult.
	MaxResults = 8
	// ProgramBlockWords caps one ProgramBlock payload.
	ProgramBlockWords = 64
	// UiStateBlockBytes caps one UiStateBlock payload.
	UiStateBlockBytes = 64
	// I2cDevicesPerPage caps one I2cDevices reply page.
	I2cDevicesPerPage = 8
	// MaxFrameBytes caps a whole encoded frame, delimiter included.
	MaxFrameBytes = 1024
)

// Kind tags a protocol message variant.
type Kind uint8

const (
	KindCall Kind = iota
	KindReturn
	KindNotification
	KindError
	KindLoadProgram
	KindProgramBlock
	KindUiStateBlock
	KindReadUiState
	KindFinishProgram
	KindGetI2cDevices
	KindI2cDevices
	KindCallStaticFunction
	KindStaticFunctionResult
)

var kindNames = map[Kind]string{
	KindCall:                 "Call",
	KindReturn:               "Return",
	KindNotification:         "Notification",
	KindError:                "Error",
	KindLoadProgram:          "LoadProgram",
	KindProgramBlock:         "ProgramBlock",
	KindUiStateBlock:         "UiStateBlock",
	KindReadUiState:          "ReadUiState",
	KindFinishProgram:        "FinishProgram",
	KindGetI2cDevices:        "GetI2cDevices",
	KindI2cDevices:           "I2cDevices",
	KindCallStaticFunction:   "CallStaticFunction",
	KindStaticFunctionResult: "StaticFunctionResult",
}

// String implements the Stringer interface.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ErrorType classifies a protocol-level Error reply.
type ErrorType uint8

const (
	ErrTypeInvalidMessage ErrorType = iota
	ErrTypeUnexpectedMessageType
	ErrTypeUnknownMachine
	ErrTypeUnknownFunction
	ErrTypeInvalidProgram
	ErrTypeResultTooLarge
	ErrTypeStorage
)

var errorTypeNames = map[ErrorType]string{
	ErrTypeInvalidMessage:        "InvalidMessage",
	ErrTypeUnexpectedMessageType: "UnexpectedMessageType",
	ErrTypeUnknownMachine:        "UnknownMachine",
	ErrTypeUnknownFunction:       "UnknownFunction",
	ErrTypeInvalidProgram:        "InvalidProgram",
	ErrTypeResultTooLarge:        "ResultTooLarge",
	ErrTypeStorage:               "Storage",
}

// String implements the Stringer interface.
func (t ErrorType) String() string {
	if name, ok := errorTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ErrorType(%d)", int(t))
}

// ErrorInfo is the structured payload of an Error reply. Detail is a
// diagnostic aid, never control flow.
type ErrorInfo struct {
	Type   ErrorType `cbor:"1,keyasint"`
	Detail string    `cbor:"2,keyasint,omitempty"`
}

// Message is one protocol frame. Kind selects which fields are meaningful;
// the rest encode away via omitempty. Id carries the request id on
// request/response pairs and is absent (zero) on notifications.
type Message struct {
	Kind Kind   `cbor:"1,keyasint"`
	Id   uint32 `cbor:"2,keyasint,omitempty"`

	Machine  uint16  `cbor:"3,keyasint,omitempty"`
	Function uint16  `cbor:"4,keyasint,omitempty"`
	Args     []int32 `cbor:"5,keyasint,omitempty"`
	Results  []int32 `cbor:"6,keyasint,omitempty"`

	Error *ErrorInfo `cbor:"7,keyasint,omitempty"`

	// Program/UI-state load stream.
	ProgramWords uint32   `cbor:"8,keyasint,omitempty"`
	UiStateBytes uint32   `cbor:"9,keyasint,omitempty"`
	Block        uint32   `cbor:"10,keyasint,omitempty"`
	Words        []uint16 `cbor:"11,keyasint,omitempty"`
	Data         []byte   `cbor:"12,keyasint,omitempty"`
	Offset       uint32   `cbor:"13,keyasint,omitempty"`

	// I2C scan pagination.
	Page    uint32 `cbor:"14,keyasint,omitempty"`
	Devices []byte `cbor:"15,keyasint,omitempty"`
	More    bool   `cbor:"16,keyasint,omitempty"`
}

// validate enforces the shared size ceilings on a decoded message.
func (m *Message) validate() error {
	switch {
	case len(m.Args) > MaxArgs:
		return fmt.Errorf("pliot: %d args, limit %d", len(m.Args), MaxArgs)
	case len(m.Results) > MaxResults:
		return fmt.Errorf("pliot: %d results, limit %d", len(m.Results), MaxResults)
	case len(m.Words) > ProgramBlockWords:
		return fmt.Errorf("pliot: %d block words, limit %d", len(m.Words), ProgramBlockWords)
	case len(m.Data) > UiStateBlockBytes:
		return fmt.Errorf("pliot: %d data bytes, limit %d", len(m.Data), UiStateBlockBytes)
	}
	return nil
}

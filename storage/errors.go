package storage

import "fmt"

// ErrorKind classifies storage failures.
type ErrorKind int

const (
	// ErrProgramTooLarge marks a program that cannot fit a slot.
	ErrProgramTooLarge ErrorKind = iota
	// ErrProgramIncomplete marks a commit before all program blocks arrived.
	ErrProgramIncomplete
	// ErrUnalignedWrite marks a write violating the device's alignment.
	ErrUnalignedWrite
	// ErrWriteFailed wraps a device-level read, erase or program failure.
	ErrWriteFailed
	// ErrInvalidHeader marks a slot header failing validation.
	ErrInvalidHeader
	// ErrUnknownProgram marks a read from an empty store.
	ErrUnknownProgram
	// ErrInvalidProgram wraps a VM load failure for a stored image.
	ErrInvalidProgram
	// ErrUnexpectedBlock marks an out-of-order block number.
	ErrUnexpectedBlock
	// ErrUiStateTooLarge marks a UI-state blob that cannot fit its region.
	ErrUiStateTooLarge
	// ErrUiStateIncomplete marks a commit before all UI-state blocks arrived.
	ErrUiStateIncomplete
	// ErrUiStateReadOutOfBounds marks a UI-state read past the stored length.
	ErrUiStateReadOutOfBounds
)

var errorKindNames = map[ErrorKind]string{
	ErrProgramTooLarge:        "ProgramTooLarge",
	ErrProgramIncomplete:      "ProgramIncomplete",
	ErrUnalignedWrite:         "UnalignedWrite",
	ErrWriteFailed:            "WriteFailed",
	ErrInvalidHeader:          "InvalidHeader",
	ErrUnknownProgram:         "UnknownProgram",
	ErrInvalidProgram:         "InvalidProgram",
	ErrUnexpectedBlock:        "UnexpectedBlock",
	ErrUiStateTooLarge:        "UiStateTooLarge",
	ErrUiStateIncomplete:      "UiStateIncomplete",
	ErrUiStateReadOutOfBounds: "UiStateReadOutOfBounds",
}

// String implements the Stringer interface.
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a typed storage failure.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Detail
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	return fmt.Sprintf("storage: %s: %s", e.Kind, msg)
}

// Unwrap exposes a wrapped device or VM error.
func (e *Error) Unwrap() error { return e.Err }

func errKind(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func wrapDevice(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrWriteFailed, Err: err}
}

// KindOf extracts the storage error kind, when err is one.
func KindOf(err error) (ErrorKind, bool) {
	if e, ok := err.(*Error); ok {
		return e.Kind, true
	}
	return 0, false
}

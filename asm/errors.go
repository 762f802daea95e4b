package asm

import "fmt"

// ErrorKind classifies assembly failures.
type ErrorKind int

const (
	// ErrTooManyTokens marks a line with more tokens than any statement takes.
	ErrTooManyTokens ErrorKind = iota
	// ErrInvalidDirective marks an unknown or malformed dot-directive.
	ErrInvalidDirective
	// ErrInvalidInstruction marks an unknown mnemonic or a wrong operand shape.
	ErrInvalidInstruction
	// ErrInvalidNumber marks a literal that is not decimal or 0x hex, or does
	// not fit in a program word.
	ErrInvalidNumber
	// ErrNameTooLong marks an identifier over the name-length cap.
	ErrNameTooLong
	// ErrDuplicateLabel marks a label bound twice in one scope.
	ErrDuplicateLabel
	// ErrDuplicateGlobal marks a global name bound twice in one scope.
	ErrDuplicateGlobal
	// ErrDuplicateStackSlot marks a frame-slot name bound twice in one scope.
	ErrDuplicateStackSlot
	// ErrGlobalOutOfRange marks a global offset past the declared region size.
	ErrGlobalOutOfRange
	// ErrUnknownLabel marks a name still unresolved when its function ends.
	ErrUnknownLabel
	// ErrFunctionDefined marks a second body for an already-defined function.
	ErrFunctionDefined
	// ErrFunctionUndefined marks a declared function with no body at machine end.
	ErrFunctionUndefined
	// ErrFunctionIndex marks a function index out of range or conflicting
	// with the name's earlier declaration.
	ErrFunctionIndex
	// ErrFunctionIndexDuplicate marks two names claiming one function slot.
	ErrFunctionIndexDuplicate
	// ErrBlockOrder marks a statement outside the block kind it needs, or an
	// unmatched .end.
	ErrBlockOrder
	// ErrBuild marks a failure reported by the backend, or a declaration
	// arriving after building locked it out.
	ErrBuild
)

var errorKindNames = map[ErrorKind]string{
	ErrTooManyTokens:          "TooManyTokens",
	ErrInvalidDirective:       "InvalidDirective",
	ErrInvalidInstruction:     "InvalidInstruction",
	ErrInvalidNumber:          "InvalidNumber",
	ErrNameTooLong:            "NameTooLong",
	ErrDuplicateLabel:         "DuplicateLabel",
	ErrDuplicateGlobal:        "DuplicateGlobal",
	ErrDuplicateStackSlot:     "DuplicateStackSlot",
	ErrGlobalOutOfRange:       "GlobalOutOfRange",
	ErrUnknownLabel:           "UnknownLabel",
	ErrFunctionDefined:        "FunctionDefined",
	ErrFunctionUndefined:      "FunctionUndefined",
	ErrFunctionIndex:          "FunctionIndex",
	ErrFunctionIndexDuplicate: "FunctionIndexDuplicate",
	ErrBlockOrder:             "BlockOrder",
	ErrBuild:                  "Build",
}

// String implements the Stringer interface.
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is an assembly failure tagged with the 1-based source line it
// occurred on. Line 0 means the failure preceded any line.
type Error struct {
	Kind   ErrorKind
	Line   int
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
	if e.Line > 0 {
		return fmt.Sprintf("asm: line %d: %s: %s", e.Line, e.Kind, msg)
	}
	return fmt.Sprintf("asm: %s: %s", e.Kind, msg)
}

// Unwrap exposes a wrapped backend error.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the assembly error kind, when err is one.
func KindOf(err error) (ErrorKind, bool) {
	if e, ok := err.(*Error); ok {
		return e.Kind, true
	}
	return 0, false
}

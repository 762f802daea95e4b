package vm

import "fmt"

// ---------------------------------------------------------------------------
// Runtime error taxonomy
// ---------------------------------------------------------------------------

// ErrorKind classifies a light machine runtime failure. Every kind indicates
// a corrupt or invalid program; the interpreter fails fast and performs no
// recovery of its own.
type ErrorKind int

const (
	// ErrInvalidProgram indicates a structurally malformed program image
	// (bad header, table offsets out of range, truncated tables).
	ErrInvalidProgram ErrorKind = iota

	// ErrInvalidVersion indicates the image's format version word does not
	// match ProgramVersion.
	ErrInvalidVersion

	// ErrInvalidOpcode indicates an instruction word outside the opcode range.
	ErrInvalidOpcode

	// ErrProgramOutOfBounds indicates a program-counter or operand fetch past
	// the end of the image.
	ErrProgramOutOfBounds

	// ErrStaticOutOfBounds indicates a static-data load whose address falls
	// outside the image.
	ErrStaticOutOfBounds

	// ErrGlobalOutOfRange indicates a local or shared global access outside
	// the region sized for the running machine.
	ErrGlobalOutOfRange

	// ErrStackOverflow indicates a push past the fixed stack capacity.
	ErrStackOverflow

	// ErrStackUnderflow indicates a pop or frame-relative access below the
	// bottom of the active frame.
	ErrStackUnderflow

	// ErrDivideByZero indicates an integer division or modulo with a zero
	// divisor.
	ErrDivideByZero

	// ErrColorOutOfRange indicates a get-color result word that does not fit
	// in an 8-bit color channel.
	ErrColorOutOfRange

	// ErrValueOutOfRange indicates a computed offset or count that does not
	// fit in its target integer type.
	ErrValueOutOfRange

	// ErrUnknownMachine indicates a machine index past the instance count.
	ErrUnknownMachine

	// ErrUnknownFunction indicates a function index past the machine's (or
	// the shared table's) function count.
	ErrUnknownFunction
)

var errorKindNames = map[ErrorKind]string{
	ErrInvalidProgram:    "invalid program",
	ErrInvalidVersion:    "invalid program version",
	ErrInvalidOpcode:     "invalid opcode",
	ErrProgramOutOfBounds: "program read out of bounds",
	ErrStaticOutOfBounds: "static read out of bounds",
	ErrGlobalOutOfRange:  "global out of range",
	ErrStackOverflow:     "stack overflow",
	ErrStackUnderflow:    "stack underflow",
	ErrDivideByZero:      "divide by zero",
	ErrColorOutOfRange:   "color out of range",
	ErrValueOutOfRange:   "value out of range",
	ErrUnknownMachine:    "unknown machine",
	ErrUnknownFunction:   "unknown function",
}

// String returns the human-readable name for an error kind.
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// Error is a light machine runtime error. PC is the word offset of the
// faulting instruction, or -1 when the failure happened outside the dispatch
// loop (for example while validating a header).
type Error struct {
	Kind   ErrorKind
	PC     int
	Detail string
}

func (e *Error) Error() string {
	if e.PC >= 0 && e.Detail != "" {
		return fmt.Sprintf("vm: %s at pc=%d: %s", e.Kind, e.PC, e.Detail)
	}
	if e.PC >= 0 {
		return fmt.Sprintf("vm: %s at pc=%d", e.Kind, e.PC)
	}
	if e.Detail != "" {
		return fmt.Sprintf("vm: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("vm: %s", e.Kind)
}

func errKind(kind ErrorKind, pc int, format string, args ...interface{}) *Error {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, PC: pc, Detail: detail}
}

// KindOf returns the ErrorKind of err when err is a *Error, and false
// otherwise. Callers at the protocol boundary use this to classify machine
// failures into wire error types.
func KindOf(err error) (ErrorKind, bool) {
	if e, ok := err.(*Error); ok {
		return e.Kind, true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Builder error taxonomy
// ---------------------------------------------------------------------------

// BuildErrorKind classifies a program builder failure. These are build-time
// concerns only and never reach the runtime protocol.
type BuildErrorKind int

const (
	// BuildBufferTooSmall indicates the supplied backing buffer cannot hold
	// the requested header and tables, or an emit ran past its end.
	BuildBufferTooSmall BuildErrorKind = iota

	// BuildTooLarge indicates word-width arithmetic overflow: a count,
	// offset or globals total too large for a 16-bit program word.
	BuildTooLarge

	// BuildMachineCountExceeded indicates more machines or instances than
	// the builder was created with capacity for.
	BuildMachineCountExceeded

	// BuildFunctionCountExceeded indicates more functions than a machine
	// declared, or a function index outside the declared range.
	BuildFunctionCountExceeded

	// BuildFunctionDefined indicates a function-table slot bound twice.
	BuildFunctionDefined

	// BuildGlobalOutOfRange indicates a shared-globals size that no longer
	// can be changed, or a globals offset outside the declared size.
	BuildGlobalOutOfRange

	// BuildOrder indicates an operation invoked after building locked it
	// out, such as setting the shared-globals size once a machine exists.
	BuildOrder

	// BuildPatchOutOfRange indicates a patch offset outside the span the
	// patching builder owns.
	BuildPatchOutOfRange
)

var buildErrorKindNames = map[BuildErrorKind]string{
	BuildBufferTooSmall:        "buffer too small",
	BuildTooLarge:              "value overflows program word",
	BuildMachineCountExceeded:  "machine count exceeded",
	BuildFunctionCountExceeded: "function count exceeded",
	BuildFunctionDefined:       "function already defined",
	BuildGlobalOutOfRange:      "global out of range",
	BuildOrder:                 "operation out of order",
	BuildPatchOutOfRange:       "patch out of range",
}

// String returns the human-readable name for a builder error kind.
func (k BuildErrorKind) String() string {
	if name, ok := buildErrorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("build error kind %d", int(k))
}

// BuildError is a program builder error.
type BuildError struct {
	Kind   BuildErrorKind
	Detail string
}

func (e *BuildError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("builder: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("builder: %s", e.Kind)
}

// BuildKindOf returns the BuildErrorKind of err when err is a *BuildError.
func BuildKindOf(err error) (BuildErrorKind, bool) {
	if e, ok := err.(*BuildError); ok {
		return e.Kind, true
	}
	return 0, false
}

func buildErr(kind BuildErrorKind, format string, args ...interface{}) *BuildError {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &BuildError{Kind: kind, Detail: detail}
}

// Package asm is the line-oriented assembler for light machine programs.
//
// Source is processed one line at a time: a line is blank, a comment
// (starting with ';'), a label ("name:"), a dot-directive, or an
// instruction mnemonic with at most one operand. The assembler never
// buffers the whole source; its only second pass is per-function label
// fixup, resolved when the function's .end is reached.
//
// Output goes to a Backend. Assembling into a graph.Program gets machine
// type, function and static deduplication; assembling into a
// BuilderBackend emits an image directly with no interning.
package asm

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/chazu/lumen/graph"
	"github.com/chazu/lumen/vm"
)

const (
	// MaxTokens caps tokens per line; the longest statement form is
	// ".machine name globals N functions N".
	MaxTokens = 6
	// MaxNameLen caps identifier length.
	MaxNameLen = 32
)

// staticLabel resolves a data-block label to its interned block and offset.
type staticLabel struct {
	id     graph.StaticID
	offset vm.ProgramWord
}

// fixup is a forward label reference awaiting resolution at function end.
type fixup struct {
	name string
	pos  int // index into the function body to rewrite
	line int
}

type funcState struct {
	name   string
	index  int
	shared bool
	body   []graph.WordRef
	labels map[string]int
	fixups []fixup
}

type machineState struct {
	name      string
	globals   int
	funcCount int

	locals  map[string]int
	frames  map[string]int
	statics map[string]staticLabel

	funcNames map[string]int
	slotNames map[int]string
	defined   map[int]bool
	nextSlot  int
}

type dataState struct {
	shared bool
	words  []vm.ProgramWord
	labels map[string]int
}

// Assembler holds the parse state across lines.
type Assembler struct {
	backend Backend
	line    int

	// begun is set when the first machine or shared function body starts;
	// shared-global declarations lock at that point.
	begun bool

	sharedSize  int
	sharedNames map[string]int

	sharedFuncNames map[string]int
	sharedSlotNames map[int]string
	sharedDefined   map[int]bool
	sharedNextSlot  int

	statics map[string]staticLabel
	frames  map[string]int

	mach *machineState
	fn   *funcState
	data *dataState
}

// New returns an assembler feeding the given backend.
func New(backend Backend) *Assembler {
	return &Assembler{
		backend:         backend,
		sharedNames:     make(map[string]int),
		sharedFuncNames: make(map[string]int),
		sharedSlotNames: make(map[int]string),
		sharedDefined:   make(map[int]bool),
		statics:         make(map[string]staticLabel),
		frames:          make(map[string]int),
	}
}

// Assemble runs complete source through a fresh assembler.
func Assemble(src string, backend Backend) error {
	a := New(backend)
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		if err := a.Line(sc.Text()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return &Error{Kind: ErrBuild, Detail: "read source", Err: err}
	}
	return a.Finish()
}

// AssembleProgram assembles source into a fresh program graph.
func AssembleProgram(src string) (*graph.Program, error) {
	g := graph.New()
	if err := Assemble(src, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (a *Assembler) errf(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Line: a.line, Detail: fmt.Sprintf(format, args...)}
}

func (a *Assembler) wrap(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrBuild, Line: a.line, Err: err}
}

// Line processes one source line.
func (a *Assembler) Line(text string) error {
	a.line++
	if i := strings.IndexByte(text, ';'); i >= 0 {
		text = text[:i]
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) > MaxTokens {
		return a.errf(ErrTooManyTokens, "%d tokens", len(tokens))
	}

	first := tokens[0]
	switch {
	case strings.HasSuffix(first, ":"):
		if len(tokens) != 1 {
			return a.errf(ErrInvalidInstruction, "label %q must be alone on its line", first)
		}
		return a.label(first[:len(first)-1])
	case strings.HasPrefix(first, "."):
		return a.directive(tokens)
	default:
		return a.instruction(tokens)
	}
}

// Finish validates that no block is left open.
func (a *Assembler) Finish() error {
	switch {
	case a.data != nil:
		return a.errf(ErrBlockOrder, "unterminated data block")
	case a.fn != nil:
		return a.errf(ErrBlockOrder, "unterminated function %q", a.fn.name)
	case a.mach != nil:
		return a.errf(ErrBlockOrder, "unterminated machine %q", a.mach.name)
	}
	return nil
}

func (a *Assembler) label(name string) error {
	if err := a.checkName(name, ErrInvalidInstruction); err != nil {
		return err
	}
	switch {
	case a.data != nil:
		if _, ok := a.data.labels[name]; ok {
			return a.errf(ErrDuplicateLabel, "data label %q", name)
		}
		a.data.labels[name] = len(a.data.words)
	case a.fn != nil:
		if _, ok := a.fn.labels[name]; ok {
			return a.errf(ErrDuplicateLabel, "label %q", name)
		}
		a.fn.labels[name] = len(a.fn.body)
	default:
		return a.errf(ErrBlockOrder, "label %q outside function or data block", name)
	}
	return nil
}

func (a *Assembler) checkName(name string, kind ErrorKind) error {
	if len(name) == 0 {
		return a.errf(kind, "empty name")
	}
	if len(name) > MaxNameLen {
		return a.errf(ErrNameTooLong, "%q (%d chars)", name, len(name))
	}
	for i, c := range name {
		ok := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9')
		if !ok {
			return a.errf(kind, "bad identifier %q", name)
		}
	}
	return nil
}

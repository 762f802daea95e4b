package asm

import (
	"fmt"

	"github.com/chazu/lumen/graph"
	"github.com/chazu/lumen/vm"
)

// Backend receives the assembler's output: machine and shared-function
// definitions as abstract word sequences plus interned static blocks.
// graph.Program implements Backend and adds deduplication; BuilderBackend
// emits straight into a vm.Builder with no interning.
type Backend interface {
	SetSharedGlobalsSize(size int) error
	BeginMachine(name string, globals, functions int) error
	DefineFunction(index int, body []graph.WordRef) error
	DefineSharedFunction(index int, body []graph.WordRef) error
	EndMachine() error
	AddStatic(words []vm.ProgramWord) (graph.StaticID, error)
	AddSharedStatic(words []vm.ProgramWord) (graph.StaticID, error)
}

// BuilderBackend lowers assembler output directly into a vm.Builder,
// placing every static and function at its point of definition. Unlike the
// graph it performs no deduplication: one type and one instance per
// .machine block.
type BuilderBackend struct {
	b          *vm.Builder
	mb         *vm.MachineBuilder
	staticAddr []vm.ProgramWord
}

// NewBuilderBackend wraps a builder already sized for the source's machine,
// instance and shared-function counts.
func NewBuilderBackend(b *vm.Builder) *BuilderBackend {
	return &BuilderBackend{b: b}
}

// SetSharedGlobalsSize forwards to the builder.
func (bb *BuilderBackend) SetSharedGlobalsSize(size int) error {
	return bb.b.SetSharedGlobalsSize(size)
}

// BeginMachine reserves a new type and instance. The source name is not
// represented in the image.
func (bb *BuilderBackend) BeginMachine(name string, globals, functions int) error {
	if bb.mb != nil {
		return fmt.Errorf("asm: machine still open")
	}
	mb, err := bb.b.NewMachine(globals, functions)
	if err != nil {
		return err
	}
	bb.mb = mb
	return nil
}

// DefineFunction places a function body and binds it into the open
// machine's function table.
func (bb *BuilderBackend) DefineFunction(index int, body []graph.WordRef) error {
	if bb.mb == nil {
		return fmt.Errorf("asm: function outside machine")
	}
	fb, err := bb.mb.NewFunctionAtIndex(index)
	if err != nil {
		return err
	}
	if err := bb.emitBody(fb, body); err != nil {
		return err
	}
	return fb.Finish()
}

// DefineSharedFunction places a shared function body and binds its
// shared-table slot.
func (bb *BuilderBackend) DefineSharedFunction(index int, body []graph.WordRef) error {
	sb, err := bb.b.NewSharedFunctionAtIndex(index)
	if err != nil {
		return err
	}
	if err := bb.emitBody(sb, body); err != nil {
		return err
	}
	return sb.Finish()
}

// EndMachine closes the open machine.
func (bb *BuilderBackend) EndMachine() error {
	if bb.mb == nil {
		return fmt.Errorf("asm: no machine open")
	}
	bb.mb = nil
	return nil
}

// AddStatic places a static block immediately and returns its id.
func (bb *BuilderBackend) AddStatic(words []vm.ProgramWord) (graph.StaticID, error) {
	addr, err := bb.b.AddStatic(words)
	if err != nil {
		return 0, err
	}
	id := graph.StaticID(len(bb.staticAddr))
	bb.staticAddr = append(bb.staticAddr, addr)
	return id, nil
}

// AddSharedStatic places a shared static block. Placement is identical to
// AddStatic; the distinction only matters to deduplicating backends.
func (bb *BuilderBackend) AddSharedStatic(words []vm.ProgramWord) (graph.StaticID, error) {
	return bb.AddStatic(words)
}

type builderEmitter interface {
	Start() int
	EmitWord(vm.ProgramWord) error
}

const maxWordAddr = 0xFFFF

func (bb *BuilderBackend) emitBody(fn builderEmitter, body []graph.WordRef) error {
	for _, ref := range body {
		switch ref.Kind {
		case graph.WordLiteral:
			if err := fn.EmitWord(ref.Value); err != nil {
				return err
			}
		case graph.WordLabel:
			abs := fn.Start() + int(ref.Value)
			if abs > maxWordAddr {
				return fmt.Errorf("asm: label target %d overflows word addressing", abs)
			}
			if err := fn.EmitWord(vm.ProgramWord(abs)); err != nil {
				return err
			}
		case graph.WordStatic:
			if int(ref.Static) >= len(bb.staticAddr) {
				return fmt.Errorf("asm: unknown static block %d", ref.Static)
			}
			addr := int(bb.staticAddr[ref.Static]) + int(ref.Offset)
			if addr > maxWordAddr {
				return fmt.Errorf("asm: static target %d overflows word addressing", addr)
			}
			if err := fn.EmitWord(vm.ProgramWord(addr)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("asm: unknown word kind %d", ref.Kind)
		}
	}
	return nil
}

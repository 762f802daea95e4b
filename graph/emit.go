package graph

import (
	"fmt"

	"github.com/chazu/lumen/vm"
)

// ---------------------------------------------------------------------------
// Linking pass
// ---------------------------------------------------------------------------

const maxWordAddr = 0xFFFF

// bodyEmitter is the slice of the builder function API the linker needs.
type bodyEmitter interface {
	Start() int
	EmitWord(vm.ProgramWord) error
}

// MaxWords returns an upper bound on the emitted image size in words,
// computed as if nothing deduplicated. A buffer this large always suffices
// for EmitInto.
func (p *Program) MaxWords() int {
	n := vm.HeaderWords + p.sharedFuncCount
	n += len(p.instances) * 2 // instance table entries
	n += len(p.types) * 2     // type table entries
	for _, s := range p.statics {
		n += len(s.words)
	}
	for _, t := range p.types {
		n += t.funcCount // function offset table
		for _, body := range t.funcs {
			n += len(body)
		}
	}
	for _, body := range p.sharedFuncs {
		n += len(body)
	}
	return n
}

// FlatMaxWords bounds the image size of a no-deduplication emission, where
// every instance carries its own type entry, function table and bodies.
func (p *Program) FlatMaxWords() int {
	n := vm.HeaderWords + p.sharedFuncCount
	n += len(p.instances) * 2
	for _, s := range p.statics {
		n += len(s.words)
	}
	for _, typeIdx := range p.instances {
		t := p.types[typeIdx]
		n += 2 + t.funcCount
		for _, body := range t.funcs {
			n += len(body)
		}
	}
	for _, body := range p.sharedFuncs {
		n += len(body)
	}
	return n
}

// Emit links the graph into a freshly allocated image.
func (p *Program) Emit() ([]vm.ProgramWord, error) {
	buf := make([]vm.ProgramWord, p.MaxWords())
	n, err := p.EmitInto(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// EmitInto links the graph into buf and returns the image length in words.
// Statics are placed first, then machine types in first-appearance order
// with duplicate function bodies bound to their first placement, then
// shared functions. Instance order matches declaration order exactly.
func (p *Program) EmitInto(buf []vm.ProgramWord) (int, error) {
	if p.cur != nil {
		return 0, fmt.Errorf("graph: machine %q still open", p.cur.name)
	}

	b, err := vm.NewBuilder(buf, len(p.instances), len(p.types), p.sharedFuncCount)
	if err != nil {
		return 0, err
	}
	if err := b.SetSharedGlobalsSize(p.sharedGlobals); err != nil {
		return 0, err
	}

	staticAddr := make([]vm.ProgramWord, len(p.statics))
	for id, s := range p.statics {
		addr, err := b.AddStatic(s.words)
		if err != nil {
			return 0, err
		}
		staticAddr[id] = addr
	}

	// One emitted copy per distinct body, keyed by content hash. Shared
	// between all types, so interned sibling types reuse placements too.
	bodyStarts := make(map[[32]byte]int)
	builtType := make(map[int]int, len(p.types))

	for _, typeIdx := range p.instances {
		if typeID, ok := builtType[typeIdx]; ok {
			if err := b.AddInstance(typeID); err != nil {
				return 0, err
			}
			continue
		}
		t := p.types[typeIdx]
		mb, err := b.NewMachine(t.globals, t.funcCount)
		if err != nil {
			return 0, err
		}
		builtType[typeIdx] = mb.TypeID()
		for i := 0; i < t.funcCount; i++ {
			body := t.funcs[i]
			h := hashBody(body)
			if start, ok := bodyStarts[h]; ok {
				if err := mb.BindFunction(i, start); err != nil {
					return 0, err
				}
				continue
			}
			fb, err := mb.NewFunctionAtIndex(i)
			if err != nil {
				return 0, err
			}
			if err := p.emitBody(fb, body, staticAddr); err != nil {
				return 0, fmt.Errorf("graph: machine %q function %d: %w", t.name, i, err)
			}
			if err := fb.Finish(); err != nil {
				return 0, err
			}
			bodyStarts[h] = fb.Start()
		}
	}

	for i := 0; i < p.sharedFuncCount; i++ {
		body, ok := p.sharedFuncs[i]
		if !ok {
			continue // undefined slot stays zero in the table
		}
		sb, err := b.NewSharedFunctionAtIndex(i)
		if err != nil {
			return 0, err
		}
		if err := p.emitBody(sb, body, staticAddr); err != nil {
			return 0, fmt.Errorf("graph: shared function %d: %w", i, err)
		}
		if err := sb.Finish(); err != nil {
			return 0, err
		}
	}

	return b.Len(), nil
}

func (p *Program) emitBody(fn bodyEmitter, body []WordRef, staticAddr []vm.ProgramWord) error {
	for _, ref := range body {
		switch ref.Kind {
		case WordLiteral:
			if err := fn.EmitWord(ref.Value); err != nil {
				return err
			}
		case WordLabel:
			abs := fn.Start() + int(ref.Value)
			if abs > maxWordAddr {
				return fmt.Errorf("label target %d overflows word addressing", abs)
			}
			if err := fn.EmitWord(vm.ProgramWord(abs)); err != nil {
				return err
			}
		case WordStatic:
			if int(ref.Static) < 0 || int(ref.Static) >= len(staticAddr) {
				return fmt.Errorf("unknown static block %d", ref.Static)
			}
			addr := int(staticAddr[ref.Static]) + int(ref.Offset)
			if addr > maxWordAddr {
				return fmt.Errorf("static target %d overflows word addressing", addr)
			}
			if err := fn.EmitWord(vm.ProgramWord(addr)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown word kind %d", ref.Kind)
		}
	}
	return nil
}

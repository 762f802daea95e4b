// Package graph is the program graph: an intermediate representation of a
// multi-machine light program that deduplicates structurally identical
// functions, static-data blocks and machine types before emission.
//
// Installations commonly instantiate the same machine type many times (four
// identical crawler animations over different strips, say). The graph
// interns every function body, static block and machine type by content
// hash, so the emitted binary stores one copy of each distinct definition
// no matter how many instances reference it. Instance order is always
// preserved, even when their types collapse into one.
//
// Function bodies are stored as abstract word sequences (WordRef) rather
// than concrete words: static-data addresses are not known until the
// linking pass places each interned block, so they resolve once, in
// EmitInto, after all deduplication decisions are final. Label references
// are function-relative before interning, which keeps byte-identical
// functions identical regardless of where they are finally placed.
package graph

import (
	"fmt"

	"github.com/chazu/lumen/vm"
)

// WordKind discriminates the abstract word forms a function body may hold.
type WordKind int

const (
	// WordLiteral is a concrete program word.
	WordLiteral WordKind = iota
	// WordLabel is a function-relative code offset, resolved against the
	// function's final placement.
	WordLabel
	// WordStatic is a static-block reference resolved to the block's final
	// address plus a field offset.
	WordStatic
)

// StaticID names an interned static-data block.
type StaticID int

// WordRef is one abstract word of a function body.
type WordRef struct {
	Kind   WordKind
	Value  vm.ProgramWord // literal value, or label's function-relative offset
	Static StaticID       // target block for WordStatic
	Offset vm.ProgramWord // field offset within the block for WordStatic
}

// Literal returns a concrete-word reference.
func Literal(w vm.ProgramWord) WordRef { return WordRef{Kind: WordLiteral, Value: w} }

// LabelRef returns a function-relative code reference.
func LabelRef(offset vm.ProgramWord) WordRef { return WordRef{Kind: WordLabel, Value: offset} }

// StaticRef returns a static-block field reference.
func StaticRef(id StaticID, offset vm.ProgramWord) WordRef {
	return WordRef{Kind: WordStatic, Static: id, Offset: offset}
}

// machineType is one open or interned machine definition.
type machineType struct {
	name      string
	globals   int
	funcCount int
	funcs     map[int][]WordRef
}

type staticBlock struct {
	words []vm.ProgramWord
}

// Program is the graph under construction. It implements the assembler's
// Backend interface, so source can be assembled straight into it, and its
// methods can equally be driven programmatically.
type Program struct {
	sharedGlobals int
	locked        bool

	types     []*machineType
	typeIndex map[[32]byte]int
	instances []int // type index per instance, in declaration order

	statics     []*staticBlock
	staticIndex map[[32]byte]StaticID

	sharedFuncs     map[int][]WordRef
	sharedFuncCount int

	cur *machineType
}

// New returns an empty program graph.
func New() *Program {
	return &Program{
		typeIndex:   make(map[[32]byte]int),
		staticIndex: make(map[[32]byte]StaticID),
		sharedFuncs: make(map[int][]WordRef),
	}
}

// InstanceCount returns the number of machine instances, deduplicated
// types included once per instance.
func (p *Program) InstanceCount() int { return len(p.instances) }

// TypeCount returns the number of distinct machine types after interning.
func (p *Program) TypeCount() int { return len(p.types) }

// SharedFunctionCount returns one past the highest defined shared slot.
func (p *Program) SharedFunctionCount() int { return p.sharedFuncCount }

// SetSharedGlobalsSize declares the shared-globals region size; locked once
// the first machine or shared function begins.
func (p *Program) SetSharedGlobalsSize(size int) error {
	if p.locked {
		return fmt.Errorf("graph: shared globals size locked once building begins")
	}
	if size < 0 {
		return fmt.Errorf("graph: negative shared globals size %d", size)
	}
	p.sharedGlobals = size
	return nil
}

// BeginMachine opens a machine definition.
func (p *Program) BeginMachine(name string, globals, functions int) error {
	if p.cur != nil {
		return fmt.Errorf("graph: machine %q still open", p.cur.name)
	}
	p.locked = true
	p.cur = &machineType{
		name:      name,
		globals:   globals,
		funcCount: functions,
		funcs:     make(map[int][]WordRef, functions),
	}
	return nil
}

// DefineFunction binds a function body to an index in the open machine.
func (p *Program) DefineFunction(index int, body []WordRef) error {
	if p.cur == nil {
		return fmt.Errorf("graph: function outside machine")
	}
	if index < 0 || index >= p.cur.funcCount {
		return fmt.Errorf("graph: function index %d of %d", index, p.cur.funcCount)
	}
	if _, ok := p.cur.funcs[index]; ok {
		return fmt.Errorf("graph: function %d already defined", index)
	}
	p.cur.funcs[index] = append([]WordRef(nil), body...)
	return nil
}

// DefineSharedFunction binds a shared function body to a shared-table slot.
func (p *Program) DefineSharedFunction(index int, body []WordRef) error {
	if index < 0 {
		return fmt.Errorf("graph: shared function index %d", index)
	}
	if _, ok := p.sharedFuncs[index]; ok {
		return fmt.Errorf("graph: shared function %d already defined", index)
	}
	p.locked = true
	p.sharedFuncs[index] = append([]WordRef(nil), body...)
	if index >= p.sharedFuncCount {
		p.sharedFuncCount = index + 1
	}
	return nil
}

// EndMachine closes the open machine and interns it: a machine whose
// content hash matches an existing type becomes another instance of that
// type instead of a new one.
func (p *Program) EndMachine() error {
	if p.cur == nil {
		return fmt.Errorf("graph: no machine open")
	}
	t := p.cur
	p.cur = nil
	for i := 0; i < t.funcCount; i++ {
		if _, ok := t.funcs[i]; !ok {
			return fmt.Errorf("graph: machine %q function %d never defined", t.name, i)
		}
	}

	h := hashType(t)
	if id, ok := p.typeIndex[h]; ok {
		p.instances = append(p.instances, id)
		return nil
	}
	id := len(p.types)
	p.types = append(p.types, t)
	p.typeIndex[h] = id
	p.instances = append(p.instances, id)
	return nil
}

// AddStatic interns a machine static-data block and returns its id.
// Identical blocks share one id and one emitted copy.
func (p *Program) AddStatic(words []vm.ProgramWord) (StaticID, error) {
	return p.internStatic(words)
}

// AddSharedStatic interns a shared static-data block. Shared and machine
// statics share the address space of the emitted free region, so they
// intern into the same pool.
func (p *Program) AddSharedStatic(words []vm.ProgramWord) (StaticID, error) {
	return p.internStatic(words)
}

func (p *Program) internStatic(words []vm.ProgramWord) (StaticID, error) {
	if len(words) == 0 {
		return 0, fmt.Errorf("graph: empty static block")
	}
	h := hashStatic(words)
	if id, ok := p.staticIndex[h]; ok {
		return id, nil
	}
	id := StaticID(len(p.statics))
	p.statics = append(p.statics, &staticBlock{words: append([]vm.ProgramWord(nil), words...)})
	p.staticIndex[h] = id
	return id, nil
}

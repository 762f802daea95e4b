package asm

import (
	"strconv"
	"strings"

	"github.com/chazu/lumen/graph"
	"github.com/chazu/lumen/vm"
)

func (a *Assembler) directive(tokens []string) error {
	if a.data != nil {
		switch strings.ToLower(tokens[0]) {
		case ".word":
			return a.dirWord(tokens)
		case ".end":
			return a.endData()
		}
		return a.errf(ErrInvalidDirective, "%s inside data block", tokens[0])
	}

	switch strings.ToLower(tokens[0]) {
	case ".machine":
		return a.dirMachine(tokens)
	case ".func":
		return a.dirFunc(tokens, false)
	case ".func_decl":
		return a.dirFunc(tokens, true)
	case ".shared_func":
		return a.dirSharedFunc(tokens, false)
	case ".shared_func_decl":
		return a.dirSharedFunc(tokens, true)
	case ".local":
		return a.dirLocal(tokens)
	case ".shared":
		return a.dirShared(tokens)
	case ".frame":
		return a.dirFrame(tokens)
	case ".data":
		return a.dirData(tokens, false)
	case ".shared_data":
		return a.dirData(tokens, true)
	case ".word":
		return a.errf(ErrInvalidDirective, ".word outside data block")
	case ".end":
		return a.dirEnd()
	}
	return a.errf(ErrInvalidDirective, "%s", tokens[0])
}

// .machine <name> locals|globals <N> functions <N>
func (a *Assembler) dirMachine(tokens []string) error {
	if a.mach != nil || a.fn != nil {
		return a.errf(ErrBlockOrder, ".machine inside open block")
	}
	if len(tokens) != 6 || (strings.ToLower(tokens[2]) != "locals" && strings.ToLower(tokens[2]) != "globals") ||
		strings.ToLower(tokens[4]) != "functions" {
		return a.errf(ErrInvalidDirective, "want .machine <name> locals|globals <N> functions <N>")
	}
	name := tokens[1]
	if err := a.checkName(name, ErrInvalidDirective); err != nil {
		return err
	}
	globals, err := a.parseCount(tokens[3])
	if err != nil {
		return err
	}
	functions, err := a.parseCount(tokens[5])
	if err != nil {
		return err
	}
	if err := a.backend.BeginMachine(name, globals, functions); err != nil {
		return a.wrap(err)
	}
	a.begun = true
	a.mach = &machineState{
		name:      name,
		globals:   globals,
		funcCount: functions,
		locals:    make(map[string]int),
		frames:    make(map[string]int),
		statics:   make(map[string]staticLabel),
		funcNames: make(map[string]int),
		slotNames: make(map[int]string),
		defined:   make(map[int]bool),
	}
	return nil
}

// .func <name> [index <I>] / .func_decl <name> [index <I>]
func (a *Assembler) dirFunc(tokens []string, declOnly bool) error {
	if a.mach == nil {
		return a.errf(ErrBlockOrder, "%s outside machine", tokens[0])
	}
	if a.fn != nil {
		return a.errf(ErrBlockOrder, "%s inside function %q", tokens[0], a.fn.name)
	}
	name, index, err := a.parseFuncHeader(tokens)
	if err != nil {
		return err
	}
	idx, err := a.bindMachineFunc(name, index)
	if err != nil {
		return err
	}
	if declOnly {
		return nil
	}
	if a.mach.defined[idx] {
		return a.errf(ErrFunctionDefined, "function %q (slot %d)", name, idx)
	}
	a.fn = &funcState{name: name, index: idx, labels: make(map[string]int)}
	return nil
}

// .shared_func <name> [index <I>] / .shared_func_decl <name> [index <I>]
func (a *Assembler) dirSharedFunc(tokens []string, declOnly bool) error {
	if a.fn != nil {
		return a.errf(ErrBlockOrder, "%s inside function %q", tokens[0], a.fn.name)
	}
	name, index, err := a.parseFuncHeader(tokens)
	if err != nil {
		return err
	}
	idx, err := a.bindSharedFunc(name, index)
	if err != nil {
		return err
	}
	if declOnly {
		return nil
	}
	if a.sharedDefined[idx] {
		return a.errf(ErrFunctionDefined, "shared function %q (slot %d)", name, idx)
	}
	a.begun = true
	a.fn = &funcState{name: name, index: idx, shared: true, labels: make(map[string]int)}
	return nil
}

func (a *Assembler) parseFuncHeader(tokens []string) (string, int, error) {
	index := -1
	switch len(tokens) {
	case 2:
	case 4:
		if strings.ToLower(tokens[2]) != "index" {
			return "", 0, a.errf(ErrInvalidDirective, "want %s <name> [index <I>]", tokens[0])
		}
		i, err := a.parseCount(tokens[3])
		if err != nil {
			return "", 0, err
		}
		index = i
	default:
		return "", 0, a.errf(ErrInvalidDirective, "want %s <name> [index <I>]", tokens[0])
	}
	if err := a.checkName(tokens[1], ErrInvalidDirective); err != nil {
		return "", 0, err
	}
	return tokens[1], index, nil
}

func (a *Assembler) bindMachineFunc(name string, index int) (int, error) {
	m := a.mach
	if j, ok := m.funcNames[name]; ok {
		if index >= 0 && index != j {
			return 0, a.errf(ErrFunctionIndex, "function %q declared at slot %d, redeclared at %d", name, j, index)
		}
		return j, nil
	}
	if index < 0 {
		for m.slotNames[m.nextSlot] != "" {
			m.nextSlot++
		}
		index = m.nextSlot
	}
	if index >= m.funcCount {
		return 0, a.errf(ErrFunctionIndex, "slot %d of %d", index, m.funcCount)
	}
	if other := m.slotNames[index]; other != "" {
		return 0, a.errf(ErrFunctionIndexDuplicate, "slot %d already bound to %q", index, other)
	}
	m.funcNames[name] = index
	m.slotNames[index] = name
	return index, nil
}

func (a *Assembler) bindSharedFunc(name string, index int) (int, error) {
	if j, ok := a.sharedFuncNames[name]; ok {
		if index >= 0 && index != j {
			return 0, a.errf(ErrFunctionIndex, "shared function %q declared at slot %d, redeclared at %d", name, j, index)
		}
		return j, nil
	}
	if index < 0 {
		for a.sharedSlotNames[a.sharedNextSlot] != "" {
			a.sharedNextSlot++
		}
		index = a.sharedNextSlot
	}
	if other := a.sharedSlotNames[index]; other != "" {
		return 0, a.errf(ErrFunctionIndexDuplicate, "shared slot %d already bound to %q", index, other)
	}
	a.sharedFuncNames[name] = index
	a.sharedSlotNames[index] = name
	return index, nil
}

// .local <name> <offset>
func (a *Assembler) dirLocal(tokens []string) error {
	if a.mach == nil || a.fn != nil {
		return a.errf(ErrBlockOrder, ".local outside machine scope")
	}
	name, off, err := a.parseBinding(tokens)
	if err != nil {
		return err
	}
	if off >= a.mach.globals {
		return a.errf(ErrGlobalOutOfRange, "local %q offset %d of %d", name, off, a.mach.globals)
	}
	if _, ok := a.mach.locals[name]; ok {
		return a.errf(ErrDuplicateGlobal, "local %q", name)
	}
	a.mach.locals[name] = off
	return nil
}

// .shared <name> <offset>; grows the shared-globals region to cover the
// highest declared offset. Declarations lock once building begins, even
// when the region would not grow.
func (a *Assembler) dirShared(tokens []string) error {
	if a.fn != nil {
		return a.errf(ErrBlockOrder, ".shared inside function")
	}
	if a.begun {
		return a.errf(ErrBuild, ".shared after first machine or shared function")
	}
	name, off, err := a.parseBinding(tokens)
	if err != nil {
		return err
	}
	if _, ok := a.sharedNames[name]; ok {
		return a.errf(ErrDuplicateGlobal, "shared %q", name)
	}
	if off+1 > a.sharedSize {
		if err := a.backend.SetSharedGlobalsSize(off + 1); err != nil {
			return a.wrap(err)
		}
		a.sharedSize = off + 1
	}
	a.sharedNames[name] = off
	return nil
}

// .frame <name> <offset>
func (a *Assembler) dirFrame(tokens []string) error {
	name, off, err := a.parseBinding(tokens)
	if err != nil {
		return err
	}
	scope := a.frames
	if a.mach != nil {
		scope = a.mach.frames
	}
	if _, ok := scope[name]; ok {
		return a.errf(ErrDuplicateStackSlot, "frame slot %q", name)
	}
	scope[name] = off
	return nil
}

func (a *Assembler) parseBinding(tokens []string) (string, int, error) {
	if len(tokens) != 3 {
		return "", 0, a.errf(ErrInvalidDirective, "want %s <name> <offset>", tokens[0])
	}
	if err := a.checkName(tokens[1], ErrInvalidDirective); err != nil {
		return "", 0, err
	}
	off, err := a.parseCount(tokens[2])
	if err != nil {
		return "", 0, err
	}
	return tokens[1], off, nil
}

// .data / .shared_data
func (a *Assembler) dirData(tokens []string, shared bool) error {
	if a.fn != nil {
		return a.errf(ErrBlockOrder, "%s inside function", tokens[0])
	}
	if len(tokens) != 1 {
		return a.errf(ErrInvalidDirective, "%s takes no arguments", tokens[0])
	}
	a.data = &dataState{shared: shared, labels: make(map[string]int)}
	return nil
}

// .word <N>
func (a *Assembler) dirWord(tokens []string) error {
	if len(tokens) != 2 {
		return a.errf(ErrInvalidDirective, "want .word <N>")
	}
	w, ok, err := a.parseWord(tokens[1])
	if err != nil {
		return err
	}
	if !ok {
		return a.errf(ErrInvalidNumber, "%q", tokens[1])
	}
	a.data.words = append(a.data.words, w)
	return nil
}

func (a *Assembler) dirEnd() error {
	switch {
	case a.fn != nil:
		return a.endFunc()
	case a.mach != nil:
		return a.endMachine()
	}
	return a.errf(ErrBlockOrder, ".end with no open block")
}

func (a *Assembler) endFunc() error {
	fn := a.fn
	a.fn = nil
	for _, f := range fn.fixups {
		off, ok := fn.labels[f.name]
		if !ok {
			return &Error{Kind: ErrUnknownLabel, Line: f.line, Detail: f.name}
		}
		fn.body[f.pos] = labelWordRef(off)
	}
	if fn.shared {
		if err := a.backend.DefineSharedFunction(fn.index, fn.body); err != nil {
			return a.wrap(err)
		}
		a.sharedDefined[fn.index] = true
		return nil
	}
	if err := a.backend.DefineFunction(fn.index, fn.body); err != nil {
		return a.wrap(err)
	}
	a.mach.defined[fn.index] = true
	return nil
}

func (a *Assembler) endData() error {
	d := a.data
	a.data = nil
	if len(d.words) == 0 {
		return a.errf(ErrInvalidDirective, "empty data block")
	}

	var (
		id  graph.StaticID
		err error
	)
	if d.shared {
		id, err = a.backend.AddSharedStatic(d.words)
	} else {
		id, err = a.backend.AddStatic(d.words)
	}
	if err != nil {
		return a.wrap(err)
	}

	scope := a.statics
	if !d.shared && a.mach != nil {
		scope = a.mach.statics
	}
	for name, off := range d.labels {
		if _, ok := scope[name]; ok {
			return a.errf(ErrDuplicateLabel, "data label %q", name)
		}
		scope[name] = staticLabel{id: id, offset: vm.ProgramWord(off)}
	}
	return nil
}

func (a *Assembler) endMachine() error {
	m := a.mach
	for name, idx := range m.funcNames {
		if !m.defined[idx] {
			return a.errf(ErrFunctionUndefined, "function %q (slot %d) declared but never defined", name, idx)
		}
	}
	if err := a.backend.EndMachine(); err != nil {
		return a.wrap(err)
	}
	a.mach = nil
	return nil
}

// parseCount parses a non-negative decimal or 0x hex integer.
func (a *Assembler) parseCount(tok string) (int, error) {
	w, ok, err := a.parseWord(tok)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, a.errf(ErrInvalidNumber, "%q", tok)
	}
	return int(w), nil
}

// parseWord parses a program-word literal. ok is false when tok does not
// look numeric at all; err reports numeric-looking tokens that fail to
// parse or fit.
func (a *Assembler) parseWord(tok string) (vm.ProgramWord, bool, error) {
	if len(tok) == 0 || tok[0] < '0' || tok[0] > '9' {
		return 0, false, nil
	}
	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(tok, "0x") || strings.HasPrefix(tok, "0X") {
		v, err = strconv.ParseUint(tok[2:], 16, 16)
	} else {
		v, err = strconv.ParseUint(tok, 10, 16)
	}
	if err != nil {
		return 0, true, a.errf(ErrInvalidNumber, "%q", tok)
	}
	return vm.ProgramWord(v), true, nil
}

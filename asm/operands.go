package asm

import (
	"strings"

	"github.com/chazu/lumen/graph"
	"github.com/chazu/lumen/vm"
)

func labelWordRef(offset int) graph.WordRef {
	return graph.LabelRef(vm.ProgramWord(offset))
}

// pushTarget is the set of mnemonics that accept an optional operand: with
// one operand the assembler emits PUSH <target> immediately before the
// opcode, without one the target is expected on the stack already.
func pushTarget(op vm.Opcode) bool {
	switch op {
	case vm.OpJump, vm.OpBranchLt, vm.OpBranchLe, vm.OpBranchGt, vm.OpBranchGe, vm.OpBranchEq,
		vm.OpCall, vm.OpCallShared, vm.OpLoadStatic:
		return true
	}
	return false
}

func (a *Assembler) instruction(tokens []string) error {
	if a.fn == nil {
		return a.errf(ErrBlockOrder, "instruction %q outside function", tokens[0])
	}
	op, ok := vm.OpcodeByName(strings.ToUpper(tokens[0]))
	if !ok {
		return a.errf(ErrInvalidInstruction, "%q", tokens[0])
	}

	if op.OperandWords() == 1 {
		if len(tokens) != 2 {
			return a.errf(ErrInvalidInstruction, "%s wants one operand", op)
		}
		return a.emitOperandOp(op, tokens[1])
	}

	switch len(tokens) {
	case 1:
		a.emit(graph.Literal(vm.ProgramWord(op)))
		return nil
	case 2:
		if !pushTarget(op) {
			return a.errf(ErrInvalidInstruction, "%s takes no operand", op)
		}
		a.emit(graph.Literal(vm.ProgramWord(vm.OpPush)))
		if err := a.emitTarget(op, tokens[1]); err != nil {
			return err
		}
		a.emit(graph.Literal(vm.ProgramWord(op)))
		return nil
	}
	return a.errf(ErrInvalidInstruction, "%s takes at most one operand", op)
}

func (a *Assembler) emit(ref graph.WordRef) {
	a.fn.body = append(a.fn.body, ref)
}

// emitOperandOp handles the in-place-operand instructions, validating the
// operand against the address space it indexes.
func (a *Assembler) emitOperandOp(op vm.Opcode, tok string) error {
	a.emit(graph.Literal(vm.ProgramWord(op)))

	switch op {
	case vm.OpReturn:
		w, ok, err := a.parseWord(tok)
		if err != nil {
			return err
		}
		if !ok {
			return a.errf(ErrInvalidNumber, "%q", tok)
		}
		a.emit(graph.Literal(w))
		return nil

	case vm.OpLocalLoad, vm.OpLocalStore:
		return a.emitLocalOperand(tok)

	case vm.OpGlobalLoad, vm.OpGlobalStore:
		return a.emitSharedOperand(tok)

	case vm.OpStackLoad, vm.OpStackStore:
		if off, ok := a.lookupFrame(tok); ok {
			a.emit(graph.Literal(vm.ProgramWord(off)))
			return nil
		}
		return a.emitValue(tok)
	}

	// PUSH
	return a.emitValue(tok)
}

func (a *Assembler) lookupFrame(tok string) (int, bool) {
	if a.mach != nil {
		if off, ok := a.mach.frames[tok]; ok {
			return off, true
		}
	}
	off, ok := a.frames[tok]
	return off, ok
}

// emitLocalOperand resolves an LLOAD/LSTORE operand. Inside a shared
// function any literal is accepted since shared functions have no private
// globals to validate against.
func (a *Assembler) emitLocalOperand(tok string) error {
	w, ok, err := a.parseWord(tok)
	if err != nil {
		return err
	}
	if ok {
		if !a.fn.shared && int(w) >= a.mach.globals {
			return a.errf(ErrGlobalOutOfRange, "local offset %d of %d", w, a.mach.globals)
		}
		a.emit(graph.Literal(w))
		return nil
	}
	if a.fn.shared || a.mach == nil {
		return a.errf(ErrUnknownLabel, "local %q in shared function", tok)
	}
	off, ok := a.mach.locals[tok]
	if !ok {
		return a.errf(ErrUnknownLabel, "local %q", tok)
	}
	a.emit(graph.Literal(vm.ProgramWord(off)))
	return nil
}

func (a *Assembler) emitSharedOperand(tok string) error {
	w, ok, err := a.parseWord(tok)
	if err != nil {
		return err
	}
	if ok {
		if int(w) >= a.sharedSize {
			return a.errf(ErrGlobalOutOfRange, "shared offset %d of %d", w, a.sharedSize)
		}
		a.emit(graph.Literal(w))
		return nil
	}
	off, ok2 := a.sharedNames[tok]
	if !ok2 {
		return a.errf(ErrUnknownLabel, "shared %q", tok)
	}
	a.emit(graph.Literal(vm.ProgramWord(off)))
	return nil
}

// emitTarget resolves the optional operand of a jump/branch/call. Calls
// resolve function names to their numeric index; everything else goes
// through general value resolution.
func (a *Assembler) emitTarget(op vm.Opcode, tok string) error {
	switch op {
	case vm.OpCall:
		w, ok, err := a.parseWord(tok)
		if err != nil {
			return err
		}
		if ok {
			a.emit(graph.Literal(w))
			return nil
		}
		if a.mach == nil {
			return a.errf(ErrUnknownLabel, "function %q outside machine", tok)
		}
		idx, ok2 := a.mach.funcNames[tok]
		if !ok2 {
			return a.errf(ErrUnknownLabel, "function %q", tok)
		}
		a.emit(graph.Literal(vm.ProgramWord(idx)))
		return nil

	case vm.OpCallShared:
		w, ok, err := a.parseWord(tok)
		if err != nil {
			return err
		}
		if ok {
			a.emit(graph.Literal(w))
			return nil
		}
		idx, ok2 := a.sharedFuncNames[tok]
		if !ok2 {
			return a.errf(ErrUnknownLabel, "shared function %q", tok)
		}
		a.emit(graph.Literal(vm.ProgramWord(idx)))
		return nil
	}
	return a.emitValue(tok)
}

// emitValue appends a general operand: a numeric literal, a code label
// (forward references become fixups resolved at function end), a static
// data label, or a named global's offset.
func (a *Assembler) emitValue(tok string) error {
	w, ok, err := a.parseWord(tok)
	if err != nil {
		return err
	}
	if ok {
		a.emit(graph.Literal(w))
		return nil
	}
	if err := a.checkName(tok, ErrInvalidInstruction); err != nil {
		return err
	}

	fn := a.fn
	if off, ok := fn.labels[tok]; ok {
		a.emit(labelWordRef(off))
		return nil
	}
	if a.mach != nil {
		if s, ok := a.mach.statics[tok]; ok {
			a.emit(graph.StaticRef(s.id, s.offset))
			return nil
		}
	}
	if s, ok := a.statics[tok]; ok {
		a.emit(graph.StaticRef(s.id, s.offset))
		return nil
	}
	if a.mach != nil && !fn.shared {
		if off, ok := a.mach.locals[tok]; ok {
			a.emit(graph.Literal(vm.ProgramWord(off)))
			return nil
		}
	}
	if off, ok := a.sharedNames[tok]; ok {
		a.emit(graph.Literal(vm.ProgramWord(off)))
		return nil
	}

	// Assume a forward label reference; unresolved names fail at .end.
	fn.fixups = append(fn.fixups, fixup{name: tok, pos: len(fn.body), line: a.line})
	a.emit(labelWordRef(0))
	return nil
}

package vm

import "math"

// ---------------------------------------------------------------------------
// Machine: the light machine interpreter
// ---------------------------------------------------------------------------

// Color is an RGB triple produced by a get-color invocation.
type Color struct {
	R, G, B uint8
}

// externalReturn is the sentinel return PC seeded by external invocations.
// Returning through it terminates the dispatch loop.
const externalReturn = StackWord(-1)

// Machine executes a loaded program against globals memory and an operand
// stack. The stack and frame pointer are scratch state, reset at the start
// of every external invocation; globals persist for the lifetime of the
// loaded program.
//
// Machine is not safe for concurrent use. Callers serialize access with a
// single lock around each invocation.
type Machine struct {
	prog    *Program
	globals []StackWord
	stack   [StackCapacity]StackWord
	sp      int
	fp      int

	// exited records that the last run stopped at EXIT instead of
	// returning through the external frame.
	exited bool

	// instance is the machine context local memory operations resolve
	// against: an instance index, or -1 for invocations with no machine
	// context (shared-function calls).
	instance int
}

// NewMachine returns a machine with no program loaded.
func NewMachine() *Machine {
	return &Machine{instance: -1}
}

// Load validates and installs a program image, sizing globals memory from
// its header. The stack is cleared; globals are zeroed. Call Reset to run
// the program's initialization functions.
func (m *Machine) Load(words []ProgramWord) error {
	p, err := LoadProgram(words)
	if err != nil {
		return err
	}
	m.prog = p
	m.globals = make([]StackWord, p.GlobalsSize())
	m.sp = 0
	m.fp = 0
	m.instance = -1
	return nil
}

// Program returns the loaded program, or nil.
func (m *Machine) Program() *Program { return m.prog }

// InstanceCount returns the number of machine instances, 0 when no program
// is loaded.
func (m *Machine) InstanceCount() int {
	if m.prog == nil {
		return 0
	}
	return m.prog.InstanceCount()
}

// Reset zeroes globals memory and reruns program initialization: shared
// function 0 when the image defines one (the shared-globals initializer),
// then every instance's init function.
func (m *Machine) Reset() error {
	if m.prog == nil {
		return errKind(ErrInvalidProgram, -1, "no program loaded")
	}
	for i := range m.globals {
		m.globals[i] = 0
	}
	if m.prog.SharedFunctionCount() > 0 && m.prog.sharedFuncs[0] != 0 {
		if _, err := m.CallShared(0, nil); err != nil {
			return err
		}
	}
	for i := 0; i < m.prog.InstanceCount(); i++ {
		if err := m.InitMachine(i); err != nil {
			return err
		}
	}
	return nil
}

// InitMachine runs a machine's constant-initialization function.
func (m *Machine) InitMachine(machine int) error {
	_, err := m.Call(machine, FuncInit, nil)
	return err
}

// Call invokes a machine-local function with the given arguments and
// returns whatever values the function left on the stack.
func (m *Machine) Call(machine, function int, args []StackWord) ([]StackWord, error) {
	if m.prog == nil {
		return nil, errKind(ErrInvalidProgram, -1, "no program loaded")
	}
	entry, err := m.prog.functionEntry(machine, function)
	if err != nil {
		return nil, err
	}
	m.instance = machine
	return m.invoke(entry, args)
}

// CallShared invokes a shared function by its shared-function-table index.
// Shared functions run without a machine context: shared globals are
// accessible, machine-local globals are not.
func (m *Machine) CallShared(function int, args []StackWord) ([]StackWord, error) {
	if m.prog == nil {
		return nil, errKind(ErrInvalidProgram, -1, "no program loaded")
	}
	entry, err := m.prog.sharedEntry(function)
	if err != nil {
		return nil, err
	}
	m.instance = -1
	return m.invoke(entry, args)
}

// GetLedColor runs a machine's per-pixel rendering function for one LED.
// The seed color is placed on the stack below the call so programs can
// blend with the color computed by an earlier machine in a layered
// pipeline; the function's three result words are popped in reverse
// (blue, green, red) and each must fit in a byte.
func (m *Machine) GetLedColor(machine, led int, tick uint32, seed Color) (Color, error) {
	if m.prog == nil {
		return Color{}, errKind(ErrInvalidProgram, -1, "no program loaded")
	}
	entry, err := m.prog.functionEntry(machine, FuncGetLedColor)
	if err != nil {
		return Color{}, err
	}
	m.instance = machine
	m.sp = 0
	m.fp = 0
	for _, w := range []StackWord{StackWord(seed.R), StackWord(seed.G), StackWord(seed.B)} {
		if err := m.push(w); err != nil {
			return Color{}, err
		}
	}
	if err := m.pushFrame([]StackWord{StackWord(led), StackWord(tick)}); err != nil {
		return Color{}, err
	}
	if err := m.run(entry); err != nil {
		return Color{}, err
	}

	var channels [3]uint8 // filled B, G, R
	for i := 0; i < 3; i++ {
		v, err := m.pop(-1)
		if err != nil {
			return Color{}, err
		}
		b, err := colorByte(v)
		if err != nil {
			return Color{}, err
		}
		channels[i] = b
	}
	return Color{R: channels[2], G: channels[1], B: channels[0]}, nil
}

// invoke resets scratch state, builds an external call frame around args
// and runs until the frame returns or the program exits. The result is a
// copy of what remains on the stack; an EXIT stops mid-frame, so the
// external frame header below the arguments is not part of it.
func (m *Machine) invoke(entry int, args []StackWord) ([]StackWord, error) {
	m.sp = 0
	m.fp = 0
	if err := m.pushFrame(args); err != nil {
		return nil, err
	}
	if err := m.run(entry); err != nil {
		return nil, err
	}
	base := 0
	if m.exited {
		base = 2
		if base > m.sp {
			base = m.sp
		}
	}
	result := make([]StackWord, m.sp-base)
	copy(result, m.stack[base:m.sp])
	return result, nil
}

// pushFrame appends a frame header (external return PC, saved frame
// pointer) followed by the arguments, and points the frame pointer at the
// first argument.
func (m *Machine) pushFrame(args []StackWord) error {
	if err := m.push(externalReturn); err != nil {
		return err
	}
	if err := m.push(StackWord(m.fp)); err != nil {
		return err
	}
	m.fp = m.sp
	for _, a := range args {
		if err := m.push(a); err != nil {
			return err
		}
	}
	return nil
}

func colorByte(v StackWord) (uint8, error) {
	if v < 0 || v > 255 {
		return 0, errKind(ErrColorOutOfRange, -1, "value %d", v)
	}
	return uint8(v), nil
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func (m *Machine) run(pc int) error {
	m.exited = false
	words := m.prog.words
	for {
		if pc < 0 || pc >= len(words) {
			return errKind(ErrProgramOutOfBounds, pc, "")
		}
		op, ok := DecodeOpcode(words[pc])
		if !ok {
			return errKind(ErrInvalidOpcode, pc, "word %04X", words[pc])
		}
		next := pc + 1 + op.OperandWords()
		if next > len(words) {
			return errKind(ErrProgramOutOfBounds, pc, "truncated operand")
		}

		switch op {
		case OpExit:
			m.exited = true
			m.fp = 0
			return nil

		case OpReturn:
			n := int(words[pc+1])
			done, resume, err := m.popFrame(n, pc)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			pc = resume
			continue

		case OpPush:
			if err := m.push(StackWord(words[pc+1])); err != nil {
				return err
			}

		case OpPop:
			if _, err := m.pop(pc); err != nil {
				return err
			}

		case OpDup:
			v, err := m.peek(pc)
			if err != nil {
				return err
			}
			if err := m.push(v); err != nil {
				return err
			}

		case OpSwap:
			if m.sp < 2 {
				return errKind(ErrStackUnderflow, pc, "swap on depth %d", m.sp)
			}
			m.stack[m.sp-1], m.stack[m.sp-2] = m.stack[m.sp-2], m.stack[m.sp-1]

		case OpStackLoad:
			slot, err := m.frameSlot(int(words[pc+1]), pc)
			if err != nil {
				return err
			}
			if err := m.push(m.stack[slot]); err != nil {
				return err
			}

		case OpStackStore:
			slot, err := m.frameSlot(int(words[pc+1]), pc)
			if err != nil {
				return err
			}
			v, err := m.pop(pc)
			if err != nil {
				return err
			}
			m.stack[slot] = v

		case OpLocalLoad:
			addr, err := m.localAddr(int(words[pc+1]), pc)
			if err != nil {
				return err
			}
			if err := m.push(m.globals[addr]); err != nil {
				return err
			}

		case OpLocalStore:
			addr, err := m.localAddr(int(words[pc+1]), pc)
			if err != nil {
				return err
			}
			v, err := m.pop(pc)
			if err != nil {
				return err
			}
			m.globals[addr] = v

		case OpGlobalLoad:
			off := int(words[pc+1])
			if off >= m.prog.sharedGlobals {
				return errKind(ErrGlobalOutOfRange, pc, "shared offset %d of %d", off, m.prog.sharedGlobals)
			}
			if err := m.push(m.globals[off]); err != nil {
				return err
			}

		case OpGlobalStore:
			off := int(words[pc+1])
			if off >= m.prog.sharedGlobals {
				return errKind(ErrGlobalOutOfRange, pc, "shared offset %d of %d", off, m.prog.sharedGlobals)
			}
			v, err := m.pop(pc)
			if err != nil {
				return err
			}
			m.globals[off] = v

		case OpLoadStatic:
			a, err := m.pop(pc)
			if err != nil {
				return err
			}
			if a < 0 || int(a) >= len(words) {
				return errKind(ErrStaticOutOfBounds, pc, "address %d of %d", a, len(words))
			}
			if err := m.push(StackWord(words[a])); err != nil {
				return err
			}

		case OpJump:
			t, err := m.branchTarget(pc)
			if err != nil {
				return err
			}
			pc = t
			continue

		case OpBranchLt, OpBranchLe, OpBranchGt, OpBranchGe, OpBranchEq:
			t, err := m.branchTarget(pc)
			if err != nil {
				return err
			}
			b, err := m.pop(pc)
			if err != nil {
				return err
			}
			a, err := m.pop(pc)
			if err != nil {
				return err
			}
			if compareBranch(op, a, b) {
				pc = t
				continue
			}

		case OpAdd, OpSub, OpMul, OpDiv, OpMod,
			OpAnd, OpOr, OpXor, OpBitAnd, OpBitOr, OpBitXor:
			b, err := m.pop(pc)
			if err != nil {
				return err
			}
			a, err := m.pop(pc)
			if err != nil {
				return err
			}
			v, err := binaryOp(op, a, b, pc)
			if err != nil {
				return err
			}
			if err := m.push(v); err != nil {
				return err
			}

		case OpNot:
			a, err := m.pop(pc)
			if err != nil {
				return err
			}
			if err := m.push(boolWord(a == 0)); err != nil {
				return err
			}

		case OpBitNot:
			a, err := m.pop(pc)
			if err != nil {
				return err
			}
			if err := m.push(^a); err != nil {
				return err
			}

		case OpCall, OpCallShared:
			resume, err := m.enterCall(op, pc, next)
			if err != nil {
				return err
			}
			pc = resume
			continue
		}

		pc = next
	}
}

// enterCall pops (function index, arg count), inserts a frame header before
// the argument window and returns the callee entry point.
func (m *Machine) enterCall(op Opcode, pc, retPC int) (int, error) {
	idx, err := m.pop(pc)
	if err != nil {
		return 0, err
	}
	argc, err := m.pop(pc)
	if err != nil {
		return 0, err
	}
	if idx < 0 || argc < 0 {
		return 0, errKind(ErrValueOutOfRange, pc, "call index %d argc %d", idx, argc)
	}
	if int(argc) > m.sp {
		return 0, errKind(ErrStackUnderflow, pc, "argc %d exceeds depth %d", argc, m.sp)
	}

	var entry int
	if op == OpCallShared {
		entry, err = m.prog.sharedEntry(int(idx))
	} else {
		if m.instance < 0 {
			return 0, errKind(ErrUnknownMachine, pc, "call without machine context")
		}
		entry, err = m.prog.functionEntry(m.instance, int(idx))
	}
	if err != nil {
		if e, ok := err.(*Error); ok {
			e.PC = pc
		}
		return 0, err
	}

	if m.sp+2 > StackCapacity {
		return 0, errKind(ErrStackOverflow, pc, "")
	}
	base := m.sp - int(argc)
	copy(m.stack[base+2:m.sp+2], m.stack[base:m.sp])
	m.stack[base] = StackWord(retPC)
	m.stack[base+1] = StackWord(m.fp)
	m.sp += 2
	m.fp = base + 2
	return entry, nil
}

// popFrame copies the top n stack values down over the active frame header,
// truncates the frame and restores the caller's frame pointer. It reports
// whether the returned-through frame was an external invocation.
func (m *Machine) popFrame(n, pc int) (done bool, resume int, err error) {
	if m.fp < 2 {
		return false, 0, errKind(ErrStackUnderflow, pc, "return without frame")
	}
	base := m.fp - 2
	if n > m.sp-base {
		return false, 0, errKind(ErrStackUnderflow, pc, "return %d values from frame of %d", n, m.sp-base)
	}
	retPC := m.stack[base]
	savedFP := m.stack[base+1]
	if savedFP < 0 || int(savedFP) > base {
		return false, 0, errKind(ErrInvalidProgram, pc, "corrupt saved frame pointer %d", savedFP)
	}
	copy(m.stack[base:base+n], m.stack[m.sp-n:m.sp])
	m.sp = base + n
	m.fp = int(savedFP)
	if retPC == externalReturn {
		return true, 0, nil
	}
	if retPC < 0 || int(retPC) >= len(m.prog.words) {
		return false, 0, errKind(ErrProgramOutOfBounds, pc, "return to %d", retPC)
	}
	return false, int(retPC), nil
}

// ---------------------------------------------------------------------------
// Operand helpers
// ---------------------------------------------------------------------------

func (m *Machine) push(v StackWord) error {
	if m.sp >= StackCapacity {
		return errKind(ErrStackOverflow, -1, "")
	}
	m.stack[m.sp] = v
	m.sp++
	return nil
}

func (m *Machine) pop(pc int) (StackWord, error) {
	if m.sp == 0 {
		return 0, errKind(ErrStackUnderflow, pc, "pop on empty stack")
	}
	m.sp--
	return m.stack[m.sp], nil
}

func (m *Machine) peek(pc int) (StackWord, error) {
	if m.sp == 0 {
		return 0, errKind(ErrStackUnderflow, pc, "peek on empty stack")
	}
	return m.stack[m.sp-1], nil
}

func (m *Machine) frameSlot(idx, pc int) (int, error) {
	slot := m.fp + idx
	if slot < 0 || slot >= m.sp {
		return 0, errKind(ErrStackUnderflow, pc, "frame slot %d outside [0,%d)", idx, m.sp-m.fp)
	}
	return slot, nil
}

func (m *Machine) localAddr(off, pc int) (int, error) {
	if m.instance < 0 {
		return 0, errKind(ErrGlobalOutOfRange, pc, "local access without machine context")
	}
	info := m.prog.instances[m.instance]
	if off >= info.globalsSize {
		return 0, errKind(ErrGlobalOutOfRange, pc, "local offset %d of %d", off, info.globalsSize)
	}
	return info.globalsBase + off, nil
}

func (m *Machine) branchTarget(pc int) (int, error) {
	t, err := m.pop(pc)
	if err != nil {
		return 0, err
	}
	if t < 0 || int(t) >= len(m.prog.words) {
		return 0, errKind(ErrProgramOutOfBounds, pc, "branch target %d", t)
	}
	return int(t), nil
}

func compareBranch(op Opcode, a, b StackWord) bool {
	switch op {
	case OpBranchLt:
		return a < b
	case OpBranchLe:
		return a <= b
	case OpBranchGt:
		return a > b
	case OpBranchGe:
		return a >= b
	case OpBranchEq:
		return a == b
	}
	return false
}

func binaryOp(op Opcode, a, b StackWord, pc int) (StackWord, error) {
	switch op {
	case OpAdd:
		return StackWord(int32(a) + int32(b)), nil
	case OpSub:
		return StackWord(int32(a) - int32(b)), nil
	case OpMul:
		return StackWord(int32(a) * int32(b)), nil
	case OpDiv:
		if b == 0 {
			return 0, errKind(ErrDivideByZero, pc, "")
		}
		if a == math.MinInt32 && b == -1 {
			return math.MinInt32, nil // wrapping quotient
		}
		return a / b, nil
	case OpMod:
		if b == 0 {
			return 0, errKind(ErrDivideByZero, pc, "")
		}
		if a == math.MinInt32 && b == -1 {
			return 0, nil
		}
		return a % b, nil
	case OpAnd:
		return boolWord(a != 0 && b != 0), nil
	case OpOr:
		return boolWord(a != 0 || b != 0), nil
	case OpXor:
		return boolWord((a != 0) != (b != 0)), nil
	case OpBitAnd:
		return a & b, nil
	case OpBitOr:
		return a | b, nil
	case OpBitXor:
		return a ^ b, nil
	}
	return 0, errKind(ErrInvalidOpcode, pc, "binary op %s", op)
}

func boolWord(b bool) StackWord {
	if b {
		return 1
	}
	return 0
}

package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single light machine instruction. Opcodes occupy one
// program word; instructions that take an in-place operand read it from the
// following word.
type Opcode ProgramWord

// Terminal instructions
const (
	OpExit   Opcode = 0x00 // stop the current invocation, reset frame pointer
	OpReturn Opcode = 0x01 // pop frame, copy N results down (N in next word)
)

// Stack operations
const (
	OpPush       Opcode = 0x02 // push literal from next word
	OpPop        Opcode = 0x03 // discard top of stack
	OpDup        Opcode = 0x04 // duplicate top of stack
	OpSwap       Opcode = 0x05 // swap top two values
	OpStackLoad  Opcode = 0x06 // push frame-relative slot (index in next word)
	OpStackStore Opcode = 0x07 // pop into frame-relative slot
)

// Memory operations
const (
	OpLocalLoad   Opcode = 0x08 // push machine-local global (offset in next word)
	OpLocalStore  Opcode = 0x09 // pop into machine-local global
	OpGlobalLoad  Opcode = 0x0A // push shared global (offset in next word)
	OpGlobalStore Opcode = 0x0B // pop into shared global
	OpLoadStatic  Opcode = 0x0C // pop address, push static word at that address
)

// Control flow. Jump pops its target; the comparison branches pop a target
// and two operands and fall through when the condition is false.
const (
	OpJump     Opcode = 0x0D
	OpBranchLt Opcode = 0x0E
	OpBranchLe Opcode = 0x0F
	OpBranchGt Opcode = 0x10
	OpBranchGe Opcode = 0x11
	OpBranchEq Opcode = 0x12
)

// Arithmetic. Add, Sub and Mul wrap; Div and Mod fail on a zero divisor.
const (
	OpAdd Opcode = 0x13
	OpSub Opcode = 0x14
	OpMul Opcode = 0x15
	OpDiv Opcode = 0x16
	OpMod Opcode = 0x17
)

// Logical operations normalize their result to 0 or 1.
const (
	OpAnd Opcode = 0x18
	OpOr  Opcode = 0x19
	OpXor Opcode = 0x1A
	OpNot Opcode = 0x1B
)

// Bitwise operations
const (
	OpBitAnd Opcode = 0x1C
	OpBitOr  Opcode = 0x1D
	OpBitXor Opcode = 0x1E
	OpBitNot Opcode = 0x1F
)

// Calls. The stack before either instruction is [..args, argc, index]; the
// index names a machine-local function for Call and a shared-function-table
// slot for CallShared.
const (
	OpCall       Opcode = 0x20
	OpCallShared Opcode = 0x21
)

// OpcodeCount is one past the highest valid opcode. Instruction words at or
// above this value fail decoding.
const OpcodeCount = 0x22

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // assembler mnemonic
	OperandWords int    // in-place operand words following the instruction
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpExit:   {"EXIT", 0},
	OpReturn: {"RET", 1},

	OpPush:       {"PUSH", 1},
	OpPop:        {"POP", 0},
	OpDup:        {"DUP", 0},
	OpSwap:       {"SWAP", 0},
	OpStackLoad:  {"SLOAD", 1},
	OpStackStore: {"SSTORE", 1},

	OpLocalLoad:   {"LLOAD", 1},
	OpLocalStore:  {"LSTORE", 1},
	OpGlobalLoad:  {"GLOAD", 1},
	OpGlobalStore: {"GSTORE", 1},
	OpLoadStatic:  {"LOAD_STATIC", 0},

	OpJump:     {"JUMP", 0},
	OpBranchLt: {"BRLT", 0},
	OpBranchLe: {"BRLTE", 0},
	OpBranchGt: {"BRGT", 0},
	OpBranchGe: {"BRGTE", 0},
	OpBranchEq: {"BREQ", 0},

	OpAdd: {"ADD", 0},
	OpSub: {"SUB", 0},
	OpMul: {"MUL", 0},
	OpDiv: {"DIV", 0},
	OpMod: {"MOD", 0},

	OpAnd: {"AND", 0},
	OpOr:  {"OR", 0},
	OpXor: {"XOR", 0},
	OpNot: {"NOT", 0},

	OpBitAnd: {"BAND", 0},
	OpBitOr:  {"BOR", 0},
	OpBitXor: {"BXOR", 0},
	OpBitNot: {"BNOT", 0},

	OpCall:       {"CALL", 0},
	OpCallShared: {"CALL_SHARED", 0},
}

// OpcodeByName resolves an assembler mnemonic to its opcode. The match is
// exact; callers wanting case-insensitive lookup normalize first.
func OpcodeByName(name string) (Opcode, bool) {
	for op, info := range opcodeTable {
		if info.Name == name {
			return op, true
		}
	}
	return 0, false
}

// DecodeOpcode converts an instruction word into an Opcode, rejecting
// values outside the defined range.
func DecodeOpcode(w ProgramWord) (Opcode, bool) {
	if w >= OpcodeCount {
		return 0, false
	}
	return Opcode(w), true
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", int(op))}
}

// Name returns the assembler mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandWords returns the number of in-place operand words for an opcode.
func (op Opcode) OperandWords() int {
	return op.Info().OperandWords
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleAt renders the instruction at word offset pc and returns the
// offset of the next instruction. Useful in diagnostics and tests.
func DisassembleAt(words []ProgramWord, pc int) (string, int) {
	if pc < 0 || pc >= len(words) {
		return fmt.Sprintf("%04d  <out of bounds>", pc), len(words)
	}
	op, ok := DecodeOpcode(words[pc])
	if !ok {
		return fmt.Sprintf("%04d  <invalid %04X>", pc, words[pc]), pc + 1
	}
	info := op.Info()
	if info.OperandWords == 0 {
		return fmt.Sprintf("%04d  %s", pc, info.Name), pc + 1
	}
	if pc+1 >= len(words) {
		return fmt.Sprintf("%04d  %s <truncated>", pc, info.Name), len(words)
	}
	return fmt.Sprintf("%04d  %s %d", pc, info.Name, words[pc+1]), pc + 2
}

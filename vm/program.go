package vm

// ---------------------------------------------------------------------------
// Program image format
// ---------------------------------------------------------------------------

// ProgramWord is the 16-bit unit of the binary program image: opcodes,
// operands and table entries are all program words.
type ProgramWord uint16

// StackWord is the 32-bit runtime value type used on the operand stack and
// in globals memory, allowing arithmetic headroom beyond program-word range.
type StackWord int32

// ProgramVersion is the image format version the interpreter executes.
// Loading an image with any other version word fails.
const ProgramVersion ProgramWord = 2

// Header layout, in word offsets. All offsets stored in the image are
// absolute word indices into the same flat array.
const (
	hdrVersion         = 0 // format version
	hdrGlobalsSize     = 1 // total globals words across shared + all instances
	hdrInstanceCount   = 2
	hdrSharedFuncCount = 3
	hdrTypeCount       = 4
	hdrInstanceTable   = 5 // offset of the instance table
	hdrTypeTable       = 6 // offset of the type table
	hdrSharedTable     = 7 // offset of the shared-function table

	// HeaderWords is the fixed header size in words.
	HeaderWords = 8
)

// Table entry sizes in words.
const (
	instanceEntryWords = 2 // (type id, globals base)
	typeEntryWords     = 2 // (function count, function-offset-table start)
)

// StackCapacity bounds the operand stack. Pushing past it is a runtime
// error, never a reallocation.
const StackCapacity = 64

// Fixed function-table entry points every machine type provides.
const (
	FuncInit        = 0 // constant-initialization function
	FuncGetLedColor = 1 // per-pixel rendering function
)

// instanceInfo is the decoded per-instance view the interpreter works from:
// which type the instance runs and the span of globals memory it owns.
type instanceInfo struct {
	typeID      int
	globalsBase int
	globalsSize int
}

// typeInfo is the decoded per-type view: how many functions the type has and
// where its function offset table lives.
type typeInfo struct {
	funcCount     int
	funcTableBase int
}

// Program is a validated program image. It is immutable once loaded; all
// mutable run state lives in the Machine.
type Program struct {
	words []ProgramWord

	sharedGlobals int
	globalsTotal  int
	instances     []instanceInfo
	types         []typeInfo
	sharedFuncs   []int // absolute entry offsets, 0 = unset slot
}

// LoadProgram validates an image and decodes its tables. The word slice is
// retained; callers must not mutate it afterwards.
func LoadProgram(words []ProgramWord) (*Program, error) {
	if len(words) < HeaderWords {
		return nil, errKind(ErrInvalidProgram, -1, "image shorter than header (%d words)", len(words))
	}
	if words[hdrVersion] != ProgramVersion {
		return nil, errKind(ErrInvalidVersion, -1, "version %d, want %d", words[hdrVersion], ProgramVersion)
	}

	p := &Program{
		words:        words,
		globalsTotal: int(words[hdrGlobalsSize]),
	}

	instanceCount := int(words[hdrInstanceCount])
	typeCount := int(words[hdrTypeCount])
	sharedCount := int(words[hdrSharedFuncCount])
	instanceTable := int(words[hdrInstanceTable])
	typeTable := int(words[hdrTypeTable])
	sharedTable := int(words[hdrSharedTable])

	if err := p.checkTable(instanceTable, instanceCount*instanceEntryWords, "instance table"); err != nil {
		return nil, err
	}
	if err := p.checkTable(typeTable, typeCount*typeEntryWords, "type table"); err != nil {
		return nil, err
	}
	if err := p.checkTable(sharedTable, sharedCount, "shared-function table"); err != nil {
		return nil, err
	}

	p.types = make([]typeInfo, typeCount)
	for i := 0; i < typeCount; i++ {
		entry := typeTable + i*typeEntryWords
		ti := typeInfo{
			funcCount:     int(words[entry]),
			funcTableBase: int(words[entry+1]),
		}
		if err := p.checkTable(ti.funcTableBase, ti.funcCount, "function offset table"); err != nil {
			return nil, err
		}
		p.types[i] = ti
	}

	p.instances = make([]instanceInfo, instanceCount)
	for i := 0; i < instanceCount; i++ {
		entry := instanceTable + i*instanceEntryWords
		inst := instanceInfo{
			typeID:      int(words[entry]),
			globalsBase: int(words[entry+1]),
		}
		if inst.typeID >= typeCount {
			return nil, errKind(ErrInvalidProgram, -1, "instance %d references type %d of %d", i, inst.typeID, typeCount)
		}
		p.instances[i] = inst
	}

	// Globals bases are assigned as a running sum at build time: the first
	// instance's base is the shared-globals size, and each instance's size
	// is the gap up to the next base (or the total, for the last).
	p.sharedGlobals = p.globalsTotal
	if instanceCount > 0 {
		p.sharedGlobals = p.instances[0].globalsBase
	}
	for i := range p.instances {
		end := p.globalsTotal
		if i+1 < instanceCount {
			end = p.instances[i+1].globalsBase
		}
		size := end - p.instances[i].globalsBase
		if size < 0 || p.instances[i].globalsBase > p.globalsTotal {
			return nil, errKind(ErrInvalidProgram, -1, "instance %d globals span [%d,%d) outside total %d",
				i, p.instances[i].globalsBase, end, p.globalsTotal)
		}
		p.instances[i].globalsSize = size
	}
	if p.sharedGlobals > p.globalsTotal {
		return nil, errKind(ErrInvalidProgram, -1, "shared globals %d exceed total %d", p.sharedGlobals, p.globalsTotal)
	}

	p.sharedFuncs = make([]int, sharedCount)
	for i := 0; i < sharedCount; i++ {
		p.sharedFuncs[i] = int(words[sharedTable+i])
	}

	return p, nil
}

func (p *Program) checkTable(base, length int, what string) error {
	if base < 0 || length < 0 || base+length > len(p.words) {
		return errKind(ErrInvalidProgram, -1, "%s [%d,%d) outside image of %d words", what, base, base+length, len(p.words))
	}
	return nil
}

// Words returns the raw image.
func (p *Program) Words() []ProgramWord { return p.words }

// InstanceCount returns the number of machine instances in the image.
func (p *Program) InstanceCount() int { return len(p.instances) }

// TypeCount returns the number of machine types in the image.
func (p *Program) TypeCount() int { return len(p.types) }

// SharedFunctionCount returns the number of shared-function slots.
func (p *Program) SharedFunctionCount() int { return len(p.sharedFuncs) }

// GlobalsSize returns the total globals words the image requires.
func (p *Program) GlobalsSize() int { return p.globalsTotal }

// SharedGlobalsSize returns the size of the shared-globals region.
func (p *Program) SharedGlobalsSize() int { return p.sharedGlobals }

// functionEntry resolves (instance, function index) to an absolute entry
// offset.
func (p *Program) functionEntry(instance, function int) (int, error) {
	if instance < 0 || instance >= len(p.instances) {
		return 0, errKind(ErrUnknownMachine, -1, "machine %d of %d", instance, len(p.instances))
	}
	ti := p.types[p.instances[instance].typeID]
	if function < 0 || function >= ti.funcCount {
		return 0, errKind(ErrUnknownFunction, -1, "function %d of %d", function, ti.funcCount)
	}
	entry := int(p.words[ti.funcTableBase+function])
	if entry >= len(p.words) {
		return 0, errKind(ErrInvalidProgram, -1, "function %d entry %d outside image", function, entry)
	}
	return entry, nil
}

// sharedEntry resolves a shared-function index to an absolute entry offset.
func (p *Program) sharedEntry(function int) (int, error) {
	if function < 0 || function >= len(p.sharedFuncs) {
		return 0, errKind(ErrUnknownFunction, -1, "shared function %d of %d", function, len(p.sharedFuncs))
	}
	entry := p.sharedFuncs[function]
	if entry == 0 {
		return 0, errKind(ErrUnknownFunction, -1, "shared function %d never defined", function)
	}
	if entry >= len(p.words) {
		return 0, errKind(ErrInvalidProgram, -1, "shared function %d entry %d outside image", function, entry)
	}
	return entry, nil
}

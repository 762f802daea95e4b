package vm

// ---------------------------------------------------------------------------
// Builder: single-pass, capacity-checked image emitter
// ---------------------------------------------------------------------------

// maxWord is the largest value representable in a program word.
const maxWord = 0xFFFF

// Builder lays out a binary program image into a caller-supplied buffer.
// It is the lowest-level emission API: writes are append-only through a
// cursor, every write is bounds-checked, and the only backwards mutation is
// an explicit PatchWord for label fixups. Higher layers (the assembler and
// the program graph) drive it.
type Builder struct {
	buf    []ProgramWord
	cursor int

	maxInstances int
	maxTypes     int
	maxShared    int

	instanceTable int
	typeTable     int
	sharedTable   int

	// typeGlobals records each built type's private globals size so
	// AddInstance can extend the globals running sum.
	typeGlobals []int

	// started flips when the first machine or shared function is created;
	// the shared-globals size is locked from then on.
	started bool
}

// NewBuilder initializes the image header and tables in buf. The capacity
// arguments reserve table space; fewer machines, instances or shared
// functions than reserved may be built, never more. Fails with
// BuildBufferTooSmall when buf cannot hold the minimum layout.
func NewBuilder(buf []ProgramWord, maxInstances, maxTypes, maxShared int) (*Builder, error) {
	if maxInstances > maxWord || maxTypes > maxWord || maxShared > maxWord {
		return nil, buildErr(BuildTooLarge, "table capacity overflows word")
	}
	need := HeaderWords + maxInstances*instanceEntryWords + maxTypes*typeEntryWords + maxShared
	if need > len(buf) {
		return nil, buildErr(BuildBufferTooSmall, "need %d words, have %d", need, len(buf))
	}

	b := &Builder{
		buf:          buf,
		maxInstances: maxInstances,
		maxTypes:     maxTypes,
		maxShared:    maxShared,
		typeGlobals:  make([]int, 0, maxTypes),
	}
	b.instanceTable = HeaderWords
	b.typeTable = b.instanceTable + maxInstances*instanceEntryWords
	b.sharedTable = b.typeTable + maxTypes*typeEntryWords
	b.cursor = b.sharedTable + maxShared

	for i := 0; i < b.cursor; i++ {
		buf[i] = 0
	}
	buf[hdrVersion] = ProgramVersion
	buf[hdrInstanceTable] = ProgramWord(b.instanceTable)
	buf[hdrTypeTable] = ProgramWord(b.typeTable)
	buf[hdrSharedTable] = ProgramWord(b.sharedTable)
	return b, nil
}

// SetSharedGlobalsSize declares the shared-globals region size. It must be
// called before any machine or shared function is built; the size seeds the
// globals running sum that instance bases are assigned from.
func (b *Builder) SetSharedGlobalsSize(size int) error {
	if b.started {
		return buildErr(BuildOrder, "shared globals size locked once building begins")
	}
	if size < 0 || size > maxWord {
		return buildErr(BuildTooLarge, "shared globals size %d", size)
	}
	b.buf[hdrGlobalsSize] = ProgramWord(size)
	return nil
}

// Len returns the high-water word count of the image built so far.
func (b *Builder) Len() int { return b.cursor }

// Words returns the image emitted so far.
func (b *Builder) Words() []ProgramWord { return b.buf[:b.cursor] }

// InstanceCount returns the number of instances added so far.
func (b *Builder) InstanceCount() int { return int(b.buf[hdrInstanceCount]) }

// TypeCount returns the number of machine types built so far.
func (b *Builder) TypeCount() int { return int(b.buf[hdrTypeCount]) }

// NewMachine reserves a type-table slot and an instance-table slot for a
// new machine type with the given private globals size and function count,
// and returns a MachineBuilder for its functions.
func (b *Builder) NewMachine(globalsSize, functionCount int) (*MachineBuilder, error) {
	if b.TypeCount() >= b.maxTypes || b.InstanceCount() >= b.maxInstances {
		return nil, buildErr(BuildMachineCountExceeded, "capacity %d types, %d instances", b.maxTypes, b.maxInstances)
	}
	if globalsSize < 0 || globalsSize > maxWord {
		return nil, buildErr(BuildTooLarge, "globals size %d", globalsSize)
	}
	if functionCount < 0 || functionCount > maxWord {
		return nil, buildErr(BuildTooLarge, "function count %d", functionCount)
	}
	b.started = true

	typeID := b.TypeCount()
	funcTableBase := b.cursor
	if err := b.reserve(functionCount); err != nil {
		return nil, err
	}
	entry := b.typeTable + typeID*typeEntryWords
	b.buf[entry] = ProgramWord(functionCount)
	b.buf[entry+1] = ProgramWord(funcTableBase)
	b.buf[hdrTypeCount]++
	b.typeGlobals = append(b.typeGlobals, globalsSize)

	if err := b.appendInstance(typeID); err != nil {
		return nil, err
	}

	return &MachineBuilder{
		b:             b,
		typeID:        typeID,
		funcTableBase: funcTableBase,
		funcCount:     functionCount,
	}, nil
}

// AddInstance binds an additional instance to an already-built type. The
// graph linker uses this to share one type between deduplicated machines.
func (b *Builder) AddInstance(typeID int) error {
	if typeID < 0 || typeID >= b.TypeCount() {
		return buildErr(BuildMachineCountExceeded, "type %d of %d", typeID, b.TypeCount())
	}
	if b.InstanceCount() >= b.maxInstances {
		return buildErr(BuildMachineCountExceeded, "capacity %d instances", b.maxInstances)
	}
	return b.appendInstance(typeID)
}

func (b *Builder) appendInstance(typeID int) error {
	base := int(b.buf[hdrGlobalsSize])
	total := base + b.typeGlobals[typeID]
	if total > maxWord {
		return buildErr(BuildTooLarge, "globals total %d", total)
	}
	idx := b.InstanceCount()
	entry := b.instanceTable + idx*instanceEntryWords
	b.buf[entry] = ProgramWord(typeID)
	b.buf[entry+1] = ProgramWord(base)
	b.buf[hdrGlobalsSize] = ProgramWord(total)
	b.buf[hdrInstanceCount]++
	return nil
}

// NewSharedFunctionAtIndex reserves (and validates) a shared-function-table
// slot and returns a builder for its body.
func (b *Builder) NewSharedFunctionAtIndex(index int) (*SharedFunctionBuilder, error) {
	if index < 0 || index >= b.maxShared {
		return nil, buildErr(BuildFunctionCountExceeded, "shared index %d of %d", index, b.maxShared)
	}
	if b.buf[b.sharedTable+index] != 0 {
		return nil, buildErr(BuildFunctionDefined, "shared function %d", index)
	}
	b.started = true
	if int(b.buf[hdrSharedFuncCount]) <= index {
		b.buf[hdrSharedFuncCount] = ProgramWord(index + 1)
	}
	return &SharedFunctionBuilder{fn: functionBuilder{b: b, start: b.cursor}, index: index}, nil
}

// AddStatic copies a static-data block into the free region and returns
// its absolute word address for later static-load operand resolution.
func (b *Builder) AddStatic(words []ProgramWord) (ProgramWord, error) {
	start := b.cursor
	if start+len(words) > maxWord+1 {
		return 0, buildErr(BuildTooLarge, "static block at %d overflows word addressing", start)
	}
	for _, w := range words {
		if err := b.emit(w); err != nil {
			return 0, err
		}
	}
	return ProgramWord(start), nil
}

func (b *Builder) emit(w ProgramWord) error {
	if b.cursor >= len(b.buf) {
		return buildErr(BuildBufferTooSmall, "emit at %d", b.cursor)
	}
	b.buf[b.cursor] = w
	b.cursor++
	return nil
}

func (b *Builder) reserve(n int) error {
	if b.cursor+n > len(b.buf) {
		return buildErr(BuildBufferTooSmall, "reserve %d at %d", n, b.cursor)
	}
	for i := 0; i < n; i++ {
		b.buf[b.cursor+i] = 0
	}
	b.cursor += n
	return nil
}

// ---------------------------------------------------------------------------
// MachineBuilder / FunctionBuilder
// ---------------------------------------------------------------------------

// MachineBuilder appends functions to one machine type's function table.
type MachineBuilder struct {
	b             *Builder
	typeID        int
	funcTableBase int
	funcCount     int
	nextIndex     int
}

// TypeID returns the machine type this builder fills in.
func (mb *MachineBuilder) TypeID() int { return mb.typeID }

// NewFunction begins the next sequentially-indexed function.
func (mb *MachineBuilder) NewFunction() (*FunctionBuilder, error) {
	fb, err := mb.NewFunctionAtIndex(mb.nextIndex)
	if err != nil {
		return nil, err
	}
	return fb, nil
}

// NewFunctionAtIndex begins the function at an explicit function-table
// index. The slot must be unbound.
func (mb *MachineBuilder) NewFunctionAtIndex(index int) (*FunctionBuilder, error) {
	if index < 0 || index >= mb.funcCount {
		return nil, buildErr(BuildFunctionCountExceeded, "function %d of %d", index, mb.funcCount)
	}
	if mb.b.buf[mb.funcTableBase+index] != 0 {
		return nil, buildErr(BuildFunctionDefined, "function %d", index)
	}
	if index >= mb.nextIndex {
		mb.nextIndex = index + 1
	}
	return &FunctionBuilder{
		fn:    functionBuilder{b: mb.b, start: mb.b.cursor},
		mb:    mb,
		index: index,
	}, nil
}

// BindFunction points a function-table slot at an already-emitted entry
// offset. The graph linker uses this to share one body between types whose
// functions interned identically.
func (mb *MachineBuilder) BindFunction(index, entry int) error {
	if index < 0 || index >= mb.funcCount {
		return buildErr(BuildFunctionCountExceeded, "function %d of %d", index, mb.funcCount)
	}
	if mb.b.buf[mb.funcTableBase+index] != 0 {
		return buildErr(BuildFunctionDefined, "function %d", index)
	}
	if entry <= 0 || entry > maxWord {
		return buildErr(BuildTooLarge, "entry offset %d", entry)
	}
	if index >= mb.nextIndex {
		mb.nextIndex = index + 1
	}
	mb.b.buf[mb.funcTableBase+index] = ProgramWord(entry)
	return nil
}

// functionBuilder is the emission core shared by machine-local and shared
// function builders: it appends words at the builder cursor and supports
// patching within its own span.
type functionBuilder struct {
	b     *Builder
	start int
}

// Start returns the function's absolute entry offset.
func (fn *functionBuilder) Start() int { return fn.start }

// Position returns the absolute offset the next word will be emitted at.
func (fn *functionBuilder) Position() int { return fn.b.cursor }

// EmitWord appends one raw word.
func (fn *functionBuilder) EmitWord(w ProgramWord) error { return fn.b.emit(w) }

// Emit appends an opcode with no operand.
func (fn *functionBuilder) Emit(op Opcode) error { return fn.b.emit(ProgramWord(op)) }

// EmitOperand appends an opcode followed by its in-place operand.
func (fn *functionBuilder) EmitOperand(op Opcode, operand ProgramWord) error {
	if err := fn.b.emit(ProgramWord(op)); err != nil {
		return err
	}
	return fn.b.emit(operand)
}

// PatchWord rewrites a previously emitted word. The offset must fall inside
// this function's span; this is the label-fixup escape hatch, not a general
// mutation API.
func (fn *functionBuilder) PatchWord(offset int, w ProgramWord) error {
	if offset < fn.start || offset >= fn.b.cursor {
		return buildErr(BuildPatchOutOfRange, "offset %d outside [%d,%d)", offset, fn.start, fn.b.cursor)
	}
	fn.b.buf[offset] = w
	return nil
}

// FunctionBuilder emits one machine-local function body.
type FunctionBuilder struct {
	fn    functionBuilder
	mb    *MachineBuilder
	index int
}

// Start returns the function's absolute entry offset.
func (fb *FunctionBuilder) Start() int { return fb.fn.Start() }

// Position returns the absolute offset the next word will be emitted at.
func (fb *FunctionBuilder) Position() int { return fb.fn.Position() }

// Emit appends an opcode with no operand.
func (fb *FunctionBuilder) Emit(op Opcode) error { return fb.fn.Emit(op) }

// EmitOperand appends an opcode followed by its in-place operand.
func (fb *FunctionBuilder) EmitOperand(op Opcode, operand ProgramWord) error {
	return fb.fn.EmitOperand(op, operand)
}

// EmitWord appends one raw word.
func (fb *FunctionBuilder) EmitWord(w ProgramWord) error { return fb.fn.EmitWord(w) }

// PatchWord rewrites a previously emitted word inside this function.
func (fb *FunctionBuilder) PatchWord(offset int, w ProgramWord) error {
	return fb.fn.PatchWord(offset, w)
}

// Finish records the function's entry offset in the type's function table.
func (fb *FunctionBuilder) Finish() error {
	fb.mb.b.buf[fb.mb.funcTableBase+fb.index] = ProgramWord(fb.fn.start)
	return nil
}

// SharedFunctionBuilder emits one shared function body. It is structurally
// a FunctionBuilder without a machine type: global operands in its body are
// validated (by the assembler) against the shared-globals size instead of a
// machine's private size.
type SharedFunctionBuilder struct {
	fn    functionBuilder
	index int
}

// Start returns the function's absolute entry offset.
func (sb *SharedFunctionBuilder) Start() int { return sb.fn.Start() }

// Position returns the absolute offset the next word will be emitted at.
func (sb *SharedFunctionBuilder) Position() int { return sb.fn.Position() }

// Emit appends an opcode with no operand.
func (sb *SharedFunctionBuilder) Emit(op Opcode) error { return sb.fn.Emit(op) }

// EmitOperand appends an opcode followed by its in-place operand.
func (sb *SharedFunctionBuilder) EmitOperand(op Opcode, operand ProgramWord) error {
	return sb.fn.EmitOperand(op, operand)
}

// EmitWord appends one raw word.
func (sb *SharedFunctionBuilder) EmitWord(w ProgramWord) error { return sb.fn.EmitWord(w) }

// PatchWord rewrites a previously emitted word inside this function.
func (sb *SharedFunctionBuilder) PatchWord(offset int, w ProgramWord) error {
	return sb.fn.PatchWord(offset, w)
}

// Finish records the function's entry offset in the shared-function table.
func (sb *SharedFunctionBuilder) Finish() error {
	sb.fn.b.buf[sb.fn.b.sharedTable+sb.index] = ProgramWord(sb.fn.start)
	return nil
}

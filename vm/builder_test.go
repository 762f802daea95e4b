package vm

import "testing"

func TestBuilderBufferTooSmall(t *testing.T) {
	buf := make([]ProgramWord, 4)
	if _, err := NewBuilder(buf, 1, 1, 0); err == nil {
		t.Fatal("expected error for undersized buffer")
	} else if kind, ok := BuildKindOf(err); !ok || kind != BuildBufferTooSmall {
		t.Errorf("got %v, want BuildBufferTooSmall", err)
	}
}

func TestSharedGlobalsSizeLockedAfterFirstMachine(t *testing.T) {
	buf := make([]ProgramWord, 256)
	b, err := NewBuilder(buf, 1, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.NewMachine(0, 1); err != nil {
		t.Fatal(err)
	}
	err = b.SetSharedGlobalsSize(4)
	if kind, ok := BuildKindOf(err); !ok || kind != BuildOrder {
		t.Errorf("got %v, want BuildOrder", err)
	}
}

func TestFunctionSlotDoubleDefine(t *testing.T) {
	buf := make([]ProgramWord, 256)
	b, err := NewBuilder(buf, 1, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	mb, err := b.NewMachine(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	fb, err := mb.NewFunctionAtIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := fb.Emit(OpExit); err != nil {
		t.Fatal(err)
	}
	if err := fb.Finish(); err != nil {
		t.Fatal(err)
	}
	_, err = mb.NewFunctionAtIndex(0)
	if kind, ok := BuildKindOf(err); !ok || kind != BuildFunctionDefined {
		t.Errorf("got %v, want BuildFunctionDefined", err)
	}
}

func TestMachineCapacityExceeded(t *testing.T) {
	buf := make([]ProgramWord, 256)
	b, err := NewBuilder(buf, 1, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.NewMachine(0, 1); err != nil {
		t.Fatal(err)
	}
	_, err = b.NewMachine(0, 1)
	if kind, ok := BuildKindOf(err); !ok || kind != BuildMachineCountExceeded {
		t.Errorf("got %v, want BuildMachineCountExceeded", err)
	}
}

func TestInstanceGlobalsBases(t *testing.T) {
	buf := make([]ProgramWord, 256)
	b, err := NewBuilder(buf, 2, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetSharedGlobalsSize(2); err != nil {
		t.Fatal(err)
	}
	mb, err := b.NewMachine(3, 1)
	if err != nil {
		t.Fatal(err)
	}
	fb, err := mb.NewFunction()
	if err != nil {
		t.Fatal(err)
	}
	if err := fb.Emit(OpExit); err != nil {
		t.Fatal(err)
	}
	if err := fb.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := b.AddInstance(0); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProgram(b.Words())
	if err != nil {
		t.Fatal(err)
	}
	if p.SharedGlobalsSize() != 2 {
		t.Errorf("shared globals %d, want 2", p.SharedGlobalsSize())
	}
	if p.GlobalsSize() != 8 {
		t.Errorf("globals total %d, want 8", p.GlobalsSize())
	}
	if p.InstanceCount() != 2 || p.TypeCount() != 1 {
		t.Errorf("got %d instances, %d types, want 2 and 1", p.InstanceCount(), p.TypeCount())
	}
}

func TestLoadProgramRejectsWrongVersion(t *testing.T) {
	buf := make([]ProgramWord, 256)
	b, err := NewBuilder(buf, 1, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	mb, err := b.NewMachine(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	fb, err := mb.NewFunction()
	if err != nil {
		t.Fatal(err)
	}
	if err := fb.Emit(OpExit); err != nil {
		t.Fatal(err)
	}
	if err := fb.Finish(); err != nil {
		t.Fatal(err)
	}

	words := b.Words()
	words[0] = ProgramVersion + 1
	_, err = LoadProgram(words)
	if kind, ok := KindOf(err); !ok || kind != ErrInvalidVersion {
		t.Errorf("got %v, want ErrInvalidVersion", err)
	}
}

func TestLoadProgramRejectsTruncatedTables(t *testing.T) {
	words := make([]ProgramWord, HeaderWords)
	words[hdrVersion] = ProgramVersion
	words[hdrInstanceCount] = 4
	words[hdrInstanceTable] = HeaderWords
	_, err := LoadProgram(words)
	if kind, ok := KindOf(err); !ok || kind != ErrInvalidProgram {
		t.Errorf("got %v, want ErrInvalidProgram", err)
	}
}

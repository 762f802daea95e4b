package vm

import "testing"

// buildMachine builds one machine type with the given function bodies and
// returns the loaded interpreter.
func buildMachine(t *testing.T, sharedGlobals, machineGlobals int, funcs ...func(fb *FunctionBuilder)) *Machine {
	t.Helper()
	buf := make([]ProgramWord, 1024)
	b, err := NewBuilder(buf, 1, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetSharedGlobalsSize(sharedGlobals); err != nil {
		t.Fatal(err)
	}
	mb, err := b.NewMachine(machineGlobals, len(funcs))
	if err != nil {
		t.Fatal(err)
	}
	for _, body := range funcs {
		fb, err := mb.NewFunction()
		if err != nil {
			t.Fatal(err)
		}
		body(fb)
		if err := fb.Finish(); err != nil {
			t.Fatal(err)
		}
	}
	m := NewMachine()
	if err := m.Load(b.Words()); err != nil {
		t.Fatal(err)
	}
	return m
}

func emit(t *testing.T, fb *FunctionBuilder, words ...ProgramWord) {
	t.Helper()
	for _, w := range words {
		if err := fb.EmitWord(w); err != nil {
			t.Fatal(err)
		}
	}
}

func expectKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if got, ok := KindOf(err); !ok || got != kind {
		t.Errorf("got %v, want %s", err, kind)
	}
}

func TestArithmetic(t *testing.T) {
	m := buildMachine(t, 0, 0, func(fb *FunctionBuilder) {
		emit(t, fb,
			ProgramWord(OpPush), 2,
			ProgramWord(OpPush), 3,
			ProgramWord(OpAdd),
			ProgramWord(OpPush), 4,
			ProgramWord(OpMul),
			ProgramWord(OpReturn), 1)
	})
	res, err := m.Call(0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0] != 20 {
		t.Errorf("got %v, want [20]", res)
	}
}

func TestDivideByZero(t *testing.T) {
	m := buildMachine(t, 0, 0, func(fb *FunctionBuilder) {
		emit(t, fb,
			ProgramWord(OpPush), 1,
			ProgramWord(OpPush), 0,
			ProgramWord(OpDiv),
			ProgramWord(OpReturn), 1)
	})
	_, err := m.Call(0, 0, nil)
	expectKind(t, err, ErrDivideByZero)
}

func TestCallReturnSymmetry(t *testing.T) {
	// Function 1 pushes three values and returns them; function 0 calls it
	// with a value already on the stack. The caller's stack must grow by
	// exactly the returned values, frame bookkeeping removed.
	m := buildMachine(t, 0, 0,
		func(fb *FunctionBuilder) {
			emit(t, fb,
				ProgramWord(OpPush), 99,
				ProgramWord(OpPush), 0, // argc
				ProgramWord(OpPush), 1, // callee index
				ProgramWord(OpCall),
				ProgramWord(OpReturn), 4)
		},
		func(fb *FunctionBuilder) {
			emit(t, fb,
				ProgramWord(OpPush), 1,
				ProgramWord(OpPush), 2,
				ProgramWord(OpPush), 3,
				ProgramWord(OpReturn), 3)
		})
	res, err := m.Call(0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []StackWord{99, 1, 2, 3}
	if len(res) != len(want) {
		t.Fatalf("got %v, want %v", res, want)
	}
	for i := range want {
		if res[i] != want[i] {
			t.Errorf("result %d: got %d, want %d", i, res[i], want[i])
		}
	}
}

func TestExitDropsFrameHeader(t *testing.T) {
	// EXIT stops the loop with the external frame still on the stack; the
	// results must start at the arguments, not at the frame header words.
	m := buildMachine(t, 0, 0, func(fb *FunctionBuilder) {
		emit(t, fb,
			ProgramWord(OpPush), 7,
			ProgramWord(OpPush), 9,
			ProgramWord(OpExit))
	})
	res, err := m.Call(0, 0, []StackWord{5})
	if err != nil {
		t.Fatal(err)
	}
	want := []StackWord{5, 7, 9}
	if len(res) != len(want) {
		t.Fatalf("got %v, want %v", res, want)
	}
	for i := range want {
		if res[i] != want[i] {
			t.Errorf("result %d: got %d, want %d", i, res[i], want[i])
		}
	}
}

func TestCallPassesArguments(t *testing.T) {
	// Function 0 forwards two arguments to function 1, which adds them.
	m := buildMachine(t, 0, 0,
		func(fb *FunctionBuilder) {
			emit(t, fb,
				ProgramWord(OpStackLoad), 0,
				ProgramWord(OpStackLoad), 1,
				ProgramWord(OpPush), 2, // argc
				ProgramWord(OpPush), 1,
				ProgramWord(OpCall),
				ProgramWord(OpReturn), 1)
		},
		func(fb *FunctionBuilder) {
			emit(t, fb,
				ProgramWord(OpStackLoad), 0,
				ProgramWord(OpStackLoad), 1,
				ProgramWord(OpAdd),
				ProgramWord(OpReturn), 1)
		})
	res, err := m.Call(0, 0, []StackWord{30, 12})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0] != 42 {
		t.Errorf("got %v, want [42]", res)
	}
}

func TestBranchTaken(t *testing.T) {
	m := buildMachine(t, 0, 0, func(fb *FunctionBuilder) {
		emit(t, fb,
			ProgramWord(OpPush), 1,
			ProgramWord(OpPush), 2)
		patchAt := fb.Position() + 1
		emit(t, fb,
			ProgramWord(OpPush), 0,
			ProgramWord(OpBranchLt),
			ProgramWord(OpPush), 0,
			ProgramWord(OpReturn), 1)
		target := fb.Position()
		emit(t, fb,
			ProgramWord(OpPush), 42,
			ProgramWord(OpReturn), 1)
		if err := fb.PatchWord(patchAt, ProgramWord(target)); err != nil {
			t.Fatal(err)
		}
	})
	res, err := m.Call(0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0] != 42 {
		t.Errorf("got %v, want [42]", res)
	}
}

func TestBranchFallsThrough(t *testing.T) {
	m := buildMachine(t, 0, 0, func(fb *FunctionBuilder) {
		emit(t, fb,
			ProgramWord(OpPush), 5,
			ProgramWord(OpPush), 2)
		patchAt := fb.Position() + 1
		emit(t, fb,
			ProgramWord(OpPush), 0,
			ProgramWord(OpBranchLt),
			ProgramWord(OpPush), 7,
			ProgramWord(OpReturn), 1)
		target := fb.Position()
		emit(t, fb,
			ProgramWord(OpPush), 42,
			ProgramWord(OpReturn), 1)
		if err := fb.PatchWord(patchAt, ProgramWord(target)); err != nil {
			t.Fatal(err)
		}
	})
	res, err := m.Call(0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0] != 7 {
		t.Errorf("got %v, want [7]", res)
	}
}

func TestGlobalsAcrossCalls(t *testing.T) {
	m := buildMachine(t, 1, 2,
		func(fb *FunctionBuilder) {
			emit(t, fb,
				ProgramWord(OpPush), 7,
				ProgramWord(OpLocalStore), 0,
				ProgramWord(OpPush), 9,
				ProgramWord(OpGlobalStore), 0,
				ProgramWord(OpReturn), 0)
		},
		func(fb *FunctionBuilder) {
			emit(t, fb,
				ProgramWord(OpLocalLoad), 0,
				ProgramWord(OpGlobalLoad), 0,
				ProgramWord(OpAdd),
				ProgramWord(OpReturn), 1)
		})
	if err := m.Reset(); err != nil {
		t.Fatal(err)
	}
	res, err := m.Call(0, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0] != 16 {
		t.Errorf("got %v, want [16]", res)
	}
}

func TestLocalOutOfRange(t *testing.T) {
	m := buildMachine(t, 0, 2, func(fb *FunctionBuilder) {
		emit(t, fb,
			ProgramWord(OpLocalLoad), 5,
			ProgramWord(OpReturn), 1)
	})
	_, err := m.Call(0, 0, nil)
	expectKind(t, err, ErrGlobalOutOfRange)
}

func TestStackOverflow(t *testing.T) {
	m := buildMachine(t, 0, 0, func(fb *FunctionBuilder) {
		start := fb.Start()
		emit(t, fb,
			ProgramWord(OpPush), 1,
			ProgramWord(OpPush), ProgramWord(start),
			ProgramWord(OpJump))
	})
	_, err := m.Call(0, 0, nil)
	expectKind(t, err, ErrStackOverflow)
}

func TestStackUnderflow(t *testing.T) {
	// The external frame header is two words deep; a third pop runs dry.
	m := buildMachine(t, 0, 0, func(fb *FunctionBuilder) {
		emit(t, fb,
			ProgramWord(OpPop),
			ProgramWord(OpPop),
			ProgramWord(OpPop),
			ProgramWord(OpReturn), 0)
	})
	_, err := m.Call(0, 0, nil)
	expectKind(t, err, ErrStackUnderflow)
}

func TestInvalidOpcode(t *testing.T) {
	m := buildMachine(t, 0, 0, func(fb *FunctionBuilder) {
		emit(t, fb, ProgramWord(OpcodeCount))
	})
	_, err := m.Call(0, 0, nil)
	expectKind(t, err, ErrInvalidOpcode)
}

func TestUnknownMachineAndFunction(t *testing.T) {
	m := buildMachine(t, 0, 0, func(fb *FunctionBuilder) {
		emit(t, fb, ProgramWord(OpReturn), 0)
	})
	_, err := m.Call(3, 0, nil)
	expectKind(t, err, ErrUnknownMachine)
	_, err = m.Call(0, 5, nil)
	expectKind(t, err, ErrUnknownFunction)
}

func TestLogicalNormalization(t *testing.T) {
	m := buildMachine(t, 0, 0, func(fb *FunctionBuilder) {
		emit(t, fb,
			ProgramWord(OpPush), 7,
			ProgramWord(OpPush), 3,
			ProgramWord(OpAnd),
			ProgramWord(OpReturn), 1)
	})
	res, err := m.Call(0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0] != 1 {
		t.Errorf("got %v, want [1]", res)
	}
}

func TestGetLedColor(t *testing.T) {
	m := buildMachine(t, 0, 0,
		func(fb *FunctionBuilder) {
			emit(t, fb, ProgramWord(OpReturn), 0)
		},
		func(fb *FunctionBuilder) {
			// Returns (10, 20, led): frame slot 0 is the LED index.
			emit(t, fb,
				ProgramWord(OpPush), 10,
				ProgramWord(OpPush), 20,
				ProgramWord(OpStackLoad), 0,
				ProgramWord(OpReturn), 3)
		})
	got, err := m.GetLedColor(0, 5, 0, Color{})
	if err != nil {
		t.Fatal(err)
	}
	if (got != Color{R: 10, G: 20, B: 5}) {
		t.Errorf("got %+v, want {10 20 5}", got)
	}
}

func TestGetLedColorSeedPassthrough(t *testing.T) {
	// Returning zero values leaves the seed triple as the result, which is
	// how a layered machine passes the previous layer through.
	m := buildMachine(t, 0, 0,
		func(fb *FunctionBuilder) {
			emit(t, fb, ProgramWord(OpReturn), 0)
		},
		func(fb *FunctionBuilder) {
			emit(t, fb, ProgramWord(OpReturn), 0)
		})
	got, err := m.GetLedColor(0, 0, 0, Color{R: 1, G: 2, B: 3})
	if err != nil {
		t.Fatal(err)
	}
	if (got != Color{R: 1, G: 2, B: 3}) {
		t.Errorf("got %+v, want seed {1 2 3}", got)
	}
}

func TestGetLedColorByteRange(t *testing.T) {
	m := buildMachine(t, 0, 0,
		func(fb *FunctionBuilder) {
			emit(t, fb, ProgramWord(OpReturn), 0)
		},
		func(fb *FunctionBuilder) {
			emit(t, fb,
				ProgramWord(OpPush), 300,
				ProgramWord(OpPush), 0,
				ProgramWord(OpPush), 0,
				ProgramWord(OpReturn), 3)
		})
	_, err := m.GetLedColor(0, 0, 0, Color{})
	expectKind(t, err, ErrColorOutOfRange)
}

func TestSharedInitializerRunsOnReset(t *testing.T) {
	buf := make([]ProgramWord, 1024)
	b, err := NewBuilder(buf, 1, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetSharedGlobalsSize(1); err != nil {
		t.Fatal(err)
	}
	sb, err := b.NewSharedFunctionAtIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range []ProgramWord{ProgramWord(OpPush), 5, ProgramWord(OpGlobalStore), 0, ProgramWord(OpReturn), 0} {
		if err := sb.EmitWord(w); err != nil {
			t.Fatal(err)
		}
	}
	if err := sb.Finish(); err != nil {
		t.Fatal(err)
	}
	mb, err := b.NewMachine(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, body := range [][]ProgramWord{
		{ProgramWord(OpReturn), 0},
		{ProgramWord(OpGlobalLoad), 0, ProgramWord(OpReturn), 1},
	} {
		fb, err := mb.NewFunction()
		if err != nil {
			t.Fatal(err)
		}
		for _, w := range body {
			if err := fb.EmitWord(w); err != nil {
				t.Fatal(err)
			}
		}
		if err := fb.Finish(); err != nil {
			t.Fatal(err)
		}
	}

	m := NewMachine()
	if err := m.Load(b.Words()); err != nil {
		t.Fatal(err)
	}
	if err := m.Reset(); err != nil {
		t.Fatal(err)
	}
	res, err := m.Call(0, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0] != 5 {
		t.Errorf("got %v, want [5]", res)
	}
}

func TestInstancesHaveSeparateLocals(t *testing.T) {
	buf := make([]ProgramWord, 1024)
	b, err := NewBuilder(buf, 2, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	mb, err := b.NewMachine(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	bodies := [][]ProgramWord{
		{ProgramWord(OpReturn), 0},
		{ProgramWord(OpStackLoad), 0, ProgramWord(OpLocalStore), 0, ProgramWord(OpReturn), 0},
		{ProgramWord(OpLocalLoad), 0, ProgramWord(OpReturn), 1},
	}
	for _, body := range bodies {
		fb, err := mb.NewFunction()
		if err != nil {
			t.Fatal(err)
		}
		for _, w := range body {
			if err := fb.EmitWord(w); err != nil {
				t.Fatal(err)
			}
		}
		if err := fb.Finish(); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.AddInstance(0); err != nil {
		t.Fatal(err)
	}

	m := NewMachine()
	if err := m.Load(b.Words()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Call(0, 1, []StackWord{5}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Call(1, 1, []StackWord{9}); err != nil {
		t.Fatal(err)
	}
	res, err := m.Call(0, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0] != 5 {
		t.Errorf("instance 0 local: got %v, want [5]", res)
	}
	res, err = m.Call(1, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0] != 9 {
		t.Errorf("instance 1 local: got %v, want [9]", res)
	}
}

func TestSharedCallHasNoMachineContext(t *testing.T) {
	buf := make([]ProgramWord, 1024)
	b, err := NewBuilder(buf, 1, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	sb, err := b.NewSharedFunctionAtIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range []ProgramWord{ProgramWord(OpLocalLoad), 0, ProgramWord(OpReturn), 1} {
		if err := sb.EmitWord(w); err != nil {
			t.Fatal(err)
		}
	}
	if err := sb.Finish(); err != nil {
		t.Fatal(err)
	}
	mb, err := b.NewMachine(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	fb, err := mb.NewFunction()
	if err != nil {
		t.Fatal(err)
	}
	if err := fb.EmitWord(ProgramWord(OpReturn)); err != nil {
		t.Fatal(err)
	}
	if err := fb.EmitWord(0); err != nil {
		t.Fatal(err)
	}
	if err := fb.Finish(); err != nil {
		t.Fatal(err)
	}

	m := NewMachine()
	if err := m.Load(b.Words()); err != nil {
		t.Fatal(err)
	}
	_, err = m.CallShared(0, nil)
	expectKind(t, err, ErrGlobalOutOfRange)
}

func TestUndefinedSharedSlot(t *testing.T) {
	buf := make([]ProgramWord, 1024)
	b, err := NewBuilder(buf, 1, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	sb, err := b.NewSharedFunctionAtIndex(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := sb.EmitWord(ProgramWord(OpReturn)); err != nil {
		t.Fatal(err)
	}
	if err := sb.EmitWord(0); err != nil {
		t.Fatal(err)
	}
	if err := sb.Finish(); err != nil {
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
	if err := fb.EmitWord(ProgramWord(OpReturn)); err != nil {
		t.Fatal(err)
	}
	if err := fb.EmitWord(0); err != nil {
		t.Fatal(err)
	}
	if err := fb.Finish(); err != nil {
		t.Fatal(err)
	}

	m := NewMachine()
	if err := m.Load(b.Words()); err != nil {
		t.Fatal(err)
	}
	// Slot 0 was reserved but never defined.
	_, err = m.CallShared(0, nil)
	expectKind(t, err, ErrUnknownFunction)
}

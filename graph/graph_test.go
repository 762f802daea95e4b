package graph

import (
	"testing"

	"github.com/chazu/lumen/vm"
)

func op(o vm.Opcode) WordRef { return Literal(vm.ProgramWord(o)) }

func run(t *testing.T, p *Program, machine, function int, args []vm.StackWord) []vm.StackWord {
	t.Helper()
	words, err := p.Emit()
	if err != nil {
		t.Fatal(err)
	}
	m := vm.NewMachine()
	if err := m.Load(words); err != nil {
		t.Fatal(err)
	}
	res, err := m.Call(machine, function, args)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func defineMachine(t *testing.T, p *Program, name string, globals int, bodies ...[]WordRef) {
	t.Helper()
	if err := p.BeginMachine(name, globals, len(bodies)); err != nil {
		t.Fatal(err)
	}
	for i, body := range bodies {
		if err := p.DefineFunction(i, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.EndMachine(); err != nil {
		t.Fatal(err)
	}
}

func TestIdenticalMachinesInternToOneType(t *testing.T) {
	p := New()
	body := []WordRef{
		op(vm.OpPush), Literal(7),
		op(vm.OpReturn), Literal(1),
	}
	defineMachine(t, p, "alpha", 0, body)
	defineMachine(t, p, "beta", 0, body)

	if p.InstanceCount() != 2 {
		t.Errorf("instances %d, want 2", p.InstanceCount())
	}
	if p.TypeCount() != 1 {
		t.Errorf("types %d, want 1", p.TypeCount())
	}
	if res := run(t, p, 1, 0, nil); len(res) != 1 || res[0] != 7 {
		t.Errorf("second instance got %v, want [7]", res)
	}
}

func TestDistinctMachinesKeepSeparateTypes(t *testing.T) {
	p := New()
	defineMachine(t, p, "alpha", 0, []WordRef{
		op(vm.OpPush), Literal(1),
		op(vm.OpReturn), Literal(1),
	})
	defineMachine(t, p, "beta", 0, []WordRef{
		op(vm.OpPush), Literal(2),
		op(vm.OpReturn), Literal(1),
	})
	if p.TypeCount() != 2 {
		t.Errorf("types %d, want 2", p.TypeCount())
	}
}

func TestGlobalsSizeDistinguishesTypes(t *testing.T) {
	p := New()
	body := []WordRef{op(vm.OpReturn), Literal(0)}
	defineMachine(t, p, "alpha", 1, body)
	defineMachine(t, p, "beta", 2, body)
	if p.TypeCount() != 2 {
		t.Errorf("types %d, want 2", p.TypeCount())
	}
}

func TestSharedBodyAcrossDistinctTypes(t *testing.T) {
	// The two types differ in one function but share the other, so the
	// linker emits the shared body once and binds both tables to it.
	p := New()
	shared := []WordRef{
		op(vm.OpPush), Literal(40),
		op(vm.OpPush), Literal(2),
		op(vm.OpAdd),
		op(vm.OpReturn), Literal(1),
	}
	defineMachine(t, p, "alpha", 0,
		[]WordRef{op(vm.OpReturn), Literal(0)},
		shared)
	defineMachine(t, p, "beta", 0,
		[]WordRef{op(vm.OpPush), Literal(9), op(vm.OpReturn), Literal(1)},
		shared)

	if p.TypeCount() != 2 {
		t.Fatalf("types %d, want 2", p.TypeCount())
	}
	if res := run(t, p, 0, 1, nil); len(res) != 1 || res[0] != 42 {
		t.Errorf("alpha shared body got %v, want [42]", res)
	}
	if res := run(t, p, 1, 1, nil); len(res) != 1 || res[0] != 42 {
		t.Errorf("beta shared body got %v, want [42]", res)
	}
}

func TestStaticInterning(t *testing.T) {
	p := New()
	a, err := p.AddStatic([]vm.ProgramWord{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.AddSharedStatic([]vm.ProgramWord{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("identical blocks interned to %d and %d", a, b)
	}
	c, err := p.AddStatic([]vm.ProgramWord{1, 2, 4})
	if err != nil {
		t.Fatal(err)
	}
	if c == a {
		t.Error("distinct block shares an id with an earlier one")
	}
}

func TestStaticAddressing(t *testing.T) {
	p := New()
	id, err := p.AddStatic([]vm.ProgramWord{111, 222})
	if err != nil {
		t.Fatal(err)
	}
	defineMachine(t, p, "reader", 0, []WordRef{
		op(vm.OpPush), StaticRef(id, 1),
		op(vm.OpLoadStatic),
		op(vm.OpReturn), Literal(1),
	})
	if res := run(t, p, 0, 0, nil); len(res) != 1 || res[0] != 222 {
		t.Errorf("got %v, want [222]", res)
	}
}

func TestLabelResolution(t *testing.T) {
	// Function-relative label offset 9 lands on the PUSH 42 tail no matter
	// where the linker places the body.
	p := New()
	defineMachine(t, p, "jumper", 0, []WordRef{
		op(vm.OpPush), Literal(1),
		op(vm.OpPush), Literal(2),
		op(vm.OpPush), LabelRef(9),
		op(vm.OpBranchLt),
		op(vm.OpReturn), Literal(0),
		op(vm.OpPush), Literal(42), // offset 9
		op(vm.OpReturn), Literal(1),
	})
	if res := run(t, p, 0, 0, nil); len(res) != 1 || res[0] != 42 {
		t.Errorf("got %v, want [42]", res)
	}
}

func TestSharedFunctionEmission(t *testing.T) {
	p := New()
	if err := p.SetSharedGlobalsSize(1); err != nil {
		t.Fatal(err)
	}
	if err := p.DefineSharedFunction(0, []WordRef{
		op(vm.OpPush), Literal(5),
		op(vm.OpGlobalStore), Literal(0),
		op(vm.OpReturn), Literal(0),
	}); err != nil {
		t.Fatal(err)
	}
	defineMachine(t, p, "probe",
		0,
		[]WordRef{op(vm.OpReturn), Literal(0)},
		[]WordRef{op(vm.OpGlobalLoad), Literal(0), op(vm.OpReturn), Literal(1)})

	words, err := p.Emit()
	if err != nil {
		t.Fatal(err)
	}
	m := vm.NewMachine()
	if err := m.Load(words); err != nil {
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

func TestEndMachineRequiresAllFunctions(t *testing.T) {
	p := New()
	if err := p.BeginMachine("partial", 0, 2); err != nil {
		t.Fatal(err)
	}
	if err := p.DefineFunction(0, []WordRef{op(vm.OpReturn), Literal(0)}); err != nil {
		t.Fatal(err)
	}
	if err := p.EndMachine(); err == nil {
		t.Fatal("expected error for undefined function")
	}
}

func TestEmitRejectsOpenMachine(t *testing.T) {
	p := New()
	if err := p.BeginMachine("open", 0, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Emit(); err == nil {
		t.Fatal("expected error while a machine is open")
	}
}

func TestSharedGlobalsSizeLocks(t *testing.T) {
	p := New()
	defineMachine(t, p, "first", 0, []WordRef{op(vm.OpReturn), Literal(0)})
	if err := p.SetSharedGlobalsSize(2); err == nil {
		t.Fatal("expected error once building began")
	}
}

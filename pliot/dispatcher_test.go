package pliot

import (
	"bytes"
	"testing"

	"github.com/chazu/lumen/asm"
	"github.com/chazu/lumen/storage"
	"github.com/chazu/lumen/vm"
)

const dispatchSource = `
.shared_func double index 1
  SLOAD 0
  PUSH 2
  MUL
  RET 1
.end
.machine adder globals 0 functions 3
.func init
  RET 0
.end
.func color
  PUSH 0
  PUSH 0
  PUSH 0
  RET 3
.end
.func sum
  SLOAD 0
  SLOAD 1
  ADD
  RET 1
.end
.end
`

const replacementSource = `
.machine probe globals 0 functions 2
.func init
  RET 0
.end
.func answer
  PUSH 7
  RET 1
.end
.end
`

func assembleWords(t *testing.T, src string) []vm.ProgramWord {
	t.Helper()
	g, err := asm.AssembleProgram(src)
	if err != nil {
		t.Fatal(err)
	}
	words, err := g.Emit()
	if err != nil {
		t.Fatal(err)
	}
	return words
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *storage.Store) {
	t.Helper()
	return newDispatcherWith(t, dispatchSource)
}

func newDispatcherWith(t *testing.T, src string) (*Dispatcher, *storage.Store) {
	t.Helper()
	dev := storage.NewMemoryDevice(8192, 4, 512)
	store, err := storage.NewStore(dev)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Format(); err != nil {
		t.Fatal(err)
	}
	m := vm.NewMachine()
	if err := m.Load(assembleWords(t, src)); err != nil {
		t.Fatal(err)
	}
	if err := m.Reset(); err != nil {
		t.Fatal(err)
	}
	return NewDispatcher(m, store), store
}

func expectError(t *testing.T, reply *Message, id uint32, et ErrorType) {
	t.Helper()
	if reply == nil || reply.Kind != KindError || reply.Error == nil {
		t.Fatalf("got %+v, want Error reply", reply)
	}
	if reply.Id != id {
		t.Errorf("reply id %d, want %d", reply.Id, id)
	}
	if reply.Error.Type != et {
		t.Errorf("error type %s, want %s", reply.Error.Type, et)
	}
}

func TestCallReturnsResults(t *testing.T) {
	d, _ := newTestDispatcher(t)
	reply := d.Handle(&Message{Kind: KindCall, Id: 5, Machine: 0, Function: 2, Args: []int32{19, 23}})
	if reply == nil || reply.Kind != KindReturn {
		t.Fatalf("got %+v, want Return", reply)
	}
	if reply.Id != 5 {
		t.Errorf("id %d, want 5", reply.Id)
	}
	if len(reply.Results) != 1 || reply.Results[0] != 42 {
		t.Errorf("results %v, want [42]", reply.Results)
	}
}

func TestCallUnknownTargets(t *testing.T) {
	d, _ := newTestDispatcher(t)
	expectError(t, d.Handle(&Message{Kind: KindCall, Id: 1, Machine: 9, Function: 0}), 1, ErrTypeUnknownMachine)
	expectError(t, d.Handle(&Message{Kind: KindCall, Id: 2, Machine: 0, Function: 9}), 2, ErrTypeUnknownFunction)
}

func TestCallStaticFunction(t *testing.T) {
	d, _ := newTestDispatcher(t)
	reply := d.Handle(&Message{Kind: KindCallStaticFunction, Id: 3, Function: 1, Args: []int32{21}})
	if reply == nil || reply.Kind != KindStaticFunctionResult {
		t.Fatalf("got %+v, want StaticFunctionResult", reply)
	}
	if len(reply.Results) != 1 || reply.Results[0] != 42 {
		t.Errorf("results %v, want [42]", reply.Results)
	}
}

func TestOutboundKindsRejected(t *testing.T) {
	d, _ := newTestDispatcher(t)
	for _, kind := range []Kind{KindReturn, KindError, KindI2cDevices, KindStaticFunctionResult, Kind(99)} {
		expectError(t, d.Handle(&Message{Kind: kind, Id: 4}), 4, ErrTypeUnexpectedMessageType)
	}
}

func TestNotificationProducesNoReply(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if reply := d.Handle(&Message{Kind: KindNotification, Machine: 0, Function: 2}); reply != nil {
		t.Errorf("got %+v, want no reply", reply)
	}
}

const notifySource = `
.shared hits 0
.machine bumper globals 0 functions 3
.func init
  RET 0
.end
.func bump
  GLOAD hits
  PUSH 1
  ADD
  GSTORE hits
  RET 0
.end
.func hits_seen
  GLOAD hits
  RET 1
.end
.end
`

func TestNotificationInvokesFunction(t *testing.T) {
	d, _ := newDispatcherWith(t, notifySource)

	if reply := d.Handle(&Message{Kind: KindNotification, Machine: 0, Function: 1}); reply != nil {
		t.Fatalf("notification replied %+v", reply)
	}
	// A failing notification is just as silent.
	if reply := d.Handle(&Message{Kind: KindNotification, Machine: 9, Function: 1}); reply != nil {
		t.Errorf("failed notification replied %+v", reply)
	}

	reply := d.Handle(&Message{Kind: KindCall, Id: 4, Machine: 0, Function: 2})
	if reply == nil || reply.Kind != KindReturn || len(reply.Results) != 1 || reply.Results[0] != 1 {
		t.Fatalf("got %+v, want [1]", reply)
	}
}

func TestProgramBlockWithoutSession(t *testing.T) {
	d, _ := newTestDispatcher(t)
	expectError(t, d.Handle(&Message{Kind: KindProgramBlock, Id: 1, Block: 0}), 1, ErrTypeUnexpectedMessageType)
	expectError(t, d.Handle(&Message{Kind: KindFinishProgram, Id: 1}), 1, ErrTypeUnexpectedMessageType)
}

func TestLoadProgramFlow(t *testing.T) {
	d, store := newTestDispatcher(t)
	words := assembleWords(t, replacementSource)

	reply := d.Handle(&Message{Kind: KindLoadProgram, Id: 9, ProgramWords: uint32(len(words))})
	if reply != nil {
		t.Fatalf("LoadProgram replied %+v", reply)
	}

	block := uint32(0)
	for off := 0; off < len(words); off += ProgramBlockWords {
		end := off + ProgramBlockWords
		if end > len(words) {
			end = len(words)
		}
		chunk := make([]uint16, end-off)
		for i, w := range words[off:end] {
			chunk[i] = uint16(w)
		}
		reply = d.Handle(&Message{Kind: KindProgramBlock, Id: 9, Block: block, Words: chunk})
		if reply != nil {
			t.Fatalf("block %d replied %+v", block, reply)
		}
		block++
	}

	// A continuation with the wrong request id is rejected without
	// disturbing the session.
	expectError(t, d.Handle(&Message{Kind: KindFinishProgram, Id: 8}), 8, ErrTypeUnexpectedMessageType)

	reply = d.Handle(&Message{Kind: KindFinishProgram, Id: 9})
	if reply == nil || reply.Kind != KindReturn || reply.Id != 9 {
		t.Fatalf("got %+v, want Return id 9", reply)
	}
	if store.ActiveSlot() != 1 {
		t.Errorf("active slot %d, want 1", store.ActiveSlot())
	}

	call := d.Handle(&Message{Kind: KindCall, Id: 10, Machine: 0, Function: 1})
	if call == nil || call.Kind != KindReturn || len(call.Results) != 1 || call.Results[0] != 7 {
		t.Fatalf("call on new program got %+v, want [7]", call)
	}
}

func TestLoadProgramTooLarge(t *testing.T) {
	d, store := newTestDispatcher(t)
	huge := uint32(store.SlotSize())
	expectError(t, d.Handle(&Message{Kind: KindLoadProgram, Id: 2, ProgramWords: huge}), 2, ErrTypeStorage)
}

func TestReadUiState(t *testing.T) {
	d, store := newTestDispatcher(t)
	words := assembleWords(t, replacementSource)
	ui := []byte("brightness=200")

	l, err := store.GetProgramLoader(len(words), len(ui))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.AddBlock(0, words); err != nil {
		t.Fatal(err)
	}
	if err := l.AddUiBlock(0, ui); err != nil {
		t.Fatal(err)
	}
	if err := l.FinishLoad(); err != nil {
		t.Fatal(err)
	}

	reply := d.Handle(&Message{Kind: KindReadUiState, Id: 6, Offset: 0})
	if reply == nil || reply.Kind != KindUiStateBlock {
		t.Fatalf("got %+v, want UiStateBlock", reply)
	}
	if !bytes.Equal(reply.Data, ui) {
		t.Errorf("data %q, want %q", reply.Data, ui)
	}

	reply = d.Handle(&Message{Kind: KindReadUiState, Id: 7, Offset: 11})
	if reply == nil || !bytes.Equal(reply.Data, ui[11:]) {
		t.Errorf("tail read got %+v", reply)
	}
}

func TestGetI2cDevicesPagination(t *testing.T) {
	d, _ := newTestDispatcher(t)
	addrs := make([]byte, 10)
	for i := range addrs {
		addrs[i] = byte(0x20 + i)
	}
	d.SetI2cDevices(addrs)

	page0 := d.Handle(&Message{Kind: KindGetI2cDevices, Id: 1, Page: 0})
	if page0 == nil || page0.Kind != KindI2cDevices {
		t.Fatalf("got %+v, want I2cDevices", page0)
	}
	if len(page0.Devices) != I2cDevicesPerPage || !page0.More {
		t.Errorf("page 0: %d devices more=%v", len(page0.Devices), page0.More)
	}
	page1 := d.Handle(&Message{Kind: KindGetI2cDevices, Id: 2, Page: 1})
	if len(page1.Devices) != 2 || page1.More {
		t.Errorf("page 1: %d devices more=%v", len(page1.Devices), page1.More)
	}
	if !bytes.Equal(page1.Devices, addrs[8:]) {
		t.Errorf("page 1 devices %v, want %v", page1.Devices, addrs[8:])
	}
	page5 := d.Handle(&Message{Kind: KindGetI2cDevices, Id: 3, Page: 5})
	if len(page5.Devices) != 0 || page5.More {
		t.Errorf("past-the-end page: %d devices more=%v", len(page5.Devices), page5.More)
	}
}

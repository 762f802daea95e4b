package pliot

import (
	"github.com/chazu/lumen/storage"
	"github.com/chazu/lumen/vm"
)

// Dispatcher turns decoded messages into VM and storage side effects and
// produces the replies each message kind requires. It owns the single
// in-flight program-load session. The dispatcher itself is not locked;
// the host serializes access alongside rendering.
type Dispatcher struct {
	machine *vm.Machine
	store   *storage.Store

	loader *storage.Loader
	loadID uint32

	i2cDevices []byte
}

// NewDispatcher wires a dispatcher to the machine and store it drives.
func NewDispatcher(machine *vm.Machine, store *storage.Store) *Dispatcher {
	return &Dispatcher{machine: machine, store: store}
}

// SetI2cDevices installs the latest bus-scan result served by
// GetI2cDevices. The polling loop is an external collaborator.
func (d *Dispatcher) SetI2cDevices(addrs []byte) {
	d.i2cDevices = append([]byte(nil), addrs...)
}

// Handle processes one inbound message and returns the reply, or nil when
// the kind produces none. Continuation messages of a program load reply
// only on error.
func (d *Dispatcher) Handle(m *Message) *Message {
	switch m.Kind {
	case KindCall:
		return d.handleCall(m)
	case KindCallStaticFunction:
		return d.handleCallStatic(m)
	case KindNotification:
		return d.handleNotification(m)
	case KindLoadProgram:
		return d.handleLoadProgram(m)
	case KindProgramBlock:
		return d.handleProgramBlock(m)
	case KindUiStateBlock:
		return d.handleUiStateBlock(m)
	case KindFinishProgram:
		return d.handleFinishProgram(m)
	case KindReadUiState:
		return d.handleReadUiState(m)
	case KindGetI2cDevices:
		return d.handleGetI2cDevices(m)
	}
	// Outbound-only and unknown kinds get an explicit error so
	// request/response symmetry survives future UI-initiated RPCs.
	return errorReply(m.Id, ErrTypeUnexpectedMessageType, m.Kind.String())
}

func errorReply(id uint32, t ErrorType, detail string) *Message {
	return &Message{Kind: KindError, Id: id, Error: &ErrorInfo{Type: t, Detail: detail}}
}

// classify maps an internal failure onto the wire error taxonomy: VM
// lookup errors keep their identity, every other VM error means the
// program is invalid, storage errors surface as storage errors.
func classify(err error) *ErrorInfo {
	if kind, ok := vm.KindOf(err); ok {
		switch kind {
		case vm.ErrUnknownMachine:
			return &ErrorInfo{Type: ErrTypeUnknownMachine, Detail: err.Error()}
		case vm.ErrUnknownFunction:
			return &ErrorInfo{Type: ErrTypeUnknownFunction, Detail: err.Error()}
		}
		return &ErrorInfo{Type: ErrTypeInvalidProgram, Detail: err.Error()}
	}
	if _, ok := storage.KindOf(err); ok {
		return &ErrorInfo{Type: ErrTypeStorage, Detail: err.Error()}
	}
	return &ErrorInfo{Type: ErrTypeInvalidMessage, Detail: err.Error()}
}

func toStackWords(args []int32) []vm.StackWord {
	out := make([]vm.StackWord, len(args))
	for i, a := range args {
		out[i] = vm.StackWord(a)
	}
	return out
}

func fromStackWords(results []vm.StackWord) []int32 {
	out := make([]int32, len(results))
	for i, r := range results {
		out[i] = int32(r)
	}
	return out
}

func (d *Dispatcher) handleCall(m *Message) *Message {
	results, err := d.machine.Call(int(m.Machine), int(m.Function), toStackWords(m.Args))
	if err != nil {
		return &Message{Kind: KindError, Id: m.Id, Error: classify(err)}
	}
	if len(results) > MaxResults {
		return errorReply(m.Id, ErrTypeResultTooLarge, "")
	}
	return &Message{Kind: KindReturn, Id: m.Id, Results: fromStackWords(results)}
}

// handleNotification invokes the named function and discards the outcome.
// Notifications are fire and forget; failures have no reply channel.
func (d *Dispatcher) handleNotification(m *Message) *Message {
	_, _ = d.machine.Call(int(m.Machine), int(m.Function), toStackWords(m.Args))
	return nil
}

// handleCallStatic always replies, with a result or a classified error.
func (d *Dispatcher) handleCallStatic(m *Message) *Message {
	results, err := d.machine.CallShared(int(m.Function), toStackWords(m.Args))
	if err != nil {
		return &Message{Kind: KindError, Id: m.Id, Error: classify(err)}
	}
	if len(results) > MaxResults {
		return errorReply(m.Id, ErrTypeResultTooLarge, "")
	}
	return &Message{Kind: KindStaticFunctionResult, Id: m.Id, Results: fromStackWords(results)}
}

// handleLoadProgram opens a load session. A LoadProgram while another load
// is in flight abandons the old session; the half-written slot is inert
// until some later commit.
func (d *Dispatcher) handleLoadProgram(m *Message) *Message {
	loader, err := d.store.GetProgramLoader(int(m.ProgramWords), int(m.UiStateBytes))
	if err != nil {
		d.loader = nil
		return &Message{Kind: KindError, Id: m.Id, Error: classify(err)}
	}
	d.loader = loader
	d.loadID = m.Id
	return nil
}

// continueLoad checks that a continuation message belongs to the open load
// session. A mismatched or absent request id is answered with
// UnexpectedMessageType rather than silently dropped.
func (d *Dispatcher) continueLoad(m *Message) *Message {
	if d.loader == nil {
		return errorReply(m.Id, ErrTypeUnexpectedMessageType, "no load in flight")
	}
	if m.Id != d.loadID {
		return errorReply(m.Id, ErrTypeUnexpectedMessageType, "request id mismatch")
	}
	return nil
}

func (d *Dispatcher) handleProgramBlock(m *Message) *Message {
	if reply := d.continueLoad(m); reply != nil {
		return reply
	}
	words := make([]vm.ProgramWord, len(m.Words))
	for i, w := range m.Words {
		words[i] = vm.ProgramWord(w)
	}
	if err := d.loader.AddBlock(int(m.Block), words); err != nil {
		return &Message{Kind: KindError, Id: m.Id, Error: classify(err)}
	}
	return nil
}

func (d *Dispatcher) handleUiStateBlock(m *Message) *Message {
	if reply := d.continueLoad(m); reply != nil {
		return reply
	}
	if err := d.loader.AddUiBlock(int(m.Block), m.Data); err != nil {
		return &Message{Kind: KindError, Id: m.Id, Error: classify(err)}
	}
	return nil
}

// handleFinishProgram commits the load and re-initializes the VM from the
// newly active slot.
func (d *Dispatcher) handleFinishProgram(m *Message) *Message {
	if reply := d.continueLoad(m); reply != nil {
		return reply
	}
	loader := d.loader
	d.loader = nil
	if err := loader.FinishLoad(); err != nil {
		return &Message{Kind: KindError, Id: m.Id, Error: classify(err)}
	}
	if err := d.reloadMachine(); err != nil {
		return &Message{Kind: KindError, Id: m.Id, Error: classify(err)}
	}
	return &Message{Kind: KindReturn, Id: m.Id}
}

// reloadMachine loads the active stored program into the VM and runs its
// initialization entry points.
func (d *Dispatcher) reloadMachine() error {
	words, err := d.store.ReadProgram()
	if err != nil {
		return err
	}
	if err := d.machine.Load(words); err != nil {
		return err
	}
	return d.machine.Reset()
}

func (d *Dispatcher) handleReadUiState(m *Message) *Message {
	buf := make([]byte, UiStateBlockBytes)
	n, err := d.store.ReadUiState(int(m.Offset), buf)
	if err != nil {
		return &Message{Kind: KindError, Id: m.Id, Error: classify(err)}
	}
	return &Message{Kind: KindUiStateBlock, Id: m.Id, Data: buf[:n]}
}

func (d *Dispatcher) handleGetI2cDevices(m *Message) *Message {
	start := int(m.Page) * I2cDevicesPerPage
	if start > len(d.i2cDevices) {
		start = len(d.i2cDevices)
	}
	end := start + I2cDevicesPerPage
	if end > len(d.i2cDevices) {
		end = len(d.i2cDevices)
	}
	return &Message{
		Kind:    KindI2cDevices,
		Id:      m.Id,
		Devices: append([]byte(nil), d.i2cDevices[start:end]...),
		More:    end < len(d.i2cDevices),
	}
}

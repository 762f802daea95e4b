// Package host runs the firmware core: one controller owning the VM,
// storage and dispatcher behind a single mutex, a paced LED-render loop,
// and a transport serving loop. The lock is held for one bounded message
// or render step at a time and never across transport waits.
package host

import (
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/lumen/asm"
	"github.com/chazu/lumen/pliot"
	"github.com/chazu/lumen/storage"
	"github.com/chazu/lumen/vm"
)

var log = commonlog.GetLogger("lumen.host")

//go:embed default.lasm
var defaultSource string

// Strip is one LED strip: a stack of machines rendered in order per LED,
// each seeding the next so later layers can blend over earlier ones.
type Strip struct {
	Machines []int
	Leds     int
}

// Controller is the shared mutable core. All VM and storage access goes
// through its mutex, so at most one VM call is in flight and program
// commits serialize against renders.
type Controller struct {
	mu      sync.Mutex
	machine *vm.Machine
	store   *storage.Store
	disp    *pliot.Dispatcher

	strips      []Strip
	framePeriod time.Duration
	tick        uint32
}

// NewController assembles the core on a storage device.
func NewController(dev storage.Device, strips []Strip, framePeriod time.Duration) (*Controller, error) {
	store, err := storage.NewStore(dev)
	if err != nil {
		return nil, err
	}
	machine := vm.NewMachine()
	return &Controller{
		machine:     machine,
		store:       store,
		disp:        pliot.NewDispatcher(machine, store),
		strips:      strips,
		framePeriod: framePeriod,
	}, nil
}

// Boot recovers storage and loads the active program into the VM. When
// neither slot holds a valid program the store is reformatted and the
// built-in default program installed, so the device always comes up
// running something.
func (c *Controller) Boot() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.LoadHeader(); err != nil {
		return err
	}
	if c.store.ProgramWords() == 0 {
		log.Info("no valid program, formatting and installing default")
		if err := c.store.Format(); err != nil {
			return err
		}
		if err := c.installDefault(); err != nil {
			return err
		}
	}
	words, err := c.store.ReadProgram()
	if err != nil {
		return err
	}
	if err := c.machine.Load(words); err != nil {
		return err
	}
	if err := c.machine.Reset(); err != nil {
		return err
	}
	log.Infof("booted: %d words, %d machines, seq %d",
		c.store.ProgramWords(), c.machine.InstanceCount(), c.store.Seq())
	return nil
}

// installDefault assembles the embedded default program and commits it
// through the regular loader path so it persists like any other program.
func (c *Controller) installDefault() error {
	g, err := asm.AssembleProgram(defaultSource)
	if err != nil {
		return fmt.Errorf("host: assemble default program: %w", err)
	}
	words, err := g.Emit()
	if err != nil {
		return fmt.Errorf("host: link default program: %w", err)
	}
	loader, err := c.store.GetProgramLoader(len(words), 0)
	if err != nil {
		return err
	}
	for block, off := 0, 0; off < len(words); block++ {
		end := off + pliot.ProgramBlockWords
		if end > len(words) {
			end = len(words)
		}
		if err := loader.AddBlock(block, words[off:end]); err != nil {
			return err
		}
		off = end
	}
	return loader.FinishLoad()
}

// HandleFrame decodes one inbound frame, dispatches it under the lock and
// returns the encoded reply frame, or nil when the message produces none.
func (c *Controller) HandleFrame(frame []byte) ([]byte, error) {
	msg, err := pliot.DecodeFrame(frame)
	if err != nil {
		reply := &pliot.Message{
			Kind:  pliot.KindError,
			Error: &pliot.ErrorInfo{Type: pliot.ErrTypeInvalidMessage, Detail: err.Error()},
		}
		return pliot.EncodeFrame(reply)
	}

	c.mu.Lock()
	reply := c.disp.Handle(msg)
	c.mu.Unlock()

	if reply == nil {
		return nil, nil
	}
	return pliot.EncodeFrame(reply)
}

// SetI2cDevices installs the latest bus-scan result.
func (c *Controller) SetI2cDevices(addrs []byte) {
	c.mu.Lock()
	c.disp.SetI2cDevices(addrs)
	c.mu.Unlock()
}

// Machine exposes the VM for tests and tooling. Callers must not retain it
// across unlocked regions.
func (c *Controller) Machine() *vm.Machine { return c.machine }

// Store exposes the program store for tests and tooling.
func (c *Controller) Store() *storage.Store { return c.store }

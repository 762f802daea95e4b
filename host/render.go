package host

import (
	"context"
	"time"

	"github.com/chazu/lumen/vm"
)

// RenderFrame advances the frame counter and renders every strip under one
// lock hold, so a concurrent message observes either the whole pre-tick or
// the whole post-tick globals state. Machines stack per LED: each layer
// receives the previous layer's color as its seed.
func (c *Controller) RenderFrame() ([][]vm.Color, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	out := make([][]vm.Color, len(c.strips))
	for si, strip := range c.strips {
		colors := make([]vm.Color, strip.Leds)
		for led := 0; led < strip.Leds; led++ {
			var seed vm.Color
			for _, machine := range strip.Machines {
				var err error
				seed, err = c.machine.GetLedColor(machine, led, c.tick, seed)
				if err != nil {
					return nil, err
				}
			}
			colors[led] = seed
		}
		out[si] = colors
	}
	return out, nil
}

// Tick returns the current frame counter.
func (c *Controller) Tick() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Run renders frames at the configured period until the context ends,
// passing each frame to sink. Frame timing subtracts the work already
// done; an overrunning frame proceeds immediately with zero sleep rather
// than skipping or catching up. A failing render logs and keeps pacing,
// since a bad program should not stop the loop a program reload would fix.
func (c *Controller) Run(ctx context.Context, sink func([][]vm.Color) error) error {
	for {
		start := time.Now()

		frame, err := c.RenderFrame()
		if err != nil {
			log.Errorf("render: %s", err.Error())
		} else if sink != nil {
			if err := sink(frame); err != nil {
				return err
			}
		}

		sleep := c.framePeriod - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kstaniek/go-can-console/internal/board"
	"github.com/kstaniek/go-can-console/internal/flexcan"
	"github.com/kstaniek/go-can-console/internal/sim"
)

// machine is the simulated board: one FlexCAN model per configured
// controller, all attached to one bus.
type machine struct {
	plat    *sim.Platform
	bus     *sim.Bus
	ctrls   []*flexcan.Controller
	console *flexcan.Controller
	// intr carries console interrupt-character signals to the runtime.
	intr chan struct{}
}

func newMachine(p *board.Profile, l *slog.Logger) (*machine, error) {
	m := &machine{plat: sim.NewPlatform(), bus: sim.NewBus(), intr: make(chan struct{}, 1)}
	for _, cfg := range p.Controllers {
		dev := sim.NewDevice(sim.WithLogger(l.With("sim", cfg.Instance)))
		m.plat.Attach(cfg.Instance, dev)
		m.bus.Attach(dev)
		cfg.Logger = l
		if cfg.Console {
			cfg.OnInterrupt = m.signalInterrupt
		}
		c, err := flexcan.New(dev, m.plat, cfg)
		if err != nil {
			return nil, fmt.Errorf("can%d: %w", cfg.Instance, err)
		}
		if cfg.Console {
			c.SetInterruptChar(p.InterruptChar[cfg.Instance])
			m.console = c
		}
		m.ctrls = append(m.ctrls, c)
	}
	return m, nil
}

// signalInterrupt runs in interrupt context and must not block.
func (m *machine) signalInterrupt() {
	select {
	case m.intr <- struct{}{}:
	default:
	}
}

// start brings every controller up. A controller that never acknowledges a
// mode change aborts start after timeout.
func (m *machine) start(ctx context.Context, timeout time.Duration) error {
	for _, c := range m.ctrls {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.ConfigureContext(cctx)
		cancel()
		if err != nil {
			return fmt.Errorf("can%d bring-up: %w", c.Instance(), err)
		}
	}
	return nil
}

// controller returns the controller for instance, or nil.
func (m *machine) controller(instance int) *flexcan.Controller {
	for _, c := range m.ctrls {
		if c.Instance() == instance {
			return c
		}
	}
	return nil
}

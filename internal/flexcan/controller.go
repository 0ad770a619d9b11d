// Package flexcan drives a FlexCAN controller (S32K1xx register layout) as a
// general CAN port and as the transport of a byte-stream console.
//
// Interrupt context and foreground code share the controller without locks:
// the interrupt handler is the only producer of the receive rings and the
// foreground is the only consumer. Foreground callers are serialised among
// themselves where they share a mailbox.
package flexcan

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/console"
	"github.com/kstaniek/go-can-console/internal/logging"
	"github.com/kstaniek/go-can-console/internal/metrics"
	"github.com/kstaniek/go-can-console/internal/ringbuf"
)

var (
	ErrWaitAborted = errors.New("flexcan: wait aborted")
	ErrNoConsole   = errors.New("flexcan: controller does not host the console")
	ErrFilterBank  = errors.New("flexcan: filter bank out of range")
	ErrReservedID  = errors.New("flexcan: identifier reserved")
	ErrNotRunning  = errors.New("flexcan: controller not running")
)

// Platform is the chip support the controller needs around its own registers.
type Platform interface {
	// EnableClock gates the peripheral clock of controller instance on.
	EnableClock(instance int)
	// ConfigurePin routes a pin to its CAN function.
	ConfigurePin(m PinMux) error
	// EnableIRQ registers handler for vector and unmasks it.
	EnableIRQ(vector int, handler func())
}

// Controller owns one FlexCAN instance.
type Controller struct {
	cfg   Config
	dev   Device
	plat  Platform
	log   *slog.Logger
	relax func()
	state atomic.Int32

	input *console.Input
	rx    *ringbuf.Ring[can.Frame]
	rxIn  ringbuf.Producer[can.Frame]
	rxOut ringbuf.Consumer[can.Frame]

	rxDropped     atomic.Uint64
	fifoOverflows atomic.Uint64
	interrupts    atomic.Uint64
	inISR         atomic.Int32 // handler passes in progress

	txMu     sync.Mutex // pool claimers
	consMu   sync.Mutex // console writers
	filterMu sync.Mutex
	filters  [NumFilters]Filter
}

// New validates cfg and prepares a controller. No register is touched until
// Configure.
func New(dev Device, plat Platform, cfg Config) (*Controller, error) {
	if dev == nil || plat == nil {
		return nil, fmt.Errorf("%w: nil device or platform", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rx, err := ringbuf.New[can.Frame](cfg.RxQueue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c := &Controller{
		cfg:   cfg,
		dev:   dev,
		plat:  plat,
		relax: cfg.Relax,
		rx:    rx,
		rxIn:  rx.Producer(),
		rxOut: rx.Consumer(),
	}
	if c.relax == nil {
		c.relax = runtime.Gosched
	}
	l := cfg.Logger
	if l == nil {
		l = logging.L()
	}
	c.log = l.With("can", cfg.Instance)
	for i := range c.filters {
		c.filters[i] = MatchNothing
	}
	for bank, f := range cfg.Filters {
		c.filters[bank] = f
	}
	if cfg.Console {
		in, err := console.NewInput(cfg.RingSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		in.Relax = c.relax
		in.OnInterrupt = func() {
			metrics.IncInterruptSignal()
			if cfg.OnInterrupt != nil {
				cfg.OnInterrupt()
			}
		}
		in.OnDrop = metrics.IncConsoleDrop
		c.input = in
	}
	c.state.Store(int32(StatePowerOn))
	return c, nil
}

// MustNew is New for static board tables; a bad config panics.
func MustNew(dev Device, plat Platform, cfg Config) *Controller {
	c, err := New(dev, plat, cfg)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Controller) Instance() int       { return c.cfg.Instance }
func (c *Controller) IsConsole() bool     { return c.cfg.Console }
func (c *Controller) Config() Config      { return c.cfg }
func (c *Controller) State() BringUpState { return BringUpState(c.state.Load()) }

// Stats is a snapshot of controller counters.
type Stats struct {
	Interrupts    uint64
	RxQueued      int
	RxDropped     uint64
	FIFOOverflows uint64
	ConsoleQueued int
	ConsoleLost   uint64
}

func (c *Controller) Stats() Stats {
	s := Stats{
		Interrupts:    c.interrupts.Load(),
		RxQueued:      c.rxOut.Len(),
		RxDropped:     c.rxDropped.Load(),
		FIFOOverflows: c.fifoOverflows.Load(),
	}
	if c.input != nil {
		s.ConsoleQueued = c.input.Buffered()
		s.ConsoleLost = c.input.Dropped()
	}
	return s
}

// MailboxCode reads the CODE field of mailbox mb.
func (c *Controller) MailboxCode(mb int) Code { return mailboxCode(c.dev, mb) }

func (c *Controller) running() bool { return c.State() == StateRunning }

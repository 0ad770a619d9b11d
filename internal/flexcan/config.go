package flexcan

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kstaniek/go-can-console/internal/console"
)

var (
	ErrInvalidConfig = errors.New("flexcan: invalid config")
	ErrInvalidPinout = errors.New("flexcan: pins not routable to instance")
)

// Pin names a port pin, e.g. PTE4.
type Pin struct {
	Port byte // 'A'..'E'
	Num  uint8
}

func (p Pin) String() string {
	if p.Port == 0 {
		return "unset"
	}
	return fmt.Sprintf("PT%c%d", p.Port, p.Num)
}

// IsZero reports an unset pin.
func (p Pin) IsZero() bool { return p.Port == 0 }

// ParsePin parses names such as "PTE4" or "E4".
func ParsePin(s string) (Pin, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "PT")
	if len(s) < 2 || s[0] < 'A' || s[0] > 'E' {
		return Pin{}, fmt.Errorf("%w: bad pin %q", ErrInvalidConfig, s)
	}
	n, err := strconv.ParseUint(s[1:], 10, 8)
	if err != nil || n > 31 {
		return Pin{}, fmt.Errorf("%w: bad pin %q", ErrInvalidConfig, s)
	}
	return Pin{Port: s[0], Num: uint8(n)}, nil
}

// PinMux is a pin routed to a controller signal through a mux alternative.
type PinMux struct {
	Pin Pin
	Alt uint8
}

type pinPair struct {
	tx, rx PinMux
}

type instance struct {
	irq  int
	pins []pinPair // first entry is the default
}

// S32K144 FlexCAN instances: "ORed 0-15 MB" vector and routable pins.
var instances = []instance{
	{irq: 81, pins: []pinPair{
		{tx: PinMux{Pin{'E', 5}, 5}, rx: PinMux{Pin{'E', 4}, 5}},
		{tx: PinMux{Pin{'C', 3}, 3}, rx: PinMux{Pin{'C', 2}, 3}},
		{tx: PinMux{Pin{'B', 1}, 5}, rx: PinMux{Pin{'B', 0}, 5}},
	}},
	{irq: 88, pins: []pinPair{
		{tx: PinMux{Pin{'A', 13}, 3}, rx: PinMux{Pin{'A', 12}, 3}},
		{tx: PinMux{Pin{'C', 7}, 3}, rx: PinMux{Pin{'C', 6}, 3}},
	}},
	{irq: 95, pins: []pinPair{
		{tx: PinMux{Pin{'B', 13}, 4}, rx: PinMux{Pin{'B', 12}, 4}},
		{tx: PinMux{Pin{'C', 17}, 3}, rx: PinMux{Pin{'C', 16}, 3}},
	}},
}

// IRQ returns the mailbox interrupt vector of controller i.
func IRQ(i int) int { return instances[i].irq }

// DefaultPins returns the board default TX/RX pins of controller i.
func DefaultPins(i int) (tx, rx Pin) {
	p := instances[i].pins[0]
	return p.tx.Pin, p.rx.Pin
}

const DefaultRxQueue = 32

// Config describes one controller.
type Config struct {
	Instance int
	// Console selects this controller as the console transport host.
	Console bool
	Bitrate uint32
	ClockHz uint32
	TxPin   Pin
	RxPin   Pin
	// RingSize is the console receive ring size in slots.
	RingSize int
	// RxQueue is the general receive queue size in frames.
	RxQueue int
	// Filters preloads FIFO filter banks during bring-up.
	Filters map[int]Filter

	Logger *slog.Logger
	// OnInterrupt is called from interrupt context when the console
	// interrupt character is received.
	OnInterrupt func()
	// Relax runs between polls of a busy-wait. Defaults to runtime.Gosched.
	Relax func()
}

func (c *Config) applyDefaults() {
	if c.Bitrate == 0 {
		c.Bitrate = DefaultBitrate
	}
	if c.ClockHz == 0 {
		c.ClockHz = DefaultClockHz
	}
	if c.Instance >= 0 && c.Instance < len(instances) {
		tx, rx := DefaultPins(c.Instance)
		if c.TxPin.IsZero() {
			c.TxPin = tx
		}
		if c.RxPin.IsZero() {
			c.RxPin = rx
		}
	}
	if c.RingSize == 0 {
		c.RingSize = console.DefaultRingSize
	}
	if c.RxQueue == 0 {
		c.RxQueue = DefaultRxQueue
	}
}

// routing returns the mux settings for the configured pins.
func (c *Config) routing() (tx, rx PinMux, err error) {
	for _, p := range instances[c.Instance].pins {
		if p.tx.Pin == c.TxPin && p.rx.Pin == c.RxPin {
			return p.tx, p.rx, nil
		}
	}
	return PinMux{}, PinMux{}, fmt.Errorf("%w: can%d tx=%s rx=%s", ErrInvalidPinout, c.Instance, c.TxPin, c.RxPin)
}

// Validate applies defaults and checks the configuration.
func (c *Config) Validate() error {
	c.applyDefaults()
	if c.Instance < 0 || c.Instance >= len(instances) {
		return fmt.Errorf("%w: instance %d does not exist", ErrInvalidConfig, c.Instance)
	}
	if _, _, err := c.routing(); err != nil {
		return err
	}
	if _, err := BitTimingFor(c.ClockHz, c.Bitrate); err != nil {
		return err
	}
	if c.RingSize < 2 {
		return fmt.Errorf("%w: ring size %d", ErrInvalidConfig, c.RingSize)
	}
	if c.RxQueue < 2 {
		return fmt.Errorf("%w: rx queue %d", ErrInvalidConfig, c.RxQueue)
	}
	for bank, f := range c.Filters {
		if bank < 0 || bank >= NumFilters {
			return fmt.Errorf("%w: %d", ErrFilterBank, bank)
		}
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSet checks a set of controller configs: instances are unique and at
// most one hosts the console.
func ValidateSet(cfgs []Config) error {
	seen := map[int]bool{}
	consoles := 0
	for i := range cfgs {
		if err := cfgs[i].Validate(); err != nil {
			return err
		}
		if seen[cfgs[i].Instance] {
			return fmt.Errorf("%w: can%d configured twice", ErrInvalidConfig, cfgs[i].Instance)
		}
		seen[cfgs[i].Instance] = true
		if cfgs[i].Console {
			consoles++
		}
	}
	if consoles > 1 {
		return fmt.Errorf("%w: console on %d controllers", ErrInvalidConfig, consoles)
	}
	return nil
}

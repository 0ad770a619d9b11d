package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kstaniek/go-can-console/internal/flexcan"
)

var ErrPinClaimed = errors.New("sim: pin already routed to another function")

// Platform stands in for the clock gate controller, port mux and interrupt
// controller of the chip. It implements flexcan.Platform.
type Platform struct {
	mu       sync.Mutex
	devices  map[int]*Device
	pins     map[flexcan.Pin]uint8
	handlers map[int]func()
}

func NewPlatform() *Platform {
	return &Platform{
		devices:  make(map[int]*Device),
		pins:     make(map[flexcan.Pin]uint8),
		handlers: make(map[int]func()),
	}
}

// Attach places d at controller instance.
func (p *Platform) Attach(instance int, d *Device) {
	p.mu.Lock()
	p.devices[instance] = d
	p.mu.Unlock()
}

// Device returns the device at instance, or nil.
func (p *Platform) Device(instance int) *Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devices[instance]
}

func (p *Platform) EnableClock(instance int) {
	if d := p.Device(instance); d != nil {
		d.clock.Store(true)
	}
}

func (p *Platform) ConfigurePin(m flexcan.PinMux) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if alt, ok := p.pins[m.Pin]; ok && alt != m.Alt {
		return fmt.Errorf("%w: %s alt%d", ErrPinClaimed, m.Pin, alt)
	}
	p.pins[m.Pin] = m.Alt
	return nil
}

// PinAlt reports the function a pin was routed to.
func (p *Platform) PinAlt(pin flexcan.Pin) (uint8, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	alt, ok := p.pins[pin]
	return alt, ok
}

func (p *Platform) EnableIRQ(vector int, handler func()) {
	p.mu.Lock()
	p.handlers[vector] = handler
	var dev *Device
	for inst, d := range p.devices {
		if flexcan.IRQ(inst) == vector {
			dev = d
		}
	}
	p.mu.Unlock()
	if dev != nil {
		dev.setHandler(handler)
	}
}

// IRQEnabled reports whether a handler is registered for vector.
func (p *Platform) IRQEnabled(vector int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handlers[vector]
	return ok
}

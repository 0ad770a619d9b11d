package sim

import (
	"sync"

	"github.com/kstaniek/go-can-console/internal/can"
)

// Bus is a lossless CAN segment. A frame transmitted by one node reaches every
// other attached device and every tap; controllers never see their own frames.
type Bus struct {
	mu    sync.RWMutex
	nodes []*Device
	taps  map[int]func(can.Frame)
	next  int
}

func NewBus() *Bus { return &Bus{taps: make(map[int]func(can.Frame))} }

// Attach connects d to the bus.
func (b *Bus) Attach(d *Device) {
	b.mu.Lock()
	b.nodes = append(b.nodes, d)
	b.mu.Unlock()
	d.OnTransmit(func(f can.Frame) { b.broadcast(d, f) })
}

// Tap registers fn for every frame an attached controller transmits and
// returns a function removing it. fn runs on the transmitting goroutine and must not block.
func (b *Bus) Tap(fn func(can.Frame)) (remove func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.taps[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.taps, id)
		b.mu.Unlock()
	}
}

// Inject puts a frame from an external node on the bus. It reports whether
// any controller accepted it.
func (b *Bus) Inject(f can.Frame) bool { return b.broadcast(nil, f) }

// SendFrame is Inject for use as a frame sink.
func (b *Bus) SendFrame(f can.Frame) error {
	b.Inject(f)
	return nil
}

func (b *Bus) broadcast(from *Device, f can.Frame) bool {
	b.mu.RLock()
	nodes := append([]*Device(nil), b.nodes...)
	taps := make([]func(can.Frame), 0, len(b.taps))
	for _, fn := range b.taps {
		taps = append(taps, fn)
	}
	b.mu.RUnlock()

	accepted := false
	for _, d := range nodes {
		if d != from && d.Receive(f) {
			accepted = true
		}
	}
	if from != nil {
		for _, fn := range taps {
			fn(f)
		}
	}
	return accepted
}

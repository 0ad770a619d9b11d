package console

import (
	"runtime"
	"sync/atomic"

	"github.com/kstaniek/go-can-console/internal/ringbuf"
)

const (
	// DefaultRingSize matches the receive buffer of the reference board.
	DefaultRingSize = 128
	// NoInterruptChar disables interrupt-character interception.
	NoInterruptChar = -1
	// CtrlC is the interrupt character a REPL normally installs.
	CtrlC = 0x03
)

// Input is the receive side of the console. Push runs in interrupt context;
// the read methods run in the foreground.
type Input struct {
	ring      *ringbuf.Ring[byte]
	prod      ringbuf.Producer[byte]
	cons      ringbuf.Consumer[byte]
	interrupt atomic.Int32
	dropped   atomic.Uint64

	// OnInterrupt is invoked from Push each time the interrupt character arrives.
	OnInterrupt func()
	// OnDrop is invoked from Push when a byte is lost to a full ring.
	OnDrop func()
	// Relax runs between polls while ReadByte waits. Defaults to runtime.Gosched.
	Relax func()
}

// NewInput builds an input with a ring of size slots (size-1 usable bytes).
func NewInput(size int) (*Input, error) {
	if size == 0 {
		size = DefaultRingSize
	}
	r, err := ringbuf.New[byte](size)
	if err != nil {
		return nil, err
	}
	in := &Input{ring: r, prod: r.Producer(), cons: r.Consumer(), Relax: runtime.Gosched}
	in.interrupt.Store(NoInterruptChar)
	return in, nil
}

// SetInterruptChar installs c as the break character; NoInterruptChar disables it.
func (in *Input) SetInterruptChar(c int) {
	if c < 0 || c > 0xFF {
		c = NoInterruptChar
	}
	in.interrupt.Store(int32(c))
}

// InterruptChar returns the current break character or NoInterruptChar.
func (in *Input) InterruptChar() int { return int(in.interrupt.Load()) }

// Push delivers one received byte. The interrupt character is consumed here
// and never reaches the ring.
func (in *Input) Push(b byte) {
	if int32(b) == in.interrupt.Load() {
		if in.OnInterrupt != nil {
			in.OnInterrupt()
		}
		return
	}
	if !in.prod.Push(b) {
		in.dropped.Add(1)
		if in.OnDrop != nil {
			in.OnDrop()
		}
	}
}

// PushChunk delivers the payload of one console frame in order.
func (in *Input) PushChunk(p []byte) {
	for _, b := range p {
		in.Push(b)
	}
}

// Poll reports whether ReadByte would return without waiting.
func (in *Input) Poll() bool { return !in.cons.Empty() }

// Buffered returns the number of bytes waiting.
func (in *Input) Buffered() int { return in.cons.Len() }

// Dropped returns the number of bytes lost to overflow.
func (in *Input) Dropped() uint64 { return in.dropped.Load() }

// TryReadByte pops one byte without waiting.
func (in *Input) TryReadByte() (byte, bool) { return in.cons.Pop() }

// ReadByte waits until a byte is available. It never fails; the error result
// satisfies io.ByteReader.
func (in *Input) ReadByte() (byte, error) {
	for {
		if b, ok := in.cons.Pop(); ok {
			return b, nil
		}
		if in.Relax != nil {
			in.Relax()
		}
	}
}

// Read waits for at least one byte and then drains what is available into p.
func (in *Input) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, _ := in.ReadByte()
	p[0] = b
	n := 1
	for n < len(p) {
		b, ok := in.cons.Pop()
		if !ok {
			break
		}
		p[n] = b
		n++
	}
	return n, nil
}

// Reset discards buffered input. Only valid while no interrupt can push.
func (in *Input) Reset() { in.ring.Reset() }

// Package backend connects to a CAN bus through a serial SLCAN adapter, a
// SocketCAN interface or a cannelloni TCP server. Each link runs a receive
// loop delivering frames to a callback and funnels transmissions through an
// asynchronous writer.
package backend

import (
	"fmt"
	"time"

	"github.com/kstaniek/go-can-console/internal/can"
)

const (
	TxQueueSize       = 1024 // capacity of async TX ring
	serialReadBufSize = 4096 // per read() buffer for serial backend
	// largeBufferReclaimThreshold is the capacity above which the serial RX
	// accumulator is reallocated once drained.
	largeBufferReclaimThreshold = 16 * 1024
	rxBackoffMin                = 20 * time.Millisecond
	rxBackoffMax                = 500 * time.Millisecond
)

// Kinds accepted by Open.
const (
	KindSerial    = "serial"
	KindSocketCAN = "socketcan"
	KindTCP       = "tcp"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// Link is an open bus connection.
type Link interface {
	SendFrame(can.Frame) error
	Close()
}

// Deliver receives every frame read from the bus.
type Deliver func(can.Frame)

// Config selects and parameterises a link.
type Config struct {
	Kind string

	SerialDev    string
	Baud         int
	SerialReadTO time.Duration
	Bitrate      uint32

	CANIf string
	// IDs restricts SocketCAN reception to these extended identifiers.
	IDs []uint32

	TCPAddr   string
	TCPDialTO time.Duration
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > rxBackoffMax {
		d = rxBackoffMax
	}
	return d
}

func unknownKind(kind string) error {
	return fmt.Errorf("unknown backend %q (use serial|socketcan|tcp)", kind)
}

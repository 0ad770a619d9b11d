package socketcan

import (
	"context"
	"errors"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/logging"
	"github.com/kstaniek/go-can-console/internal/metrics"
	"github.com/kstaniek/go-can-console/internal/transport"
)

var (
	ErrTxOverflow = errors.New("socketcan tx overflow")
	// ErrNotDataFrame marks a remote or error frame read from the socket.
	ErrNotDataFrame = errors.New("socketcan: remote or error frame")
	ErrUnsupported  = errors.New("socketcan: only available on linux")
)

// Dev is a CAN socket: *Device on linux, fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// NewTxQueue serialises writes to dev on one goroutine. A full queue drops
// the frame with ErrTxOverflow.
func NewTxQueue(ctx context.Context, dev Dev, size int) *transport.TxQueue {
	return transport.NewTxQueue(ctx, size, dev.WriteFrame, transport.Hooks{
		OnSent: metrics.IncSocketCANTx,
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSocketCANWrite)
			logging.L().Error("socketcan_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return ErrTxOverflow
		},
	})
}

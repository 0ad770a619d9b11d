package serial

import (
	"context"
	"errors"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/logging"
	"github.com/kstaniek/go-can-console/internal/metrics"
	"github.com/kstaniek/go-can-console/internal/transport"
)

var ErrTxOverflow = errors.New("serial tx overflow")

// NewTxQueue serialises SLCAN writes to sp on one goroutine. A full queue
// drops the frame with ErrTxOverflow.
func NewTxQueue(ctx context.Context, sp Port, codec Codec, size int) *transport.TxQueue {
	write := func(fr can.Frame) error {
		_, err := sp.Write(codec.Encode(fr))
		return err
	}
	return transport.NewTxQueue(ctx, size, write, transport.Hooks{
		OnSent: metrics.IncSerialTx,
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	})
}

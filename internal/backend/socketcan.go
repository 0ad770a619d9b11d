package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/metrics"
	"github.com/kstaniek/go-can-console/internal/socketcan"
	"github.com/kstaniek/go-can-console/internal/transport"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string, ids []uint32) (socketcan.Dev, error) {
	return socketcan.Open(iface, ids...)
}

type socketCANLink struct {
	dev socketcan.Dev
	w   *transport.TxQueue
}

func (s *socketCANLink) SendFrame(fr can.Frame) error { return s.w.SendFrame(fr) }
func (s *socketCANLink) Close()                       { _ = s.dev.Close(); s.w.Close() }

// OpenSocketCAN binds cfg.CANIf and launches the RX loop.
func OpenSocketCAN(ctx context.Context, cfg Config, deliver Deliver, l *slog.Logger, wg *sync.WaitGroup) (Link, error) {
	dev, err := openSocketCANDevice(cfg.CANIf, cfg.IDs)
	if err != nil {
		return nil, fmt.Errorf("socketcan open %s: %w", cfg.CANIf, err)
	}
	l.Info("socketcan_open", "if", cfg.CANIf, "filters", len(cfg.IDs))
	link := &socketCANLink{dev: dev, w: socketcan.NewTxQueue(ctx, dev, TxQueueSize)}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("socketcan_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				if errors.Is(err, socketcan.ErrNotDataFrame) {
					continue
				}
				if errors.Is(err, socketcan.ErrUnsupported) {
					return
				}
				metrics.IncError(metrics.ErrSocketCANRead)
				l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff = nextBackoff(backoff)
				continue
			}
			metrics.IncSocketCANRx()
			deliver(fr)
			backoff = rxBackoffMin
		}
	}()
	return link, nil
}

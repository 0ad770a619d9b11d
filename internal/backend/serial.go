package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/metrics"
	"github.com/kstaniek/go-can-console/internal/serial"
	"github.com/kstaniek/go-can-console/internal/transport"
)

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = func(name string, baud int, to time.Duration, bitrate uint32) (serial.Port, error) {
	return serial.OpenChannel(name, baud, to, bitrate)
}

type serialLink struct {
	port serial.Port
	w    *transport.TxQueue
}

func (s *serialLink) SendFrame(fr can.Frame) error { return s.w.SendFrame(fr) }

func (s *serialLink) Close() {
	_, _ = s.port.Write(serial.Codec{}.CloseCommand())
	_ = s.port.Close()
	s.w.Close()
}

// OpenSerial opens an SLCAN adapter at cfg.Bitrate and launches the RX loop.
func OpenSerial(ctx context.Context, cfg Config, deliver Deliver, l *slog.Logger, wg *sync.WaitGroup) (Link, error) {
	sp, err := openSerialPort(cfg.SerialDev, cfg.Baud, cfg.SerialReadTO, cfg.Bitrate)
	if err != nil {
		return nil, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.SerialDev, "baud", cfg.Baud, "bitrate", cfg.Bitrate)
	codec := serial.Codec{}
	link := &serialLink{port: sp, w: serial.NewTxQueue(ctx, sp, codec, TxQueueSize)}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end")
		buf := make([]byte, serialReadBufSize)
		acc := bytes.NewBuffer(nil)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := sp.Read(buf)
			if n > 0 {
				acc.Write(buf[:n])
				_ = codec.DecodeStream(acc, deliver)
				if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
					acc = bytes.NewBuffer(nil)
				}
				backoff = rxBackoffMin
			}
			if err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					return // device removed or closed
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue // read timeout with no data
				}
				metrics.IncError(metrics.ErrSerialRead)
				l.Warn("serial_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff = nextBackoff(backoff)
			}
		}
	}()
	return link, nil
}

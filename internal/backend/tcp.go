package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/cnl"
	"github.com/kstaniek/go-can-console/internal/logging"
	"github.com/kstaniek/go-can-console/internal/metrics"
	"github.com/kstaniek/go-can-console/internal/transport"
)

var ErrTCPTxOverflow = errors.New("tcp tx overflow")

const defaultDialTimeout = 3 * time.Second

type tcpLink struct {
	conn net.Conn
	tx   *transport.TxQueue
}

func (t *tcpLink) SendFrame(fr can.Frame) error { return t.tx.SendFrame(fr) }
func (t *tcpLink) Close()                       { _ = t.conn.Close(); t.tx.Close() }

// DialTCP connects to a cannelloni server at cfg.TCPAddr and launches the RX loop.
func DialTCP(ctx context.Context, cfg Config, deliver Deliver, l *slog.Logger, wg *sync.WaitGroup) (Link, error) {
	to := cfg.TCPDialTO
	if to <= 0 {
		to = defaultDialTimeout
	}
	conn, err := cnl.Dial(ctx, cfg.TCPAddr, to)
	if err != nil {
		return nil, err
	}
	l.Info("tcp_connected", "addr", cfg.TCPAddr)
	codec := cnl.Codec{}
	send := func(fr can.Frame) error {
		_, err := codec.EncodeTo(conn, []can.Frame{fr})
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrTCPWrite)
			logging.L().Error("tcp_write_error", "error", err)
		},
		OnSent: func() { metrics.AddTCPTx(1) },
		OnDrop: func() error { return ErrTCPTxOverflow },
	}
	link := &tcpLink{conn: conn, tx: transport.NewTxQueue(ctx, TxQueueSize, send, hooks)}
	go func() { <-ctx.Done(); _ = conn.Close() }()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("tcp_rx_end")
		_, err := codec.DecodeN(conn, 0, func(fr can.Frame) {
			metrics.IncTCPRx()
			deliver(fr)
		})
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
			metrics.IncError(metrics.ErrTCPRead)
			l.Warn("tcp_read_error", "error", fmt.Errorf("%s: %w", cfg.TCPAddr, err))
		}
	}()
	return link, nil
}

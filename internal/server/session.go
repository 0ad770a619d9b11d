package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/hub"
	"github.com/kstaniek/go-can-console/internal/metrics"
	"github.com/kstaniek/go-can-console/internal/serial"
	"github.com/kstaniek/go-can-console/internal/socketcan"
	"github.com/kstaniek/go-can-console/internal/transport"
)

// readBatch caps frames decoded between cancellation checks.
const readBatch = 16

// session is one connected client: a reader feeding the sink and a writer
// draining the client's hub queue.
type session struct {
	srv    *Server
	conn   net.Conn
	client *hub.Client
	log    *slog.Logger
}

func (ss *session) start(done <-chan struct{}) {
	ss.srv.wg.Add(2)
	go func() {
		defer ss.srv.wg.Done()
		defer func() { _ = ss.conn.Close() }()
		ss.readLoop(done)
	}()
	go func() {
		defer ss.srv.wg.Done()
		defer ss.srv.drop(ss)
		defer func() { _ = ss.conn.Close() }()
		ss.writeLoop(done)
	}()
}

func (ss *session) closed(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-ss.client.Closed:
		return true
	default:
		return false
	}
}

func (ss *session) readLoop(done <-chan struct{}) {
	s := ss.srv
	for !ss.closed(done) {
		_ = ss.conn.SetReadDeadline(time.Now().Add(s.tune.readDeadline))
		n, err := s.Codec.DecodeN(ss.conn, readBatch, ss.forward)
		var ne net.Error
		switch {
		case err == nil:
			if n == 0 {
				time.Sleep(100 * time.Microsecond)
			}
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			return
		case errors.As(err, &ne) && ne.Timeout():
		default:
			ss.log.Warn("client_read_error", "error", s.fail(ErrConnRead, err))
			return
		}
	}
}

// forward hands one client frame to the sink.
func (ss *session) forward(fr can.Frame) {
	s := ss.srv
	if s.accept != nil && !s.accept(fr) {
		s.stats.filtered.Add(1)
		return
	}
	metrics.IncTCPRx()
	if can.IsConsole(fr) {
		s.stats.console.Add(1)
	}
	err := s.Sink.SendFrame(fr)
	switch {
	case err == nil:
	case isOverflow(err):
		s.stats.overflow.Add(1)
		ss.log.Debug("backend_overflow_drop", "frame", fr.String())
	default:
		s.stats.backendErrors.Add(1)
		ss.log.Error("backend_tx_error", "error", s.fail(ErrBackendTx, err), "frame", fr.String())
	}
}

func isOverflow(err error) bool {
	return errors.Is(err, serial.ErrTxOverflow) ||
		errors.Is(err, socketcan.ErrTxOverflow) ||
		errors.Is(err, transport.ErrQueueClosed)
}

// writeLoop batches hub frames, flushing when the batch fills or on each tick.
func (ss *session) writeLoop(done <-chan struct{}) {
	s := ss.srv
	tick := time.NewTicker(s.tune.flushInterval)
	defer tick.Stop()
	batch := make([]can.Frame, 0, s.tune.batchSize)
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		_, err := s.Codec.EncodeTo(ss.conn, batch)
		n := len(batch)
		batch = batch[:0]
		if err != nil {
			ss.log.Debug("client_write_error", "error", s.fail(ErrConnWrite, err))
			return false
		}
		metrics.AddTCPTx(n)
		return true
	}
	for {
		select {
		case fr := <-ss.client.Out:
			if batch = append(batch, fr); len(batch) >= s.tune.batchSize && !flush() {
				return
			}
		case <-tick.C:
			if !flush() {
				return
			}
		case <-ss.client.Closed:
			flush()
			return
		case <-done:
			flush()
			return
		}
	}
}

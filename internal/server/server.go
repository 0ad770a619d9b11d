// Package server exposes the CAN bus to cannelloni clients over TCP. Frames
// read from clients go to a backend sink; frames broadcast on the hub are
// batched out to every connected client.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/cnl"
	"github.com/kstaniek/go-can-console/internal/hub"
	"github.com/kstaniek/go-can-console/internal/logging"
	"github.com/kstaniek/go-can-console/internal/metrics"
	"github.com/kstaniek/go-can-console/internal/transport"
)

// acceptBackoff is the pause after a transient accept failure.
const acceptBackoff = 200 * time.Millisecond

// Server owns the TCP listener and the client sessions.
type Server struct {
	Hub   *hub.Hub
	Codec cnl.Codec
	Sink  transport.FrameSink

	mu       sync.RWMutex
	addr     string
	listener net.Listener
	tune     tuning
	accept   func(can.Frame) bool
	logger   *slog.Logger

	readyOnce sync.Once
	readyCh   chan struct{}
	errMu     sync.Mutex
	lastErr   error
	errCh     chan error

	sessMu   sync.Mutex
	sessions map[*session]struct{}
	nextID   atomic.Uint64
	wg       sync.WaitGroup
	stats    counters
}

type counters struct {
	accepted, handshakeFail, connected, disconnected atomic.Uint64
	filtered, console, overflow, backendErrors       atomic.Uint64
}

// Stats are lifetime connection and backend counters.
type Stats struct {
	Accepted        uint64
	HandshakeFail   uint64
	Connected       uint64
	Disconnected    uint64
	Filtered        uint64
	ConsoleFrames   uint64 // console frames forwarded from clients
	BackendOverflow uint64
	BackendErrors   uint64
}

func (s *Server) Stats() Stats {
	c := &s.stats
	return Stats{
		Accepted:        c.accepted.Load(),
		HandshakeFail:   c.handshakeFail.Load(),
		Connected:       c.connected.Load(),
		Disconnected:    c.disconnected.Load(),
		Filtered:        c.filtered.Load(),
		ConsoleFrames:   c.console.Load(),
		BackendOverflow: c.overflow.Load(),
		BackendErrors:   c.backendErrors.Load(),
	}
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		Sink: transport.Discard,
		tune: tuning{
			flushInterval:    defaultFlushInterval,
			batchSize:        defaultBatchSize,
			readDeadline:     defaultReadDeadline,
			handshakeTimeout: defaultHandshakeTimeout,
		},
		logger:   logging.L(),
		readyCh:  make(chan struct{}),
		errCh:    make(chan error, 1),
		sessions: make(map[*session]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Addr is the configured address, or the bound one once Ready is closed.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Errors carries the first unread error; later errors replace LastError only.
func (s *Server) Errors() <-chan error { return s.errCh }

func (s *Server) LastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// fail records err under its sentinel and counts it.
func (s *Server) fail(kind, err error) error {
	wrap := fmt.Errorf("%w: %v", kind, err)
	metrics.IncError(mapErrToMetric(wrap))
	s.errMu.Lock()
	s.lastErr = wrap
	s.errMu.Unlock()
	select {
	case s.errCh <- wrap:
	default:
	}
	return wrap
}

// Serve listens and runs sessions until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.Addr()
	if addr == "" {
		addr = ":0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return s.fail(ErrListen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", ln.Addr().String())
	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		conn, err := ln.Accept()
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return nil
		}
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) {
				time.Sleep(acceptBackoff)
				continue
			}
			return s.fail(ErrAccept, err)
		}
		s.admit(ctx, conn)
	}
}

// admit completes the hello exchange and starts a session for conn.
func (s *Server) admit(ctx context.Context, conn net.Conn) {
	s.stats.accepted.Add(1)
	id := s.nextID.Add(1)
	log := s.logger.With("conn_id", id, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if err := cnl.Handshake(ctx, conn, s.tune.handshakeTimeout); err != nil {
		s.stats.handshakeFail.Add(1)
		log.Warn("handshake_failed", "error", s.fail(ErrHandshake, err))
		_ = conn.Close()
		return
	}
	if limit := s.tune.maxClients; limit > 0 && s.Hub != nil && s.Hub.Count() >= limit {
		metrics.IncHubReject()
		log.Warn("client_reject_max", "max_clients", limit)
		_ = conn.Close()
		return
	}
	ss := &session{srv: s, conn: conn, client: s.newClient(), log: log}
	s.sessMu.Lock()
	s.sessions[ss] = struct{}{}
	s.sessMu.Unlock()
	s.stats.connected.Add(1)
	log.Info("client_connected")
	ss.start(ctx.Done())
}

// newClient registers a hub client; without a hub the client only feeds the sink.
func (s *Server) newClient() *hub.Client {
	if s.Hub == nil {
		return hub.NewClient(hub.DefaultOutBuf)
	}
	return s.Hub.NewClient()
}

func (s *Server) drop(ss *session) {
	s.sessMu.Lock()
	_, ok := s.sessions[ss]
	delete(s.sessions, ss)
	s.sessMu.Unlock()
	if !ok {
		return
	}
	if s.Hub != nil {
		s.Hub.Remove(ss.client)
	} else {
		ss.client.Close()
	}
	s.stats.disconnected.Add(1)
	ss.log.Info("client_disconnected")
}

// Shutdown closes the listener and every session and waits for their
// goroutines until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.sessMu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for ss := range s.sessions {
		open = append(open, ss)
	}
	s.sessMu.Unlock()
	for _, ss := range open {
		_ = ss.conn.Close()
		s.drop(ss)
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
	}
	st := s.Stats()
	s.logger.Info("shutdown_summary",
		"accepted", st.Accepted, "handshake_fail", st.HandshakeFail,
		"connected", st.Connected, "disconnected", st.Disconnected,
		"filtered", st.Filtered, "console_frames", st.ConsoleFrames,
		"backend_overflow", st.BackendOverflow, "backend_errors", st.BackendErrors)
	return nil
}

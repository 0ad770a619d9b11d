package server

import (
	"log/slog"
	"time"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/hub"
	"github.com/kstaniek/go-can-console/internal/transport"
)

const (
	defaultFlushInterval    = 5 * time.Millisecond
	defaultBatchSize        = 64
	defaultReadDeadline     = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
)

// tuning holds the per-connection knobs.
type tuning struct {
	flushInterval    time.Duration
	batchSize        int
	readDeadline     time.Duration
	handshakeTimeout time.Duration
	maxClients       int
}

type ServerOption func(*Server)

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }
func WithHub(hb *hub.Hub) ServerOption     { return func(s *Server) { s.Hub = hb } }

// WithSink sets where frames received from clients are sent.
func WithSink(sink transport.FrameSink) ServerOption {
	return func(s *Server) {
		if sink != nil {
			s.Sink = sink
		}
	}
}

// WithFrameFilter drops client frames for which fn returns false.
func WithFrameFilter(fn func(can.Frame) bool) ServerOption {
	return func(s *Server) { s.accept = fn }
}

// Non-positive values keep the defaults.
func WithFlushInterval(d time.Duration) ServerOption {
	return func(s *Server) { setPositive(&s.tune.flushInterval, d) }
}

func WithBatchSize(n int) ServerOption { return func(s *Server) { setPositive(&s.tune.batchSize, n) } }

func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) { setPositive(&s.tune.readDeadline, d) }
}

func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) { setPositive(&s.tune.handshakeTimeout, d) }
}

// WithMaxClients limits concurrent clients; 0 means unlimited.
func WithMaxClients(n int) ServerOption {
	return func(s *Server) { setPositive(&s.tune.maxClients, n) }
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func setPositive[T int | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

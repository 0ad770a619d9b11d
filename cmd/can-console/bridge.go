package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-console/internal/backend"
	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/hub"
	"github.com/kstaniek/go-can-console/internal/server"
	"github.com/kstaniek/go-can-console/internal/transport"
)

// bridge joins the simulated bus with the TCP hub and an optional external
// bus link. Frames transmitted by the simulated controllers reach every
// outside party; frames from outside reach the simulated controllers and the
// other outside parties.
type bridge struct {
	hub     *hub.Hub
	link    backend.Link
	srv     *server.Server
	outs    []transport.FrameSink
	cleanup []func()
}

func startBridge(ctx context.Context, cfg *appConfig, m *machine, l *slog.Logger, wg *sync.WaitGroup) (*bridge, error) {
	b := &bridge{}
	if cfg.listenAddr != "" {
		b.hub = initHub(cfg, l)
		b.outs = append(b.outs, b.hub)
	}
	if cfg.backend != "tcp" {
		bcfg := backend.Config{
			Kind:         cfg.backend,
			SerialDev:    cfg.serialDev,
			Baud:         cfg.baud,
			SerialReadTO: cfg.serialReadTO,
			Bitrate:      uint32(cfg.bitrate),
			CANIf:        cfg.canIf,
		}
		link, err := backend.Open(ctx, bcfg, b.fromLink(m), l, wg)
		if err != nil {
			b.close()
			return nil, err
		}
		b.link = link
		b.outs = append(b.outs, link)
		b.cleanup = append(b.cleanup, link.Close)
	}
	b.cleanup = append(b.cleanup, m.bus.Tap(b.toOutside))
	if b.hub != nil {
		b.srv = server.NewServer(
			server.WithListenAddr(cfg.listenAddr),
			server.WithHub(b.hub),
			server.WithSink(b.fromClients(m)),
			server.WithLogger(l),
			server.WithMaxClients(cfg.maxClients),
			server.WithHandshakeTimeout(cfg.handshakeTO),
			server.WithReadDeadline(cfg.clientReadTO),
		)
	}
	return b, nil
}

// toOutside is the bus tap: simulated transmissions reach every outside party.
// Sinks are non-blocking; overflow is counted by each sink.
func (b *bridge) toOutside(fr can.Frame) {
	for _, out := range b.outs {
		_ = out.SendFrame(fr)
	}
}

// fromLink delivers external bus frames to the simulation and TCP clients.
func (b *bridge) fromLink(m *machine) backend.Deliver {
	return func(fr can.Frame) {
		m.bus.Inject(fr)
		if b.hub != nil {
			_ = b.hub.SendFrame(fr)
		}
	}
}

// fromClients delivers TCP client frames to the simulation and the external bus.
func (b *bridge) fromClients(m *machine) transport.FrameSink {
	return transport.SinkFunc(func(fr can.Frame) error {
		m.bus.Inject(fr)
		if b.link != nil {
			return b.link.SendFrame(fr)
		}
		return nil
	})
}

func (b *bridge) close() {
	for i := len(b.cleanup) - 1; i >= 0; i-- {
		b.cleanup[i]()
	}
	b.cleanup = nil
}

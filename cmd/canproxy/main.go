// Command canproxy bridges a board's CAN console to stdin and stdout, for
// interactive use or as a transport for tools driving the board's REPL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kstaniek/go-can-console/internal/backend"
	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/metrics"
)

func main() {
	cfg, showVersion, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("canproxy %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.backend == backend.KindTCP && cfg.tcpAddr == mdnsAddr {
		addr, entry, err := browseConsole(ctx, cfg.dialTO)
		if err != nil {
			l.Error("mdns_browse_failed", "error", err)
			os.Exit(1)
		}
		l.Info("mdns_found", "instance", entry.Instance, "addr", addr, "txt", entry.Text)
		cfg.tcpAddr = addr
	}

	exitChar := -1
	if cfg.raw {
		exitChar, _ = cfg.exitByte()
	}
	p := newProxy(os.Stdout, exitChar, l)
	var wg sync.WaitGroup
	link, err := backend.Open(ctx, backend.Config{
		Kind:         cfg.backend,
		SerialDev:    cfg.serialDev,
		Baud:         cfg.baud,
		SerialReadTO: cfg.serialReadTO,
		Bitrate:      uint32(cfg.bitrateKbps) * 1000,
		CANIf:        cfg.canIf,
		IDs:          []uint32{can.ConsoleTxID},
		TCPAddr:      cfg.tcpAddr,
		TCPDialTO:    cfg.dialTO,
	}, p.deliver, l, &wg)
	if err != nil {
		l.Error("backend_open_failed", "backend", cfg.backend, "error", err)
		os.Exit(1)
	}
	p.link = link

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	if cfg.raw {
		restore, err := makeRaw(int(os.Stdin.Fd()))
		if err != nil {
			l.Error("raw_mode_failed", "error", err)
			link.Close()
			os.Exit(1)
		}
		defer func() { _ = restore() }()
	}

	done := make(chan error, 1)
	go func() { done <- p.pump(ctx, os.Stdin) }()
	select {
	case err = <-done:
		if err != nil && !errors.Is(err, errExit) {
			l.Error("stdin_read_failed", "error", err)
		}
	case <-ctx.Done():
	}
	cancel()
	link.Close()
	wg.Wait()
}

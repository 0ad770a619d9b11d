package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-can-console/internal/cnl"
	"github.com/kstaniek/go-can-console/internal/metrics"
)

const bringUpTimeout = 2 * time.Second

func main() {
	cfg, set, showVersion, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("can-console %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	profile, err := loadProfile(cfg, set)
	if err != nil {
		l.Error("board_profile_error", "path", cfg.boardPath, "error", err)
		os.Exit(1)
	}
	m, err := newMachine(profile, l)
	if err != nil {
		l.Error("machine_init_error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	br, err := startBridge(ctx, cfg, m, l, &wg)
	if err != nil {
		l.Error("backend_init_error", "backend", cfg.backend, "error", err)
		os.Exit(1)
	}
	defer br.close()

	if err := m.start(ctx, bringUpTimeout); err != nil {
		l.Error("bring_up_failed", "error", err)
		os.Exit(1)
	}
	l.Info("board_running", "board", profile.Name, "controllers", len(m.ctrls), "bitrate", cfg.bitrate)

	if m.console != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			newREPL(m, cfg.prompt, l).run(ctx)
		}()
	} else {
		l.Warn("no_console_controller")
	}

	if br.srv != nil {
		go func() {
			if err := br.srv.Serve(ctx); err != nil {
				l.Error("tcp_server_error", "error", err)
				cancel()
			}
		}()
		go advertise(ctx, cfg, br, m, l)
	}

	metrics.SetReadinessFunc(func() bool {
		if ctx.Err() != nil {
			return false
		}
		if br.srv == nil {
			return true
		}
		select {
		case <-br.srv.Ready():
			return true
		default:
			return false
		}
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	if br.srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = br.srv.Shutdown(sctx)
		scancel()
	}
	br.close()
	wg.Wait()
}

// advertise starts mDNS once the listener is bound.
func advertise(ctx context.Context, cfg *appConfig, br *bridge, m *machine, l *slog.Logger) {
	if !cfg.mdnsEnable {
		return
	}
	select {
	case <-br.srv.Ready():
	case <-ctx.Done():
		return
	}
	port := listenPort(br.srv.Addr())
	console := -1
	if m.console != nil {
		console = m.console.Instance()
	}
	stop, err := startMDNS(ctx, cfg, port, console)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", cnl.MDNSService, "name", cfg.mdnsName, "port", port)
	<-ctx.Done()
	stop()
}

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/kstaniek/go-can-console/internal/cnl"
)

// startMDNS registers the console service and returns a cleanup function.
// It is a no-op when disabled.
func startMDNS(ctx context.Context, cfg *appConfig, port int, console int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("can-console-%s", host)
	}
	meta := []string{
		"backend=" + cfg.backend,
		"bitrate=" + strconv.FormatUint(uint64(cfg.bitrate), 10),
		"console=can" + strconv.Itoa(console),
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, cnl.MDNSService, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}

// listenPort extracts the port of a bound address (host:port or :port).
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}

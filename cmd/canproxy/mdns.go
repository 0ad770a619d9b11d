package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/kstaniek/go-can-console/internal/cnl"
)

// browseConsole returns the address of the first console board advertised
// via mDNS within timeout.
func browseConsole(ctx context.Context, timeout time.Duration) (string, *zeroconf.ServiceEntry, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", nil, fmt.Errorf("mdns resolver: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Browse(ctx, cnl.MDNSService, "local.", entries); err != nil {
		return "", nil, fmt.Errorf("mdns browse: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return "", nil, fmt.Errorf("mdns browse: no %s service found", cnl.MDNSService)
		case e, ok := <-entries:
			if !ok {
				return "", nil, fmt.Errorf("mdns browse: no %s service found", cnl.MDNSService)
			}
			if addr := entryAddr(e); addr != "" {
				return addr, e, nil
			}
		}
	}
}

func entryAddr(e *zeroconf.ServiceEntry) string {
	if e == nil || e.Port == 0 {
		return ""
	}
	port := strconv.Itoa(e.Port)
	if len(e.AddrIPv4) > 0 {
		return net.JoinHostPort(e.AddrIPv4[0].String(), port)
	}
	if len(e.AddrIPv6) > 0 {
		return net.JoinHostPort(e.AddrIPv6[0].String(), port)
	}
	return ""
}

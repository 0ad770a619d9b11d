package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-console/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				logSnapshot(l, metrics.Snap())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot) {
	l.Info("metrics_snapshot",
		"console_rx", snap.ConsoleRx,
		"console_tx", snap.ConsoleTx,
		"console_drops", snap.ConsoleDrops,
		"interrupts", snap.ConsoleIntr,
		"fifo_rx", snap.FIFORx,
		"fifo_drops", snap.FIFODrops,
		"fifo_overflows", snap.FIFOOverflows,
		"pool_tx", snap.PoolTx,
		"serial_rx", snap.SerialRx,
		"serial_tx", snap.SerialTx,
		"socketcan_rx", snap.SocketCANRx,
		"socketcan_tx", snap.SocketCANTx,
		"tcp_rx", snap.TCPRx,
		"tcp_tx", snap.TCPTx,
		"hub_drops", snap.HubDrops,
		"errors", snap.Errors,
	)
}

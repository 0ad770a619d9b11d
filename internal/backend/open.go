package backend

import (
	"context"
	"log/slog"
	"sync"
)

// Open starts the link selected by cfg.Kind. Receive loops are tracked by wg
// and stop when ctx is cancelled or the link is closed.
func Open(ctx context.Context, cfg Config, deliver Deliver, l *slog.Logger, wg *sync.WaitGroup) (Link, error) {
	switch cfg.Kind {
	case KindSerial:
		return OpenSerial(ctx, cfg, deliver, l, wg)
	case KindSocketCAN:
		return OpenSocketCAN(ctx, cfg, deliver, l, wg)
	case KindTCP:
		return DialTCP(ctx, cfg, deliver, l, wg)
	default:
		return nil, unknownKind(cfg.Kind)
	}
}

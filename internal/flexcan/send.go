package flexcan

import (
	"context"
	"fmt"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/metrics"
)

// Send transmits f through the first idle pool mailbox, spinning until one
// frees up. Length and identifier are checked before any mailbox is touched.
func (c *Controller) Send(f can.Frame) error { return c.send(nil, f) }

// SendContext is Send with the wait for a free mailbox bounded by ctx.
func (c *Controller) SendContext(ctx context.Context, f can.Frame) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.send(ctx, f)
}

// SendFrame satisfies transport.FrameSink.
func (c *Controller) SendFrame(f can.Frame) error { return c.Send(f) }

func (c *Controller) send(ctx context.Context, f can.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if can.IsConsole(f) || (f.Extended && f.ID == ReservedID) {
		return fmt.Errorf("%w: 0x%X", ErrReservedID, f.ID)
	}
	if !c.running() {
		return ErrNotRunning
	}
	msg := newTxMessage(f)

	c.txMu.Lock()
	defer c.txMu.Unlock()
	for {
		for mb := MBPoolFirst; mb <= MBPoolLast; mb++ {
			if mailboxCode(c.dev, mb) == CodeTxInactive {
				msg.arm(c.dev, mb)
				metrics.IncPoolTx()
				return nil
			}
		}
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: tx pool busy: %v", ErrWaitAborted, err)
			}
		}
		c.relax()
	}
}

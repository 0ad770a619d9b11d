package flexcan

import (
	"context"
	"fmt"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/metrics"
)

// TryRecv returns the oldest frame accepted by the FIFO filters, if any.
// Console frames are never returned.
func (c *Controller) TryRecv() (can.Frame, bool) { return c.rxOut.Pop() }

// Recv waits for a frame until ctx is done. A nil ctx waits forever.
func (c *Controller) Recv(ctx context.Context) (can.Frame, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		if f, ok := c.rxOut.Pop(); ok {
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			return can.Frame{}, err
		}
		c.relax()
	}
}

// Pending reports the number of received frames waiting.
func (c *Controller) Pending() int { return c.rxOut.Len() }

// Filters returns the current filter table.
func (c *Controller) Filters() [NumFilters]Filter {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	return c.filters
}

// SetFilter programs FIFO filter bank. The controller is briefly frozen, so
// frames on the bus during the update are not received.
func (c *Controller) SetFilter(bank int, f Filter) error {
	if bank < 0 || bank >= NumFilters {
		return fmt.Errorf("%w: %d", ErrFilterBank, bank)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	return c.updateFilter(bank, f)
}

// ClearFilter returns bank to MatchNothing.
func (c *Controller) ClearFilter(bank int) error {
	if bank < 0 || bank >= NumFilters {
		return fmt.Errorf("%w: %d", ErrFilterBank, bank)
	}
	return c.updateFilter(bank, MatchNothing)
}

func (c *Controller) updateFilter(bank int, f Filter) error {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	c.filters[bank] = f
	if !c.running() {
		// picked up by the next Configure
		return nil
	}
	d := c.dev
	setBits(d, RegMCR, MCR_FRZ|MCR_HALT)
	if err := c.waitFor(nil, "frzack_set", func() bool { return isSet(d, RegMCR, MCR_FRZACK) }); err != nil {
		return err
	}
	writeFilter(d, bank, f)
	clearBits(d, RegMCR, MCR_HALT)
	if err := c.waitFor(nil, "notrdy_clear", func() bool { return !isSet(d, RegMCR, MCR_NOTRDY) }); err != nil {
		return err
	}
	metrics.IncFilterUpdate()
	e, m := f.Encode()
	c.log.Debug("filter_set", "bank", bank, "element", fmt.Sprintf("0x%08X", e), "mask", fmt.Sprintf("0x%08X", m))
	return nil
}

func writeFilter(d Device, bank int, f Filter) {
	e, m := f.Encode()
	d.Store(filterElementOffset(bank), e)
	d.Store(RXIMROffset(bank), m)
}

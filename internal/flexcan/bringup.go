package flexcan

import (
	"context"
	"fmt"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/metrics"
)

// BringUpState tracks Configure. Every wait between states is an unbounded
// poll of a hardware status bit unless a context is supplied.
//
// FreezeAcknowledged is entered once the module has left low-power mode with
// freeze requested; SoftResetComplete once SOFTRST self-cleared and FRZACK is
// back.
type BringUpState int32

const (
	StatePowerOn BringUpState = iota
	StateClockEnabled
	StateFreezeRequested
	StateFreezeAcknowledged
	StateSoftResetRequested
	StateSoftResetComplete
	StateConfiguring
	StateHaltCleared
	StateRunning
)

func (s BringUpState) String() string {
	switch s {
	case StatePowerOn:
		return "power_on"
	case StateClockEnabled:
		return "clock_enabled"
	case StateFreezeRequested:
		return "freeze_requested"
	case StateFreezeAcknowledged:
		return "freeze_acknowledged"
	case StateSoftResetRequested:
		return "soft_reset_requested"
	case StateSoftResetComplete:
		return "soft_reset_complete"
	case StateConfiguring:
		return "configuring"
	case StateHaltCleared:
		return "halt_cleared"
	case StateRunning:
		return "running"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (c *Controller) setState(s BringUpState) {
	c.state.Store(int32(s))
	c.log.Debug("bringup_state", "state", s.String())
}

// waitFor polls until cond holds. A nil ctx waits forever.
func (c *Controller) waitFor(ctx context.Context, what string, cond func() bool) error {
	for !cond() {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				c.log.Warn("bringup_wait_aborted", "wait", what, "state", c.State().String())
				return fmt.Errorf("%w: %s: %v", ErrWaitAborted, what, err)
			}
		}
		c.relax()
	}
	return nil
}

// Configure brings the controller from reset to Running. A wedged peripheral
// makes it spin forever; use ConfigureContext to bound the waits.
func (c *Controller) Configure() error { return c.configure(nil) }

// ConfigureContext is Configure with waits abandoned when ctx is done.
func (c *Controller) ConfigureContext(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.configure(ctx)
}

func (c *Controller) configure(ctx context.Context) error {
	d := c.dev
	c.setState(StatePowerOn)

	txm, rxm, err := c.cfg.routing()
	if err != nil {
		return err
	}
	if err := c.plat.ConfigurePin(txm); err != nil {
		return fmt.Errorf("tx pin %s: %w", txm.Pin, err)
	}
	if err := c.plat.ConfigurePin(rxm); err != nil {
		return fmt.Errorf("rx pin %s: %w", rxm.Pin, err)
	}
	c.plat.EnableClock(c.cfg.Instance)
	if !isSet(d, RegMCR, MCR_MDIS) {
		// restart of a running module: CLKSRC is writable in disable mode only
		setBits(d, RegMCR, MCR_MDIS)
		if err := c.waitFor(ctx, "lpmack_set", func() bool { return isSet(d, RegMCR, MCR_LPMACK) }); err != nil {
			return err
		}
	}
	setBits(d, RegCTRL1, CTRL1_CLKSRC)
	c.setState(StateClockEnabled)

	setBits(d, RegMCR, MCR_FRZ|MCR_HALT)
	clearBits(d, RegMCR, MCR_MDIS)
	c.setState(StateFreezeRequested)
	if err := c.waitFor(ctx, "lpmack_clear", func() bool { return !isSet(d, RegMCR, MCR_LPMACK) }); err != nil {
		return err
	}
	c.setState(StateFreezeAcknowledged)

	setBits(d, RegMCR, MCR_SOFTRST)
	c.setState(StateSoftResetRequested)
	if err := c.waitFor(ctx, "softrst_clear", func() bool { return !isSet(d, RegMCR, MCR_SOFTRST) }); err != nil {
		return err
	}
	if err := c.waitFor(ctx, "frzack_set", func() bool { return isSet(d, RegMCR, MCR_FRZACK) }); err != nil {
		return err
	}
	c.setState(StateSoftResetComplete)

	c.setState(StateConfiguring)
	mcr := d.Load(RegMCR)
	mcr &^= mcrIDAMMask | mcrMAXMBMask
	mcr |= MCR_IRMQ | MCR_SRXDIS | MCR_RFEN | MCRIDAM(0) | MCRMAXMB(NumMailboxes-1)
	d.Store(RegMCR, mcr)

	bt, err := BitTimingFor(c.cfg.ClockHz, c.cfg.Bitrate)
	if err != nil {
		return err
	}
	d.Store(RegCBT, bt.CBT())
	setBits(d, RegCTRL2, CTRL2_MRP)

	c.filterMu.Lock()
	for bank, f := range c.filters {
		writeFilter(d, bank, f)
	}
	c.filterMu.Unlock()

	irqs := FlagFIFOAvailable
	if c.cfg.Console {
		d.Store(RXIMROffset(MBConsoleRx), can.CAN_EFF_MASK)
		d.Store(MailboxOffset(MBConsoleRx, 1), IDWord(can.ConsoleRxID, true))
		irqs |= FlagConsoleRx
	}
	d.Store(RegIFLAG1, irqs|FlagFIFOWarning|FlagFIFOOverflow)
	setBits(d, RegIMASK1, irqs)

	clearBits(d, RegMCR, MCR_HALT)
	c.setState(StateHaltCleared)
	if err := c.waitFor(ctx, "notrdy_clear", func() bool { return !isSet(d, RegMCR, MCR_NOTRDY) }); err != nil {
		return err
	}

	if c.cfg.Console {
		setMailboxCode(d, MBConsoleRx, CodeRxEmpty, true)
	} else {
		setMailboxCode(d, MBConsoleRx, CodeRxInactive, false)
	}
	for mb := MBConsoleTx; mb <= MBPoolLast; mb++ {
		setMailboxCode(d, mb, CodeTxInactive, false)
	}

	c.plat.EnableIRQ(IRQ(c.cfg.Instance), c.HandleInterrupt)
	c.setState(StateRunning)
	metrics.IncBringUp()
	c.log.Info("can_running",
		"bitrate", bt.Bitrate(c.cfg.ClockHz),
		"console", c.cfg.Console,
		"tx_pin", c.cfg.TxPin.String(),
		"rx_pin", c.cfg.RxPin.String(),
	)
	return nil
}

// Reset discards queued input and runs the bring-up again, as after a soft
// reboot of the runtime. The caller must not be inside Send or Write.
//
// The rings are emptied only once the interrupt handler can no longer run:
// every source is masked and any handler pass already started has returned.
func (c *Controller) Reset() error {
	prev := BringUpState(c.state.Swap(int32(StatePowerOn)))
	if prev >= StateClockEnabled {
		c.dev.Store(RegIMASK1, 0)
	}
	for c.inISR.Load() != 0 {
		c.relax()
	}
	if c.input != nil {
		c.input.Reset()
	}
	c.rx.Reset()
	return c.Configure()
}

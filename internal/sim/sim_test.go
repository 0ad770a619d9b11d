package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/flexcan"
)

// readMCR polls MCR until the status bits settle.
func readMCR(d *Device) uint32 {
	for i := 0; i < defaultLatency; i++ {
		d.Load(flexcan.RegMCR)
	}
	return d.Load(flexcan.RegMCR)
}

// freeze takes d from reset into freeze mode with the FIFO enabled.
func freeze(t *testing.T, d *Device) {
	t.Helper()
	d.clock.Store(true)
	d.Store(flexcan.RegMCR, d.Load(flexcan.RegMCR)&^flexcan.MCR_MDIS)
	mcr := readMCR(d)
	require.Zero(t, mcr&flexcan.MCR_LPMACK)
	require.NotZero(t, mcr&flexcan.MCR_FRZACK)
	d.Store(flexcan.RegMCR, mcr|flexcan.MCR_RFEN)
}

func run(t *testing.T, d *Device) {
	t.Helper()
	d.Store(flexcan.RegMCR, d.Load(flexcan.RegMCR)&^flexcan.MCR_HALT)
	require.Zero(t, readMCR(d)&flexcan.MCR_NOTRDY)
	require.True(t, d.Running())
}

func TestResetState(t *testing.T) {
	d := NewDevice()
	assert.Equal(t, flexcan.MCRReset, d.Peek(flexcan.RegMCR))
	assert.False(t, d.Running())

	assert.Zero(t, d.Load(flexcan.RegMCR), "clock gated")
	d.Store(flexcan.RegIMASK1, 1)
	assert.Equal(t, uint64(2), d.Violations())
	assert.Zero(t, d.Peek(flexcan.RegIMASK1))
}

func TestStatusFollowsAfterLatency(t *testing.T) {
	d := NewDevice(WithLatency(3))
	d.clock.Store(true)
	d.Store(flexcan.RegMCR, flexcan.MCRReset&^flexcan.MCR_MDIS)
	for i := 0; i < 3; i++ {
		assert.NotZero(t, d.Load(flexcan.RegMCR)&flexcan.MCR_LPMACK, "read %d", i)
	}
	assert.Zero(t, d.Load(flexcan.RegMCR)&flexcan.MCR_LPMACK)
}

func TestSoftResetSelfClears(t *testing.T) {
	d := NewDevice()
	freeze(t, d)
	d.Store(flexcan.RegIMASK1, 0xFF)
	d.Store(flexcan.RegMCR, d.Load(flexcan.RegMCR)|flexcan.MCR_SOFTRST)
	assert.NotZero(t, d.Peek(flexcan.RegMCR)&flexcan.MCR_SOFTRST)
	assert.Zero(t, d.Peek(flexcan.RegIMASK1))

	mcr := readMCR(d)
	assert.Zero(t, mcr&flexcan.MCR_SOFTRST)
	assert.Zero(t, mcr&flexcan.MCR_RFEN, "mode bits back to reset")
	assert.NotZero(t, mcr&flexcan.MCR_FRZACK)
}

func TestProtectedWritesOutsideFreeze(t *testing.T) {
	d := NewDevice()
	freeze(t, d)
	d.Store(flexcan.RegCBT, 0x1234)
	run(t, d)

	d.Store(flexcan.RegCBT, 0x5678)
	d.Store(flexcan.RXIMROffset(0), 0)
	assert.Equal(t, uint32(0x1234), d.Peek(flexcan.RegCBT))
	assert.Equal(t, uint64(2), d.Violations())
}

func TestFIFOOrderAndOverflow(t *testing.T) {
	d := NewDevice()
	freeze(t, d)
	e, m := flexcan.AcceptAll(false).Encode()
	d.Store(flexcan.RAMOffset(24), e)
	d.Store(flexcan.RXIMROffset(0), m)
	run(t, d)

	for i := 0; i < fifoDepth; i++ {
		require.True(t, d.Receive(can.Frame{ID: uint32(i), Len: 1}))
	}
	assert.False(t, d.Receive(can.Frame{ID: 99}), "lost to a full FIFO")
	assert.Equal(t, uint64(fifoDepth), d.RxCount())
	flags := d.Peek(flexcan.RegIFLAG1)
	assert.NotZero(t, flags&flexcan.FlagFIFOAvailable)
	assert.NotZero(t, flags&flexcan.FlagFIFOWarning)
	assert.NotZero(t, flags&flexcan.FlagFIFOOverflow)

	for i := 0; i < fifoDepth; i++ {
		require.NotZero(t, d.Load(flexcan.RegIFLAG1)&flexcan.FlagFIFOAvailable)
		mb := flexcan.ReadMailbox(d, flexcan.MBFIFOOutput)
		assert.Equal(t, uint32(i), mb.Frame().ID)
		d.Store(flexcan.RegIFLAG1, flexcan.FlagFIFOAvailable)
	}
	assert.Zero(t, d.Load(flexcan.RegIFLAG1)&flexcan.FlagFIFOAvailable)
	assert.Zero(t, d.FIFOLen())
}

func TestUnmatchedFrameDropped(t *testing.T) {
	d := NewDevice()
	freeze(t, d)
	e, m := flexcan.MatchNothing.Encode()
	for bank := 0; bank < flexcan.NumFilters; bank++ {
		d.Store(flexcan.RAMOffset(24+bank), e)
		d.Store(flexcan.RXIMROffset(bank), m)
	}
	run(t, d)
	assert.False(t, d.Receive(can.Frame{ID: 0x100}))
	assert.False(t, d.Receive(can.Frame{ID: 0x1FFFFFF0, Extended: true}))
	assert.True(t, d.Receive(can.Frame{ID: flexcan.ReservedID, Extended: true}))
	assert.Equal(t, uint64(1), d.RxCount())
}

func TestUnprogrammedBankAcceptsEverything(t *testing.T) {
	d := NewDevice()
	freeze(t, d)
	run(t, d)
	assert.True(t, d.Receive(can.Frame{ID: 0x100}))
}

func TestArmedInFreezeSentOnResume(t *testing.T) {
	d := NewDevice()
	var sent []can.Frame
	d.OnTransmit(func(f can.Frame) { sent = append(sent, f) })
	freeze(t, d)
	run(t, d)

	d.Store(flexcan.RegMCR, d.Load(flexcan.RegMCR)|flexcan.MCR_FRZ|flexcan.MCR_HALT)
	require.NotZero(t, readMCR(d)&flexcan.MCR_FRZACK)
	require.False(t, d.Running())

	m := flexcan.MailboxFromFrame(can.Frame{ID: 0x77, Len: 1}, flexcan.CodeTxData)
	for w := 3; w >= 0; w-- {
		d.Store(flexcan.MailboxOffset(11, w), m[w])
	}
	assert.Empty(t, sent, "frozen controller does not transmit")
	assert.Equal(t, flexcan.CodeTxData, d.Mailbox(11).Code())

	run(t, d)
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(0x77), sent[0].ID)
	assert.Equal(t, flexcan.CodeTxInactive, d.Mailbox(11).Code())
	assert.Equal(t, uint64(1), d.TxCount())
}

func TestHeldTransmission(t *testing.T) {
	d := NewDevice(WithHoldTx())
	var sent []can.Frame
	d.OnTransmit(func(f can.Frame) { sent = append(sent, f) })
	freeze(t, d)
	run(t, d)

	m := flexcan.MailboxFromFrame(can.Frame{ID: 0x10, Len: 1, Data: [8]byte{9}}, flexcan.CodeTxData)
	for w := 3; w >= 0; w-- {
		d.Store(flexcan.MailboxOffset(12, w), m[w])
	}
	assert.Equal(t, 1, d.HeldTx())
	assert.Empty(t, sent)

	assert.Equal(t, 1, d.CompleteTx(5))
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(0x10), sent[0].ID)
	assert.Equal(t, flexcan.CodeTxInactive, d.Mailbox(12).Code())
	assert.NotZero(t, d.Peek(flexcan.RegIFLAG1)&(1<<12))
	assert.Equal(t, uint64(1), d.TxCount())
}

func TestInterruptHandlerNotReentered(t *testing.T) {
	d := NewDevice()
	freeze(t, d)
	e, m := flexcan.AcceptAll(false).Encode()
	d.Store(flexcan.RAMOffset(24), e)
	d.Store(flexcan.RXIMROffset(0), m)
	d.Store(flexcan.RegIMASK1, flexcan.FlagFIFOAvailable)
	run(t, d)

	depth, maxDepth, calls := 0, 0, 0
	var got []uint32
	d.setHandler(func() {
		calls++
		depth++
		if depth > maxDepth {
			maxDepth = depth
		}
		if calls == 1 {
			// raised while the handler runs: deferred to a second pass
			d.Receive(can.Frame{ID: 2})
		}
		for d.Load(flexcan.RegIFLAG1)&flexcan.FlagFIFOAvailable != 0 {
			got = append(got, flexcan.ReadMailbox(d, 0).Frame().ID)
			d.Store(flexcan.RegIFLAG1, flexcan.FlagFIFOAvailable)
		}
		depth--
	})
	d.Receive(can.Frame{ID: 1})
	assert.Equal(t, []uint32{1, 2}, got)
	assert.Equal(t, 1, maxDepth)
	assert.Equal(t, 2, calls)
}

func TestBusDelivery(t *testing.T) {
	bus := NewBus()
	a, b := NewDevice(), NewDevice()
	bus.Attach(a)
	bus.Attach(b)
	var tapped []can.Frame
	remove := bus.Tap(func(f can.Frame) { tapped = append(tapped, f) })

	for _, d := range []*Device{a, b} {
		freeze(t, d)
		e, m := flexcan.AcceptAll(false).Encode()
		d.Store(flexcan.RAMOffset(24), e)
		d.Store(flexcan.RXIMROffset(0), m)
		run(t, d)
	}

	m := flexcan.MailboxFromFrame(can.Frame{ID: 0x55}, flexcan.CodeTxData)
	for w := 3; w >= 0; w-- {
		a.Store(flexcan.MailboxOffset(10, w), m[w])
	}
	assert.Equal(t, 1, b.FIFOLen())
	assert.Zero(t, a.FIFOLen(), "no self reception")
	require.Len(t, tapped, 1)

	assert.True(t, bus.Inject(can.Frame{ID: 0x66}))
	assert.Equal(t, 2, b.FIFOLen())
	assert.Equal(t, 1, a.FIFOLen())
	assert.Len(t, tapped, 1, "injected frames are not tapped")
	assert.Equal(t, uint64(2), b.RxCount())

	remove()
	a.Store(flexcan.MailboxOffset(10, 0), m[0])
	assert.Len(t, tapped, 1)
}

func TestPlatformRouting(t *testing.T) {
	p := NewPlatform()
	d := NewDevice()
	p.Attach(1, d)
	p.EnableClock(1)
	assert.True(t, d.ClockEnabled())

	pin := flexcan.Pin{Port: 'C', Num: 7}
	require.NoError(t, p.ConfigurePin(flexcan.PinMux{Pin: pin, Alt: 3}))
	require.NoError(t, p.ConfigurePin(flexcan.PinMux{Pin: pin, Alt: 3}))
	assert.ErrorIs(t, p.ConfigurePin(flexcan.PinMux{Pin: pin, Alt: 5}), ErrPinClaimed)

	called := false
	p.EnableIRQ(flexcan.IRQ(1), func() { called = true })
	assert.True(t, p.IRQEnabled(88))
	d.raise()
	assert.True(t, called)
}

// Package sim models a FlexCAN controller at register level so the driver can
// run unchanged on a host: MCR handshakes, write-1-to-clear flags, mailbox
// transmission, individual-mask matching, the RX FIFO and interrupt delivery.
package sim

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/flexcan"
	"github.com/kstaniek/go-can-console/internal/logging"
)

const (
	fifoDepth        = 6
	fifoWarningLevel = 5
	mcrStatus        = flexcan.MCR_NOTRDY | flexcan.MCR_FRZACK | flexcan.MCR_LPMACK
	defaultLatency   = 2
)

// Device is a simulated register window. It implements flexcan.Device.
type Device struct {
	mu      sync.Mutex
	regs    [flexcan.WindowSize / 4]uint32
	latency int
	pending int // MCR reads left before status bits follow a control change
	wedged  bool
	fifo    []flexcan.Mailbox
	holdTx  bool
	held    []int
	stamp   uint16

	clock   atomic.Bool
	handler func()
	irqMu   sync.Mutex
	irqReq  atomic.Bool

	onTx       func(can.Frame)
	txCount    atomic.Uint64
	rxCount    atomic.Uint64
	violations atomic.Uint64
	log        *slog.Logger
}

// Option tweaks a Device.
type Option func(*Device)

// WithLatency sets how many MCR reads a mode change takes to be acknowledged.
func WithLatency(n int) Option { return func(d *Device) { d.latency = n } }

// WithHoldTx keeps armed TX mailboxes pending until CompleteTx.
func WithHoldTx() Option { return func(d *Device) { d.holdTx = true } }

// WithLogger sets the device logger.
func WithLogger(l *slog.Logger) Option { return func(d *Device) { d.log = l } }

// NewDevice returns a controller in its reset state with the clock gated off.
func NewDevice(opts ...Option) *Device {
	d := &Device{latency: defaultLatency, log: logging.L()}
	for _, o := range opts {
		o(d)
	}
	d.regs[flexcan.RegMCR/4] = flexcan.MCRReset
	return d
}

// OnTransmit installs the callback receiving every frame the controller sends.
func (d *Device) OnTransmit(fn func(can.Frame)) {
	d.mu.Lock()
	d.onTx = fn
	d.mu.Unlock()
}

// Wedge makes the MCR status bits stop following control changes.
func (d *Device) Wedge(on bool) {
	d.mu.Lock()
	d.wedged = on
	d.mu.Unlock()
}

// Load implements flexcan.Device.
func (d *Device) Load(off uintptr) uint32 {
	if !d.clock.Load() {
		d.violations.Add(1)
		return 0
	}
	d.mu.Lock()
	var ev events
	if off == flexcan.RegMCR {
		if d.pending > 0 {
			d.pending--
		} else {
			d.settle(&ev)
		}
	}
	v := d.regs[off/4]
	d.mu.Unlock()
	d.dispatch(ev)
	return v
}

// Store implements flexcan.Device.
func (d *Device) Store(off uintptr, v uint32) {
	if !d.clock.Load() {
		d.violations.Add(1)
		return
	}
	d.mu.Lock()
	var ev events
	switch {
	case off == flexcan.RegMCR:
		d.storeMCR(v)
	case off == flexcan.RegIFLAG1:
		d.clearFlags(v, &ev)
	case off == flexcan.RegCTRL1 || off == flexcan.RegCTRL2 || off == flexcan.RegCBT:
		d.storeProtected(off, v)
	case off >= flexcan.RegRXIMR && off < flexcan.RegRXIMR+4*flexcan.NumMailboxes:
		d.storeProtected(off, v)
	case off >= flexcan.RegRAM && off < flexcan.RegRAM+16*flexcan.NumMailboxes:
		d.storeRAM(off, v, &ev)
	default:
		d.regs[off/4] = v
	}
	d.mu.Unlock()
	d.dispatch(ev)
}

// events collects side effects to run once the register lock is released.
type events struct {
	tx  []can.Frame
	irq bool
}

func (d *Device) dispatch(ev events) {
	if len(ev.tx) == 0 && !ev.irq {
		return
	}
	d.mu.Lock()
	onTx := d.onTx
	d.mu.Unlock()
	for _, f := range ev.tx {
		d.txCount.Add(1)
		d.log.Debug("sim_tx", "frame", f.String())
		if onTx != nil {
			onTx(f)
		}
	}
	if ev.irq {
		d.raise()
	}
}

func (d *Device) frozen() bool {
	return d.regs[flexcan.RegMCR/4]&(flexcan.MCR_FRZACK|flexcan.MCR_MDIS) != 0
}

func (d *Device) running() bool {
	return d.regs[flexcan.RegMCR/4]&(flexcan.MCR_NOTRDY|flexcan.MCR_MDIS) == 0
}

func (d *Device) storeProtected(off uintptr, v uint32) {
	if !d.frozen() {
		d.violations.Add(1)
		d.log.Warn("sim_protected_write", "offset", off)
		return
	}
	d.regs[off/4] = v
}

func (d *Device) storeMCR(v uint32) {
	cur := d.regs[flexcan.RegMCR/4]
	if v&flexcan.MCR_SOFTRST != 0 && cur&flexcan.MCR_SOFTRST == 0 {
		d.softReset(cur)
		return
	}
	d.regs[flexcan.RegMCR/4] = (v &^ mcrStatus) | (cur & mcrStatus)
	d.pending = d.latency
}

// softReset resets MCR (except MDIS), the flags, masks and FIFO. Mailbox
// RAM and the timing registers are untouched.
func (d *Device) softReset(cur uint32) {
	mcr := flexcan.MCRReset &^ (flexcan.MCR_MDIS | mcrStatus)
	mcr |= cur&flexcan.MCR_MDIS | cur&mcrStatus | flexcan.MCR_SOFTRST
	d.regs[flexcan.RegMCR/4] = mcr
	d.regs[flexcan.RegIMASK1/4] = 0
	d.regs[flexcan.RegIFLAG1/4] = 0
	d.regs[flexcan.RegECR/4] = 0
	d.regs[flexcan.RegESR1/4] = 0
	d.fifo = d.fifo[:0]
	d.pending = d.latency
}

// settle brings MCR status bits in line with the control bits. Mailboxes
// armed while the module was not running start transmitting once it runs.
func (d *Device) settle(ev *events) {
	if d.wedged {
		return
	}
	mcr := d.regs[flexcan.RegMCR/4]
	wasRunning := d.running()
	mcr &^= flexcan.MCR_SOFTRST | mcrStatus
	mdis := mcr&flexcan.MCR_MDIS != 0
	if mdis {
		mcr |= flexcan.MCR_LPMACK | flexcan.MCR_NOTRDY
	} else if mcr&flexcan.MCR_FRZ != 0 && mcr&flexcan.MCR_HALT != 0 {
		mcr |= flexcan.MCR_FRZACK | flexcan.MCR_NOTRDY
	}
	d.regs[flexcan.RegMCR/4] = mcr
	if !wasRunning && d.running() {
		d.log.Debug("sim_running")
		d.startPending(ev)
	}
}

// startPending transmits every mailbox outside the FIFO area holding CODE=Data.
func (d *Device) startPending(ev *events) {
	first := 0
	if d.regs[flexcan.RegMCR/4]&flexcan.MCR_RFEN != 0 {
		first = flexcan.MBConsoleRx
	}
	for mb := first; mb < flexcan.NumMailboxes; mb++ {
		if flexcan.CSCode(d.regs[flexcan.MailboxOffset(mb, 0)/4]) == flexcan.CodeTxData {
			d.transmit(mb, ev)
		}
	}
}

func (d *Device) clearFlags(v uint32, ev *events) {
	d.regs[flexcan.RegIFLAG1/4] &^= v
	if v&flexcan.FlagFIFOAvailable == 0 || len(d.fifo) == 0 {
		return
	}
	d.fifo = d.fifo[1:]
	if len(d.fifo) > 0 {
		d.loadFIFOOutput()
		ev.irq = d.irqPending()
	}
}

func (d *Device) loadFIFOOutput() {
	m := d.fifo[0]
	for w := range m {
		d.regs[flexcan.MailboxOffset(flexcan.MBFIFOOutput, w)/4] = m[w]
	}
	d.regs[flexcan.RegIFLAG1/4] |= flexcan.FlagFIFOAvailable
}

func (d *Device) storeRAM(off uintptr, v uint32, ev *events) {
	n := int(off-flexcan.RegRAM) / 4
	mb, word := n/4, n%4
	rfen := d.regs[flexcan.RegMCR/4]&flexcan.MCR_RFEN != 0
	if rfen && mb < flexcan.MBConsoleRx {
		// FIFO engine and filter table: writable in freeze only.
		d.storeProtected(off, v)
		return
	}
	d.regs[off/4] = v
	if word != 0 || flexcan.CSCode(v) != flexcan.CodeTxData {
		return
	}
	if d.running() {
		d.transmit(mb, ev)
	}
}

func (d *Device) transmit(mb int, ev *events) {
	if d.holdTx {
		d.held = append(d.held, mb)
		return
	}
	d.complete(mb, ev)
}

// complete finishes the transmission of mailbox mb.
func (d *Device) complete(mb int, ev *events) {
	var m flexcan.Mailbox
	for w := range m {
		m[w] = d.regs[flexcan.MailboxOffset(mb, w)/4]
	}
	if m.Code() != flexcan.CodeTxData {
		return
	}
	ev.tx = append(ev.tx, m.Frame())
	d.stamp++
	cs := flexcan.CSWord(flexcan.CodeTxInactive, flexcan.CSExtended(m[0]), flexcan.CSDLC(m[0]))
	d.regs[flexcan.MailboxOffset(mb, 0)/4] = cs | uint32(d.stamp)
	d.regs[flexcan.RegIFLAG1/4] |= 1 << uint(mb)
	if d.irqPending() {
		ev.irq = true
	}
}

// CompleteTx finishes up to n held transmissions in arming order and reports
// how many completed.
func (d *Device) CompleteTx(n int) int {
	d.mu.Lock()
	var ev events
	done := 0
	for done < n && len(d.held) > 0 {
		mb := d.held[0]
		d.held = d.held[1:]
		d.complete(mb, &ev)
		done++
	}
	d.mu.Unlock()
	d.dispatch(ev)
	return done
}

// HeldTx returns the number of armed mailboxes waiting on CompleteTx.
func (d *Device) HeldTx() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.held)
}

// Receive offers a frame from the bus. It reports whether the controller
// stored it in a mailbox or the FIFO; a frame lost to a full FIFO is not
// counted.
func (d *Device) Receive(f can.Frame) bool {
	d.mu.Lock()
	var ev events
	ok := d.receive(f, &ev)
	d.mu.Unlock()
	d.dispatch(ev)
	if ok {
		d.rxCount.Add(1)
	}
	return ok
}

func (d *Device) receive(f can.Frame, ev *events) bool {
	if !d.clock.Load() || !d.running() {
		return false
	}
	d.stamp++
	full := -1
	for mb := flexcan.MBConsoleRx; mb < flexcan.NumMailboxes; mb++ {
		cs := d.regs[flexcan.MailboxOffset(mb, 0)/4]
		code := flexcan.CSCode(cs)
		if code != flexcan.CodeRxEmpty && code != flexcan.CodeRxFull && code != flexcan.CodeRxOverrun {
			continue
		}
		if !d.mailboxMatches(mb, cs, f) {
			continue
		}
		// A full mailbox whose flag was cleared has been read out.
		serviced := d.regs[flexcan.RegIFLAG1/4]&(1<<uint(mb)) == 0
		if code == flexcan.CodeRxEmpty || serviced {
			d.fillMailbox(mb, f, flexcan.CodeRxFull, ev)
			return true
		}
		if full < 0 {
			full = mb
		}
	}
	if d.fifoAccepts(f) {
		return d.pushFIFO(f, ev)
	}
	if full >= 0 {
		d.fillMailbox(full, f, flexcan.CodeRxOverrun, ev)
		return true
	}
	return false
}

func (d *Device) mailboxMatches(mb int, cs uint32, f can.Frame) bool {
	if flexcan.CSExtended(cs) != f.Extended {
		return false
	}
	mask := d.regs[flexcan.RXIMROffset(mb)/4] & can.CAN_EFF_MASK
	id := d.regs[flexcan.MailboxOffset(mb, 1)/4] & can.CAN_EFF_MASK
	return (flexcan.IDWord(f.ID, f.Extended)^id)&mask == 0
}

func (d *Device) fillMailbox(mb int, f can.Frame, code flexcan.Code, ev *events) {
	m := flexcan.MailboxFromFrame(f, code)
	m[0] |= uint32(d.stamp)
	for w := 1; w < 4; w++ {
		d.regs[flexcan.MailboxOffset(mb, w)/4] = m[w]
	}
	d.regs[flexcan.MailboxOffset(mb, 0)/4] = m[0]
	d.regs[flexcan.RegIFLAG1/4] |= 1 << uint(mb)
	ev.irq = ev.irq || d.irqPending()
}

func (d *Device) fifoAccepts(f can.Frame) bool {
	if d.regs[flexcan.RegMCR/4]&flexcan.MCR_RFEN == 0 {
		return false
	}
	word := flexcan.FilterWord(f, false)
	for bank := 0; bank < flexcan.NumFilters; bank++ {
		elem := d.regs[flexcan.RAMOffset(flexcan.MBFilterFirst*4+bank)/4]
		mask := d.regs[flexcan.RXIMROffset(bank)/4]
		if flexcan.FilterMatches(word, elem, mask) {
			return true
		}
	}
	return false
}

// pushFIFO stores f in the RX FIFO. A full FIFO loses the frame and raises
// the overflow flag.
func (d *Device) pushFIFO(f can.Frame, ev *events) bool {
	if len(d.fifo) >= fifoDepth {
		d.regs[flexcan.RegIFLAG1/4] |= flexcan.FlagFIFOOverflow
		ev.irq = ev.irq || d.irqPending()
		return false
	}
	m := flexcan.MailboxFromFrame(f, flexcan.CodeRxFull)
	m[0] |= uint32(d.stamp)
	d.fifo = append(d.fifo, m)
	if len(d.fifo) == 1 {
		d.loadFIFOOutput()
	}
	if len(d.fifo) == fifoWarningLevel {
		d.regs[flexcan.RegIFLAG1/4] |= flexcan.FlagFIFOWarning
	}
	ev.irq = ev.irq || d.irqPending()
	return true
}

func (d *Device) irqPending() bool {
	return d.regs[flexcan.RegIFLAG1/4]&d.regs[flexcan.RegIMASK1/4] != 0
}

// setHandler installs the interrupt handler and delivers anything pending.
func (d *Device) setHandler(h func()) {
	d.mu.Lock()
	d.handler = h
	pending := d.irqPending()
	d.mu.Unlock()
	if pending {
		d.raise()
	}
}

// raise runs the interrupt handler. Requests raised while the handler runs,
// including from the handler itself, are folded into another pass.
func (d *Device) raise() {
	d.irqReq.Store(true)
	for d.irqReq.Load() {
		if !d.irqMu.TryLock() {
			return
		}
		for d.irqReq.Swap(false) {
			d.mu.Lock()
			h := d.handler
			d.mu.Unlock()
			if h != nil {
				h()
			}
		}
		d.irqMu.Unlock()
	}
}

// Peek reads a register without side effects.
func (d *Device) Peek(off uintptr) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[off/4]
}

// Mailbox returns the words of mailbox mb without side effects.
func (d *Device) Mailbox(mb int) flexcan.Mailbox {
	d.mu.Lock()
	defer d.mu.Unlock()
	var m flexcan.Mailbox
	for w := range m {
		m[w] = d.regs[flexcan.MailboxOffset(mb, w)/4]
	}
	return m
}

// FIFOLen returns the number of frames held by the RX FIFO.
func (d *Device) FIFOLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fifo)
}

// Running reports whether the controller participates on the bus.
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running()
}

// ClockEnabled reports the peripheral clock gate.
func (d *Device) ClockEnabled() bool { return d.clock.Load() }

// TxCount is the number of frames transmitted.
func (d *Device) TxCount() uint64 { return d.txCount.Load() }

// RxCount is the number of frames accepted from the bus.
func (d *Device) RxCount() uint64 { return d.rxCount.Load() }

// Violations counts register accesses the hardware would reject: accesses
// with the clock gated and writes to freeze-protected registers outside freeze.
func (d *Device) Violations() uint64 { return d.violations.Load() }

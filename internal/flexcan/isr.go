package flexcan

import (
	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/metrics"
)

// HandleInterrupt is the mailbox interrupt handler. It is registered with the
// platform by Configure and must not be called concurrently with itself.
//
// Only sources enabled in IMASK1 are serviced. Each pending mailbox is
// copied out completely before its flag is cleared; clearing the FIFO flag
// advances the hardware FIFO to the next frame.
func (c *Controller) HandleInterrupt() {
	c.inISR.Add(1)
	defer c.inISR.Add(-1)
	d := c.dev
	enabled := d.Load(RegIMASK1)
	if enabled == 0 {
		return
	}
	c.interrupts.Add(1)

	if c.input != nil && enabled&FlagConsoleRx != 0 {
		for d.Load(RegIFLAG1)&FlagConsoleRx != 0 {
			mb := ReadMailbox(d, MBConsoleRx)
			_ = d.Load(RegTIMER) // releases the mailbox lock
			d.Store(RegIFLAG1, FlagConsoleRx)
			f := mb.Frame()
			metrics.AddConsoleRx(int(f.Len))
			c.input.PushChunk(f.Payload())
		}
	}

	for enabled&FlagFIFOAvailable != 0 && d.Load(RegIFLAG1)&FlagFIFOAvailable != 0 {
		mb := ReadMailbox(d, MBFIFOOutput)
		d.Store(RegIFLAG1, FlagFIFOAvailable)
		c.deliver(mb)
	}

	if flags := d.Load(RegIFLAG1) & (FlagFIFOWarning | FlagFIFOOverflow); flags != 0 {
		d.Store(RegIFLAG1, flags)
		if flags&FlagFIFOOverflow != 0 {
			c.fifoOverflows.Add(1)
			metrics.IncFIFOOverflow()
		}
	}
}

// deliver routes one frame read from the RX FIFO.
func (c *Controller) deliver(mb Mailbox) {
	if CSRemote(mb[0]) {
		return
	}
	f := mb.Frame()
	if can.IsConsole(f) {
		// The console RX mailbox was busy and the frame fell through to the
		// FIFO: keep the byte stream whole rather than hand it to Recv.
		if c.input != nil && f.ID == can.ConsoleRxID {
			metrics.AddConsoleRx(int(f.Len))
			c.input.PushChunk(f.Payload())
		}
		return
	}
	if !c.rxIn.Push(f) {
		c.rxDropped.Add(1)
		metrics.IncFIFODrop()
		return
	}
	metrics.IncFIFORx()
}

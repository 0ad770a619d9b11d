package flexcan

import (
	"github.com/kstaniek/go-can-console/internal/console"
	"github.com/kstaniek/go-can-console/internal/metrics"
)

// Write sends p on the console, eight bytes per frame, waiting for the
// console mailbox between frames. Concurrent writers do not interleave.
func (c *Controller) Write(p []byte) (int, error) {
	if c.input == nil {
		return 0, ErrNoConsole
	}
	if !c.running() {
		return 0, ErrNotRunning
	}
	c.consMu.Lock()
	defer c.consMu.Unlock()
	console.ForEachChunk(p, func(chunk []byte) {
		for mailboxCode(c.dev, MBConsoleTx) != CodeTxInactive {
			c.relax()
		}
		newConsoleMessage(chunk).arm(c.dev, MBConsoleTx)
		metrics.AddConsoleTx(len(chunk))
	})
	return len(p), nil
}

// WriteString is Write for strings.
func (c *Controller) WriteString(s string) (int, error) { return c.Write([]byte(s)) }

// ReadByte blocks until a console byte is available.
func (c *Controller) ReadByte() (byte, error) {
	if c.input == nil {
		return 0, ErrNoConsole
	}
	return c.input.ReadByte()
}

// Read blocks for at least one console byte.
func (c *Controller) Read(p []byte) (int, error) {
	if c.input == nil {
		return 0, ErrNoConsole
	}
	return c.input.Read(p)
}

// Poll reports whether console input is waiting.
func (c *Controller) Poll() bool { return c.input != nil && c.input.Poll() }

// SetInterruptChar selects the byte that raises the interrupt callback
// instead of being queued; console.NoInterruptChar disables it.
func (c *Controller) SetInterruptChar(ch int) {
	if c.input != nil {
		c.input.SetInterruptChar(ch)
	}
}

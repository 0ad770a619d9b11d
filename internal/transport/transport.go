// Package transport holds the plumbing shared by the bus backends: frame
// sinks and an asynchronous single-writer transmitter.
package transport

import (
	"github.com/kstaniek/go-can-console/internal/can"
)

// FrameSink is a CAN frame transmission target.
type FrameSink interface {
	SendFrame(can.Frame) error
}

// SinkFunc adapts a function to FrameSink.
type SinkFunc func(can.Frame) error

func (fn SinkFunc) SendFrame(f can.Frame) error { return fn(f) }

// Discard accepts and drops every frame.
var Discard FrameSink = SinkFunc(func(can.Frame) error { return nil })

// Filter forwards to next only the frames keep accepts.
func Filter(next FrameSink, keep func(can.Frame) bool) FrameSink {
	return SinkFunc(func(f can.Frame) error {
		if !keep(f) {
			return nil
		}
		return next.SendFrame(f)
	})
}

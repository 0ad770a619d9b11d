//go:build !linux

package socketcan

import "github.com/kstaniek/go-can-console/internal/can"

// Device is unavailable off linux; Open always fails.
type Device struct{}

func Open(iface string, ids ...uint32) (*Device, error) { return nil, ErrUnsupported }

func (*Device) Close() error               { return ErrUnsupported }
func (*Device) ReadFrame(*can.Frame) error { return ErrUnsupported }
func (*Device) WriteFrame(can.Frame) error { return ErrUnsupported }

package serial

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// OpenChannel opens the port and brings the adapter's CAN channel up at bitrate.
func OpenChannel(name string, baud int, readTimeout time.Duration, bitrate uint32) (Port, error) {
	cmds, err := Codec{}.OpenCommands(bitrate)
	if err != nil {
		return nil, err
	}
	p, err := Open(name, baud, readTimeout)
	if err != nil {
		return nil, err
	}
	if _, err := p.Write(cmds); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("slcan open channel: %w", err)
	}
	return p, nil
}

// Package serial attaches to a CAN bus through a USB-serial adapter speaking
// the SLCAN (Lawicel) ASCII protocol.
package serial

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/metrics"
)

var ErrUnsupportedBitrate = errors.New("slcan: unsupported bitrate")

const (
	cr   = '\r'
	bell = '\a'

	// longest valid line: T + 8 id + 1 dlc + 16 data
	maxLine = 1 + 8 + 1 + 2*can.MaxLen
)

var bitrates = map[uint32]byte{
	10_000: '0', 20_000: '1', 50_000: '2', 100_000: '3', 125_000: '4',
	250_000: '5', 500_000: '6', 800_000: '7', 1_000_000: '8',
}

type Codec struct{}

// OpenCommands returns the commands that close, configure and reopen the
// adapter channel at bitrate.
func (Codec) OpenCommands(bitrate uint32) ([]byte, error) {
	code, ok := bitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitrate, bitrate)
	}
	return []byte{'C', cr, 'S', code, cr, 'O', cr}, nil
}

// CloseCommand closes the adapter channel.
func (Codec) CloseCommand() []byte { return []byte{'C', cr} }

// Encode renders f as a transmit command, e.g. "t1232DEAD\r".
func (Codec) Encode(f can.Frame) []byte {
	const hexdigits = "0123456789ABCDEF"
	out := make([]byte, 0, maxLine+1)
	if f.Extended {
		out = append(out, 'T')
		out = appendHex(out, f.ID&can.CAN_EFF_MASK, 8)
	} else {
		out = append(out, 't')
		out = appendHex(out, f.ID&can.CAN_SFF_MASK, 3)
	}
	out = append(out, hexdigits[f.Len&0xF])
	for _, b := range f.Payload() {
		out = append(out, hexdigits[b>>4], hexdigits[b&0xF])
	}
	return append(out, cr)
}

func appendHex(dst []byte, v uint32, digits int) []byte {
	s := strconv.FormatUint(uint64(v), 16)
	for i := len(s); i < digits; i++ {
		dst = append(dst, '0')
	}
	return append(dst, bytes.ToUpper([]byte(s))...)
}

// CompactBuffer reclaims consumed prefix capacity once the buffer has grown
// large relative to its unread bytes. It reports whether it compacted.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if cap(data) < 1024 || len(data)*4 >= cap(data) {
		return false
	}
	clone := append([]byte(nil), data...)
	b.Reset()
	_, _ = b.Write(clone)
	return true
}

// DecodeStream consumes complete lines from in and emits received data
// frames. Acknowledgements, remote frames and status replies are skipped;
// malformed lines are counted and dropped. A partial line stays buffered.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		end := bytes.IndexAny(data, "\r\a")
		if end < 0 {
			if len(data) > maxLine {
				// no terminator where one must be: resync
				metrics.IncMalformed()
				in.Reset()
			}
			return nil
		}
		line := data[:end]
		if data[end] == bell {
			metrics.IncError(metrics.ErrSerialRead)
		} else if f, ok, err := parseLine(line); err != nil {
			metrics.IncMalformed()
		} else if ok {
			out(f)
			metrics.IncSerialRx()
		}
		in.Next(end + 1)
	}
}

// parseLine decodes a "t" or "T" line; other lines report ok=false.
func parseLine(line []byte) (can.Frame, bool, error) {
	if len(line) == 0 {
		return can.Frame{}, false, nil
	}
	var idLen int
	var f can.Frame
	switch line[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
		f.Extended = true
	default:
		return can.Frame{}, false, nil
	}
	if len(line) < 1+idLen+1 {
		return can.Frame{}, false, fmt.Errorf("slcan: short line %q", line)
	}
	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return can.Frame{}, false, fmt.Errorf("slcan: id: %w", err)
	}
	f.ID = uint32(id)
	dlc := line[1+idLen] - '0'
	if dlc > can.MaxLen {
		return can.Frame{}, false, fmt.Errorf("slcan: %w: %q", can.ErrInvalidLength, line)
	}
	payload := line[2+idLen:]
	// some adapters append a 4-digit timestamp
	if len(payload) != 2*int(dlc) && len(payload) != 2*int(dlc)+4 {
		return can.Frame{}, false, fmt.Errorf("slcan: payload length %q", line)
	}
	f.Len = dlc
	for i := 0; i < int(dlc); i++ {
		b, err := strconv.ParseUint(string(payload[2*i:2*i+2]), 16, 8)
		if err != nil {
			return can.Frame{}, false, fmt.Errorf("slcan: data: %w", err)
		}
		f.Data[i] = byte(b)
	}
	if err := f.Validate(); err != nil {
		return can.Frame{}, false, err
	}
	return f, true, nil
}

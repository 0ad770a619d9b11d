// Package cnl speaks the cannelloni TCP protocol used to carry the CAN bus to
// hosts: a fixed hello in both directions, then a stream of frames, each a
// big-endian SocketCAN identifier, one length byte and the payload.
package cnl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/metrics"
)

var (
	// ErrInvalidLength is returned when a length byte exceeds 8.
	ErrInvalidLength = errors.New("cannelloni: invalid length")
	// ErrTruncatedFrame is returned when the stream ends inside a frame.
	ErrTruncatedFrame = errors.New("cannelloni: truncated frame")
	// ErrNotDataFrame marks a well-formed remote or error frame; the stream
	// stays in sync and the caller may continue decoding.
	ErrNotDataFrame = errors.New("cannelloni: remote or error frame")
)

const (
	headerLen   = 5 // identifier + length
	lenMask     = 0x7F
	maxWireSize = headerLen + can.MaxLen
)

// Codec encodes and decodes cannelloni frames. It holds no state.
type Codec struct{}

// AppendFrame appends the wire form of f to dst.
func (Codec) AppendFrame(dst []byte, f can.Frame) []byte {
	dst = binary.BigEndian.AppendUint32(dst, f.CANID())
	dst = append(dst, f.Len)
	return append(dst, f.Payload()...)
}

// Encode packs frames back to back. It returns nil for an empty batch.
func (c Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(frames)*maxWireSize)
	for _, f := range frames {
		buf = c.AppendFrame(buf, f)
	}
	return buf
}

// EncodeTo writes the batch to w with a single Write.
func (c Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	n, err := w.Write(c.Encode(frames))
	if err != nil {
		return n, fmt.Errorf("cannelloni encode: %w", err)
	}
	return n, nil
}

// Decode reads one frame. io.EOF is returned only at a frame boundary.
func (Codec) Decode(r io.Reader) (can.Frame, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return can.Frame{}, fmt.Errorf("cannelloni decode header: %w", ErrTruncatedFrame)
		}
		return can.Frame{}, err
	}
	id := binary.BigEndian.Uint32(hdr[:4])
	n := int(hdr[4] & lenMask)
	if n > can.MaxLen {
		metrics.IncMalformed()
		return can.Frame{}, fmt.Errorf("cannelloni decode: %w (%d)", ErrInvalidLength, n)
	}
	var data [can.MaxLen]byte
	if n > 0 {
		if _, err := io.ReadFull(r, data[:n]); err != nil {
			metrics.IncMalformed()
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return can.Frame{}, fmt.Errorf("cannelloni decode payload: %w", ErrTruncatedFrame)
			}
			return can.Frame{}, fmt.Errorf("cannelloni decode payload: %w", err)
		}
	}
	if !can.IsDataFrame(id) {
		return can.Frame{}, fmt.Errorf("%w: 0x%08X", ErrNotDataFrame, id)
	}
	return can.FromCANID(id, data[:n]), nil
}

// DecodeN decodes up to max frames (all available when max <= 0) and calls
// onFrame for each data frame. Remote and error frames are skipped. The
// terminal error, io.EOF included, is returned with the count of data frames.
func (c Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	n := 0
	for read := 0; max <= 0 || read < max; read++ {
		f, err := c.Decode(r)
		if errors.Is(err, ErrNotDataFrame) {
			continue
		}
		if err != nil {
			return n, err
		}
		onFrame(f)
		n++
	}
	return n, nil
}

package can

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxLen is the classic CAN payload limit.
const MaxLen = 8

// Identifiers reserved for the console byte stream. Both are 29-bit extended.
const (
	ConsoleTxID uint32 = 0x1FFFFFFE // device -> host
	ConsoleRxID uint32 = 0x1FFFFFFD // host -> device
)

var (
	ErrInvalidLength = errors.New("can: invalid length")
	ErrInvalidID     = errors.New("can: invalid identifier")
)

// Frame is a classic CAN data frame.
// Only the first Len bytes of Data are meaningful.
type Frame struct {
	ID       uint32
	Extended bool
	Len      uint8
	Data     [MaxLen]byte
}

// Validate checks the payload length and that ID fits the selected format.
func (f Frame) Validate() error {
	if f.Len > MaxLen {
		return fmt.Errorf("%w: %d", ErrInvalidLength, f.Len)
	}
	max := uint32(CAN_SFF_MASK)
	if f.Extended {
		max = CAN_EFF_MASK
	}
	if f.ID > max {
		return fmt.Errorf("%w: 0x%X", ErrInvalidID, f.ID)
	}
	return nil
}

// Payload returns the valid data bytes.
func (f *Frame) Payload() []byte {
	n := f.Len
	if n > MaxLen {
		n = MaxLen
	}
	return f.Data[:n]
}

// CANID returns the SocketCAN encoding of the identifier (EFF flag for extended frames).
func (f Frame) CANID() uint32 {
	if f.Extended {
		return (f.ID & CAN_EFF_MASK) | CAN_EFF_FLAG
	}
	return f.ID & CAN_SFF_MASK
}

// FromCANID builds a frame from a SocketCAN identifier and payload.
// Bytes past MaxLen are ignored.
func FromCANID(canID uint32, data []byte) Frame {
	var f Frame
	if canID&CAN_EFF_FLAG != 0 {
		f.ID = canID & CAN_EFF_MASK
		f.Extended = true
	} else {
		f.ID = canID & CAN_SFF_MASK
	}
	f.Len = uint8(copy(f.Data[:], data))
	return f
}

// IsDataFrame reports whether a SocketCAN identifier describes a plain data frame.
func IsDataFrame(canID uint32) bool { return canID&(CAN_RTR_FLAG|CAN_ERR_FLAG) == 0 }

// IsConsole reports whether f carries console traffic in either direction.
func IsConsole(f Frame) bool {
	return f.Extended && (f.ID == ConsoleTxID || f.ID == ConsoleRxID)
}

// String renders the frame candump style (123#DEADBEEF, 1FFFFFFE#41).
func (f Frame) String() string {
	if f.Extended {
		return fmt.Sprintf("%08X#%X", f.ID, f.Payload())
	}
	return fmt.Sprintf("%03X#%X", f.ID, f.Payload())
}

// ParseFrame parses the candump form produced by String. Identifiers written
// with more than three hex digits are extended.
func ParseFrame(s string) (Frame, error) {
	idStr, dataStr, ok := strings.Cut(strings.TrimSpace(s), "#")
	if !ok || idStr == "" {
		return Frame{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %q", ErrInvalidID, idStr)
	}
	data, err := hex.DecodeString(dataStr)
	if err != nil {
		return Frame{}, fmt.Errorf("can: bad payload %q: %w", dataStr, err)
	}
	if len(data) > MaxLen {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidLength, len(data))
	}
	f := Frame{ID: uint32(id), Extended: len(idStr) > 3, Len: uint8(len(data))}
	copy(f.Data[:], data)
	return f, f.Validate()
}

package flexcan

import (
	"fmt"

	"github.com/kstaniek/go-can-console/internal/can"
)

// RX FIFO filter table, format A (one full identifier per element).
const (
	fltRTR      uint32 = 1 << 31
	fltIDE      uint32 = 1 << 30
	fltExtShift        = 1
	fltStdShift        = 19
)

// Filter accepts frames whose identifier matches ID on the bits set in Mask.
// Remote frames are never accepted.
type Filter struct {
	ID       uint32
	Extended bool
	Mask     uint32
}

// MatchNothing is programmed into unused filter slots. It only matches the
// extended identifier 0x1FFFFFFF, which is reserved and never sent.
var MatchNothing = Filter{ID: can.CAN_EFF_MASK, Extended: true, Mask: can.CAN_EFF_MASK}

// ReservedID is the identifier behind MatchNothing.
const ReservedID uint32 = can.CAN_EFF_MASK

// AcceptExact returns a filter that matches only id.
func AcceptExact(id uint32, extended bool) Filter {
	m := uint32(can.CAN_SFF_MASK)
	if extended {
		m = can.CAN_EFF_MASK
	}
	return Filter{ID: id, Extended: extended, Mask: m}
}

// AcceptAll returns a filter passing every data frame of the given format.
func AcceptAll(extended bool) Filter { return Filter{Extended: extended} }

// Validate checks ID and Mask against the identifier width.
func (f Filter) Validate() error {
	max := uint32(can.CAN_SFF_MASK)
	if f.Extended {
		max = can.CAN_EFF_MASK
	}
	if f.ID > max || f.Mask > max {
		return fmt.Errorf("%w: filter id=0x%X mask=0x%X", can.ErrInvalidID, f.ID, f.Mask)
	}
	return nil
}

// Encode returns the filter table element and its individual mask.
func (f Filter) Encode() (element, mask uint32) {
	if f == MatchNothing {
		// identical pattern and mask, RTR left as don't-care
		v := fltIDE | can.CAN_EFF_MASK<<fltExtShift
		return v, v
	}
	if f.Extended {
		element = fltIDE | (f.ID&can.CAN_EFF_MASK)<<fltExtShift
		mask = fltRTR | fltIDE | (f.Mask&can.CAN_EFF_MASK)<<fltExtShift
		return element, mask
	}
	element = (f.ID & can.CAN_SFF_MASK) << fltStdShift
	mask = fltRTR | fltIDE | (f.Mask&can.CAN_SFF_MASK)<<fltStdShift
	return element, mask
}

// FilterWord returns the format A comparison word of an incoming frame.
func FilterWord(f can.Frame, remote bool) uint32 {
	var w uint32
	if remote {
		w |= fltRTR
	}
	if f.Extended {
		return w | fltIDE | (f.ID&can.CAN_EFF_MASK)<<fltExtShift
	}
	return w | (f.ID&can.CAN_SFF_MASK)<<fltStdShift
}

// FilterMatches applies one table element and mask to a comparison word.
func FilterMatches(word, element, mask uint32) bool { return (word^element)&mask == 0 }

// Matches reports whether f would accept the frame.
func (f Filter) Matches(fr can.Frame) bool {
	e, m := f.Encode()
	return FilterMatches(FilterWord(fr, false), e, m)
}

func filterElementOffset(bank int) uintptr { return RAMOffset(filterTableRAM + bank) }

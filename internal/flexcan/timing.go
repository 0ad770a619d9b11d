package flexcan

import (
	"errors"
	"fmt"
)

var ErrBitrate = errors.New("flexcan: unsupported bitrate")

const (
	DefaultClockHz uint32 = 80_000_000
	DefaultBitrate uint32 = 500_000

	// Segments for a 16 time-quantum bit with the sample point at 87.5%:
	// sync(1) + prop(8) + phase1(5) + phase2(2).
	quantaPerBit = 16
	tqPropSeg    = 8
	tqPhaseSeg1  = 5
	tqPhaseSeg2  = 2
	tqRJW        = 2

	maxPresDiv = 1 << 10
)

// CBT fields.
const (
	cbtBTF            uint32 = 1 << 31
	cbtPresDivShift          = 21
	cbtRJWShift              = 16
	cbtPropSegShift          = 10
	cbtPhaseSeg1Shift        = 5
)

// BitTiming holds CBT register field values (each one less than the quanta count).
type BitTiming struct {
	PresDiv uint32
	PropSeg uint32
	PSeg1   uint32
	PSeg2   uint32
	RJW     uint32
}

// BitTimingFor computes extended bit timing for bitrate from the protocol clock.
// The clock must divide evenly into 16 quanta per bit.
func BitTimingFor(clockHz, bitrate uint32) (BitTiming, error) {
	if bitrate == 0 || clockHz == 0 {
		return BitTiming{}, fmt.Errorf("%w: %d bit/s @ %d Hz", ErrBitrate, bitrate, clockHz)
	}
	per := uint64(bitrate) * quantaPerBit
	if uint64(clockHz)%per != 0 {
		return BitTiming{}, fmt.Errorf("%w: %d bit/s does not divide %d Hz", ErrBitrate, bitrate, clockHz)
	}
	div := uint64(clockHz) / per
	if div < 1 || div > maxPresDiv {
		return BitTiming{}, fmt.Errorf("%w: prescaler %d out of range", ErrBitrate, div)
	}
	return BitTiming{
		PresDiv: uint32(div - 1),
		PropSeg: tqPropSeg - 1,
		PSeg1:   tqPhaseSeg1 - 1,
		PSeg2:   tqPhaseSeg2 - 1,
		RJW:     tqRJW - 1,
	}, nil
}

// CBT encodes the timing for the CBT register with BTF set.
func (t BitTiming) CBT() uint32 {
	return cbtBTF |
		(t.PresDiv&0x3FF)<<cbtPresDivShift |
		(t.RJW&0x1F)<<cbtRJWShift |
		(t.PropSeg&0x3F)<<cbtPropSegShift |
		(t.PSeg1&0x1F)<<cbtPhaseSeg1Shift |
		t.PSeg2&0x1F
}

// DecodeCBT splits a CBT register value into its fields.
func DecodeCBT(v uint32) BitTiming {
	return BitTiming{
		PresDiv: (v >> cbtPresDivShift) & 0x3FF,
		RJW:     (v >> cbtRJWShift) & 0x1F,
		PropSeg: (v >> cbtPropSegShift) & 0x3F,
		PSeg1:   (v >> cbtPhaseSeg1Shift) & 0x1F,
		PSeg2:   v & 0x1F,
	}
}

// Bitrate returns the bus speed this timing yields at clockHz.
func (t BitTiming) Bitrate(clockHz uint32) uint32 {
	tq := 1 + (t.PropSeg + 1) + (t.PSeg1 + 1) + (t.PSeg2 + 1)
	return clockHz / ((t.PresDiv + 1) * tq)
}

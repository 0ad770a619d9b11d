package flexcan

// Device is a FlexCAN register window. Offsets are byte offsets from the
// module base; every access is a single aligned 32-bit load or store.
type Device interface {
	Load(off uintptr) uint32
	Store(off uintptr, v uint32)
}

// Register offsets (S32K1xx reference manual, FlexCAN chapter).
const (
	RegMCR    uintptr = 0x000
	RegCTRL1  uintptr = 0x004
	RegTIMER  uintptr = 0x008
	RegECR    uintptr = 0x01C
	RegESR1   uintptr = 0x020
	RegIMASK1 uintptr = 0x028
	RegIFLAG1 uintptr = 0x030
	RegCTRL2  uintptr = 0x034
	RegCBT    uintptr = 0x050
	RegRAM    uintptr = 0x080 // RAMn, four words per mailbox
	RegRXIMR  uintptr = 0x880 // individual masks, one per mailbox

	// WindowSize covers the register file for 32 mailboxes.
	WindowSize = 0x1000
)

// MCR bits.
const (
	MCR_MDIS    uint32 = 1 << 31
	MCR_FRZ     uint32 = 1 << 30
	MCR_RFEN    uint32 = 1 << 29
	MCR_HALT    uint32 = 1 << 28
	MCR_NOTRDY  uint32 = 1 << 27
	MCR_SOFTRST uint32 = 1 << 25
	MCR_FRZACK  uint32 = 1 << 24
	MCR_LPMACK  uint32 = 1 << 20
	MCR_SRXDIS  uint32 = 1 << 17
	MCR_IRMQ    uint32 = 1 << 16

	mcrIDAMShift        = 8
	mcrIDAMMask  uint32 = 0x3 << mcrIDAMShift
	mcrMAXMBMask uint32 = 0x7F

	// MCRReset is the documented reset value: disabled, frozen, halted.
	MCRReset uint32 = 0xD890000F
)

// CTRL1 / CTRL2 bits.
const (
	CTRL1_CLKSRC uint32 = 1 << 13
	CTRL2_MRP    uint32 = 1 << 18
)

// IFLAG1 / IMASK1 bits. With the RX FIFO enabled, bits 5..7 report FIFO state.
const (
	FlagFIFOAvailable uint32 = 1 << 5
	FlagFIFOWarning   uint32 = 1 << 6
	FlagFIFOOverflow  uint32 = 1 << 7
	FlagConsoleRx     uint32 = 1 << MBConsoleRx
)

// MCRIDAM encodes the RX FIFO ID acceptance mode (0 = format A).
func MCRIDAM(mode uint32) uint32 { return (mode << mcrIDAMShift) & mcrIDAMMask }

// MCRMAXMB encodes the last mailbox index taking part in matching/arbitration.
func MCRMAXMB(last uint32) uint32 { return last & mcrMAXMBMask }

// MailboxOffset returns the byte offset of word w (0..3) of mailbox mb.
func MailboxOffset(mb, w int) uintptr { return RegRAM + uintptr(mb*16+w*4) }

// RAMOffset returns the byte offset of RAMn word n.
func RAMOffset(n int) uintptr { return RegRAM + uintptr(n*4) }

// RXIMROffset returns the byte offset of the individual mask of slot n.
func RXIMROffset(n int) uintptr { return RegRXIMR + uintptr(n*4) }

func setBits(d Device, off uintptr, bits uint32)   { d.Store(off, d.Load(off)|bits) }
func clearBits(d Device, off uintptr, bits uint32) { d.Store(off, d.Load(off)&^bits) }
func isSet(d Device, off uintptr, bits uint32) bool {
	return d.Load(off)&bits != 0
}

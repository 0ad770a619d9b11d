package flexcan

import (
	"fmt"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/console"
)

// Mailbox map. The same layout is used on every controller.
const (
	MBFIFOOutput  = 0 // RX FIFO read window
	MBFilterFirst = 6 // MB6..7 hold the eight FIFO ID filters (RAMn24..31)
	MBConsoleRx   = 8
	MBConsoleTx   = 9
	MBPoolFirst   = 10
	MBPoolLast    = 15
	NumMailboxes  = 16

	NumFilters     = 8
	filterTableRAM = MBFilterFirst * 4
)

// Role tags what a mailbox is used for.
type Role uint8

const (
	RoleFIFO Role = iota
	RoleFilterTable
	RoleConsoleRx
	RoleConsoleTx
	RoleTxPool
	RoleUnused
)

func (r Role) String() string {
	switch r {
	case RoleFIFO:
		return "rx_fifo"
	case RoleFilterTable:
		return "filter_table"
	case RoleConsoleRx:
		return "console_rx"
	case RoleConsoleTx:
		return "console_tx"
	case RoleTxPool:
		return "tx_pool"
	default:
		return "unused"
	}
}

// RoleOf reports the role of mailbox mb.
func RoleOf(mb int) Role {
	switch {
	case mb >= 0 && mb < MBFilterFirst:
		return RoleFIFO
	case mb >= MBFilterFirst && mb < MBConsoleRx:
		return RoleFilterTable
	case mb == MBConsoleRx:
		return RoleConsoleRx
	case mb == MBConsoleTx:
		return RoleConsoleTx
	case mb >= MBPoolFirst && mb <= MBPoolLast:
		return RoleTxPool
	default:
		return RoleUnused
	}
}

// Code is the 4-bit mailbox CODE field.
type Code uint8

const (
	CodeRxInactive Code = 0x0
	CodeRxBusy     Code = 0x1
	CodeRxFull     Code = 0x2
	CodeRxEmpty    Code = 0x4
	CodeRxOverrun  Code = 0x6
	CodeRxRAnswer  Code = 0xA

	// CodeTxInactive is both "idle" and "transmission finished".
	CodeTxInactive Code = 0x8
	CodeTxAbort    Code = 0x9
	CodeTxData     Code = 0xC
	CodeTxTAnswer  Code = 0xE
)

func (c Code) String() string {
	switch c {
	case CodeRxInactive:
		return "rx_inactive"
	case CodeRxBusy:
		return "rx_busy"
	case CodeRxFull:
		return "rx_full"
	case CodeRxEmpty:
		return "rx_empty"
	case CodeRxOverrun:
		return "rx_overrun"
	case CodeRxRAnswer:
		return "rx_ranswer"
	case CodeTxInactive:
		return "tx_inactive"
	case CodeTxAbort:
		return "tx_abort"
	case CodeTxData:
		return "tx_data"
	case CodeTxTAnswer:
		return "tx_tanswer"
	}
	return fmt.Sprintf("code(0x%X)", uint8(c))
}

// C/S word layout.
const (
	csIDE uint32 = 1 << 21
	csRTR uint32 = 1 << 20

	csCodeShift = 24
	csDLCShift  = 16
	csTimeMask  = 0xFFFF

	idStdShift = 18
)

// CSWord assembles a control/status word.
func CSWord(code Code, extended bool, dlc uint8) uint32 {
	w := uint32(code&0xF)<<csCodeShift | uint32(dlc&0xF)<<csDLCShift
	if extended {
		w |= csIDE
	}
	return w
}

// CSCode extracts CODE from a control/status word.
func CSCode(w uint32) Code { return Code((w >> csCodeShift) & 0xF) }

// CSDLC extracts DLC.
func CSDLC(w uint32) uint8 { return uint8((w >> csDLCShift) & 0xF) }

// CSExtended reports the IDE bit.
func CSExtended(w uint32) bool { return w&csIDE != 0 }

// CSRemote reports the RTR bit.
func CSRemote(w uint32) bool { return w&csRTR != 0 }

// CSTimestamp extracts the 16-bit time stamp.
func CSTimestamp(w uint32) uint16 { return uint16(w & csTimeMask) }

// IDWord places an identifier in the mailbox ID word.
func IDWord(id uint32, extended bool) uint32 {
	if extended {
		return id & can.CAN_EFF_MASK
	}
	return (id & can.CAN_SFF_MASK) << idStdShift
}

// IDFromWord is the inverse of IDWord.
func IDFromWord(w uint32, extended bool) uint32 {
	if extended {
		return w & can.CAN_EFF_MASK
	}
	return (w >> idStdShift) & can.CAN_SFF_MASK
}

// Mailbox is a copy of the four words of one message buffer.
type Mailbox [4]uint32

// ReadMailbox copies mailbox mb starting with the C/S word.
func ReadMailbox(d Device, mb int) Mailbox {
	var m Mailbox
	for w := range m {
		m[w] = d.Load(MailboxOffset(mb, w))
	}
	return m
}

func (m Mailbox) Code() Code { return CSCode(m[0]) }

// Frame decodes the mailbox into a frame. DLC values above 8 are clamped.
func (m Mailbox) Frame() can.Frame {
	ext := CSExtended(m[0])
	f := can.Frame{ID: IDFromWord(m[1], ext), Extended: ext}
	dlc := CSDLC(m[0])
	if dlc > can.MaxLen {
		dlc = can.MaxLen
	}
	f.Len = dlc
	f.Data = console.UnpackWords(m[2], m[3])
	return f
}

// MailboxFromFrame builds mailbox words for f with the given code.
func MailboxFromFrame(f can.Frame, code Code) Mailbox {
	w0, w1 := console.PackWords(f.Payload())
	return Mailbox{CSWord(code, f.Extended, f.Len), IDWord(f.ID, f.Extended), w0, w1}
}

// txMessage is a frame staged for transmission. Its only way into hardware
// is arm, which writes the payload words before the command word.
type txMessage struct{ m Mailbox }

func newTxMessage(f can.Frame) txMessage {
	return txMessage{m: MailboxFromFrame(f, CodeTxData)}
}

func newConsoleMessage(chunk []byte) txMessage {
	w0, w1 := console.PackWords(chunk)
	return txMessage{m: Mailbox{
		CSWord(CodeTxData, true, uint8(len(chunk))),
		IDWord(can.ConsoleTxID, true),
		w0, w1,
	}}
}

func (t txMessage) arm(d Device, mb int) {
	d.Store(MailboxOffset(mb, 1), t.m[1])
	d.Store(MailboxOffset(mb, 2), t.m[2])
	d.Store(MailboxOffset(mb, 3), t.m[3])
	d.Store(MailboxOffset(mb, 0), t.m[0])
}

func mailboxCode(d Device, mb int) Code { return CSCode(d.Load(MailboxOffset(mb, 0))) }

func setMailboxCode(d Device, mb int, code Code, extended bool) {
	d.Store(MailboxOffset(mb, 0), CSWord(code, extended, 0))
}

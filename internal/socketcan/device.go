//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-can-console/internal/can"
)

// Device is a raw CAN socket bound to one interface.
type Device struct {
	fd int
}

// Open binds a raw socket to iface. With ids set, the kernel delivers only
// extended frames carrying one of those identifiers.
func Open(iface string, ids ...uint32) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if !errors.Is(err, unix.ENOPROTOOPT) {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	if len(ids) > 0 {
		filters := make([]unix.CanFilter, 0, len(ids))
		for _, id := range ids {
			filters = append(filters, unix.CanFilter{
				Id:   id&can.CAN_EFF_MASK | can.CAN_EFF_FLAG,
				Mask: can.CAN_EFF_MASK | can.CAN_EFF_FLAG | can.CAN_RTR_FLAG,
			})
		}
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set CAN filter: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic CAN frame. Remote and error frames are
// reported with ErrNotDataFrame and may be skipped by the caller.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}
	if n != unix.CAN_MTU {
		return fmt.Errorf("short read: %d", n)
	}
	return decodeRaw(buf[:], fr)
}

// WriteFrame writes one classic CAN frame to the raw CAN socket.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [unix.CAN_MTU]byte
	encodeRaw(buf[:], fr)
	_, err := unix.Write(d.fd, buf[:])
	return err
}

// struct can_frame, host byte order:
//
//	can_id  u32  [0:4]
//	len     u8   [4]
//	pad     3B   [5:8]
//	data    [8]  [8:16]
func decodeRaw(buf []byte, fr *can.Frame) error {
	id := binary.NativeEndian.Uint32(buf[0:4])
	if !can.IsDataFrame(id) {
		return fmt.Errorf("%w: 0x%08X", ErrNotDataFrame, id)
	}
	dlc := int(buf[4])
	if dlc > can.MaxLen {
		dlc = can.MaxLen
	}
	*fr = can.FromCANID(id, buf[8:8+dlc])
	return nil
}

func encodeRaw(buf []byte, fr can.Frame) {
	binary.NativeEndian.PutUint32(buf[0:4], fr.CANID())
	buf[4] = fr.Len
	copy(buf[8:], fr.Payload())
}

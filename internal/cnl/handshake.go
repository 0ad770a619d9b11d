package cnl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const hello = "CANNELLONIv1"

// MDNSService is the DNS-SD service type under which console boards
// advertise their cannelloni listener.
const MDNSService = "_can-console._tcp"

var ErrBadHello = errors.New("cannelloni: bad hello")

// Handshake sends the hello and waits for the peer's, both sides at once so
// neither end can deadlock on a synchronous transport.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer func() { _ = c.SetDeadline(time.Time{}) }()

	errCh := make(chan error, 2)
	go func() {
		_, err := io.WriteString(c, hello)
		errCh <- err
	}()
	go func() {
		var buf [len(hello)]byte
		_, err := io.ReadFull(c, buf[:])
		if err == nil && string(buf[:]) != hello {
			err = fmt.Errorf("%w: %q", ErrBadHello, buf[:])
		}
		errCh <- err
	}()

	for pending := 2; pending > 0; pending-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
		}
	}
	return nil
}

// Dial connects to a cannelloni server and completes the hello exchange.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	if err := Handshake(ctx, conn, timeout); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

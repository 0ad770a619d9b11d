package cnl

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestHandshakeLoopback(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	done := make(chan error, 1)
	go func() { done <- Handshake(context.Background(), srv, 2*time.Second) }()
	if err := Handshake(context.Background(), cli, 2*time.Second); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
}

func TestHandshakeBadHello(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	go func() {
		buf := make([]byte, len(hello))
		_, _ = srv.Read(buf)
		_, _ = srv.Write([]byte("CANNELLONIv9"))
	}()
	err := Handshake(context.Background(), cli, time.Second)
	if !errors.Is(err, ErrBadHello) {
		t.Fatalf("err=%v want ErrBadHello", err)
	}
}

func TestDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_ = Handshake(context.Background(), c, time.Second)
	}()

	conn, err := Dial(context.Background(), ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.Close()
}

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-console/internal/backend"
	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/console"
	"github.com/kstaniek/go-can-console/internal/metrics"
	"github.com/kstaniek/go-can-console/internal/transport"
)

// errExit ends a session when the exit key is read.
var errExit = errors.New("exit key")

// proxy bridges a byte stream to a remote console: input is cut into
// ConsoleRxID frames, ConsoleTxID payloads are written to out.
type proxy struct {
	link     backend.Link
	log      *slog.Logger
	exitChar int
	output   transport.FrameSink

	outMu sync.Mutex
	out   io.Writer
}

func newProxy(out io.Writer, exitChar int, l *slog.Logger) *proxy {
	p := &proxy{out: out, exitChar: exitChar, log: l}
	p.output = transport.Filter(transport.SinkFunc(p.write), isConsoleOutput)
	return p
}

func isConsoleOutput(fr can.Frame) bool { return fr.Extended && fr.ID == can.ConsoleTxID }

// deliver is the link receive callback.
func (p *proxy) deliver(fr can.Frame) { _ = p.output.SendFrame(fr) }

func (p *proxy) write(fr can.Frame) error {
	p.outMu.Lock()
	n, err := p.out.Write(fr.Payload())
	p.outMu.Unlock()
	metrics.AddConsoleTx(n)
	if err != nil {
		p.log.Warn("stdout_write_error", "error", err)
	}
	return err
}

// pump forwards in to the console until EOF, the exit key or ctx ends.
func (p *proxy) pump(ctx context.Context, in io.Reader) error {
	var buf [console.ChunkSize]byte
	for ctx.Err() == nil {
		n, err := in.Read(buf[:])
		if n > 0 {
			chunk := buf[:n]
			var stop bool
			if chunk, stop = p.cutExit(chunk); len(chunk) > 0 {
				p.send(chunk)
			}
			if stop {
				return errExit
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

// cutExit truncates chunk at the exit key.
func (p *proxy) cutExit(chunk []byte) ([]byte, bool) {
	if p.exitChar < 0 {
		return chunk, false
	}
	for i, b := range chunk {
		if int(b) == p.exitChar {
			return chunk[:i], true
		}
	}
	return chunk, false
}

func (p *proxy) send(chunk []byte) {
	for _, fr := range console.Frames(can.ConsoleRxID, chunk) {
		if err := p.link.SendFrame(fr); err != nil {
			metrics.IncError(metrics.ErrConsoleWrite)
			p.log.Warn("console_send_error", "error", err)
			continue
		}
		metrics.AddConsoleRx(int(fr.Len))
	}
}

package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/cnl"
	"github.com/kstaniek/go-can-console/internal/hub"
	"github.com/kstaniek/go-can-console/internal/metrics"
	"github.com/kstaniek/go-can-console/internal/serial"
)

// capture records frames handed to the backend.
type capture struct {
	mu     sync.Mutex
	frames []can.Frame
	err    error
}

func (c *capture) SendFrame(fr can.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, fr)
	return c.err
}

func (c *capture) snapshot() []can.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]can.Frame(nil), c.frames...)
}

func startServer(t testing.TB, opts ...ServerOption) (*Server, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(append([]ServerOption{WithHandshakeTimeout(time.Second)}, opts...)...)
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		cancel()
		t.Fatalf("server did not signal readiness")
	}
	return srv, cancel
}

func dial(t testing.TB, addr string) net.Conn {
	conn, err := cnl.Dial(context.Background(), addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func console(id uint32, s string) can.Frame {
	f := can.Frame{ID: id, Extended: true, Len: uint8(len(s))}
	copy(f.Data[:], s)
	return f
}

func TestServerRoundTrip(t *testing.T) {
	sink := &capture{}
	h := hub.New()
	srv, cancel := startServer(t, WithHub(h), WithSink(sink))
	defer cancel()
	conn := dial(t, srv.Addr())
	defer conn.Close()

	var codec cnl.Codec
	in := console(can.ConsoleRxID, "ls\r")
	if _, err := codec.EncodeTo(conn, []can.Frame{in}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !waitFor(func() bool { return len(sink.snapshot()) == 1 }) {
		t.Fatalf("backend got %v", sink.snapshot())
	}
	if got := sink.snapshot()[0]; got != in {
		t.Fatalf("backend frame %v want %v", got, in)
	}

	if !waitFor(func() bool { return h.Count() == 1 }) {
		t.Fatalf("client not registered")
	}
	out := console(can.ConsoleTxID, "$ ")
	if n := h.Broadcast(out); n != 1 {
		t.Fatalf("broadcast delivered to %d", n)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	got, err := codec.Decode(conn)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != out {
		t.Fatalf("client frame %v want %v", got, out)
	}
}

func TestServerBatchFlush(t *testing.T) {
	h := hub.New()
	srv, cancel := startServer(t, WithHub(h), WithBatchSize(16), WithFlushInterval(time.Hour))
	defer cancel()
	conn := dial(t, srv.Addr())
	defer conn.Close()
	if !waitFor(func() bool { return h.Count() == 1 }) {
		t.Fatalf("client not registered")
	}
	pre := metrics.Snap()
	for i := 0; i < 32; i++ {
		h.Broadcast(can.Frame{ID: uint32(0x700 + i), Len: 1, Data: [8]byte{byte(i)}})
	}
	var codec cnl.Codec
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := codec.DecodeN(conn, 32, func(fr can.Frame) {})
	if err != nil || n != 32 {
		t.Fatalf("decoded %d frames, err=%v", n, err)
	}
	if d := metrics.Snap().TCPTx - pre.TCPTx; d < 32 {
		t.Fatalf("TCPTx delta %d", d)
	}
}

func TestFrameFilter(t *testing.T) {
	sink := &capture{}
	srv, cancel := startServer(t, WithHub(hub.New()), WithSink(sink), WithFrameFilter(can.IsConsole))
	defer cancel()
	conn := dial(t, srv.Addr())
	defer conn.Close()

	frames := []can.Frame{
		{ID: 0x10, Len: 1},
		console(can.ConsoleRxID, "a"),
		{ID: 0x11, Len: 0},
		console(can.ConsoleRxID, "b"),
	}
	if _, err := (cnl.Codec{}).EncodeTo(conn, frames); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !waitFor(func() bool { return srv.Stats().Filtered == 2 && len(sink.snapshot()) == 2 }) {
		t.Fatalf("stats %+v backend %v", srv.Stats(), sink.snapshot())
	}
	for _, fr := range sink.snapshot() {
		if !can.IsConsole(fr) {
			t.Fatalf("non-console frame forwarded: %v", fr)
		}
	}
	if st := srv.Stats(); st.ConsoleFrames != 2 {
		t.Fatalf("console frames %d", st.ConsoleFrames)
	}
}

func TestBackendErrorsCounted(t *testing.T) {
	sink := &capture{err: serial.ErrTxOverflow}
	srv, cancel := startServer(t, WithSink(sink))
	defer cancel()
	conn := dial(t, srv.Addr())
	defer conn.Close()
	if _, err := (cnl.Codec{}).EncodeTo(conn, []can.Frame{{ID: 1}, {ID: 2}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !waitFor(func() bool { return srv.Stats().BackendOverflow == 2 }) {
		t.Fatalf("stats %+v", srv.Stats())
	}

	sink.mu.Lock()
	sink.err = errors.New("bus off")
	sink.mu.Unlock()
	if _, err := (cnl.Codec{}).EncodeTo(conn, []can.Frame{{ID: 3}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !waitFor(func() bool { return srv.Stats().BackendErrors == 1 }) {
		t.Fatalf("stats %+v", srv.Stats())
	}
	if !errors.Is(srv.LastError(), ErrBackendTx) {
		t.Fatalf("last error %v", srv.LastError())
	}
}

func TestHandshakeFailure(t *testing.T) {
	srv, cancel := startServer(t)
	defer cancel()
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("NOTCANNELLON")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !waitFor(func() bool { return srv.Stats().HandshakeFail == 1 }) {
		t.Fatalf("stats %+v", srv.Stats())
	}
	if !errors.Is(srv.LastError(), ErrHandshake) {
		t.Fatalf("last error %v", srv.LastError())
	}
}

func TestMaxClients(t *testing.T) {
	h := hub.New()
	srv, cancel := startServer(t, WithHub(h), WithMaxClients(1))
	defer cancel()
	c1 := dial(t, srv.Addr())
	defer c1.Close()
	if !waitFor(func() bool { return h.Count() == 1 }) {
		t.Fatalf("first client not registered")
	}
	c2 := dial(t, srv.Addr())
	defer c2.Close()
	_ = c2.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := c2.Read(make([]byte, 1)); err == nil {
		t.Fatalf("second client still open")
	}
	if h.Count() != 1 {
		t.Fatalf("hub count %d", h.Count())
	}
}

// TestGracefulShutdown ensures Shutdown closes listener and active clients.
func TestGracefulShutdown(t *testing.T) {
	h := hub.New()
	srv, cancel := startServer(t, WithHub(h))
	defer cancel()
	c1 := dial(t, srv.Addr())
	c2 := dial(t, srv.Addr())
	if !waitFor(func() bool { return h.Count() == 2 }) {
		t.Fatalf("clients not registered")
	}
	sdCtx, sdCancel := context.WithTimeout(context.Background(), time.Second)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		t.Fatalf("shutdown err: %v", err)
	}
	buf := make([]byte, 8)
	for i, c := range []net.Conn{c1, c2} {
		_ = c.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		if _, err := c.Read(buf); err == nil {
			t.Fatalf("client %d read succeeded after shutdown", i)
		}
	}
	if h.Count() != 0 {
		t.Fatalf("hub count %d after shutdown", h.Count())
	}
	if st := srv.Stats(); st.Connected != 2 {
		t.Fatalf("stats %+v", st)
	}
}

func BenchmarkServerWriterFlush(b *testing.B) {
	h := hub.New()
	h.OutBufSize = 1024
	srv, cancel := startServer(b, WithHub(h))
	defer cancel()
	conn := dial(b, srv.Addr())
	defer conn.Close()
	go func() {
		var codec cnl.Codec
		_, _ = codec.DecodeN(conn, 0, func(can.Frame) {})
	}()
	if !waitFor(func() bool { return h.Count() == 1 }) {
		b.Fatalf("client not registered")
	}
	cl := h.Snapshot()[0]
	fr := console(can.ConsoleTxID, "bench")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cl.Out <- fr
	}
}

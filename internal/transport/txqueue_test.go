package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kstaniek/go-can-console/internal/can"
)

func eventually(cond func() bool) bool {
	for deadline := time.Now().Add(time.Second); time.Now().Before(deadline); time.Sleep(2 * time.Millisecond) {
		if cond() {
			return true
		}
	}
	return cond()
}

func TestTxQueueWritesInOrder(t *testing.T) {
	var order []uint32
	var sent atomic.Int32
	q := NewTxQueue(context.Background(), 8, func(fr can.Frame) error {
		order = append(order, fr.ID)
		return nil
	}, Hooks{OnSent: func() { sent.Add(1) }})
	defer q.Close()

	for id := uint32(1); id <= 5; id++ {
		if err := q.SendFrame(can.Frame{ID: id}); err != nil {
			t.Fatalf("send %d: %v", id, err)
		}
	}
	if !eventually(func() bool { return sent.Load() == 5 }) {
		t.Fatalf("sent %d of 5", sent.Load())
	}
	for i, id := range order {
		if id != uint32(i+1) {
			t.Fatalf("order %v", order)
		}
	}
	if st := q.Stats(); st.Sent != 5 || st.Failed != 0 || st.Dropped != 0 {
		t.Fatalf("stats %+v", st)
	}
}

func TestTxQueueFullDrops(t *testing.T) {
	full := errors.New("full")
	block := make(chan struct{})
	q := NewTxQueue(context.Background(), 1, func(can.Frame) error { <-block; return nil }, Hooks{
		OnDrop: func() error { return full },
	})
	defer q.Close()
	defer close(block)

	// one frame in the writer, one in the buffer, the third has nowhere to go
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = q.SendFrame(can.Frame{ID: uint32(i)})
		if i == 0 {
			eventually(func() bool { return q.Stats().Pending == 0 })
		}
	}
	if !errors.Is(err, full) {
		t.Fatalf("got %v, want drop error", err)
	}
	if q.Stats().Dropped != 1 {
		t.Fatalf("stats %+v", q.Stats())
	}
}

func TestTxQueueWriteError(t *testing.T) {
	var seen atomic.Value
	q := NewTxQueue(context.Background(), 2, func(can.Frame) error { return errors.New("bus off") }, Hooks{
		OnError: func(err error) { seen.Store(err) },
	})
	defer q.Close()
	_ = q.SendFrame(can.Frame{})
	if !eventually(func() bool { return seen.Load() != nil }) {
		t.Fatalf("OnError not called")
	}
	if st := q.Stats(); st.Failed != 1 || st.Sent != 0 {
		t.Fatalf("stats %+v", st)
	}
}

func TestTxQueueClosed(t *testing.T) {
	var writes atomic.Int32
	q := NewTxQueue(context.Background(), 2, func(can.Frame) error { writes.Add(1); return nil }, Hooks{})
	q.Close()
	q.Close()
	if err := q.SendFrame(can.Frame{ID: 1}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("got %v, want ErrQueueClosed", err)
	}
	time.Sleep(20 * time.Millisecond)
	if writes.Load() != 0 {
		t.Fatalf("frame written after close")
	}
}

func TestTxQueueStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewTxQueue(ctx, 1, func(can.Frame) error { return nil }, Hooks{})
	cancel()
	done := make(chan struct{})
	go func() { q.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Close hung after context cancel")
	}
}

func TestTxQueueCloseRacesSend(t *testing.T) {
	for i := 0; i < 50; i++ {
		q := NewTxQueue(context.Background(), 1, func(can.Frame) error { return nil }, Hooks{})
		errc := make(chan error, 1)
		go func() { errc <- q.SendFrame(can.Frame{}) }()
		q.Close()
		if err := <-errc; err != nil && !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
}

func TestSinkHelpers(t *testing.T) {
	var got []can.Frame
	sink := Filter(SinkFunc(func(f can.Frame) error { got = append(got, f); return nil }), can.IsConsole)
	_ = sink.SendFrame(can.Frame{ID: 0x10})
	_ = sink.SendFrame(can.Frame{ID: can.ConsoleTxID, Extended: true})
	if len(got) != 1 || got[0].ID != can.ConsoleTxID {
		t.Fatalf("filtered %v", got)
	}
	if err := Discard.SendFrame(can.Frame{}); err != nil {
		t.Fatalf("discard: %v", err)
	}
}

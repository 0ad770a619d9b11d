package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-console/internal/can"
)

var ErrQueueClosed = errors.New("tx queue closed")

// Hooks observe a TxQueue. Any of them may be nil.
type Hooks struct {
	// OnError runs on the writer goroutine when write fails.
	OnError func(error)
	// OnSent runs on the writer goroutine after a successful write.
	OnSent func()
	// OnDrop runs when the queue is full; its error is what SendFrame returns.
	OnDrop func() error
}

// TxStats counts what happened to frames handed to SendFrame.
type TxStats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
	Pending int
}

// TxQueue decouples producers from a blocking writer. Frames are written in
// order by a single goroutine; SendFrame never waits for the writer.
type TxQueue struct {
	frames chan can.Frame
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	write  func(can.Frame) error
	hooks  Hooks

	sent, failed, dropped atomic.Uint64
}

// NewTxQueue starts the writer goroutine. It exits on Close or when ctx ends.
func NewTxQueue(ctx context.Context, size int, write func(can.Frame) error, hooks Hooks) *TxQueue {
	q := &TxQueue{
		frames: make(chan can.Frame, size),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		write:  write,
		hooks:  hooks,
	}
	go q.run(ctx)
	return q
}

func (q *TxQueue) run(ctx context.Context) {
	defer close(q.done)
	for {
		var fr can.Frame
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		case fr = <-q.frames:
		}
		err := q.write(fr)
		switch {
		case err != nil:
			q.failed.Add(1)
			if q.hooks.OnError != nil {
				q.hooks.OnError(err)
			}
		default:
			q.sent.Add(1)
			if q.hooks.OnSent != nil {
				q.hooks.OnSent()
			}
		}
	}
}

// SendFrame enqueues fr. A full queue drops the frame.
func (q *TxQueue) SendFrame(fr can.Frame) error {
	select {
	case <-q.stop:
		return ErrQueueClosed
	default:
	}
	select {
	case <-q.stop:
		return ErrQueueClosed
	case q.frames <- fr:
		return nil
	default:
	}
	q.dropped.Add(1)
	if q.hooks.OnDrop != nil {
		return q.hooks.OnDrop()
	}
	return nil
}

func (q *TxQueue) Stats() TxStats {
	return TxStats{
		Sent:    q.sent.Load(),
		Failed:  q.failed.Load(),
		Dropped: q.dropped.Load(),
		Pending: len(q.frames),
	}
}

// Close stops the writer and waits for it. Frames still queued are discarded.
func (q *TxQueue) Close() {
	q.once.Do(func() { close(q.stop) })
	<-q.done
}

package ringbuf

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsTinySize(t *testing.T) {
	_, err := New[byte](1)
	require.ErrorIs(t, err, ErrSize)
	require.Panics(t, func() { MustNew[byte](0) })
}

func TestFIFOOrder(t *testing.T) {
	r := MustNew[byte](8)
	for _, b := range []byte("abc") {
		require.True(t, r.Push(b))
	}
	require.Equal(t, 3, r.Len())
	v, ok := r.Peek()
	require.True(t, ok)
	require.Equal(t, byte('a'), v)
	var got []byte
	for {
		b, ok := r.Pop()
		if !ok {
			break
		}
		got = append(got, b)
	}
	require.Equal(t, "abc", string(got))
	require.True(t, r.Empty())
}

func TestFullDropsAndKeepsState(t *testing.T) {
	const size = 128
	r := MustNew[byte](size)
	for i := 0; i < size-1; i++ {
		require.True(t, r.Push(byte(i)), "push %d", i)
	}
	require.True(t, r.Full())
	head, tail := r.Indices()

	require.False(t, r.Push(0xFF))
	h2, t2 := r.Indices()
	require.Equal(t, head, h2)
	require.Equal(t, tail, t2)

	for i := 0; i < size-1; i++ {
		b, ok := r.Pop()
		require.True(t, ok)
		require.Equal(t, byte(i), b)
	}
	_, ok := r.Pop()
	require.False(t, ok)
}

func TestWrapAround(t *testing.T) {
	r := MustNew[int](4)
	for round := 0; round < 10; round++ {
		require.True(t, r.Push(round))
		require.True(t, r.Push(round+100))
		a, _ := r.Pop()
		b, _ := r.Pop()
		require.Equal(t, round, a)
		require.Equal(t, round+100, b)
	}
	require.Equal(t, 0, r.Len())
}

func TestResetEmpties(t *testing.T) {
	r := MustNew[int](4)
	r.Push(1)
	r.Push(2)
	r.Reset()
	require.True(t, r.Empty())
	require.Equal(t, 3, r.Cap())
}

func TestSPSCConcurrent(t *testing.T) {
	r := MustNew[int](16)
	p, c := r.Producer(), r.Consumer()
	const n = 20000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if !p.Push(i) {
				runtime.Gosched()
				continue
			}
			i++
		}
	}()
	next := 0
	for next < n {
		v, ok := c.Pop()
		if !ok {
			runtime.Gosched()
			continue
		}
		require.Equal(t, next, v)
		next++
	}
	wg.Wait()
	require.True(t, c.Empty())
}

package console

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-console/internal/can"
)

func TestChunkCount(t *testing.T) {
	for n, want := range map[int]int{0: 0, 1: 1, 7: 1, 8: 1, 9: 2, 16: 2, 17: 3, 200: 25} {
		require.Equal(t, want, ChunkCount(n), "n=%d", n)
	}
}

func TestForEachChunkSizes(t *testing.T) {
	for n := 0; n < 40; n++ {
		p := bytes.Repeat([]byte{'x'}, n)
		var sizes []int
		ForEachChunk(p, func(c []byte) { sizes = append(sizes, len(c)) })
		require.Len(t, sizes, ChunkCount(n))
		for i, s := range sizes {
			if i < len(sizes)-1 {
				require.Equal(t, ChunkSize, s)
			} else {
				require.True(t, s >= 1 && s <= ChunkSize)
			}
		}
	}
}

func TestFramesHelloWorld(t *testing.T) {
	frames := Frames(can.ConsoleTxID, []byte("HELLO WRLD"))
	require.Len(t, frames, 2)
	require.Equal(t, uint8(8), frames[0].Len)
	require.Equal(t, "HELLO WR", string(frames[0].Payload()))
	require.Equal(t, uint8(2), frames[1].Len)
	require.Equal(t, "LD", string(frames[1].Payload()))
	for _, f := range frames {
		require.True(t, f.Extended)
		require.Equal(t, can.ConsoleTxID, f.ID)
	}
}

func TestPackWordsBigEndian(t *testing.T) {
	w0, w1 := PackWords([]byte("HELLO WR"))
	require.Equal(t, uint32(0x48454C4C), w0)
	require.Equal(t, uint32(0x4F205752), w1)

	w0, w1 = PackWords([]byte("LD"))
	require.Equal(t, uint32(0x4C440000), w0)
	require.Zero(t, w1)

	b := UnpackWords(0x48454C4C, 0x4F205752)
	require.Equal(t, "HELLO WR", string(b[:]))
}

func TestInputLoopback(t *testing.T) {
	in, err := NewInput(DefaultRingSize)
	require.NoError(t, err)
	msg := []byte("print('hi')\r\n")
	for _, f := range Frames(can.ConsoleRxID, msg) {
		in.PushChunk(f.Payload())
	}
	require.True(t, in.Poll())
	got := make([]byte, 0, len(msg))
	for in.Poll() {
		b, err := in.ReadByte()
		require.NoError(t, err)
		got = append(got, b)
	}
	require.Equal(t, msg, got)
}

func TestInputInterruptChar(t *testing.T) {
	in, err := NewInput(16)
	require.NoError(t, err)
	var signals int
	in.OnInterrupt = func() { signals++ }

	in.PushChunk([]byte{'a', CtrlC, 'b'})
	require.Zero(t, signals)
	require.Equal(t, 3, in.Buffered())

	for in.Poll() {
		in.TryReadByte()
	}
	in.SetInterruptChar(CtrlC)
	in.PushChunk([]byte{'a', CtrlC, 'b', CtrlC})
	require.Equal(t, 2, signals)
	buf := make([]byte, 8)
	n, _ := in.Read(buf)
	require.Equal(t, "ab", string(buf[:n]))

	in.SetInterruptChar(NoInterruptChar)
	require.Equal(t, NoInterruptChar, in.InterruptChar())
	in.Push(CtrlC)
	require.Equal(t, 2, signals)
	b, ok := in.TryReadByte()
	require.True(t, ok)
	require.Equal(t, byte(CtrlC), b)
}

func TestInputOverflowDrops(t *testing.T) {
	in, err := NewInput(DefaultRingSize)
	require.NoError(t, err)
	var drops int
	in.OnDrop = func() { drops++ }
	for i := 0; i < DefaultRingSize-1; i++ {
		in.Push(byte(i))
	}
	in.Push(0xAA)
	in.Push(0xBB)
	require.Equal(t, 2, drops)
	require.Equal(t, uint64(2), in.Dropped())
	require.Equal(t, DefaultRingSize-1, in.Buffered())
	b, _ := in.ReadByte()
	require.Equal(t, byte(0), b)
}

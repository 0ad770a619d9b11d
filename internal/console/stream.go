// Package console implements the byte-stream protocol carried over CAN:
// text is cut into chunks of up to eight bytes, each chunk travels as one
// extended data frame, and the receiver appends the payloads in arrival order.
package console

import (
	"encoding/binary"

	"github.com/kstaniek/go-can-console/internal/can"
)

// ChunkSize is the payload carried by a full console frame.
const ChunkSize = can.MaxLen

// ChunkCount returns how many frames are needed for n bytes.
func ChunkCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + ChunkSize - 1) / ChunkSize
}

// ForEachChunk calls fn with consecutive slices of p, all ChunkSize long
// except possibly the last. fn must not retain the slice.
func ForEachChunk(p []byte, fn func(chunk []byte)) {
	for len(p) > 0 {
		n := len(p)
		if n > ChunkSize {
			n = ChunkSize
		}
		fn(p[:n])
		p = p[n:]
	}
}

// Frames encodes p as a sequence of console frames carrying id.
func Frames(id uint32, p []byte) []can.Frame {
	out := make([]can.Frame, 0, ChunkCount(len(p)))
	ForEachChunk(p, func(chunk []byte) {
		f := can.Frame{ID: id, Extended: true, Len: uint8(len(chunk))}
		copy(f.Data[:], chunk)
		out = append(out, f)
	})
	return out
}

// PackWords lays out up to eight bytes as two big-endian mailbox data words.
// Missing bytes are zero.
func PackWords(chunk []byte) (w0, w1 uint32) {
	var b [ChunkSize]byte
	copy(b[:], chunk)
	return binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8])
}

// UnpackWords is the inverse of PackWords.
func UnpackWords(w0, w1 uint32) (b [ChunkSize]byte) {
	binary.BigEndian.PutUint32(b[0:4], w0)
	binary.BigEndian.PutUint32(b[4:8], w1)
	return b
}

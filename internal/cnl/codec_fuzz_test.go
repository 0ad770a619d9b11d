package cnl

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-can-console/internal/can"
)

func FuzzCodecDecode(f *testing.F) {
	c := Codec{}
	f.Add(c.Encode([]can.Frame{mkFrame(0x100, false, 0)}))
	f.Add(c.Encode([]can.Frame{mkFrame(0x1FFFFFFE, true, 8), mkFrame(0x301, false, 5)}))
	f.Add([]byte{0, 0, 0, 1, 0x89})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = c.DecodeN(bytes.NewReader(data), 16, func(fr can.Frame) {
			if err := fr.Validate(); err != nil {
				t.Fatalf("decoded invalid frame %v: %v", fr, err)
			}
		})
	})
}

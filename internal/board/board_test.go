package board

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/flexcan"
)

const twoControllers = `
[board]
name     = s32k144-evb
clock_hz = 80000000

[can0]
bitrate        = 250000
console        = true
ring_size      = 64
interrupt_char = ^C
filter0        = 0x123/0x7FF
filter3        = 0x18FF0000/0x1FFF0000/ext

[can1]
tx_pin   = PTC7
rx_pin   = PTC6
rx_queue = 8
filter1  = 0x1FFFFFFD
`

func TestLoadProfile(t *testing.T) {
	p, err := Load([]byte(twoControllers))
	require.NoError(t, err)
	assert.Equal(t, "s32k144-evb", p.Name)
	require.Len(t, p.Controllers, 2)

	c0 := p.Controllers[0]
	assert.Equal(t, 0, c0.Instance)
	assert.True(t, c0.Console)
	assert.Equal(t, uint32(250000), c0.Bitrate)
	assert.Equal(t, uint32(80000000), c0.ClockHz)
	assert.Equal(t, 64, c0.RingSize)
	assert.Equal(t, flexcan.Filter{ID: 0x123, Mask: 0x7FF}, c0.Filters[0])
	assert.Equal(t, flexcan.Filter{ID: 0x18FF0000, Mask: 0x1FFF0000, Extended: true}, c0.Filters[3])
	assert.Equal(t, 3, p.InterruptChar[0])

	c1 := p.Controllers[1]
	assert.False(t, c1.Console)
	assert.Equal(t, flexcan.Pin{Port: 'C', Num: 7}, c1.TxPin)
	assert.Equal(t, 8, c1.RxQueue)
	assert.Equal(t, flexcan.AcceptExact(can.ConsoleRxID, true), c1.Filters[1])
	assert.Equal(t, NoInterruptChar, p.InterruptChar[1])

	cons, ok := p.Console()
	require.True(t, ok)
	assert.Equal(t, 0, cons.Instance)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"no controllers": "[board]\nname = x\n",
		"bad bitrate":    "[can0]\nbitrate = fast\n",
		"two consoles":   "[can0]\nconsole = true\n[can1]\nconsole = true\n",
		"bad pin":        "[can0]\ntx_pin = PTZ9\n",
		"unroutable":     "[can0]\ntx_pin = PTC7\nrx_pin = PTC6\n",
		"bad filter":     "[can0]\nfilter0 = 0x800/0x7FF\n",
		"filter bank":    "[can0]\nfilter9 = 0x10/0x7FF\n",
		"bad intr":       "[can0]\ninterrupt_char = ^~\n",
	}
	for name, src := range cases {
		_, err := Load([]byte(src))
		assert.Error(t, err, name)
	}
	_, err := Load([]byte("[can0]\nbitrate = fast\n"))
	assert.True(t, errors.Is(err, ErrProfile))
	_, err = Load([]byte("[can0]\nconsole = true\n[can1]\nconsole = true\n"))
	assert.ErrorIs(t, err, flexcan.ErrInvalidConfig)
}

func TestParseInterruptChar(t *testing.T) {
	for in, want := range map[string]int{"3": 3, "0x1b": 0x1B, "^c": 3, "^[": 27, "none": NoInterruptChar, "-1": NoInterruptChar} {
		got, err := ParseInterruptChar(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseInterruptChar("256")
	assert.Error(t, err)
}

func TestDefaultProfile(t *testing.T) {
	p := Default(125000)
	require.NoError(t, flexcan.ValidateSet(p.Controllers))
	p.SetBitrate(500000)
	cons, ok := p.Console()
	require.True(t, ok)
	assert.Equal(t, uint32(500000), cons.Bitrate)
	assert.Equal(t, NoInterruptChar, p.InterruptChar[0])
}

// Package board loads board profiles: INI files describing which FlexCAN
// controllers a board brings up and how.
//
//	[board]
//	name     = s32k144-evb
//	clock_hz = 80000000
//
//	[can0]
//	bitrate        = 500000
//	console        = true
//	tx_pin         = PTE5
//	rx_pin         = PTE4
//	interrupt_char = ^C
//	filter0        = 0x123/0x7FF
//	filter1        = 0x18FF0000/0x1FFF0000/ext
package board

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/console"
	"github.com/kstaniek/go-can-console/internal/flexcan"
)

var ErrProfile = errors.New("board: invalid profile")

// NoInterruptChar disables interrupt-character interception.
const NoInterruptChar = console.NoInterruptChar

var (
	matchController = regexp.MustCompile(`^can([0-9]+)$`)
	matchFilter     = regexp.MustCompile(`^filter([0-9]+)$`)
)

// Profile is a parsed board description.
type Profile struct {
	Name        string
	Controllers []flexcan.Config
	// InterruptChar per controller instance; NoInterruptChar when unset.
	InterruptChar map[int]int
}

// Default is a single console controller on can0 at bitrate.
func Default(bitrate uint32) *Profile {
	return &Profile{
		Name:          "default",
		Controllers:   []flexcan.Config{{Instance: 0, Console: true, Bitrate: bitrate}},
		InterruptChar: map[int]int{0: NoInterruptChar},
	}
}

// Load parses a profile from a path, []byte or io.Reader and validates the
// resulting controller set.
func Load(src any) (*Profile, error) {
	f, err := ini.Load(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfile, err)
	}
	p := &Profile{Name: "unnamed", InterruptChar: map[int]int{}}
	var clockHz uint32
	if sec, err := f.GetSection("board"); err == nil {
		p.Name = sec.Key("name").MustString(p.Name)
		if sec.HasKey("clock_hz") {
			v, err := sec.Key("clock_hz").Uint()
			if err != nil {
				return nil, fmt.Errorf("%w: [board] clock_hz: %v", ErrProfile, err)
			}
			clockHz = uint32(v)
		}
	}
	for _, sec := range f.Sections() {
		m := matchController.FindStringSubmatch(sec.Name())
		if m == nil {
			continue
		}
		inst, _ := strconv.Atoi(m[1])
		cfg, intr, err := parseController(sec, inst)
		if err != nil {
			return nil, err
		}
		if cfg.ClockHz == 0 {
			cfg.ClockHz = clockHz
		}
		p.Controllers = append(p.Controllers, cfg)
		p.InterruptChar[inst] = intr
	}
	if len(p.Controllers) == 0 {
		return nil, fmt.Errorf("%w: no [canN] sections", ErrProfile)
	}
	if err := flexcan.ValidateSet(p.Controllers); err != nil {
		return nil, err
	}
	return p, nil
}

func parseController(sec *ini.Section, inst int) (flexcan.Config, int, error) {
	cfg := flexcan.Config{Instance: inst}
	fail := func(key string, err error) (flexcan.Config, int, error) {
		return flexcan.Config{}, 0, fmt.Errorf("%w: [%s] %s: %v", ErrProfile, sec.Name(), key, err)
	}
	if sec.HasKey("bitrate") {
		v, err := sec.Key("bitrate").Uint()
		if err != nil {
			return fail("bitrate", err)
		}
		cfg.Bitrate = uint32(v)
	}
	if sec.HasKey("clock_hz") {
		v, err := sec.Key("clock_hz").Uint()
		if err != nil {
			return fail("clock_hz", err)
		}
		cfg.ClockHz = uint32(v)
	}
	if sec.HasKey("console") {
		v, err := sec.Key("console").Bool()
		if err != nil {
			return fail("console", err)
		}
		cfg.Console = v
	}
	for key, dst := range map[string]*flexcan.Pin{"tx_pin": &cfg.TxPin, "rx_pin": &cfg.RxPin} {
		if !sec.HasKey(key) {
			continue
		}
		pin, err := flexcan.ParsePin(sec.Key(key).String())
		if err != nil {
			return fail(key, err)
		}
		*dst = pin
	}
	for key, dst := range map[string]*int{"ring_size": &cfg.RingSize, "rx_queue": &cfg.RxQueue} {
		if !sec.HasKey(key) {
			continue
		}
		v, err := sec.Key(key).Int()
		if err != nil {
			return fail(key, err)
		}
		*dst = v
	}
	intr := NoInterruptChar
	if sec.HasKey("interrupt_char") {
		v, err := ParseInterruptChar(sec.Key("interrupt_char").String())
		if err != nil {
			return fail("interrupt_char", err)
		}
		intr = v
	}
	for _, key := range sec.Keys() {
		m := matchFilter.FindStringSubmatch(key.Name())
		if m == nil {
			continue
		}
		bank, _ := strconv.Atoi(m[1])
		flt, err := ParseFilter(key.String())
		if err != nil {
			return fail(key.Name(), err)
		}
		if cfg.Filters == nil {
			cfg.Filters = map[int]flexcan.Filter{}
		}
		cfg.Filters[bank] = flt
	}
	return cfg, intr, nil
}

// ParseFilter parses "id/mask" or "id/mask/ext". Numbers take Go literal
// syntax (0x.., decimal). A bare "id" matches that identifier exactly.
func ParseFilter(s string) (flexcan.Filter, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) > 3 || parts[0] == "" {
		return flexcan.Filter{}, fmt.Errorf("bad filter %q", s)
	}
	ext := len(parts) == 3
	if ext && !strings.EqualFold(strings.TrimSpace(parts[2]), "ext") {
		return flexcan.Filter{}, fmt.Errorf("bad filter format flag %q", parts[2])
	}
	id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 0, 32)
	if err != nil {
		return flexcan.Filter{}, fmt.Errorf("filter id: %w", err)
	}
	if len(parts) == 1 {
		return flexcan.AcceptExact(uint32(id), id > can.CAN_SFF_MASK), nil
	}
	mask, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 0, 32)
	if err != nil {
		return flexcan.Filter{}, fmt.Errorf("filter mask: %w", err)
	}
	f := flexcan.Filter{ID: uint32(id), Mask: uint32(mask), Extended: ext}
	if err := f.Validate(); err != nil {
		return flexcan.Filter{}, err
	}
	return f, nil
}

// ParseInterruptChar accepts a number (3, 0x03), caret notation (^C) or
// "none".
func ParseInterruptChar(s string) (int, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, "none"):
		return NoInterruptChar, nil
	case len(s) == 2 && s[0] == '^':
		c := s[1]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c < '@' || c > '_' {
			return 0, fmt.Errorf("bad control character %q", s)
		}
		return int(c & 0x1F), nil
	}
	v, err := strconv.ParseInt(s, 0, 16)
	if err != nil {
		return 0, err
	}
	if v < NoInterruptChar || v > 0xFF {
		return 0, fmt.Errorf("interrupt char %d out of range", v)
	}
	return int(v), nil
}

// Console returns the controller config hosting the console, if any.
func (p *Profile) Console() (flexcan.Config, bool) {
	for _, c := range p.Controllers {
		if c.Console {
			return c, true
		}
	}
	return flexcan.Config{}, false
}

// SetBitrate overrides the bitrate of every controller.
func (p *Profile) SetBitrate(bitrate uint32) {
	for i := range p.Controllers {
		p.Controllers[i].Bitrate = bitrate
	}
}

package main

import (
	"github.com/kstaniek/go-can-console/internal/board"
)

// loadProfile reads the board profile and applies the flag overrides that were
// explicitly set.
func loadProfile(cfg *appConfig, set map[string]struct{}) (*board.Profile, error) {
	var p *board.Profile
	if cfg.boardPath == "" {
		p = board.Default(uint32(cfg.bitrate))
	} else {
		var err error
		if p, err = board.Load(cfg.boardPath); err != nil {
			return nil, err
		}
	}
	if _, ok := set["bitrate"]; ok {
		p.SetBitrate(uint32(cfg.bitrate))
	}
	if _, ok := set["interrupt-char"]; ok {
		ch, err := board.ParseInterruptChar(cfg.interruptChar)
		if err != nil {
			return nil, err
		}
		if con, ok := p.Console(); ok {
			p.InterruptChar[con.Instance] = ch
		}
	}
	// The bridge speaks at the console bitrate.
	if con, ok := p.Console(); ok && con.Bitrate != 0 {
		cfg.bitrate = uint(con.Bitrate)
	}
	return p, nil
}

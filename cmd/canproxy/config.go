package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-can-console/internal/board"
	"github.com/kstaniek/go-can-console/internal/logging"
)

// mdnsAddr as -tcp-addr browses for an advertised console board.
const mdnsAddr = "mdns"

type appConfig struct {
	backend      string
	canIf        string
	serialDev    string
	baud         int
	serialReadTO time.Duration
	tcpAddr      string
	dialTO       time.Duration
	bitrateKbps  uint
	raw          bool
	exitChar     string
	logFormat    string
	logLevel     string
	metricsAddr  string
}

func defineFlags(fs *flag.FlagSet, cfg *appConfig) *bool {
	fs.StringVar(&cfg.backend, "backend", "socketcan", "Bus access: socketcan|serial|tcp")
	fs.StringVar(&cfg.canIf, "can-if", "can0", "SocketCAN interface")
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyACM0", "SLCAN adapter device")
	fs.IntVar(&cfg.baud, "baud", 115200, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	fs.StringVar(&cfg.tcpAddr, "tcp-addr", "localhost:20000", "Cannelloni server host:port, or \"mdns\" to browse")
	fs.DurationVar(&cfg.dialTO, "dial-timeout", 3*time.Second, "TCP dial and mDNS browse timeout")
	fs.UintVar(&cfg.bitrateKbps, "bitrate", 500, "Bus bitrate in kbit/s (opens the SLCAN channel)")
	fs.BoolVar(&cfg.raw, "raw", false, "Put the terminal in raw mode so control keys reach the board")
	fs.StringVar(&cfg.exitChar, "exit-char", "^]", "Key that ends a raw mode session")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "warn", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address; empty disables")
	return fs.Bool("version", false, "Print version and exit")
}

func parseFlags(args []string) (*appConfig, bool, error) {
	fs := flag.NewFlagSet("canproxy", flag.ContinueOnError)
	cfg := &appConfig{}
	showVersion := defineFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	if err := applyEnvOverrides(cfg, set); err != nil {
		return nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, false, nil
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.backend {
	case "socketcan":
		if c.canIf == "" {
			return errors.New("socketcan needs -can-if")
		}
	case "serial":
		if c.serialDev == "" || c.baud <= 0 || c.serialReadTO <= 0 {
			return errors.New("serial needs -serial, -baud > 0 and -serial-read-timeout > 0")
		}
	case "tcp":
		if c.tcpAddr == "" {
			return errors.New("tcp needs -tcp-addr")
		}
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.bitrateKbps == 0 || c.bitrateKbps > 1000 {
		return fmt.Errorf("bitrate out of range: %d kbit/s", c.bitrateKbps)
	}
	if c.dialTO <= 0 {
		return errors.New("dial-timeout must be > 0")
	}
	if _, err := c.exitByte(); err != nil {
		return fmt.Errorf("invalid exit-char: %w", err)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	if _, err := logging.ParseLevel(c.logLevel); err != nil {
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	return nil
}

// exitByte returns the session exit key, or -1 when disabled.
func (c *appConfig) exitByte() (int, error) {
	return board.ParseInterruptChar(c.exitChar)
}

// applyEnvOverrides maps CANPROXY_* variables onto fields whose flag was not
// explicitly set.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	fail := func(env string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", env, err)
		}
	}
	get := func(flagName, env string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v := strings.TrimSpace(os.Getenv(env))
		return v, v != ""
	}
	if v, ok := get("backend", "CANPROXY_BACKEND"); ok {
		c.backend = v
	}
	if v, ok := get("can-if", "CANPROXY_IF"); ok {
		c.canIf = v
	}
	if v, ok := get("serial", "CANPROXY_SERIAL"); ok {
		c.serialDev = v
	}
	if v, ok := get("baud", "CANPROXY_BAUD"); ok {
		if n, err := strconv.Atoi(v); err != nil {
			fail("CANPROXY_BAUD", err)
		} else {
			c.baud = n
		}
	}
	if v, ok := get("tcp-addr", "CANPROXY_TCP_ADDR"); ok {
		c.tcpAddr = v
	}
	if v, ok := get("bitrate", "CANPROXY_BITRATE"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err != nil {
			fail("CANPROXY_BITRATE", err)
		} else {
			c.bitrateKbps = uint(n)
		}
	}
	if v, ok := get("dial-timeout", "CANPROXY_DIAL_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err != nil {
			fail("CANPROXY_DIAL_TIMEOUT", err)
		} else {
			c.dialTO = d
		}
	}
	if v, ok := get("log-level", "CANPROXY_LOG_LEVEL"); ok {
		c.logLevel = v
	}
	if v, ok := get("log-format", "CANPROXY_LOG_FORMAT"); ok {
		c.logFormat = v
	}
	if v, ok := get("metrics-addr", "CANPROXY_METRICS"); ok {
		c.metricsAddr = v
	}
	return firstErr
}

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
	"github.com/kstaniek/go-can-console/internal/hub"
	"github.com/kstaniek/go-can-console/internal/logging"
)

type appConfig struct {
	boardPath       string
	bitrate         uint
	interruptChar   string
	prompt          string
	backend         string
	listenAddr      string
	canIf           string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	hubBuffer       int
	hubPolicy       string
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func defineFlags(fs *flag.FlagSet, cfg *appConfig) *bool {
	fs.StringVar(&cfg.boardPath, "board", "", "Board profile INI (default: console controller can0)")
	fs.UintVar(&cfg.bitrate, "bitrate", 500000, "Bus bitrate; overrides the board profile when set")
	fs.StringVar(&cfg.interruptChar, "interrupt-char", "", "Console interrupt character (3, ^C, none); overrides the board profile")
	fs.StringVar(&cfg.prompt, "prompt", ">>> ", "Console prompt")
	fs.StringVar(&cfg.backend, "backend", "tcp", "Bus bridge: tcp|socketcan|serial")
	fs.StringVar(&cfg.listenAddr, "listen", ":20000", "Cannelloni TCP listen address; empty disables")
	fs.StringVar(&cfg.canIf, "can-if", "can0", "SocketCAN interface (when -backend=socketcan)")
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyACM0", "SLCAN adapter device (when -backend=serial)")
	fs.IntVar(&cfg.baud, "baud", 115200, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", hub.DefaultOutBuf, "Per-client hub buffer (frames)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", 3*time.Second, "Client handshake timeout")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", 60*time.Second, "Per-connection read deadline")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the TCP listener via mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default can-console-<hostname>)")
	return fs.Bool("version", false, "Print version and exit")
}

// parseFlags returns the validated configuration, the set of explicitly
// passed flags and whether -version was requested.
func parseFlags(args []string) (*appConfig, map[string]struct{}, bool, error) {
	fs := flag.NewFlagSet("can-console", flag.ContinueOnError)
	cfg := &appConfig{}
	showVersion := defineFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, nil, false, err
	}
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	if *showVersion {
		return cfg, setFlags, true, nil
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, nil, false, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, setFlags, false, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not open devices, listeners or the board profile.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	if _, err := logging.ParseLevel(c.logLevel); err != nil {
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "tcp", "serial", "socketcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.backend == "tcp" && c.listenAddr == "" {
		return errors.New("backend tcp needs a listen address")
	}
	if _, ok := hub.ParsePolicy(c.hubPolicy); !ok {
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.bitrate == 0 || c.bitrate > 1_000_000 {
		return fmt.Errorf("bitrate out of range: %d", c.bitrate)
	}
	if _, err := board.ParseInterruptChar(c.interruptChar); err != nil {
		return fmt.Errorf("invalid interrupt-char: %w", err)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// envVar binds a CAN_CONSOLE_* variable to the field behind a flag.
type envVar struct {
	flag, env  string
	allowEmpty bool
	apply      func(c *appConfig, v string) error
}

func setString(dst func(*appConfig) *string) func(*appConfig, string) error {
	return func(c *appConfig, v string) error { *dst(c) = v; return nil }
}

func setInt(dst func(*appConfig) *int, min int) func(*appConfig, string) error {
	return func(c *appConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if n >= min {
			*dst(c) = n
		}
		return nil
	}
}

func setDuration(dst func(*appConfig) *time.Duration) func(*appConfig, string) error {
	return func(c *appConfig, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		if d >= 0 {
			*dst(c) = d
		}
		return nil
	}
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

var envVars = []envVar{
	{flag: "board", env: "CAN_CONSOLE_BOARD", apply: setString(func(c *appConfig) *string { return &c.boardPath })},
	{flag: "bitrate", env: "CAN_CONSOLE_BITRATE", apply: func(c *appConfig, v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		c.bitrate = uint(n)
		return nil
	}},
	{flag: "interrupt-char", env: "CAN_CONSOLE_INTERRUPT_CHAR", apply: setString(func(c *appConfig) *string { return &c.interruptChar })},
	{flag: "prompt", env: "CAN_CONSOLE_PROMPT", apply: setString(func(c *appConfig) *string { return &c.prompt })},
	{flag: "backend", env: "CAN_CONSOLE_BACKEND", apply: setString(func(c *appConfig) *string { return &c.backend })},
	{flag: "listen", env: "CAN_CONSOLE_LISTEN", allowEmpty: true, apply: setString(func(c *appConfig) *string { return &c.listenAddr })},
	{flag: "can-if", env: "CAN_CONSOLE_IF", apply: setString(func(c *appConfig) *string { return &c.canIf })},
	{flag: "serial", env: "CAN_CONSOLE_SERIAL", apply: setString(func(c *appConfig) *string { return &c.serialDev })},
	{flag: "baud", env: "CAN_CONSOLE_BAUD", apply: setInt(func(c *appConfig) *int { return &c.baud }, 1)},
	{flag: "serial-read-timeout", env: "CAN_CONSOLE_SERIAL_READ_TIMEOUT", apply: setDuration(func(c *appConfig) *time.Duration { return &c.serialReadTO })},
	{flag: "log-format", env: "CAN_CONSOLE_LOG_FORMAT", apply: setString(func(c *appConfig) *string { return &c.logFormat })},
	{flag: "log-level", env: "CAN_CONSOLE_LOG_LEVEL", apply: setString(func(c *appConfig) *string { return &c.logLevel })},
	{flag: "metrics-addr", env: "CAN_CONSOLE_METRICS", allowEmpty: true, apply: setString(func(c *appConfig) *string { return &c.metricsAddr })},
	{flag: "log-metrics-interval", env: "CAN_CONSOLE_LOG_METRICS_INTERVAL", apply: setDuration(func(c *appConfig) *time.Duration { return &c.logMetricsEvery })},
	{flag: "hub-buffer", env: "CAN_CONSOLE_HUB_BUFFER", apply: setInt(func(c *appConfig) *int { return &c.hubBuffer }, 1)},
	{flag: "hub-policy", env: "CAN_CONSOLE_HUB_POLICY", apply: setString(func(c *appConfig) *string { return &c.hubPolicy })},
	{flag: "max-clients", env: "CAN_CONSOLE_MAX_CLIENTS", apply: setInt(func(c *appConfig) *int { return &c.maxClients }, 0)},
	{flag: "handshake-timeout", env: "CAN_CONSOLE_HANDSHAKE_TIMEOUT", apply: setDuration(func(c *appConfig) *time.Duration { return &c.handshakeTO })},
	{flag: "client-read-timeout", env: "CAN_CONSOLE_CLIENT_READ_TIMEOUT", apply: setDuration(func(c *appConfig) *time.Duration { return &c.clientReadTO })},
	{flag: "mdns-enable", env: "CAN_CONSOLE_MDNS_ENABLE", apply: func(c *appConfig, v string) error {
		if b, ok := parseBool(v); ok {
			c.mdnsEnable = b
		}
		return nil
	}},
	{flag: "mdns-name", env: "CAN_CONSOLE_MDNS_NAME", apply: setString(func(c *appConfig) *string { return &c.mdnsName })},
}

// applyEnvOverrides maps CAN_CONSOLE_* environment variables to config fields
// unless the corresponding flag was explicitly set. Empty values are ignored
// except where an empty value disables a listener. Applied variables are
// recorded in set. The first parse error is returned after all variables
// were applied.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	for _, ev := range envVars {
		if _, ok := set[ev.flag]; ok {
			continue
		}
		v, ok := os.LookupEnv(ev.env)
		v = strings.TrimSpace(v)
		if !ok || (v == "" && !ev.allowEmpty) {
			continue
		}
		if err := ev.apply(c, v); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", ev.env, err)
			}
			continue
		}
		set[ev.flag] = struct{}{}
	}
	return firstErr
}

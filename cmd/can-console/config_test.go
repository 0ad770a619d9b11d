package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		bitrate: 500000, prompt: ">>> ", backend: "tcp", listenAddr: ":20000",
		serialDev: "/dev/null", baud: 115200, serialReadTO: 10 * time.Millisecond,
		logFormat: "text", logLevel: "info", hubBuffer: 8, hubPolicy: "drop", canIf: "can0",
		handshakeTO: time.Second, clientReadTO: time.Second,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
	c := baseConfig()
	c.backend, c.listenAddr, c.interruptChar = "serial", "", "^C"
	if err := c.validate(); err != nil {
		t.Fatalf("serial without listener: %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"tcpWithoutListen", func(c *appConfig) { c.listenAddr = "" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"zeroBitrate", func(c *appConfig) { c.bitrate = 0 }},
		{"fastBitrate", func(c *appConfig) { c.bitrate = 2_000_000 }},
		{"badInterruptChar", func(c *appConfig) { c.interruptChar = "^?" }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
		{"badMetricsInterval", func(c *appConfig) { c.logMetricsEvery = -time.Second }},
	}
	for _, tc := range tests {
		base := baseConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestParseFlags(t *testing.T) {
	cfg, set, showVersion, err := parseFlags([]string{"-bitrate", "250000", "-backend", "serial", "-listen", "", "-interrupt-char", "3"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if showVersion {
		t.Fatalf("unexpected version request")
	}
	if cfg.bitrate != 250000 || cfg.backend != "serial" || cfg.listenAddr != "" {
		t.Fatalf("config %+v", cfg)
	}
	for _, name := range []string{"bitrate", "backend", "listen", "interrupt-char"} {
		if _, ok := set[name]; !ok {
			t.Fatalf("flag %s not recorded", name)
		}
	}
	if _, ok := set["baud"]; ok {
		t.Fatalf("default flag recorded as set")
	}

	if _, _, v, err := parseFlags([]string{"-version"}); err != nil || !v {
		t.Fatalf("version: %v %v", v, err)
	}
	if _, _, _, err := parseFlags([]string{"-bitrate", "0"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

package main

import (
	"testing"
	"time"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, v, err := parseFlags(nil)
	if err != nil || v {
		t.Fatalf("parse: %v %v", err, v)
	}
	if cfg.backend != "socketcan" || cfg.canIf != "can0" || cfg.bitrateKbps != 500 {
		t.Fatalf("defaults %+v", cfg)
	}
	if b, _ := cfg.exitByte(); b != 0x1D {
		t.Fatalf("exit byte %#x", b)
	}
}

func TestParseFlagsErrors(t *testing.T) {
	for _, args := range [][]string{
		{"-backend", "usb"},
		{"-bitrate", "0"},
		{"-bitrate", "2000"},
		{"-backend", "tcp", "-tcp-addr", ""},
		{"-backend", "serial", "-baud", "0"},
		{"-exit-char", "^^^"},
		{"-log-level", "loud"},
		{"-dial-timeout", "0s"},
	} {
		if _, _, err := parseFlags(args); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CANPROXY_BACKEND", "tcp")
	t.Setenv("CANPROXY_TCP_ADDR", "mdns")
	t.Setenv("CANPROXY_BITRATE", "250")
	t.Setenv("CANPROXY_DIAL_TIMEOUT", "5s")
	cfg, _, err := parseFlags([]string{"-bitrate", "125"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.backend != "tcp" || cfg.tcpAddr != mdnsAddr || cfg.dialTO != 5*time.Second {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.bitrateKbps != 125 {
		t.Fatalf("flag should win, got %d", cfg.bitrateKbps)
	}

	t.Setenv("CANPROXY_BAUD", "fast")
	if _, _, err := parseFlags(nil); err == nil {
		t.Fatalf("expected env parse error")
	}
}

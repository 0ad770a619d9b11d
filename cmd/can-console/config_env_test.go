package main

import (
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()
	t.Setenv("CAN_CONSOLE_BAUD", "230400")
	t.Setenv("CAN_CONSOLE_MDNS_ENABLE", "true")
	t.Setenv("CAN_CONSOLE_SERIAL_READ_TIMEOUT", "100ms")
	t.Setenv("CAN_CONSOLE_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("CAN_CONSOLE_BITRATE", "125000")
	t.Setenv("CAN_CONSOLE_INTERRUPT_CHAR", "^C")

	set := map[string]struct{}{}
	if err := applyEnvOverrides(base, set); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", base.serialReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
	if base.bitrate != 125000 || base.interruptChar != "^C" {
		t.Fatalf("bitrate %d interrupt %q", base.bitrate, base.interruptChar)
	}
	if _, ok := set["bitrate"]; !ok {
		t.Fatalf("applied variable not recorded")
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 115200}
	t.Setenv("CAN_CONSOLE_BAUD", "230400")
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("flag should win, got %d", base.baud)
	}
}

func TestApplyEnvOverrides_EmptyDisablesListener(t *testing.T) {
	base := baseConfig()
	t.Setenv("CAN_CONSOLE_LISTEN", "")
	t.Setenv("CAN_CONSOLE_PROMPT", "")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.listenAddr != "" {
		t.Fatalf("listen not cleared: %q", base.listenAddr)
	}
	if base.prompt != ">>> " {
		t.Fatalf("empty prompt should be ignored, got %q", base.prompt)
	}
}

func TestApplyEnvOverrides_InvalidValue(t *testing.T) {
	base := baseConfig()
	t.Setenv("CAN_CONSOLE_HANDSHAKE_TIMEOUT", "soon")
	t.Setenv("CAN_CONSOLE_HUB_BUFFER", "64")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected parse error")
	}
	if base.hubBuffer != 64 {
		t.Fatalf("later variables still apply, got %d", base.hubBuffer)
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"debug": slog.LevelDebug, "INFO": slog.LevelInfo, " warn ": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q)=%v,%v", in, got, err)
		}
	}
	if _, err := ParseLevel("trace"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	New("json", slog.LevelInfo, &buf).Info("bringup_state", "can", 0)
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil || rec["msg"] != "bringup_state" {
		t.Fatalf("json record %q err=%v", buf.String(), err)
	}
	buf.Reset()
	New("text", slog.LevelWarn, &buf).Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
}

func TestSetIgnoresNil(t *testing.T) {
	prev := L()
	defer Set(prev)
	var buf bytes.Buffer
	Set(New("text", slog.LevelInfo, &buf))
	Set(nil)
	L().Info("console_rx_drop")
	if !strings.Contains(buf.String(), "console_rx_drop") {
		t.Fatalf("global logger replaced by nil: %q", buf.String())
	}
}

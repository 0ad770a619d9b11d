package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-can-console/internal/logging"
)

// setupLogger logs to stderr; stdout carries the console stream.
func setupLogger(format, level string) *slog.Logger {
	lvl, _ := logging.ParseLevel(level)
	l := logging.New(format, lvl, os.Stderr).With("app", "canproxy")
	logging.Set(l)
	return l
}

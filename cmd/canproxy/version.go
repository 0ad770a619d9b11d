package main

// Build metadata, set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

package main

import (
	"log/slog"

	"github.com/kstaniek/go-can-console/internal/hub"
)

func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.hubBuffer
	policy, ok := hub.ParsePolicy(cfg.hubPolicy)
	if !ok {
		l.Warn("unknown_hub_policy", "policy", cfg.hubPolicy, "used", policy)
	}
	h.Policy = policy
	l.Info("hub_config", "policy", h.Policy.String(), "buffer", h.OutBufSize)
	return h
}

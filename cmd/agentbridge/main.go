package main

import (
	"log"
	"os"

	"github.com/iacondiego/demo-agente-n8n/internal/api"
	"github.com/iacondiego/demo-agente-n8n/internal/config"
	"github.com/iacondiego/demo-agente-n8n/internal/correlation"
	"github.com/iacondiego/demo-agente-n8n/internal/expiry"
	"github.com/iacondiego/demo-agente-n8n/internal/files"
	"github.com/iacondiego/demo-agente-n8n/internal/ratelimit"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("agentbridge: starting",
		"listen_addr", cfg.ListenAddr,
		"engine_url", cfg.EngineURL,
	)

	pending := expiry.New[*correlation.Result](cfg.SweepInterval,
		expiry.WithEvictionHook[*correlation.Result](func(sessionID string) {
			api.RecordEviction("pending")
			logger.Warn("pending result expired uncollected", "session_id", sessionID)
		}))
	defer pending.Close()
	svc := correlation.NewService(pending, logger)

	buckets := expiry.New[ratelimit.Bucket](cfg.SweepInterval,
		expiry.WithEvictionHook[ratelimit.Bucket](func(string) {
			api.RecordEviction("ratelimit")
		}))
	defer buckets.Close()
	limiter := ratelimit.New(buckets, cfg.RateWindow, cfg.RateMax)

	fileStore := files.NewStore(cfg.SweepInterval, logger)
	defer fileStore.Close()

	srv := api.NewServer(cfg.ListenAddr, svc, limiter, fileStore, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

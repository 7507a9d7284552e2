// bridgecli sends one message through the full bridge: submit to the
// workflow engine, then poll the bridge server until the engine's callback
// lands. Useful for smoke-testing a deployment end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iacondiego/demo-agente-n8n/internal/config"
	"github.com/iacondiego/demo-agente-n8n/internal/dispatch"
	"github.com/iacondiego/demo-agente-n8n/internal/model"
	"github.com/iacondiego/demo-agente-n8n/internal/poller"
)

func main() {
	var (
		bridgeURL = flag.String("bridge", "http://localhost:8080", "bridge server base URL")
		engineURL = flag.String("engine", "", "workflow engine webhook URL (default from AGENTBRIDGE_ENGINE_URL)")
		userID    = flag.String("user", "", "user id to attach to the message")
		sessionID = flag.String("session", "", "session id (generated when empty)")
		timeout   = flag.Duration("timeout", 45*time.Second, "overall deadline")
	)
	flag.Parse()

	message := flag.Arg(0)
	if message == "" {
		fmt.Fprintln(os.Stderr, "usage: bridgecli [flags] <message>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := config.Load()
	if *engineURL == "" {
		*engineURL = cfg.EngineURL
	}
	if *sessionID == "" {
		*sessionID = model.NewSessionID()
	}

	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	p := poller.New(*bridgeURL, poller.Config{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollAttempts,
		Timeout:     cfg.PollTimeout,
	}, logger)
	d := dispatch.New(*engineURL, p, logger, dispatch.Options{
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		SubmitTimeout: cfg.SubmitTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	res, err := d.Send(ctx, message, *userID, *sessionID)
	if err != nil {
		switch {
		case errors.Is(err, poller.ErrExhausted), errors.Is(err, poller.ErrTimedOut):
			fmt.Fprintf(os.Stderr, "no answer from the engine in time (session %s): %v\n", *sessionID, err)
		default:
			fmt.Fprintf(os.Stderr, "send failed (session %s): %v\n", *sessionID, err)
		}
		os.Exit(1)
	}

	if !res.Success && res.Error != "" {
		fmt.Fprintf(os.Stderr, "engine error: %s\n", res.Error)
	}
	fmt.Println(res.Response)
	if res.Data != nil {
		for _, sug := range res.Data.Suggestions {
			fmt.Printf("  > %s\n", sug)
		}
	}
}

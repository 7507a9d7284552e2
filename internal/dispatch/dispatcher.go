// Package dispatch submits user messages to the external workflow engine and
// waits for the engine's out-of-band answer via the polling client.
//
// Submission failures are retried with linear backoff under the same session
// id: the engine is expected to deduplicate on session id for a given logical
// message, and a fresh id per retry would orphan a callback already in
// flight. Polling failures are never retried here, since re-submitting would
// duplicate side effects in the engine.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/iacondiego/demo-agente-n8n/internal/correlation"
	"github.com/iacondiego/demo-agente-n8n/internal/poller"
)

const (
	// DefaultRetryAttempts bounds submission retries.
	DefaultRetryAttempts = 3
	// DefaultRetryDelay is the backoff unit; attempt n waits n*delay.
	DefaultRetryDelay = time.Second
	// DefaultSubmitTimeout bounds each individual submission.
	DefaultSubmitTimeout = 30 * time.Second

	healthCheckTimeout = 5 * time.Second
)

// DispatchError is the terminal failure after submission retries ran out.
type DispatchError struct {
	Attempts int
	Cause    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *DispatchError) Unwrap() error { return e.Cause }

// Request is the JSON body submitted to the engine.
type Request struct {
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp"`
}

// Dispatcher submits messages to the workflow engine's inbound webhook.
type Dispatcher struct {
	engineURL     string
	http          *http.Client
	poller        *poller.Client
	logger        *slog.Logger
	retryAttempts int
	retryDelay    time.Duration
	submitTimeout time.Duration
}

// Options tune the retry policy. Zero fields use the defaults.
type Options struct {
	RetryAttempts int
	RetryDelay    time.Duration
	SubmitTimeout time.Duration
}

// New creates a dispatcher submitting to engineURL and collecting answers
// through p.
func New(engineURL string, p *poller.Client, logger *slog.Logger, opts Options) *Dispatcher {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultSubmitTimeout
	}
	return &Dispatcher{
		engineURL:     engineURL,
		http:          &http.Client{},
		poller:        p,
		logger:        logger,
		retryAttempts: opts.RetryAttempts,
		retryDelay:    opts.RetryDelay,
		submitTimeout: opts.SubmitTimeout,
	}
}

// Send submits message under sessionID and blocks until the engine's answer
// arrives through the correlation bridge. The returned error is a
// *DispatchError when submission retries ran out; poll outcomes
// (poller.ErrExhausted and friends) pass through untouched.
func (d *Dispatcher) Send(ctx context.Context, message, userID, sessionID string) (*correlation.Result, error) {
	req := Request{
		Message:   message,
		UserID:    userID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	var lastErr error
	for attempt := 1; attempt <= d.retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := d.submit(ctx, req); err != nil {
			lastErr = err
			d.logger.Warn("submission failed",
				"session_id", sessionID,
				"attempt", attempt,
				"of", d.retryAttempts,
				"error", err,
			)
			if attempt < d.retryAttempts {
				if err := d.backoff(ctx, attempt); err != nil {
					return nil, err
				}
			}
			continue
		}

		d.logger.Info("message submitted", "session_id", sessionID, "attempt", attempt)

		// Hand off to the poller. Its outcome is final: re-submitting
		// after a failed wait would run the message twice.
		return d.poller.Poll(ctx, sessionID)
	}

	return nil, &DispatchError{Attempts: d.retryAttempts, Cause: lastErr}
}

// submit performs one POST to the engine with a per-attempt deadline
// enforced through the request context.
func (d *Dispatcher) submit(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.submitTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.engineURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("submit: HTTP %d", resp.StatusCode)
	}
	return nil
}

// backoff waits retryDelay*attempt, aborting early if ctx ends.
func (d *Dispatcher) backoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(d.retryDelay * time.Duration(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HealthCheck reports whether the engine's webhook endpoint answers a HEAD
// request.
func (d *Dispatcher) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.engineURL, nil)
	if err != nil {
		return false
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// Package poller implements the client half of the callback bridge: it
// repeatedly asks the correlation endpoint whether the workflow engine has
// answered yet, with a fixed interval, a bounded attempt count, and a
// wall-clock budget. Every invocation ends in exactly one terminal outcome.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/iacondiego/demo-agente-n8n/internal/correlation"
)

// Config bounds one polling invocation.
type Config struct {
	Interval    time.Duration // delay between polls
	MaxAttempts int           // ordinal attempt ceiling
	Timeout     time.Duration // total wall-clock budget
}

// DefaultConfig mirrors the bridge's server-side result TTL comfortably.
var DefaultConfig = Config{
	Interval:    time.Second,
	MaxAttempts: 30,
	Timeout:     30 * time.Second,
}

var (
	// ErrExhausted means every attempt found no result.
	ErrExhausted = errors.New("poll attempts exhausted")
	// ErrTimedOut means the wall-clock budget ran out first.
	ErrTimedOut = errors.New("poll timed out")
	// ErrCancelled means the poll was cancelled, directly or by a
	// superseding poll for the same session.
	ErrCancelled = errors.New("poll cancelled")
)

// TransportError is a non-retryable HTTP failure from the correlation read.
type TransportError struct {
	StatusCode int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("poll request rejected: HTTP %d", e.StatusCode)
}

type pollResponse struct {
	HasResponse bool                    `json:"hasResponse"`
	Response    string                  `json:"response"`
	Success     bool                    `json:"success"`
	Error       string                  `json:"error,omitempty"`
	Data        *correlation.ResultData `json:"data,omitempty"`
}

type activePoll struct {
	cancel  context.CancelFunc
	started time.Time
}

// Client polls a correlation endpoint for session results. At most one poll
// is active per session id: starting a new one cancels its predecessor.
type Client struct {
	baseURL string
	http    *http.Client
	cfg     Config
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]*activePoll
}

// New creates a polling client against baseURL (the server root, without the
// /api/webhook/response path). Zero fields of cfg fall back to DefaultConfig.
func New(baseURL string, cfg Config, logger *slog.Logger) *Client {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		cfg:     cfg,
		logger:  logger,
		active:  make(map[string]*activePoll),
	}
}

// Poll blocks until a result for sessionID is delivered or the invocation
// reaches a terminal state. Server-side 5xx responses and network errors are
// absorbed and retried within the budget; 4xx responses fail immediately with
// a *TransportError. A nil error means the result was delivered.
func (c *Client) Poll(ctx context.Context, sessionID string) (*correlation.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reg := c.register(sessionID, cancel)
	defer c.unregister(sessionID, reg)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, terminalErr(err)
		}

		res, retry, err := c.poll(ctx, sessionID)
		switch {
		case err != nil && !retry:
			return nil, err
		case err != nil:
			c.logger.Warn("poll attempt failed",
				"session_id", sessionID, "attempt", attempt, "error", err)
		case res != nil:
			c.logger.Debug("poll delivered",
				"session_id", sessionID, "attempt", attempt)
			return res, nil
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}
		if err := c.wait(ctx); err != nil {
			return nil, terminalErr(err)
		}
	}

	return nil, ErrExhausted
}

// poll issues one correlation read. It returns the delivered result, or
// (nil, nil, nil) when none is pending yet, or an error with retry indicating
// whether the attempt loop may continue.
func (c *Client) poll(ctx context.Context, sessionID string) (res *correlation.Result, retry bool, err error) {
	u := c.baseURL + "/api/webhook/response?sessionId=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, terminalErr(ctxErr)
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("server error: HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, &TransportError{StatusCode: resp.StatusCode}
	}

	var body pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, true, fmt.Errorf("decode poll response: %w", err)
	}
	if !body.HasResponse {
		return nil, false, nil
	}

	return &correlation.Result{
		Response: body.Response,
		Success:  body.Success,
		Error:    body.Error,
		Data:     body.Data,
	}, false, nil
}

// Cancel aborts the active poll for sessionID, reporting whether one existed.
// The aborted invocation returns ErrCancelled, interrupting any in-flight
// request rather than waiting for the next loop boundary.
func (c *Client) Cancel(sessionID string) bool {
	c.mu.Lock()
	p, ok := c.active[sessionID]
	if ok {
		delete(c.active, sessionID)
	}
	c.mu.Unlock()
	if ok {
		p.cancel()
		c.logger.Info("poll cancelled", "session_id", sessionID)
	}
	return ok
}

// CancelAll aborts every active poll.
func (c *Client) CancelAll() {
	c.mu.Lock()
	polls := c.active
	c.active = make(map[string]*activePoll)
	c.mu.Unlock()
	for _, p := range polls {
		p.cancel()
	}
}

// ActivePolls returns the number of in-flight invocations.
func (c *Client) ActivePolls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// register installs this invocation as the session's active poll, cancelling
// a prior one (supersede, not queue).
func (c *Client) register(sessionID string, cancel context.CancelFunc) *activePoll {
	reg := &activePoll{cancel: cancel, started: time.Now()}
	c.mu.Lock()
	prior := c.active[sessionID]
	c.active[sessionID] = reg
	c.mu.Unlock()
	if prior != nil {
		prior.cancel()
		c.logger.Info("superseding active poll", "session_id", sessionID)
	}
	return reg
}

// unregister removes this invocation's registration. A superseding poll may
// own the slot by now, in which case it is left alone.
func (c *Client) unregister(sessionID string, reg *activePoll) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[sessionID] == reg {
		delete(c.active, sessionID)
	}
}

func (c *Client) wait(ctx context.Context) error {
	t := time.NewTimer(c.cfg.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func terminalErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimedOut
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return err
}

// Package correlation matches workflow-engine callbacks with the sessions
// waiting for them. A callback deposits a result under its session id; the
// session's reader withdraws it exactly once. Results not collected within
// the TTL are dropped.
package correlation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iacondiego/demo-agente-n8n/internal/expiry"
)

// ResultTTL is how long a deposited result stays collectable.
const ResultTTL = 5 * time.Minute

// Property is a structured listing attached to a result.
type Property struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Price    string   `json:"price"`
	Location string   `json:"location"`
	Type     string   `json:"type"`
	ImageURL string   `json:"imageUrl,omitempty"`
	Features []string `json:"features"`
}

// ResultData carries the optional structured payload of a result.
type ResultData struct {
	Properties  []Property `json:"properties,omitempty"`
	Suggestions []string   `json:"suggestions,omitempty"`
	Actions     []string   `json:"actions,omitempty"`
}

// Result is one answer from the workflow engine, deposited by its callback.
type Result struct {
	Response   string      `json:"response"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	Data       *ResultData `json:"data,omitempty"`
	UserID     string      `json:"userId,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// Service holds at most one pending result per session id.
type Service struct {
	store  *expiry.Store[*Result]
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string][]chan struct{}

	onDeposit func() // metrics hook, optional
}

// NewService creates a correlation service on top of the given store.
func NewService(store *expiry.Store[*Result], logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		logger:  logger,
		waiters: make(map[string][]chan struct{}),
	}
}

// SetDepositHook registers fn to run after every deposit. Used for metrics.
func (s *Service) SetDepositHook(fn func()) { s.onDeposit = fn }

// Deposit stores res under sessionID, replacing any result already pending
// for that session. The result stays collectable for ResultTTL.
func (s *Service) Deposit(sessionID string, res *Result) {
	res.ReceivedAt = time.Now()
	s.store.Set(sessionID, res, ResultTTL)

	s.logger.Info("result deposited",
		"session_id", sessionID,
		"success", res.Success,
		"response_len", len(res.Response),
		"has_data", res.Data != nil,
	)
	if s.onDeposit != nil {
		s.onDeposit()
	}
	s.notify(sessionID)
}

// Withdraw removes and returns the pending result for sessionID. Exactly one
// caller observes a given deposit; concurrent and subsequent calls see
// absence. Absence is the normal state while the engine is still working.
func (s *Service) Withdraw(sessionID string) (*Result, bool) {
	res, ok := s.store.Take(sessionID)
	if !ok {
		return nil, false
	}
	s.logger.Info("result withdrawn", "session_id", sessionID)
	return res, true
}

// Await blocks until a result for sessionID can be withdrawn or ctx ends.
// It has the same single-delivery semantics as Withdraw: when several
// awaiters race for one session, one gets the result and the rest keep
// waiting.
func (s *Service) Await(ctx context.Context, sessionID string) (*Result, error) {
	for {
		if res, ok := s.Withdraw(sessionID); ok {
			return res, nil
		}

		ready := s.addWaiter(sessionID)
		// A deposit may have landed between the withdraw and the
		// registration; re-check before sleeping.
		if res, ok := s.Withdraw(sessionID); ok {
			s.removeWaiter(sessionID, ready)
			return res, nil
		}

		select {
		case <-ctx.Done():
			s.removeWaiter(sessionID, ready)
			return nil, ctx.Err()
		case <-ready:
		}
	}
}

// Pending returns the number of results currently held.
func (s *Service) Pending() int {
	return s.store.Len()
}

func (s *Service) addWaiter(sessionID string) chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.waiters[sessionID] = append(s.waiters[sessionID], ch)
	s.mu.Unlock()
	return ch
}

func (s *Service) removeWaiter(sessionID string, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.waiters[sessionID]
	for i, w := range list {
		if w == ch {
			s.waiters[sessionID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.waiters[sessionID]) == 0 {
		delete(s.waiters, sessionID)
	}
}

func (s *Service) notify(sessionID string) {
	s.mu.Lock()
	list := s.waiters[sessionID]
	delete(s.waiters, sessionID)
	s.mu.Unlock()
	for _, ch := range list {
		close(ch)
	}
}

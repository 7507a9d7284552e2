package poller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pollServer serves the correlation read contract, answering hasResponse=false
// until a result is armed.
type pollServer struct {
	ts       *httptest.Server
	armed    atomic.Bool
	response string
	polls    atomic.Int32
}

func newPollServer(t *testing.T) *pollServer {
	t.Helper()
	ps := &pollServer{response: "Hola"}
	ps.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.polls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if !ps.armed.Load() {
			json.NewEncoder(w).Encode(map[string]any{"hasResponse": false})
			return
		}
		ps.armed.Store(false) // withdraw-on-read
		json.NewEncoder(w).Encode(map[string]any{
			"hasResponse": true,
			"response":    ps.response,
			"success":     true,
		})
	}))
	t.Cleanup(ps.ts.Close)
	return ps
}

func TestPollDeliversImmediately(t *testing.T) {
	ps := newPollServer(t)
	ps.armed.Store(true)

	c := New(ps.ts.URL, Config{Interval: 10 * time.Millisecond, MaxAttempts: 30, Timeout: time.Second}, discardLogger())

	res, err := c.Poll(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Response != "Hola" {
		t.Errorf("Response = %q, want %q", res.Response, "Hola")
	}
	if ps.polls.Load() != 1 {
		t.Errorf("polls issued = %d, want 1 (return on first delivery)", ps.polls.Load())
	}
}

func TestPollDeliversAfterWaiting(t *testing.T) {
	ps := newPollServer(t)

	c := New(ps.ts.URL, Config{Interval: 10 * time.Millisecond, MaxAttempts: 30, Timeout: time.Second}, discardLogger())

	go func() {
		time.Sleep(35 * time.Millisecond)
		ps.armed.Store(true)
	}()

	res, err := c.Poll(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Response != "Hola" {
		t.Errorf("Response = %q, want %q", res.Response, "Hola")
	}
	if ps.polls.Load() < 2 {
		t.Errorf("polls issued = %d, want at least 2", ps.polls.Load())
	}
}

func TestPollExhaustsAttempts(t *testing.T) {
	ps := newPollServer(t) // never armed

	c := New(ps.ts.URL, Config{Interval: 10 * time.Millisecond, MaxAttempts: 5, Timeout: time.Second}, discardLogger())

	start := time.Now()
	_, err := c.Poll(context.Background(), "abc")
	elapsed := time.Since(start)

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Poll error = %v, want ErrExhausted", err)
	}
	if got := ps.polls.Load(); got != 5 {
		t.Errorf("polls issued = %d, want exactly 5", got)
	}
	if elapsed >= time.Second {
		t.Errorf("elapsed = %v, want under the 1s wall-clock budget", elapsed)
	}
}

func TestPollTimesOut(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"hasResponse": false})
	}))
	defer ts.Close()

	c := New(ts.URL, Config{Interval: 20 * time.Millisecond, MaxAttempts: 1000, Timeout: 80 * time.Millisecond}, discardLogger())

	_, err := c.Poll(context.Background(), "abc")
	if !errors.Is(err, ErrTimedOut) {
		t.Errorf("Poll error = %v, want ErrTimedOut", err)
	}
}

func TestPollRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"hasResponse": true, "response": "recovered", "success": true,
		})
	}))
	defer ts.Close()

	c := New(ts.URL, Config{Interval: 10 * time.Millisecond, MaxAttempts: 10, Timeout: time.Second}, discardLogger())

	res, err := c.Poll(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Response != "recovered" {
		t.Errorf("Response = %q, want %q", res.Response, "recovered")
	}
}

func TestPollFailsFastOnClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer ts.Close()

	c := New(ts.URL, Config{Interval: 10 * time.Millisecond, MaxAttempts: 10, Timeout: time.Second}, discardLogger())

	_, err := c.Poll(context.Background(), "abc")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Poll error = %v, want *TransportError", err)
	}
	if te.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", te.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("requests issued = %d, want 1 (no retry on 4xx)", calls.Load())
	}
}

// Cancellation lands within one interval tick, not at the next scheduled poll.
func TestCancelIsImmediate(t *testing.T) {
	ps := newPollServer(t)

	c := New(ps.ts.URL, Config{Interval: 500 * time.Millisecond, MaxAttempts: 30, Timeout: 10 * time.Second}, discardLogger())

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Poll(context.Background(), "abc")
		errCh <- err
	}()

	// Let the first poll land and the client settle into its wait.
	time.Sleep(50 * time.Millisecond)
	if !c.Cancel("abc") {
		t.Fatal("Cancel = false, want true for an active poll")
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Poll error = %v, want ErrCancelled", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("cancelled poll still running after 200ms; want immediate termination")
	}
}

func TestCancelWithoutActivePoll(t *testing.T) {
	c := New("http://127.0.0.1:0", Config{}, discardLogger())
	if c.Cancel("nope") {
		t.Error("Cancel = true, want false with no active poll")
	}
}

func TestNewPollSupersedesPrior(t *testing.T) {
	ps := newPollServer(t)

	c := New(ps.ts.URL, Config{Interval: 50 * time.Millisecond, MaxAttempts: 100, Timeout: 10 * time.Second}, discardLogger())

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Poll(context.Background(), "abc")
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	ps.armed.Store(true)
	res, err := c.Poll(context.Background(), "abc")
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if res.Response != "Hola" {
		t.Errorf("Response = %q, want %q", res.Response, "Hola")
	}

	select {
	case err := <-firstErr:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("first Poll error = %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("superseded poll never terminated")
	}

	if c.ActivePolls() != 0 {
		t.Errorf("ActivePolls = %d, want 0", c.ActivePolls())
	}
}

func TestCallerContextCancellation(t *testing.T) {
	ps := newPollServer(t)

	c := New(ps.ts.URL, Config{Interval: 100 * time.Millisecond, MaxAttempts: 100, Timeout: 10 * time.Second}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Poll(ctx, "abc")
		errCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Poll error = %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("poll did not stop after caller cancellation")
	}
}

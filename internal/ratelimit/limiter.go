// Package ratelimit implements a fixed-window request counter keyed by client
// address. The window resets at fixed wall-clock boundaries, so a client can
// burst up to twice the limit across a boundary; callers depend on that
// tolerance.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/iacondiego/demo-agente-n8n/internal/expiry"
)

const (
	// DefaultWindow is the counting window length.
	DefaultWindow = time.Minute
	// DefaultMaxRequests is the number of requests allowed per window.
	DefaultMaxRequests = 100
)

// Bucket is one client's fixed-window counter. Exported so callers can build
// the backing store themselves and attach eviction hooks.
type Bucket struct {
	count   int
	resetAt time.Time
}

// Result reports the outcome of one rate-limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per client id over fixed windows. Buckets live in
// an expiring store with TTL equal to the window, so idle clients are
// reclaimed by the store's sweep without any bookkeeping here.
type Limiter struct {
	store  *expiry.Store[Bucket]
	window time.Duration
	max    int
}

// New creates a limiter allowing max requests per window.
func New(store *expiry.Store[Bucket], window time.Duration, max int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMaxRequests
	}
	return &Limiter{store: store, window: window, max: max}
}

// NewStore creates the bucket store a Limiter runs on.
func NewStore(sweepInterval time.Duration) *expiry.Store[Bucket] {
	return expiry.New[Bucket](sweepInterval)
}

// Check records one request for clientID and reports whether it is allowed.
// The read-increment-write is atomic per client id.
func (l *Limiter) Check(clientID string) Result {
	now := time.Now()
	b := l.store.Mutate(clientID, l.window, func(b Bucket, ok bool) Bucket {
		if !ok || now.After(b.resetAt) {
			b = Bucket{count: 0, resetAt: now.Add(l.window)}
		}
		b.count++
		return b
	})

	remaining := l.max - b.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   b.count <= l.max,
		Remaining: remaining,
		ResetAt:   b.resetAt,
	}
}

// Max returns the configured per-window request limit.
func (l *Limiter) Max() int { return l.max }

// ClientIP extracts the originating client address from a request, honoring
// X-Forwarded-For and X-Real-IP set by fronting proxies before falling back
// to the connection's remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

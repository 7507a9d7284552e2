// Package expiry provides a sharded in-memory store whose entries carry a
// per-entry time-to-live. Expired entries are removed lazily on read and
// actively by a background sweeper, so an expired value is never observable
// and abandoned keys do not accumulate.
package expiry

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// DefaultSweepInterval is the cadence of the background sweep when none is
// given to New.
const DefaultSweepInterval = 5 * time.Minute

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

type shard[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
}

// Store is a string-keyed map with per-entry TTLs. Operations on the same key
// are atomic; operations on different keys contend only within a shard.
type Store[V any] struct {
	shards    [shardCount]*shard[V]
	done      chan struct{}
	closeOnce sync.Once

	// onEvict, when set, is called once per entry removed by the sweeper or
	// by lazy expiry. Used for metrics; must not call back into the store.
	onEvict func(key string)
}

// Option configures a Store.
type Option[V any] func(*Store[V])

// WithEvictionHook registers fn to be called for every expired entry removed.
func WithEvictionHook[V any](fn func(key string)) Option[V] {
	return func(s *Store[V]) { s.onEvict = fn }
}

// New creates a store and starts its background sweeper at the given
// interval. The sweeper runs until Close is called.
func New[V any](sweepInterval time.Duration, opts ...Option[V]) *Store[V] {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	s := &Store[V]{done: make(chan struct{})}
	for i := range s.shards {
		s.shards[i] = &shard[V]{entries: make(map[string]entry[V])}
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.runSweeper(sweepInterval)
	return s
}

func (s *Store[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Set inserts or overwrites the entry for key with expiry now+ttl.
func (s *Store[V]) Set(key string, value V, ttl time.Duration) {
	now := time.Now()
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = entry[V]{value: value, createdAt: now, expiresAt: now.Add(ttl)}
	sh.mu.Unlock()
}

// Get returns the value for key if present and unexpired. An entry found past
// its expiry is deleted before returning, as if it were never there.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok {
		sh.mu.Unlock()
		return zero, false
	}
	if !time.Now().Before(e.expiresAt) {
		delete(sh.entries, key)
		sh.mu.Unlock()
		s.evicted(key)
		return zero, false
	}
	sh.mu.Unlock()
	return e.value, true
}

// Take atomically removes and returns the value for key if present and
// unexpired. Under concurrent Take calls for the same key, exactly one caller
// receives the value.
func (s *Store[V]) Take(key string) (V, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(sh.entries, key)
	if !time.Now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes the entry for key, reporting whether one was present.
func (s *Store[V]) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	_, ok := sh.entries[key]
	delete(sh.entries, key)
	return ok
}

// Mutate applies fn to the current unexpired value for key (ok reports
// whether one existed) and stores the result with expiry now+ttl. The whole
// read-modify-write holds the key's shard lock, so concurrent Mutate calls
// for the same key serialize.
func (s *Store[V]) Mutate(key string, ttl time.Duration, fn func(v V, ok bool) V) V {
	now := time.Now()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if ok && !now.Before(e.expiresAt) {
		ok = false
	}
	next := fn(e.value, ok)
	sh.entries[key] = entry[V]{value: next, createdAt: now, expiresAt: now.Add(ttl)}
	return next
}

// Len returns the number of stored entries, counting entries that are expired
// but not yet swept.
func (s *Store[V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Close stops the background sweeper. Safe to call more than once. The store
// remains usable afterwards; only active expiry stops.
func (s *Store[V]) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Store[V]) runSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.done:
			return
		}
	}
}

// Sweep removes every entry whose expiry has passed. Called on a timer by the
// store's own sweeper; exported so callers with their own scheduling can run
// it directly.
func (s *Store[V]) Sweep() {
	now := time.Now()
	for _, sh := range s.shards {
		var expired []string
		sh.mu.Lock()
		for key, e := range sh.entries {
			if !now.Before(e.expiresAt) {
				delete(sh.entries, key)
				expired = append(expired, key)
			}
		}
		sh.mu.Unlock()
		for _, key := range expired {
			s.evicted(key)
		}
	}
}

func (s *Store[V]) evicted(key string) {
	if s.onEvict != nil {
		s.onEvict(key)
	}
}

package expiry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	s := New[string](time.Minute)
	defer s.Close()

	s.Set("a", "one", time.Minute)

	v, ok := s.Get("a")
	if !ok {
		t.Fatal("Get(a) = absent, want present")
	}
	if v != "one" {
		t.Errorf("Get(a) = %q, want %q", v, "one")
	}

	if _, ok := s.Get("missing"); ok {
		t.Error("Get(missing) = present, want absent")
	}
}

func TestSetOverwrites(t *testing.T) {
	s := New[string](time.Minute)
	defer s.Close()

	s.Set("a", "one", time.Minute)
	s.Set("a", "two", time.Minute)

	v, _ := s.Get("a")
	if v != "two" {
		t.Errorf("Get(a) = %q, want %q", v, "two")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestLazyExpiryOnGet(t *testing.T) {
	s := New[string](time.Hour) // sweep far away; only lazy expiry can apply
	defer s.Close()

	s.Set("a", "one", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := s.Get("a"); ok {
		t.Error("Get after TTL = present, want absent")
	}
	// The expired entry must have been deleted by the read itself.
	if s.Len() != 0 {
		t.Errorf("Len() after expired Get = %d, want 0", s.Len())
	}
}

func TestTakeRemoves(t *testing.T) {
	s := New[int](time.Minute)
	defer s.Close()

	s.Set("a", 42, time.Minute)

	v, ok := s.Take("a")
	if !ok || v != 42 {
		t.Fatalf("Take(a) = %d, %v, want 42, true", v, ok)
	}
	if _, ok := s.Take("a"); ok {
		t.Error("second Take(a) = present, want absent")
	}
}

func TestTakeExpired(t *testing.T) {
	s := New[int](time.Hour)
	defer s.Close()

	s.Set("a", 1, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := s.Take("a"); ok {
		t.Error("Take after TTL = present, want absent")
	}
}

// One value deposited, many goroutines racing to take it: exactly one wins.
func TestTakeSingleWinner(t *testing.T) {
	s := New[string](time.Minute)
	defer s.Close()

	s.Set("session", "payload", time.Minute)

	const racers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := s.Take("session"); ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("winners = %d, want 1", wins.Load())
	}
}

func TestDelete(t *testing.T) {
	s := New[string](time.Minute)
	defer s.Close()

	s.Set("a", "one", time.Minute)

	if !s.Delete("a") {
		t.Error("Delete(a) = false, want true")
	}
	if s.Delete("a") {
		t.Error("second Delete(a) = true, want false")
	}
}

func TestMutateSerializes(t *testing.T) {
	s := New[int](time.Minute)
	defer s.Close()

	const workers = 8
	const perWorker = 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.Mutate("counter", time.Minute, func(v int, ok bool) int {
					if !ok {
						return 1
					}
					return v + 1
				})
			}
		}()
	}
	wg.Wait()

	v, _ := s.Get("counter")
	if v != workers*perWorker {
		t.Errorf("counter = %d, want %d", v, workers*perWorker)
	}
}

func TestMutateTreatsExpiredAsAbsent(t *testing.T) {
	s := New[int](time.Hour)
	defer s.Close()

	s.Set("a", 99, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	got := s.Mutate("a", time.Minute, func(v int, ok bool) int {
		if ok {
			t.Error("Mutate saw expired value as present")
		}
		return 1
	})
	if got != 1 {
		t.Errorf("Mutate result = %d, want 1", got)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	var evicted atomic.Int32
	s := New[string](time.Hour, WithEvictionHook[string](func(string) {
		evicted.Add(1)
	}))
	defer s.Close()

	for i := 0; i < 10; i++ {
		s.Set(fmt.Sprintf("old-%d", i), "x", 5*time.Millisecond)
	}
	s.Set("fresh", "y", time.Minute)
	time.Sleep(20 * time.Millisecond)

	s.Sweep()

	if s.Len() != 1 {
		t.Errorf("Len() after sweep = %d, want 1", s.Len())
	}
	if evicted.Load() != 10 {
		t.Errorf("eviction hook calls = %d, want 10", evicted.Load())
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Error("sweep removed an unexpired entry")
	}
}

func TestBackgroundSweeper(t *testing.T) {
	s := New[string](20 * time.Millisecond)
	defer s.Close()

	s.Set("a", "x", 5*time.Millisecond)

	deadline := time.After(time.Second)
	for s.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("background sweeper never removed the expired entry")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := New[string](time.Minute)
	s.Close()
	s.Close()

	// Store stays usable after Close; only the sweeper stops.
	s.Set("a", "one", time.Minute)
	if _, ok := s.Get("a"); !ok {
		t.Error("Get after Close = absent, want present")
	}
}

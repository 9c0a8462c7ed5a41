package risk

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testVerdict(addr string, computedAt time.Time, ttl time.Duration) *Verdict {
	return &Verdict{
		ID:         "vrd_test",
		Address:    addr,
		RiskScore:  20,
		RiskTier:   TierLow,
		ComputedAt: computedAt,
		ExpiresAt:  computedAt.Add(ttl),
	}
}

func TestCacheGetPut(t *testing.T) {
	c := NewCache(time.Hour)
	if _, ok := c.Get(cleanAddr); ok {
		t.Error("empty cache must miss")
	}

	v := testVerdict(cleanAddr, time.Now(), time.Hour)
	c.Put(cleanAddr, v)

	got, ok := c.Get(cleanAddr)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != v {
		t.Error("cache must return the stored verdict")
	}
}

func TestCacheExpiryLazyEviction(t *testing.T) {
	now := time.Now()
	clock := now
	var mu sync.Mutex
	c := NewCache(time.Hour).WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	})

	c.Put(cleanAddr, testVerdict(cleanAddr, now, time.Hour))

	mu.Lock()
	clock = now.Add(2 * time.Hour)
	mu.Unlock()

	if _, ok := c.Get(cleanAddr); ok {
		t.Error("expired entry must miss")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry must be evicted on Get, len = %d", c.Len())
	}
}

func TestCacheSweep(t *testing.T) {
	now := time.Now()
	clock := now
	var mu sync.Mutex
	c := NewCache(time.Hour).WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	})

	c.Put("0x1111111111111111111111111111111111111111", testVerdict("0x1", now.Add(-2*time.Hour), time.Hour))
	c.Put("0x2222222222222222222222222222222222222222", testVerdict("0x2", now.Add(-2*time.Hour), time.Hour))
	c.Put("0x3333333333333333333333333333333333333333", testVerdict("0x3", now, time.Hour))

	removed := c.Sweep()
	if removed != 2 {
		t.Errorf("swept %d entries, want 2", removed)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d after sweep, want 1", c.Len())
	}
}

func TestSweeperLifecycle(t *testing.T) {
	c := NewCache(time.Hour)
	s := NewSweeper(c, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for !s.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !s.Running() {
		t.Fatal("sweeper did not start")
	}

	s.Stop()
	deadline = time.Now().Add(time.Second)
	for s.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.Running() {
		t.Error("sweeper did not stop")
	}
}

func TestSweeperStopAloneStopsLoop(t *testing.T) {
	s := NewSweeper(NewCache(time.Hour), 10*time.Millisecond, slog.Default())

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !s.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// Stop must be sufficient without a context cancel, and repeat
	// calls must not panic or block.
	s.Stop()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not exit after Stop")
	}
}

func TestSweeperEvictsExpired(t *testing.T) {
	now := time.Now()
	c := NewCache(time.Hour)
	c.Put(cleanAddr, testVerdict(cleanAddr, now.Add(-2*time.Hour), time.Hour))

	s := NewSweeper(c, 5*time.Millisecond, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for c.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Len() != 0 {
		t.Error("sweeper did not evict the expired entry")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Put(cleanAddr, testVerdict(cleanAddr, time.Now(), time.Hour))
		}()
		go func() {
			defer wg.Done()
			c.Get(cleanAddr)
		}()
	}
	wg.Wait()

	if _, ok := c.Get(cleanAddr); !ok {
		t.Error("expected a verdict after concurrent writes")
	}
}

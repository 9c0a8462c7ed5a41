package risk

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/riskgate/internal/metrics"
)

// DefaultTTL is how long a verdict stays servable from cache.
const DefaultTTL = 24 * time.Hour

// Cache is an address-keyed verdict cache with TTL expiry. Expired
// entries are dropped lazily on Get and in bulk by Sweep. There is no
// size bound; the sweep is the only eviction.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Verdict
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a verdict cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]*Verdict),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock overrides the cache's clock. Test hook.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached verdict for an address if present and not
// expired. Expired entries are removed on the spot.
func (c *Cache) Get(address string) (*Verdict, bool) {
	c.mu.RLock()
	v, ok := c.entries[address]
	c.mu.RUnlock()

	if !ok {
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}

	if v.Expired(c.now()) {
		c.mu.Lock()
		// Re-check: a concurrent Put may have replaced the entry.
		if cur, stillThere := c.entries[address]; stillThere && cur.Expired(c.now()) {
			delete(c.entries, address)
			metrics.CacheSize.Set(float64(len(c.entries)))
		}
		c.mu.Unlock()
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}

	metrics.CacheHitsTotal.Inc()
	return v, true
}

// Put stores a verdict. Last write wins; verdicts are immutable so a
// concurrent duplicate computation is wasted work, not corruption.
func (c *Cache) Put(address string, v *Verdict) {
	c.mu.Lock()
	c.entries[address] = v
	metrics.CacheSize.Set(float64(len(c.entries)))
	c.mu.Unlock()
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for addr, v := range c.entries {
		if v.Expired(now) {
			delete(c.entries, addr)
			removed++
		}
	}
	if removed > 0 {
		metrics.CacheSweptTotal.Add(float64(removed))
		metrics.CacheSize.Set(float64(len(c.entries)))
	}
	return removed
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweeper runs Cache.Sweep on a fixed interval as an explicitly owned
// background task. Started and stopped by the service lifecycle.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewSweeper creates a cache sweeper.
func NewSweeper(cache *Cache, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		cache:    cache,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if removed := s.cache.Sweep(); removed > 0 {
				s.logger.Info("verdict cache swept", "removed", removed, "remaining", s.cache.Len())
			}
		}
	}
}

// Stop signals the sweeper to stop. Safe to call more than once; the
// loop observes the closed channel even when it is mid-sweep.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

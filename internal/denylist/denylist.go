// Package denylist implements exact-match screening of wallet addresses
// against a maintained list of known-bad addresses.
//
// The list is loaded at startup from a file or URL and refreshed on an
// interval. A match is the only short-circuit in the scoring model: the
// aggregator returns a forced Critical verdict without consulting any
// other signal provider.
package denylist

import (
	"sync"
	"time"

	"github.com/mbd888/riskgate/internal/metrics"
	"github.com/mbd888/riskgate/internal/validation"
)

// Entry is one known-bad address record.
type Entry struct {
	Address string    `json:"address"`
	Reason  string    `json:"reason"`
	AddedAt time.Time `json:"addedAt"`
}

// Checker holds the current deny-list snapshot and answers membership queries.
type Checker struct {
	mu      sync.RWMutex
	entries map[string]Entry
	version string
}

// NewChecker creates an empty deny-list checker.
func NewChecker() *Checker {
	return &Checker{entries: make(map[string]Entry)}
}

// Check reports whether the normalized address is on the deny-list.
func (c *Checker) Check(address string) (Entry, bool) {
	address = validation.SanitizeAddress(address)

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[address]
	return e, ok
}

// Replace swaps in a new snapshot of entries. Addresses are normalized on
// the way in; entries with malformed addresses are dropped.
func (c *Checker) Replace(version string, entries []Entry) {
	next := make(map[string]Entry, len(entries))
	for _, e := range entries {
		addr, err := validation.NormalizeAddress(e.Address)
		if err != nil {
			continue
		}
		e.Address = addr
		next[addr] = e
	}

	c.mu.Lock()
	c.entries = next
	c.version = version
	c.mu.Unlock()

	metrics.DenyListEntries.Set(float64(len(next)))
}

// Len returns the number of loaded entries.
func (c *Checker) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Version returns the version string of the loaded snapshot.
func (c *Checker) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

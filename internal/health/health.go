// Package health provides a registry of named subsystem health checkers.
package health

import (
	"context"
	"sync"
	"time"
)

// checkTimeout bounds each individual checker so one stuck subsystem
// cannot stall the whole /health response.
const checkTimeout = 3 * time.Second

// Status represents the health of a single subsystem. Name is stamped
// by the registry from the registration name.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker inspects one subsystem. Implementations fill Healthy and
// Detail; Name is overwritten by the registry.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
// Checks run in registration order.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]Checker
}

// NewRegistry creates an empty health check registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Checker)}
}

// Register adds a named checker. Registering the same name twice
// replaces the earlier checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[name]; !exists {
		r.names = append(r.names, name)
	}
	r.checks[name] = check
}

// CheckAll runs every registered checker and reports the aggregate
// health plus per-subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	checks := make(map[string]Checker, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, 0, len(names))

	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		st := checks[name](checkCtx)
		cancel()

		st.Name = name
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}

	return healthy, statuses
}

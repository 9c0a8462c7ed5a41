package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	verdicts map[string][]*Verdict // address → verdicts, oldest first
}

// NewMemoryStore creates an in-memory verdict audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		verdicts: make(map[string][]*Verdict),
	}
}

func (s *MemoryStore) Record(ctx context.Context, verdict *Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := copyVerdict(verdict)
	s.verdicts[verdict.Address] = append(s.verdicts[verdict.Address], v)
	return nil
}

func (s *MemoryStore) ListByAddress(ctx context.Context, address string, limit int) ([]*Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.verdicts[address]
	if len(all) == 0 {
		return nil, nil
	}

	// Most recent first, up to limit
	start := len(all) - limit
	if start < 0 {
		start = 0
	}

	result := make([]*Verdict, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		result = append(result, copyVerdict(all[i]))
	}
	return result, nil
}

// copyVerdict deep-copies the slices so callers can't mutate stored state.
func copyVerdict(v *Verdict) *Verdict {
	out := *v
	out.Factors = make([]Factor, len(v.Factors))
	for i, f := range v.Factors {
		cf := f
		if f.Details != nil {
			cf.Details = make(map[string]any, len(f.Details))
			for k, val := range f.Details {
				cf.Details[k] = val
			}
		}
		out.Factors[i] = cf
	}
	out.Recommendations = append([]string(nil), v.Recommendations...)
	if v.ML != nil {
		ml := *v.ML
		out.ML = &ml
	}
	return &out
}

package textcache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process cache for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Lookup(_ context.Context, raw string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[Key(raw)]
	if !ok {
		return "", false, nil
	}
	e.UseCount++
	e.LastUsedAt = time.Now().UTC()
	return e.Normalized, true, nil
}

func (s *MemoryStore) Save(_ context.Context, raw, normalized string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := Key(raw)
	now := time.Now().UTC()
	if e, ok := s.entries[k]; ok {
		e.Normalized = normalized
		e.LastUsedAt = now
		return nil
	}
	s.entries[k] = &Entry{
		RawHash:    k,
		RawText:    raw,
		Normalized: normalized,
		UseCount:   1,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Entries: int64(len(s.entries))}
	for _, e := range s.entries {
		st.TotalUses += e.UseCount
		if st.OldestEntry == nil || e.CreatedAt.Before(*st.OldestEntry) {
			created := e.CreatedAt
			st.OldestEntry = &created
		}
	}
	return st, nil
}

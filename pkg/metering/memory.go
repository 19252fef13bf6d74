package metering

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps the usage log in memory for tests and lite-mode
// experiments.
type MemoryStore struct {
	mu   sync.Mutex
	rows []Record
	// raw_hash to raw_text, standing in for the normalization cache
	// side of the promotion join.
	texts map[string]string
}

// NewMemoryStore returns an empty in-memory log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{texts: make(map[string]string)}
}

// PutRawText seeds the description a promotion candidate resolves to.
func (s *MemoryStore) PutRawText(hash, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[hash] = text
}

// Rows returns a snapshot of every logged record.
func (s *MemoryStore) Rows() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.rows))
	copy(out, s.rows)
	return out
}

func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = int64(len(s.rows) + 1)
	s.rows = append(s.rows, *rec)
	return nil
}

func (s *MemoryStore) Aggregate(_ context.Context, userID string, p Period, operation string) (*Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg := &Aggregate{
		TierCounts:  make(map[int]int64),
		ByOperation: make(map[string]int64),
	}
	for _, r := range s.rows {
		if !s.inScope(r, userID, p, operation) {
			continue
		}
		agg.Total++
		agg.TierCounts[r.Tier]++
		agg.ByOperation[r.Operation]++
		if r.CacheHit {
			agg.CacheHits++
		}
	}
	return agg, nil
}

func (s *MemoryStore) TierThreeByInput(_ context.Context, userID string, p Period, minCount int64) ([]InputCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int64)
	for _, r := range s.rows {
		if !s.inScope(r, userID, p, "") || r.Tier != 3 || r.InputHash == "" {
			continue
		}
		counts[r.InputHash]++
	}
	var out []InputCount
	for hash, n := range counts {
		if n < minCount {
			continue
		}
		out = append(out, InputCount{InputHash: hash, Description: s.texts[hash], Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].InputHash < out[j].InputHash
	})
	return out, nil
}

func (s *MemoryStore) inScope(r Record, userID string, p Period, operation string) bool {
	if r.UserID != userID {
		return false
	}
	if r.CreatedAt.Before(p.Start) || !r.CreatedAt.Before(p.End) {
		return false
	}
	return operation == "" || r.Operation == operation
}

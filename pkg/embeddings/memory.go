package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"
	"time"
)

// MemoryEmbedder derives a deterministic pseudo-vector from the text
// hash. It gives tests stable, distinct vectors without a model.
type MemoryEmbedder struct {
	Dims int
}

func (m *MemoryEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	dims := m.Dims
	if dims <= 0 {
		dims = 8
	}

	vec := make(Vector, dims)
	seed := sha256.Sum256([]byte(text))
	for i := range vec {
		block := sha256.Sum256(append(seed[:], byte(i)))
		bits := binary.BigEndian.Uint32(block[:4])
		// Map to [-1, 1).
		vec[i] = float32(int32(bits)) / float32(1<<31) //nolint:gosec // intentional wraparound
	}
	return vec, nil
}

// MemoryStore is a brute-force in-process vector store for tests and
// lite mode experiments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) SearchTopK(_ context.Context, userID string, vec Vector, k int) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k <= 0 {
		k = 5
	}

	var matches []Match
	for _, rec := range s.records {
		if rec.UserID != userID {
			continue
		}
		matches = append(matches, Match{
			ID:         rec.ID,
			SourceText: rec.SourceText,
			GLCode:     rec.GLCode,
			Department: rec.Department,
			Verified:   rec.Verified,
			Similarity: Cosine(vec, rec.Vector),
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *MemoryStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		now := time.Now().UTC()
		rec.LastMatchedAt = &now
		s.records[id] = rec
	}
	return nil
}

func (s *MemoryStore) Counts(_ context.Context) (verified, unverified int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.Verified {
			verified++
		} else {
			unverified++
		}
	}
	return verified, unverified, nil
}

func (s *MemoryStore) PurgeStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, rec := range s.records {
		if !rec.Verified && rec.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			purged++
		}
	}
	return purged, nil
}

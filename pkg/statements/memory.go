package statements

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spendlens/core/pkg/expense"
)

// MemoryStore is the in-memory fingerprint store used in tests and by
// tooling that runs without a database.
type MemoryStore struct {
	mu     sync.Mutex
	byUser map[string]*expense.StatementFingerprint // userID + "\x00" + headerHash
	system map[string]*expense.StatementFingerprint // headerHash
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser: make(map[string]*expense.StatementFingerprint),
		system: make(map[string]*expense.StatementFingerprint),
	}
}

func copyFingerprint(fp *expense.StatementFingerprint) *expense.StatementFingerprint {
	cp := *fp
	cp.ColumnMapping = make(map[string]expense.ColumnField, len(fp.ColumnMapping))
	for k, v := range fp.ColumnMapping {
		cp.ColumnMapping[k] = v
	}
	if fp.LastUsedAt != nil {
		t := *fp.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}

func (s *MemoryStore) Lookup(_ context.Context, userID, headerHash string) (*expense.StatementFingerprint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp, ok := s.byUser[userID+"\x00"+headerHash]
	if !ok {
		fp, ok = s.system[headerHash]
	}
	if !ok {
		return nil, false, nil
	}
	fp.HitCount++
	now := time.Now().UTC()
	fp.LastUsedAt = &now
	return copyFingerprint(fp), true, nil
}

func (s *MemoryStore) Insert(_ context.Context, fp *expense.StatementFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fp.AmountSign == "" {
		fp.AmountSign = expense.NegativeCharges
	}

	key := fp.HeaderHash
	bucket := s.system
	if fp.UserID != "" {
		key = fp.UserID + "\x00" + fp.HeaderHash
		bucket = s.byUser
	}
	if existing, ok := bucket[key]; ok {
		fp.ID = existing.ID
		fp.HitCount = existing.HitCount
		fp.CreatedAt = existing.CreatedAt
		fp.LastUsedAt = existing.LastUsedAt
	}
	if fp.ID == "" {
		fp.ID = uuid.NewString()
	}
	if fp.CreatedAt.IsZero() {
		fp.CreatedAt = time.Now().UTC()
	}
	bucket[key] = copyFingerprint(fp)
	return nil
}

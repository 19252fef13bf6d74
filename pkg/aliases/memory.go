package aliases

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/problem"
)

// MemoryStore is an in-process registry for tests. It applies the same
// selection order as the SQL stores.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]*expense.VendorAlias
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*expense.VendorAlias)}
}

func copyAlias(a *expense.VendorAlias) *expense.VendorAlias {
	out := *a
	if a.LastMatchedAt != nil {
		t := *a.LastMatchedAt
		out.LastMatchedAt = &t
	}
	return &out
}

func (s *MemoryStore) Find(ctx context.Context, description string) (*expense.VendorAlias, bool, error) {
	return s.find(description, nil)
}

func (s *MemoryStore) FindInCategories(ctx context.Context, description string, categories []expense.AliasCategory) (*expense.VendorAlias, bool, error) {
	if len(categories) == 0 {
		return s.find(description, nil)
	}
	allowed := make(map[expense.AliasCategory]bool, len(categories))
	for _, c := range categories {
		allowed[c] = true
	}
	return s.find(description, allowed)
}

func (s *MemoryStore) find(description string, allowed map[expense.AliasCategory]bool) (*expense.VendorAlias, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upper := strings.ToUpper(description)
	var best *expense.VendorAlias
	for _, a := range s.byID {
		if allowed != nil && !allowed[a.Category] {
			continue
		}
		if !strings.Contains(upper, strings.ToUpper(a.AliasPattern)) {
			continue
		}
		if best == nil || better(a, best) {
			best = a
		}
	}
	if best == nil {
		return nil, false, nil
	}
	best.MatchCount++
	now := time.Now()
	best.LastMatchedAt = &now
	return copyAlias(best), true, nil
}

func (s *MemoryStore) GetByCanonicalName(ctx context.Context, name string) (*expense.VendorAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *expense.VendorAlias
	for _, a := range s.byID {
		if a.CanonicalName != name {
			continue
		}
		if best == nil || better(a, best) {
			best = a
		}
	}
	if best == nil {
		return nil, problem.NotFound("aliases.GetByCanonicalName", "vendor alias", name)
	}
	return copyAlias(best), nil
}

func (s *MemoryStore) GetByVendorName(ctx context.Context, name string) (*expense.VendorAlias, bool, error) {
	target := strings.ToUpper(strings.TrimSpace(name))

	s.mu.Lock()
	var best *expense.VendorAlias
	for _, a := range s.byID {
		if strings.ToUpper(a.CanonicalName) != target {
			continue
		}
		if best == nil || better(a, best) {
			best = a
		}
	}
	if best != nil {
		out := copyAlias(best)
		s.mu.Unlock()
		return out, true, nil
	}
	s.mu.Unlock()

	return s.Find(ctx, name)
}

func (s *MemoryStore) AddOrUpdate(ctx context.Context, a *expense.VendorAlias) error {
	if a.Category == "" {
		a.Category = expense.CategoryGeneric
	}
	if a.Confidence == 0 {
		a.Confidence = 1.0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.CanonicalName != a.CanonicalName || existing.AliasPattern != a.AliasPattern {
			continue
		}
		if a.DisplayName != "" {
			existing.DisplayName = a.DisplayName
		}
		if a.Category != expense.CategoryGeneric {
			existing.Category = a.Category
		}
		if a.DefaultGLCode != "" {
			existing.DefaultGLCode = a.DefaultGLCode
		}
		if a.DefaultDepartment != "" {
			existing.DefaultDepartment = a.DefaultDepartment
		}
		a.ID = existing.ID
		return nil
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.byID[a.ID] = copyAlias(a)
	return nil
}

func (s *MemoryStore) RecordMatch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return problem.NotFound("aliases.RecordMatch", "vendor alias", id)
	}
	a.MatchCount++
	now := time.Now()
	a.LastMatchedAt = &now
	return nil
}

func (s *MemoryStore) UpdateDefaults(ctx context.Context, a *expense.VendorAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[a.ID]
	if !ok {
		return problem.NotFound("aliases.UpdateDefaults", "vendor alias", a.ID)
	}
	existing.DefaultGLCode = a.DefaultGLCode
	existing.DefaultDepartment = a.DefaultDepartment
	existing.GLConfirmCount = a.GLConfirmCount
	existing.DeptConfirmCount = a.DeptConfirmCount
	return nil
}

package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/problem"
)

// MemoryStore keeps the whole matching state in maps. It backs unit
// tests and enforces the same transition guards and active-match
// uniqueness as the SQL stores so engine behavior carries over.
type MemoryStore struct {
	mu       sync.Mutex
	receipts map[string]*expense.Receipt
	txns     map[string]*expense.Transaction
	groups   map[string]*expense.TransactionGroup
	matches  map[string]*expense.ReceiptTransactionMatch
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		receipts: make(map[string]*expense.Receipt),
		txns:     make(map[string]*expense.Transaction),
		groups:   make(map[string]*expense.TransactionGroup),
		matches:  make(map[string]*expense.ReceiptTransactionMatch),
	}
}

// PutReceipt seeds or replaces a receipt.
func (s *MemoryStore) PutReceipt(r *expense.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[r.ID] = copyReceipt(r)
}

// PutTransaction seeds or replaces a transaction.
func (s *MemoryStore) PutTransaction(t *expense.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.txns[t.ID] = &cp
}

// PutGroup seeds or replaces a transaction group.
func (s *MemoryStore) PutGroup(g *expense.TransactionGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.groups[g.ID] = &cp
}

func copyReceipt(r *expense.Receipt) *expense.Receipt {
	cp := *r
	if r.DateExtracted != nil {
		d := *r.DateExtracted
		cp.DateExtracted = &d
	}
	if r.AmountExtracted != nil {
		a := *r.AmountExtracted
		cp.AmountExtracted = &a
	}
	return &cp
}

func copyMatch(m *expense.ReceiptTransactionMatch) *expense.ReceiptTransactionMatch {
	cp := *m
	if m.ConfirmedAt != nil {
		t := *m.ConfirmedAt
		cp.ConfirmedAt = &t
	}
	return &cp
}

// hasActive reports whether any proposed or confirmed match already
// claims the receipt, transaction, or group. Empty ids are ignored.
// Callers hold the lock.
func (s *MemoryStore) hasActive(receiptID, transactionID, groupID string) bool {
	for _, m := range s.matches {
		if m.Status != expense.MatchProposed && m.Status != expense.MatchConfirmed {
			continue
		}
		if receiptID != "" && m.ReceiptID == receiptID {
			return true
		}
		if transactionID != "" && m.TransactionID == transactionID {
			return true
		}
		if groupID != "" && m.TransactionGroupID == groupID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) GetReceipt(_ context.Context, userID, receiptID string) (*expense.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[receiptID]
	if !ok || r.UserID != userID {
		return nil, problem.NotFound("matching.GetReceipt", "receipt", receiptID)
	}
	return copyReceipt(r), nil
}

func (s *MemoryStore) UnmatchedReceipts(_ context.Context, userID string, receiptIDs []string) ([]*expense.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var wanted map[string]bool
	if len(receiptIDs) > 0 {
		wanted = make(map[string]bool, len(receiptIDs))
		for _, id := range receiptIDs {
			wanted[id] = true
		}
	}
	var out []*expense.Receipt
	for _, r := range s.receipts {
		if r.UserID != userID || r.MatchStatus != expense.StatusUnmatched {
			continue
		}
		if wanted != nil && !wanted[r.ID] {
			continue
		}
		out = append(out, copyReceipt(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CandidateTransactions(_ context.Context, userID string, amount, tolerance expense.Money, from, to time.Time) ([]*expense.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*expense.Transaction
	for _, t := range s.txns {
		if t.UserID != userID || t.MatchStatus != expense.StatusUnmatched || t.GroupID != "" {
			continue
		}
		d := expense.DateOnly(t.TransactionDate)
		if d.Before(expense.DateOnly(from)) || d.After(expense.DateOnly(to)) {
			continue
		}
		if (amount - t.Amount.Abs()).Abs() > tolerance {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CandidateGroups(_ context.Context, userID string, from, to time.Time) ([]*expense.TransactionGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*expense.TransactionGroup
	for _, g := range s.groups {
		if g.UserID != userID || g.MatchStatus != expense.StatusUnmatched {
			continue
		}
		d := expense.DateOnly(g.DisplayDate)
		if d.Before(expense.DateOnly(from)) || d.After(expense.DateOnly(to)) {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DisplayDate.Equal(out[j].DisplayDate) {
			return out[i].DisplayDate.Before(out[j].DisplayDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, userID, transactionID string) (*expense.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[transactionID]
	if !ok || t.UserID != userID {
		return nil, problem.NotFound("matching.GetTransaction", "transaction", transactionID)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetGroup(_ context.Context, userID, groupID string) (*expense.TransactionGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok || g.UserID != userID {
		return nil, problem.NotFound("matching.GetGroup", "transaction_group", groupID)
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) GetMatch(_ context.Context, userID, matchID string) (*expense.ReceiptTransactionMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok || m.UserID != userID {
		return nil, problem.NotFound("matching.GetMatch", "match", matchID)
	}
	return copyMatch(m), nil
}

func (s *MemoryStore) ProposedMatches(_ context.Context, userID string, minConfidence int) ([]*expense.ReceiptTransactionMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*expense.ReceiptTransactionMatch
	for _, m := range s.matches {
		if m.UserID != userID || m.Status != expense.MatchProposed || m.ConfidenceScore < minConfidence {
			continue
		}
		out = append(out, copyMatch(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ApplyPass(_ context.Context, userID string, proposals []*expense.ReceiptTransactionMatch) ([]*expense.ReceiptTransactionMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := make([]*expense.ReceiptTransactionMatch, 0, len(proposals))
	for _, m := range proposals {
		if s.hasActive(m.ReceiptID, m.TransactionID, m.TransactionGroupID) {
			continue
		}
		s.matches[m.ID] = copyMatch(m)
		if r, ok := s.receipts[m.ReceiptID]; ok && r.MatchStatus == expense.StatusUnmatched {
			r.MatchStatus = expense.StatusProposed
		}
		if m.IsGroupMatch() {
			if g, ok := s.groups[m.TransactionGroupID]; ok && g.MatchStatus == expense.StatusUnmatched {
				g.MatchStatus = expense.StatusProposed
			}
		}
		applied = append(applied, m)
	}
	return applied, nil
}

func (s *MemoryStore) ConfirmMatch(_ context.Context, m *expense.ReceiptTransactionMatch, confirmedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmLocked(m.ID, confirmedBy, at)
}

func (s *MemoryStore) confirmLocked(matchID, confirmedBy string, at time.Time) error {
	const op = "matching.ConfirmMatch"
	stored, ok := s.matches[matchID]
	if !ok {
		return problem.NotFound(op, "match", matchID)
	}
	if stored.Status != expense.MatchProposed {
		return problem.InvalidStatef(op, "match %s is no longer proposed", matchID)
	}
	stored.Status = expense.MatchConfirmed
	stored.ConfirmedAt = &at
	stored.ConfirmedByUserID = confirmedBy

	if r, ok := s.receipts[stored.ReceiptID]; ok {
		r.MatchStatus = expense.StatusMatched
		if !stored.IsGroupMatch() {
			r.MatchedTransactionID = stored.TransactionID
		}
	}
	if stored.IsGroupMatch() {
		if g, ok := s.groups[stored.TransactionGroupID]; ok {
			g.MatchStatus = expense.StatusMatched
			g.MatchedReceiptID = stored.ReceiptID
		}
	} else if t, ok := s.txns[stored.TransactionID]; ok {
		t.MatchStatus = expense.StatusMatched
		t.MatchedReceiptID = stored.ReceiptID
	}
	return nil
}

func (s *MemoryStore) BatchConfirm(_ context.Context, userID string, matchIDs []string, confirmedBy string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var confirmed []string
	for _, id := range matchIDs {
		stored, ok := s.matches[id]
		if !ok || stored.UserID != userID || stored.Status != expense.MatchProposed {
			continue
		}
		if err := s.confirmLocked(id, confirmedBy, at); err != nil {
			continue
		}
		confirmed = append(confirmed, id)
	}
	return confirmed, nil
}

func (s *MemoryStore) RejectMatch(_ context.Context, m *expense.ReceiptTransactionMatch) error {
	const op = "matching.RejectMatch"
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.matches[m.ID]
	if !ok {
		return problem.NotFound(op, "match", m.ID)
	}
	if stored.Status != expense.MatchProposed {
		return problem.InvalidStatef(op, "match %s is no longer proposed", m.ID)
	}
	stored.Status = expense.MatchRejected

	if r, ok := s.receipts[stored.ReceiptID]; ok {
		r.MatchStatus = expense.StatusUnmatched
		r.MatchedTransactionID = ""
	}
	if stored.IsGroupMatch() {
		if g, ok := s.groups[stored.TransactionGroupID]; ok {
			g.MatchStatus = expense.StatusUnmatched
			g.MatchedReceiptID = ""
		}
	}
	return nil
}

func (s *MemoryStore) InsertConfirmed(_ context.Context, m *expense.ReceiptTransactionMatch) error {
	const op = "matching.InsertConfirmed"
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receipts[m.ReceiptID]
	if !ok {
		return problem.NotFound(op, "receipt", m.ReceiptID)
	}
	if r.MatchStatus != expense.StatusUnmatched {
		return problem.InvalidStatef(op, "receipt %s is no longer unmatched", m.ReceiptID)
	}
	if s.hasActive(m.ReceiptID, m.TransactionID, m.TransactionGroupID) {
		return problem.InvalidStatef(op, "receipt %s or its target already has an active match", m.ReceiptID)
	}

	if m.IsGroupMatch() {
		g, ok := s.groups[m.TransactionGroupID]
		if !ok {
			return problem.NotFound(op, "transaction_group", m.TransactionGroupID)
		}
		if g.MatchStatus != expense.StatusUnmatched {
			return problem.InvalidStatef(op, "match target is no longer unmatched")
		}
		g.MatchStatus = expense.StatusMatched
		g.MatchedReceiptID = m.ReceiptID
	} else {
		t, ok := s.txns[m.TransactionID]
		if !ok {
			return problem.NotFound(op, "transaction", m.TransactionID)
		}
		if t.MatchStatus != expense.StatusUnmatched {
			return problem.InvalidStatef(op, "match target is no longer unmatched")
		}
		t.MatchStatus = expense.StatusMatched
		t.MatchedReceiptID = m.ReceiptID
		r.MatchedTransactionID = m.TransactionID
	}
	r.MatchStatus = expense.StatusMatched
	s.matches[m.ID] = copyMatch(m)
	return nil
}

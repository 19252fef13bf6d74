package matching

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/problem"
)

// ConfirmListener receives every confirmed match after it commits. The
// learning loop implements it to grow the vendor alias registry.
type ConfirmListener interface {
	MatchConfirmed(ctx context.Context, ev ConfirmEvent) error
}

// ConfirmEvent carries what a listener needs to learn from one
// confirmation without reaching back into the store.
type ConfirmEvent struct {
	UserID      string
	Match       *expense.ReceiptTransactionMatch
	Description string // bank description, or the group name for group matches
	IsGroup     bool

	// Operator overrides from the confirmation call, empty when the
	// user accepted the proposal as-is.
	DisplayName string
	GLCode      string
	Department  string
}

// Overrides are the optional corrections a user attaches when
// confirming a match. They flow to the alias registry, not the match.
type Overrides struct {
	DisplayName string `json:"display_name,omitempty"`
	GLCode      string `json:"gl_code,omitempty"`
	Department  string `json:"department,omitempty"`
}

// BatchResult reports a batch approval: how many proposals confirmed,
// how many were skipped because they raced into another state.
type BatchResult struct {
	Confirmed int      `json:"confirmed"`
	Skipped   int      `json:"skipped"`
	MatchIDs  []string `json:"match_ids"`
}

// ScoredCandidate is one row of a candidate listing for manual review.
type ScoredCandidate struct {
	TransactionID      string        `json:"transaction_id,omitempty"`
	TransactionGroupID string        `json:"transaction_group_id,omitempty"`
	Description        string        `json:"description"`
	Amount             expense.Money `json:"amount"`
	Date               time.Time     `json:"date"`
	AmountScore        int           `json:"amount_score"`
	DateScore          int           `json:"date_score"`
	VendorScore        int           `json:"vendor_score"`
	ConfidenceScore    int           `json:"confidence_score"`
	MatchedAliasID     string        `json:"matched_vendor_alias_id,omitempty"`
	MatchReason        string        `json:"match_reason"`
}

// Confirm transitions a proposed match to Confirmed, marks both sides
// Matched, and feeds the confirmation to the learning listener.
// Overrides travel to the alias registry only.
func (e *Engine) Confirm(ctx context.Context, userID, matchID string, ov Overrides) (*expense.ReceiptTransactionMatch, error) {
	m, err := e.store.GetMatch(ctx, userID, matchID)
	if err != nil {
		return nil, err
	}
	if m.Status != expense.MatchProposed {
		return nil, problem.InvalidStatef("matching.Confirm",
			"match %s is %s; only proposed matches can be confirmed", m.ID, m.Status)
	}
	now := time.Now().UTC()
	if err := e.store.ConfirmMatch(ctx, m, userID, now); err != nil {
		return nil, err
	}
	m.Status = expense.MatchConfirmed
	m.ConfirmedAt = &now
	m.ConfirmedByUserID = userID
	e.notifyConfirmed(ctx, userID, m, ov)
	return m, nil
}

// Reject transitions a proposed match to Rejected and returns the
// receipt (and group, if any) to the pool. The transaction was never
// marked at proposal time, so it needs no transition.
func (e *Engine) Reject(ctx context.Context, userID, matchID string) error {
	m, err := e.store.GetMatch(ctx, userID, matchID)
	if err != nil {
		return err
	}
	if m.Status != expense.MatchProposed {
		return problem.InvalidStatef("matching.Reject",
			"match %s is %s; only proposed matches can be rejected", m.ID, m.Status)
	}
	return e.store.RejectMatch(ctx, m)
}

// ManualMatch links an unmatched receipt directly to an unmatched
// transaction or group, bypassing scoring. The match is born Confirmed
// with full confidence and zeroed component scores.
func (e *Engine) ManualMatch(ctx context.Context, userID, receiptID, transactionID, groupID string) (*expense.ReceiptTransactionMatch, error) {
	const op = "matching.ManualMatch"
	if (transactionID == "") == (groupID == "") {
		return nil, problem.Validationf(op, "exactly one of transaction or group is required")
	}
	r, err := e.store.GetReceipt(ctx, userID, receiptID)
	if err != nil {
		return nil, err
	}
	if r.MatchStatus != expense.StatusUnmatched {
		return nil, problem.InvalidStatef(op, "receipt %s is %s; manual match requires an unmatched receipt", r.ID, r.MatchStatus)
	}

	var description string
	isGroup := groupID != ""
	if isGroup {
		g, err := e.store.GetGroup(ctx, userID, groupID)
		if err != nil {
			return nil, err
		}
		if g.MatchStatus != expense.StatusUnmatched {
			return nil, problem.InvalidStatef(op, "group %s is %s; manual match requires an unmatched group", g.ID, g.MatchStatus)
		}
		description = g.Name
	} else {
		t, err := e.store.GetTransaction(ctx, userID, transactionID)
		if err != nil {
			return nil, err
		}
		if t.MatchStatus != expense.StatusUnmatched {
			return nil, problem.InvalidStatef(op, "transaction %s is %s; manual match requires an unmatched transaction", t.ID, t.MatchStatus)
		}
		if t.GroupID != "" {
			return nil, problem.InvalidStatef(op, "transaction %s belongs to group %s; match the group instead", t.ID, t.GroupID)
		}
		description = t.Description
	}

	now := time.Now().UTC()
	m := &expense.ReceiptTransactionMatch{
		ID:                 uuid.NewString(),
		UserID:             userID,
		ReceiptID:          receiptID,
		TransactionID:      transactionID,
		TransactionGroupID: groupID,
		Status:             expense.MatchConfirmed,
		ConfidenceScore:    100,
		MatchReason:        "manual match",
		IsManualMatch:      true,
		CreatedAt:          now,
		ConfirmedAt:        &now,
		ConfirmedByUserID:  userID,
	}
	if err := e.store.InsertConfirmed(ctx, m); err != nil {
		return nil, err
	}
	e.fireConfirmed(ctx, ConfirmEvent{
		UserID:      userID,
		Match:       m,
		Description: description,
		IsGroup:     isGroup,
	})
	return m, nil
}

// BatchApprove confirms a set of proposed matches in one database
// transaction. With explicitIDs the set is exactly those matches;
// otherwise every proposal at or above minConfidence. Items that raced
// into another state are skipped and counted, never aborting the rest.
func (e *Engine) BatchApprove(ctx context.Context, userID string, minConfidence int, explicitIDs []string) (*BatchResult, error) {
	res := &BatchResult{MatchIDs: []string{}}

	var targets []*expense.ReceiptTransactionMatch
	if len(explicitIDs) > 0 {
		for _, id := range explicitIDs {
			m, err := e.store.GetMatch(ctx, userID, id)
			if err != nil {
				if problem.IsNotFound(err) {
					res.Skipped++
					continue
				}
				return nil, err
			}
			if m.Status != expense.MatchProposed {
				res.Skipped++
				continue
			}
			targets = append(targets, m)
		}
	} else {
		all, err := e.store.ProposedMatches(ctx, userID, minConfidence)
		if err != nil {
			return nil, err
		}
		targets = all
	}
	if len(targets) == 0 {
		return res, nil
	}

	ids := make([]string, len(targets))
	for i, m := range targets {
		ids[i] = m.ID
	}
	now := time.Now().UTC()
	confirmedIDs, err := e.store.BatchConfirm(ctx, userID, ids, userID, now)
	if err != nil {
		return nil, err
	}

	confirmed := make(map[string]bool, len(confirmedIDs))
	for _, id := range confirmedIDs {
		confirmed[id] = true
	}
	for _, m := range targets {
		if !confirmed[m.ID] {
			res.Skipped++
			continue
		}
		m.Status = expense.MatchConfirmed
		m.ConfirmedAt = &now
		m.ConfirmedByUserID = userID
		res.Confirmed++
		res.MatchIDs = append(res.MatchIDs, m.ID)
		e.notifyConfirmed(ctx, userID, m, Overrides{})
	}
	return res, nil
}

// ListCandidates scores the full candidate pool for one receipt and
// returns the top entries for manual selection. No confidence floor
// applies; the caller sees weak candidates too. Limit is clamped to
// the configured maximum.
func (e *Engine) ListCandidates(ctx context.Context, userID, receiptID string, limit int) ([]ScoredCandidate, error) {
	if limit <= 0 || limit > e.tuning.MaxProposalList {
		limit = e.tuning.MaxProposalList
	}
	r, err := e.store.GetReceipt(ctx, userID, receiptID)
	if err != nil {
		return nil, err
	}
	if r.AmountExtracted == nil || r.DateExtracted == nil {
		return nil, problem.Validationf("matching.ListCandidates",
			"receipt %s is missing an extracted amount or date", receiptID)
	}

	groups, err := e.passGroups(ctx, userID, []*expense.Receipt{r})
	if err != nil {
		return nil, err
	}
	pool, err := e.poolForReceipt(ctx, userID, r, groups, map[string]bool{})
	if err != nil {
		return nil, err
	}

	all := make([]scored, 0, len(pool))
	for _, c := range pool {
		all = append(all, e.scoreCandidate(ctx, r, c))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].total != all[j].total {
			return all[i].total > all[j].total
		}
		return all[i].cand.key() < all[j].cand.key()
	})
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]ScoredCandidate, 0, len(all))
	for _, s := range all {
		sc := ScoredCandidate{
			Description:     s.cand.description(),
			Amount:          s.cand.amount(),
			Date:            s.cand.date(),
			AmountScore:     s.amount,
			DateScore:       s.date,
			VendorScore:     s.vendor,
			ConfidenceScore: s.total,
			MatchedAliasID:  s.aliasID,
			MatchReason:     matchReason(s.amount, s.date, s.vendor),
		}
		if s.cand.isGroup() {
			sc.TransactionGroupID = s.cand.group.ID
		} else {
			sc.TransactionID = s.cand.txn.ID
		}
		out = append(out, sc)
	}
	return out, nil
}

// notifyConfirmed resolves the confirmed target's description and fires
// the listener. Lookup failures only cost the learning signal.
func (e *Engine) notifyConfirmed(ctx context.Context, userID string, m *expense.ReceiptTransactionMatch, ov Overrides) {
	if e.listener == nil {
		return
	}
	ev := ConfirmEvent{
		UserID:      userID,
		Match:       m,
		DisplayName: ov.DisplayName,
		GLCode:      ov.GLCode,
		Department:  ov.Department,
	}
	if m.IsGroupMatch() {
		g, err := e.store.GetGroup(ctx, userID, m.TransactionGroupID)
		if err != nil {
			slog.WarnContext(ctx, "confirmed group lookup failed; learning skipped",
				"match_id", m.ID, "group_id", m.TransactionGroupID, "error", err)
			return
		}
		ev.Description = g.Name
		ev.IsGroup = true
	} else {
		t, err := e.store.GetTransaction(ctx, userID, m.TransactionID)
		if err != nil {
			slog.WarnContext(ctx, "confirmed transaction lookup failed; learning skipped",
				"match_id", m.ID, "transaction_id", m.TransactionID, "error", err)
			return
		}
		ev.Description = t.Description
	}
	e.fireConfirmed(ctx, ev)
}

func (e *Engine) fireConfirmed(ctx context.Context, ev ConfirmEvent) {
	if e.listener == nil {
		return
	}
	if err := e.listener.MatchConfirmed(ctx, ev); err != nil {
		slog.WarnContext(ctx, "match-confirmed listener failed",
			"match_id", ev.Match.ID, "error", err)
	}
}

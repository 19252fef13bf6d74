// Package matching pairs extracted receipts with ingested bank
// transactions or transaction groups. Candidates are scored on three
// independent axes (amount, date proximity, vendor identity); a pass
// proposes only unambiguous winners and commits every proposal in a
// single transaction, leaving ambiguous receipts untouched for manual
// review.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spendlens/core/pkg/aliases"
	"github.com/spendlens/core/pkg/config"
	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/observability"
)

// Axis weights. Amount dominates because two vendors rarely charge the
// same cents on the same day; vendor identity alone can never reach the
// proposal threshold.
const (
	amountExactScore = 40
	amountNearScore  = 20

	dateSameDayScore  = 35
	dateOneDayScore   = 30
	dateThreeDayScore = 25
	dateWeekScore     = 10

	vendorAliasScore = 25
	vendorFuzzyScore = 15
)

// Engine runs scoring passes and match lifecycle transitions over a
// Store. It is safe for concurrent use; per-pass state lives on the
// stack.
type Engine struct {
	store    Store
	aliases  aliases.Store
	tuning   config.Tuning
	obs      *observability.Provider
	listener ConfirmListener
}

// NewEngine returns an Engine over the given stores using the supplied
// thresholds.
func NewEngine(store Store, aliasStore aliases.Store, tuning config.Tuning) *Engine {
	return &Engine{store: store, aliases: aliasStore, tuning: tuning}
}

// SetListener registers the hook fired after every confirmed match.
// Listener failures are logged and swallowed; confirmation must succeed
// even when learning does not.
func (e *Engine) SetListener(l ConfirmListener) { e.listener = l }

// SetObservability wires span and metric emission around passes and
// lifecycle operations. Optional; a nil provider disables it.
func (e *Engine) SetObservability(p *observability.Provider) { e.obs = p }

// AutoMatchResult summarizes one auto-match pass.
type AutoMatchResult struct {
	Processed             int                                `json:"processed"`
	Proposed              int                                `json:"proposed"`
	Ambiguous             int                                `json:"ambiguous"`
	DurationMS            int64                              `json:"duration_ms"`
	TransactionMatchCount int                                `json:"transaction_match_count"`
	GroupMatchCount       int                                `json:"group_match_count"`
	Proposals             []*expense.ReceiptTransactionMatch `json:"proposals"`
}

// candidate is one scorable target: a lone transaction or a group.
type candidate struct {
	txn   *expense.Transaction
	group *expense.TransactionGroup
}

func (c candidate) isGroup() bool { return c.group != nil }

func (c candidate) key() string {
	if c.group != nil {
		return "group:" + c.group.ID
	}
	return "txn:" + c.txn.ID
}

func (c candidate) amount() expense.Money {
	if c.group != nil {
		return c.group.CombinedAmount
	}
	return c.txn.Amount
}

func (c candidate) date() time.Time {
	if c.group != nil {
		return c.group.DisplayDate
	}
	return c.txn.TransactionDate
}

// description is the text the vendor axis scores against: the bank
// description for transactions, the group name for groups.
func (c candidate) description() string {
	if c.group != nil {
		return c.group.Name
	}
	return c.txn.Description
}

type scored struct {
	cand    candidate
	amount  int
	date    int
	vendor  int
	total   int
	aliasID string
}

// RunAutoMatch scores the user's unmatched receipts (optionally
// narrowed to receiptIDs) against the candidate pool and proposes the
// unambiguous winners. All proposals from the pass commit together;
// cancelling mid-pass commits nothing.
func (e *Engine) RunAutoMatch(ctx context.Context, userID string, receiptIDs []string) (_ *AutoMatchResult, err error) {
	if e.obs != nil {
		var finish func(error)
		ctx, finish = e.obs.TrackOperation(ctx, "matching.auto_match",
			observability.OperationAttrs(userID, "auto_match")...)
		defer func() { finish(err) }()
	}
	start := time.Now()

	receipts, err := e.store.UnmatchedReceipts(ctx, userID, receiptIDs)
	if err != nil {
		return nil, err
	}

	groups, err := e.passGroups(ctx, userID, receipts)
	if err != nil {
		return nil, err
	}

	result := &AutoMatchResult{
		Processed: len(receipts),
		Proposals: []*expense.ReceiptTransactionMatch{},
	}

	// Winners consumed earlier in the pass leave the pool immediately;
	// cross-pass races are settled by the active-match uniqueness
	// constraints at commit time.
	consumed := make(map[string]bool)
	var proposals []*expense.ReceiptTransactionMatch
	for _, r := range receipts {
		if r.AmountExtracted == nil || r.DateExtracted == nil {
			continue // counted as processed, unscorable until extraction completes
		}
		pool, err := e.poolForReceipt(ctx, userID, r, groups, consumed)
		if err != nil {
			return nil, err
		}
		retained := e.scoreAndRetain(ctx, r, pool)
		if len(retained) == 0 {
			continue
		}
		if len(retained) > 1 && retained[0].total-retained[1].total <= e.tuning.AmbiguousGap {
			result.Ambiguous++
			continue
		}
		winner := retained[0]
		consumed[winner.cand.key()] = true
		proposals = append(proposals, e.buildProposal(userID, r, winner))
	}

	applied, err := e.store.ApplyPass(ctx, userID, proposals)
	if err != nil {
		return nil, err
	}
	for _, m := range applied {
		if m.IsGroupMatch() {
			result.GroupMatchCount++
		} else {
			result.TransactionMatchCount++
		}
	}
	result.Proposed = len(applied)
	result.Proposals = applied
	result.DurationMS = time.Since(start).Milliseconds()

	slog.InfoContext(ctx, "auto-match pass complete",
		"user_id", userID,
		"processed", result.Processed,
		"proposed", result.Proposed,
		"ambiguous", result.Ambiguous,
		"duration_ms", result.DurationMS)
	return result, nil
}

// passGroups fetches candidate groups once per pass. The window spans
// every dated receipt in the batch so a single query serves them all.
func (e *Engine) passGroups(ctx context.Context, userID string, receipts []*expense.Receipt) ([]*expense.TransactionGroup, error) {
	var minDate, maxDate time.Time
	dated := false
	for _, r := range receipts {
		if r.AmountExtracted == nil || r.DateExtracted == nil {
			continue
		}
		d := expense.DateOnly(*r.DateExtracted)
		if !dated || d.Before(minDate) {
			minDate = d
		}
		if !dated || d.After(maxDate) {
			maxDate = d
		}
		dated = true
	}
	if !dated {
		return nil, nil
	}
	from := minDate.AddDate(0, 0, -e.tuning.DateWindowDays)
	to := maxDate.AddDate(0, 0, e.tuning.DateWindowDays)
	return e.store.CandidateGroups(ctx, userID, from, to)
}

// poolForReceipt assembles the surviving candidates for one receipt:
// date-windowed, amount-near transactions plus the pass groups within
// amount tolerance, minus anything already consumed.
func (e *Engine) poolForReceipt(ctx context.Context, userID string, r *expense.Receipt, groups []*expense.TransactionGroup, consumed map[string]bool) ([]candidate, error) {
	date := expense.DateOnly(*r.DateExtracted)
	from := date.AddDate(0, 0, -e.tuning.DateWindowDays)
	to := date.AddDate(0, 0, e.tuning.DateWindowDays)

	txns, err := e.store.CandidateTransactions(ctx, userID, *r.AmountExtracted, e.tuning.AmountNear, from, to)
	if err != nil {
		return nil, err
	}

	pool := make([]candidate, 0, len(txns)+len(groups))
	for _, t := range txns {
		c := candidate{txn: t}
		if !consumed[c.key()] {
			pool = append(pool, c)
		}
	}
	for _, g := range groups {
		c := candidate{group: g}
		if consumed[c.key()] {
			continue
		}
		if diff := (*r.AmountExtracted - g.CombinedAmount.Abs()).Abs(); diff > e.tuning.AmountNear {
			continue
		}
		pool = append(pool, c)
	}
	return pool, nil
}

// scoreAndRetain scores the pool and keeps candidates at or above the
// proposal threshold, best first. Ties order by key for determinism.
func (e *Engine) scoreAndRetain(ctx context.Context, r *expense.Receipt, pool []candidate) []scored {
	retained := make([]scored, 0, len(pool))
	for _, c := range pool {
		s := e.scoreCandidate(ctx, r, c)
		if s.total >= e.tuning.MinConfidence {
			retained = append(retained, s)
		}
	}
	sort.Slice(retained, func(i, j int) bool {
		if retained[i].total != retained[j].total {
			return retained[i].total > retained[j].total
		}
		return retained[i].cand.key() < retained[j].cand.key()
	})
	return retained
}

func (e *Engine) scoreCandidate(ctx context.Context, r *expense.Receipt, c candidate) scored {
	s := scored{cand: c}
	s.amount = e.scoreAmount(*r.AmountExtracted, c.amount())
	s.date = scoreDate(*r.DateExtracted, c.date())
	s.vendor, s.aliasID = e.scoreVendor(ctx, r.VendorExtracted, c)
	s.total = s.amount + s.date + s.vendor
	return s
}

// scoreAmount compares the receipt amount to the candidate's absolute
// amount; charges arrive negative from the statement.
func (e *Engine) scoreAmount(receiptAmount, candidateAmount expense.Money) int {
	diff := (receiptAmount - candidateAmount.Abs()).Abs()
	switch {
	case diff <= e.tuning.AmountExact:
		return amountExactScore
	case diff <= e.tuning.AmountNear:
		return amountNearScore
	default:
		return 0
	}
}

func scoreDate(receiptDate, candidateDate time.Time) int {
	switch d := expense.DaysApart(receiptDate, candidateDate); {
	case d == 0:
		return dateSameDayScore
	case d == 1:
		return dateOneDayScore
	case d <= 3:
		return dateThreeDayScore
	case d <= 7:
		return dateWeekScore
	default:
		return 0
	}
}

// scoreVendor checks the alias registry first: a registered alias whose
// canonical name is close to the extracted vendor is the strongest
// identity signal and records which alias matched. Without one, the
// pattern extracted from the description itself can still earn the
// weaker fuzzy score. An alias store outage degrades to the fuzzy path
// rather than failing the pass.
func (e *Engine) scoreVendor(ctx context.Context, receiptVendor string, c candidate) (int, string) {
	vendor := strings.TrimSpace(receiptVendor)
	if vendor == "" {
		return 0, ""
	}

	alias, ok, err := e.aliases.Find(ctx, c.description())
	if err != nil {
		slog.WarnContext(ctx, "alias lookup failed during scoring",
			"description", c.description(), "error", err)
	} else if ok && Similarity(alias.CanonicalName, vendor) >= e.tuning.FuzzyThreshold {
		return vendorAliasScore, alias.ID
	}

	var pattern string
	if c.isGroup() {
		pattern = ExtractGroupVendor(c.description())
	} else {
		pattern = ExtractVendorPattern(c.description())
	}
	if FuzzySimilarity(vendor, pattern) >= e.tuning.FuzzyThreshold {
		return vendorFuzzyScore, ""
	}
	return 0, ""
}

func (e *Engine) buildProposal(userID string, r *expense.Receipt, w scored) *expense.ReceiptTransactionMatch {
	m := &expense.ReceiptTransactionMatch{
		ID:              uuid.NewString(),
		UserID:          userID,
		ReceiptID:       r.ID,
		Status:          expense.MatchProposed,
		ConfidenceScore: w.total,
		AmountScore:     w.amount,
		DateScore:       w.date,
		VendorScore:     w.vendor,
		MatchReason:     matchReason(w.amount, w.date, w.vendor),
		MatchedAliasID:  w.aliasID,
		CreatedAt:       time.Now().UTC(),
	}
	if w.cand.isGroup() {
		m.TransactionGroupID = w.cand.group.ID
	} else {
		m.TransactionID = w.cand.txn.ID
	}
	return m
}

func matchReason(amount, date, vendor int) string {
	return fmt.Sprintf("amount %d/%d, date %d/%d, vendor %d/%d",
		amount, amountExactScore, date, dateSameDayScore, vendor, vendorAliasScore)
}

// Package metering records every inference-tier resolution and owns
// cost accounting over the log: totals, per-tier counts and rates,
// per-operation breakdowns, estimated spend, and the promote-to-alias
// report for descriptions that keep falling through to tier 3.
package metering

import (
	"context"
	"errors"
	"time"

	"github.com/spendlens/core/pkg/config"
	"github.com/spendlens/core/pkg/problem"
)

var (
	// ErrEmptyUserID is returned when a usage record has no user ID.
	ErrEmptyUserID = errors.New("metering: user_id must not be empty")
	// ErrEmptyOperation is returned when a usage record has no operation.
	ErrEmptyOperation = errors.New("metering: operation must not be empty")
	// ErrTierRange is returned when the tier is outside 0 through 3.
	ErrTierRange = errors.New("metering: tier must be between 0 and 3")
	// ErrNegativeLatency is returned when latency_ms is negative.
	ErrNegativeLatency = errors.New("metering: latency_ms must not be negative")
)

// Operation names as they appear in the log. The resolver writes these;
// reports group by them.
const (
	OpNormalization      = "normalization"
	OpCategorizationGL   = "categorization_gl"
	OpCategorizationDept = "categorization_department"
	OpColumnMapping      = "column_mapping"
)

// Record is one row in the tier usage log: a single resolution of one
// operation at one tier. Tier 0 marks a degraded result where every
// tier failed.
type Record struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Operation string    `json:"operation"`
	Tier      int       `json:"tier"`
	CacheHit  bool      `json:"cache_hit"`
	LatencyMS int64     `json:"latency_ms"`
	CostUSD   float64   `json:"cost_usd"`
	Model     string    `json:"model,omitempty"`
	InputHash string    `json:"input_hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the record has loggable fields.
func (r Record) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.Operation == "" {
		return ErrEmptyOperation
	}
	if r.Tier < 0 || r.Tier > 3 {
		return ErrTierRange
	}
	if r.LatencyMS < 0 {
		return ErrNegativeLatency
	}
	return nil
}

// Period defines a half-open time range [Start, End) for aggregation.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DailyPeriod returns a Period for the current UTC day.
func DailyPeriod() Period {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.Add(24 * time.Hour)}
}

// MonthlyPeriod returns a Period for the current UTC month.
func MonthlyPeriod() Period {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// LastDays returns a Period covering the trailing n days up to now.
func LastDays(n int) Period {
	now := time.Now().UTC()
	return Period{Start: now.AddDate(0, 0, -n), End: now}
}

// Aggregate is the raw rollup a Store returns. The Service turns it
// into a Report with rates and cost attached.
type Aggregate struct {
	Total       int64
	TierCounts  map[int]int64
	CacheHits   int64
	ByOperation map[string]int64
}

// InputCount pairs a logged input hash with its tier-3 row count.
// Description is the raw text when the normalization cache still holds
// it, empty once the cache row has been purged.
type InputCount struct {
	InputHash   string
	Description string
	Count       int64
}

// Store is the append-only usage log.
type Store interface {
	// Insert appends one usage row.
	Insert(ctx context.Context, rec *Record) error

	// Aggregate computes tier and operation counts over a period. An
	// empty operation means all operations.
	Aggregate(ctx context.Context, userID string, p Period, operation string) (*Aggregate, error)

	// TierThreeByInput groups tier-3 rows by input hash over a period
	// and returns the inputs seen at least minCount times, largest
	// count first.
	TierThreeByInput(ctx context.Context, userID string, p Period, minCount int64) ([]InputCount, error)
}

// Report aggregates the usage log over one period for one user.
type Report struct {
	Period       Period           `json:"period"`
	Operation    string           `json:"operation,omitempty"`
	Total        int64            `json:"total"`
	TierCounts   map[int]int64    `json:"tier_counts"`
	TierRates    map[int]float64  `json:"tier_rates"`
	CacheHits    int64            `json:"cache_hits"`
	CacheHitRate float64          `json:"cache_hit_rate"`
	ByOperation  map[string]int64 `json:"by_operation"`
	EstimatedUSD float64          `json:"estimated_usd"`
}

// Priority buckets a promotion candidate by how often it hit tier 3.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// PriorityFor buckets a tier-3 repeat count: ten or more is high, five
// or more is medium, anything below is low.
func PriorityFor(count int64) Priority {
	switch {
	case count >= 10:
		return PriorityHigh
	case count >= 5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// PromotionCandidate is a description worth promoting to a vendor
// alias because AI keeps categorizing it.
type PromotionCandidate struct {
	InputHash      string   `json:"input_hash"`
	Description    string   `json:"description,omitempty"`
	TierThreeCount int64    `json:"tier3_count"`
	Priority       Priority `json:"priority"`
}

// Service wraps a Store with cost assignment and report building.
type Service struct {
	store  Store
	tuning config.Tuning
}

// NewService builds a metering service over the given log store.
func NewService(store Store, tuning config.Tuning) *Service {
	return &Service{store: store, tuning: tuning}
}

// TierCost returns the configured unit cost of one resolution at the
// given tier. Tiers 0 and 1 are free.
func (s *Service) TierCost(tier int) float64 {
	switch tier {
	case 2:
		return s.tuning.Tier2CostUSD
	case 3:
		return s.tuning.Tier3CostUSD
	default:
		return 0
	}
}

// Log validates and appends one usage record. A zero CostUSD is filled
// from the configured unit cost for the record's tier, and a zero
// CreatedAt from the current time.
func (s *Service) Log(ctx context.Context, rec Record) error {
	const op = "metering.Log"
	if err := rec.Validate(); err != nil {
		return problem.Wrap(problem.KindValidation, op, err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.CostUSD == 0 {
		rec.CostUSD = s.TierCost(rec.Tier)
	}
	return s.store.Insert(ctx, &rec)
}

// Usage builds the usage report for one user over a period, optionally
// narrowed to a single operation. Estimated cost is recomputed from
// tier counts and the current unit costs, so retuning the costs
// reprices history.
func (s *Service) Usage(ctx context.Context, userID string, p Period, operation string) (*Report, error) {
	agg, err := s.store.Aggregate(ctx, userID, p, operation)
	if err != nil {
		return nil, err
	}
	rep := &Report{
		Period:      p,
		Operation:   operation,
		Total:       agg.Total,
		TierCounts:  agg.TierCounts,
		TierRates:   make(map[int]float64, len(agg.TierCounts)),
		CacheHits:   agg.CacheHits,
		ByOperation: agg.ByOperation,
	}
	if agg.Total > 0 {
		for tier, n := range agg.TierCounts {
			rep.TierRates[tier] = float64(n) / float64(agg.Total)
		}
		rep.CacheHitRate = float64(agg.CacheHits) / float64(agg.Total)
	}
	rep.EstimatedUSD = float64(agg.TierCounts[2])*s.tuning.Tier2CostUSD +
		float64(agg.TierCounts[3])*s.tuning.Tier3CostUSD
	return rep, nil
}

// PromotionCandidates surfaces descriptions whose tier-3 count over the
// period reached minCount, bucketed by priority. minCount values of
// zero or less default to 3 so a single stray AI call never surfaces.
func (s *Service) PromotionCandidates(ctx context.Context, userID string, p Period, minCount int64) ([]PromotionCandidate, error) {
	if minCount <= 0 {
		minCount = 3
	}
	counts, err := s.store.TierThreeByInput(ctx, userID, p, minCount)
	if err != nil {
		return nil, err
	}
	out := make([]PromotionCandidate, 0, len(counts))
	for _, c := range counts {
		out = append(out, PromotionCandidate{
			InputHash:      c.InputHash,
			Description:    c.Description,
			TierThreeCount: c.Count,
			Priority:       PriorityFor(c.Count),
		})
	}
	return out, nil
}

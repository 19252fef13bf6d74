// Package statements remembers how statement layouts map onto
// transaction fields. A layout is keyed by the canonical hash of its
// header row; the first upload of a layout pays one model call, every
// later upload of the same layout is a fingerprint hit.
package statements

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spendlens/core/pkg/ai"
	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/metering"
	"github.com/spendlens/core/pkg/problem"
)

// sampleRowLimit bounds how many data rows accompany the header in the
// model prompt.
const sampleRowLimit = 3

// maxUnconfirmedConfidence caps the confidence of a mapping that left
// date, amount, or description unmapped. Such mappings cannot be
// ingested and must come back through Accept.
const maxUnconfirmedConfidence = 0.5

// knownFields is the full column vocabulary. Anything else a mapping
// names is dropped.
var knownFields = map[expense.ColumnField]bool{
	expense.FieldDate:        true,
	expense.FieldPostDate:    true,
	expense.FieldDescription: true,
	expense.FieldAmount:      true,
	expense.FieldCategory:    true,
	expense.FieldMemo:        true,
	expense.FieldReference:   true,
	expense.FieldIgnore:      true,
}

// HeaderHash computes the canonical digest of a header row: each
// header lowercased and trimmed, the set sorted, joined with ',', and
// hashed. Equal up to header order and casing.
func HeaderHash(headers []string) string {
	canon := make([]string, 0, len(headers))
	for _, h := range headers {
		canon = append(canon, strings.ToLower(strings.TrimSpace(h)))
	}
	sort.Strings(canon)
	sum := sha256.Sum256([]byte(strings.Join(canon, ",")))
	return hex.EncodeToString(sum[:])
}

// Store persists fingerprints. Lookup prefers the caller's own row
// over the system-wide fallback and stamps hit_count and last_used_at
// on the row it returns.
type Store interface {
	Lookup(ctx context.Context, userID, headerHash string) (*expense.StatementFingerprint, bool, error)

	// Insert upserts by header hash within the fingerprint's scope
	// (user-specific when UserID is set, system-wide otherwise) and
	// fills fp.ID.
	Insert(ctx context.Context, fp *expense.StatementFingerprint) error
}

// Mapping is the outcome of one header resolve. NeedsConfirmation
// marks a mapping that was not persisted because it left a required
// field unmapped; the caller reviews it and comes back through Accept.
type Mapping struct {
	Fingerprint       *expense.StatementFingerprint `json:"fingerprint"`
	Tier              int                           `json:"tier"`
	CacheHit          bool                          `json:"cache_hit"`
	NeedsConfirmation bool                          `json:"needs_confirmation"`
	LatencyMS         int64                         `json:"latency_ms"`
}

// Resolver answers "how do I read this statement layout". Tier 1 is
// the fingerprint store; tier 3 asks the model. There is no tier 2.
type Resolver struct {
	store Store
	meter *metering.Service
	log   *slog.Logger

	ai *ai.Completer
}

// NewResolver builds a resolver over the fingerprint store.
func NewResolver(store Store, meter *metering.Service) *Resolver {
	return &Resolver{
		store: store,
		meter: meter,
		log:   slog.Default().With("component", "statements"),
	}
}

// SetAI enables mapping inference for unknown layouts.
func (r *Resolver) SetAI(completer *ai.Completer) {
	r.ai = completer
}

// Resolve maps a statement's header row onto transaction fields. A
// stored fingerprint answers at tier 1. Otherwise the model infers a
// mapping from the header and up to three sample rows; a complete
// mapping is persisted for the user immediately, an incomplete one
// comes back clamped with NeedsConfirmation set and is not stored.
func (r *Resolver) Resolve(ctx context.Context, userID string, headers []string, samples [][]string) (*Mapping, error) {
	const op = "statements.Resolve"
	if userID == "" {
		return nil, problem.Validationf(op, "user id is required")
	}
	if !hasHeaders(headers) {
		return nil, problem.Validationf(op, "at least one non-blank header is required")
	}

	hash := HeaderHash(headers)
	start := time.Now()

	fp, ok, err := r.store.Lookup(ctx, userID, hash)
	if err != nil {
		r.log.WarnContext(ctx, "fingerprint lookup failed", "error", err)
	} else if ok {
		m := &Mapping{Fingerprint: fp, Tier: 1, CacheHit: true, LatencyMS: time.Since(start).Milliseconds()}
		r.record(ctx, userID, 1, true, m.LatencyMS, hash)
		return m, nil
	}

	if r.ai == nil {
		r.record(ctx, userID, 0, false, time.Since(start).Milliseconds(), hash)
		return nil, problem.New(problem.KindUnavailable, op, "unknown layout and no model configured")
	}

	obj, _, err := r.ai.CompleteJSON(ctx, metering.OpColumnMapping, mappingSystem, mappingPrompt(headers, samples), mappingSchema)
	if err != nil {
		r.record(ctx, userID, 0, false, time.Since(start).Milliseconds(), hash)
		return nil, err
	}

	fp = fingerprintFromModel(userID, hash, headers, obj)
	m := &Mapping{Fingerprint: fp, Tier: 3}

	if mappingComplete(fp.ColumnMapping) {
		if err := r.store.Insert(ctx, fp); err != nil {
			// The mapping is still usable this once; only reuse is lost.
			r.log.WarnContext(ctx, "fingerprint insert failed", "error", err)
		}
	} else {
		if fp.Confidence > maxUnconfirmedConfidence {
			fp.Confidence = maxUnconfirmedConfidence
		}
		m.NeedsConfirmation = true
	}

	m.LatencyMS = time.Since(start).Milliseconds()
	r.record(ctx, userID, 3, false, m.LatencyMS, hash)
	return m, nil
}

// Accept persists a mapping the user reviewed, as that user's own
// fingerprint for the layout. Review makes it authoritative, so the
// stored confidence is 1.
func (r *Resolver) Accept(ctx context.Context, userID string, fp *expense.StatementFingerprint) error {
	const op = "statements.Accept"
	if userID == "" {
		return problem.Validationf(op, "user id is required")
	}
	if fp == nil || fp.HeaderHash == "" {
		return problem.Validationf(op, "fingerprint with a header hash is required")
	}
	for header, field := range fp.ColumnMapping {
		if strings.TrimSpace(header) == "" {
			return problem.Validationf(op, "mapping contains a blank header")
		}
		if !knownFields[field] {
			return problem.Validationf(op, "unknown column field %q for header %q", field, header)
		}
	}
	if !mappingComplete(fp.ColumnMapping) {
		return problem.Validationf(op, "mapping must cover date, amount and description")
	}
	if fp.AmountSign == "" {
		fp.AmountSign = expense.NegativeCharges
	}
	fp.UserID = userID
	fp.Confidence = 1

	if err := r.store.Insert(ctx, fp); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	r.log.InfoContext(ctx, "fingerprint accepted",
		"user_id", userID,
		"header_hash", fp.HeaderHash,
		"columns", len(fp.ColumnMapping))
	return nil
}

// record writes the usage row for one resolve.
func (r *Resolver) record(ctx context.Context, userID string, tier int, cacheHit bool, latencyMS int64, headerHash string) {
	rec := metering.Record{
		UserID:    userID,
		Operation: metering.OpColumnMapping,
		Tier:      tier,
		CacheHit:  cacheHit,
		LatencyMS: latencyMS,
		InputHash: headerHash,
	}
	if tier == 3 && r.ai != nil {
		rec.Model = r.ai.Model()
	}
	if err := r.meter.Log(ctx, rec); err != nil {
		r.log.WarnContext(ctx, "usage log write failed", "error", err)
	}
}

// fingerprintFromModel shapes a validated model response into a
// fingerprint for the given layout.
func fingerprintFromModel(userID, hash string, headers []string, obj map[string]any) *expense.StatementFingerprint {
	rawMapping, _ := obj["columnMapping"].(map[string]any)
	dateFormat, _ := obj["dateFormat"].(string)
	sign, _ := obj["amountSign"].(string)
	confidence, _ := obj["confidence"].(float64)

	return &expense.StatementFingerprint{
		UserID:        userID,
		HeaderHash:    hash,
		ColumnMapping: normalizeMapping(headers, rawMapping),
		DateFormat:    strings.TrimSpace(dateFormat),
		AmountSign:    expense.AmountSign(sign),
		Confidence:    confidence,
	}
}

// normalizeMapping reconciles a model mapping with the real header
// row: headers are matched case-insensitively, keys keep the user's
// original casing, unknown headers and unrecognized field types are
// dropped.
func normalizeMapping(headers []string, raw map[string]any) map[string]expense.ColumnField {
	index := make(map[string]string, len(headers))
	for _, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			continue
		}
		if _, dup := index[key]; !dup {
			index[key] = h
		}
	}

	out := make(map[string]expense.ColumnField, len(raw))
	for header, v := range raw {
		original, ok := index[strings.ToLower(strings.TrimSpace(header))]
		if !ok {
			continue
		}
		name, _ := v.(string)
		field := expense.ColumnField(strings.ToLower(strings.TrimSpace(name)))
		if !knownFields[field] {
			continue
		}
		out[original] = field
	}
	return out
}

// mappingComplete reports whether the mapping covers the three fields
// ingestion cannot do without.
func mappingComplete(m map[string]expense.ColumnField) bool {
	var date, amount, description bool
	for _, f := range m {
		switch f {
		case expense.FieldDate:
			date = true
		case expense.FieldAmount:
			amount = true
		case expense.FieldDescription:
			description = true
		}
	}
	return date && amount && description
}

func hasHeaders(headers []string) bool {
	for _, h := range headers {
		if strings.TrimSpace(h) != "" {
			return true
		}
	}
	return false
}

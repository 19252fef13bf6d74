// Package tiering routes inference requests through the three-tier
// chain: exact text cache, semantic neighbors, external model. Lower
// tiers are free; a higher tier runs only when every lower tier came
// back empty. Each resolve writes one usage row regardless of outcome.
package tiering

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spendlens/core/pkg/ai"
	"github.com/spendlens/core/pkg/aliases"
	"github.com/spendlens/core/pkg/config"
	"github.com/spendlens/core/pkg/embeddings"
	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/metering"
	"github.com/spendlens/core/pkg/observability"
	"github.com/spendlens/core/pkg/problem"
	"github.com/spendlens/core/pkg/ratelimit"
	"github.com/spendlens/core/pkg/refdata"
	"github.com/spendlens/core/pkg/textcache"
)

// Tier confidence levels are fixed by the resolution path, not
// estimated per call.
const (
	confidenceCacheHit   = 1.0
	confidenceNormalized = 0.85
	confidenceAlias      = 0.95
	confidenceVerified   = 0.90
	confidenceNeighbor   = 0.80
	confidenceModel      = 0.70
)

// topK bounds the tier-2 neighbor search.
const topK = 5

// Resolution is the outcome of one normalization resolve. Tier 0 with
// confidence 0 means every tier failed and Value carries the raw input.
type Resolution struct {
	Value      string  `json:"value"`
	Tier       int     `json:"tier"`
	Confidence float64 `json:"confidence"`
	CacheHit   bool    `json:"cache_hit"`
	LatencyMS  int64   `json:"latency_ms"`
}

// Suggestion is one candidate code with its provenance.
type Suggestion struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// SuggestionSet is the ordered outcome of one categorization resolve.
// Empty Suggestions with Tier 0 means no tier produced a candidate.
type SuggestionSet struct {
	Suggestions []Suggestion `json:"suggestions"`
	Tier        int          `json:"tier"`
	CacheHit    bool         `json:"cache_hit"`
	LatencyMS   int64        `json:"latency_ms"`
}

// CacheStats reports the state of both caching tiers.
type CacheStats struct {
	TextEntries          int64      `json:"text_entries"`
	TextUses             int64      `json:"text_uses"`
	OldestTextEntry      *time.Time `json:"oldest_text_entry,omitempty"`
	VerifiedEmbeddings   int64      `json:"verified_embeddings"`
	UnverifiedEmbeddings int64      `json:"unverified_embeddings"`
}

// Resolver walks the tiers. The text cache, alias registry, and usage
// meter are required; embeddings, the model, the limiter, and the
// reference catalog are optional and their tiers vanish when unset.
type Resolver struct {
	cache   textcache.Store
	aliases aliases.Store
	meter   *metering.Service
	tuning  config.Tuning
	log     *slog.Logger

	store    embeddings.Store
	embedder embeddings.Embedder
	ai       *ai.Completer
	limiter  ratelimit.Limiter
	ref      refdata.Source
	obs      *observability.Provider
}

// NewResolver builds a resolver over the required tiers.
func NewResolver(cache textcache.Store, aliasStore aliases.Store, meter *metering.Service, tuning config.Tuning) *Resolver {
	return &Resolver{
		cache:   cache,
		aliases: aliasStore,
		meter:   meter,
		tuning:  tuning,
		log:     slog.Default().With("component", "tiering"),
	}
}

// SetEmbeddings enables the tier-2 neighbor search.
func (r *Resolver) SetEmbeddings(store embeddings.Store, embedder embeddings.Embedder) {
	r.store = store
	r.embedder = embedder
}

// SetAI enables tier 3.
func (r *Resolver) SetAI(completer *ai.Completer) {
	r.ai = completer
}

// SetLimiter gates tier-3 calls per user.
func (r *Resolver) SetLimiter(l ratelimit.Limiter) {
	r.limiter = l
}

// SetReferenceData supplies the chart of accounts quoted in tier-3
// categorization prompts.
func (r *Resolver) SetReferenceData(src refdata.Source) {
	r.ref = src
}

// SetObservability attaches tracing and resolution counters.
func (r *Resolver) SetObservability(p *observability.Provider) {
	r.obs = p
}

// Normalize resolves a raw statement description to its canonical
// form. Tier 1 is the exact-match text cache; tier 3 asks the model
// and caches the answer. Normalization has no tier 2. When both fail
// the raw text comes back at tier 0 so ingestion can proceed.
func (r *Resolver) Normalize(ctx context.Context, userID, raw string) (_ *Resolution, err error) {
	const op = "tiering.Normalize"
	if userID == "" {
		return nil, problem.Validationf(op, "user id is required")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, problem.Validationf(op, "raw description is required")
	}
	raw = embeddings.Truncate(raw, r.tuning.NormalizationMaxChars)

	if r.obs != nil {
		var finish func(error)
		ctx, finish = r.obs.TrackOperation(ctx, "tiering.normalize",
			observability.OperationAttrs(userID, metering.OpNormalization)...)
		defer func() { finish(err) }()
	}

	start := time.Now()
	res := r.normalize(ctx, userID, raw)
	res.LatencyMS = time.Since(start).Milliseconds()

	r.record(ctx, userID, metering.OpNormalization, res.Tier, res.CacheHit, res.LatencyMS, textcache.Key(raw))
	return res, nil
}

func (r *Resolver) normalize(ctx context.Context, userID, raw string) *Resolution {
	norm, hit, err := r.cache.Lookup(ctx, raw)
	if err != nil {
		r.log.WarnContext(ctx, "text cache lookup failed", "error", err)
	} else if hit {
		return &Resolution{Value: norm, Tier: 1, Confidence: confidenceCacheHit, CacheHit: true}
	}

	if norm, ok := r.modelNormalize(ctx, userID, raw); ok {
		return &Resolution{Value: norm, Tier: 3, Confidence: confidenceNormalized}
	}

	// Degraded: the raw text is still the most useful answer.
	return &Resolution{Value: raw}
}

func (r *Resolver) modelNormalize(ctx context.Context, userID, raw string) (string, bool) {
	if !r.allowTierThree(ctx, userID) {
		return "", false
	}
	obj, _, err := r.ai.CompleteJSON(ctx, metering.OpNormalization, normalizeSystem, raw, normalizeSchema)
	if err != nil {
		r.log.WarnContext(ctx, "normalization model call failed", "error", err)
		return "", false
	}
	norm, _ := obj["normalized"].(string)
	norm = strings.TrimSpace(norm)
	if norm == "" {
		return "", false
	}
	if err := r.cache.Save(ctx, raw, norm); err != nil {
		r.log.WarnContext(ctx, "text cache save failed", "error", err)
	}
	return norm, true
}

// codeAxis selects which coding column a categorization resolves.
type codeAxis struct {
	op           string
	operation    string
	aliasDefault func(*expense.VendorAlias) string
	matchCode    func(embeddings.Match) string
	modelKey     string
}

var glAxis = codeAxis{
	op:           "tiering.SuggestGL",
	operation:    metering.OpCategorizationGL,
	aliasDefault: func(a *expense.VendorAlias) string { return a.DefaultGLCode },
	matchCode:    func(m embeddings.Match) string { return m.GLCode },
	modelKey:     "gl_code",
}

var departmentAxis = codeAxis{
	op:           "tiering.SuggestDepartment",
	operation:    metering.OpCategorizationDept,
	aliasDefault: func(a *expense.VendorAlias) string { return a.DefaultDepartment },
	matchCode:    func(m embeddings.Match) string { return m.Department },
	modelKey:     "department",
}

// SuggestGL proposes GL codes for the transaction, most confident
// first. Tier 1 is the alias default, tier 2 reuses coded neighbors,
// tier 3 asks the model with the chart of accounts for context.
func (r *Resolver) SuggestGL(ctx context.Context, userID string, txn *expense.Transaction) (*SuggestionSet, error) {
	return r.suggest(ctx, userID, txn, glAxis)
}

// SuggestDepartment proposes departments for the transaction, most
// confident first.
func (r *Resolver) SuggestDepartment(ctx context.Context, userID string, txn *expense.Transaction) (*SuggestionSet, error) {
	return r.suggest(ctx, userID, txn, departmentAxis)
}

func (r *Resolver) suggest(ctx context.Context, userID string, txn *expense.Transaction, axis codeAxis) (_ *SuggestionSet, err error) {
	if userID == "" {
		return nil, problem.Validationf(axis.op, "user id is required")
	}
	if txn == nil || strings.TrimSpace(txn.Description) == "" {
		return nil, problem.Validationf(axis.op, "transaction description is required")
	}

	if r.obs != nil {
		var finish func(error)
		ctx, finish = r.obs.TrackOperation(ctx, "tiering.suggest",
			observability.OperationAttrs(userID, axis.operation)...)
		defer func() { finish(err) }()
	}

	start := time.Now()
	set := r.resolveSuggestions(ctx, userID, txn, axis)
	set.LatencyMS = time.Since(start).Milliseconds()

	r.record(ctx, userID, axis.operation, set.Tier, set.CacheHit, set.LatencyMS, textcache.Key(txn.Description))
	return set, nil
}

func (r *Resolver) resolveSuggestions(ctx context.Context, userID string, txn *expense.Transaction, axis codeAxis) *SuggestionSet {
	if s, ok := r.aliasSuggestion(ctx, txn.Description, axis); ok {
		return &SuggestionSet{Suggestions: []Suggestion{s}, Tier: 1, CacheHit: true}
	}
	if list := r.neighborSuggestions(ctx, userID, txn.Description, axis); len(list) > 0 {
		return &SuggestionSet{Suggestions: list, Tier: 2}
	}
	if s, ok := r.modelSuggestion(ctx, userID, txn, axis); ok {
		return &SuggestionSet{Suggestions: []Suggestion{s}, Tier: 3}
	}
	return &SuggestionSet{}
}

// aliasSuggestion is tier 1: the registry's default for the vendor
// pattern matching this description. An alias without a default for
// this axis is not a hit.
func (r *Resolver) aliasSuggestion(ctx context.Context, description string, axis codeAxis) (Suggestion, bool) {
	alias, ok, err := r.aliases.Find(ctx, description)
	if err != nil {
		r.log.WarnContext(ctx, "alias lookup failed", "error", err)
		return Suggestion{}, false
	}
	if !ok {
		return Suggestion{}, false
	}
	code := axis.aliasDefault(alias)
	if code == "" {
		return Suggestion{}, false
	}
	return Suggestion{Value: code, Confidence: confidenceAlias, Source: "alias:" + alias.CanonicalName}, true
}

// neighborSuggestions is tier 2: distinct codes from the user's
// embeddings above the similarity threshold. A code seen on both a
// verified and an unverified neighbor keeps the verified confidence.
func (r *Resolver) neighborSuggestions(ctx context.Context, userID, description string, axis codeAxis) []Suggestion {
	if r.store == nil || r.embedder == nil {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, embeddings.Truncate(description, r.tuning.NormalizationMaxChars))
	if err != nil {
		r.log.WarnContext(ctx, "embedding failed", "error", err)
		return nil
	}
	matches, err := r.store.SearchTopK(ctx, userID, vec, topK)
	if err != nil {
		r.log.WarnContext(ctx, "neighbor search failed", "error", err)
		return nil
	}

	var out []Suggestion
	index := make(map[string]int)
	for _, m := range matches {
		if m.Similarity < r.tuning.SimilarityThreshold {
			continue
		}
		code := axis.matchCode(m)
		if code == "" {
			continue
		}
		conf := confidenceNeighbor
		if m.Verified {
			conf = confidenceVerified
		}
		if i, dup := index[code]; dup {
			if conf > out[i].Confidence {
				out[i].Confidence = conf
				out[i].Source = "embedding:" + m.ID
			}
			continue
		}
		index[code] = len(out)
		out = append(out, Suggestion{Value: code, Confidence: conf, Source: "embedding:" + m.ID})
		if err := r.store.Touch(ctx, m.ID); err != nil {
			r.log.WarnContext(ctx, "embedding touch failed", "id", m.ID, "error", err)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// modelSuggestion is tier 3.
func (r *Resolver) modelSuggestion(ctx context.Context, userID string, txn *expense.Transaction, axis codeAxis) (Suggestion, bool) {
	if !r.allowTierThree(ctx, userID) {
		return Suggestion{}, false
	}
	obj, _, err := r.ai.CompleteJSON(ctx, axis.operation, categorizeSystem, r.categorizePrompt(ctx, txn), categorizeSchema)
	if err != nil {
		r.log.WarnContext(ctx, "categorization model call failed", "operation", axis.operation, "error", err)
		return Suggestion{}, false
	}
	code, _ := obj[axis.modelKey].(string)
	code = strings.TrimSpace(code)
	if code == "" {
		return Suggestion{}, false
	}
	return Suggestion{Value: code, Confidence: confidenceModel, Source: "ai"}, true
}

// allowTierThree reports whether a model call may be attempted. A
// limiter outage admits the call; only an explicit denial blocks it.
func (r *Resolver) allowTierThree(ctx context.Context, userID string) bool {
	if r.ai == nil {
		return false
	}
	if r.limiter == nil {
		return true
	}
	ok, err := r.limiter.Allow(ctx, userID)
	if err != nil {
		r.log.WarnContext(ctx, "tier-3 limiter unavailable", "error", err)
		return true
	}
	if !ok {
		r.log.InfoContext(ctx, "tier-3 budget exhausted", "user_id", userID)
	}
	return ok
}

// record writes the usage row for one resolve. The row survives the
// resolve's own failures; losing it silently would skew cost reports,
// so a write failure is the one thing worth a warning here.
func (r *Resolver) record(ctx context.Context, userID, operation string, tier int, cacheHit bool, latencyMS int64, inputHash string) {
	rec := metering.Record{
		UserID:    userID,
		Operation: operation,
		Tier:      tier,
		CacheHit:  cacheHit,
		LatencyMS: latencyMS,
		InputHash: inputHash,
	}
	if tier == 3 && r.ai != nil {
		rec.Model = r.ai.Model()
	}
	if err := r.meter.Log(ctx, rec); err != nil {
		r.log.WarnContext(ctx, "usage log write failed", "operation", operation, "error", err)
	}
	if r.obs != nil {
		r.obs.RecordResolution(ctx, operation, tier, cacheHit)
		observability.AddSpanEvent(ctx, "tier_resolved",
			observability.ResolutionAttrs(operation, tier, cacheHit)...)
	}
}

// CacheStats reports text-cache and embedding store sizes for the
// operations surface.
func (r *Resolver) CacheStats(ctx context.Context) (*CacheStats, error) {
	const op = "tiering.CacheStats"
	ts, err := r.cache.Stats(ctx)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	out := &CacheStats{
		TextEntries:     ts.Entries,
		TextUses:        ts.TotalUses,
		OldestTextEntry: ts.OldestEntry,
	}
	if r.store != nil {
		verified, unverified, err := r.store.Counts(ctx)
		if err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		out.VerifiedEmbeddings = verified
		out.UnverifiedEmbeddings = unverified
	}
	return out, nil
}

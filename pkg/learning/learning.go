// Package learning closes the feedback loop: user confirmations and
// corrections flow back into the alias registry and the embedding
// store so the next request of the same shape resolves at a cheaper
// tier. Learning writes are best-effort by policy; the user-visible
// action they ride on must succeed even when a write here does not.
package learning

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spendlens/core/pkg/aliases"
	"github.com/spendlens/core/pkg/config"
	"github.com/spendlens/core/pkg/embeddings"
	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/matching"
	"github.com/spendlens/core/pkg/problem"
)

// learnedConfidence is the confidence assigned to aliases created from
// user feedback. Below the seeded catalog so a curated entry still
// outranks a learned one on the same description.
const learnedConfidence = 0.7

// Outcome reports what one feedback event changed.
type Outcome struct {
	AliasUpdated     bool   `json:"alias_updated"`
	EmbeddingCreated bool   `json:"embedding_created"`
	Message          string `json:"message"`
}

// Service applies feedback to the learning stores. It implements
// matching.ConfirmListener so confirmed matches feed the registry
// without the matching engine importing this package.
type Service struct {
	aliases aliases.Store
	tuning  config.Tuning
	log     *slog.Logger

	store    embeddings.Store
	embedder embeddings.Embedder
}

// NewService builds a learning service over the alias registry.
func NewService(aliasStore aliases.Store, tuning config.Tuning) *Service {
	return &Service{
		aliases: aliasStore,
		tuning:  tuning,
		log:     slog.Default().With("component", "learning"),
	}
}

// SetEmbeddings enables verified-embedding writes on categorization
// feedback. Without a store and embedder the alias side still learns.
func (s *Service) SetEmbeddings(store embeddings.Store, embedder embeddings.Embedder) {
	s.store = store
	s.embedder = embedder
}

// MatchConfirmed learns from one confirmed receipt match: the vendor
// pattern derived from the counterparty description is upserted into
// the registry, the match is counted, and any operator overrides feed
// the promotion counters. The returned error is informational; the
// engine logs and swallows it.
func (s *Service) MatchConfirmed(ctx context.Context, ev matching.ConfirmEvent) error {
	const op = "learning.MatchConfirmed"

	var pattern string
	if ev.IsGroup {
		pattern = matching.ExtractGroupVendor(ev.Description)
	} else {
		pattern = matching.ExtractVendorPattern(ev.Description)
	}
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil // nothing derivable, nothing to learn
	}

	alias, err := s.aliasForDescription(ctx, ev.Description, pattern, ev.DisplayName)
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}

	changed := aliases.ConfirmGL(alias, ev.GLCode, s.tuning.VendorConfirmations)
	if aliases.ConfirmDepartment(alias, ev.Department, s.tuning.VendorConfirmations) {
		changed = true
	}
	if changed {
		if err := s.aliases.UpdateDefaults(ctx, alias); err != nil {
			return problem.Wrap(problem.KindUnavailable, op, err)
		}
	}

	s.log.InfoContext(ctx, "match confirmation learned",
		"user_id", ev.UserID,
		"alias", alias.CanonicalName,
		"pattern", alias.AliasPattern,
		"defaults_changed", changed)
	return nil
}

// ConfirmCategorization records one categorization decision: the
// matching alias's promotion counters advance (a differing code
// replaces the default once the counter hits the threshold) and the
// confirmed triple is stored as a verified embedding for tier 2.
// Store failures beyond input validation are reported through the
// outcome, never as an error.
func (s *Service) ConfirmCategorization(ctx context.Context, userID string, txn *expense.Transaction, glCode, department string, acceptedSuggestion bool) (*Outcome, error) {
	const op = "learning.ConfirmCategorization"
	if userID == "" {
		return nil, problem.Validationf(op, "user id is required")
	}
	if txn == nil || strings.TrimSpace(txn.Description) == "" {
		return nil, problem.Validationf(op, "transaction description is required")
	}
	glCode = strings.TrimSpace(glCode)
	department = strings.TrimSpace(department)
	if glCode == "" && department == "" {
		return nil, problem.Validationf(op, "a gl code or department is required")
	}

	out := &Outcome{}
	var notes []string

	alias, err := s.aliasForDescription(ctx, txn.Description, matching.ExtractVendorPattern(txn.Description), "")
	switch {
	case err != nil:
		s.log.WarnContext(ctx, "alias lookup failed; categorization not learned",
			"user_id", userID, "error", err)
		notes = append(notes, "alias registry unavailable")
	case alias == nil:
		notes = append(notes, "no vendor pattern derivable")
	default:
		changed := aliases.ConfirmGL(alias, glCode, s.tuning.VendorConfirmations)
		if aliases.ConfirmDepartment(alias, department, s.tuning.VendorConfirmations) {
			changed = true
		}
		if changed {
			if err := s.aliases.UpdateDefaults(ctx, alias); err != nil {
				s.log.WarnContext(ctx, "alias defaults update failed",
					"alias_id", alias.ID, "error", err)
				notes = append(notes, "alias update failed")
			} else {
				out.AliasUpdated = true
				notes = append(notes, "vendor defaults for "+alias.CanonicalName+" updated")
			}
		} else {
			notes = append(notes, "vendor defaults unchanged")
		}
	}

	if s.storeEmbedding(ctx, userID, txn, glCode, department) {
		out.EmbeddingCreated = true
		notes = append(notes, "verified example stored")
	}

	s.log.InfoContext(ctx, "categorization confirmed",
		"user_id", userID,
		"transaction_id", txn.ID,
		"accepted_suggestion", acceptedSuggestion,
		"alias_updated", out.AliasUpdated,
		"embedding_created", out.EmbeddingCreated)

	out.Message = strings.Join(notes, "; ")
	return out, nil
}

// aliasForDescription returns the registry's best alias for the
// description, creating one keyed by the derived pattern when the
// registry has no match. A nil alias with nil error means no pattern
// could be derived. The returned copy carries current counters so the
// promotion rule sees the row's real state.
func (s *Service) aliasForDescription(ctx context.Context, description, pattern, displayName string) (*expense.VendorAlias, error) {
	alias, found, err := s.aliases.Find(ctx, description)
	if err != nil {
		return nil, err
	}
	if found {
		if displayName != "" && displayName != alias.DisplayName {
			alias.DisplayName = displayName
			if err := s.aliases.AddOrUpdate(ctx, alias); err != nil {
				return nil, err
			}
		}
		return alias, nil
	}

	if pattern == "" {
		return nil, nil
	}
	if displayName == "" {
		displayName = pattern
	}
	alias = &expense.VendorAlias{
		CanonicalName: pattern,
		AliasPattern:  pattern,
		DisplayName:   displayName,
		Category:      expense.CategoryGeneric,
		Confidence:    learnedConfidence,
	}
	if err := s.aliases.AddOrUpdate(ctx, alias); err != nil {
		return nil, err
	}
	if err := s.aliases.RecordMatch(ctx, alias.ID); err != nil {
		return nil, err
	}
	alias.MatchCount++
	return alias, nil
}

// storeEmbedding writes the confirmed triple as a verified embedding.
// Verified rows never expire, so repeated confirmations of the same
// text converge instead of accumulating stale duplicates.
func (s *Service) storeEmbedding(ctx context.Context, userID string, txn *expense.Transaction, glCode, department string) bool {
	if s.store == nil || s.embedder == nil {
		return false
	}
	text := embeddings.Truncate(txn.Description, s.tuning.NormalizationMaxChars)
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.WarnContext(ctx, "embedding failed; verified example not stored",
			"user_id", userID, "error", err)
		return false
	}
	rec := embeddings.Record{
		ID:               uuid.NewString(),
		UserID:           userID,
		TransactionID:    txn.ID,
		SourceText:       txn.Description,
		VendorNormalized: matching.ExtractVendorPattern(txn.Description),
		Vector:           vec,
		GLCode:           glCode,
		Department:       department,
		Verified:         true,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		s.log.WarnContext(ctx, "verified embedding insert failed",
			"user_id", userID, "error", err)
		return false
	}
	return true
}

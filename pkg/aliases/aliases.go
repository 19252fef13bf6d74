// Package aliases is the vendor alias registry: case-insensitive
// substring patterns that map transaction descriptions to a canonical
// vendor identity plus preferred GL and department defaults. A registry
// hit is the cheapest categorization tier; repeated user confirmations
// promote new defaults through the capped confirmation counters.
package aliases

import (
	"context"

	"github.com/spendlens/core/pkg/expense"
)

// Store is the registry contract. Find operations stamp match_count and
// last_matched_at on the row they return.
type Store interface {
	// Find returns the best alias whose pattern occurs in description,
	// preferring higher confidence, then higher match count, then longer
	// patterns. ok is false when no pattern matches.
	Find(ctx context.Context, description string) (*expense.VendorAlias, bool, error)

	// FindInCategories is Find restricted to the given categories.
	FindInCategories(ctx context.Context, description string, categories []expense.AliasCategory) (*expense.VendorAlias, bool, error)

	// GetByCanonicalName returns the strongest alias registered under the
	// exact canonical name. A missing name is a NotFound problem.
	GetByCanonicalName(ctx context.Context, name string) (*expense.VendorAlias, error)

	// GetByVendorName tries an exact canonical-name lookup first and
	// falls back to a substring Find over the name itself.
	GetByVendorName(ctx context.Context, name string) (*expense.VendorAlias, bool, error)

	// AddOrUpdate upserts by (canonical_name, alias_pattern) and fills
	// a.ID. Counters on an existing row are preserved; display name,
	// category and defaults are only overwritten by non-empty values.
	AddOrUpdate(ctx context.Context, a *expense.VendorAlias) error

	// RecordMatch bumps the match counter and stamps last_matched_at.
	RecordMatch(ctx context.Context, id string) error

	// UpdateDefaults persists the default codes and confirmation
	// counters, normally after ConfirmGL or ConfirmDepartment.
	UpdateDefaults(ctx context.Context, a *expense.VendorAlias) error
}

// ConfirmGL applies one user confirmation of glCode to a and reports
// whether the alias changed. Each confirmation advances the counter up
// to threshold; once the counter is at threshold, a confirmed value
// that differs from the current default replaces it, with the counter
// staying at the cap. An alias with no default adopts the first
// confirmed value immediately.
func ConfirmGL(a *expense.VendorAlias, glCode string, threshold int) bool {
	if glCode == "" {
		return false
	}
	if a.DefaultGLCode == "" {
		a.DefaultGLCode = glCode
		a.GLConfirmCount = 1
		return true
	}
	changed := false
	if a.GLConfirmCount < threshold {
		a.GLConfirmCount++
		changed = true
	}
	if glCode != a.DefaultGLCode && a.GLConfirmCount >= threshold {
		a.DefaultGLCode = glCode
		a.GLConfirmCount = threshold
		changed = true
	}
	return changed
}

// ConfirmDepartment is ConfirmGL for the department default.
func ConfirmDepartment(a *expense.VendorAlias, department string, threshold int) bool {
	if department == "" {
		return false
	}
	if a.DefaultDepartment == "" {
		a.DefaultDepartment = department
		a.DeptConfirmCount = 1
		return true
	}
	changed := false
	if a.DeptConfirmCount < threshold {
		a.DeptConfirmCount++
		changed = true
	}
	if department != a.DefaultDepartment && a.DeptConfirmCount >= threshold {
		a.DefaultDepartment = department
		a.DeptConfirmCount = threshold
		changed = true
	}
	return changed
}

// better reports whether a outranks b under the selection order used by
// Find: confidence, then match count, then pattern length.
func better(a, b *expense.VendorAlias) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.MatchCount != b.MatchCount {
		return a.MatchCount > b.MatchCount
	}
	return len(a.AliasPattern) > len(b.AliasPattern)
}

// Package embeddings implements the second inference tier: semantic
// nearest-neighbor lookup over previously coded transaction texts,
// backed by pgvector. A hit above the similarity threshold reuses the
// stored GL and department coding without an AI call.
package embeddings

import (
	"context"
	"math"
	"time"
)

// Vector is an embedding in model space.
type Vector []float32

// Embedder converts text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
}

// Record is one stored embedding with its provenance and coding.
type Record struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	TransactionID    string     `json:"transaction_id,omitempty"`
	SourceText       string     `json:"source_text"`
	VendorNormalized string     `json:"vendor_normalized,omitempty"`
	Vector           Vector     `json:"-"`
	GLCode           string     `json:"gl_code,omitempty"`
	Department       string     `json:"department,omitempty"`
	Verified         bool       `json:"verified"`
	CreatedAt        time.Time  `json:"created_at"`
	LastMatchedAt    *time.Time `json:"last_matched_at,omitempty"`
}

// Match is one nearest-neighbor result. Similarity is cosine, in
// [-1, 1], where 1 is identical direction.
type Match struct {
	ID         string  `json:"id"`
	SourceText string  `json:"source_text"`
	GLCode     string  `json:"gl_code,omitempty"`
	Department string  `json:"department,omitempty"`
	Verified   bool    `json:"verified"`
	Similarity float64 `json:"similarity"`
}

// Store persists embeddings and answers user-scoped top-k queries.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	// SearchTopK returns the k nearest neighbors for the user, best
	// first. Scope never crosses users.
	SearchTopK(ctx context.Context, userID string, vec Vector, k int) ([]Match, error)
	// Touch records that the embedding just served a match.
	Touch(ctx context.Context, id string) error
	// PurgeStale removes unverified embeddings created before cutoff.
	// Verified rows are kept indefinitely: user-confirmed coding stays
	// authoritative regardless of age.
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
	// Counts reports stored rows split by verification state.
	Counts(ctx context.Context) (verified, unverified int64, err error)
}

// Truncate caps text at max runes before embedding. Long memo lines
// carry no additional signal past the lead and inflate token cost.
func Truncate(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

// Cosine computes cosine similarity between two vectors. Mismatched
// lengths or zero vectors yield 0.
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

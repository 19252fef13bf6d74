// Package textcache implements the exact-match normalization cache,
// the first tier of the inference fallback chain. Lookups key on the
// SHA-256 of the lowercased, trimmed raw text so trivially different
// inputs ("UBER  *TRIP" vs "uber *trip") share one entry.
package textcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Store is the normalization cache contract.
type Store interface {
	// Lookup returns the cached normalization for raw text. A hit bumps
	// the entry's usage counters.
	Lookup(ctx context.Context, raw string) (normalized string, hit bool, err error)
	// Save upserts the normalization for raw text.
	Save(ctx context.Context, raw, normalized string) error
	// Stats reports cache size and cumulative hit volume.
	Stats(ctx context.Context) (Stats, error)
}

// Entry is one cached normalization row.
type Entry struct {
	RawHash    string    `json:"raw_hash"`
	RawText    string    `json:"raw_text"`
	Normalized string    `json:"normalized_text"`
	UseCount   int64     `json:"use_count"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Stats summarizes cache effectiveness for the usage report.
type Stats struct {
	Entries     int64      `json:"entries"`
	TotalUses   int64      `json:"total_uses"`
	OldestEntry *time.Time `json:"oldest_entry,omitempty"`
}

// Key derives the cache key: SHA-256 hex of the lowercased, trimmed
// raw text. Any other canonicalization belongs to the caller; changing
// this formula invalidates every cached row.
func Key(raw string) string {
	canon := strings.ToLower(strings.TrimSpace(raw))
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}

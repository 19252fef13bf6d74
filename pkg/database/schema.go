package database

import (
	"context"
	"database/sql"
	"fmt"
)

// postgresSchema creates the relational tables shared by the engines.
// The embeddings table lives with its store because it needs the
// pgvector extension, which is optional at deploy time.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS normalized_text_cache (
	id BIGSERIAL PRIMARY KEY,
	raw_hash TEXT NOT NULL UNIQUE,
	raw_text TEXT NOT NULL,
	normalized_text TEXT NOT NULL,
	use_count BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS vendor_aliases (
	id TEXT PRIMARY KEY,
	canonical_name TEXT NOT NULL,
	alias_pattern TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT 'generic',
	default_gl_code TEXT,
	default_department TEXT,
	gl_confirm_count INT NOT NULL DEFAULT 0,
	dept_confirm_count INT NOT NULL DEFAULT 0,
	match_count BIGINT NOT NULL DEFAULT 0,
	last_matched_at TIMESTAMPTZ,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	UNIQUE (canonical_name, alias_pattern)
);

CREATE TABLE IF NOT EXISTS tier_usage_log (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	tier SMALLINT NOT NULL,
	cache_hit BOOLEAN NOT NULL,
	latency_ms BIGINT NOT NULL,
	cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	model TEXT,
	input_hash TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tier_usage_user_time ON tier_usage_log(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tier_usage_op_time ON tier_usage_log(operation, created_at);

CREATE TABLE IF NOT EXISTS statement_fingerprints (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	header_hash TEXT NOT NULL,
	source_name TEXT NOT NULL DEFAULT '',
	column_mapping JSONB NOT NULL,
	date_format TEXT NOT NULL DEFAULT '',
	amount_sign TEXT NOT NULL DEFAULT 'negative_charges',
	confidence DOUBLE PRECISION NOT NULL,
	hit_count BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_used_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_fingerprint_user ON statement_fingerprints(user_id, header_hash) WHERE user_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_fingerprint_system ON statement_fingerprints(header_hash) WHERE user_id IS NULL;

CREATE TABLE IF NOT EXISTS gl_accounts (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS departments (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS receipts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	vendor_extracted TEXT,
	date_extracted DATE,
	amount_extracted_cents BIGINT,
	match_status TEXT NOT NULL DEFAULT 'unmatched',
	matched_transaction_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_receipts_user_status ON receipts(user_id, match_status);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	description TEXT NOT NULL,
	original_description TEXT NOT NULL,
	transaction_date DATE NOT NULL,
	amount_cents BIGINT NOT NULL,
	gl_code TEXT,
	department TEXT,
	match_status TEXT NOT NULL DEFAULT 'unmatched',
	group_id TEXT,
	matched_receipt_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, transaction_date);
CREATE INDEX IF NOT EXISTS idx_transactions_user_amount ON transactions(user_id, amount_cents);

CREATE TABLE IF NOT EXISTS transaction_groups (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	combined_amount_cents BIGINT NOT NULL,
	display_date DATE NOT NULL,
	transaction_count INT NOT NULL DEFAULT 0,
	match_status TEXT NOT NULL DEFAULT 'unmatched',
	matched_receipt_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS receipt_transaction_matches (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	receipt_id TEXT NOT NULL,
	transaction_id TEXT,
	transaction_group_id TEXT,
	status TEXT NOT NULL DEFAULT 'proposed',
	confidence_score INT NOT NULL,
	amount_score INT NOT NULL DEFAULT 0,
	date_score INT NOT NULL DEFAULT 0,
	vendor_score INT NOT NULL DEFAULT 0,
	match_reason TEXT,
	matched_vendor_alias_id TEXT,
	is_manual_match BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	confirmed_at TIMESTAMPTZ,
	confirmed_by_user_id TEXT,
	CHECK ((transaction_id IS NULL) <> (transaction_group_id IS NULL))
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_match_receipt_active ON receipt_transaction_matches(receipt_id) WHERE status IN ('proposed','confirmed');
CREATE UNIQUE INDEX IF NOT EXISTS uq_match_txn_active ON receipt_transaction_matches(transaction_id) WHERE transaction_id IS NOT NULL AND status IN ('proposed','confirmed');
CREATE UNIQUE INDEX IF NOT EXISTS uq_match_group_active ON receipt_transaction_matches(transaction_group_id) WHERE transaction_group_id IS NOT NULL AND status IN ('proposed','confirmed');
`

// sqliteSchema mirrors postgresSchema for lite mode. Embeddings are
// Postgres-only; lite mode resolves without tier 2.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS normalized_text_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	raw_hash TEXT NOT NULL UNIQUE,
	raw_text TEXT NOT NULL,
	normalized_text TEXT NOT NULL,
	use_count INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	last_used_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS vendor_aliases (
	id TEXT PRIMARY KEY,
	canonical_name TEXT NOT NULL,
	alias_pattern TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT 'generic',
	default_gl_code TEXT,
	default_department TEXT,
	gl_confirm_count INTEGER NOT NULL DEFAULT 0,
	dept_confirm_count INTEGER NOT NULL DEFAULT 0,
	match_count INTEGER NOT NULL DEFAULT 0,
	last_matched_at TEXT,
	confidence REAL NOT NULL DEFAULT 1.0,
	UNIQUE (canonical_name, alias_pattern)
);

CREATE TABLE IF NOT EXISTS tier_usage_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	tier INTEGER NOT NULL,
	cache_hit INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	cost_usd REAL NOT NULL DEFAULT 0,
	model TEXT,
	input_hash TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tier_usage_user_time ON tier_usage_log(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tier_usage_op_time ON tier_usage_log(operation, created_at);

CREATE TABLE IF NOT EXISTS statement_fingerprints (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	header_hash TEXT NOT NULL,
	source_name TEXT NOT NULL DEFAULT '',
	column_mapping TEXT NOT NULL,
	date_format TEXT NOT NULL DEFAULT '',
	amount_sign TEXT NOT NULL DEFAULT 'negative_charges',
	confidence REAL NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	last_used_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_fingerprint_user ON statement_fingerprints(user_id, header_hash) WHERE user_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_fingerprint_system ON statement_fingerprints(header_hash) WHERE user_id IS NULL;

CREATE TABLE IF NOT EXISTS gl_accounts (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS departments (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS receipts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	vendor_extracted TEXT,
	date_extracted TEXT,
	amount_extracted_cents INTEGER,
	match_status TEXT NOT NULL DEFAULT 'unmatched',
	matched_transaction_id TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_user_status ON receipts(user_id, match_status);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	description TEXT NOT NULL,
	original_description TEXT NOT NULL,
	transaction_date TEXT NOT NULL,
	amount_cents INTEGER NOT NULL,
	gl_code TEXT,
	department TEXT,
	match_status TEXT NOT NULL DEFAULT 'unmatched',
	group_id TEXT,
	matched_receipt_id TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, transaction_date);
CREATE INDEX IF NOT EXISTS idx_transactions_user_amount ON transactions(user_id, amount_cents);

CREATE TABLE IF NOT EXISTS transaction_groups (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	combined_amount_cents INTEGER NOT NULL,
	display_date TEXT NOT NULL,
	transaction_count INTEGER NOT NULL DEFAULT 0,
	match_status TEXT NOT NULL DEFAULT 'unmatched',
	matched_receipt_id TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS receipt_transaction_matches (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	receipt_id TEXT NOT NULL,
	transaction_id TEXT,
	transaction_group_id TEXT,
	status TEXT NOT NULL DEFAULT 'proposed',
	confidence_score INTEGER NOT NULL,
	amount_score INTEGER NOT NULL DEFAULT 0,
	date_score INTEGER NOT NULL DEFAULT 0,
	vendor_score INTEGER NOT NULL DEFAULT 0,
	match_reason TEXT,
	matched_vendor_alias_id TEXT,
	is_manual_match INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	confirmed_at TEXT,
	confirmed_by_user_id TEXT,
	CHECK ((transaction_id IS NULL) <> (transaction_group_id IS NULL))
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_match_receipt_active ON receipt_transaction_matches(receipt_id) WHERE status IN ('proposed','confirmed');
CREATE UNIQUE INDEX IF NOT EXISTS uq_match_txn_active ON receipt_transaction_matches(transaction_id) WHERE transaction_id IS NOT NULL AND status IN ('proposed','confirmed');
CREATE UNIQUE INDEX IF NOT EXISTS uq_match_group_active ON receipt_transaction_matches(transaction_group_id) WHERE transaction_group_id IS NOT NULL AND status IN ('proposed','confirmed');
`

// Init creates the relational schema for the given driver.
func Init(ctx context.Context, db *sql.DB, driver string) error {
	var ddl string
	switch driver {
	case DriverPostgres:
		ddl = postgresSchema
	case DriverSQLite:
		ddl = sqliteSchema
	default:
		return fmt.Errorf("database: unsupported driver %q", driver)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("database: init schema: %w", err)
	}
	return nil
}

// Package expense holds the plain-record domain model shared by the
// inference and matching subsystems: receipts, bank transactions,
// transaction groups, receipt↔transaction matches, and vendor aliases.
// Entities are short-lived per-request views; the database layer owns
// their lifecycle.
package expense

import "time"

// MatchStatus tracks where a receipt, transaction, or group sits in the
// matching lifecycle.
type MatchStatus string

const (
	StatusUnmatched MatchStatus = "unmatched"
	StatusProposed  MatchStatus = "proposed"
	StatusMatched   MatchStatus = "matched"
)

// MatchState is the lifecycle of a ReceiptTransactionMatch row.
type MatchState string

const (
	MatchProposed  MatchState = "proposed"
	MatchConfirmed MatchState = "confirmed"
	MatchRejected  MatchState = "rejected"
)

// AliasCategory classifies a vendor alias for category-filtered lookup
// (e.g. travel flows only consult Airline and Hotel aliases).
type AliasCategory string

const (
	CategoryGeneric    AliasCategory = "generic"
	CategoryAirline    AliasCategory = "airline"
	CategoryHotel      AliasCategory = "hotel"
	CategoryRestaurant AliasCategory = "restaurant"
	CategoryRideshare  AliasCategory = "rideshare"
	CategorySoftware   AliasCategory = "software"
	CategoryRetail     AliasCategory = "retail"
)

// Receipt is an uploaded receipt after external extraction. Extraction
// itself is out of core; only the extracted field shapes are consumed.
type Receipt struct {
	ID                   string      `json:"id"`
	UserID               string      `json:"user_id"`
	VendorExtracted      string      `json:"vendor_extracted,omitempty"`
	DateExtracted        *time.Time  `json:"date_extracted,omitempty"`
	AmountExtracted      *Money      `json:"amount_extracted,omitempty"`
	MatchStatus          MatchStatus `json:"match_status"`
	MatchedTransactionID string      `json:"matched_transaction_id,omitempty"`
}

// Transaction is one ingested bank-statement line.
type Transaction struct {
	ID                  string      `json:"id"`
	UserID              string      `json:"user_id"`
	Description         string      `json:"description"`
	OriginalDescription string      `json:"original_description"`
	TransactionDate     time.Time   `json:"transaction_date"`
	Amount              Money       `json:"amount"`
	GLCode              string      `json:"gl_code,omitempty"`
	Department          string      `json:"department,omitempty"`
	MatchStatus         MatchStatus `json:"match_status"`
	GroupID             string      `json:"group_id,omitempty"`
	MatchedReceiptID    string      `json:"matched_receipt_id,omitempty"`
}

// TransactionGroup bundles several transactions into one atomic match
// candidate (e.g. an airline fare split into three charges). Members are
// hidden from the individual candidate pool while grouped.
type TransactionGroup struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	Name             string      `json:"name"`
	CombinedAmount   Money       `json:"combined_amount"`
	DisplayDate      time.Time   `json:"display_date"`
	TransactionCount int         `json:"transaction_count"`
	MatchStatus      MatchStatus `json:"match_status"`
	MatchedReceiptID string      `json:"matched_receipt_id,omitempty"`
}

// ReceiptTransactionMatch links one receipt to exactly one transaction
// or one transaction group, never both.
type ReceiptTransactionMatch struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	ReceiptID          string     `json:"receipt_id"`
	TransactionID      string     `json:"transaction_id,omitempty"`
	TransactionGroupID string     `json:"transaction_group_id,omitempty"`
	Status             MatchState `json:"status"`
	ConfidenceScore    int        `json:"confidence_score"`
	AmountScore        int        `json:"amount_score"`
	DateScore          int        `json:"date_score"`
	VendorScore        int        `json:"vendor_score"`
	MatchReason        string     `json:"match_reason,omitempty"`
	MatchedAliasID     string     `json:"matched_vendor_alias_id,omitempty"`
	IsManualMatch      bool       `json:"is_manual_match"`
	CreatedAt          time.Time  `json:"created_at"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	ConfirmedByUserID  string     `json:"confirmed_by_user_id,omitempty"`
}

// IsGroupMatch reports whether the match targets a transaction group.
func (m *ReceiptTransactionMatch) IsGroupMatch() bool {
	return m.TransactionGroupID != ""
}

// AmountSign declares how a statement source encodes charges. Stored
// amounts are canonical: charges negative, credits positive.
type AmountSign string

const (
	// NegativeCharges: the source already writes charges as negative.
	NegativeCharges AmountSign = "negative_charges"
	// PositiveCharges: the source writes charges as positive; ingestion
	// flips the sign.
	PositiveCharges AmountSign = "positive_charges"
)

// ColumnField is the role a statement column plays. Ingestion only
// understands these; anything else a mapping names is dropped.
type ColumnField string

const (
	FieldDate        ColumnField = "date"
	FieldPostDate    ColumnField = "post_date"
	FieldDescription ColumnField = "description"
	FieldAmount      ColumnField = "amount"
	FieldCategory    ColumnField = "category"
	FieldMemo        ColumnField = "memo"
	FieldReference   ColumnField = "reference"
	FieldIgnore      ColumnField = "ignore"
)

// StatementFingerprint remembers how one statement layout maps onto
// transaction fields, keyed by the canonical header hash. A row with an
// empty UserID is the system-wide fallback; user rows take priority.
type StatementFingerprint struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"user_id,omitempty"`
	HeaderHash    string                 `json:"header_hash"`
	SourceName    string                 `json:"source_name,omitempty"`
	ColumnMapping map[string]ColumnField `json:"column_mapping"`
	DateFormat    string                 `json:"date_format,omitempty"`
	AmountSign    AmountSign             `json:"amount_sign"`
	Confidence    float64                `json:"confidence"`
	HitCount      int64                  `json:"hit_count"`
	CreatedAt     time.Time              `json:"created_at"`
	LastUsedAt    *time.Time             `json:"last_used_at,omitempty"`
}

// StatementRow is one statement line after a fingerprint has been
// applied: date parsed, amount sign canonicalized, columns named.
type StatementRow struct {
	Date        time.Time  `json:"date"`
	PostDate    *time.Time `json:"post_date,omitempty"`
	Description string     `json:"description"`
	Amount      Money      `json:"amount"`
	Category    string     `json:"category,omitempty"`
	Memo        string     `json:"memo,omitempty"`
	Reference   string     `json:"reference,omitempty"`
}

// VendorAlias maps a transaction-description substring pattern to a
// canonical vendor identity plus preferred coding defaults. Confirmation
// counters feed the tier-1 promotion rule.
type VendorAlias struct {
	ID                string        `json:"id"`
	CanonicalName     string        `json:"canonical_name"`
	AliasPattern      string        `json:"alias_pattern"`
	DisplayName       string        `json:"display_name"`
	Category          AliasCategory `json:"category"`
	DefaultGLCode     string        `json:"default_gl_code,omitempty"`
	DefaultDepartment string        `json:"default_department,omitempty"`
	GLConfirmCount    int           `json:"gl_confirm_count"`
	DeptConfirmCount  int           `json:"dept_confirm_count"`
	MatchCount        int           `json:"match_count"`
	LastMatchedAt     *time.Time    `json:"last_matched_at,omitempty"`
	Confidence        float64       `json:"confidence"`
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spendlens/core/pkg/expense"
)

// Tuning holds the engine thresholds shared by the inference and
// matching subsystems. Values are deployment-tunable but ship with the
// calibrated defaults below; changing them shifts match quality, so
// overrides go through a reviewed YAML profile rather than scattered
// env vars.
type Tuning struct {
	// Inference thresholds.
	SimilarityThreshold   float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	VendorConfirmations   int     `yaml:"vendor_confirmations" json:"vendor_confirmations"`
	NormalizationMaxChars int     `yaml:"normalization_max_chars" json:"normalization_max_chars"`
	EmbedRetentionMonths  int     `yaml:"embed_retention_months" json:"embed_retention_months"`

	// Per-call cost estimates in USD, recorded with each usage row.
	Tier2CostUSD float64 `yaml:"tier2_cost_usd" json:"tier2_cost_usd"`
	Tier3CostUSD float64 `yaml:"tier3_cost_usd" json:"tier3_cost_usd"`

	// Matching thresholds.
	MinConfidence   int           `yaml:"min_confidence" json:"min_confidence"`
	AmbiguousGap    int           `yaml:"ambiguous_gap" json:"ambiguous_gap"`
	AmountExact     expense.Money `yaml:"amount_exact_cents" json:"amount_exact_cents"`
	AmountNear      expense.Money `yaml:"amount_near_cents" json:"amount_near_cents"`
	DateWindowDays  int           `yaml:"date_window_days" json:"date_window_days"`
	FuzzyThreshold  float64       `yaml:"fuzzy_threshold" json:"fuzzy_threshold"`
	MaxProposalList int           `yaml:"max_proposal_list" json:"max_proposal_list"`
}

// DefaultTuning returns the calibrated production thresholds.
func DefaultTuning() Tuning {
	return Tuning{
		SimilarityThreshold:   0.92,
		VendorConfirmations:   3,
		NormalizationMaxChars: 500,
		EmbedRetentionMonths:  6,

		Tier2CostUSD: 0.00002,
		Tier3CostUSD: 0.0004,

		MinConfidence:   70,
		AmbiguousGap:    5,
		AmountExact:     expense.Cents(10),
		AmountNear:      expense.Cents(100),
		DateWindowDays:  7,
		FuzzyThreshold:  0.70,
		MaxProposalList: 50,
	}
}

// LoadTuning reads a YAML tuning profile and overlays it on the
// defaults. Zero-valued fields in the file keep their defaults so a
// profile can override a single threshold.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("load tuning profile %q: %w", path, err)
	}

	var overlay Tuning
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return t, fmt.Errorf("parse tuning profile %q: %w", path, err)
	}

	t.apply(overlay)
	if err := t.validate(); err != nil {
		return DefaultTuning(), fmt.Errorf("tuning profile %q: %w", path, err)
	}
	return t, nil
}

func (t *Tuning) apply(o Tuning) {
	if o.SimilarityThreshold != 0 {
		t.SimilarityThreshold = o.SimilarityThreshold
	}
	if o.VendorConfirmations != 0 {
		t.VendorConfirmations = o.VendorConfirmations
	}
	if o.NormalizationMaxChars != 0 {
		t.NormalizationMaxChars = o.NormalizationMaxChars
	}
	if o.EmbedRetentionMonths != 0 {
		t.EmbedRetentionMonths = o.EmbedRetentionMonths
	}
	if o.Tier2CostUSD != 0 {
		t.Tier2CostUSD = o.Tier2CostUSD
	}
	if o.Tier3CostUSD != 0 {
		t.Tier3CostUSD = o.Tier3CostUSD
	}
	if o.MinConfidence != 0 {
		t.MinConfidence = o.MinConfidence
	}
	if o.AmbiguousGap != 0 {
		t.AmbiguousGap = o.AmbiguousGap
	}
	if o.AmountExact != 0 {
		t.AmountExact = o.AmountExact
	}
	if o.AmountNear != 0 {
		t.AmountNear = o.AmountNear
	}
	if o.DateWindowDays != 0 {
		t.DateWindowDays = o.DateWindowDays
	}
	if o.FuzzyThreshold != 0 {
		t.FuzzyThreshold = o.FuzzyThreshold
	}
	if o.MaxProposalList != 0 {
		t.MaxProposalList = o.MaxProposalList
	}
}

func (t *Tuning) validate() error {
	if t.SimilarityThreshold <= 0 || t.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold %v out of (0,1]", t.SimilarityThreshold)
	}
	if t.FuzzyThreshold <= 0 || t.FuzzyThreshold > 1 {
		return fmt.Errorf("fuzzy_threshold %v out of (0,1]", t.FuzzyThreshold)
	}
	if t.MinConfidence <= 0 || t.MinConfidence > 100 {
		return fmt.Errorf("min_confidence %d out of (0,100]", t.MinConfidence)
	}
	if t.AmbiguousGap < 0 {
		return fmt.Errorf("ambiguous_gap %d negative", t.AmbiguousGap)
	}
	if t.AmountExact > t.AmountNear {
		return fmt.Errorf("amount_exact_cents %d exceeds amount_near_cents %d", t.AmountExact, t.AmountNear)
	}
	if t.DateWindowDays <= 0 {
		return fmt.Errorf("date_window_days %d must be positive", t.DateWindowDays)
	}
	return nil
}

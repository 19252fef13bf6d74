package matching

import (
	"regexp"
	"strings"

	"github.com/agext/levenshtein"
	"golang.org/x/text/unicode/norm"
)

// trailingRef matches the store or reference number run that card
// processors append to descriptions ("STARBUCKS STORE 12345",
// "UNITED 0162341198220", "TST* CAFE #0042").
var trailingRef = regexp.MustCompile(`\s*[\d#][\dA-Z]*$`)

// groupVendor captures the vendor part of a "<VENDOR> (N charges)"
// group name.
var groupVendor = regexp.MustCompile(`^(.*?)\s*\(\d+ charges\)$`)

// ExtractVendorPattern canonicalizes a transaction description into the
// fuzzy key used against the alias registry. Processor prefixes keep
// their marker so "SQ *BLUE BOTTLE" and a direct "BLUE BOTTLE" charge
// stay distinct patterns.
func ExtractVendorPattern(description string) string {
	s := norm.NFC.String(strings.TrimSpace(description))
	if s == "" {
		return ""
	}
	upper := strings.ToUpper(s)

	switch {
	case strings.HasPrefix(upper, "AMAZON.COM*"):
		return "AMAZON"
	case strings.HasPrefix(upper, "SQ *"):
		return prefixedPattern("SQ", upper[len("SQ *"):])
	case strings.HasPrefix(upper, "PAYPAL *"):
		return prefixedPattern("PAYPAL", upper[len("PAYPAL *"):])
	}

	stripped := trailingRef.ReplaceAllString(s, "")
	if stripped == "" {
		stripped = s
	}
	return strings.ToUpper(firstWords(stripped, 3))
}

// ExtractGroupVendor returns the vendor name from a transaction-group
// name of the form "<VENDOR> (N charges)", or the trimmed name itself.
func ExtractGroupVendor(name string) string {
	trimmed := strings.TrimSpace(name)
	if m := groupVendor.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// Similarity returns the normalized Levenshtein similarity of two
// vendor strings in [0, 1]. Comparison is case-insensitive on the
// NFC-normalized forms; identical strings score 1.
func Similarity(a, b string) float64 {
	a = strings.ToUpper(norm.NFC.String(strings.TrimSpace(a)))
	b = strings.ToUpper(norm.NFC.String(strings.TrimSpace(b)))
	return levenshtein.Similarity(a, b, nil)
}

// FuzzySimilarity compares a receipt vendor against an extracted
// candidate pattern. Containment counts as a full match so suffix
// tokens like "INC" or "LLC" on either side do not sink the score;
// otherwise it falls back to plain Levenshtein similarity.
func FuzzySimilarity(a, b string) float64 {
	a = strings.ToUpper(norm.NFC.String(strings.TrimSpace(a)))
	b = strings.ToUpper(norm.NFC.String(strings.TrimSpace(b)))
	if a == "" || b == "" {
		return 0
	}
	shorter := a
	if len(b) < len(shorter) {
		shorter = b
	}
	if len(shorter) >= 3 && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return 1
	}
	return levenshtein.Similarity(a, b, nil)
}

func prefixedPattern(prefix, merchant string) string {
	words := firstWords(merchant, 2)
	if words == "" {
		return prefix
	}
	return prefix + " " + words
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

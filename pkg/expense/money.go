package expense

import (
	"fmt"
	"strconv"
	"strings"
)

// Money is a fixed-precision monetary amount in integer cents.
// Integer math avoids the float drift that breaks amount-tolerance
// comparisons during matching.
type Money int64

// Cents constructs a Money from a raw cent count.
func Cents(v int64) Money { return Money(v) }

// ParseMoney parses a decimal string such as "42.17" or "-1,234.50"
// into cents. Currency signs, thousands separators, and accounting
// parentheses are accepted; more than two fractional digits are not,
// because truncating them would quietly lose money.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(strings.TrimPrefix(s, "$"))
	if s == "" {
		return 0, fmt.Errorf("expense: empty amount")
	}

	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = strings.TrimSpace(strings.TrimPrefix(s[1:], "$"))
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		// Accounting notation: (42.17) means -42.17.
		neg = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
		s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		// ParseInt would accept a second sign here.
		return 0, fmt.Errorf("expense: bad amount %q", s)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("expense: bad amount %q: %w", s, err)
	}

	var cents int64
	switch {
	case frac == "":
	case len(frac) == 1:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expense: bad amount %q: %w", s, err)
		}
		cents = d * 10
	case len(frac) == 2:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expense: bad amount %q: %w", s, err)
		}
		cents = d
	default:
		return 0, fmt.Errorf("expense: bad amount %q: more than two fractional digits", s)
	}

	total := w*100 + cents
	if neg {
		total = -total
	}
	return Money(total), nil
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// Float64 returns the amount in whole currency units. For display only;
// never feed the result back into comparisons.
func (m Money) Float64() float64 { return float64(m) / 100 }

// String formats as a plain decimal, e.g. "-42.17".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

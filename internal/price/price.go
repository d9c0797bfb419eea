// Package price extracts a listing price and currency from free text.
package price

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"svoi_ingest/internal/model"
)

// MaxAmount is the sanity ceiling: anything at or above it is treated as
// parse garbage (phone numbers, years glued to other digits).
var MaxAmount = decimal.NewFromInt(10_000_000)

// Pattern pairs an amount-capturing regexp with the currency it implies.
type Pattern struct {
	Re       *regexp.Regexp
	Currency string
}

// Patterns is the fixed, ordered list of recognized amount+currency forms.
// The amount group tolerates space and comma thousands separators and a
// decimal point.
var Patterns = []Pattern{
	{regexp.MustCompile(`(?i)([\d][\d\s,.]*)\s*(?:€|EUR|евро)`), "EUR"},
	{regexp.MustCompile(`(?i)([\d][\d\s,.]*)\s*(?:RSD|дин|динар)`), "RSD"},
	{regexp.MustCompile(`(?i)([\d][\d\s,.]*)\s*(?:USD|\$|доллар)`), "USD"},
}

// Extract finds the first recognizable price in text. A nil amount with the
// default currency is the valid "price on request" outcome, returned both
// when nothing matches and when every match fails the sanity checks.
func Extract(text string) (amount *decimal.Decimal, currency string) {
	for _, p := range Patterns {
		m := p.Re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if d, ok := parseAmount(m[1]); ok {
			return &d, p.Currency
		}
	}
	return nil, model.DefaultCurrency
}

// parseAmount strips thousands separators (spaces and commas), keeps the
// dot as decimal point, and rejects non-numeric, non-positive, or
// implausibly large values.
func parseAmount(raw string) (decimal.Decimal, bool) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', ',':
			return -1
		}
		return r
	}, raw)
	clean = strings.TrimRight(clean, ".")

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if !d.IsPositive() || d.GreaterThanOrEqual(MaxAmount) {
		return decimal.Decimal{}, false
	}
	return d, true
}

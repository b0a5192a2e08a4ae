// Package normalize provides the pure field-normalization functions applied
// to raw extracted markup text. Every function is total: malformed input
// degrades to an absent or empty result, never a panic or error.
package normalize

import (
	"math"
	"strconv"
	"strings"

	"github.com/pricewatchbd/crawler/internal/record"
)

// CleanText collapses internal whitespace runs to a single space and trims
// both ends. Empty input passes through unchanged.
func CleanText(text string) string {
	if text == "" {
		return text
	}
	return strings.Join(strings.Fields(text), " ")
}

// ParsePrice extracts a positive decimal price from arbitrary text.
//
// Every rune that is not a digit or a decimal point is stripped first, which
// removes currency symbols and grouping separators alike ("৳ 1,20,000.00"
// becomes "120000.00"). The result is absent (nil) when the remainder is
// empty, contains more than one decimal point, or parses to a non-positive
// or non-finite number. A zero price signals "call for price" on the target
// sites, not a free product, so it normalizes to absent too.
func ParsePrice(text string) *float64 {
	if text == "" {
		return nil
	}
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || strings.Count(cleaned, ".") > 1 {
		return nil
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return nil
	}
	return &price
}

// ClassifyAvailability maps the text of a page's stock region to an
// availability label. The marker is matched case-insensitively anywhere in
// the region. An empty region yields "unknown" because nothing was checked.
func ClassifyAvailability(regionText, outOfStockMarker string) record.Availability {
	region := CleanText(regionText)
	if region == "" {
		return record.UnknownStock
	}
	if outOfStockMarker != "" &&
		strings.Contains(strings.ToLower(region), strings.ToLower(outOfStockMarker)) {
		return record.OutOfStock
	}
	return record.InStock
}

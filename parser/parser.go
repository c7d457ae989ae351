package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/martprice/models"
	"github.com/shopspring/decimal"
)

// ValidateEntry reports whether an entry can be shown in a comparison.
// Invalid entries are still persisted by ingestion.
func ValidateEntry(e *models.PriceEntry) error {
	if e == nil {
		return fmt.Errorf("entry is nil")
	}
	if strings.TrimSpace(e.Item) == "" {
		return fmt.Errorf("entry missing item")
	}
	if strings.TrimSpace(e.Price) == "" {
		return fmt.Errorf("entry missing price for %s", e.Item)
	}
	if e.Price == "0" {
		return fmt.Errorf("entry has zero price for %s", e.Item)
	}
	return nil
}

// DisplayItem trims whitespace and stray quote characters left by extraction.
func DisplayItem(item string) string {
	return strings.Trim(strings.TrimSpace(item), `"'“”„`+" ")
}

// NormalizePrice converts loosely formatted price text into a comparable number.
// Everything but digits, comma and period is dropped, the comma becomes the decimal
// point and the longest leading numeric prefix is parsed. ok is false when no number
// could be read, in which case the value is 0.
func NormalizePrice(price string) (float64, bool) {
	var b strings.Builder
	for _, r := range price {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ',':
			b.WriteByte('.')
		}
	}

	prefix := numericPrefix(b.String())
	if prefix == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(prefix)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// numericPrefix returns the longest prefix of s of the form digits[.digits] or .digits.
func numericPrefix(s string) string {
	intEnd := 0
	for intEnd < len(s) && s[intEnd] >= '0' && s[intEnd] <= '9' {
		intEnd++
	}
	if intEnd == len(s) || s[intEnd] != '.' {
		return s[:intEnd]
	}

	fracEnd := intEnd + 1
	for fracEnd < len(s) && s[fracEnd] >= '0' && s[fracEnd] <= '9' {
		fracEnd++
	}
	if fracEnd == intEnd+1 {
		return s[:intEnd]
	}
	if intEnd == 0 {
		return "0" + s[:fracEnd]
	}
	return s[:fracEnd]
}

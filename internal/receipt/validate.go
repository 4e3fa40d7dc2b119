package receipt

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// timestampInputLayouts are accepted on manual entry. The datetime-local layouts come from
// HTML forms and are reformatted to TimestampLayout.
var timestampInputLayouts = []string{
	TimestampLayout,
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

// ParseTotal parses a caller-supplied amount and rounds it to two decimals.
func ParseTotal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, &ValidationError{Field: "total", Value: s, Message: "is required"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "total", Value: s, Message: "is not a number"}
	}
	if err := validateTotal(d); err != nil {
		return decimal.Zero, err
	}
	return d.Round(2), nil
}

// ParseTimestamp validates a caller-supplied timestamp and returns it in canonical form.
func ParseTimestamp(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampInputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(TimestampLayout), nil
		}
	}
	return "", &ValidationError{Field: "timestamp", Value: s, Message: "must look like 2006-01-02 15:04:05"}
}

func validateTotal(d decimal.Decimal) error {
	if d.IsNegative() {
		return &ValidationError{Field: "total", Value: d.String(), Message: "must not be negative"}
	}
	return nil
}

func normalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return DefaultCategory
	}
	return category
}

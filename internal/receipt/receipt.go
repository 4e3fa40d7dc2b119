package receipt

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// DefaultCategory is assigned when a receipt has no category
const DefaultCategory = "Uncategorized"

// TimestampLayout is the canonical receipt timestamp format (YYYY-MM-DD HH:MM:SS)
const TimestampLayout = "2006-01-02 15:04:05"

// Receipt represents a ledger entry
type Receipt struct {
	ID        uint64          `json:"id"`
	Total     decimal.Decimal `json:"total"` // always rounded to 2 places
	Timestamp string          `json:"timestamp"`
	Category  string          `json:"category"`
}

// MarshalJSON renders the total with exactly two decimals
func (r Receipt) MarshalJSON() ([]byte, error) {
	type plain Receipt
	return json.Marshal(struct {
		plain
		Total string `json:"total"`
	}{plain: plain(r), Total: r.Total.StringFixed(2)})
}

// CategoryTotal aggregates the receipts of one category
type CategoryTotal struct {
	Category string          `json:"category"`
	Count    int             `json:"count"`
	Total    decimal.Decimal `json:"total"`
}

// MarshalJSON renders the total with exactly two decimals
func (c CategoryTotal) MarshalJSON() ([]byte, error) {
	type plain CategoryTotal
	return json.Marshal(struct {
		plain
		Total string `json:"total"`
	}{plain: plain(c), Total: c.Total.StringFixed(2)})
}

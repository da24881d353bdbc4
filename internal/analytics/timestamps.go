package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

// FactTimestamp selects the timestamp a fact row is reported under. The
// finalization time wins; the event time covers payloads that lack it.
func FactTimestamp(finalizedAt, occurredAt time.Time) time.Time {
	if !finalizedAt.IsZero() {
		return finalizedAt.UTC()
	}
	return occurredAt.UTC()
}

// Cents converts a currency amount to integer minor units, rounding half
// away from zero.
func Cents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

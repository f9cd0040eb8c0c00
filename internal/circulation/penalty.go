package circulation

import (
	"time"

	"github.com/shopspring/decimal"
)

// PenaltyPerDay is charged for each whole day a loan is late.
var PenaltyPerDay = decimal.NewFromInt(1)

// OverdueDays counts whole days (truncated) from due to returned. Returns
// zero when the item came back on time.
func OverdueDays(due, returned time.Time) int64 {
	if !due.Before(returned) {
		return 0
	}
	return int64(returned.Sub(due) / (24 * time.Hour))
}

// PenaltyFor prices the given number of late days.
func PenaltyFor(days int64) decimal.Decimal {
	if days <= 0 {
		return decimal.Zero
	}
	return PenaltyPerDay.Mul(decimal.NewFromInt(days))
}

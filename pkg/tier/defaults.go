package tier

import (
	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/shopspring/decimal"
)

// DefaultCommissionTable maps lifetime earnings to the base commission rate.
func DefaultCommissionTable() *Table {
	return MustNewTable([]Tier{
		{Name: "Bronze", MinThreshold: money.Zero, RatePercent: decimal.RequireFromString("1.25")},
		{Name: "Silver", MinThreshold: money.MustParse("1000.00"), RatePercent: decimal.RequireFromString("1.50")},
		{Name: "Gold", MinThreshold: money.MustParse("5000.00"), RatePercent: decimal.RequireFromString("2.00")},
		{Name: "Platinum", MinThreshold: money.MustParse("25000.00"), RatePercent: decimal.RequireFromString("2.50")},
	})
}

// DefaultProgressionTable maps current-month qualifying sales to a
// progression badge. It is reporting-only and never gates a rate.
func DefaultProgressionTable() *Table {
	return MustNewTable([]Tier{
		{Name: "seed", MinThreshold: money.Zero},
		{Name: "sprout", MinThreshold: money.MustParse("1000.00")},
		{Name: "growth", MinThreshold: money.MustParse("5000.00")},
		{Name: "bloom", MinThreshold: money.MustParse("15000.00")},
		{Name: "forest", MinThreshold: money.MustParse("50000.00")},
	})
}

package tier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/shopspring/decimal"
)

// ErrInvalidTable is returned when a tier table violates its ordering rules
var ErrInvalidTable = errors.New("invalid tier table")

// Tier is one bracket of a threshold table.
type Tier struct {
	Name         string          `json:"name"`
	MinThreshold money.Money     `json:"min_threshold"`
	RatePercent  decimal.Decimal `json:"rate_percent"`
}

// Table is an immutable, ascending list of tiers. The first tier starts at
// zero and the last one has no upper bound, so every non-negative amount
// maps to exactly one tier.
type Table struct {
	tiers []Tier
}

// NewTable validates and freezes a tier list.
func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers", ErrInvalidTable)
	}
	if !tiers[0].MinThreshold.IsZero() {
		return nil, fmt.Errorf("%w: first tier %q must start at 0.00", ErrInvalidTable, tiers[0].Name)
	}

	seen := make(map[string]bool, len(tiers))
	for i, t := range tiers {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("%w: tier %d has no name", ErrInvalidTable, i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("%w: duplicate tier %q", ErrInvalidTable, t.Name)
		}
		seen[t.Name] = true

		if t.RatePercent.IsNegative() || t.RatePercent.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("%w: tier %q rate %s out of range", ErrInvalidTable, t.Name, t.RatePercent)
		}
		if i == 0 {
			continue
		}

		prev := tiers[i-1]
		if !t.MinThreshold.GreaterThan(prev.MinThreshold) {
			return nil, fmt.Errorf("%w: tier %q threshold must be above %q", ErrInvalidTable, t.Name, prev.Name)
		}
		// Higher brackets never pay less.
		if t.RatePercent.LessThan(prev.RatePercent) {
			return nil, fmt.Errorf("%w: tier %q rate is below %q", ErrInvalidTable, t.Name, prev.Name)
		}
	}

	frozen := make([]Tier, len(tiers))
	copy(frozen, tiers)
	return &Table{tiers: frozen}, nil
}

// MustNewTable is NewTable for package-level defaults.
func MustNewTable(tiers []Tier) *Table {
	t, err := NewTable(tiers)
	if err != nil {
		panic(err)
	}
	return t
}

// TierFor returns the highest tier whose threshold is at or below amount.
// Negative amounts fall into the first tier.
func (t *Table) TierFor(amount money.Money) Tier {
	result := t.tiers[0]
	for _, candidate := range t.tiers[1:] {
		if amount.LessThan(candidate.MinThreshold) {
			break
		}
		result = candidate
	}
	return result
}

// RateFor looks up the rate of a tier by name.
func (t *Table) RateFor(name string) (decimal.Decimal, bool) {
	for _, candidate := range t.tiers {
		if candidate.Name == name {
			return candidate.RatePercent, true
		}
	}
	return decimal.Zero, false
}

// Tiers returns a copy of the table rows.
func (t *Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// Lowest returns the entry tier.
func (t *Table) Lowest() Tier {
	return t.tiers[0]
}

// ParseTable reads "Name:threshold:rate" entries separated by commas, e.g.
// "Bronze:0:1.25,Silver:1000:1.5". Progression tables may omit the rate.
func ParseTable(raw string) (*Table, error) {
	var tiers []Tier
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("%w: entry %q must be name:threshold[:rate]", ErrInvalidTable, entry)
		}

		threshold, err := money.Parse(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrInvalidTable, entry, err)
		}

		rate := decimal.Zero
		if len(parts) == 3 {
			rate, err = decimal.NewFromString(strings.TrimSpace(parts[2]))
			if err != nil {
				return nil, fmt.Errorf("%w: entry %q: bad rate", ErrInvalidTable, entry)
			}
		}

		tiers = append(tiers, Tier{
			Name:         strings.TrimSpace(parts[0]),
			MinThreshold: threshold,
			RatePercent:  rate,
		})
	}

	return NewTable(tiers)
}

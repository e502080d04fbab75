package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every amount.
const Scale = 2

var (
	// ErrInvalidFormat is returned when a string is not a two-decimal amount
	ErrInvalidFormat = errors.New("invalid money format")
	// ErrOverflow is returned when arithmetic leaves the int64 minor-unit range
	ErrOverflow = errors.New("money overflow")

	hundred = decimal.NewFromInt(100)
)

// Money is an amount in the platform base currency, stored as minor units (cents).
type Money struct {
	cents int64
}

// Zero is the zero amount.
var Zero = Money{}

// FromCents builds an amount from minor units.
func FromCents(cents int64) Money {
	return Money{cents: cents}
}

// Parse reads a decimal string such as "12.50" or "1000". More than two
// fractional digits is an error rather than a silent rounding.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("%w: empty amount", ErrInvalidFormat)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	if d.Exponent() < -Scale && !d.Equal(d.Truncate(Scale)) {
		return Zero, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidFormat, s, Scale)
	}

	return fromDecimal(d.Mul(hundred))
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

func fromDecimal(cents decimal.Decimal) (Money, error) {
	if cents.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || cents.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return Zero, ErrOverflow
	}
	return Money{cents: cents.IntPart()}, nil
}

// Cents returns the amount in minor units.
func (m Money) Cents() int64 {
	return m.cents
}

// Decimal returns the amount as a decimal in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.cents, -Scale)
}

// String formats the amount with exactly two fractional digits.
func (m Money) String() string {
	return m.Decimal().StringFixed(Scale)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.cents == 0
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.cents < 0
}

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(other Money) int {
	switch {
	case m.cents < other.cents:
		return -1
	case m.cents > other.cents:
		return 1
	default:
		return 0
	}
}

// LessThan reports m < other.
func (m Money) LessThan(other Money) bool {
	return m.cents < other.cents
}

// GreaterThan reports m > other.
func (m Money) GreaterThan(other Money) bool {
	return m.cents > other.cents
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	sum := m.cents + other.cents
	if (other.cents > 0 && sum < m.cents) || (other.cents < 0 && sum > m.cents) {
		return Zero, ErrOverflow
	}
	return Money{cents: sum}, nil
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	diff := m.cents - other.cents
	if (other.cents > 0 && diff > m.cents) || (other.cents < 0 && diff < m.cents) {
		return Zero, ErrOverflow
	}
	return Money{cents: diff}, nil
}

// PercentOf returns pct percent of m, rounded half away from zero to a cent.
func (m Money) PercentOf(pct decimal.Decimal) (Money, error) {
	cents := decimal.NewFromInt(m.cents).Mul(pct).Div(hundred).Round(0)
	return fromDecimal(cents)
}

// MarshalJSON encodes the amount as a decimal string ("12.50").
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts a decimal string or a JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores the amount as integer cents.
func (m Money) Value() (driver.Value, error) {
	return m.cents, nil
}

// Scan reads integer cents written by Value.
func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		m.cents = v
	case nil:
		m.cents = 0
	default:
		return fmt.Errorf("money: cannot scan %T", src)
	}
	return nil
}

// Package testdata generates realistic commission events and payout
// destinations for tests and local seeding.
package testdata

import (
	"fmt"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jordanlanch/creatorledger/pkg/commission"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/shopspring/decimal"
)

// GeneratorConfig bounds generated amounts.
type GeneratorConfig struct {
	MaxQualifyingCents int64
	// MaxBonusBasisPoints is the ad bonus ceiling in hundredths of a percent.
	MaxBonusBasisPoints int
	// BonusChance is the probability that an event carries an ad bonus.
	BonusChance float64
}

// DefaultGeneratorConfig matches the default commission rules.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxQualifyingCents:  2_000_000,
		MaxBonusBasisPoints: 500,
		BonusChance:         0.5,
	}
}

// Generator is deterministic for a given seed.
type Generator struct {
	faker *gofakeit.Faker
	cfg   GeneratorConfig
}

// NewGenerator creates a seeded generator.
func NewGenerator(seed int64, cfg GeneratorConfig) *Generator {
	return &Generator{faker: gofakeit.New(seed), cfg: cfg}
}

// Faker exposes the underlying source for ad-hoc choices.
func (g *Generator) Faker() *gofakeit.Faker {
	return g.faker
}

// CreatorID returns a new creator id.
func (g *Generator) CreatorID() string {
	return "creator_" + g.faker.UUID()
}

// Amount returns a value in [min, max] cents.
func (g *Generator) Amount(min, max money.Money) money.Money {
	return money.FromCents(int64(g.faker.Number(int(min.Cents()), int(max.Cents()))))
}

// CommissionEvent returns a fresh event for creatorID.
func (g *Generator) CommissionEvent(creatorID string) commission.Event {
	bonus := decimal.Zero
	if g.faker.Float64Range(0, 1) < g.cfg.BonusChance {
		bonus = decimal.New(int64(g.faker.Number(0, g.cfg.MaxBonusBasisPoints)), -2)
	}
	return commission.Event{
		EventID:          fmt.Sprintf("evt_%s", g.faker.UUID()),
		CreatorID:        creatorID,
		QualifyingAmount: g.Amount(money.Zero, money.FromCents(g.cfg.MaxQualifyingCents)),
		BonusRatePercent: bonus,
	}
}

// BankDestination returns a complete bank transfer destination.
func (g *Generator) BankDestination() ledger.Destination {
	return ledger.Destination{
		Method:            ledger.MethodBankTransfer,
		AccountHolderName: g.faker.Name(),
		BankName:          g.faker.Company() + " Bank",
		AccountNumber:     g.faker.Numerify("############"),
		RoutingNumber:     g.faker.Numerify("#########"),
		ContactEmail:      g.faker.Email(),
	}
}

// StripeDestination returns a Stripe Connect destination.
func (g *Generator) StripeDestination() ledger.Destination {
	return ledger.Destination{
		Method:          ledger.MethodStripeConnect,
		StripeAccountID: "acct_" + g.faker.LetterN(16),
		ContactEmail:    g.faker.Email(),
	}
}

// Destination picks either kind.
func (g *Generator) Destination() ledger.Destination {
	if g.faker.Bool() {
		return g.StripeDestination()
	}
	return g.BankDestination()
}

// Reason returns a short free-text reason or reference.
func (g *Generator) Reason() string {
	return g.faker.Sentence(4)
}

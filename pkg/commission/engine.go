package commission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/logger"
	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/jordanlanch/creatorledger/pkg/tier"
	"github.com/shopspring/decimal"
)

// DefaultMaxBonusRatePercent is the upper bound of the ad bonus rate.
var DefaultMaxBonusRatePercent = decimal.NewFromInt(5)

// Event is one commission-qualifying sale attributed to a creator.
type Event struct {
	EventID          string
	CreatorID        string
	QualifyingAmount money.Money
	BonusRatePercent decimal.Decimal
}

// Status tells a fresh credit apart from a replay.
type Status string

const (
	StatusPosted        Status = "posted"
	StatusAlreadyPosted Status = "already_posted"
)

// Result is the outcome of PostCommission. For a replay it carries the
// amounts and balances recorded by the original posting.
type Result struct {
	Status          Status          `json:"status"`
	EventID         string          `json:"event_id"`
	CreatorID       string          `json:"creator_id"`
	Tier            string          `json:"tier"`
	TierRatePercent decimal.Decimal `json:"tier_rate_percent"`
	Base            money.Money     `json:"base_component"`
	Bonus           money.Money     `json:"bonus_component"`
	Total           money.Money     `json:"total_credit"`
	Available       money.Money     `json:"available_balance"`
	LifetimeEarned  money.Money     `json:"lifetime_earned"`
	PostedAt        time.Time       `json:"posted_at"`
}

// Engine computes commissions and posts them to the ledger.
type Engine struct {
	store    ledger.Store
	tiers    *tier.Table
	maxBonus decimal.Decimal
	observer ledger.Observer
	logger   logger.Logger
	nowFn    func() time.Time
}

// NewEngine creates a new commission engine. observer may be nil.
func NewEngine(store ledger.Store, tiers *tier.Table, maxBonus decimal.Decimal, observer ledger.Observer, log logger.Logger) *Engine {
	if observer == nil {
		observer = ledger.Observers{}
	}
	return &Engine{
		store:    store,
		tiers:    tiers,
		maxBonus: maxBonus,
		observer: observer,
		logger:   log,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the posting timestamp source.
func (e *Engine) WithClock(nowFn func() time.Time) *Engine {
	e.nowFn = nowFn
	return e
}

func (e *Engine) validate(ev Event) error {
	if strings.TrimSpace(ev.EventID) == "" {
		return domain.NewValidationError("event id is required")
	}
	if strings.TrimSpace(ev.CreatorID) == "" {
		return domain.NewValidationError("creator id is required")
	}
	if ev.QualifyingAmount.IsNegative() {
		return domain.NewInvalidAmountError("qualifying amount must not be negative")
	}
	if ev.BonusRatePercent.IsNegative() || ev.BonusRatePercent.GreaterThan(e.maxBonus) {
		return domain.NewInvalidBonusRateError(fmt.Sprintf("bonus rate must be between 0 and %s percent", e.maxBonus))
	}
	return nil
}

// PostCommission credits the creator for a sale exactly once per event id.
// The tier comes from lifetime earnings before this event.
func (e *Engine) PostCommission(ctx context.Context, ev Event) (*Result, error) {
	if err := e.validate(ev); err != nil {
		return nil, err
	}

	var (
		posting *ledger.Posting
		account ledger.Account
		replay  bool
	)

	err := e.store.InTx(ctx, ev.CreatorID, func(ctx context.Context, tx ledger.Tx) error {
		prior, err := tx.Posting(ctx, ev.EventID)
		if err == nil {
			posting, replay = prior, true
			return nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}

		p, err := e.compute(ev, e.tiers.TierFor(acct.LifetimeEarned))
		if err != nil {
			return err
		}
		if err := acct.Credit(p.Total); err != nil {
			return err
		}
		if err := acct.Check(); err != nil {
			return domain.NewInternalError(err)
		}

		now := e.nowFn()
		if acct.IsNew() {
			acct.CreatedAt = now
		}
		acct.UpdatedAt = now
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		p.AvailableAfter = acct.Available
		p.LifetimeEarnedAfter = acct.LifetimeEarned
		p.PostedAt = now
		if err := tx.InsertPosting(ctx, p); err != nil {
			return err
		}

		posting, account = p, *acct
		return nil
	})

	// Another unit of work committed the same event first.
	if errors.Is(err, ledger.ErrDuplicateEvent) {
		posting, err = e.store.GetPosting(ctx, ev.EventID)
		replay = true
	}
	if err != nil {
		e.logger.Error("Failed to post commission", "event_id", ev.EventID, "creator_id", ev.CreatorID, "error", err)
		return nil, fmt.Errorf("post commission %s: %w", ev.EventID, err)
	}

	if replay {
		if posting.CreatorID != ev.CreatorID {
			e.logger.Warn("Event id was already posted for another creator",
				"event_id", ev.EventID, "creator_id", ev.CreatorID, "posted_for", posting.CreatorID)
		}
		e.logger.Info("Commission already posted", "event_id", ev.EventID, "creator_id", posting.CreatorID)
		return newResult(StatusAlreadyPosted, posting), nil
	}

	e.logger.Info("Commission posted",
		"event_id", ev.EventID,
		"creator_id", ev.CreatorID,
		"tier", posting.TierName,
		"total", posting.Total.String(),
	)
	e.observer.CommissionPosted(ctx, posting, account)

	return newResult(StatusPosted, posting), nil
}

func (e *Engine) compute(ev Event, current tier.Tier) (*ledger.Posting, error) {
	base, err := ev.QualifyingAmount.PercentOf(current.RatePercent)
	if err != nil {
		return nil, domain.NewInvalidAmountError("qualifying amount is too large")
	}
	bonus, err := ev.QualifyingAmount.PercentOf(ev.BonusRatePercent)
	if err != nil {
		return nil, domain.NewInvalidAmountError("qualifying amount is too large")
	}
	total, err := base.Add(bonus)
	if err != nil {
		return nil, domain.NewInvalidAmountError("commission overflows")
	}

	return &ledger.Posting{
		EventID:          ev.EventID,
		CreatorID:        ev.CreatorID,
		QualifyingAmount: ev.QualifyingAmount,
		BonusRatePercent: ev.BonusRatePercent,
		TierName:         current.Name,
		TierRatePercent:  current.RatePercent,
		Base:             base,
		Bonus:            bonus,
		Total:            total,
	}, nil
}

func newResult(status Status, p *ledger.Posting) *Result {
	return &Result{
		Status:          status,
		EventID:         p.EventID,
		CreatorID:       p.CreatorID,
		Tier:            p.TierName,
		TierRatePercent: p.TierRatePercent,
		Base:            p.Base,
		Bonus:           p.Bonus,
		Total:           p.Total,
		Available:       p.AvailableAfter,
		LifetimeEarned:  p.LifetimeEarnedAfter,
		PostedAt:        p.PostedAt,
	}
}

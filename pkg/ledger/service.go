package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/logger"
	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/jordanlanch/creatorledger/pkg/tier"
	"github.com/shopspring/decimal"
)

// Summary is the creator-facing view of an account.
type Summary struct {
	CreatorID              string          `json:"creator_id"`
	Available              money.Money     `json:"available_balance"`
	Pending                money.Money     `json:"pending_balance"`
	LifetimeEarned         money.Money     `json:"lifetime_earned"`
	LifetimeWithdrawn      money.Money     `json:"lifetime_withdrawn"`
	Tier                   string          `json:"tier"`
	TierRatePercent        decimal.Decimal `json:"tier_rate_percent"`
	LifetimeBase           money.Money     `json:"lifetime_base_earned"`
	LifetimeBonus          money.Money     `json:"lifetime_bonus_earned"`
	MonthlyQualifyingSales money.Money     `json:"monthly_qualifying_sales"`
	ProgressionTier        string          `json:"progression_tier"`
}

// SummaryCache is an optional read-through cache for summaries.
//
// Every invalidation advances the creator's generation. A reader takes the
// generation before loading the ledger and SetSummary stores the result only
// if no invalidation happened since, so a fill racing a write is dropped.
type SummaryCache interface {
	GetSummary(ctx context.Context, creatorID string) (*Summary, bool, error)
	Generation(ctx context.Context, creatorID string) (int64, error)
	SetSummary(ctx context.Context, summary *Summary, generation int64) (bool, error)
	InvalidateSummary(ctx context.Context, creatorID string) error
}

// Service answers balance queries.
type Service struct {
	store       Reader
	commission  *tier.Table
	progression *tier.Table
	cache       SummaryCache
	logger      logger.Logger
	nowFn       func() time.Time
}

// NewService creates a new summary service. cache may be nil.
func NewService(store Reader, commission, progression *tier.Table, cache SummaryCache, log logger.Logger) *Service {
	return &Service{
		store:       store,
		commission:  commission,
		progression: progression,
		cache:       cache,
		logger:      log,
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used for the monthly progression window.
func (s *Service) WithClock(nowFn func() time.Time) *Service {
	s.nowFn = nowFn
	return s
}

// GetAccountSummary returns balances and tiers. Creators without postings get
// a zero summary at the lowest tier.
func (s *Service) GetAccountSummary(ctx context.Context, creatorID string) (*Summary, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return nil, domain.NewValidationError("creator id is required")
	}

	fill := false
	var generation int64
	if s.cache != nil {
		cached, ok, err := s.cache.GetSummary(ctx, creatorID)
		if err != nil {
			s.logger.Warn("summary cache read failed", "creator_id", creatorID, "error", err)
		} else if ok {
			return cached, nil
		}

		generation, err = s.cache.Generation(ctx, creatorID)
		if err != nil {
			s.logger.Warn("summary cache generation read failed", "creator_id", creatorID, "error", err)
		} else {
			fill = true
		}
	}

	summary, err := s.buildSummary(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	if fill {
		stored, err := s.cache.SetSummary(ctx, summary, generation)
		if err != nil {
			s.logger.Warn("summary cache write failed", "creator_id", creatorID, "error", err)
		} else if !stored {
			s.logger.Debug("summary changed while loading, not cached", "creator_id", creatorID)
		}
	}
	return summary, nil
}

func (s *Service) buildSummary(ctx context.Context, creatorID string) (*Summary, error) {
	account, err := s.store.GetAccount(ctx, creatorID)
	if errors.Is(err, ErrNotFound) {
		account = NewAccount(creatorID, s.nowFn())
	} else if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	now := s.nowFn()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	totals, err := s.store.PostingTotals(ctx, creatorID, monthStart)
	if err != nil {
		return nil, fmt.Errorf("failed to total postings: %w", err)
	}

	current := s.commission.TierFor(account.LifetimeEarned)
	return &Summary{
		CreatorID:              creatorID,
		Available:              account.Available,
		Pending:                account.Pending,
		LifetimeEarned:         account.LifetimeEarned,
		LifetimeWithdrawn:      account.LifetimeWithdrawn,
		Tier:                   current.Name,
		TierRatePercent:        current.RatePercent,
		LifetimeBase:           totals.Base,
		LifetimeBonus:          totals.Bonus,
		MonthlyQualifyingSales: totals.Qualifying,
		ProgressionTier:        s.progression.TierFor(totals.Qualifying).Name,
	}, nil
}

// GetAccount returns the raw account or a zero one.
func (s *Service) GetAccount(ctx context.Context, creatorID string) (*Account, error) {
	account, err := s.store.GetAccount(ctx, creatorID)
	if errors.Is(err, ErrNotFound) {
		return NewAccount(creatorID, s.nowFn()), nil
	}
	return account, err
}

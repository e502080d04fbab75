package commission

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/logger"
	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/jordanlanch/creatorledger/pkg/store/memory"
	"github.com/jordanlanch/creatorledger/pkg/tier"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	postings []*ledger.Posting
}

func (r *recordingObserver) CommissionPosted(ctx context.Context, p *ledger.Posting, a ledger.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postings = append(r.postings, p)
}

func (r *recordingObserver) PayoutChanged(ctx context.Context, req *ledger.PayoutRequest, from ledger.State, a ledger.Account) {
}

func setupEngine(t *testing.T) (*Engine, *memory.Store, *recordingObserver) {
	t.Helper()
	store := memory.New()
	obs := &recordingObserver{}
	engine := NewEngine(store, tier.DefaultCommissionTable(), DefaultMaxBonusRatePercent, obs, logger.Nop())
	return engine, store, obs
}

func event(id, creator, amount string, bonus string) Event {
	return Event{
		EventID:          id,
		CreatorID:        creator,
		QualifyingAmount: money.MustParse(amount),
		BonusRatePercent: decimal.RequireFromString(bonus),
	}
}

func TestPostCommission_FirstCreditAtBronze(t *testing.T) {
	engine, store, obs := setupEngine(t)
	ctx := context.Background()

	result, err := engine.PostCommission(ctx, event("order-1", "creator-1", "1000.00", "0"))
	require.NoError(t, err)

	assert.Equal(t, StatusPosted, result.Status)
	assert.Equal(t, "Bronze", result.Tier)
	assert.Equal(t, "12.50", result.Base.String())
	assert.Equal(t, "0.00", result.Bonus.String())
	assert.Equal(t, "12.50", result.Total.String())
	assert.Equal(t, "12.50", result.Available.String())
	assert.Equal(t, "12.50", result.LifetimeEarned.String())

	account, err := store.GetAccount(ctx, "creator-1")
	require.NoError(t, err)
	assert.Equal(t, "12.50", account.Available.String())
	assert.Equal(t, "12.50", account.LifetimeEarned.String())
	require.NoError(t, account.Check())

	assert.Len(t, obs.postings, 1)
}

func TestPostCommission_Replay(t *testing.T) {
	engine, store, obs := setupEngine(t)
	ctx := context.Background()
	ev := event("order-7", "creator-1", "1000.00", "0")

	first, err := engine.PostCommission(ctx, ev)
	require.NoError(t, err)
	before, err := store.GetAccount(ctx, "creator-1")
	require.NoError(t, err)

	second, err := engine.PostCommission(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyPosted, second.Status)
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, first.Available, second.Available)

	after, err := store.GetAccount(ctx, "creator-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, obs.postings, 1)

	t.Run("Success - replay with different payload returns original", func(t *testing.T) {
		third, err := engine.PostCommission(ctx, event("order-7", "creator-1", "5000.00", "5"))
		require.NoError(t, err)
		assert.Equal(t, StatusAlreadyPosted, third.Status)
		assert.Equal(t, "12.50", third.Total.String())
	})
}

func TestPostCommission_BonusSplit(t *testing.T) {
	engine, _, _ := setupEngine(t)

	result, err := engine.PostCommission(context.Background(), event("order-1", "creator-1", "1000.00", "5"))
	require.NoError(t, err)
	assert.Equal(t, "12.50", result.Base.String())
	assert.Equal(t, "50.00", result.Bonus.String())
	assert.Equal(t, "62.50", result.Total.String())
}

func TestPostCommission_TierUsesPriorLifetime(t *testing.T) {
	engine, _, _ := setupEngine(t)
	ctx := context.Background()

	// 999.00 earned: still Bronze.
	_, err := engine.PostCommission(ctx, event("big", "creator-1", "79920.00", "0"))
	require.NoError(t, err)

	// This event pushes lifetime over 1000.00 but is still paid at Bronze.
	crossing, err := engine.PostCommission(ctx, event("crossing", "creator-1", "100.00", "0"))
	require.NoError(t, err)
	assert.Equal(t, "Bronze", crossing.Tier)
	assert.Equal(t, "1.25", crossing.Base.String())
	assert.Equal(t, "1000.25", crossing.LifetimeEarned.String())

	next, err := engine.PostCommission(ctx, event("next", "creator-1", "100.00", "0"))
	require.NoError(t, err)
	assert.Equal(t, "Silver", next.Tier)
	assert.Equal(t, "1.50", next.Base.String())
}

func TestPostCommission_Validation(t *testing.T) {
	engine, store, _ := setupEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		ev   Event
		code string
	}{
		{name: "negative amount", ev: Event{EventID: "e", CreatorID: "c", QualifyingAmount: money.FromCents(-1)}, code: domain.ErrCodeInvalidAmount},
		{name: "bonus above bound", ev: event("e", "c", "10", "5.01"), code: domain.ErrCodeInvalidBonusRate},
		{name: "negative bonus", ev: event("e", "c", "10", "-1"), code: domain.ErrCodeInvalidBonusRate},
		{name: "missing event id", ev: event(" ", "c", "10", "0"), code: domain.ErrCodeValidation},
		{name: "missing creator", ev: event("e", "", "10", "0"), code: domain.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.PostCommission(ctx, tt.ev)
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.GetErrorCode(err))
			assert.True(t, domain.IsValidation(err))
		})
	}

	_, err := store.GetAccount(ctx, "c")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestPostCommission_ZeroAmountCreatesAccount(t *testing.T) {
	engine, store, _ := setupEngine(t)
	ctx := context.Background()

	result, err := engine.PostCommission(ctx, event("free-sample", "creator-9", "0", "0"))
	require.NoError(t, err)
	assert.True(t, result.Total.IsZero())

	account, err := store.GetAccount(ctx, "creator-9")
	require.NoError(t, err)
	assert.False(t, account.IsNew())
}

func TestPostCommission_ConcurrentDuplicates(t *testing.T) {
	engine, _, obs := setupEngine(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*Result
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Same event id under different creators: only one may credit.
			r, err := engine.PostCommission(ctx, event("order-shared", fmt.Sprintf("creator-%d", i%4), "100.00", "0"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	posted := 0
	for _, r := range results {
		if r.Status == StatusPosted {
			posted++
		}
	}
	assert.Equal(t, 1, posted)
	assert.Len(t, results, 20)
	assert.Len(t, obs.postings, 1)
}

func TestPostCommission_Contended(t *testing.T) {
	store := memory.New(memory.WithLockTimeout(10 * time.Millisecond))
	engine := NewEngine(store, tier.DefaultCommissionTable(), DefaultMaxBonusRatePercent, nil, logger.Nop())

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.InTx(context.Background(), "creator-1", func(ctx context.Context, tx ledger.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err := engine.PostCommission(context.Background(), event("e1", "creator-1", "10", "0"))
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeContended))
	assert.True(t, domain.IsRetryable(err))
}

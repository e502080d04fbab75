package sqlstore

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jordanlanch/creatorledger/pkg/commission"
	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/logger"
	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/jordanlanch/creatorledger/pkg/payout"
	"github.com/jordanlanch/creatorledger/pkg/tier"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:ledger-%s?mode=memory&cache=shared&_fk=1", uuid.NewString())
	db, err := stdsql.Open("sqlite3", dsn)
	require.NoError(t, err)
	// One connection keeps the shared in-memory database alive and
	// serializes writers the way sqlite requires.
	db.SetMaxOpenConns(1)

	drv := sql.OpenDB(dialect.SQLite, db)
	require.NoError(t, Migrate(context.Background(), drv))
	t.Cleanup(func() { drv.Close() })

	return New(drv, opts...)
}

var bank = ledger.Destination{
	Method:            ledger.MethodBankTransfer,
	AccountHolderName: "Ana Lima",
	BankName:          "First Community Bank",
	AccountNumber:     "000123456789",
	ContactEmail:      "ana@example.com",
}

func TestCommissionPosting(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	engine := commission.NewEngine(store, tier.DefaultCommissionTable(), commission.DefaultMaxBonusRatePercent, nil, logger.Nop())

	first, err := engine.PostCommission(ctx, commission.Event{
		EventID: "order-1", CreatorID: "c1", QualifyingAmount: money.MustParse("1000.00"),
		BonusRatePercent: decimal.RequireFromString("2.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, commission.StatusPosted, first.Status)
	assert.Equal(t, "37.50", first.Total.String())

	replay, err := engine.PostCommission(ctx, commission.Event{
		EventID: "order-1", CreatorID: "c1", QualifyingAmount: money.MustParse("1000.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, commission.StatusAlreadyPosted, replay.Status)
	assert.Equal(t, "37.50", replay.Total.String())
	assert.Equal(t, "Bronze", replay.Tier)
	assert.True(t, decimal.RequireFromString("1.25").Equal(replay.TierRatePercent))

	account, err := store.GetAccount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "37.50", account.Available.String())
	assert.Equal(t, "37.50", account.LifetimeEarned.String())
	assert.Equal(t, int64(1), account.Version)
	require.NoError(t, account.Check())

	postings, err := store.ListPostings(ctx, "c1", time.Time{})
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, "12.50", postings[0].Base.String())
	assert.Equal(t, "25.00", postings[0].Bonus.String())
	assert.Equal(t, "Bronze", postings[0].TierName)
	assert.True(t, decimal.RequireFromString("2.5").Equal(postings[0].BonusRatePercent))

	totals, err := store.PostingTotals(ctx, "c1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "12.50", totals.Base.String())
	assert.Equal(t, "25.00", totals.Bonus.String())
	assert.Equal(t, "1000.00", totals.Qualifying.String())

	totals, err = store.PostingTotals(ctx, "c1", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "12.50", totals.Base.String())
	assert.True(t, totals.Qualifying.IsZero())

	totals, err = store.PostingTotals(ctx, "nobody", time.Time{})
	require.NoError(t, err)
	assert.True(t, totals.Base.IsZero())
	assert.True(t, totals.Bonus.IsZero())
}

func TestPayoutLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	engine := commission.NewEngine(store, tier.DefaultCommissionTable(), commission.DefaultMaxBonusRatePercent, nil, logger.Nop())
	service := payout.NewService(store, payout.DefaultMinimumPayout, nil, nil, logger.Nop())

	_, err := engine.PostCommission(ctx, commission.Event{EventID: "seed", CreatorID: "c1", QualifyingAmount: money.MustParse("48000.00")})
	require.NoError(t, err)

	t.Run("Success - submit locks funds", func(t *testing.T) {
		req, err := service.Submit(ctx, payout.SubmitInput{CreatorID: "c1", Amount: money.MustParse("500.00"), Destination: bank, IdempotencyKey: "k1"})
		require.NoError(t, err)

		account, err := store.GetAccount(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "100.00", account.Available.String())
		assert.Equal(t, "500.00", account.Pending.String())

		stored, err := store.GetPayoutRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, bank, stored.Destination)
		assert.Equal(t, "k1", stored.IdempotencyKey)
		assert.Nil(t, stored.DecidedAt)

		again, err := service.Submit(ctx, payout.SubmitInput{CreatorID: "c1", Amount: money.MustParse("500.00"), Destination: bank, IdempotencyKey: "k1"})
		require.NoError(t, err)
		assert.Equal(t, req.ID, again.ID)

		_, err = service.Submit(ctx, payout.SubmitInput{CreatorID: "c1", Amount: money.MustParse("500.00"), Destination: bank})
		assert.Equal(t, domain.ErrCodeRequestAlreadyOpen, domain.GetErrorCode(err))

		rejected, err := service.Decide(ctx, payout.DecideInput{RequestID: req.ID, OperatorID: "ops", Decision: payout.DecisionReject, ReasonOrReference: "invalid account"})
		require.NoError(t, err)
		assert.Equal(t, ledger.StateRejected, rejected.State)

		account, err = store.GetAccount(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "600.00", account.Available.String())
		assert.True(t, account.Pending.IsZero())
	})

	t.Run("Success - approve and complete", func(t *testing.T) {
		req, err := service.Submit(ctx, payout.SubmitInput{CreatorID: "c1", Amount: money.MustParse("500.00"), Destination: bank})
		require.NoError(t, err)

		_, err = service.Decide(ctx, payout.DecideInput{RequestID: req.ID, OperatorID: "ops", Decision: payout.DecisionApprove})
		require.NoError(t, err)
		done, err := service.Decide(ctx, payout.DecideInput{RequestID: req.ID, OperatorID: "ops", Decision: payout.DecisionComplete, ReasonOrReference: "TXN1"})
		require.NoError(t, err)
		assert.Equal(t, ledger.StateCompleted, done.State)

		stored, err := store.GetPayoutRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, "TXN1", stored.SettlementReference)
		require.NotNil(t, stored.CompletedAt)
		require.NotNil(t, stored.DecidedAt)

		account, err := store.GetAccount(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "100.00", account.Available.String())
		assert.Equal(t, "500.00", account.LifetimeWithdrawn.String())
		require.NoError(t, account.Check())

		_, err = service.Decide(ctx, payout.DecideInput{RequestID: req.ID, OperatorID: "ops", Decision: payout.DecisionFail, ReasonOrReference: "late"})
		assert.Equal(t, domain.ErrCodeInvalidStateTransition, domain.GetErrorCode(err))
	})

	t.Run("Success - listings", func(t *testing.T) {
		all, err := store.ListPayoutRequestsByCreator(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, ledger.StateRejected, all[0].State)
		assert.Equal(t, ledger.StateCompleted, all[1].State)

		open, err := store.ListPayoutRequestsByState(ctx, ledger.OpenStates...)
		require.NoError(t, err)
		assert.Empty(t, open)

		completed, err := store.ListPayoutRequestsByState(ctx, ledger.StateCompleted)
		require.NoError(t, err)
		assert.Len(t, completed, 1)

		since, err := store.ListPayoutRequestsCompletedSince(ctx, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, since, 1)
		assert.Equal(t, ledger.StateCompleted, since[0].State)

		since, err = store.ListPayoutRequestsCompletedSince(ctx, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, since)
	})
}

func TestInTx_RetriesConflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - conflict is retried", func(t *testing.T) {
		store := setupTestStore(t, WithRetryBackoff(time.Millisecond))
		attempts := 0
		err := store.InTx(ctx, "c1", func(ctx context.Context, tx ledger.Tx) error {
			attempts++
			account, err := tx.Account(ctx)
			if err != nil {
				return err
			}
			if attempts == 1 {
				// Pretend another writer created the account first.
				account.Version = 7
			}
			require.NoError(t, account.Credit(money.MustParse("1.00")))
			return tx.SaveAccount(ctx, account)
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)

		account, err := store.GetAccount(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "1.00", account.Available.String())
	})

	t.Run("Failure - persistent conflict surfaces as contended", func(t *testing.T) {
		store := setupTestStore(t, WithMaxRetries(2), WithRetryBackoff(time.Millisecond))
		require.NoError(t, store.InTx(ctx, "c1", func(ctx context.Context, tx ledger.Tx) error {
			account, err := tx.Account(ctx)
			if err != nil {
				return err
			}
			return tx.SaveAccount(ctx, account)
		}))

		attempts := 0
		err := store.InTx(ctx, "c1", func(ctx context.Context, tx ledger.Tx) error {
			attempts++
			account, err := tx.Account(ctx)
			if err != nil {
				return err
			}
			account.Version = 99
			return tx.SaveAccount(ctx, account)
		})
		require.Error(t, err)
		assert.True(t, domain.HasCode(err, domain.ErrCodeContended))
		assert.True(t, domain.IsRetryable(err))
		assert.Equal(t, 3, attempts)
	})

	t.Run("Failure - domain errors roll back without retry", func(t *testing.T) {
		store := setupTestStore(t)
		attempts := 0
		err := store.InTx(ctx, "c1", func(ctx context.Context, tx ledger.Tx) error {
			attempts++
			account, err := tx.Account(ctx)
			if err != nil {
				return err
			}
			require.NoError(t, account.Credit(money.MustParse("5.00")))
			require.NoError(t, tx.SaveAccount(ctx, account))
			return domain.NewInvalidAmountError("nope")
		})
		assert.True(t, domain.HasCode(err, domain.ErrCodeInvalidAmount))
		assert.Equal(t, 1, attempts)

		_, err = store.GetAccount(ctx, "c1")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestStaleRequestUpdate(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, WithMaxRetries(0))
	now := time.Now().UTC()

	require.NoError(t, store.InTx(ctx, "c1", func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertPayoutRequest(ctx, &ledger.PayoutRequest{
			ID: "r1", CreatorID: "c1", Amount: money.MustParse("500"), Destination: bank,
			State: ledger.StatePending, RequestedAt: now, UpdatedAt: now,
		})
	}))

	t.Run("Failure - update without read", func(t *testing.T) {
		err := store.InTx(ctx, "c1", func(ctx context.Context, tx ledger.Tx) error {
			return tx.UpdatePayoutRequest(ctx, &ledger.PayoutRequest{ID: "r1", CreatorID: "c1", State: ledger.StateApproved})
		})
		assert.Error(t, err)
	})

	t.Run("Failure - request moved by another writer", func(t *testing.T) {
		err := store.InTx(ctx, "c1", func(ctx context.Context, tx ledger.Tx) error {
			r, err := tx.PayoutRequest(ctx, "r1")
			if err != nil {
				return err
			}
			r.State = ledger.StateApproved
			if err := tx.UpdatePayoutRequest(ctx, r); err != nil {
				return err
			}
			// Second update still expects the original state.
			r.State = ledger.StateRejected
			tx.(*sqlTx).loaded[r.ID] = ledger.StatePending
			return tx.UpdatePayoutRequest(ctx, r)
		})
		assert.True(t, domain.HasCode(err, domain.ErrCodeContended))

		stored, err := store.GetPayoutRequest(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatePending, stored.State)
	})
}

func TestConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	engine := commission.NewEngine(store, tier.DefaultCommissionTable(), commission.DefaultMaxBonusRatePercent, nil, logger.Nop())
	service := payout.NewService(store, payout.DefaultMinimumPayout, nil, nil, logger.Nop())

	_, err := engine.PostCommission(ctx, commission.Event{EventID: "seed", CreatorID: "c1", QualifyingAmount: money.MustParse("48000.00")})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Submit(ctx, payout.SubmitInput{CreatorID: "c1", Amount: money.MustParse("500.00"), Destination: bank})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	account, err := store.GetAccount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", account.Available.String())
	assert.Equal(t, "500.00", account.Pending.String())
}

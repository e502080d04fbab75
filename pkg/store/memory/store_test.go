package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func credit(t *testing.T, s *Store, creatorID, eventID, amount string) error {
	t.Helper()
	return s.InTx(context.Background(), creatorID, func(ctx context.Context, tx ledger.Tx) error {
		account, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		if err := account.Credit(money.MustParse(amount)); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, account); err != nil {
			return err
		}
		return tx.InsertPosting(ctx, &ledger.Posting{
			EventID:   eventID,
			CreatorID: creatorID,
			Total:     money.MustParse(amount),
			PostedAt:  time.Now().UTC(),
		})
	})
}

func TestInTx_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := New()

	t.Run("Success - writes are visible after commit", func(t *testing.T) {
		require.NoError(t, credit(t, s, "c1", "e1", "12.50"))

		account, err := s.GetAccount(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "12.50", account.Available.String())
		assert.Equal(t, int64(1), account.Version)

		posting, err := s.GetPosting(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "c1", posting.CreatorID)
	})

	t.Run("Failure - error discards every write", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.InTx(ctx, "c1", func(ctx context.Context, tx ledger.Tx) error {
			account, err := tx.Account(ctx)
			require.NoError(t, err)
			require.NoError(t, account.Credit(money.MustParse("100")))
			require.NoError(t, tx.SaveAccount(ctx, account))
			require.NoError(t, tx.InsertPosting(ctx, &ledger.Posting{EventID: "e2", CreatorID: "c1"}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		account, err := s.GetAccount(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "12.50", account.Available.String())
		_, err = s.GetPosting(ctx, "e2")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("Failure - event already committed", func(t *testing.T) {
		err := credit(t, s, "c1", "e1", "1.00")
		assert.ErrorIs(t, err, ledger.ErrDuplicateEvent)
	})

	t.Run("Failure - duplicate event from another creator", func(t *testing.T) {
		err := credit(t, s, "c2", "e1", "1.00")
		assert.ErrorIs(t, err, ledger.ErrDuplicateEvent)

		_, err = s.GetAccount(ctx, "c2")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestInTx_Contended(t *testing.T) {
	s := New(WithLockTimeout(20 * time.Millisecond))

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.InTx(context.Background(), "busy", func(ctx context.Context, tx ledger.Tx) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := s.InTx(context.Background(), "busy", func(ctx context.Context, tx ledger.Tx) error {
		t.Fatal("must not run while the lock is held")
		return nil
	})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeContended))
	assert.True(t, domain.IsRetryable(err))

	// Other creators are not blocked.
	require.NoError(t, credit(t, s, "free", "f1", "1.00"))

	close(done)
}

func TestInTx_SerializesSameCreator(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, credit(t, s, "c1", fmt.Sprintf("event-%d", i), "1.00"))
		}(i)
	}
	wg.Wait()

	account, err := s.GetAccount(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "50.00", account.Available.String())
	assert.Equal(t, int64(50), account.Version)
	assert.Equal(t, 0, s.locks.size())
}

func TestPayoutRequests(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	insert := func(id string, state ledger.State, at time.Time, key string) error {
		return s.InTx(ctx, "c1", func(ctx context.Context, tx ledger.Tx) error {
			return tx.InsertPayoutRequest(ctx, &ledger.PayoutRequest{
				ID: id, CreatorID: "c1", State: state, RequestedAt: at, IdempotencyKey: key,
				Amount: money.MustParse("500"),
			})
		})
	}

	require.NoError(t, insert("r2", ledger.StateRejected, base.Add(time.Hour), ""))
	require.NoError(t, insert("r1", ledger.StatePending, base, "key-1"))

	t.Run("Failure - second open request", func(t *testing.T) {
		err := insert("r3", ledger.StatePending, base.Add(2*time.Hour), "")
		assert.ErrorIs(t, err, ledger.ErrOpenRequestExists)
	})

	t.Run("Success - lookups inside a unit of work", func(t *testing.T) {
		err := s.InTx(ctx, "c1", func(ctx context.Context, tx ledger.Tx) error {
			open, err := tx.OpenPayoutRequest(ctx)
			require.NoError(t, err)
			assert.Equal(t, "r1", open.ID)

			byKey, err := tx.PayoutRequestByIdempotencyKey(ctx, "key-1")
			require.NoError(t, err)
			assert.Equal(t, "r1", byKey.ID)

			open.State = ledger.StateApproved
			require.NoError(t, tx.UpdatePayoutRequest(ctx, open))

			staged, err := tx.PayoutRequest(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, ledger.StateApproved, staged.State)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Success - listings are ordered by requested time", func(t *testing.T) {
		all, err := s.ListPayoutRequestsByCreator(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "r1", all[0].ID)
		assert.Equal(t, "r2", all[1].ID)

		open, err := s.ListPayoutRequestsByState(ctx, ledger.OpenStates...)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, ledger.StateApproved, open[0].State)
	})

	t.Run("Success - returned requests are copies", func(t *testing.T) {
		r, err := s.GetPayoutRequest(ctx, "r1")
		require.NoError(t, err)
		r.State = ledger.StateCompleted

		again, err := s.GetPayoutRequest(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, ledger.StateApproved, again.State)
	})
}

func TestListPostings(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, credit(t, s, "c1", "a", "1.00"))
	require.NoError(t, credit(t, s, "c1", "b", "2.00"))
	require.NoError(t, credit(t, s, "c2", "c", "3.00"))

	postings, err := s.ListPostings(ctx, "c1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, postings, 2)

	postings, err = s.ListPostings(ctx, "c1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, postings)
}

func TestPostingTotals(t *testing.T) {
	ctx := context.Background()
	s := New()
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	insert := func(eventID, creatorID string, postedAt time.Time, base, bonus, qualifying string) {
		err := s.InTx(ctx, creatorID, func(ctx context.Context, tx ledger.Tx) error {
			return tx.InsertPosting(ctx, &ledger.Posting{
				EventID:          eventID,
				CreatorID:        creatorID,
				QualifyingAmount: money.MustParse(qualifying),
				Base:             money.MustParse(base),
				Bonus:            money.MustParse(bonus),
				PostedAt:         postedAt,
			})
		})
		require.NoError(t, err)
	}
	insert("april", "c1", start.Add(-time.Minute), "10.00", "1.00", "800.00")
	insert("may", "c1", start, "2.00", "0.50", "160.00")
	insert("other", "c2", start, "99.00", "0", "1.00")

	totals, err := s.PostingTotals(ctx, "c1", start)
	require.NoError(t, err)
	assert.Equal(t, "12.00", totals.Base.String())
	assert.Equal(t, "1.50", totals.Bonus.String())
	assert.Equal(t, "160.00", totals.Qualifying.String())
}

func TestListPayoutRequestsCompletedSince(t *testing.T) {
	ctx := context.Background()
	s := New()
	day := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)

	insert := func(id, creatorID string, state ledger.State, completedAt *time.Time) {
		err := s.InTx(ctx, creatorID, func(ctx context.Context, tx ledger.Tx) error {
			return tx.InsertPayoutRequest(ctx, &ledger.PayoutRequest{
				ID:          id,
				CreatorID:   creatorID,
				Amount:      money.MustParse("500.00"),
				State:       state,
				RequestedAt: day.Add(-48 * time.Hour),
				CompletedAt: completedAt,
			})
		})
		require.NoError(t, err)
	}
	before := day.Add(-time.Second)
	insert("old", "c1", ledger.StateCompleted, &before)
	insert("today", "c2", ledger.StateCompleted, &day)
	insert("failed", "c3", ledger.StateFailed, &day)

	got, err := s.ListPayoutRequestsCompletedSince(ctx, day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "today", got[0].ID)
}

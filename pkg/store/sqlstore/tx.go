package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
)

// sqlTx is one attempt of a unit of work for a single creator.
type sqlTx struct {
	store     *Store
	tx        dialect.Tx
	creatorID string
	// loaded remembers the state each request was read in, so updates
	// only apply if nobody moved it meanwhile.
	loaded map[string]ledger.State
}

func (t *sqlTx) fail(err error) error {
	return t.store.classify(t.creatorID, err)
}

func (t *sqlTx) Account(ctx context.Context) (*ledger.Account, error) {
	a, err := t.store.account(ctx, t.tx, t.creatorID)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.NewAccount(t.creatorID, time.Now().UTC()), nil
	}
	if err != nil {
		return nil, t.fail(err)
	}
	return a, nil
}

func (t *sqlTx) SaveAccount(ctx context.Context, a *ledger.Account) error {
	if a.CreatorID != t.creatorID {
		return fmt.Errorf("account %s saved in unit of work for %s", a.CreatorID, t.creatorID)
	}

	if a.IsNew() {
		query, args := t.store.builder().Insert(accountsTable).
			Columns(accountFields...).
			Values(a.CreatorID, a.Available.Cents(), a.Pending.Cents(), a.LifetimeEarned.Cents(),
				a.LifetimeWithdrawn.Cents(), int64(1), a.CreatedAt, a.UpdatedAt).
			Query()
		if _, err := exec(ctx, t.tx, query, args); err != nil {
			if isUnique(err) {
				return errVersionConflict
			}
			return t.fail(err)
		}
		a.Version = 1
		return nil
	}

	query, args := t.store.builder().Update(accountsTable).
		Set("available", a.Available.Cents()).
		Set("pending", a.Pending.Cents()).
		Set("lifetime_earned", a.LifetimeEarned.Cents()).
		Set("lifetime_withdrawn", a.LifetimeWithdrawn.Cents()).
		Set("version", a.Version+1).
		Set("updated_at", a.UpdatedAt).
		Where(sql.And(sql.EQ("creator_id", a.CreatorID), sql.EQ("version", a.Version))).
		Query()
	n, err := exec(ctx, t.tx, query, args)
	if err != nil {
		return t.fail(err)
	}
	if n == 0 {
		return errVersionConflict
	}
	a.Version++
	return nil
}

func (t *sqlTx) Posting(ctx context.Context, eventID string) (*ledger.Posting, error) {
	p, err := t.store.posting(ctx, t.tx, eventID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, t.fail(err)
	}
	return p, err
}

func (t *sqlTx) InsertPosting(ctx context.Context, p *ledger.Posting) error {
	query, args := t.store.builder().Insert(postingsTable).
		Columns(postingFields...).
		Values(postingValues(p)...).
		Query()
	if _, err := exec(ctx, t.tx, query, args); err != nil {
		if isUnique(err) {
			return fmt.Errorf("event %s: %w", p.EventID, ledger.ErrDuplicateEvent)
		}
		return t.fail(err)
	}
	return nil
}

func (t *sqlTx) remember(r *ledger.PayoutRequest, err error) (*ledger.PayoutRequest, error) {
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		return nil, t.fail(err)
	}
	t.loaded[r.ID] = r.State
	return r, nil
}

func (t *sqlTx) PayoutRequest(ctx context.Context, id string) (*ledger.PayoutRequest, error) {
	return t.remember(t.store.firstRequest(ctx, t.tx, sql.EQ("id", id)))
}

func (t *sqlTx) OpenPayoutRequest(ctx context.Context) (*ledger.PayoutRequest, error) {
	return t.remember(t.store.firstRequest(ctx, t.tx, sql.And(
		sql.EQ("creator_id", t.creatorID),
		sql.In("state", stateArgs(ledger.OpenStates)...),
	)))
}

func (t *sqlTx) PayoutRequestByIdempotencyKey(ctx context.Context, key string) (*ledger.PayoutRequest, error) {
	if key == "" {
		return nil, ledger.ErrNotFound
	}
	return t.remember(t.store.firstRequest(ctx, t.tx, sql.And(
		sql.EQ("creator_id", t.creatorID),
		sql.EQ("idempotency_key", key),
	)))
}

func (t *sqlTx) InsertPayoutRequest(ctx context.Context, r *ledger.PayoutRequest) error {
	if r.CreatorID != t.creatorID {
		return fmt.Errorf("request for %s inserted in unit of work for %s", r.CreatorID, t.creatorID)
	}
	if r.State.IsOpen() {
		if _, err := t.OpenPayoutRequest(ctx); err == nil {
			return ledger.ErrOpenRequestExists
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
	}

	values, err := requestValues(r)
	if err != nil {
		return err
	}
	query, args := t.store.builder().Insert(requestsTable).
		Columns(requestFields...).
		Values(values...).
		Query()
	if _, err := exec(ctx, t.tx, query, args); err != nil {
		// A concurrent submit with the same idempotency key won the race.
		if isUnique(err) {
			return errVersionConflict
		}
		return t.fail(err)
	}
	t.loaded[r.ID] = r.State
	return nil
}

func (t *sqlTx) UpdatePayoutRequest(ctx context.Context, r *ledger.PayoutRequest) error {
	from, ok := t.loaded[r.ID]
	if !ok {
		return fmt.Errorf("payout request %s was not read in this unit of work", r.ID)
	}

	query, args := t.store.builder().Update(requestsTable).
		Set("state", string(r.State)).
		Set("operator_id", r.OperatorID).
		Set("rejection_reason", r.RejectionReason).
		Set("failure_reason", r.FailureReason).
		Set("settlement_reference", r.SettlementReference).
		Set("decided_at", nullTime(r.DecidedAt)).
		Set("completed_at", nullTime(r.CompletedAt)).
		Set("updated_at", r.UpdatedAt).
		Where(sql.And(
			sql.EQ("id", r.ID),
			sql.EQ("creator_id", t.creatorID),
			sql.EQ("state", string(from)),
		)).
		Query()
	n, err := exec(ctx, t.tx, query, args)
	if err != nil {
		return t.fail(err)
	}
	if n == 0 {
		return errVersionConflict
	}
	t.loaded[r.ID] = r.State
	return nil
}

// Package sqlstore keeps the ledger in a SQL database through ent's dialect
// driver. Writers use optimistic concurrency: the account row carries a
// version and payout requests are updated only from the state they were
// read in. Conflicting units of work are retried a bounded number of times.
package sqlstore

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"
	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DefaultMaxRetries   = 5
	DefaultRetryBackoff = 10 * time.Millisecond
	DefaultTxTimeout    = 5 * time.Second
)

var errVersionConflict = errors.New("sqlstore: concurrent update")

// Store implements ledger.Store on postgres or sqlite.
type Store struct {
	drv        *sql.Driver
	dialect    string
	maxRetries int
	backoff    time.Duration
	txTimeout  time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries bounds how often a conflicting unit of work is retried.
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// WithRetryBackoff sets the base delay between retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Store) { s.backoff = d }
}

// WithTxTimeout bounds a single attempt, including the wait for a connection.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) { s.txTimeout = d }
}

// New wraps an ent SQL driver. The schema must already be migrated.
func New(drv *sql.Driver, opts ...Option) *Store {
	s := &Store{
		drv:        drv,
		dialect:    drv.Dialect(),
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
		txTimeout:  DefaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InTx runs fn in a database transaction and retries it on write conflicts.
func (s *Store) InTx(ctx context.Context, creatorID string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.NewContendedError(creatorID, ctx.Err())
			case <-time.After(s.backoff * time.Duration(attempt)):
			}
		}

		err := s.runTx(ctx, creatorID, fn)
		if !errors.Is(err, errVersionConflict) {
			return err
		}
		lastErr = err
	}
	return domain.NewContendedError(creatorID, lastErr)
}

func (s *Store) runTx(ctx context.Context, creatorID string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return s.classify(creatorID, err)
	}

	t := &sqlTx{
		store:     s,
		tx:        tx,
		creatorID: creatorID,
		loaded:    make(map[string]ledger.State),
	}
	if err := fn(ctx, t); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.classify(creatorID, err)
	}
	return nil
}

// classify maps driver errors to retryable conflicts or infrastructure errors.
func (s *Store) classify(creatorID string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errVersionConflict), errors.Is(err, ledger.ErrDuplicateEvent):
		return err
	case isSerializationFailure(err):
		return errVersionConflict
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewContendedError(creatorID, err)
	}
	return domain.NewStorageError(err)
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUnique(err error) bool {
	return err != nil && sqlgraph.IsUniqueConstraintError(err)
}

func (s *Store) builder() *sql.DialectBuilder {
	return sql.Dialect(s.dialect)
}

func (s *Store) query(ctx context.Context, q dialect.ExecQuerier, sel *sql.Selector, scan func(*sql.Rows) error) error {
	query, args := sel.Query()
	rows := &sql.Rows{}
	if err := q.Query(ctx, query, args, rows); err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func exec(ctx context.Context, q dialect.ExecQuerier, query string, args []any) (int64, error) {
	var res stdsql.Result
	if err := q.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetAccount returns a stored account.
func (s *Store) GetAccount(ctx context.Context, creatorID string) (*ledger.Account, error) {
	account, err := s.account(ctx, s.drv, creatorID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, s.classify(creatorID, err)
	}
	return account, err
}

func (s *Store) account(ctx context.Context, q dialect.ExecQuerier, creatorID string) (*ledger.Account, error) {
	sel := s.builder().Select(accountFields...).
		From(sql.Table(accountsTable)).
		Where(sql.EQ("creator_id", creatorID))

	var found *ledger.Account
	err := s.query(ctx, q, sel, func(rows *sql.Rows) error {
		a, err := scanAccount(rows)
		found = a
		return err
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ledger.ErrNotFound
	}
	return found, nil
}

// GetPosting returns the posting recorded for an event.
func (s *Store) GetPosting(ctx context.Context, eventID string) (*ledger.Posting, error) {
	p, err := s.posting(ctx, s.drv, eventID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, domain.NewStorageError(err)
	}
	return p, err
}

func (s *Store) posting(ctx context.Context, q dialect.ExecQuerier, eventID string) (*ledger.Posting, error) {
	sel := s.builder().Select(postingFields...).
		From(sql.Table(postingsTable)).
		Where(sql.EQ("event_id", eventID))

	var found *ledger.Posting
	err := s.query(ctx, q, sel, func(rows *sql.Rows) error {
		p, err := scanPosting(rows)
		found = p
		return err
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ledger.ErrNotFound
	}
	return found, nil
}

// ListPostings returns a creator's postings at or after since, oldest first.
func (s *Store) ListPostings(ctx context.Context, creatorID string, since time.Time) ([]*ledger.Posting, error) {
	sel := s.builder().Select(postingFields...).
		From(sql.Table(postingsTable)).
		Where(sql.And(sql.EQ("creator_id", creatorID), sql.GTE("posted_at", since))).
		OrderBy("posted_at", "event_id")

	out := make([]*ledger.Posting, 0)
	err := s.query(ctx, s.drv, sel, func(rows *sql.Rows) error {
		p, err := scanPosting(rows)
		if err == nil {
			out = append(out, p)
		}
		return err
	})
	if err != nil {
		return nil, domain.NewStorageError(err)
	}
	return out, nil
}

// PostingTotals sums a creator's postings in the database.
func (s *Store) PostingTotals(ctx context.Context, creatorID string, qualifyingSince time.Time) (*ledger.PostingTotals, error) {
	lifetime := s.builder().Select("COALESCE(SUM(base_amount), 0)", "COALESCE(SUM(bonus_amount), 0)").
		From(sql.Table(postingsTable)).
		Where(sql.EQ("creator_id", creatorID))
	var base, bonus int64
	if err := s.query(ctx, s.drv, lifetime, func(rows *sql.Rows) error {
		return rows.Scan(&base, &bonus)
	}); err != nil {
		return nil, domain.NewStorageError(err)
	}

	recent := s.builder().Select("COALESCE(SUM(qualifying_amount), 0)").
		From(sql.Table(postingsTable)).
		Where(sql.And(sql.EQ("creator_id", creatorID), sql.GTE("posted_at", qualifyingSince)))
	var qualifying int64
	if err := s.query(ctx, s.drv, recent, func(rows *sql.Rows) error {
		return rows.Scan(&qualifying)
	}); err != nil {
		return nil, domain.NewStorageError(err)
	}

	return &ledger.PostingTotals{
		Base:       money.FromCents(base),
		Bonus:      money.FromCents(bonus),
		Qualifying: money.FromCents(qualifying),
	}, nil
}

// GetPayoutRequest returns a request by id.
func (s *Store) GetPayoutRequest(ctx context.Context, id string) (*ledger.PayoutRequest, error) {
	r, err := s.firstRequest(ctx, s.drv, sql.EQ("id", id))
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, domain.NewStorageError(err)
	}
	return r, err
}

// ListPayoutRequestsByCreator returns a creator's requests, oldest first.
func (s *Store) ListPayoutRequestsByCreator(ctx context.Context, creatorID string) ([]*ledger.PayoutRequest, error) {
	out, err := s.requests(ctx, s.drv, sql.EQ("creator_id", creatorID))
	if err != nil {
		return nil, domain.NewStorageError(err)
	}
	return out, nil
}

// ListPayoutRequestsByState returns requests in any of the states, oldest first.
func (s *Store) ListPayoutRequestsByState(ctx context.Context, states ...ledger.State) ([]*ledger.PayoutRequest, error) {
	if len(states) == 0 {
		return []*ledger.PayoutRequest{}, nil
	}
	out, err := s.requests(ctx, s.drv, sql.In("state", stateArgs(states)...))
	if err != nil {
		return nil, domain.NewStorageError(err)
	}
	return out, nil
}

// ListPayoutRequestsCompletedSince returns requests completed at or after
// since, oldest first.
func (s *Store) ListPayoutRequestsCompletedSince(ctx context.Context, since time.Time) ([]*ledger.PayoutRequest, error) {
	out, err := s.requests(ctx, s.drv, sql.And(
		sql.EQ("state", string(ledger.StateCompleted)),
		sql.GTE("completed_at", since),
	))
	if err != nil {
		return nil, domain.NewStorageError(err)
	}
	return out, nil
}

func (s *Store) requests(ctx context.Context, q dialect.ExecQuerier, where *sql.Predicate) ([]*ledger.PayoutRequest, error) {
	sel := s.builder().Select(requestFields...).
		From(sql.Table(requestsTable)).
		Where(where).
		OrderBy("requested_at", "id")

	out := make([]*ledger.PayoutRequest, 0)
	err := s.query(ctx, q, sel, func(rows *sql.Rows) error {
		r, err := scanRequest(rows)
		if err == nil {
			out = append(out, r)
		}
		return err
	})
	return out, err
}

func (s *Store) firstRequest(ctx context.Context, q dialect.ExecQuerier, where *sql.Predicate) (*ledger.PayoutRequest, error) {
	found, err := s.requests(ctx, q, where)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ledger.ErrNotFound
	}
	return found[0], nil
}

func stateArgs(states []ledger.State) []any {
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	return args
}

// Package memory is an in-process ledger store. Units of work for the same
// creator are serialized by a per-creator semaphore.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
)

// DefaultLockTimeout bounds the wait for a creator's lock.
const DefaultLockTimeout = 5 * time.Second

// Store keeps the ledger in maps.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*ledger.Account
	postings map[string]*ledger.Posting
	requests map[string]*ledger.PayoutRequest

	locks       *keyedLocks
	lockTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout sets how long InTx waits for a busy creator.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		accounts:    make(map[string]*ledger.Account),
		postings:    make(map[string]*ledger.Posting),
		requests:    make(map[string]*ledger.PayoutRequest),
		locks:       newKeyedLocks(),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InTx runs fn under the creator's lock and applies its writes if fn succeeds.
func (s *Store) InTx(ctx context.Context, creatorID string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	unlock, err := s.locks.acquire(ctx, creatorID, s.lockTimeout)
	if err != nil {
		return domain.NewContendedError(creatorID, err)
	}
	defer unlock()

	t := &tx{
		store:     s,
		creatorID: creatorID,
		requests:  make(map[string]*ledger.PayoutRequest),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Postings are unique across creators, which hold different locks.
	for _, p := range t.postings {
		if _, exists := s.postings[p.EventID]; exists {
			return fmt.Errorf("event %s: %w", p.EventID, ledger.ErrDuplicateEvent)
		}
	}

	if t.account != nil {
		s.accounts[t.creatorID] = t.account
	}
	for _, p := range t.postings {
		s.postings[p.EventID] = p
	}
	for id, r := range t.requests {
		s.requests[id] = r
	}
	return nil
}

// GetAccount returns a stored account.
func (s *Store) GetAccount(ctx context.Context, creatorID string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[creatorID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return a.Clone(), nil
}

// GetPosting returns the posting recorded for an event.
func (s *Store) GetPosting(ctx context.Context, eventID string) (*ledger.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.postings[eventID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	c := *p
	return &c, nil
}

// GetPayoutRequest returns a request by id.
func (s *Store) GetPayoutRequest(ctx context.Context, id string) (*ledger.PayoutRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return r.Clone(), nil
}

// ListPayoutRequestsByCreator returns a creator's requests, oldest first.
func (s *Store) ListPayoutRequestsByCreator(ctx context.Context, creatorID string) ([]*ledger.PayoutRequest, error) {
	return s.filterRequests(func(r *ledger.PayoutRequest) bool {
		return r.CreatorID == creatorID
	}), nil
}

// ListPayoutRequestsByState returns requests in any of the states, oldest first.
func (s *Store) ListPayoutRequestsByState(ctx context.Context, states ...ledger.State) ([]*ledger.PayoutRequest, error) {
	wanted := make(map[ledger.State]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}
	return s.filterRequests(func(r *ledger.PayoutRequest) bool {
		return wanted[r.State]
	}), nil
}

// ListPayoutRequestsCompletedSince returns requests completed at or after
// since, oldest first.
func (s *Store) ListPayoutRequestsCompletedSince(ctx context.Context, since time.Time) ([]*ledger.PayoutRequest, error) {
	return s.filterRequests(func(r *ledger.PayoutRequest) bool {
		return r.State == ledger.StateCompleted && r.CompletedAt != nil && !r.CompletedAt.Before(since)
	}), nil
}

func (s *Store) filterRequests(match func(*ledger.PayoutRequest) bool) []*ledger.PayoutRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ledger.PayoutRequest, 0)
	for _, r := range s.requests {
		if match(r) {
			out = append(out, r.Clone())
		}
	}
	ledger.SortPayoutRequests(out)
	return out
}

// ListPostings returns a creator's postings at or after since, oldest first.
func (s *Store) ListPostings(ctx context.Context, creatorID string, since time.Time) ([]*ledger.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ledger.Posting, 0)
	for _, p := range s.postings {
		if p.CreatorID == creatorID && !p.PostedAt.Before(since) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].PostedAt.Before(out[j].PostedAt)
		}
		return out[i].EventID < out[j].EventID
	})
	return out, nil
}

// PostingTotals sums a creator's postings.
func (s *Store) PostingTotals(ctx context.Context, creatorID string, qualifyingSince time.Time) (*ledger.PostingTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		totals ledger.PostingTotals
		err    error
	)
	for _, p := range s.postings {
		if p.CreatorID != creatorID {
			continue
		}
		if totals.Base, err = totals.Base.Add(p.Base); err != nil {
			return nil, err
		}
		if totals.Bonus, err = totals.Bonus.Add(p.Bonus); err != nil {
			return nil, err
		}
		if !p.PostedAt.Before(qualifyingSince) {
			if totals.Qualifying, err = totals.Qualifying.Add(p.QualifyingAmount); err != nil {
				return nil, err
			}
		}
	}
	return &totals, nil
}

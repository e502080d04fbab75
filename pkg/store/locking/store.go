// Package locking serializes writers per creator across processes by
// taking a distributed lock around each unit of work.
package locking

import (
	"context"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
)

// DefaultWait is how long a writer waits for a creator's lock.
const DefaultWait = 3 * time.Second

// Locker acquires a named lock, waiting at most wait.
type Locker interface {
	Acquire(ctx context.Context, name string, wait time.Duration) (release func(), err error)
}

// Store decorates a ledger.Store so units of work for the same creator never
// overlap. Reads pass through.
type Store struct {
	ledger.Store
	locker Locker
	wait   time.Duration
}

// New wraps store. wait <= 0 uses DefaultWait.
func New(store ledger.Store, locker Locker, wait time.Duration) *Store {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Store{Store: store, locker: locker, wait: wait}
}

func (s *Store) InTx(ctx context.Context, creatorID string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	release, err := s.locker.Acquire(ctx, "creator:"+creatorID, s.wait)
	if err != nil {
		return domain.NewContendedError(creatorID, err)
	}
	defer release()

	return s.Store.InTx(ctx, creatorID, fn)
}

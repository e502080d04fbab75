package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/ledger"
)

// tx stages writes for one creator until commit.
type tx struct {
	store     *Store
	creatorID string

	account  *ledger.Account
	postings []*ledger.Posting
	requests map[string]*ledger.PayoutRequest
}

func (t *tx) Account(ctx context.Context) (*ledger.Account, error) {
	if t.account != nil {
		return t.account.Clone(), nil
	}

	a, err := t.store.GetAccount(ctx, t.creatorID)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.NewAccount(t.creatorID, time.Now().UTC()), nil
	}
	return a, err
}

func (t *tx) SaveAccount(ctx context.Context, account *ledger.Account) error {
	if account.CreatorID != t.creatorID {
		return fmt.Errorf("account %s saved in unit of work for %s", account.CreatorID, t.creatorID)
	}

	current, err := t.Account(ctx)
	if err != nil {
		return err
	}
	if current.Version != account.Version {
		return fmt.Errorf("account %s: stale version %d, have %d", account.CreatorID, account.Version, current.Version)
	}

	account.Version++
	t.account = account.Clone()
	return nil
}

func (t *tx) Posting(ctx context.Context, eventID string) (*ledger.Posting, error) {
	for _, p := range t.postings {
		if p.EventID == eventID {
			c := *p
			return &c, nil
		}
	}
	return t.store.GetPosting(ctx, eventID)
}

func (t *tx) InsertPosting(ctx context.Context, posting *ledger.Posting) error {
	if _, err := t.Posting(ctx, posting.EventID); err == nil {
		return fmt.Errorf("event %s: %w", posting.EventID, ledger.ErrDuplicateEvent)
	}
	c := *posting
	t.postings = append(t.postings, &c)
	return nil
}

func (t *tx) PayoutRequest(ctx context.Context, id string) (*ledger.PayoutRequest, error) {
	if r, ok := t.requests[id]; ok {
		return r.Clone(), nil
	}
	return t.store.GetPayoutRequest(ctx, id)
}

// creatorRequests merges staged requests over the stored ones.
func (t *tx) creatorRequests(ctx context.Context) ([]*ledger.PayoutRequest, error) {
	stored, err := t.store.ListPayoutRequestsByCreator(ctx, t.creatorID)
	if err != nil {
		return nil, err
	}

	out := make([]*ledger.PayoutRequest, 0, len(stored)+len(t.requests))
	for _, r := range stored {
		if _, staged := t.requests[r.ID]; !staged {
			out = append(out, r)
		}
	}
	for _, r := range t.requests {
		out = append(out, r.Clone())
	}
	ledger.SortPayoutRequests(out)
	return out, nil
}

func (t *tx) OpenPayoutRequest(ctx context.Context) (*ledger.PayoutRequest, error) {
	requests, err := t.creatorRequests(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range requests {
		if r.State.IsOpen() {
			return r, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (t *tx) PayoutRequestByIdempotencyKey(ctx context.Context, key string) (*ledger.PayoutRequest, error) {
	requests, err := t.creatorRequests(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range requests {
		if key != "" && r.IdempotencyKey == key {
			return r, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (t *tx) InsertPayoutRequest(ctx context.Context, request *ledger.PayoutRequest) error {
	if request.CreatorID != t.creatorID {
		return fmt.Errorf("request for %s inserted in unit of work for %s", request.CreatorID, t.creatorID)
	}
	if _, err := t.PayoutRequest(ctx, request.ID); err == nil {
		return fmt.Errorf("payout request %s already exists", request.ID)
	}
	if request.State.IsOpen() {
		if _, err := t.OpenPayoutRequest(ctx); err == nil {
			return ledger.ErrOpenRequestExists
		}
	}
	if request.IdempotencyKey != "" {
		if _, err := t.PayoutRequestByIdempotencyKey(ctx, request.IdempotencyKey); err == nil {
			return fmt.Errorf("idempotency key %q already used", request.IdempotencyKey)
		}
	}

	t.requests[request.ID] = request.Clone()
	return nil
}

func (t *tx) UpdatePayoutRequest(ctx context.Context, request *ledger.PayoutRequest) error {
	current, err := t.PayoutRequest(ctx, request.ID)
	if err != nil {
		return err
	}
	if current.CreatorID != t.creatorID {
		return fmt.Errorf("request %s belongs to %s", request.ID, current.CreatorID)
	}

	t.requests[request.ID] = request.Clone()
	return nil
}

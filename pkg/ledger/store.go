package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by store lookups that match nothing
	ErrNotFound = errors.New("ledger: not found")
	// ErrDuplicateEvent is returned when a posting for the event id already exists
	ErrDuplicateEvent = errors.New("ledger: event already posted")
	// ErrOpenRequestExists is returned when a second open payout request is inserted for a creator
	ErrOpenRequestExists = errors.New("ledger: creator already has an open payout request")
)

// Posting is the stored result of one commission event. Its event id is
// the deduplication key.
type Posting struct {
	EventID             string          `json:"event_id"`
	CreatorID           string          `json:"creator_id"`
	QualifyingAmount    money.Money     `json:"qualifying_amount"`
	BonusRatePercent    decimal.Decimal `json:"bonus_rate_percent"`
	TierName            string          `json:"tier"`
	TierRatePercent     decimal.Decimal `json:"tier_rate_percent"`
	Base                money.Money     `json:"base_component"`
	Bonus               money.Money     `json:"bonus_component"`
	Total               money.Money     `json:"total_credit"`
	AvailableAfter      money.Money     `json:"available_balance"`
	LifetimeEarnedAfter money.Money     `json:"lifetime_earned"`
	PostedAt            time.Time       `json:"posted_at"`
}

// PostingTotals aggregates a creator's postings. Base and Bonus cover all
// time; Qualifying covers postings at or after the requested instant.
type PostingTotals struct {
	Base       money.Money
	Bonus      money.Money
	Qualifying money.Money
}

// Tx is a consistent, exclusive view of one creator's ledger. Writes become
// visible together when the enclosing InTx returns nil and are discarded
// otherwise.
type Tx interface {
	// Account returns the creator's account, or a new unsaved one.
	Account(ctx context.Context) (*Account, error)
	SaveAccount(ctx context.Context, account *Account) error

	Posting(ctx context.Context, eventID string) (*Posting, error)
	InsertPosting(ctx context.Context, posting *Posting) error

	PayoutRequest(ctx context.Context, id string) (*PayoutRequest, error)
	OpenPayoutRequest(ctx context.Context) (*PayoutRequest, error)
	PayoutRequestByIdempotencyKey(ctx context.Context, key string) (*PayoutRequest, error)
	InsertPayoutRequest(ctx context.Context, request *PayoutRequest) error
	UpdatePayoutRequest(ctx context.Context, request *PayoutRequest) error
}

// Reader serves queries outside of a unit of work.
type Reader interface {
	GetAccount(ctx context.Context, creatorID string) (*Account, error)
	GetPosting(ctx context.Context, eventID string) (*Posting, error)
	GetPayoutRequest(ctx context.Context, id string) (*PayoutRequest, error)
	ListPayoutRequestsByCreator(ctx context.Context, creatorID string) ([]*PayoutRequest, error)
	ListPayoutRequestsByState(ctx context.Context, states ...State) ([]*PayoutRequest, error)
	ListPayoutRequestsCompletedSince(ctx context.Context, since time.Time) ([]*PayoutRequest, error)
	ListPostings(ctx context.Context, creatorID string, since time.Time) ([]*Posting, error)
	PostingTotals(ctx context.Context, creatorID string, qualifyingSince time.Time) (*PostingTotals, error)
}

// Store is the authoritative ledger storage.
//
// InTx runs fn with exclusive access to one creator's account. Different
// creators proceed in parallel. Implementations bound the wait for access
// and return a CONTENDED domain error instead of blocking forever.
type Store interface {
	Reader
	InTx(ctx context.Context, creatorID string, fn func(ctx context.Context, tx Tx) error) error
}

package ledger

import (
	"fmt"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/money"
)

// Account holds the balances owed to one creator.
type Account struct {
	CreatorID         string      `json:"creator_id"`
	Available         money.Money `json:"available_balance"`
	Pending           money.Money `json:"pending_balance"`
	LifetimeEarned    money.Money `json:"lifetime_earned"`
	LifetimeWithdrawn money.Money `json:"lifetime_withdrawn"`
	// Version is 0 for an account that has not been stored yet.
	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAccount returns an empty, unsaved account.
func NewAccount(creatorID string, now time.Time) *Account {
	return &Account{
		CreatorID: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsNew reports whether the account has never been persisted.
func (a *Account) IsNew() bool {
	return a.Version == 0
}

// Clone returns a copy safe to mutate.
func (a *Account) Clone() *Account {
	c := *a
	return &c
}

// Check verifies the balance invariants:
// available >= 0, pending >= 0 and earned = withdrawn + available + pending.
func (a *Account) Check() error {
	if a.Available.IsNegative() || a.Pending.IsNegative() {
		return fmt.Errorf("account %s: negative balance (available %s, pending %s)", a.CreatorID, a.Available, a.Pending)
	}

	held, err := a.LifetimeWithdrawn.Add(a.Available)
	if err == nil {
		held, err = held.Add(a.Pending)
	}
	if err != nil {
		return fmt.Errorf("account %s: %w", a.CreatorID, err)
	}
	if held.Cmp(a.LifetimeEarned) != 0 {
		return fmt.Errorf("account %s: earned %s does not match withdrawn+available+pending %s", a.CreatorID, a.LifetimeEarned, held)
	}
	return nil
}

// Credit adds a commission to available and lifetime earned.
func (a *Account) Credit(amount money.Money) error {
	if amount.IsNegative() {
		return domain.NewInvalidAmountError("credit must not be negative")
	}
	available, err := a.Available.Add(amount)
	if err != nil {
		return domain.NewInvalidAmountError("credit overflows available balance")
	}
	earned, err := a.LifetimeEarned.Add(amount)
	if err != nil {
		return domain.NewInvalidAmountError("credit overflows lifetime earnings")
	}
	a.Available, a.LifetimeEarned = available, earned
	return nil
}

// Lock moves amount from available to pending.
func (a *Account) Lock(amount money.Money) error {
	if amount.GreaterThan(a.Available) {
		return domain.NewInsufficientBalanceError(a.Available)
	}
	return a.move(&a.Available, &a.Pending, amount)
}

// Release moves amount from pending back to available.
func (a *Account) Release(amount money.Money) error {
	return a.move(&a.Pending, &a.Available, amount)
}

// Withdraw moves amount from pending to lifetime withdrawn.
func (a *Account) Withdraw(amount money.Money) error {
	return a.move(&a.Pending, &a.LifetimeWithdrawn, amount)
}

func (a *Account) move(from, to *money.Money, amount money.Money) error {
	if amount.IsNegative() {
		return domain.NewInvalidAmountError("amount must not be negative")
	}
	if amount.GreaterThan(*from) {
		return domain.NewInternalError(fmt.Errorf("account %s: moving %s exceeds source balance %s", a.CreatorID, amount, *from))
	}

	src, err := from.Sub(amount)
	if err != nil {
		return domain.NewInternalError(err)
	}
	dst, err := to.Add(amount)
	if err != nil {
		return domain.NewInternalError(err)
	}
	*from, *to = src, dst
	return nil
}

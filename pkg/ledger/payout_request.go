package ledger

import (
	"slices"
	"strings"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/money"
)

// State is the lifecycle position of a payout request.
type State string

const (
	StatePending    State = "pending"
	StateApproved   State = "approved"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateRejected   State = "rejected"
	StateFailed     State = "failed"
)

// OpenStates are the states that hold funds in pending.
var OpenStates = []State{StatePending, StateApproved, StateProcessing}

// IsOpen reports whether the request still holds funds.
func (s State) IsOpen() bool {
	switch s {
	case StatePending, StateApproved, StateProcessing:
		return true
	}
	return false
}

// IsTerminal reports whether the request can never change again.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateRejected, StateFailed:
		return true
	}
	return false
}

// Payout methods
const (
	MethodBankTransfer  = "bank_transfer"
	MethodStripeConnect = "stripe_connect"
)

// Destination describes where a payout is sent.
type Destination struct {
	Method            string `json:"method"`
	AccountHolderName string `json:"account_holder_name,omitempty"`
	BankName          string `json:"bank_name,omitempty"`
	AccountNumber     string `json:"account_number,omitempty"`
	RoutingNumber     string `json:"routing_number,omitempty"`
	StripeAccountID   string `json:"stripe_account_id,omitempty"`
	ContactEmail      string `json:"contact_email,omitempty"`
}

// Validate only checks that required fields are present.
func (d Destination) Validate() error {
	var required map[string]string
	switch d.Method {
	case MethodBankTransfer:
		required = map[string]string{
			"account_holder_name": d.AccountHolderName,
			"bank_name":           d.BankName,
			"account_number":      d.AccountNumber,
		}
	case MethodStripeConnect:
		required = map[string]string{"stripe_account_id": d.StripeAccountID}
	case "":
		return domain.NewInvalidDestinationError("destination method is required")
	default:
		return domain.NewInvalidDestinationError("unsupported destination method " + d.Method)
	}

	var missing []string
	for _, name := range []string{"account_holder_name", "bank_name", "account_number", "stripe_account_id"} {
		value, ok := required[name]
		if ok && strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return domain.NewInvalidDestinationError("missing " + strings.Join(missing, ", "))
	}
	return nil
}

// Masked returns a copy with the account number reduced to its last four digits.
func (d Destination) Masked() Destination {
	if n := len(d.AccountNumber); n > 4 {
		d.AccountNumber = strings.Repeat("*", n-4) + d.AccountNumber[n-4:]
	}
	return d
}

// PayoutRequest is a creator's request to withdraw available funds.
type PayoutRequest struct {
	ID                  string      `json:"id"`
	CreatorID           string      `json:"creator_id"`
	Amount              money.Money `json:"requested_amount"`
	Destination         Destination `json:"destination"`
	State               State       `json:"state"`
	IdempotencyKey      string      `json:"idempotency_key,omitempty"`
	OperatorID          string      `json:"operator_id,omitempty"`
	RejectionReason     string      `json:"rejection_reason,omitempty"`
	FailureReason       string      `json:"failure_reason,omitempty"`
	SettlementReference string      `json:"settlement_reference,omitempty"`
	RequestedAt         time.Time   `json:"requested_at"`
	DecidedAt           *time.Time  `json:"decided_at,omitempty"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Clone returns a deep copy.
func (r *PayoutRequest) Clone() *PayoutRequest {
	c := *r
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// SortPayoutRequests orders by requestedAt then id.
func SortPayoutRequests(requests []*PayoutRequest) {
	slices.SortFunc(requests, func(a, b *PayoutRequest) int {
		if c := a.RequestedAt.Compare(b.RequestedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

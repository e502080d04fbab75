package models

import (
	"time"

	"github.com/jordanlanch/creatorledger/pkg/ledger"
)

// CommissionEventRequest reports a qualifying sale.
type CommissionEventRequest struct {
	EventID          string `json:"event_id" validate:"required,max=255"`
	CreatorID        string `json:"creator_id" validate:"required,max=128"`
	QualifyingAmount string `json:"qualifying_amount" validate:"required"`
	BonusRatePercent string `json:"bonus_rate_percent,omitempty"`
}

// DestinationRequest describes where a payout is sent.
type DestinationRequest struct {
	Method            string `json:"method" validate:"max=32"`
	AccountHolderName string `json:"account_holder_name,omitempty" validate:"max=255"`
	BankName          string `json:"bank_name,omitempty" validate:"max=255"`
	AccountNumber     string `json:"account_number,omitempty" validate:"max=64"`
	RoutingNumber     string `json:"routing_number,omitempty" validate:"max=64"`
	StripeAccountID   string `json:"stripe_account_id,omitempty" validate:"max=255"`
	ContactEmail      string `json:"contact_email,omitempty" validate:"omitempty,email"`
}

// ToDestination converts the request to the ledger type.
func (d DestinationRequest) ToDestination() ledger.Destination {
	return ledger.Destination{
		Method:            d.Method,
		AccountHolderName: d.AccountHolderName,
		BankName:          d.BankName,
		AccountNumber:     d.AccountNumber,
		RoutingNumber:     d.RoutingNumber,
		StripeAccountID:   d.StripeAccountID,
		ContactEmail:      d.ContactEmail,
	}
}

// SubmitPayoutRequest asks to withdraw available funds.
type SubmitPayoutRequest struct {
	Amount      string             `json:"amount" validate:"required"`
	Destination DestinationRequest `json:"destination"`
}

// PayoutDecisionRequest is an operator decision on a payout request.
type PayoutDecisionRequest struct {
	Decision string `json:"decision" validate:"required"`
	// Reason for reject/fail, settlement reference for complete.
	ReasonOrReference string `json:"reason_or_reference,omitempty" validate:"max=2000"`
}

// PayoutResponse is a payout request with the destination masked.
type PayoutResponse struct {
	*ledger.PayoutRequest
}

// NewPayoutResponse masks the destination of r.
func NewPayoutResponse(r *ledger.PayoutRequest) PayoutResponse {
	c := r.Clone()
	c.Destination = c.Destination.Masked()
	return PayoutResponse{PayoutRequest: c}
}

// PayoutListResponse lists payout requests.
type PayoutListResponse struct {
	Data  []PayoutResponse `json:"data"`
	Total int              `json:"total"`
}

// NewPayoutListResponse masks every request.
func NewPayoutListResponse(requests []*ledger.PayoutRequest) PayoutListResponse {
	data := make([]PayoutResponse, 0, len(requests))
	for _, r := range requests {
		data = append(data, NewPayoutResponse(r))
	}
	return PayoutListResponse{Data: data, Total: len(data)}
}

// QueueResponse is the operator review queue.
type QueueResponse struct {
	PayoutListResponse
	OldestRequestedAt *time.Time `json:"oldest_requested_at,omitempty"`
}

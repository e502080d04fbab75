package ledger

import "context"

// Observer is notified after a ledger change has been committed. Observers
// must not fail the operation; they log their own errors.
type Observer interface {
	CommissionPosted(ctx context.Context, posting *Posting, account Account)
	// PayoutChanged receives from = "" for a new request.
	PayoutChanged(ctx context.Context, request *PayoutRequest, from State, account Account)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) CommissionPosted(ctx context.Context, posting *Posting, account Account) {
	for _, obs := range o {
		obs.CommissionPosted(ctx, posting, account)
	}
}

func (o Observers) PayoutChanged(ctx context.Context, request *PayoutRequest, from State, account Account) {
	for _, obs := range o {
		obs.PayoutChanged(ctx, request, from, account)
	}
}

// Package settlement pays approved payout requests out through Stripe
// Connect transfers.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/logger"
	"github.com/jordanlanch/creatorledger/pkg/payout"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/transfer"
)

// StripeConfig holds Stripe configuration
type StripeConfig struct {
	SecretKey string
	Currency  string
	// BaseURL overrides the API endpoint, used by tests.
	BaseURL string
	// MaxNetworkRetries defaults to 2.
	MaxNetworkRetries *int64
}

// StripeSettler creates one transfer per payout request.
type StripeSettler struct {
	transfers *transfer.Client
	currency  string
	logger    logger.Logger
}

// NewStripeSettler creates a settler with its own API backend.
func NewStripeSettler(cfg StripeConfig, log logger.Logger) *StripeSettler {
	backendCfg := &stripe.BackendConfig{
		LeveledLogger:     stripe.DefaultLeveledLogger,
		MaxNetworkRetries: cfg.MaxNetworkRetries,
	}
	if backendCfg.MaxNetworkRetries == nil {
		backendCfg.MaxNetworkRetries = stripe.Int64(2)
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}

	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	return &StripeSettler{
		transfers: &transfer.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		currency: currency,
		logger:   log,
	}
}

// Supports reports whether the destination can be paid through Stripe.
func (s *StripeSettler) Supports(method string) bool {
	return method == ledger.MethodStripeConnect
}

// Settle transfers the requested amount to the creator's connected account.
// The request id is the idempotency key, so a retried call never pays twice.
func (s *StripeSettler) Settle(ctx context.Context, r *ledger.PayoutRequest) (string, error) {
	if !s.Supports(r.Destination.Method) {
		return "", &payout.DeclinedError{Reason: "destination is not a Stripe connected account"}
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(r.Amount.Cents()),
		Currency:      stripe.String(s.currency),
		Destination:   stripe.String(r.Destination.StripeAccountID),
		TransferGroup: stripe.String("payout_" + r.ID),
		Description:   stripe.String("Creator payout " + r.ID),
	}
	params.Context = ctx
	params.SetIdempotencyKey("payout-" + r.ID)
	params.AddMetadata("payout_request_id", r.ID)
	params.AddMetadata("creator_id", r.CreatorID)

	tr, err := s.transfers.New(params)
	if err != nil {
		return "", s.classify(r, err)
	}

	s.logger.Info("Payout transfer created", "request_id", r.ID, "transfer_id", tr.ID)
	return tr.ID, nil
}

// destinationCodes are refusals caused by the creator's connected account.
var destinationCodes = map[stripe.ErrorCode]bool{
	stripe.ErrorCodeAccountClosed:              true,
	stripe.ErrorCodeAccountInvalid:             true,
	stripe.ErrorCodeNoAccount:                  true,
	stripe.ErrorCodePayoutsNotAllowed:          true,
	stripe.ErrorCodeTransfersNotAllowed:        true,
	stripe.ErrorCodeBankAccountDeclined:        true,
	stripe.ErrorCodeBankAccountRestricted:      true,
	stripe.ErrorCodeBankAccountUnusable:        true,
	stripe.ErrorCodeBankAccountUnverified:      true,
	stripe.ErrorCodeAccountInformationMismatch: true,
}

// classify turns refusals caused by the destination into declines. Every
// other failure, including a bad API key, is transient and leaves the
// request in processing.
func (s *StripeSettler) classify(r *ledger.PayoutRequest, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("stripe transfer for %s: %w", r.ID, err)
	}

	if !declinedByDestination(stripeErr) {
		s.logger.Error("Payout transfer rejected by Stripe",
			"request_id", r.ID, "status", stripeErr.HTTPStatusCode, "code", stripeErr.Code, "type", stripeErr.Type)
		return fmt.Errorf("stripe transfer for %s: %w", r.ID, err)
	}

	reason := stripeErr.Msg
	if reason == "" {
		reason = string(stripeErr.Code)
	}
	s.logger.Warn("Payout transfer declined", "request_id", r.ID, "status", stripeErr.HTTPStatusCode, "code", stripeErr.Code)
	return &payout.DeclinedError{Reason: reason}
}

func declinedByDestination(e *stripe.Error) bool {
	switch e.HTTPStatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	if e.HTTPStatusCode >= http.StatusInternalServerError {
		return false
	}
	if e.Type == stripe.ErrorTypeCard {
		return true
	}
	if destinationCodes[e.Code] {
		return true
	}
	return e.Code == stripe.ErrorCodeResourceMissing && e.Param == "destination"
}

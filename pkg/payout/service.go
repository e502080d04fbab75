package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/logger"
	"github.com/jordanlanch/creatorledger/pkg/money"
)

// DefaultMinimumPayout is the smallest amount a creator may withdraw.
var DefaultMinimumPayout = money.MustParse("500.00")

// SubmitInput is a creator's withdrawal request.
type SubmitInput struct {
	CreatorID   string
	Amount      money.Money
	Destination ledger.Destination
	// IdempotencyKey makes retried submissions return the original request.
	IdempotencyKey string
}

// DecideInput is an operator's decision on a request.
type DecideInput struct {
	RequestID  string
	OperatorID string
	Decision   Decision
	// ReasonOrReference is the reason for reject/fail and the settlement
	// reference for complete.
	ReasonOrReference string
}

// Service runs the payout request workflow.
type Service struct {
	store    ledger.Store
	minimum  money.Money
	settler  Settler
	observer ledger.Observer
	logger   logger.Logger
	nowFn    func() time.Time
	newID    func() string
}

// NewService creates a new payout service. settler and observer may be nil.
func NewService(store ledger.Store, minimum money.Money, settler Settler, observer ledger.Observer, log logger.Logger) *Service {
	if observer == nil {
		observer = ledger.Observers{}
	}
	return &Service{
		store:    store,
		minimum:  minimum,
		settler:  settler,
		observer: observer,
		logger:   log,
		nowFn:    func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// WithClock overrides the timestamp source.
func (s *Service) WithClock(nowFn func() time.Time) *Service {
	s.nowFn = nowFn
	return s
}

// MinimumPayout returns the configured floor.
func (s *Service) MinimumPayout() money.Money {
	return s.minimum
}

// Submit locks the requested amount and opens a pending request.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*ledger.PayoutRequest, error) {
	in.CreatorID = strings.TrimSpace(in.CreatorID)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)

	if in.CreatorID == "" {
		return nil, domain.NewValidationError("creator id is required")
	}
	if in.Amount.IsNegative() || in.Amount.IsZero() {
		return nil, domain.NewInvalidAmountError("requested amount must be positive")
	}
	if in.Amount.LessThan(s.minimum) {
		return nil, domain.NewBelowMinimumPayoutError(s.minimum)
	}
	if err := in.Destination.Validate(); err != nil {
		return nil, err
	}

	var (
		request *ledger.PayoutRequest
		account ledger.Account
		replay  bool
	)

	err := s.store.InTx(ctx, in.CreatorID, func(ctx context.Context, tx ledger.Tx) error {
		if in.IdempotencyKey != "" {
			existing, err := tx.PayoutRequestByIdempotencyKey(ctx, in.IdempotencyKey)
			if err == nil {
				request, replay = existing, true
				return nil
			}
			if !errors.Is(err, ledger.ErrNotFound) {
				return err
			}
		}

		open, err := tx.OpenPayoutRequest(ctx)
		if err == nil {
			return domain.NewRequestAlreadyOpenError(open.ID)
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		if err := acct.Lock(in.Amount); err != nil {
			return err
		}
		if err := acct.Check(); err != nil {
			return domain.NewInternalError(err)
		}

		now := s.nowFn()
		if acct.IsNew() {
			acct.CreatedAt = now
		}
		acct.UpdatedAt = now
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		req := &ledger.PayoutRequest{
			ID:             s.newID(),
			CreatorID:      in.CreatorID,
			Amount:         in.Amount,
			Destination:    in.Destination,
			State:          ledger.StatePending,
			IdempotencyKey: in.IdempotencyKey,
			RequestedAt:    now,
			UpdatedAt:      now,
		}
		if err := tx.InsertPayoutRequest(ctx, req); err != nil {
			return mapInsertError(err)
		}

		request, account = req, *acct
		return nil
	})
	if err != nil {
		s.logger.Warn("Payout request rejected", "creator_id", in.CreatorID, "amount", in.Amount.String(), "error", err)
		return nil, err
	}

	if replay {
		s.logger.Info("Payout request replayed", "request_id", request.ID, "creator_id", in.CreatorID)
		return request, nil
	}

	s.logger.Info("Payout request submitted",
		"request_id", request.ID,
		"creator_id", request.CreatorID,
		"amount", request.Amount.String(),
	)
	s.observer.PayoutChanged(ctx, request, "", account)
	return request, nil
}

// mapInsertError turns store-level uniqueness failures into domain errors.
func mapInsertError(err error) error {
	if errors.Is(err, ledger.ErrOpenRequestExists) {
		return domain.NewRequestAlreadyOpenError("for this creator")
	}
	return err
}

// Decide applies an operator decision to a request.
func (s *Service) Decide(ctx context.Context, in DecideInput) (*ledger.PayoutRequest, error) {
	in.OperatorID = strings.TrimSpace(in.OperatorID)
	in.ReasonOrReference = strings.TrimSpace(in.ReasonOrReference)

	if !in.Decision.IsValid() {
		return nil, domain.NewInvalidDecisionError(string(in.Decision))
	}
	if in.OperatorID == "" {
		return nil, domain.NewMissingOperatorError()
	}
	if in.ReasonOrReference == "" {
		switch in.Decision {
		case DecisionReject, DecisionFail:
			return nil, domain.NewMissingReasonError(string(in.Decision))
		case DecisionComplete:
			return nil, domain.NewMissingSettlementReferenceError()
		}
	}

	existing, err := s.store.GetPayoutRequest(ctx, in.RequestID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, domain.NewRequestNotFoundError(in.RequestID)
	}
	if err != nil {
		return nil, err
	}

	var (
		updated *ledger.PayoutRequest
		from    ledger.State
		account ledger.Account
	)

	err = s.store.InTx(ctx, existing.CreatorID, func(ctx context.Context, tx ledger.Tx) error {
		req, err := tx.PayoutRequest(ctx, in.RequestID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.NewRequestNotFoundError(in.RequestID)
		}
		if err != nil {
			return err
		}
		if !in.Decision.Allowed(req.State) {
			return domain.NewInvalidStateTransitionError(string(req.State), string(in.Decision))
		}

		acct, err := tx.Account(ctx)
		if err != nil {
			return err
		}

		now := s.nowFn()
		from = req.State

		switch transitions[in.Decision].effect {
		case effectRelease:
			err = acct.Release(req.Amount)
		case effectWithdraw:
			err = acct.Withdraw(req.Amount)
		}
		if err != nil {
			return err
		}

		switch in.Decision {
		case DecisionApprove:
			req.DecidedAt = &now
		case DecisionReject:
			req.DecidedAt = &now
			req.RejectionReason = in.ReasonOrReference
		case DecisionComplete:
			req.SettlementReference = in.ReasonOrReference
			req.CompletedAt = &now
		case DecisionFail:
			req.FailureReason = in.ReasonOrReference
		}
		req.State = in.Decision.Target()
		req.OperatorID = in.OperatorID
		req.UpdatedAt = now

		if transitions[in.Decision].effect != effectNone {
			if err := acct.Check(); err != nil {
				return domain.NewInternalError(err)
			}
			acct.UpdatedAt = now
			if err := tx.SaveAccount(ctx, acct); err != nil {
				return err
			}
		}
		if err := tx.UpdatePayoutRequest(ctx, req); err != nil {
			return err
		}

		updated, account = req, *acct
		return nil
	})
	if err != nil {
		s.logger.Warn("Payout decision rejected",
			"request_id", in.RequestID, "decision", string(in.Decision), "operator_id", in.OperatorID, "error", err)
		return nil, err
	}

	s.logger.Info("Payout request updated",
		"request_id", updated.ID,
		"creator_id", updated.CreatorID,
		"from", string(from),
		"to", string(updated.State),
		"operator_id", in.OperatorID,
	)
	s.observer.PayoutChanged(ctx, updated, from, account)
	return updated, nil
}

// GetPayoutRequest returns one request.
func (s *Service) GetPayoutRequest(ctx context.Context, requestID string) (*ledger.PayoutRequest, error) {
	req, err := s.store.GetPayoutRequest(ctx, requestID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, domain.NewRequestNotFoundError(requestID)
	}
	return req, err
}

// ListPayoutRequests returns a creator's requests, oldest first.
func (s *Service) ListPayoutRequests(ctx context.Context, creatorID string) ([]*ledger.PayoutRequest, error) {
	if strings.TrimSpace(creatorID) == "" {
		return nil, domain.NewValidationError("creator id is required")
	}
	requests, err := s.store.ListPayoutRequestsByCreator(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("list payout requests: %w", err)
	}
	return requests, nil
}

// ListOpenPayoutRequests returns the review queue, oldest first.
func (s *Service) ListOpenPayoutRequests(ctx context.Context) ([]*ledger.PayoutRequest, error) {
	requests, err := s.store.ListPayoutRequestsByState(ctx, ledger.OpenStates...)
	if err != nil {
		return nil, fmt.Errorf("list open payout requests: %w", err)
	}
	return requests, nil
}

// ListCompletedSince returns requests completed at or after since.
func (s *Service) ListCompletedSince(ctx context.Context, since time.Time) ([]*ledger.PayoutRequest, error) {
	requests, err := s.store.ListPayoutRequestsCompletedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list completed payout requests: %w", err)
	}
	return requests, nil
}

package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
)

// Settler moves money to the creator's destination and returns the
// provider's reference. Calls for the same request must be idempotent.
type Settler interface {
	Settle(ctx context.Context, request *ledger.PayoutRequest) (string, error)
}

// DeclinedError is returned by a Settler when the provider refused the
// payout for good. Any other error is treated as transient.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("settlement declined: %s", e.Reason)
}

// MethodSupporter is implemented by settlers that handle only some
// destination methods. Requests they cannot pay are settled manually.
type MethodSupporter interface {
	Supports(method string) bool
}

var errNoSettler = errors.New("no settlement provider configured")

// Settle sends an approved (or stuck processing) request to the settler.
// A success completes the request and a decline fails it. A transient
// provider error leaves it in processing and is returned as retryable.
func (s *Service) Settle(ctx context.Context, requestID, operatorID string) (*ledger.PayoutRequest, error) {
	if strings.TrimSpace(operatorID) == "" {
		return nil, domain.NewMissingOperatorError()
	}
	if s.settler == nil {
		return nil, domain.NewSettlementError(errNoSettler)
	}

	req, err := s.GetPayoutRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if ms, ok := s.settler.(MethodSupporter); ok && !ms.Supports(req.Destination.Method) {
		return nil, domain.NewInvalidDestinationError(
			fmt.Sprintf("destination method %s must be settled manually", req.Destination.Method))
	}

	switch req.State {
	case ledger.StateApproved:
		req, err = s.Decide(ctx, DecideInput{RequestID: requestID, OperatorID: operatorID, Decision: DecisionProcess})
		if err != nil {
			return nil, err
		}
	case ledger.StateProcessing:
		// Retry of an earlier attempt.
	default:
		return nil, domain.NewInvalidStateTransitionError(string(req.State), "settle")
	}

	reference, err := s.settler.Settle(ctx, req)

	var declined *DeclinedError
	if errors.As(err, &declined) {
		reason := strings.TrimSpace(declined.Reason)
		if reason == "" {
			reason = "declined by settlement provider"
		}
		s.logger.Warn("Payout settlement declined", "request_id", requestID, "reason", reason)
		return s.Decide(ctx, DecideInput{
			RequestID:         requestID,
			OperatorID:        operatorID,
			Decision:          DecisionFail,
			ReasonOrReference: reason,
		})
	}
	if err != nil {
		s.logger.Error("Payout settlement failed", "request_id", requestID, "error", err)
		return nil, domain.NewSettlementError(err)
	}

	return s.Decide(ctx, DecideInput{
		RequestID:         requestID,
		OperatorID:        operatorID,
		Decision:          DecisionComplete,
		ReasonOrReference: reference,
	})
}

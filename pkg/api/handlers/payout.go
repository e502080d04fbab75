package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/middleware"
	"github.com/jordanlanch/creatorledger/pkg/models"
	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/jordanlanch/creatorledger/pkg/payout"
	"github.com/labstack/echo/v4"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// PayoutWorkflow runs payout requests.
type PayoutWorkflow interface {
	Submit(ctx context.Context, in payout.SubmitInput) (*ledger.PayoutRequest, error)
	Decide(ctx context.Context, in payout.DecideInput) (*ledger.PayoutRequest, error)
	Settle(ctx context.Context, requestID, operatorID string) (*ledger.PayoutRequest, error)
	GetPayoutRequest(ctx context.Context, requestID string) (*ledger.PayoutRequest, error)
	ListPayoutRequests(ctx context.Context, creatorID string) ([]*ledger.PayoutRequest, error)
	ListOpenPayoutRequests(ctx context.Context) ([]*ledger.PayoutRequest, error)
}

// QueueExporter renders the open queue as a spreadsheet.
type QueueExporter interface {
	WriteQueue(ctx context.Context, w io.Writer) error
}

// PayoutHandler handles creator payout requests and operator decisions.
type PayoutHandler struct {
	base
	payouts  PayoutWorkflow
	exporter QueueExporter
}

// NewPayoutHandler creates a new payout handler. exporter may be nil.
func NewPayoutHandler(payouts PayoutWorkflow, exporter QueueExporter, recorder Recorder) *PayoutHandler {
	return &PayoutHandler{base: newBase(recorder), payouts: payouts, exporter: exporter}
}

// Submit godoc
// @Summary Request a payout
// @Description Locks the amount from the available balance. Retries with the same Idempotency-Key return the original request.
// @Tags payouts
// @Accept json
// @Produce json
// @Param creator_id path string true "Creator ID"
// @Param Idempotency-Key header string false "Idempotency key"
// @Param body body models.SubmitPayoutRequest true "Payout request"
// @Success 201 {object} models.PayoutResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Router /creators/{creator_id}/payouts [post]
func (h *PayoutHandler) Submit(c echo.Context) error {
	var req models.SubmitPayoutRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		return h.fail(c, "submit_payout", domain.NewInvalidAmountError("amount must be a decimal with at most two fractional digits"))
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	request, err := h.payouts.Submit(ctx, payout.SubmitInput{
		CreatorID:      c.Param("creator_id"),
		Amount:         amount,
		Destination:    req.Destination.ToDestination(),
		IdempotencyKey: c.Request().Header.Get(middleware.IdempotencyKeyHeader),
	})
	if err != nil {
		return h.fail(c, "submit_payout", err)
	}
	return c.JSON(http.StatusCreated, models.NewPayoutResponse(request))
}

// ListForCreator godoc
// @Summary List a creator's payout requests
// @Tags payouts
// @Produce json
// @Param creator_id path string true "Creator ID"
// @Success 200 {object} models.PayoutListResponse
// @Router /creators/{creator_id}/payouts [get]
func (h *PayoutHandler) ListForCreator(c echo.Context) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	requests, err := h.payouts.ListPayoutRequests(ctx, c.Param("creator_id"))
	if err != nil {
		return h.fail(c, "list_payouts", err)
	}
	return c.JSON(http.StatusOK, models.NewPayoutListResponse(requests))
}

// Get godoc
// @Summary Get a payout request
// @Tags payouts
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} models.PayoutResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /payouts/{id} [get]
func (h *PayoutHandler) Get(c echo.Context) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	request, err := h.payouts.GetPayoutRequest(ctx, c.Param("id"))
	if err != nil {
		return h.fail(c, "get_payout", err)
	}
	return c.JSON(http.StatusOK, models.NewPayoutResponse(request))
}

// Queue godoc
// @Summary List open payout requests
// @Description Operator review queue, oldest first.
// @Tags admin, payouts
// @Produce json
// @Param X-Operator-ID header string true "Operator ID"
// @Success 200 {object} models.QueueResponse
// @Router /admin/payouts/queue [get]
func (h *PayoutHandler) Queue(c echo.Context) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	requests, err := h.payouts.ListOpenPayoutRequests(ctx)
	if err != nil {
		return h.fail(c, "payout_queue", err)
	}

	resp := models.QueueResponse{PayoutListResponse: models.NewPayoutListResponse(requests)}
	if len(requests) > 0 {
		oldest := requests[0].RequestedAt
		for _, r := range requests[1:] {
			if r.RequestedAt.Before(oldest) {
				oldest = r.RequestedAt
			}
		}
		resp.OldestRequestedAt = &oldest
	}
	return c.JSON(http.StatusOK, resp)
}

// ExportQueue godoc
// @Summary Export open payout requests
// @Tags admin, payouts
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param X-Operator-ID header string true "Operator ID"
// @Success 200 {file} file
// @Router /admin/payouts/queue/export [get]
func (h *PayoutHandler) ExportQueue(c echo.Context) error {
	if h.exporter == nil {
		return c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Queue export is not enabled.",
		})
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	var buf bytes.Buffer
	if err := h.exporter.WriteQueue(ctx, &buf); err != nil {
		return h.fail(c, "export_queue", err)
	}

	filename := fmt.Sprintf("payout-queue-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}

// Decide godoc
// @Summary Decide on a payout request
// @Description approve, reject, process, complete or fail. Reject and fail need a reason, complete needs a settlement reference.
// @Tags admin, payouts
// @Accept json
// @Produce json
// @Param X-Operator-ID header string true "Operator ID"
// @Param id path string true "Request ID"
// @Param body body models.PayoutDecisionRequest true "Decision"
// @Success 200 {object} models.PayoutResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Router /admin/payouts/{id}/decision [post]
func (h *PayoutHandler) Decide(c echo.Context) error {
	var req models.PayoutDecisionRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	request, err := h.payouts.Decide(ctx, payout.DecideInput{
		RequestID:         c.Param("id"),
		OperatorID:        middleware.OperatorID(c),
		Decision:          payout.Decision(strings.ToLower(strings.TrimSpace(req.Decision))),
		ReasonOrReference: req.ReasonOrReference,
	})
	if err != nil {
		return h.fail(c, "decide_payout", err)
	}
	return c.JSON(http.StatusOK, models.NewPayoutResponse(request))
}

// Settle godoc
// @Summary Settle an approved payout through the payment provider
// @Tags admin, payouts
// @Produce json
// @Param X-Operator-ID header string true "Operator ID"
// @Param id path string true "Request ID"
// @Success 200 {object} models.PayoutResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /admin/payouts/{id}/settle [post]
func (h *PayoutHandler) Settle(c echo.Context) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	request, err := h.payouts.Settle(ctx, c.Param("id"), middleware.OperatorID(c))
	if err != nil {
		return h.fail(c, "settle_payout", err)
	}
	return c.JSON(http.StatusOK, models.NewPayoutResponse(request))
}

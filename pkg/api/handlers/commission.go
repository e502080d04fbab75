package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/jordanlanch/creatorledger/pkg/commission"
	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/models"
	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// CommissionPoster posts commission events.
type CommissionPoster interface {
	PostCommission(ctx context.Context, ev commission.Event) (*commission.Result, error)
}

// CommissionHandler receives commission-qualifying sales.
type CommissionHandler struct {
	base
	engine CommissionPoster
}

// NewCommissionHandler creates a new commission handler
func NewCommissionHandler(engine CommissionPoster, recorder Recorder) *CommissionHandler {
	return &CommissionHandler{base: newBase(recorder), engine: engine}
}

// PostCommission godoc
// @Summary Post a commission event
// @Description Credits the creator once per event id. Replays return the original result with 200.
// @Tags commissions
// @Accept json
// @Produce json
// @Param body body models.CommissionEventRequest true "Commission event"
// @Success 201 {object} commission.Result
// @Success 200 {object} commission.Result "Event already posted"
// @Failure 400 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /commissions [post]
func (h *CommissionHandler) PostCommission(c echo.Context) error {
	var req models.CommissionEventRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	amount, err := money.Parse(req.QualifyingAmount)
	if err != nil {
		return h.fail(c, "post_commission", domain.NewInvalidAmountError("qualifying amount must be a decimal with at most two fractional digits"))
	}

	bonus := decimal.Zero
	if s := strings.TrimSpace(req.BonusRatePercent); s != "" {
		bonus, err = decimal.NewFromString(s)
		if err != nil {
			return h.fail(c, "post_commission", domain.NewInvalidBonusRateError("bonus rate must be a decimal percentage"))
		}
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.engine.PostCommission(ctx, commission.Event{
		EventID:          req.EventID,
		CreatorID:        req.CreatorID,
		QualifyingAmount: amount,
		BonusRatePercent: bonus,
	})
	if err != nil {
		return h.fail(c, "post_commission", err)
	}

	if result.Status == commission.StatusAlreadyPosted {
		h.recorder.RecordCommissionReplay()
		return c.JSON(http.StatusOK, result)
	}
	return c.JSON(http.StatusCreated, result)
}

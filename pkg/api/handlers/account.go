package handlers

import (
	"context"
	"net/http"

	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/labstack/echo/v4"
)

// SummaryReader answers balance queries.
type SummaryReader interface {
	GetAccountSummary(ctx context.Context, creatorID string) (*ledger.Summary, error)
}

// AccountHandler serves creator balances.
type AccountHandler struct {
	base
	summaries SummaryReader
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(summaries SummaryReader) *AccountHandler {
	return &AccountHandler{base: newBase(nil), summaries: summaries}
}

// GetSummary godoc
// @Summary Get creator account summary
// @Tags accounts
// @Produce json
// @Param creator_id path string true "Creator ID"
// @Success 200 {object} ledger.Summary
// @Failure 422 {object} models.ErrorResponse
// @Router /creators/{creator_id}/account [get]
func (h *AccountHandler) GetSummary(c echo.Context) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	summary, err := h.summaries.GetAccountSummary(ctx, c.Param("creator_id"))
	if err != nil {
		return h.fail(c, "get_summary", err)
	}
	return c.JSON(http.StatusOK, summary)
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/models"
	"github.com/labstack/echo/v4"
)

const (
	// OperatorHeader names the operator acting on admin endpoints. The
	// gateway in front of the service authenticates operators and sets it.
	OperatorHeader = "X-Operator-ID"
	// IdempotencyKeyHeader lets a creator retry a payout submission safely.
	IdempotencyKeyHeader = "Idempotency-Key"

	operatorKey = "operator_id"
)

// RequireOperator rejects admin requests that carry no operator id.
func RequireOperator() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			operatorID := strings.TrimSpace(c.Request().Header.Get(OperatorHeader))
			if operatorID == "" {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "unauthorized",
					Code:    domain.ErrCodeMissingOperator,
					Message: OperatorHeader + " header is required",
				})
			}

			c.Set(operatorKey, operatorID)
			return next(c)
		}
	}
}

// OperatorID returns the operator set by RequireOperator.
func OperatorID(c echo.Context) string {
	id, _ := c.Get(operatorKey).(string)
	return id
}

package errors

import (
	"log"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/jordanlanch/creatorledger/pkg/models"
	"github.com/labstack/echo/v4"
)

// ValidationError returns a generic validation error without exposing internal details
func ValidationError(c echo.Context, err error) error {
	log.Printf("[VALIDATION ERROR] Path: %s, Error: %v", c.Request().URL.Path, err)

	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Code:    domain.ErrCodeValidation,
		Message: "Invalid request data. Please check your input and try again.",
	})
}

// InternalError returns a generic internal server error
func InternalError(c echo.Context, err error) error {
	log.Printf("[INTERNAL ERROR] Path: %s, Error: %v", c.Request().URL.Path, err)
	capture(c, err)

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Code:    domain.ErrCodeInternal,
		Message: "An internal error occurred. Please try again later.",
	})
}

// NotFoundError returns a generic not found error
func NotFoundError(c echo.Context, resource string) error {
	return c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "not_found",
		Message: "The requested " + resource + " was not found.",
	})
}

// StatusFor maps an error class to an HTTP status.
func StatusFor(err error) int {
	de, ok := domain.AsDomainError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch de.Class() {
	case domain.ClassValidation:
		return http.StatusUnprocessableEntity
	case domain.ClassConflict:
		return http.StatusConflict
	case domain.ClassNotFound:
		return http.StatusNotFound
	}
	if de.Code == domain.ErrCodeInternal {
		return http.StatusInternalServerError
	}
	return http.StatusServiceUnavailable
}

// DomainError writes a ledger error. Messages are safe to expose; wrapped
// infrastructure causes are only logged and reported.
func DomainError(c echo.Context, err error) error {
	de, ok := domain.AsDomainError(err)
	if !ok {
		return InternalError(c, err)
	}

	status := StatusFor(err)
	resp := models.ErrorResponse{
		Error:   strings.ToLower(de.Code),
		Code:    de.Code,
		Message: de.Message,
	}

	if de.Class() == domain.ClassInfrastructure {
		log.Printf("[%s] Path: %s, Error: %v", de.Code, c.Request().URL.Path, err)
		if status == http.StatusServiceUnavailable {
			c.Response().Header().Set("Retry-After", "1")
		}
		if de.Code != domain.ErrCodeContended {
			capture(c, err)
		}
	}

	return c.JSON(status, resp)
}

func capture(c echo.Context, err error) {
	if hub := sentryecho.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
		return
	}
	if sentry.CurrentHub().Client() != nil {
		sentry.CaptureException(err)
	}
}

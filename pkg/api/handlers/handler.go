package handlers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/creatorledger/pkg/api/errors"
	"github.com/jordanlanch/creatorledger/pkg/domain"
	"github.com/labstack/echo/v4"
)

// DefaultRequestTimeout bounds a single ledger operation.
const DefaultRequestTimeout = 10 * time.Second

// Recorder receives handler-level business metrics. *metrics.Metrics
// implements it.
type Recorder interface {
	RecordCommissionReplay()
	RecordContended(operation string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCommissionReplay() {}
func (nopRecorder) RecordContended(string) {}

// base holds what every ledger handler shares.
type base struct {
	validator *validator.Validate
	recorder  Recorder
	timeout   time.Duration
}

func newBase(recorder Recorder) base {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return base{
		validator: validator.New(),
		recorder:  recorder,
		timeout:   DefaultRequestTimeout,
	}
}

// bind decodes and validates the request body.
func (b base) bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := b.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	return nil
}

func (b base) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), b.timeout)
}

// fail writes a ledger error and counts contention per operation.
func (b base) fail(c echo.Context, operation string, err error) error {
	if domain.HasCode(err, domain.ErrCodeContended) {
		b.recorder.RecordContended(operation)
	}
	return apierrors.DomainError(c, err)
}

package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a ledger or payout error with a stable code and message
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Class returns the error class for the code.
func (e *DomainError) Class() Class {
	return ClassOf(e.Code)
}

// Error codes
const (
	ErrCodeInvalidAmount              = "INVALID_AMOUNT"
	ErrCodeInvalidBonusRate           = "INVALID_BONUS_RATE"
	ErrCodeValidation                 = "VALIDATION_ERROR"
	ErrCodeBelowMinimumPayout         = "BELOW_MINIMUM_PAYOUT"
	ErrCodeInvalidDestination         = "INVALID_DESTINATION_DETAILS"
	ErrCodeMissingReason              = "MISSING_REASON"
	ErrCodeMissingSettlementReference = "MISSING_SETTLEMENT_REFERENCE"
	ErrCodeMissingOperator            = "MISSING_OPERATOR"
	ErrCodeInvalidDecision            = "INVALID_DECISION"

	ErrCodeInsufficientBalance    = "INSUFFICIENT_AVAILABLE_BALANCE"
	ErrCodeRequestAlreadyOpen     = "REQUEST_ALREADY_OPEN"
	ErrCodeInvalidStateTransition = "INVALID_STATE_TRANSITION"

	ErrCodeRequestNotFound = "REQUEST_NOT_FOUND"

	ErrCodeContended          = "CONTENDED"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeSettlement         = "SETTLEMENT_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Class groups codes by how a caller should react to them.
type Class string

const (
	ClassValidation     Class = "validation"
	ClassConflict       Class = "conflict"
	ClassNotFound       Class = "not_found"
	ClassInfrastructure Class = "infrastructure"
)

var codeClasses = map[string]Class{
	ErrCodeInvalidAmount:              ClassValidation,
	ErrCodeInvalidBonusRate:           ClassValidation,
	ErrCodeValidation:                 ClassValidation,
	ErrCodeBelowMinimumPayout:         ClassValidation,
	ErrCodeInvalidDestination:         ClassValidation,
	ErrCodeMissingReason:              ClassValidation,
	ErrCodeMissingSettlementReference: ClassValidation,
	ErrCodeMissingOperator:            ClassValidation,
	ErrCodeInvalidDecision:            ClassValidation,

	ErrCodeInsufficientBalance:    ClassConflict,
	ErrCodeRequestAlreadyOpen:     ClassConflict,
	ErrCodeInvalidStateTransition: ClassConflict,

	ErrCodeRequestNotFound: ClassNotFound,

	ErrCodeContended:          ClassInfrastructure,
	ErrCodeStorageUnavailable: ClassInfrastructure,
	ErrCodeSettlement:         ClassInfrastructure,
	ErrCodeInternal:           ClassInfrastructure,
}

// ClassOf maps an error code to its class. Unknown codes are infrastructure.
func ClassOf(code string) Class {
	if c, ok := codeClasses[code]; ok {
		return c
	}
	return ClassInfrastructure
}

// Error constructors

// NewInvalidAmountError creates a new invalid amount error
func NewInvalidAmountError(msg string) error {
	return &DomainError{Code: ErrCodeInvalidAmount, Message: msg}
}

// NewInvalidBonusRateError creates a new bonus rate error
func NewInvalidBonusRateError(msg string) error {
	return &DomainError{Code: ErrCodeInvalidBonusRate, Message: msg}
}

// NewValidationError creates a new validation error
func NewValidationError(msg string) error {
	return &DomainError{Code: ErrCodeValidation, Message: msg}
}

// NewBelowMinimumPayoutError creates a new minimum payout error
func NewBelowMinimumPayoutError(minimum fmt.Stringer) error {
	return &DomainError{
		Code:    ErrCodeBelowMinimumPayout,
		Message: fmt.Sprintf("requested amount is below the minimum payout of %s", minimum),
	}
}

// NewInvalidDestinationError creates a new destination details error
func NewInvalidDestinationError(msg string) error {
	return &DomainError{Code: ErrCodeInvalidDestination, Message: msg}
}

// NewMissingReasonError creates a new missing reason error
func NewMissingReasonError(decision string) error {
	return &DomainError{
		Code:    ErrCodeMissingReason,
		Message: fmt.Sprintf("a reason is required to %s a payout request", decision),
	}
}

// NewMissingSettlementReferenceError creates a new missing settlement reference error
func NewMissingSettlementReferenceError() error {
	return &DomainError{
		Code:    ErrCodeMissingSettlementReference,
		Message: "a settlement reference is required to complete a payout request",
	}
}

// NewMissingOperatorError creates a new missing operator error
func NewMissingOperatorError() error {
	return &DomainError{Code: ErrCodeMissingOperator, Message: "operator id is required"}
}

// NewInvalidDecisionError creates a new unknown decision error
func NewInvalidDecisionError(decision string) error {
	return &DomainError{
		Code:    ErrCodeInvalidDecision,
		Message: fmt.Sprintf("unknown decision %q", decision),
	}
}

// NewInsufficientBalanceError creates a new insufficient balance error
func NewInsufficientBalanceError(available fmt.Stringer) error {
	return &DomainError{
		Code:    ErrCodeInsufficientBalance,
		Message: fmt.Sprintf("requested amount exceeds available balance of %s", available),
	}
}

// NewRequestAlreadyOpenError creates a new already open error
func NewRequestAlreadyOpenError(requestID string) error {
	return &DomainError{
		Code:    ErrCodeRequestAlreadyOpen,
		Message: fmt.Sprintf("payout request %s is still open", requestID),
	}
}

// NewInvalidStateTransitionError creates a new invalid transition error
func NewInvalidStateTransitionError(from, decision string) error {
	return &DomainError{
		Code:    ErrCodeInvalidStateTransition,
		Message: fmt.Sprintf("cannot %s a payout request in state %s", decision, from),
	}
}

// NewRequestNotFoundError creates a new not found error
func NewRequestNotFoundError(requestID string) error {
	return &DomainError{
		Code:    ErrCodeRequestNotFound,
		Message: fmt.Sprintf("payout request %s not found", requestID),
	}
}

// NewContendedError creates a new lock contention error
func NewContendedError(creatorID string, err error) error {
	return &DomainError{
		Code:    ErrCodeContended,
		Message: fmt.Sprintf("account %s is busy, retry later", creatorID),
		Err:     err,
	}
}

// NewStorageError creates a new storage unavailable error
func NewStorageError(err error) error {
	return &DomainError{
		Code:    ErrCodeStorageUnavailable,
		Message: "storage unavailable",
		Err:     err,
	}
}

// NewSettlementError creates a new settlement provider error
func NewSettlementError(err error) error {
	return &DomainError{
		Code:    ErrCodeSettlement,
		Message: "settlement provider unavailable",
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(err error) error {
	return &DomainError{
		Code:    ErrCodeInternal,
		Message: "An internal error occurred",
		Err:     err,
	}
}

// Helper functions to check error types

// AsDomainError finds the first DomainError in the chain
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode checks if the error chain carries the given code
func HasCode(err error, code string) bool {
	if de, ok := AsDomainError(err); ok {
		return de.Code == code
	}
	return false
}

// IsValidation checks if the error is a caller-correctable input error
func IsValidation(err error) bool {
	return classIs(err, ClassValidation)
}

// IsConflict checks if the error conflicts with current state
func IsConflict(err error) bool {
	return classIs(err, ClassConflict)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return classIs(err, ClassNotFound)
}

// IsRetryable checks if the error is a transient infrastructure failure.
// Errors that are not DomainErrors are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	de, ok := AsDomainError(err)
	if !ok {
		return true
	}
	return de.Class() == ClassInfrastructure
}

func classIs(err error, class Class) bool {
	if de, ok := AsDomainError(err); ok {
		return de.Class() == class
	}
	return false
}

// GetErrorCode extracts the error code from a domain error
func GetErrorCode(err error) string {
	if de, ok := AsDomainError(err); ok {
		return de.Code
	}
	return ErrCodeInternal
}

package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidMethod    ErrorCode = "INVALID_METHOD"
	ErrCodeInvalidCadence   ErrorCode = "INVALID_CADENCE"
	ErrCodeMissingReason    ErrorCode = "MISSING_REASON"
	ErrCodeInvalidOutcome   ErrorCode = "INVALID_OUTCOME"

	ErrCodePaymentNotFound   ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeDonationNotFound  ErrorCode = "DONATION_NOT_FOUND"
	ErrCodeRecurringNotFound ErrorCode = "RECURRING_NOT_FOUND"

	ErrCodeSelfConfirmation   ErrorCode = "SELF_CONFIRMATION"
	ErrCodeNotCounterparty    ErrorCode = "NOT_COUNTERPARTY"
	ErrCodeTreasurerRequired  ErrorCode = "TREASURER_REQUIRED"
	ErrCodeGovernanceRequired ErrorCode = "GOVERNANCE_REQUIRED"
	ErrCodeNotDonor           ErrorCode = "NOT_DONOR"
	ErrCodeNotActiveMember    ErrorCode = "NOT_ACTIVE_MEMBER"

	ErrCodeStateConflict   ErrorCode = "STATE_CONFLICT"
	ErrCodeAlreadyResolved ErrorCode = "ALREADY_RESOLVED"

	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	return &AppError{
		Type:       e.Type,
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		StatusCode: e.StatusCode,
		Cause:      cause,
	}
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	return &AppError{
		Type:       e.Type,
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		StatusCode: e.StatusCode,
		Cause:      e.Cause,
	}
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

// NewConflictError covers transitions attempted from a state that no longer
// allows them, including lost compare-and-swap races. Callers should re-fetch
// the record; the engine never retries a state transition on their behalf.
func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

var (
	ErrPaymentNotFound   = NewNotFoundError("payment not found", ErrCodePaymentNotFound)
	ErrDonationNotFound  = NewNotFoundError("donation not found", ErrCodeDonationNotFound)
	ErrRecurringNotFound = NewNotFoundError("recurring donation not found", ErrCodeRecurringNotFound)

	ErrSelfConfirmation   = NewForbiddenError("you cannot confirm a payment you recorded", ErrCodeSelfConfirmation)
	ErrNotCounterparty    = NewForbiddenError("only the counterparty may confirm or dispute this payment", ErrCodeNotCounterparty)
	ErrTreasurerRequired  = NewForbiddenError("treasurer responsibility required", ErrCodeTreasurerRequired)
	ErrGovernanceRequired = NewForbiddenError("governance role required to resolve disputes", ErrCodeGovernanceRequired)
	ErrNotDonor           = NewForbiddenError("only the donor of record may act on this donation", ErrCodeNotDonor)
	ErrNotActiveMember    = NewValidationError("payer is not an active member of this band", ErrCodeNotActiveMember)

	ErrStateConflict          = NewConflictError("record state has changed, refresh and try again", ErrCodeStateConflict)
	ErrPaymentAlreadyResolved = NewConflictError("this payment has already been confirmed/rejected", ErrCodeAlreadyResolved)

	ErrInvalidToken = NewUnauthorizedError("invalid token", ErrCodeInvalidToken)
	ErrTokenExpired = NewUnauthorizedError("token has expired", ErrCodeTokenExpired)
)

func IsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}

package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/fractionalev/ownership-ledger/internal/domain"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Client errors (4xx)
	ErrCodeBadRequest       ErrorCode = "bad_request"
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodeValidationFailed ErrorCode = "validation_failed"
	ErrCodeUnauthorized     ErrorCode = "unauthorized"
	ErrCodeForbidden        ErrorCode = "forbidden"
	ErrCodeConflict         ErrorCode = "conflict"

	// Ledger rule violations (4xx)
	ErrCodeOverAllocation        ErrorCode = "over_allocation"
	ErrCodeInvalidFraction       ErrorCode = "invalid_fraction"
	ErrCodeInvalidAmount         ErrorCode = "invalid_amount"
	ErrCodeInvalidPeriod         ErrorCode = "invalid_period"
	ErrCodeInvalidCurrency       ErrorCode = "invalid_currency"
	ErrCodeInvalidInvestor       ErrorCode = "invalid_investor"
	ErrCodeInvalidAsset          ErrorCode = "invalid_asset"
	ErrCodeInvalidIdempotencyKey ErrorCode = "invalid_idempotency_key"
	ErrCodeNoOwners              ErrorCode = "no_owners"
	ErrCodeAssetRetired          ErrorCode = "asset_retired"
	ErrCodeInvestorNotVerified   ErrorCode = "investor_not_verified"
	ErrCodeInvalidTransition     ErrorCode = "invalid_transition"
	ErrCodeGrantAlreadyCancelled ErrorCode = "grant_already_cancelled"
	ErrCodeIdempotencyConflict   ErrorCode = "idempotency_conflict"
	ErrCodeRunInProgress         ErrorCode = "run_in_progress"
	ErrCodeRunNotCompleted       ErrorCode = "run_not_completed"

	// Server errors (5xx)
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeServiceError  ErrorCode = "service_error"
	ErrCodeRunFailed     ErrorCode = "distribution_failed"
)

// APIError represents a structured API error that carries error code and details
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	// Status is the HTTP status the error is served with
	Status int `json:"-"`
}

func (e *APIError) Error() string {
	jsonErr, _ := json.Marshal(e)
	return string(jsonErr)
}

// Error constructors for common error types
func NewBadRequestError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeBadRequest,
		Message: message,
		Details: strings.Join(details, ", "),
		Status:  http.StatusBadRequest,
	}
}

func NewNotFoundError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: message,
		Details: strings.Join(details, ", "),
		Status:  http.StatusNotFound,
	}
}

func NewValidationError(details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeValidationFailed,
		Message: "Validation failed",
		Details: strings.Join(details, ", "),
		Status:  http.StatusBadRequest,
	}
}

func NewUnauthorizedError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
		Details: strings.Join(details, ", "),
		Status:  http.StatusUnauthorized,
	}
}

func NewConflictError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeConflict,
		Message: message,
		Details: strings.Join(details, ", "),
		Status:  http.StatusConflict,
	}
}

func NewInternalError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeInternalError,
		Message: message,
		Details: strings.Join(details, ", "),
		Status:  http.StatusInternalServerError,
	}
}

func NewDatabaseError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeDatabaseError,
		Message: message,
		Details: strings.Join(details, ", "),
		Status:  http.StatusInternalServerError,
	}
}

// domainMapping ties a domain sentinel to the API error it is served as
type domainMapping struct {
	target  error
	code    ErrorCode
	status  int
	message string
}

var domainMappings = []domainMapping{
	{domain.ErrAssetNotFound, ErrCodeNotFound, http.StatusNotFound, "Asset not found"},
	{domain.ErrGrantNotFound, ErrCodeNotFound, http.StatusNotFound, "Grant not found"},
	{domain.ErrRunNotFound, ErrCodeNotFound, http.StatusNotFound, "Distribution run not found"},
	{domain.ErrAssetAlreadyExists, ErrCodeConflict, http.StatusConflict, "Asset already exists"},
	{domain.ErrIdempotencyConflict, ErrCodeIdempotencyConflict, http.StatusConflict, "Idempotency key reused with a different request"},
	{domain.ErrRunInProgress, ErrCodeRunInProgress, http.StatusConflict, "Distribution run already in progress"},
	{domain.ErrInvalidFraction, ErrCodeInvalidFraction, http.StatusBadRequest, "Invalid fraction"},
	{domain.ErrInvalidAmount, ErrCodeInvalidAmount, http.StatusBadRequest, "Invalid amount"},
	{domain.ErrInvalidPeriod, ErrCodeInvalidPeriod, http.StatusBadRequest, "Invalid period"},
	{domain.ErrInvalidCurrency, ErrCodeInvalidCurrency, http.StatusBadRequest, "Invalid currency"},
	{domain.ErrInvalidInvestor, ErrCodeInvalidInvestor, http.StatusBadRequest, "Invalid investor"},
	{domain.ErrInvalidAsset, ErrCodeInvalidAsset, http.StatusBadRequest, "Invalid asset"},
	{domain.ErrInvalidIdempotencyKey, ErrCodeInvalidIdempotencyKey, http.StatusBadRequest, "Invalid idempotency key"},
	{domain.ErrOverAllocation, ErrCodeOverAllocation, http.StatusUnprocessableEntity, "Ownership over-allocated"},
	{domain.ErrNoOwners, ErrCodeNoOwners, http.StatusUnprocessableEntity, "Asset has no owners"},
	{domain.ErrAssetRetired, ErrCodeAssetRetired, http.StatusUnprocessableEntity, "Asset is retired"},
	{domain.ErrInvestorNotVerified, ErrCodeInvestorNotVerified, http.StatusUnprocessableEntity, "Investor is not verified"},
	{domain.ErrInvalidTransition, ErrCodeInvalidTransition, http.StatusUnprocessableEntity, "Invalid status transition"},
	{domain.ErrGrantAlreadyCancelled, ErrCodeGrantAlreadyCancelled, http.StatusUnprocessableEntity, "Grant already cancelled"},
	{domain.ErrRunNotCompleted, ErrCodeRunNotCompleted, http.StatusUnprocessableEntity, "Distribution run is not completed"},
}

// FromError converts an error returned by the ledger services into an APIError.
// Validation errors keep their message as details; failures of recorded runs expose the run id only;
// anything else becomes a generic internal error.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	var runErr *domain.RunError
	if stderrors.As(err, &runErr) {
		return &APIError{
			Code:    ErrCodeRunFailed,
			Message: "Distribution run failed",
			Details: "run_id=" + runErr.RunID,
			Status:  http.StatusInternalServerError,
		}
	}

	for _, m := range domainMappings {
		if stderrors.Is(err, m.target) {
			return &APIError{
				Code:    m.code,
				Message: m.message,
				Details: err.Error(),
				Status:  m.status,
			}
		}
	}

	return NewInternalError("Internal server error")
}

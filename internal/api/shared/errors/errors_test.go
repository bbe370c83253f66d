package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractionalev/ownership-ledger/internal/domain"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    ErrorCode
		details string
	}{
		{
			name:   "over allocation keeps the allocation message",
			err:    &domain.OverAllocationError{AssetID: "A", Allocated: 9500, Requested: 1000},
			status: http.StatusUnprocessableEntity,
			code:   ErrCodeOverAllocation,
			details: "asset A already has 9,500/10,000 basis points allocated; " +
				"requested 1,000",
		},
		{
			name:    "wrapped not found",
			err:     fmt.Errorf("%w: bus-7", domain.ErrAssetNotFound),
			status:  http.StatusNotFound,
			code:    ErrCodeNotFound,
			details: "asset not found: bus-7",
		},
		{
			name:    "idempotency conflict",
			err:     domain.ErrIdempotencyConflict,
			status:  http.StatusConflict,
			code:    ErrCodeIdempotencyConflict,
			details: domain.ErrIdempotencyConflict.Error(),
		},
		{
			name:    "run in progress",
			err:     fmt.Errorf("%w: run run_1", domain.ErrRunInProgress),
			status:  http.StatusConflict,
			code:    ErrCodeRunInProgress,
			details: "distribution run already in progress: run run_1",
		},
		{
			name:    "invalid fraction",
			err:     domain.ValidateBasisPoints(0),
			status:  http.StatusBadRequest,
			code:    ErrCodeInvalidFraction,
			details: "fraction must be between 1 and 10000 basis points: got 0",
		},
		{
			name:    "run failure hides the cause",
			err:     &domain.RunError{RunID: "run_9", Err: fmt.Errorf("%w: pq: connection refused", domain.ErrPersistenceFailure)},
			status:  http.StatusInternalServerError,
			code:    ErrCodeRunFailed,
			details: "run_id=run_9",
		},
		{
			name:   "unknown error",
			err:    errors.New("dial tcp 10.0.0.3:5432: i/o timeout"),
			status: http.StatusInternalServerError,
			code:   ErrCodeInternalError,
		},
		{
			name:    "api error passes through",
			err:     NewValidationError("total_revenue_minor is required"),
			status:  http.StatusBadRequest,
			code:    ErrCodeValidationFailed,
			details: "total_revenue_minor is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromError(tt.err)
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.details, apiErr.Details)
			assert.NotContains(t, apiErr.Message, "connection refused")
		})
	}

	assert.Nil(t, FromError(nil))
}

func TestAPIError_Error(t *testing.T) {
	err := NewNotFoundError("Asset not found", "bus-7")
	assert.JSONEq(t, `{"code":"not_found","message":"Asset not found","details":"bus-7"}`, err.Error())
}

package graphql

import (
	"context"
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"

	apierrors "github.com/fractionalev/ownership-ledger/internal/api/shared/errors"
	"github.com/fractionalev/ownership-ledger/internal/logger"
)

// ErrorPresenter formats errors in a consistent way matching the REST API format
// This function is called by gqlgen for every error
func ErrorPresenter(ctx context.Context, err error) *gqlerror.Error {
	// Convert to gqlerror if not already
	var gqlErr *gqlerror.Error
	isGQLErr := errors.As(err, &gqlErr)
	if !isGQLErr {
		gqlErr = &gqlerror.Error{
			Message: err.Error(),
		}
	}

	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) {
		// Parser and validation errors wrap nothing and are safe to show
		if isGQLErr && gqlErr.Err == nil {
			return gqlErr
		}
		return handleInternalError(gqlErr, err)
	}

	switch apiErr.Code {
	case apierrors.ErrCodeInternalError, apierrors.ErrCodeServiceError, apierrors.ErrCodeDatabaseError:
		return handleInternalError(gqlErr, err)
	default:
		presented := &gqlerror.Error{
			Message:   apiErr.Message,
			Path:      gqlErr.Path,
			Locations: gqlErr.Locations,
			Extensions: map[string]interface{}{
				"code":    string(apiErr.Code),
				"message": apiErr.Message,
			},
		}
		if apiErr.Details != "" {
			presented.Extensions["details"] = apiErr.Details
		}
		return presented
	}
}

// handleInternalError logs err and returns a generic internal error at the same path
func handleInternalError(gqlErr *gqlerror.Error, err error) *gqlerror.Error {
	logger.Error(err, zap.String("error", "Unhandled GraphQL error"))
	return &gqlerror.Error{
		Message:   "Internal server error",
		Path:      gqlErr.Path,
		Locations: gqlErr.Locations,
		Extensions: map[string]interface{}{
			"code":    string(apierrors.ErrCodeInternalError),
			"message": "Internal server error",
		},
	}
}

// RecoverFunc handles panics in resolvers
func RecoverFunc(ctx context.Context, err interface{}) error {
	logger.Error(fmt.Errorf("panic: %v", err), zap.Any("panic", err))
	return apierrors.NewInternalError("Internal server error")
}

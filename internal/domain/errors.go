package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAssetNotFound is returned when an asset is not registered
	ErrAssetNotFound = errors.New("asset not found")

	// ErrAssetAlreadyExists is returned when registering an asset id that is taken
	ErrAssetAlreadyExists = errors.New("asset already exists")

	// ErrAssetRetired is returned when an operation needs an asset that is not retired
	ErrAssetRetired = errors.New("asset is retired")

	// ErrInvalidTransition is returned when an asset status change is not allowed
	ErrInvalidTransition = errors.New("invalid asset status transition")

	// ErrInvalidAsset is returned when asset attributes fail validation
	ErrInvalidAsset = errors.New("invalid asset")

	// ErrInvalidFraction is returned when a fraction is outside (0, 10000] basis points
	ErrInvalidFraction = errors.New("fraction must be between 1 and 10000 basis points")

	// ErrOverAllocation is returned when a grant would push an asset above 10000 basis points
	ErrOverAllocation = errors.New("ownership over-allocated")

	// ErrInvalidAmount is returned when a monetary amount is out of range
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPeriod is returned when a revenue period is malformed
	ErrInvalidPeriod = errors.New("invalid revenue period")

	// ErrInvalidCurrency is returned when a currency code is malformed
	ErrInvalidCurrency = errors.New("invalid currency")

	// ErrInvestorNotVerified is returned when a grant targets an investor without a KYC assertion
	ErrInvestorNotVerified = errors.New("investor is not verified")

	// ErrInvalidInvestor is returned when an investor id is empty or malformed
	ErrInvalidInvestor = errors.New("invalid investor id")

	// ErrGrantNotFound is returned when an ownership grant does not exist
	ErrGrantNotFound = errors.New("ownership grant not found")

	// ErrGrantAlreadyCancelled is returned when cancelling or transferring a cancelled grant
	ErrGrantAlreadyCancelled = errors.New("ownership grant already cancelled")

	// ErrNoOwners is returned when a distribution is requested for an asset without active grants
	ErrNoOwners = errors.New("asset has no owners")

	// ErrSnapshotIncomplete is returned when a snapshot handed to the calculator does not cover 10000 basis points
	ErrSnapshotIncomplete = errors.New("ownership snapshot does not cover the whole asset")

	// ErrInvalidIdempotencyKey is returned when a caller supplied idempotency key is malformed
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")

	// ErrIdempotencyConflict is returned when an idempotency key is reused with a different request
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")

	// ErrRunInProgress is returned when a pending run already holds the idempotency key or period
	ErrRunInProgress = errors.New("distribution run already in progress")

	// ErrRunNotFound is returned when a distribution run does not exist
	ErrRunNotFound = errors.New("distribution run not found")

	// ErrRunNotCompleted is returned when an operation needs a completed run
	ErrRunNotCompleted = errors.New("distribution run is not completed")

	// ErrPersistenceFailure is returned when a distribution could not be stored
	ErrPersistenceFailure = errors.New("distribution persistence failed")

	// ErrInvariantViolation is returned when computed line items do not conserve the revenue total
	ErrInvariantViolation = errors.New("distribution invariant violated")
)

// OverAllocationError carries the allocation state that made a grant fail
type OverAllocationError struct {
	AssetID   string
	Allocated int
	Requested int
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("asset %s already has %s/%s basis points allocated; requested %s",
		e.AssetID, FormatBasisPoints(e.Allocated), FormatBasisPoints(BasisPointsDenominator), FormatBasisPoints(e.Requested))
}

// Is reports whether target is ErrOverAllocation
func (e *OverAllocationError) Is(target error) bool {
	return target == ErrOverAllocation
}

// Available returns the basis points still free on the asset
func (e *OverAllocationError) Available() int {
	return BasisPointsDenominator - e.Allocated
}

// RunError is a failure of a distribution run that was already recorded.
// Its message only exposes the run id; the cause stays in Err for logs.
type RunError struct {
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("distribution run %s failed", e.RunID)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is caused by bad input rather than by the system
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrAssetNotFound,
		ErrAssetAlreadyExists,
		ErrAssetRetired,
		ErrInvalidTransition,
		ErrInvalidAsset,
		ErrInvalidFraction,
		ErrOverAllocation,
		ErrInvalidAmount,
		ErrInvalidPeriod,
		ErrInvalidCurrency,
		ErrInvestorNotVerified,
		ErrInvalidInvestor,
		ErrGrantNotFound,
		ErrGrantAlreadyCancelled,
		ErrNoOwners,
		ErrSnapshotIncomplete,
		ErrInvalidIdempotencyKey,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/fractionalev/ownership-ledger/internal/api/shared/constants"
	apierrors "github.com/fractionalev/ownership-ledger/internal/api/shared/errors"
	"github.com/fractionalev/ownership-ledger/internal/domain"
)

// CreateAssetRequest represents the request body for registering an asset
type CreateAssetRequest struct {
	ID                 string                 `json:"id"`
	Name               string                 `json:"name"`
	Category           domain.AssetCategory   `json:"category"`
	Status             domain.AssetStatus     `json:"status"`
	OriginalValueMinor int64                  `json:"original_value_minor"`
	Currency           string                 `json:"currency"`
	Health             *int                   `json:"health"`
	Metadata           map[string]interface{} `json:"metadata"`
}

// Validate validates the request body
func (r *CreateAssetRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apierrors.NewValidationError("name is required")
	}

	if !domain.IsValidAssetCategory(r.Category) {
		return apierrors.NewValidationError(fmt.Sprintf("invalid category: %s. Must be one of vehicle, battery, charging_cabinet", r.Category))
	}

	if r.Status != "" && !domain.IsValidAssetStatus(r.Status) {
		return apierrors.NewValidationError(fmt.Sprintf("invalid status: %s", r.Status))
	}

	if r.OriginalValueMinor < 0 {
		return apierrors.NewValidationError("original_value_minor must not be negative")
	}

	return nil
}

// UpdateAssetStatusRequest represents the request body for changing an asset's lifecycle status
type UpdateAssetStatusRequest struct {
	Status domain.AssetStatus `json:"status"`
}

// Validate validates the request body
func (r *UpdateAssetStatusRequest) Validate() error {
	if r.Status == "" {
		return apierrors.NewValidationError("status is required")
	}

	if !domain.IsValidAssetStatus(r.Status) {
		return apierrors.NewValidationError(fmt.Sprintf("invalid status: %s. Must be one of active, maintenance, retired", r.Status))
	}

	return nil
}

// UpdateAssetHealthRequest represents the request body for changing an asset's health score
type UpdateAssetHealthRequest struct {
	Health *int `json:"health"`
}

// Validate validates the request body
func (r *UpdateAssetHealthRequest) Validate() error {
	if r.Health == nil {
		return apierrors.NewValidationError("health is required")
	}

	if *r.Health < 0 || *r.Health > domain.MaxHealthScore {
		return apierrors.NewValidationError(fmt.Sprintf("health must be between 0 and %d", domain.MaxHealthScore))
	}

	return nil
}

// GrantOwnershipRequest represents the request body for granting a fraction of an asset
type GrantOwnershipRequest struct {
	InvestorID       string `json:"investor_id"`
	FractionBps      int    `json:"fraction_bps"`
	AmountPaidMinor  int64  `json:"amount_paid_minor"`
	Currency         string `json:"currency"`
	InvestorVerified bool   `json:"investor_verified"`
}

// Validate validates the request body
func (r *GrantOwnershipRequest) Validate() error {
	if strings.TrimSpace(r.InvestorID) == "" {
		return apierrors.NewValidationError("investor_id is required")
	}

	if r.AmountPaidMinor < 0 {
		return apierrors.NewValidationError("amount_paid_minor must not be negative")
	}

	return nil
}

// TransferGrantRequest represents the request body for moving a grant to another investor
type TransferGrantRequest struct {
	ToInvestorID     string `json:"to_investor_id"`
	AmountPaidMinor  int64  `json:"amount_paid_minor"`
	Currency         string `json:"currency"`
	InvestorVerified bool   `json:"investor_verified"`
}

// Validate validates the request body
func (r *TransferGrantRequest) Validate() error {
	if strings.TrimSpace(r.ToInvestorID) == "" {
		return apierrors.NewValidationError("to_investor_id is required")
	}

	if r.AmountPaidMinor < 0 {
		return apierrors.NewValidationError("amount_paid_minor must not be negative")
	}

	return nil
}

// CancelGrantRequest represents the request body for cancelling a grant
type CancelGrantRequest struct {
	// Reason is optional and recorded on the grant
	Reason string `json:"reason"`
}

// Validate validates the request body
func (r *CancelGrantRequest) Validate() error {
	if len(r.Reason) > constants.MAX_CANCEL_REASON_SIZE {
		return apierrors.NewValidationError(fmt.Sprintf("reason must be at most %d characters", constants.MAX_CANCEL_REASON_SIZE))
	}

	return nil
}

// InitiateDistributionRequest represents the request body for distributing a period's revenue.
// The period is given either as a label (2025, 2025-11, 2025-W45, 2025-11-03) or as explicit bounds.
type InitiateDistributionRequest struct {
	Period            string     `json:"period"`
	PeriodStart       *time.Time `json:"period_start"`
	PeriodEnd         *time.Time `json:"period_end"`
	TotalRevenueMinor int64      `json:"total_revenue_minor"`
	Currency          string     `json:"currency"`
	IdempotencyKey    string     `json:"idempotency_key"`
}

// Validate validates the request body
func (r *InitiateDistributionRequest) Validate() error {
	hasLabel := strings.TrimSpace(r.Period) != ""
	hasBounds := r.PeriodStart != nil || r.PeriodEnd != nil

	if hasLabel && hasBounds {
		return apierrors.NewValidationError("use either period or period_start/period_end, not both")
	}

	if !hasLabel && (r.PeriodStart == nil || r.PeriodEnd == nil) {
		return apierrors.NewValidationError("period or both period_start and period_end are required")
	}

	if r.TotalRevenueMinor <= 0 {
		return apierrors.NewValidationError("total_revenue_minor must be positive")
	}

	return nil
}

// ResolvePeriod returns the revenue period named by the request
func (r *InitiateDistributionRequest) ResolvePeriod() (domain.Period, error) {
	if strings.TrimSpace(r.Period) != "" {
		return domain.ParsePeriod(strings.TrimSpace(r.Period))
	}
	return domain.NewPeriod(*r.PeriodStart, *r.PeriodEnd)
}

package dto

import (
	"time"

	"github.com/fractionalev/ownership-ledger/internal/domain"
)

// AssetResponse represents a registered asset
type AssetResponse struct {
	ID                 string                 `json:"id"`
	Name               string                 `json:"name"`
	Category           domain.AssetCategory   `json:"category"`
	Status             domain.AssetStatus     `json:"status"`
	OriginalValueMinor int64                  `json:"original_value_minor"`
	Currency           string                 `json:"currency"`
	Health             int                    `json:"health"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	RetiredAt          *time.Time             `json:"retired_at,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// AssetListResponse represents a page of assets
type AssetListResponse struct {
	Assets []AssetResponse `json:"assets"`
	Total  uint64          `json:"total"`
	Offset uint64          `json:"offset"`
	Limit  int             `json:"limit"`
}

// GrantResponse represents an ownership grant
type GrantResponse struct {
	ID                     string     `json:"id"`
	AssetID                string     `json:"asset_id"`
	InvestorID             string     `json:"investor_id"`
	FractionBps            int        `json:"fraction_bps"`
	AmountPaidMinor        int64      `json:"amount_paid_minor"`
	Currency               string     `json:"currency"`
	TransferredFromGrantID *string    `json:"transferred_from_grant_id,omitempty"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`
	CancelReason           *string    `json:"cancel_reason,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

// GrantListResponse represents the grants held by an investor
type GrantListResponse struct {
	Grants []GrantResponse `json:"grants"`
}

// ShareResponse represents one investor's aggregated holding in a snapshot
type ShareResponse struct {
	InvestorID  string `json:"investor_id"`
	FractionBps int    `json:"fraction_bps"`
}

// OwnershipResponse represents the ownership snapshot of an asset at an instant
type OwnershipResponse struct {
	AssetID      string          `json:"asset_id"`
	AsOf         time.Time       `json:"as_of"`
	Shares       []ShareResponse `json:"shares"`
	AllocatedBps int             `json:"allocated_bps"`
}

// AllocationResponse represents how much of an asset is still available
type AllocationResponse struct {
	AssetID      string `json:"asset_id"`
	AllocatedBps int    `json:"allocated_bps"`
	AvailableBps int    `json:"available_bps"`
}

// LineItemResponse represents one payout within a distribution run
type LineItemResponse struct {
	InvestorID       string `json:"investor_id"`
	FractionBps      int    `json:"fraction_bps"`
	AmountMinor      int64  `json:"amount_minor"`
	RoundingAdjusted bool   `json:"rounding_adjusted"`
	Retained         bool   `json:"retained,omitempty"`
}

// DistributionRunResponse represents a distribution run and its line items
type DistributionRunResponse struct {
	ID                string             `json:"id"`
	AssetID           string             `json:"asset_id"`
	Period            string             `json:"period"`
	PeriodStart       time.Time          `json:"period_start"`
	PeriodEnd         time.Time          `json:"period_end"`
	TotalRevenueMinor int64              `json:"total_revenue_minor"`
	Currency          string             `json:"currency"`
	Status            domain.RunStatus   `json:"status"`
	IdempotencyKey    string             `json:"idempotency_key"`
	SnapshotAt        time.Time          `json:"snapshot_at"`
	FailureReason     *string            `json:"failure_reason,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	FailedAt          *time.Time         `json:"failed_at,omitempty"`
	LineItems         []LineItemResponse `json:"line_items,omitempty"`
	// Duplicate is true when the request matched an existing run
	Duplicate bool `json:"duplicate"`
}

// DistributionRunListResponse represents a page of distribution runs for an asset
type DistributionRunListResponse struct {
	Runs   []DistributionRunResponse `json:"runs"`
	Total  uint64                    `json:"total"`
	Offset uint64                    `json:"offset"`
	Limit  int                       `json:"limit"`
}

// PayoutResponse represents one payout received by an investor
type PayoutResponse struct {
	RunID            string    `json:"run_id"`
	AssetID          string    `json:"asset_id"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	FractionBps      int       `json:"fraction_bps"`
	AmountMinor      int64     `json:"amount_minor"`
	Currency         string    `json:"currency"`
	RoundingAdjusted bool      `json:"rounding_adjusted"`
	CreatedAt        time.Time `json:"created_at"`
}

// PayoutListResponse represents a page of an investor's payout history
type PayoutListResponse struct {
	Payouts []PayoutResponse `json:"payouts"`
	Total   uint64           `json:"total"`
	Offset  uint64           `json:"offset"`
	Limit   int              `json:"limit"`
}

// ReplaySettlementResponse represents the result of re-emitting a run's settlement instructions
type ReplaySettlementResponse struct {
	RunID        string `json:"run_id"`
	Instructions int    `json:"instructions"`
}

// HealthResponse represents the service health
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database"`
}

package store

import (
	"context"
	"time"

	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/store/schema"
)

const (
	// DefaultPageSize is used when a list call does not set a limit
	DefaultPageSize = 50
	// MaxPageSize caps list calls
	MaxPageSize = 200
)

// CreateAssetInput holds the attributes of a new asset
type CreateAssetInput struct {
	ID                 string
	Name               string
	Category           domain.AssetCategory
	Status             domain.AssetStatus
	OriginalValueMinor int64
	Currency           string
	Health             int
	Metadata           []byte
	At                 time.Time
}

// AssetQueryFilter narrows ListAssets
type AssetQueryFilter struct {
	Categories []domain.AssetCategory
	Statuses   []domain.AssetStatus
	Limit      int
	Offset     uint64
}

// CreateGrantInput holds a new ownership grant
type CreateGrantInput struct {
	ID              string
	AssetID         string
	InvestorID      string
	FractionBps     int
	AmountPaidMinor int64
	Currency        string
	At              time.Time
}

// TransferGrantInput moves an existing grant to another investor
type TransferGrantInput struct {
	NewGrantID      string
	FromGrantID     string
	ToInvestorID    string
	AmountPaidMinor int64
	Currency        string
	At              time.Time
}

// AssetStore holds the asset registry
type AssetStore interface {
	// CreateAsset registers a new asset. Returns domain.ErrInvalidAsset if the id is taken.
	CreateAsset(ctx context.Context, input CreateAssetInput) (*schema.Asset, error)
	// GetAsset retrieves an asset by id. Returns nil, nil if not found.
	GetAsset(ctx context.Context, id string) (*schema.Asset, error)
	// ListAssets retrieves assets matching the filter and the total count
	ListAssets(ctx context.Context, filter AssetQueryFilter) ([]*schema.Asset, uint64, error)
	// UpdateAssetStatus moves an asset to a new status under its row lock
	UpdateAssetStatus(ctx context.Context, id string, status domain.AssetStatus, at time.Time) (*schema.Asset, error)
	// UpdateAssetHealth sets the health score of a non-retired asset
	UpdateAssetHealth(ctx context.Context, id string, health int, at time.Time) (*schema.Asset, error)
}

// LedgerStore holds the append-only ownership log
type LedgerStore interface {
	// CreateGrant appends a grant if the asset still has room for it.
	// The allocated total is computed from the log under the asset lock.
	CreateGrant(ctx context.Context, input CreateGrantInput) (*schema.OwnershipGrant, error)
	// TransferGrant cancels a grant and appends an equal grant for another investor atomically
	TransferGrant(ctx context.Context, input TransferGrantInput) (*schema.OwnershipGrant, error)
	// CancelGrant stamps a grant as cancelled
	CancelGrant(ctx context.Context, grantID string, reason string, at time.Time) (*schema.OwnershipGrant, error)
	// GetGrant retrieves a grant by id. Returns nil, nil if not found.
	GetGrant(ctx context.Context, grantID string) (*schema.OwnershipGrant, error)
	// GetAllocatedBasisPoints sums the active grants of an asset
	GetAllocatedBasisPoints(ctx context.Context, assetID string) (int, error)
	// ListActiveGrants retrieves the grants of an asset active at the given instant
	ListActiveGrants(ctx context.Context, assetID string, asOf time.Time) ([]schema.OwnershipGrant, error)
	// ListGrantsByInvestor retrieves the grants held by an investor
	ListGrantsByInvestor(ctx context.Context, investorID string, includeCancelled bool) ([]schema.OwnershipGrant, error)
}

// HistoryStore holds distribution runs and their line items
type HistoryStore interface {
	// WithAssetLock runs fn while holding the per-asset serialization lock.
	// Writes made by fn are committed independently of the lock.
	WithAssetLock(ctx context.Context, assetID string, fn func(ctx context.Context) error) error
	// FindCompletedRun retrieves the completed run of an asset for a period. Returns nil, nil if none.
	FindCompletedRun(ctx context.Context, assetID string, period domain.Period) (*schema.DistributionRun, error)
	// FindPendingRun retrieves the pending run of an asset for a period. Returns nil, nil if none.
	FindPendingRun(ctx context.Context, assetID string, period domain.Period) (*schema.DistributionRun, error)
	// FindRunByIdempotencyKey retrieves the non-failed run holding a key. Returns nil, nil if none.
	FindRunByIdempotencyKey(ctx context.Context, key string) (*schema.DistributionRun, error)
	// CreatePendingRun inserts a run in pending status.
	// Returns domain.ErrRunInProgress if a live run already holds the key or period.
	CreatePendingRun(ctx context.Context, run *schema.DistributionRun) error
	// CompleteRun inserts the line items and marks the run completed in one transaction
	CompleteRun(ctx context.Context, runID string, items []schema.DistributionLineItem, at time.Time) error
	// FailRun marks a pending run failed with a diagnostic record
	FailRun(ctx context.Context, runID string, reason string, diagnostic []byte, at time.Time) error
	// GetRun retrieves a run by id. Returns nil, nil if not found.
	GetRun(ctx context.Context, runID string) (*schema.DistributionRun, error)
	// ListRunsForAsset retrieves the runs of an asset, newest first, and the total count
	ListRunsForAsset(ctx context.Context, assetID string, limit int, offset uint64) ([]schema.DistributionRun, uint64, error)
	// ListLineItemsForRun retrieves the line items of a run ordered by investor id
	ListLineItemsForRun(ctx context.Context, runID string) ([]schema.DistributionLineItem, error)
	// ListLineItemsForInvestor retrieves the completed payouts of an investor, newest first, and the total count
	ListLineItemsForInvestor(ctx context.Context, investorID string, limit int, offset uint64) ([]schema.DistributionLineItem, uint64, error)
	// FailStalePendingRuns fails pending runs created before the cutoff and returns their ids
	FailStalePendingRuns(ctx context.Context, before time.Time, reason string, limit int, at time.Time) ([]string, error)
}

// Store defines the interface for database operations
type Store interface {
	AssetStore
	LedgerStore
	HistoryStore
	// Ping checks the connection to the underlying database
	Ping(ctx context.Context) error
}

// NormalizePage applies the default and maximum page size
func NormalizePage(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

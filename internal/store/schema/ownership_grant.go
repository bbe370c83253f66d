package schema

import (
	"time"
)

// OwnershipGrant represents the ownership_grants table - the append-only log of fractional ownership.
// A row is never deleted; the only mutation is the one-time cancellation stamp.
type OwnershipGrant struct {
	// ID is the grant identifier (grt_<ULID>)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// AssetID references the owned asset
	AssetID string `gorm:"column:asset_id;not null;type:text;index:idx_ownership_grants_asset"`
	// InvestorID is the opaque investor reference supplied by the caller
	InvestorID string `gorm:"column:investor_id;not null;type:text;index:idx_ownership_grants_investor"`
	// FractionBps is the owned fraction in basis points (1..10000)
	FractionBps int `gorm:"column:fraction_bps;not null"`
	// AmountPaidMinor is what the investor paid, in minor units of Currency
	AmountPaidMinor int64 `gorm:"column:amount_paid_minor;not null"`
	// Currency is the ISO 4217 code of AmountPaidMinor
	Currency string `gorm:"column:currency;not null;type:text"`
	// TransferredFromGrantID is set when the grant was created by transferring another grant
	TransferredFromGrantID *string `gorm:"column:transferred_from_grant_id;type:text"`
	// CancelledAt is set when the grant stops counting towards ownership
	CancelledAt *time.Time `gorm:"column:cancelled_at;type:timestamptz"`
	// CancelReason records why the grant was cancelled
	CancelReason *string `gorm:"column:cancel_reason;type:text"`
	// CreatedAt is the timestamp from which the grant counts towards ownership
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the OwnershipGrant model
func (OwnershipGrant) TableName() string {
	return "ownership_grants"
}

// IsActiveAt reports whether the grant counted towards ownership at the given instant
func (g *OwnershipGrant) IsActiveAt(at time.Time) bool {
	if g.CreatedAt.After(at) {
		return false
	}
	return g.CancelledAt == nil || g.CancelledAt.After(at)
}

package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fractionalev/ownership-ledger/internal/domain"
)

// DistributionRun represents the distribution_runs table - one attempt to distribute the revenue
// of an asset for a period. Partial unique indexes in db/init_pg_db.sql allow a single non-failed
// run per idempotency key and per (asset, period).
type DistributionRun struct {
	// ID is the run identifier (run_<ULID>)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// AssetID references the asset whose revenue is distributed
	AssetID string `gorm:"column:asset_id;not null;type:text;index:idx_distribution_runs_asset_period,priority:1"`
	// PeriodStart is the inclusive start of the revenue period
	PeriodStart time.Time `gorm:"column:period_start;not null;type:timestamptz;index:idx_distribution_runs_asset_period,priority:2"`
	// PeriodEnd is the exclusive end of the revenue period
	PeriodEnd time.Time `gorm:"column:period_end;not null;type:timestamptz;index:idx_distribution_runs_asset_period,priority:3"`
	// TotalRevenueMinor is the revenue to distribute, in minor units of Currency
	TotalRevenueMinor int64 `gorm:"column:total_revenue_minor;not null"`
	// Currency is the ISO 4217 code of every amount of the run
	Currency string `gorm:"column:currency;not null;type:text"`
	// Status is the run state (pending, completed, failed)
	Status domain.RunStatus `gorm:"column:status;not null;type:text"`
	// IdempotencyKey is the caller supplied or derived de-duplication key
	IdempotencyKey string `gorm:"column:idempotency_key;not null;type:text;index:idx_distribution_runs_idempotency_key"`
	// RequestHash is the SHA-256 of the canonical request, used to detect key reuse
	RequestHash string `gorm:"column:request_hash;not null;type:text"`
	// SnapshotAt is the instant at which ownership was read
	SnapshotAt time.Time `gorm:"column:snapshot_at;not null;type:timestamptz"`
	// FailureReason is a short operator facing reason for failed runs
	FailureReason *string `gorm:"column:failure_reason;type:text"`
	// Diagnostic holds structured details about a failure
	Diagnostic datatypes.JSON `gorm:"column:diagnostic;type:jsonb"`
	// CreatedAt is the timestamp when the run was opened
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// CompletedAt is set when the run reached completed
	CompletedAt *time.Time `gorm:"column:completed_at;type:timestamptz"`
	// FailedAt is set when the run reached failed
	FailedAt *time.Time `gorm:"column:failed_at;type:timestamptz"`
}

// TableName specifies the table name for the DistributionRun model
func (DistributionRun) TableName() string {
	return "distribution_runs"
}

// Period returns the revenue period of the run
func (r *DistributionRun) Period() domain.Period {
	return domain.Period{Start: r.PeriodStart.UTC(), End: r.PeriodEnd.UTC()}
}

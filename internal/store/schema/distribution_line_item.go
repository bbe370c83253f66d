package schema

import (
	"time"
)

// DistributionLineItem represents the distribution_line_items table - one investor's payout within a run
type DistributionLineItem struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// RunID references the distribution run
	RunID string `gorm:"column:run_id;not null;type:text;uniqueIndex:idx_distribution_line_items_run_investor,priority:1"`
	// InvestorID is the investor receiving the payout
	InvestorID string `gorm:"column:investor_id;not null;type:text;uniqueIndex:idx_distribution_line_items_run_investor,priority:2;index:idx_distribution_line_items_investor"`
	// FractionBps is the fraction owned by the investor when the snapshot was taken
	FractionBps int `gorm:"column:fraction_bps;not null"`
	// AmountMinor is the payout in minor units of the run currency
	AmountMinor int64 `gorm:"column:amount_minor;not null"`
	// RoundingAdjusted indicates the payout received one remainder unit
	RoundingAdjusted bool `gorm:"column:rounding_adjusted;not null"`
	// Retained indicates the unallocated share kept by the treasury account
	Retained bool `gorm:"column:retained;not null"`
	// CreatedAt is the timestamp when the line item was recorded
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the DistributionLineItem model
func (DistributionLineItem) TableName() string {
	return "distribution_line_items"
}

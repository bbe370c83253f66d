package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fractionalev/ownership-ledger/internal/domain"
)

// Asset represents the assets table - physical revenue-generating assets available for fractional ownership
type Asset struct {
	// ID is the asset identifier (caller supplied or a generated UUID)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// Name is a human readable label (plate number, battery serial, cabinet location)
	Name string `gorm:"column:name;not null;type:text"`
	// Category is the asset kind (vehicle, battery, charging_cabinet)
	Category domain.AssetCategory `gorm:"column:category;not null;type:text;index:idx_assets_category_status,priority:1"`
	// Status is the lifecycle status (active, maintenance, retired)
	Status domain.AssetStatus `gorm:"column:status;not null;type:text;index:idx_assets_category_status,priority:2"`
	// OriginalValueMinor is the acquisition value in minor units of Currency
	OriginalValueMinor int64 `gorm:"column:original_value_minor;not null"`
	// Currency is the ISO 4217 code of OriginalValueMinor
	Currency string `gorm:"column:currency;not null;type:text"`
	// Health is the operator assessed condition score from 0 to 100
	Health int `gorm:"column:health;not null"`
	// Metadata holds free-form operator attributes
	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb"`
	// RetiredAt is set once when the asset is retired
	RetiredAt *time.Time `gorm:"column:retired_at;type:timestamptz"`
	// CreatedAt is the timestamp when the asset was registered
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp of the last status or health change
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Asset model
func (Asset) TableName() string {
	return "assets"
}

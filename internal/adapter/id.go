package adapter

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/fractionalev/ownership-ledger/internal/domain"
)

// IDGenerator creates identifiers for new records
type IDGenerator interface {
	NewAssetID() string
	NewGrantID() string
	NewRunID() string
}

// RealIDGenerator uses UUIDs for assets and time-ordered ULIDs for grants and runs
type RealIDGenerator struct{}

// NewIDGenerator creates a new ID generator
func NewIDGenerator() IDGenerator {
	return &RealIDGenerator{}
}

func (g *RealIDGenerator) NewAssetID() string {
	return uuid.NewString()
}

func (g *RealIDGenerator) NewGrantID() string {
	return domain.GRANT_ID_PREFIX + ulid.Make().String()
}

func (g *RealIDGenerator) NewRunID() string {
	return domain.RUN_ID_PREFIX + ulid.Make().String()
}

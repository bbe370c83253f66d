package registry

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/logger"
	"github.com/fractionalev/ownership-ledger/internal/store"
	"github.com/fractionalev/ownership-ledger/internal/store/schema"
)

const maxAssetIDLength = 128

// Config holds registry defaults
type Config struct {
	// DefaultCurrency is used when an asset is registered without one
	DefaultCurrency string
}

// CreateAssetInput holds the attributes of an asset to register
type CreateAssetInput struct {
	// ID is optional; a UUID is generated when empty
	ID                 string
	Name               string
	Category           domain.AssetCategory
	Status             domain.AssetStatus
	OriginalValueMinor int64
	Currency           string
	// Health defaults to 100 when nil
	Health   *int
	Metadata map[string]interface{}
}

// AssetFilter narrows ListAssets
type AssetFilter struct {
	Categories []domain.AssetCategory
	Statuses   []domain.AssetStatus
	Limit      int
	Offset     uint64
}

// Registry is the authoritative record of assets and their lifecycle
type Registry interface {
	// CreateAsset registers a new asset
	CreateAsset(ctx context.Context, input CreateAssetInput) (*schema.Asset, error)
	// GetAsset returns domain.ErrAssetNotFound for unknown ids
	GetAsset(ctx context.Context, id string) (*schema.Asset, error)
	ListAssets(ctx context.Context, filter AssetFilter) ([]*schema.Asset, uint64, error)
	// UpdateStatus moves an asset along its lifecycle. Retired is terminal.
	UpdateStatus(ctx context.Context, id string, status domain.AssetStatus) (*schema.Asset, error)
	// UpdateHealth sets the 0-100 health score of a non-retired asset
	UpdateHealth(ctx context.Context, id string, health int) (*schema.Asset, error)
}

type registry struct {
	config Config
	store  store.AssetStore
	clock  adapter.Clock
	ids    adapter.IDGenerator
	json   adapter.JSON
}

// NewRegistry creates a new asset registry
func NewRegistry(cfg Config, st store.AssetStore, clock adapter.Clock, ids adapter.IDGenerator, jsonAdapter adapter.JSON) Registry {
	return &registry{
		config: cfg,
		store:  st,
		clock:  clock,
		ids:    ids,
		json:   jsonAdapter,
	}
}

func (r *registry) CreateAsset(ctx context.Context, input CreateAssetInput) (*schema.Asset, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = r.ids.NewAssetID()
	}
	if len(id) > maxAssetIDLength {
		return nil, fmt.Errorf("%w: id longer than %d characters", domain.ErrInvalidAsset, maxAssetIDLength)
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidAsset)
	}
	if !domain.IsValidAssetCategory(input.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidAsset, input.Category)
	}

	status := input.Status
	if status == "" {
		status = domain.AssetStatusActive
	}
	if !domain.IsValidAssetStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidAsset, status)
	}

	if input.OriginalValueMinor < 0 {
		return nil, fmt.Errorf("%w: original value must not be negative", domain.ErrInvalidAmount)
	}

	currency := input.Currency
	if currency == "" {
		currency = r.config.DefaultCurrency
	}
	currency, err := domain.NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}

	health := domain.MaxHealthScore
	if input.Health != nil {
		health = *input.Health
	}
	if err := validateHealth(health); err != nil {
		return nil, err
	}

	var metadata []byte
	if len(input.Metadata) > 0 {
		metadata, err = r.json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata is not valid JSON: %v", domain.ErrInvalidAsset, err)
		}
	}

	asset, err := r.store.CreateAsset(ctx, store.CreateAssetInput{
		ID:                 id,
		Name:               name,
		Category:           input.Category,
		Status:             status,
		OriginalValueMinor: input.OriginalValueMinor,
		Currency:           currency,
		Health:             health,
		Metadata:           metadata,
		At:                 r.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Asset registered",
		zap.String("actor", domain.ActorFromContext(ctx)),
		zap.String("asset_id", asset.ID),
		zap.String("category", string(asset.Category)),
		zap.String("status", string(asset.Status)),
	)

	return asset, nil
}

func (r *registry) GetAsset(ctx context.Context, id string) (*schema.Asset, error) {
	asset, err := r.store.GetAsset(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	if asset == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, id)
	}
	return asset, nil
}

func (r *registry) ListAssets(ctx context.Context, filter AssetFilter) ([]*schema.Asset, uint64, error) {
	for _, c := range filter.Categories {
		if !domain.IsValidAssetCategory(c) {
			return nil, 0, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidAsset, c)
		}
	}
	for _, s := range filter.Statuses {
		if !domain.IsValidAssetStatus(s) {
			return nil, 0, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidAsset, s)
		}
	}

	return r.store.ListAssets(ctx, store.AssetQueryFilter{
		Categories: filter.Categories,
		Statuses:   filter.Statuses,
		Limit:      store.NormalizePage(filter.Limit),
		Offset:     filter.Offset,
	})
}

func (r *registry) UpdateStatus(ctx context.Context, id string, status domain.AssetStatus) (*schema.Asset, error) {
	if !domain.IsValidAssetStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, status)
	}

	asset, err := r.store.UpdateAssetStatus(ctx, id, status, r.clock.Now())
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Asset status updated",
		zap.String("actor", domain.ActorFromContext(ctx)),
		zap.String("asset_id", id),
		zap.String("status", string(asset.Status)),
	)
	return asset, nil
}

func (r *registry) UpdateHealth(ctx context.Context, id string, health int) (*schema.Asset, error) {
	if err := validateHealth(health); err != nil {
		return nil, err
	}
	return r.store.UpdateAssetHealth(ctx, id, health, r.clock.Now())
}

func validateHealth(health int) error {
	if health < 0 || health > domain.MaxHealthScore {
		return fmt.Errorf("%w: health must be between 0 and %d, got %d", domain.ErrInvalidAsset, domain.MaxHealthScore, health)
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/logger"
	"github.com/fractionalev/ownership-ledger/internal/store/schema"
)

// lockStrengthNoKeyUpdate blocks other writers of the asset row without blocking
// the KEY SHARE locks taken by foreign key checks on grants and runs.
const lockStrengthNoKeyUpdate = "NO KEY UPDATE"

type pgStore struct {
	db *gorm.DB
	// lockSlots bounds concurrent WithAssetLock holders so that the callbacks
	// always find a free pooled connection. Nil means unbounded.
	lockSlots chan struct{}
	retry     RetryConfig
}

// PGOption configures a PostgreSQL store
type PGOption func(*pgStore)

// WithLockConcurrency bounds the number of asset locks held at once.
// It should stay below the connection pool size.
func WithLockConcurrency(n int) PGOption {
	return func(s *pgStore) {
		if n > 0 {
			s.lockSlots = make(chan struct{}, n)
		}
	}
}

// WithRetryConfig overrides the retry policy used for transient conflicts
func WithRetryConfig(cfg RetryConfig) PGOption {
	return func(s *pgStore) {
		s.retry = cfg
	}
}

func hasDBResolver(db *gorm.DB) bool {
	return db != nil && db.Callback().Query().Get("gorm:db_resolver") != nil
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB, opts ...PGOption) Store {
	s := &pgStore{db: db, retry: DefaultRetryConfig()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConfigureConnectionPool configures the connection pool settings for a GORM database connection.
// It accesses the underlying *sql.DB and sets the pool configuration.
// If any of the pool settings are 0 or empty, reasonable defaults are used:
//   - MaxOpenConns: 20 (if 0)
//   - MaxIdleConns: 5 (if 0)
//   - ConnMaxLifetime: 5 minutes (if 0)
//   - ConnMaxIdleTime: 10 minutes (if 0)
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
//
// Defaults (when zero):
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	// Ensure MaxIdleConns doesn't exceed MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// LockConcurrencyForPool returns how many asset locks may be held with a pool of the given size.
// Every lock holder pins one connection and needs at least one more for its writes.
func LockConcurrencyForPool(maxOpenConns int) int {
	n := maxOpenConns / 2
	if n < 1 {
		n = 1
	}
	return n
}

// calculateSafeBatchSize computes the batch size for bulk inserts that stays under
// PostgreSQL's limit of 65535 parameters per statement.
func calculateSafeBatchSize(totalRecords int, fieldsPerRecord int) int {
	const maxParams = 65535
	const headroom = 1000

	if fieldsPerRecord <= 0 {
		return totalRecords
	}

	batch := (maxParams - headroom) / fieldsPerRecord
	if batch > totalRecords {
		batch = totalRecords
	}
	if batch < 1 {
		batch = 1
	}
	return batch
}

// primary pins a query to the primary when read replicas are registered.
// Used for reads that decide a write.
func (s *pgStore) primary(ctx context.Context) *gorm.DB {
	db := s.db.WithContext(ctx)
	if hasDBResolver(s.db) {
		db = db.Clauses(dbresolver.Write)
	}
	return db
}

type primaryReadsKey struct{}

// withPrimaryReads marks ctx so that every read made with it goes to the primary
func withPrimaryReads(ctx context.Context) context.Context {
	return context.WithValue(ctx, primaryReadsKey{}, true)
}

// reader returns the handle for plain reads. Under an asset lock it is the primary,
// otherwise dbresolver may pick a replica.
func (s *pgStore) reader(ctx context.Context) *gorm.DB {
	if pinned, _ := ctx.Value(primaryReadsKey{}).(bool); pinned {
		return s.primary(ctx)
	}
	return s.db.WithContext(ctx)
}

// lockAsset takes the per-asset row lock inside tx
func lockAsset(tx *gorm.DB, assetID string) (*schema.Asset, error) {
	var asset schema.Asset
	err := tx.Clauses(clause.Locking{Strength: lockStrengthNoKeyUpdate}).
		Where("id = ?", assetID).
		First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, assetID)
		}
		return nil, fmt.Errorf("failed to lock asset: %w", err)
	}
	return &asset, nil
}

// allocatedBasisPoints sums the active grants of an asset inside tx
func allocatedBasisPoints(tx *gorm.DB, assetID string) (int, error) {
	var allocated int
	err := tx.Model(&schema.OwnershipGrant{}).
		Select("COALESCE(SUM(fraction_bps), 0)").
		Where("asset_id = ? AND cancelled_at IS NULL", assetID).
		Scan(&allocated).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum allocated basis points: %w", err)
	}
	return allocated, nil
}

// CreateAsset registers a new asset
func (s *pgStore) CreateAsset(ctx context.Context, input CreateAssetInput) (*schema.Asset, error) {
	asset := schema.Asset{
		ID:                 input.ID,
		Name:               input.Name,
		Category:           input.Category,
		Status:             input.Status,
		OriginalValueMinor: input.OriginalValueMinor,
		Currency:           input.Currency,
		Health:             input.Health,
		CreatedAt:          input.At,
		UpdatedAt:          input.At,
	}
	if len(input.Metadata) > 0 {
		asset.Metadata = datatypes.JSON(input.Metadata)
	}
	if asset.Status == domain.AssetStatusRetired {
		at := input.At
		asset.RetiredAt = &at
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&asset).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAssetAlreadyExists, input.ID)
		}
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}

	return &asset, nil
}

// GetAsset retrieves an asset by id
func (s *pgStore) GetAsset(ctx context.Context, id string) (*schema.Asset, error) {
	var asset schema.Asset
	err := s.reader(ctx).Where("id = ?", id).First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return &asset, nil
}

// ListAssets retrieves assets matching the filter
func (s *pgStore) ListAssets(ctx context.Context, filter AssetQueryFilter) ([]*schema.Asset, uint64, error) {
	query := s.reader(ctx).Model(&schema.Asset{})
	if len(filter.Categories) > 0 {
		query = query.Where("category IN ?", filter.Categories)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count assets: %w", err)
	}

	var assets []*schema.Asset
	err := query.
		Order("created_at DESC, id ASC").
		Limit(NormalizePage(filter.Limit)).
		Offset(int(filter.Offset)). //nolint:gosec,G115
		Find(&assets).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list assets: %w", err)
	}

	return assets, uint64(total), nil //nolint:gosec,G115
}

// UpdateAssetStatus moves an asset to a new status
func (s *pgStore) UpdateAssetStatus(ctx context.Context, id string, status domain.AssetStatus, at time.Time) (*schema.Asset, error) {
	var updated *schema.Asset
	err := s.withRetry(ctx, "update_asset_status", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			asset, err := lockAsset(tx, id)
			if err != nil {
				return err
			}
			if !domain.CanTransitionAssetStatus(asset.Status, status) {
				return fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, asset.Status, status)
			}
			if asset.Status == status {
				updated = asset
				return nil
			}

			updates := map[string]interface{}{
				"status":     status,
				"updated_at": at,
			}
			if status == domain.AssetStatusRetired {
				updates["retired_at"] = at
			}
			if err := tx.Model(&schema.Asset{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update asset status: %w", err)
			}

			asset.Status = status
			asset.UpdatedAt = at
			if status == domain.AssetStatusRetired {
				asset.RetiredAt = &at
			}
			updated = asset
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateAssetHealth sets the health score of a non-retired asset
func (s *pgStore) UpdateAssetHealth(ctx context.Context, id string, health int, at time.Time) (*schema.Asset, error) {
	var updated *schema.Asset
	err := s.withRetry(ctx, "update_asset_health", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			asset, err := lockAsset(tx, id)
			if err != nil {
				return err
			}
			if asset.Status == domain.AssetStatusRetired {
				return fmt.Errorf("%w: %s", domain.ErrAssetRetired, id)
			}

			err = tx.Model(&schema.Asset{}).Where("id = ?", id).
				Updates(map[string]interface{}{"health": health, "updated_at": at}).Error
			if err != nil {
				return fmt.Errorf("failed to update asset health: %w", err)
			}

			asset.Health = health
			asset.UpdatedAt = at
			updated = asset
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CreateGrant appends a grant if the asset has room for it
func (s *pgStore) CreateGrant(ctx context.Context, input CreateGrantInput) (*schema.OwnershipGrant, error) {
	var grant *schema.OwnershipGrant
	err := s.withRetry(ctx, "create_grant", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			asset, err := lockAsset(tx, input.AssetID)
			if err != nil {
				return err
			}
			if asset.Status == domain.AssetStatusRetired {
				return fmt.Errorf("%w: %s", domain.ErrAssetRetired, input.AssetID)
			}

			allocated, err := allocatedBasisPoints(tx, input.AssetID)
			if err != nil {
				return err
			}
			if allocated+input.FractionBps > domain.BasisPointsDenominator {
				return &domain.OverAllocationError{
					AssetID:   input.AssetID,
					Allocated: allocated,
					Requested: input.FractionBps,
				}
			}

			g := schema.OwnershipGrant{
				ID:              input.ID,
				AssetID:         input.AssetID,
				InvestorID:      input.InvestorID,
				FractionBps:     input.FractionBps,
				AmountPaidMinor: input.AmountPaidMinor,
				Currency:        input.Currency,
				CreatedAt:       input.At,
			}
			if err := tx.Create(&g).Error; err != nil {
				return fmt.Errorf("failed to create grant: %w", err)
			}
			grant = &g
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// lockGrant loads a grant, takes its asset lock and re-reads the grant under it
func lockGrant(tx *gorm.DB, grantID string) (*schema.OwnershipGrant, *schema.Asset, error) {
	var grant schema.OwnershipGrant
	if err := tx.Where("id = ?", grantID).First(&grant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrGrantNotFound, grantID)
		}
		return nil, nil, fmt.Errorf("failed to get grant: %w", err)
	}

	asset, err := lockAsset(tx, grant.AssetID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("id = ?", grantID).First(&grant).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to lock grant: %w", err)
	}
	return &grant, asset, nil
}

// TransferGrant cancels a grant and appends an equal grant for another investor
func (s *pgStore) TransferGrant(ctx context.Context, input TransferGrantInput) (*schema.OwnershipGrant, error) {
	var grant *schema.OwnershipGrant
	err := s.withRetry(ctx, "transfer_grant", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			source, asset, err := lockGrant(tx, input.FromGrantID)
			if err != nil {
				return err
			}
			if source.CancelledAt != nil {
				return fmt.Errorf("%w: %s", domain.ErrGrantAlreadyCancelled, source.ID)
			}
			if asset.Status == domain.AssetStatusRetired {
				return fmt.Errorf("%w: %s", domain.ErrAssetRetired, asset.ID)
			}

			reason := "transferred to " + input.ToInvestorID
			err = tx.Model(&schema.OwnershipGrant{}).Where("id = ?", source.ID).
				Updates(map[string]interface{}{"cancelled_at": input.At, "cancel_reason": reason}).Error
			if err != nil {
				return fmt.Errorf("failed to cancel source grant: %w", err)
			}

			fromID := source.ID
			g := schema.OwnershipGrant{
				ID:                     input.NewGrantID,
				AssetID:                source.AssetID,
				InvestorID:             input.ToInvestorID,
				FractionBps:            source.FractionBps,
				AmountPaidMinor:        input.AmountPaidMinor,
				Currency:               input.Currency,
				TransferredFromGrantID: &fromID,
				CreatedAt:              input.At,
			}
			if err := tx.Create(&g).Error; err != nil {
				return fmt.Errorf("failed to create transferred grant: %w", err)
			}
			grant = &g
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// CancelGrant stamps a grant as cancelled
func (s *pgStore) CancelGrant(ctx context.Context, grantID string, reason string, at time.Time) (*schema.OwnershipGrant, error) {
	var cancelled *schema.OwnershipGrant
	err := s.withRetry(ctx, "cancel_grant", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			grant, _, err := lockGrant(tx, grantID)
			if err != nil {
				return err
			}
			if grant.CancelledAt != nil {
				return fmt.Errorf("%w: %s", domain.ErrGrantAlreadyCancelled, grantID)
			}

			err = tx.Model(&schema.OwnershipGrant{}).Where("id = ?", grantID).
				Updates(map[string]interface{}{"cancelled_at": at, "cancel_reason": reason}).Error
			if err != nil {
				return fmt.Errorf("failed to cancel grant: %w", err)
			}

			grant.CancelledAt = &at
			grant.CancelReason = &reason
			cancelled = grant
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// GetGrant retrieves a grant by id
func (s *pgStore) GetGrant(ctx context.Context, grantID string) (*schema.OwnershipGrant, error) {
	var grant schema.OwnershipGrant
	err := s.reader(ctx).Where("id = ?", grantID).First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return &grant, nil
}

// GetAllocatedBasisPoints sums the active grants of an asset
func (s *pgStore) GetAllocatedBasisPoints(ctx context.Context, assetID string) (int, error) {
	return allocatedBasisPoints(s.primary(ctx), assetID)
}

// ListActiveGrants retrieves the grants of an asset active at asOf
func (s *pgStore) ListActiveGrants(ctx context.Context, assetID string, asOf time.Time) ([]schema.OwnershipGrant, error) {
	var grants []schema.OwnershipGrant
	err := s.primary(ctx).
		Where("asset_id = ? AND created_at <= ? AND (cancelled_at IS NULL OR cancelled_at > ?)", assetID, asOf, asOf).
		Order("investor_id ASC, created_at ASC, id ASC").
		Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active grants: %w", err)
	}
	return grants, nil
}

// ListGrantsByInvestor retrieves the grants held by an investor
func (s *pgStore) ListGrantsByInvestor(ctx context.Context, investorID string, includeCancelled bool) ([]schema.OwnershipGrant, error) {
	query := s.reader(ctx).Where("investor_id = ?", investorID)
	if !includeCancelled {
		query = query.Where("cancelled_at IS NULL")
	}

	var grants []schema.OwnershipGrant
	if err := query.Order("created_at DESC, id DESC").Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("failed to list investor grants: %w", err)
	}
	return grants, nil
}

// WithAssetLock runs fn while holding the asset row lock
func (s *pgStore) WithAssetLock(ctx context.Context, assetID string, fn func(ctx context.Context) error) error {
	if s.lockSlots != nil {
		select {
		case s.lockSlots <- struct{}{}:
			defer func() { <-s.lockSlots }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockAsset(tx, assetID); err != nil {
			return err
		}
		return fn(withPrimaryReads(ctx))
	})
}

func (s *pgStore) findRunForPeriod(ctx context.Context, assetID string, period domain.Period, status domain.RunStatus) (*schema.DistributionRun, error) {
	var run schema.DistributionRun
	err := s.primary(ctx).
		Where("asset_id = ? AND period_start = ? AND period_end = ? AND status = ?",
			assetID, period.Start, period.End, status).
		Order("created_at DESC").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find %s run: %w", status, err)
	}
	return &run, nil
}

// FindCompletedRun retrieves the completed run of an asset for a period
func (s *pgStore) FindCompletedRun(ctx context.Context, assetID string, period domain.Period) (*schema.DistributionRun, error) {
	return s.findRunForPeriod(ctx, assetID, period, domain.RunStatusCompleted)
}

// FindPendingRun retrieves the pending run of an asset for a period
func (s *pgStore) FindPendingRun(ctx context.Context, assetID string, period domain.Period) (*schema.DistributionRun, error) {
	return s.findRunForPeriod(ctx, assetID, period, domain.RunStatusPending)
}

// FindRunByIdempotencyKey retrieves the non-failed run holding a key
func (s *pgStore) FindRunByIdempotencyKey(ctx context.Context, key string) (*schema.DistributionRun, error) {
	var run schema.DistributionRun
	err := s.primary(ctx).
		Where("idempotency_key = ? AND status <> ?", key, domain.RunStatusFailed).
		Order("created_at DESC").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find run by idempotency key: %w", err)
	}
	return &run, nil
}

// CreatePendingRun inserts a run in pending status
func (s *pgStore) CreatePendingRun(ctx context.Context, run *schema.DistributionRun) error {
	run.Status = domain.RunStatusPending
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(run).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrRunInProgress, constraintName(err))
		}
		return fmt.Errorf("failed to create pending run: %w", err)
	}
	return nil
}

// CompleteRun inserts the line items and marks the run completed
func (s *pgStore) CompleteRun(ctx context.Context, runID string, items []schema.DistributionLineItem, at time.Time) error {
	return s.withRetry(ctx, "complete_run", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result := tx.Model(&schema.DistributionRun{}).
				Where("id = ? AND status = ?", runID, domain.RunStatusPending).
				Updates(map[string]interface{}{"status": domain.RunStatusCompleted, "completed_at": at})
			if result.Error != nil {
				return fmt.Errorf("failed to complete run: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("run %s is not pending", runID)
			}

			if len(items) == 0 {
				return nil
			}
			rows := make([]schema.DistributionLineItem, len(items))
			for i, item := range items {
				item.ID = 0
				item.RunID = runID
				if item.CreatedAt.IsZero() {
					item.CreatedAt = at
				}
				rows[i] = item
			}
			if err := tx.CreateInBatches(rows, calculateSafeBatchSize(len(rows), 7)).Error; err != nil {
				return fmt.Errorf("failed to insert line items: %w", err)
			}
			return nil
		})
	})
}

// FailRun marks a pending run failed
func (s *pgStore) FailRun(ctx context.Context, runID string, reason string, diagnostic []byte, at time.Time) error {
	updates := map[string]interface{}{
		"status":         domain.RunStatusFailed,
		"failure_reason": reason,
		"failed_at":      at,
	}
	if len(diagnostic) > 0 {
		updates["diagnostic"] = datatypes.JSON(diagnostic)
	}

	return s.withRetry(ctx, "fail_run", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result := tx.Model(&schema.DistributionRun{}).
				Where("id = ? AND status = ?", runID, domain.RunStatusPending).
				Updates(updates)
			if result.Error != nil {
				return fmt.Errorf("failed to fail run: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("run %s is not pending", runID)
			}
			return nil
		})
	})
}

// GetRun retrieves a run by id
func (s *pgStore) GetRun(ctx context.Context, runID string) (*schema.DistributionRun, error) {
	var run schema.DistributionRun
	err := s.reader(ctx).Where("id = ?", runID).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRunsForAsset retrieves the runs of an asset, newest first
func (s *pgStore) ListRunsForAsset(ctx context.Context, assetID string, limit int, offset uint64) ([]schema.DistributionRun, uint64, error) {
	query := s.reader(ctx).Model(&schema.DistributionRun{}).Where("asset_id = ?", assetID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	var runs []schema.DistributionRun
	err := query.
		Order("created_at DESC, id DESC").
		Limit(NormalizePage(limit)).
		Offset(int(offset)). //nolint:gosec,G115
		Find(&runs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, uint64(total), nil //nolint:gosec,G115
}

// ListLineItemsForRun retrieves the line items of a run
func (s *pgStore) ListLineItemsForRun(ctx context.Context, runID string) ([]schema.DistributionLineItem, error) {
	var items []schema.DistributionLineItem
	err := s.reader(ctx).
		Where("run_id = ?", runID).
		Order("investor_id ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list line items: %w", err)
	}
	return items, nil
}

// ListLineItemsForInvestor retrieves the completed payouts of an investor
func (s *pgStore) ListLineItemsForInvestor(ctx context.Context, investorID string, limit int, offset uint64) ([]schema.DistributionLineItem, uint64, error) {
	query := s.reader(ctx).Model(&schema.DistributionLineItem{}).
		Joins("JOIN distribution_runs ON distribution_runs.id = distribution_line_items.run_id").
		Where("distribution_line_items.investor_id = ? AND distribution_runs.status = ?", investorID, domain.RunStatusCompleted)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payouts: %w", err)
	}

	var items []schema.DistributionLineItem
	err := query.
		Select("distribution_line_items.*").
		Order("distribution_line_items.created_at DESC, distribution_line_items.id DESC").
		Limit(NormalizePage(limit)).
		Offset(int(offset)). //nolint:gosec,G115
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payouts: %w", err)
	}
	return items, uint64(total), nil //nolint:gosec,G115
}

// FailStalePendingRuns fails pending runs created before the cutoff
func (s *pgStore) FailStalePendingRuns(ctx context.Context, before time.Time, reason string, limit int, at time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&schema.DistributionRun{}).
			Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
			Where("status = ? AND created_at < ?", domain.RunStatusPending, before).
			Order("created_at ASC").
			Limit(NormalizePage(limit)).
			Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("failed to select stale runs: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		return tx.Model(&schema.DistributionRun{}).
			Where("id IN ? AND status = ?", ids, domain.RunStatusPending).
			Updates(map[string]interface{}{
				"status":         domain.RunStatusFailed,
				"failure_reason": reason,
				"failed_at":      at,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		logger.WarnCtx(ctx, "Failed stale pending runs", zap.Strings("run_ids", ids))
	}
	return ids, nil
}

// Ping checks the database connection
func (s *pgStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

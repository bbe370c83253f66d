// Package memory is an in-process implementation of store.Store.
// It keeps the same locking and constraint semantics as the PostgreSQL store
// and is used for local development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/store"
	"github.com/fractionalev/ownership-ledger/internal/store/schema"
)

type Store struct {
	mu sync.RWMutex

	assets    map[string]schema.Asset
	grants    map[string]schema.OwnershipGrant
	runs      map[string]schema.DistributionRun
	lineItems map[string][]schema.DistributionLineItem
	nextItem  int64

	locksMu    sync.Mutex
	assetLocks map[string]*sync.Mutex
}

// NewStore creates an empty memory store
func NewStore() *Store {
	return &Store{
		assets:     make(map[string]schema.Asset),
		grants:     make(map[string]schema.OwnershipGrant),
		runs:       make(map[string]schema.DistributionRun),
		lineItems:  make(map[string][]schema.DistributionLineItem),
		assetLocks: make(map[string]*sync.Mutex),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) assetLock(assetID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.assetLocks[assetID]
	if !ok {
		l = &sync.Mutex{}
		s.assetLocks[assetID] = l
	}
	return l
}

func cloneAsset(a schema.Asset) *schema.Asset {
	if a.Metadata != nil {
		a.Metadata = datatypes.JSON(bytes.Clone(a.Metadata))
	}
	return &a
}

func cloneRun(r schema.DistributionRun) *schema.DistributionRun {
	if r.Diagnostic != nil {
		r.Diagnostic = datatypes.JSON(bytes.Clone(r.Diagnostic))
	}
	return &r
}

func page[T any](items []T, limit int, offset uint64) []T {
	if offset >= uint64(len(items)) {
		return []T{}
	}
	end := offset + uint64(store.NormalizePage(limit)) //nolint:gosec,G115
	if end > uint64(len(items)) {
		end = uint64(len(items))
	}
	return items[offset:end]
}

func containsValue[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func (s *Store) CreateAsset(_ context.Context, input store.CreateAssetInput) (*schema.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assets[input.ID]; exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetAlreadyExists, input.ID)
	}

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
		asset.Metadata = datatypes.JSON(bytes.Clone(input.Metadata))
	}
	if asset.Status == domain.AssetStatusRetired {
		at := input.At
		asset.RetiredAt = &at
	}
	s.assets[asset.ID] = asset
	return cloneAsset(asset), nil
}

func (s *Store) GetAsset(_ context.Context, id string) (*schema.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[id]
	if !ok {
		return nil, nil
	}
	return cloneAsset(asset), nil
}

func (s *Store) ListAssets(_ context.Context, filter store.AssetQueryFilter) ([]*schema.Asset, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*schema.Asset, 0, len(s.assets))
	for _, asset := range s.assets {
		if len(filter.Categories) > 0 && !containsValue(filter.Categories, asset.Category) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsValue(filter.Statuses, asset.Status) {
			continue
		}
		matched = append(matched, cloneAsset(asset))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	return page(matched, filter.Limit, filter.Offset), uint64(len(matched)), nil
}

func (s *Store) UpdateAssetStatus(_ context.Context, id string, status domain.AssetStatus, at time.Time) (*schema.Asset, error) {
	l := s.assetLock(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, id)
	}
	if !domain.CanTransitionAssetStatus(asset.Status, status) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, asset.Status, status)
	}
	if asset.Status == status {
		return cloneAsset(asset), nil
	}

	asset.Status = status
	asset.UpdatedAt = at
	if status == domain.AssetStatusRetired {
		asset.RetiredAt = &at
	}
	s.assets[id] = asset
	return cloneAsset(asset), nil
}

func (s *Store) UpdateAssetHealth(_ context.Context, id string, health int, at time.Time) (*schema.Asset, error) {
	l := s.assetLock(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, id)
	}
	if asset.Status == domain.AssetStatusRetired {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetRetired, id)
	}

	asset.Health = health
	asset.UpdatedAt = at
	s.assets[id] = asset
	return cloneAsset(asset), nil
}

// allocatedLocked sums active grants; callers hold s.mu
func (s *Store) allocatedLocked(assetID string) int {
	total := 0
	for _, g := range s.grants {
		if g.AssetID == assetID && g.CancelledAt == nil {
			total += g.FractionBps
		}
	}
	return total
}

func (s *Store) CreateGrant(_ context.Context, input store.CreateGrantInput) (*schema.OwnershipGrant, error) {
	l := s.assetLock(input.AssetID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[input.AssetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, input.AssetID)
	}
	if asset.Status == domain.AssetStatusRetired {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetRetired, input.AssetID)
	}

	allocated := s.allocatedLocked(input.AssetID)
	if allocated+input.FractionBps > domain.BasisPointsDenominator {
		return nil, &domain.OverAllocationError{
			AssetID:   input.AssetID,
			Allocated: allocated,
			Requested: input.FractionBps,
		}
	}
	if _, exists := s.grants[input.ID]; exists {
		return nil, fmt.Errorf("grant %s already exists", input.ID)
	}

	grant := schema.OwnershipGrant{
		ID:              input.ID,
		AssetID:         input.AssetID,
		InvestorID:      input.InvestorID,
		FractionBps:     input.FractionBps,
		AmountPaidMinor: input.AmountPaidMinor,
		Currency:        input.Currency,
		CreatedAt:       input.At,
	}
	s.grants[grant.ID] = grant
	return &grant, nil
}

// lockGrantAsset resolves the asset of a grant and takes its lock
func (s *Store) lockGrantAsset(grantID string) (*sync.Mutex, error) {
	s.mu.RLock()
	grant, ok := s.grants[grantID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrGrantNotFound, grantID)
	}

	l := s.assetLock(grant.AssetID)
	l.Lock()
	return l, nil
}

func (s *Store) TransferGrant(_ context.Context, input store.TransferGrantInput) (*schema.OwnershipGrant, error) {
	l, err := s.lockGrantAsset(input.FromGrantID)
	if err != nil {
		return nil, err
	}
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	source := s.grants[input.FromGrantID]
	if source.CancelledAt != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrGrantAlreadyCancelled, source.ID)
	}
	if asset := s.assets[source.AssetID]; asset.Status == domain.AssetStatusRetired {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetRetired, asset.ID)
	}

	at := input.At
	reason := "transferred to " + input.ToInvestorID
	source.CancelledAt = &at
	source.CancelReason = &reason
	s.grants[source.ID] = source

	fromID := source.ID
	grant := schema.OwnershipGrant{
		ID:                     input.NewGrantID,
		AssetID:                source.AssetID,
		InvestorID:             input.ToInvestorID,
		FractionBps:            source.FractionBps,
		AmountPaidMinor:        input.AmountPaidMinor,
		Currency:               input.Currency,
		TransferredFromGrantID: &fromID,
		CreatedAt:              at,
	}
	s.grants[grant.ID] = grant
	return &grant, nil
}

func (s *Store) CancelGrant(_ context.Context, grantID string, reason string, at time.Time) (*schema.OwnershipGrant, error) {
	l, err := s.lockGrantAsset(grantID)
	if err != nil {
		return nil, err
	}
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	grant := s.grants[grantID]
	if grant.CancelledAt != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrGrantAlreadyCancelled, grantID)
	}
	grant.CancelledAt = &at
	grant.CancelReason = &reason
	s.grants[grantID] = grant
	return &grant, nil
}

func (s *Store) GetGrant(_ context.Context, grantID string) (*schema.OwnershipGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[grantID]
	if !ok {
		return nil, nil
	}
	return &grant, nil
}

func (s *Store) GetAllocatedBasisPoints(_ context.Context, assetID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.allocatedLocked(assetID), nil
}

func (s *Store) ListActiveGrants(_ context.Context, assetID string, asOf time.Time) ([]schema.OwnershipGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grants := []schema.OwnershipGrant{}
	for _, g := range s.grants {
		if g.AssetID == assetID && g.IsActiveAt(asOf) {
			grants = append(grants, g)
		}
	}
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].InvestorID != grants[j].InvestorID {
			return grants[i].InvestorID < grants[j].InvestorID
		}
		if !grants[i].CreatedAt.Equal(grants[j].CreatedAt) {
			return grants[i].CreatedAt.Before(grants[j].CreatedAt)
		}
		return grants[i].ID < grants[j].ID
	})
	return grants, nil
}

func (s *Store) ListGrantsByInvestor(_ context.Context, investorID string, includeCancelled bool) ([]schema.OwnershipGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grants := []schema.OwnershipGrant{}
	for _, g := range s.grants {
		if g.InvestorID != investorID {
			continue
		}
		if !includeCancelled && g.CancelledAt != nil {
			continue
		}
		grants = append(grants, g)
	}
	sort.Slice(grants, func(i, j int) bool {
		if !grants[i].CreatedAt.Equal(grants[j].CreatedAt) {
			return grants[i].CreatedAt.After(grants[j].CreatedAt)
		}
		return grants[i].ID > grants[j].ID
	})
	return grants, nil
}

func (s *Store) WithAssetLock(ctx context.Context, assetID string, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	_, ok := s.assets[assetID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAssetNotFound, assetID)
	}

	l := s.assetLock(assetID)
	l.Lock()
	defer l.Unlock()

	return fn(ctx)
}

func samePeriod(r schema.DistributionRun, assetID string, period domain.Period) bool {
	return r.AssetID == assetID && r.PeriodStart.Equal(period.Start) && r.PeriodEnd.Equal(period.End)
}

func (s *Store) findRun(match func(schema.DistributionRun) bool) *schema.DistributionRun {
	var found *schema.DistributionRun
	for _, r := range s.runs {
		if !match(r) {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			found = cloneRun(r)
		}
	}
	return found
}

func (s *Store) FindCompletedRun(_ context.Context, assetID string, period domain.Period) (*schema.DistributionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.findRun(func(r schema.DistributionRun) bool {
		return samePeriod(r, assetID, period) && r.Status == domain.RunStatusCompleted
	}), nil
}

func (s *Store) FindPendingRun(_ context.Context, assetID string, period domain.Period) (*schema.DistributionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.findRun(func(r schema.DistributionRun) bool {
		return samePeriod(r, assetID, period) && r.Status == domain.RunStatusPending
	}), nil
}

func (s *Store) FindRunByIdempotencyKey(_ context.Context, key string) (*schema.DistributionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.findRun(func(r schema.DistributionRun) bool {
		return r.IdempotencyKey == key && r.Status != domain.RunStatusFailed
	}), nil
}

func (s *Store) CreatePendingRun(_ context.Context, run *schema.DistributionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[run.AssetID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrAssetNotFound, run.AssetID)
	}
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	period := run.Period()
	for _, existing := range s.runs {
		if existing.Status == domain.RunStatusFailed {
			continue
		}
		if existing.IdempotencyKey == run.IdempotencyKey {
			return fmt.Errorf("%w: idempotency key held by %s", domain.ErrRunInProgress, existing.ID)
		}
		if samePeriod(existing, run.AssetID, period) {
			return fmt.Errorf("%w: period held by %s", domain.ErrRunInProgress, existing.ID)
		}
	}

	run.Status = domain.RunStatusPending
	s.runs[run.ID] = *cloneRun(*run)
	return nil
}

func (s *Store) CompleteRun(_ context.Context, runID string, items []schema.DistributionLineItem, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok || run.Status != domain.RunStatusPending {
		return fmt.Errorf("run %s is not pending", runID)
	}

	seen := make(map[string]struct{}, len(items))
	rows := make([]schema.DistributionLineItem, 0, len(items))
	for _, item := range items {
		if _, dup := seen[item.InvestorID]; dup {
			return fmt.Errorf("duplicate line item for investor %s in run %s", item.InvestorID, runID)
		}
		seen[item.InvestorID] = struct{}{}

		s.nextItem++
		item.ID = s.nextItem
		item.RunID = runID
		if item.CreatedAt.IsZero() {
			item.CreatedAt = at
		}
		rows = append(rows, item)
	}

	run.Status = domain.RunStatusCompleted
	run.CompletedAt = &at
	s.runs[runID] = run
	s.lineItems[runID] = rows
	return nil
}

func (s *Store) FailRun(_ context.Context, runID string, reason string, diagnostic []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok || run.Status != domain.RunStatusPending {
		return fmt.Errorf("run %s is not pending", runID)
	}

	run.Status = domain.RunStatusFailed
	run.FailureReason = &reason
	run.FailedAt = &at
	if len(diagnostic) > 0 {
		run.Diagnostic = datatypes.JSON(bytes.Clone(diagnostic))
	}
	s.runs[runID] = run
	return nil
}

func (s *Store) GetRun(_ context.Context, runID string) (*schema.DistributionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	return cloneRun(run), nil
}

func (s *Store) ListRunsForAsset(_ context.Context, assetID string, limit int, offset uint64) ([]schema.DistributionRun, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := []schema.DistributionRun{}
	for _, r := range s.runs {
		if r.AssetID == assetID {
			runs = append(runs, *cloneRun(r))
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID > runs[j].ID
	})
	return page(runs, limit, offset), uint64(len(runs)), nil
}

func (s *Store) ListLineItemsForRun(_ context.Context, runID string) ([]schema.DistributionLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := append([]schema.DistributionLineItem{}, s.lineItems[runID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].InvestorID < items[j].InvestorID })
	return items, nil
}

func (s *Store) ListLineItemsForInvestor(_ context.Context, investorID string, limit int, offset uint64) ([]schema.DistributionLineItem, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := []schema.DistributionLineItem{}
	for runID, rows := range s.lineItems {
		if s.runs[runID].Status != domain.RunStatusCompleted {
			continue
		}
		for _, item := range rows {
			if item.InvestorID == investorID {
				items = append(items, item)
			}
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return page(items, limit, offset), uint64(len(items)), nil
}

func (s *Store) FailStalePendingRuns(_ context.Context, before time.Time, reason string, limit int, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale := []schema.DistributionRun{}
	for _, r := range s.runs {
		if r.Status == domain.RunStatusPending && r.CreatedAt.Before(before) {
			stale = append(stale, r)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	stale = page(stale, limit, 0)

	ids := make([]string, 0, len(stale))
	for _, r := range stale {
		r.Status = domain.RunStatusFailed
		r.FailureReason = &reason
		failedAt := at
		r.FailedAt = &failedAt
		s.runs[r.ID] = r
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

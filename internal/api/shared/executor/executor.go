package executor

import (
	"context"
	"time"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/api/shared/constants"
	"github.com/fractionalev/ownership-ledger/internal/api/shared/dto"
	"github.com/fractionalev/ownership-ledger/internal/distribution"
	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/ledger"
	"github.com/fractionalev/ownership-ledger/internal/registry"
)

// Pinger checks the connection to the underlying database
type Pinger interface {
	Ping(ctx context.Context) error
}

// Executor is the interface for the API executor.
// It turns requests into calls on the registry, the ledger and the distribution executor
// and maps the results to response DTOs.
type Executor interface {
	CreateAsset(ctx context.Context, req dto.CreateAssetRequest) (*dto.AssetResponse, error)
	GetAsset(ctx context.Context, assetID string) (*dto.AssetResponse, error)
	ListAssets(ctx context.Context, categories []domain.AssetCategory, statuses []domain.AssetStatus, limit *int, offset *uint64) (*dto.AssetListResponse, error)
	UpdateAssetStatus(ctx context.Context, assetID string, status domain.AssetStatus) (*dto.AssetResponse, error)
	UpdateAssetHealth(ctx context.Context, assetID string, health int) (*dto.AssetResponse, error)

	GrantOwnership(ctx context.Context, assetID string, req dto.GrantOwnershipRequest) (*dto.GrantResponse, error)
	TransferGrant(ctx context.Context, grantID string, req dto.TransferGrantRequest) (*dto.GrantResponse, error)
	CancelGrant(ctx context.Context, grantID string, reason string) (*dto.GrantResponse, error)
	GetGrant(ctx context.Context, grantID string) (*dto.GrantResponse, error)
	ListInvestorGrants(ctx context.Context, investorID string, includeCancelled bool) (*dto.GrantListResponse, error)
	// GetOwnership returns the snapshot at asOf, or now when asOf is nil
	GetOwnership(ctx context.Context, assetID string, asOf *time.Time) (*dto.OwnershipResponse, error)
	GetAllocation(ctx context.Context, assetID string) (*dto.AllocationResponse, error)

	InitiateDistribution(ctx context.Context, assetID string, period domain.Period, totalRevenueMinor int64, currency string, idempotencyKey string) (*dto.DistributionRunResponse, error)
	GetDistributionRun(ctx context.Context, runID string) (*dto.DistributionRunResponse, error)
	ListAssetDistributions(ctx context.Context, assetID string, limit *int, offset *uint64) (*dto.DistributionRunListResponse, error)
	ListInvestorPayouts(ctx context.Context, investorID string, limit *int, offset *uint64) (*dto.PayoutListResponse, error)
	ReplaySettlement(ctx context.Context, runID string) (*dto.ReplaySettlementResponse, error)

	// Ping reports whether the database is reachable
	Ping(ctx context.Context) error
}

type executor struct {
	registry     registry.Registry
	ledger       ledger.Ledger
	distribution distribution.Executor
	pinger       Pinger
	clock        adapter.Clock
}

func NewExecutor(reg registry.Registry, led ledger.Ledger, dist distribution.Executor, pinger Pinger, clock adapter.Clock) Executor {
	return &executor{
		registry:     reg,
		ledger:       led,
		distribution: dist,
		pinger:       pinger,
		clock:        clock,
	}
}

// pagination resolves optional page parameters
func pagination(limit *int, offset *uint64) (int, uint64) {
	l := constants.DEFAULT_PAGE_SIZE
	if limit != nil && *limit > 0 {
		l = *limit
	}
	if l > constants.MAX_PAGE_SIZE {
		l = constants.MAX_PAGE_SIZE
	}

	o := constants.DEFAULT_OFFSET
	if offset != nil {
		o = *offset
	}
	return l, o
}

func (e *executor) CreateAsset(ctx context.Context, req dto.CreateAssetRequest) (*dto.AssetResponse, error) {
	asset, err := e.registry.CreateAsset(ctx, registry.CreateAssetInput{
		ID:                 req.ID,
		Name:               req.Name,
		Category:           req.Category,
		Status:             req.Status,
		OriginalValueMinor: req.OriginalValueMinor,
		Currency:           req.Currency,
		Health:             req.Health,
		Metadata:           req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return dto.MapAssetToDTO(asset), nil
}

func (e *executor) GetAsset(ctx context.Context, assetID string) (*dto.AssetResponse, error) {
	asset, err := e.registry.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return dto.MapAssetToDTO(asset), nil
}

func (e *executor) ListAssets(ctx context.Context, categories []domain.AssetCategory, statuses []domain.AssetStatus, limit *int, offset *uint64) (*dto.AssetListResponse, error) {
	l, o := pagination(limit, offset)
	assets, total, err := e.registry.ListAssets(ctx, registry.AssetFilter{
		Categories: categories,
		Statuses:   statuses,
		Limit:      l,
		Offset:     o,
	})
	if err != nil {
		return nil, err
	}

	resp := &dto.AssetListResponse{
		Assets: make([]dto.AssetResponse, 0, len(assets)),
		Total:  total,
		Offset: o,
		Limit:  l,
	}
	for _, asset := range assets {
		resp.Assets = append(resp.Assets, *dto.MapAssetToDTO(asset))
	}
	return resp, nil
}

func (e *executor) UpdateAssetStatus(ctx context.Context, assetID string, status domain.AssetStatus) (*dto.AssetResponse, error) {
	asset, err := e.registry.UpdateStatus(ctx, assetID, status)
	if err != nil {
		return nil, err
	}
	return dto.MapAssetToDTO(asset), nil
}

func (e *executor) UpdateAssetHealth(ctx context.Context, assetID string, health int) (*dto.AssetResponse, error) {
	asset, err := e.registry.UpdateHealth(ctx, assetID, health)
	if err != nil {
		return nil, err
	}
	return dto.MapAssetToDTO(asset), nil
}

func (e *executor) GrantOwnership(ctx context.Context, assetID string, req dto.GrantOwnershipRequest) (*dto.GrantResponse, error) {
	grant, err := e.ledger.GrantOwnership(ctx, ledger.GrantInput{
		AssetID:          assetID,
		InvestorID:       req.InvestorID,
		FractionBps:      req.FractionBps,
		AmountPaidMinor:  req.AmountPaidMinor,
		Currency:         req.Currency,
		InvestorVerified: req.InvestorVerified,
	})
	if err != nil {
		return nil, err
	}
	return dto.MapGrantToDTO(grant), nil
}

func (e *executor) TransferGrant(ctx context.Context, grantID string, req dto.TransferGrantRequest) (*dto.GrantResponse, error) {
	grant, err := e.ledger.TransferGrant(ctx, ledger.TransferInput{
		GrantID:          grantID,
		ToInvestorID:     req.ToInvestorID,
		AmountPaidMinor:  req.AmountPaidMinor,
		Currency:         req.Currency,
		InvestorVerified: req.InvestorVerified,
	})
	if err != nil {
		return nil, err
	}
	return dto.MapGrantToDTO(grant), nil
}

func (e *executor) CancelGrant(ctx context.Context, grantID string, reason string) (*dto.GrantResponse, error) {
	grant, err := e.ledger.CancelGrant(ctx, grantID, reason)
	if err != nil {
		return nil, err
	}
	return dto.MapGrantToDTO(grant), nil
}

func (e *executor) GetGrant(ctx context.Context, grantID string) (*dto.GrantResponse, error) {
	grant, err := e.ledger.GetGrant(ctx, grantID)
	if err != nil {
		return nil, err
	}
	return dto.MapGrantToDTO(grant), nil
}

func (e *executor) ListInvestorGrants(ctx context.Context, investorID string, includeCancelled bool) (*dto.GrantListResponse, error) {
	grants, err := e.ledger.ListInvestorGrants(ctx, investorID, includeCancelled)
	if err != nil {
		return nil, err
	}

	resp := &dto.GrantListResponse{Grants: make([]dto.GrantResponse, 0, len(grants))}
	for i := range grants {
		resp.Grants = append(resp.Grants, *dto.MapGrantToDTO(&grants[i]))
	}
	return resp, nil
}

func (e *executor) GetOwnership(ctx context.Context, assetID string, asOf *time.Time) (*dto.OwnershipResponse, error) {
	at := e.clock.Now().UTC()
	if asOf != nil {
		at = asOf.UTC()
	}

	shares, err := e.ledger.GetOwnershipSnapshot(ctx, assetID, &at)
	if err != nil {
		return nil, err
	}

	mapped, allocated := dto.MapSharesToDTO(shares)
	return &dto.OwnershipResponse{
		AssetID:      assetID,
		AsOf:         at,
		Shares:       mapped,
		AllocatedBps: allocated,
	}, nil
}

func (e *executor) GetAllocation(ctx context.Context, assetID string) (*dto.AllocationResponse, error) {
	allocation, err := e.ledger.GetAllocation(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return &dto.AllocationResponse{
		AssetID:      allocation.AssetID,
		AllocatedBps: allocation.Allocated,
		AvailableBps: allocation.Available,
	}, nil
}

func (e *executor) InitiateDistribution(ctx context.Context, assetID string, period domain.Period, totalRevenueMinor int64, currency string, idempotencyKey string) (*dto.DistributionRunResponse, error) {
	result, err := e.distribution.InitiateDistribution(ctx, distribution.InitiateInput{
		AssetID:           assetID,
		Period:            period,
		TotalRevenueMinor: totalRevenueMinor,
		Currency:          currency,
		IdempotencyKey:    idempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return dto.MapResultToDTO(result), nil
}

func (e *executor) GetDistributionRun(ctx context.Context, runID string) (*dto.DistributionRunResponse, error) {
	result, err := e.distribution.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return dto.MapResultToDTO(result), nil
}

func (e *executor) ListAssetDistributions(ctx context.Context, assetID string, limit *int, offset *uint64) (*dto.DistributionRunListResponse, error) {
	l, o := pagination(limit, offset)
	runs, total, err := e.distribution.ListRunsForAsset(ctx, assetID, l, o)
	if err != nil {
		return nil, err
	}

	resp := &dto.DistributionRunListResponse{
		Runs:   make([]dto.DistributionRunResponse, 0, len(runs)),
		Total:  total,
		Offset: o,
		Limit:  l,
	}
	for i := range runs {
		resp.Runs = append(resp.Runs, *dto.MapRunToDTO(&runs[i], nil, false))
	}
	return resp, nil
}

func (e *executor) ListInvestorPayouts(ctx context.Context, investorID string, limit *int, offset *uint64) (*dto.PayoutListResponse, error) {
	l, o := pagination(limit, offset)
	payouts, total, err := e.distribution.ListPayoutsForInvestor(ctx, investorID, l, o)
	if err != nil {
		return nil, err
	}

	resp := &dto.PayoutListResponse{
		Payouts: make([]dto.PayoutResponse, 0, len(payouts)),
		Total:   total,
		Offset:  o,
		Limit:   l,
	}
	for _, payout := range payouts {
		resp.Payouts = append(resp.Payouts, dto.MapPayoutToDTO(payout))
	}
	return resp, nil
}

func (e *executor) ReplaySettlement(ctx context.Context, runID string) (*dto.ReplaySettlementResponse, error) {
	count, err := e.distribution.ReemitSettlement(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &dto.ReplaySettlementResponse{RunID: runID, Instructions: count}, nil
}

func (e *executor) Ping(ctx context.Context) error {
	return e.pinger.Ping(ctx)
}

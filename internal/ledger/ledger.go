package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/logger"
	"github.com/fractionalev/ownership-ledger/internal/metrics"
	"github.com/fractionalev/ownership-ledger/internal/store"
	"github.com/fractionalev/ownership-ledger/internal/store/schema"
)

const maxInvestorIDLength = 128

// Config holds the ownership rules
type Config struct {
	DefaultCurrency string
	// TreasuryAccountID is the account that keeps unallocated revenue; it cannot hold grants
	TreasuryAccountID string
	// RequireVerifiedInvestor rejects grants and transfers whose recipient has no KYC assertion
	RequireVerifiedInvestor bool
}

// GrantInput describes a new ownership grant
type GrantInput struct {
	AssetID         string
	InvestorID      string
	FractionBps     int
	AmountPaidMinor int64
	Currency        string
	// InvestorVerified is the caller's assertion that the investor passed KYC
	InvestorVerified bool
}

// TransferInput moves a grant to another investor
type TransferInput struct {
	GrantID          string
	ToInvestorID     string
	AmountPaidMinor  int64
	Currency         string
	InvestorVerified bool
}

// Ledger is the append-only record of who owns what fraction of each asset
type Ledger interface {
	// GrantOwnership appends a grant if the asset has room for it
	GrantOwnership(ctx context.Context, input GrantInput) (*schema.OwnershipGrant, error)
	// TransferGrant cancels a grant and issues the same fraction to another investor
	TransferGrant(ctx context.Context, input TransferInput) (*schema.OwnershipGrant, error)
	CancelGrant(ctx context.Context, grantID string, reason string) (*schema.OwnershipGrant, error)
	GetGrant(ctx context.Context, grantID string) (*schema.OwnershipGrant, error)
	ListInvestorGrants(ctx context.Context, investorID string, includeCancelled bool) ([]schema.OwnershipGrant, error)
	// GetOwnershipSnapshot returns the active holdings of an asset at asOf (now when nil),
	// one share per investor ordered by investor id
	GetOwnershipSnapshot(ctx context.Context, assetID string, asOf *time.Time) ([]domain.Share, error)
	GetAllocation(ctx context.Context, assetID string) (domain.Allocation, error)
}

type ledger struct {
	config Config
	store  store.Store
	clock  adapter.Clock
	ids    adapter.IDGenerator
}

// NewLedger creates a new ownership ledger
func NewLedger(cfg Config, st store.Store, clock adapter.Clock, ids adapter.IDGenerator) Ledger {
	return &ledger{
		config: cfg,
		store:  st,
		clock:  clock,
		ids:    ids,
	}
}

func validateInvestorID(investorID string) error {
	if strings.TrimSpace(investorID) == "" {
		return fmt.Errorf("%w: investor id is required", domain.ErrInvalidInvestor)
	}
	if len(investorID) > maxInvestorIDLength {
		return fmt.Errorf("%w: investor id longer than %d characters", domain.ErrInvalidInvestor, maxInvestorIDLength)
	}
	return nil
}

// validateRecipient checks the investor that receives a grant
func (l *ledger) validateRecipient(investorID string) error {
	if err := validateInvestorID(investorID); err != nil {
		return err
	}
	if l.config.TreasuryAccountID != "" && investorID == l.config.TreasuryAccountID {
		return fmt.Errorf("%w: %s is the treasury account", domain.ErrInvalidInvestor, investorID)
	}
	return nil
}

func (l *ledger) currency(currency string) (string, error) {
	if currency == "" {
		currency = l.config.DefaultCurrency
	}
	return domain.NormalizeCurrency(currency)
}

func (l *ledger) GrantOwnership(ctx context.Context, input GrantInput) (*schema.OwnershipGrant, error) {
	grant, err := l.grantOwnership(ctx, input)
	if err != nil {
		metrics.IncGrant(metrics.GrantRejected)
		return nil, err
	}
	metrics.IncGrant(metrics.GrantCreated)
	return grant, nil
}

func (l *ledger) grantOwnership(ctx context.Context, input GrantInput) (*schema.OwnershipGrant, error) {
	if err := domain.ValidateBasisPoints(input.FractionBps); err != nil {
		return nil, err
	}
	if input.AmountPaidMinor < 0 {
		return nil, fmt.Errorf("%w: amount paid must not be negative", domain.ErrInvalidAmount)
	}
	if err := l.validateRecipient(input.InvestorID); err != nil {
		return nil, err
	}
	if l.config.RequireVerifiedInvestor && !input.InvestorVerified {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvestorNotVerified, input.InvestorID)
	}
	currency, err := l.currency(input.Currency)
	if err != nil {
		return nil, err
	}

	grant, err := l.store.CreateGrant(ctx, store.CreateGrantInput{
		ID:              l.ids.NewGrantID(),
		AssetID:         input.AssetID,
		InvestorID:      input.InvestorID,
		FractionBps:     input.FractionBps,
		AmountPaidMinor: input.AmountPaidMinor,
		Currency:        currency,
		At:              l.clock.Now(),
	})
	if err != nil {
		var overAllocation *domain.OverAllocationError
		if errors.As(err, &overAllocation) {
			logger.WarnCtx(ctx, "Grant rejected, asset over-allocated",
				zap.String("asset_id", input.AssetID),
				zap.Int("allocated_bps", overAllocation.Allocated),
				zap.Int("requested_bps", overAllocation.Requested),
			)
		}
		return nil, err
	}

	logger.InfoCtx(ctx, "Ownership granted",
		zap.String("actor", domain.ActorFromContext(ctx)),
		zap.String("grant_id", grant.ID),
		zap.String("asset_id", grant.AssetID),
		zap.String("investor_id", grant.InvestorID),
		zap.Int("fraction_bps", grant.FractionBps),
	)
	return grant, nil
}

func (l *ledger) TransferGrant(ctx context.Context, input TransferInput) (*schema.OwnershipGrant, error) {
	if err := l.validateRecipient(input.ToInvestorID); err != nil {
		return nil, err
	}
	if input.AmountPaidMinor < 0 {
		return nil, fmt.Errorf("%w: amount paid must not be negative", domain.ErrInvalidAmount)
	}
	if l.config.RequireVerifiedInvestor && !input.InvestorVerified {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvestorNotVerified, input.ToInvestorID)
	}
	currency, err := l.currency(input.Currency)
	if err != nil {
		return nil, err
	}

	source, err := l.GetGrant(ctx, input.GrantID)
	if err != nil {
		return nil, err
	}
	if source.InvestorID == input.ToInvestorID {
		return nil, fmt.Errorf("%w: grant %s is already held by %s", domain.ErrInvalidInvestor, source.ID, input.ToInvestorID)
	}

	grant, err := l.store.TransferGrant(ctx, store.TransferGrantInput{
		NewGrantID:      l.ids.NewGrantID(),
		FromGrantID:     input.GrantID,
		ToInvestorID:    input.ToInvestorID,
		AmountPaidMinor: input.AmountPaidMinor,
		Currency:        currency,
		At:              l.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	metrics.IncGrant(metrics.GrantTransferred)

	logger.InfoCtx(ctx, "Ownership transferred",
		zap.String("actor", domain.ActorFromContext(ctx)),
		zap.String("from_grant_id", input.GrantID),
		zap.String("grant_id", grant.ID),
		zap.String("asset_id", grant.AssetID),
		zap.String("from_investor_id", source.InvestorID),
		zap.String("to_investor_id", grant.InvestorID),
	)
	return grant, nil
}

func (l *ledger) CancelGrant(ctx context.Context, grantID string, reason string) (*schema.OwnershipGrant, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}

	grant, err := l.store.CancelGrant(ctx, grantID, reason, l.clock.Now())
	if err != nil {
		return nil, err
	}
	metrics.IncGrant(metrics.GrantCancelled)

	logger.InfoCtx(ctx, "Ownership grant cancelled",
		zap.String("actor", domain.ActorFromContext(ctx)),
		zap.String("grant_id", grant.ID),
		zap.String("asset_id", grant.AssetID),
		zap.String("reason", reason),
	)
	return grant, nil
}

func (l *ledger) GetGrant(ctx context.Context, grantID string) (*schema.OwnershipGrant, error) {
	grant, err := l.store.GetGrant(ctx, grantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	if grant == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrGrantNotFound, grantID)
	}
	return grant, nil
}

func (l *ledger) ListInvestorGrants(ctx context.Context, investorID string, includeCancelled bool) ([]schema.OwnershipGrant, error) {
	if err := validateInvestorID(investorID); err != nil {
		return nil, err
	}
	return l.store.ListGrantsByInvestor(ctx, investorID, includeCancelled)
}

func (l *ledger) requireAsset(ctx context.Context, assetID string) error {
	asset, err := l.store.GetAsset(ctx, assetID)
	if err != nil {
		return fmt.Errorf("failed to get asset: %w", err)
	}
	if asset == nil {
		return fmt.Errorf("%w: %s", domain.ErrAssetNotFound, assetID)
	}
	return nil
}

func (l *ledger) GetOwnershipSnapshot(ctx context.Context, assetID string, asOf *time.Time) ([]domain.Share, error) {
	if err := l.requireAsset(ctx, assetID); err != nil {
		return nil, err
	}

	at := l.clock.Now()
	if asOf != nil {
		at = asOf.UTC()
	}

	grants, err := l.store.ListActiveGrants(ctx, assetID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to list active grants: %w", err)
	}

	return aggregateShares(grants), nil
}

// aggregateShares sums grants per investor, ordered by investor id
func aggregateShares(grants []schema.OwnershipGrant) []domain.Share {
	byInvestor := make(map[string]int, len(grants))
	for _, g := range grants {
		byInvestor[g.InvestorID] += g.FractionBps
	}

	shares := make([]domain.Share, 0, len(byInvestor))
	for investorID, bps := range byInvestor {
		shares = append(shares, domain.Share{InvestorID: investorID, BasisPoints: bps})
	}
	sort.Slice(shares, func(i, j int) bool {
		return shares[i].InvestorID < shares[j].InvestorID
	})
	return shares
}

func (l *ledger) GetAllocation(ctx context.Context, assetID string) (domain.Allocation, error) {
	if err := l.requireAsset(ctx, assetID); err != nil {
		return domain.Allocation{}, err
	}

	allocated, err := l.store.GetAllocatedBasisPoints(ctx, assetID)
	if err != nil {
		return domain.Allocation{}, fmt.Errorf("failed to get allocated basis points: %w", err)
	}
	return domain.NewAllocation(assetID, allocated), nil
}

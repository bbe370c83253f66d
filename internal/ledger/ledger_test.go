package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/ledger"
	"github.com/fractionalev/ownership-ledger/internal/mocks"
	"github.com/fractionalev/ownership-ledger/internal/store"
	"github.com/fractionalev/ownership-ledger/internal/store/memory"
)

var baseTime = time.Date(2025, 11, 1, 8, 0, 0, 0, time.UTC)

type testLedger struct {
	ctrl   *gomock.Controller
	store  *memory.Store
	ledger ledger.Ledger

	mu  sync.Mutex
	now time.Time
}

func (tl *testLedger) advance(d time.Duration) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.now = tl.now.Add(d)
}

func setupTestLedger(t *testing.T, cfg ledger.Config) *testLedger {
	ctrl := gomock.NewController(t)
	tl := &testLedger{
		ctrl:  ctrl,
		store: memory.NewStore(),
		now:   baseTime,
	}

	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().DoAndReturn(func() time.Time {
		tl.mu.Lock()
		defer tl.mu.Unlock()
		return tl.now
	}).AnyTimes()

	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "NGN"
	}
	tl.ledger = ledger.NewLedger(cfg, tl.store, clock, adapter.NewIDGenerator())
	return tl
}

func (tl *testLedger) createAsset(t *testing.T, id string) {
	t.Helper()
	_, err := tl.store.CreateAsset(context.Background(), store.CreateAssetInput{
		ID:       id,
		Name:     "Asset " + id,
		Category: domain.AssetCategoryVehicle,
		Status:   domain.AssetStatusActive,
		Currency: "NGN",
		Health:   100,
		At:       baseTime,
	})
	require.NoError(t, err)
}

func grant(assetID, investorID string, bps int) ledger.GrantInput {
	return ledger.GrantInput{
		AssetID:          assetID,
		InvestorID:       investorID,
		FractionBps:      bps,
		AmountPaidMinor:  int64(bps) * 1000,
		InvestorVerified: true,
	}
}

func TestLedger_GrantOwnership(t *testing.T) {
	tl := setupTestLedger(t, ledger.Config{RequireVerifiedInvestor: true})
	tl.createAsset(t, "A")
	ctx := context.Background()

	g, err := tl.ledger.GrantOwnership(ctx, grant("A", "investor-1", 2500))
	require.NoError(t, err)
	assert.Regexp(t, `^grt_[0-9A-Z]{26}$`, g.ID)
	assert.Equal(t, "NGN", g.Currency)
	assert.Equal(t, baseTime, g.CreatedAt)
	assert.Nil(t, g.CancelledAt)

	allocation, err := tl.ledger.GetAllocation(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.Allocation{AssetID: "A", Allocated: 2500, Available: 7500}, allocation)
}

func TestLedger_GrantOwnership_OverAllocation(t *testing.T) {
	tl := setupTestLedger(t, ledger.Config{RequireVerifiedInvestor: true})
	tl.createAsset(t, "A")
	ctx := context.Background()

	_, err := tl.ledger.GrantOwnership(ctx, grant("A", "P", 5000))
	require.NoError(t, err)

	_, err = tl.ledger.GrantOwnership(ctx, grant("A", "Q", 5001))
	require.ErrorIs(t, err, domain.ErrOverAllocation)

	var overAllocation *domain.OverAllocationError
	require.True(t, errors.As(err, &overAllocation))
	assert.Equal(t, 5000, overAllocation.Allocated)
	assert.Equal(t, 5000, overAllocation.Available())
	assert.Equal(t, "asset A already has 5,000/10,000 basis points allocated; requested 5,001", err.Error())

	allocation, err := tl.ledger.GetAllocation(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 5000, allocation.Allocated)

	// the remaining half still fits exactly
	_, err = tl.ledger.GrantOwnership(ctx, grant("A", "Q", 5000))
	require.NoError(t, err)
}

func TestLedger_GrantOwnership_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ledger.Config
		input   ledger.GrantInput
		wantErr error
	}{
		{
			name:    "zero fraction",
			cfg:     ledger.Config{},
			input:   grant("A", "i", 0),
			wantErr: domain.ErrInvalidFraction,
		},
		{
			name:    "fraction above whole",
			cfg:     ledger.Config{},
			input:   grant("A", "i", 10001),
			wantErr: domain.ErrInvalidFraction,
		},
		{
			name: "negative amount",
			cfg:  ledger.Config{},
			input: ledger.GrantInput{
				AssetID: "A", InvestorID: "i", FractionBps: 10, AmountPaidMinor: -1,
			},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "empty investor",
			cfg:     ledger.Config{},
			input:   grant("A", " ", 10),
			wantErr: domain.ErrInvalidInvestor,
		},
		{
			name: "unverified investor",
			cfg:  ledger.Config{RequireVerifiedInvestor: true},
			input: ledger.GrantInput{
				AssetID: "A", InvestorID: "i", FractionBps: 10,
			},
			wantErr: domain.ErrInvestorNotVerified,
		},
		{
			name:    "treasury account",
			cfg:     ledger.Config{TreasuryAccountID: "treasury"},
			input:   grant("A", "treasury", 10),
			wantErr: domain.ErrInvalidInvestor,
		},
		{
			name:    "unknown asset",
			cfg:     ledger.Config{},
			input:   grant("missing", "i", 10),
			wantErr: domain.ErrAssetNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := setupTestLedger(t, tt.cfg)
			tl.createAsset(t, "A")

			_, err := tl.ledger.GrantOwnership(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLedger_GrantOwnership_UnverifiedAllowedWhenGateDisabled(t *testing.T) {
	tl := setupTestLedger(t, ledger.Config{RequireVerifiedInvestor: false})
	tl.createAsset(t, "A")

	_, err := tl.ledger.GrantOwnership(context.Background(), ledger.GrantInput{
		AssetID: "A", InvestorID: "i", FractionBps: 100,
	})
	assert.NoError(t, err)
}

func TestLedger_GrantOwnership_RetiredAsset(t *testing.T) {
	tl := setupTestLedger(t, ledger.Config{})
	tl.createAsset(t, "A")
	ctx := context.Background()

	_, err := tl.store.UpdateAssetStatus(ctx, "A", domain.AssetStatusRetired, baseTime)
	require.NoError(t, err)

	_, err = tl.ledger.GrantOwnership(ctx, grant("A", "i", 100))
	assert.ErrorIs(t, err, domain.ErrAssetRetired)
}

func TestLedger_GrantOwnership_ConcurrentNeverOverAllocates(t *testing.T) {
	tl := setupTestLedger(t, ledger.Config{})
	tl.createAsset(t, "A")
	ctx := context.Background()

	const workers = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tl.ledger.GrantOwnership(ctx, grant("A", fmt.Sprintf("investor-%02d", i), 300))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			if errors.Is(err, domain.ErrOverAllocation) {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	// 33 * 300 = 9900 fits, the 34th would be 10200
	assert.Equal(t, 33, succeeded)
	assert.Equal(t, workers-33, rejected)

	allocation, err := tl.ledger.GetAllocation(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 9900, allocation.Allocated)
	assert.Equal(t, 100, allocation.Available)
}

func TestLedger_GetOwnershipSnapshot_AggregatesPerInvestor(t *testing.T) {
	tl := setupTestLedger(t, ledger.Config{})
	tl.createAsset(t, "A")
	ctx := context.Background()

	_, err := tl.ledger.GrantOwnership(ctx, grant("A", "zed", 1000))
	require.NoError(t, err)
	_, err = tl.ledger.GrantOwnership(ctx, grant("A", "amy", 2000))
	require.NoError(t, err)
	_, err = tl.ledger.GrantOwnership(ctx, grant("A", "zed", 500))
	require.NoError(t, err)

	snapshot, err := tl.ledger.GetOwnershipSnapshot(ctx, "A", nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.Share{
		{InvestorID: "amy", BasisPoints: 2000},
		{InvestorID: "zed", BasisPoints: 1500},
	}, snapshot)
}

func TestLedger_GetOwnershipSnapshot_UnknownAsset(t *testing.T) {
	tl := setupTestLedger(t, ledger.Config{})

	_, err := tl.ledger.GetOwnershipSnapshot(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)

	_, err = tl.ledger.GetAllocation(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
}

func TestLedger_TransferGrant(t *testing.T) {
	tl := setupTestLedger(t, ledger.Config{RequireVerifiedInvestor: true})
	tl.createAsset(t, "A")
	ctx := context.Background()

	original, err := tl.ledger.GrantOwnership(ctx, grant("A", "seller", 4000))
	require.NoError(t, err)
	beforeTransfer := tl.now

	tl.advance(time.Hour)
	transferred, err := tl.ledger.TransferGrant(ctx, ledger.TransferInput{
		GrantID:          original.ID,
		ToInvestorID:     "buyer",
		AmountPaidMinor:  4_500_000,
		InvestorVerified: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "buyer", transferred.InvestorID)
	assert.Equal(t, 4000, transferred.FractionBps)
	require.NotNil(t, transferred.TransferredFromGrantID)
	assert.Equal(t, original.ID, *transferred.TransferredFromGrantID)

	source, err := tl.ledger.GetGrant(ctx, original.ID)
	require.NoError(t, err)
	require.NotNil(t, source.CancelledAt)

	// allocation is unchanged
	allocation, err := tl.ledger.GetAllocation(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 4000, allocation.Allocated)

	// history is preserved for audits
	past, err := tl.ledger.GetOwnershipSnapshot(ctx, "A", &beforeTransfer)
	require.NoError(t, err)
	assert.Equal(t, []domain.Share{{InvestorID: "seller", BasisPoints: 4000}}, past)

	current, err := tl.ledger.GetOwnershipSnapshot(ctx, "A", nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.Share{{InvestorID: "buyer", BasisPoints: 4000}}, current)

	sellerGrants, err := tl.ledger.ListInvestorGrants(ctx, "seller", true)
	require.NoError(t, err)
	assert.Len(t, sellerGrants, 1)

	activeSellerGrants, err := tl.ledger.ListInvestorGrants(ctx, "seller", false)
	require.NoError(t, err)
	assert.Empty(t, activeSellerGrants)

	// a cancelled grant cannot move again
	_, err = tl.ledger.TransferGrant(ctx, ledger.TransferInput{
		GrantID: original.ID, ToInvestorID: "third", InvestorVerified: true,
	})
	assert.ErrorIs(t, err, domain.ErrGrantAlreadyCancelled)
}

func TestLedger_TransferGrant_Validation(t *testing.T) {
	tl := setupTestLedger(t, ledger.Config{RequireVerifiedInvestor: true})
	tl.createAsset(t, "A")
	ctx := context.Background()

	original, err := tl.ledger.GrantOwnership(ctx, grant("A", "seller", 4000))
	require.NoError(t, err)

	_, err = tl.ledger.TransferGrant(ctx, ledger.TransferInput{GrantID: "grt_missing", ToInvestorID: "b", InvestorVerified: true})
	assert.ErrorIs(t, err, domain.ErrGrantNotFound)

	_, err = tl.ledger.TransferGrant(ctx, ledger.TransferInput{GrantID: original.ID, ToInvestorID: "b"})
	assert.ErrorIs(t, err, domain.ErrInvestorNotVerified)

	_, err = tl.ledger.TransferGrant(ctx, ledger.TransferInput{GrantID: original.ID, ToInvestorID: "seller", InvestorVerified: true})
	assert.ErrorIs(t, err, domain.ErrInvalidInvestor)
}

func TestLedger_TransferGrant_ToTreasuryRejected(t *testing.T) {
	tl := setupTestLedger(t, ledger.Config{TreasuryAccountID: "treasury"})
	tl.createAsset(t, "A")
	ctx := context.Background()

	original, err := tl.ledger.GrantOwnership(ctx, grant("A", "seller", 4000))
	require.NoError(t, err)

	_, err = tl.ledger.TransferGrant(ctx, ledger.TransferInput{GrantID: original.ID, ToInvestorID: "treasury", InvestorVerified: true})
	assert.ErrorIs(t, err, domain.ErrInvalidInvestor)

	current, err := tl.ledger.GetGrant(ctx, original.ID)
	require.NoError(t, err)
	assert.Nil(t, current.CancelledAt)
}

func TestLedger_CancelGrant(t *testing.T) {
	tl := setupTestLedger(t, ledger.Config{})
	tl.createAsset(t, "A")
	ctx := context.Background()

	g, err := tl.ledger.GrantOwnership(ctx, grant("A", "i", 9000))
	require.NoError(t, err)

	tl.advance(time.Minute)
	cancelled, err := tl.ledger.CancelGrant(ctx, g.ID, "refund")
	require.NoError(t, err)
	require.NotNil(t, cancelled.CancelledAt)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "refund", *cancelled.CancelReason)

	_, err = tl.ledger.CancelGrant(ctx, g.ID, "again")
	assert.ErrorIs(t, err, domain.ErrGrantAlreadyCancelled)

	_, err = tl.ledger.CancelGrant(ctx, "grt_missing", "")
	assert.ErrorIs(t, err, domain.ErrGrantNotFound)

	// the freed fraction can be granted again
	allocation, err := tl.ledger.GetAllocation(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 0, allocation.Allocated)

	_, err = tl.ledger.GrantOwnership(ctx, grant("A", "j", 10000))
	assert.NoError(t, err)
}

// Package storetest holds the behavioural test suite shared by every store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/store"
	"github.com/fractionalev/ownership-ledger/internal/store/schema"
)

// NewStoreFunc returns an empty, isolated store for one test
type NewStoreFunc func(t *testing.T) store.Store

var baseTime = time.Date(2025, 11, 1, 8, 0, 0, 0, time.UTC)

// RunStoreTests runs all store tests against an implementation
func RunStoreTests(t *testing.T, newStore NewStoreFunc) {
	t.Run("Assets", func(t *testing.T) {
		testAssets(t, newStore)
	})
	t.Run("Grants", func(t *testing.T) {
		testGrants(t, newStore)
	})
	t.Run("Runs", func(t *testing.T) {
		testRuns(t, newStore)
	})
}

// CreateTestAsset registers an active vehicle asset
func CreateTestAsset(t *testing.T, s store.Store, id string) *schema.Asset {
	t.Helper()
	asset, err := s.CreateAsset(context.Background(), store.CreateAssetInput{
		ID:                 id,
		Name:               "Vehicle " + id,
		Category:           domain.AssetCategoryVehicle,
		Status:             domain.AssetStatusActive,
		OriginalValueMinor: 850_000_000,
		Currency:           "NGN",
		Health:             100,
		At:                 baseTime,
	})
	require.NoError(t, err)
	return asset
}

func createGrant(t *testing.T, s store.Store, id, assetID, investorID string, bps int, at time.Time) *schema.OwnershipGrant {
	t.Helper()
	grant, err := s.CreateGrant(context.Background(), store.CreateGrantInput{
		ID:              id,
		AssetID:         assetID,
		InvestorID:      investorID,
		FractionBps:     bps,
		AmountPaidMinor: int64(bps) * 85_000,
		Currency:        "NGN",
		At:              at,
	})
	require.NoError(t, err)
	return grant
}

func newRun(id, assetID, key string, period domain.Period, total int64) *schema.DistributionRun {
	return &schema.DistributionRun{
		ID:                id,
		AssetID:           assetID,
		PeriodStart:       period.Start,
		PeriodEnd:         period.End,
		TotalRevenueMinor: total,
		Currency:          "NGN",
		IdempotencyKey:    key,
		RequestHash:       "hash-" + key,
		SnapshotAt:        baseTime.Add(time.Hour),
		CreatedAt:         baseTime.Add(time.Hour),
	}
}

func mustPeriod(t *testing.T, label string) domain.Period {
	t.Helper()
	p, err := domain.ParsePeriod(label)
	require.NoError(t, err)
	return p
}

func testAssets(t *testing.T, newStore NewStoreFunc) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		created, err := s.CreateAsset(ctx, store.CreateAssetInput{
			ID:                 "asset-create",
			Name:               "Battery pack 7",
			Category:           domain.AssetCategoryBattery,
			Status:             domain.AssetStatusActive,
			OriginalValueMinor: 1_200_000,
			Currency:           "NGN",
			Health:             0,
			Metadata:           []byte(`{"serial":"BP-7"}`),
			At:                 baseTime,
		})
		require.NoError(t, err)
		assert.Equal(t, "asset-create", created.ID)

		got, err := s.GetAsset(ctx, "asset-create")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Battery pack 7", got.Name)
		assert.Equal(t, domain.AssetCategoryBattery, got.Category)
		assert.Equal(t, domain.AssetStatusActive, got.Status)
		assert.Equal(t, int64(1_200_000), got.OriginalValueMinor)
		assert.Equal(t, 0, got.Health)
		assert.JSONEq(t, `{"serial":"BP-7"}`, string(got.Metadata))
		assert.True(t, baseTime.Equal(got.CreatedAt))
		assert.Nil(t, got.RetiredAt)
	})

	t.Run("get unknown asset returns nil", func(t *testing.T) {
		s := newStore(t)
		got, err := s.GetAsset(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		s := newStore(t)
		CreateTestAsset(t, s, "asset-dup")
		_, err := s.CreateAsset(ctx, store.CreateAssetInput{
			ID:       "asset-dup",
			Name:     "again",
			Category: domain.AssetCategoryVehicle,
			Status:   domain.AssetStatusActive,
			Currency: "NGN",
			At:       baseTime,
		})
		assert.ErrorIs(t, err, domain.ErrAssetAlreadyExists)
	})

	t.Run("list with filters and pagination", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 3; i++ {
			_, err := s.CreateAsset(ctx, store.CreateAssetInput{
				ID:       fmt.Sprintf("veh-%d", i),
				Name:     "vehicle",
				Category: domain.AssetCategoryVehicle,
				Status:   domain.AssetStatusActive,
				Currency: "NGN",
				Health:   100,
				At:       baseTime.Add(time.Duration(i) * time.Minute),
			})
			require.NoError(t, err)
		}
		_, err := s.CreateAsset(ctx, store.CreateAssetInput{
			ID:       "cab-0",
			Name:     "cabinet",
			Category: domain.AssetCategoryChargingCabinet,
			Status:   domain.AssetStatusMaintenance,
			Currency: "NGN",
			Health:   60,
			At:       baseTime,
		})
		require.NoError(t, err)

		assets, total, err := s.ListAssets(ctx, store.AssetQueryFilter{
			Categories: []domain.AssetCategory{domain.AssetCategoryVehicle},
			Limit:      2,
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(3), total)
		require.Len(t, assets, 2)
		assert.Equal(t, "veh-2", assets[0].ID)
		assert.Equal(t, "veh-1", assets[1].ID)

		assets, _, err = s.ListAssets(ctx, store.AssetQueryFilter{
			Categories: []domain.AssetCategory{domain.AssetCategoryVehicle},
			Limit:      2,
			Offset:     2,
		})
		require.NoError(t, err)
		require.Len(t, assets, 1)
		assert.Equal(t, "veh-0", assets[0].ID)

		assets, total, err = s.ListAssets(ctx, store.AssetQueryFilter{
			Statuses: []domain.AssetStatus{domain.AssetStatusMaintenance},
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), total)
		require.Len(t, assets, 1)
		assert.Equal(t, "cab-0", assets[0].ID)
	})

	t.Run("status transitions", func(t *testing.T) {
		s := newStore(t)
		CreateTestAsset(t, s, "asset-status")
		at := baseTime.Add(24 * time.Hour)

		asset, err := s.UpdateAssetStatus(ctx, "asset-status", domain.AssetStatusMaintenance, at)
		require.NoError(t, err)
		assert.Equal(t, domain.AssetStatusMaintenance, asset.Status)
		assert.True(t, at.Equal(asset.UpdatedAt))

		asset, err = s.UpdateAssetStatus(ctx, "asset-status", domain.AssetStatusRetired, at.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, domain.AssetStatusRetired, asset.Status)
		require.NotNil(t, asset.RetiredAt)

		_, err = s.UpdateAssetStatus(ctx, "asset-status", domain.AssetStatusActive, at.Add(2*time.Hour))
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		got, err := s.GetAsset(ctx, "asset-status")
		require.NoError(t, err)
		assert.Equal(t, domain.AssetStatusRetired, got.Status)
		require.NotNil(t, got.RetiredAt)

		_, err = s.UpdateAssetStatus(ctx, "missing", domain.AssetStatusActive, at)
		assert.ErrorIs(t, err, domain.ErrAssetNotFound)
	})

	t.Run("health updates", func(t *testing.T) {
		s := newStore(t)
		CreateTestAsset(t, s, "asset-health")

		asset, err := s.UpdateAssetHealth(ctx, "asset-health", 42, baseTime.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 42, asset.Health)

		_, err = s.UpdateAssetStatus(ctx, "asset-health", domain.AssetStatusRetired, baseTime.Add(2*time.Hour))
		require.NoError(t, err)
		_, err = s.UpdateAssetHealth(ctx, "asset-health", 10, baseTime.Add(3*time.Hour))
		assert.ErrorIs(t, err, domain.ErrAssetRetired)
	})
}

func testGrants(t *testing.T, newStore NewStoreFunc) {
	ctx := context.Background()

	t.Run("allocation cap is enforced", func(t *testing.T) {
		s := newStore(t)
		CreateTestAsset(t, s, "A")
		createGrant(t, s, "grt_1", "A", "X", 5000, baseTime)

		_, err := s.CreateGrant(ctx, store.CreateGrantInput{
			ID: "grt_2", AssetID: "A", InvestorID: "Y", FractionBps: 5001, Currency: "NGN", At: baseTime,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrOverAllocation)
		var oa *domain.OverAllocationError
		require.True(t, errors.As(err, &oa))
		assert.Equal(t, 5000, oa.Allocated)
		assert.Equal(t, 5001, oa.Requested)

		allocated, err := s.GetAllocatedBasisPoints(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 5000, allocated)

		createGrant(t, s, "grt_3", "A", "Y", 5000, baseTime)
		allocated, err = s.GetAllocatedBasisPoints(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 10000, allocated)

		_, err = s.CreateGrant(ctx, store.CreateGrantInput{
			ID: "grt_4", AssetID: "A", InvestorID: "Z", FractionBps: 1, Currency: "NGN", At: baseTime,
		})
		assert.ErrorIs(t, err, domain.ErrOverAllocation)
	})

	t.Run("unknown and retired assets", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateGrant(ctx, store.CreateGrantInput{
			ID: "grt_1", AssetID: "missing", InvestorID: "X", FractionBps: 100, Currency: "NGN", At: baseTime,
		})
		assert.ErrorIs(t, err, domain.ErrAssetNotFound)

		CreateTestAsset(t, s, "old")
		_, err = s.UpdateAssetStatus(ctx, "old", domain.AssetStatusRetired, baseTime)
		require.NoError(t, err)
		_, err = s.CreateGrant(ctx, store.CreateGrantInput{
			ID: "grt_2", AssetID: "old", InvestorID: "X", FractionBps: 100, Currency: "NGN", At: baseTime,
		})
		assert.ErrorIs(t, err, domain.ErrAssetRetired)
	})

	t.Run("cancel frees allocation and keeps history", func(t *testing.T) {
		s := newStore(t)
		CreateTestAsset(t, s, "A")
		createGrant(t, s, "grt_1", "A", "X", 6000, baseTime)
		createGrant(t, s, "grt_2", "A", "Y", 4000, baseTime)

		cancelAt := baseTime.Add(48 * time.Hour)
		cancelled, err := s.CancelGrant(ctx, "grt_1", "refund", cancelAt)
		require.NoError(t, err)
		require.NotNil(t, cancelled.CancelledAt)
		assert.True(t, cancelAt.Equal(*cancelled.CancelledAt))

		_, err = s.CancelGrant(ctx, "grt_1", "refund", cancelAt)
		assert.ErrorIs(t, err, domain.ErrGrantAlreadyCancelled)
		_, err = s.CancelGrant(ctx, "grt_missing", "refund", cancelAt)
		assert.ErrorIs(t, err, domain.ErrGrantNotFound)

		allocated, err := s.GetAllocatedBasisPoints(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 4000, allocated)

		before, err := s.ListActiveGrants(ctx, "A", cancelAt.Add(-time.Second))
		require.NoError(t, err)
		require.Len(t, before, 2)
		assert.Equal(t, "X", before[0].InvestorID)
		assert.Equal(t, "Y", before[1].InvestorID)

		after, err := s.ListActiveGrants(ctx, "A", cancelAt)
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.Equal(t, "Y", after[0].InvestorID)

		got, err := s.GetGrant(ctx, "grt_1")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NotNil(t, got.CancelReason)
		assert.Equal(t, "refund", *got.CancelReason)
	})

	t.Run("grants are not active before creation", func(t *testing.T) {
		s := newStore(t)
		CreateTestAsset(t, s, "A")
		createGrant(t, s, "grt_1", "A", "X", 1000, baseTime.Add(time.Hour))

		grants, err := s.ListActiveGrants(ctx, "A", baseTime)
		require.NoError(t, err)
		assert.Empty(t, grants)
	})

	t.Run("transfer moves the fraction", func(t *testing.T) {
		s := newStore(t)
		CreateTestAsset(t, s, "A")
		createGrant(t, s, "grt_1", "A", "X", 2500, baseTime)
		transferAt := baseTime.Add(time.Hour)

		grant, err := s.TransferGrant(ctx, store.TransferGrantInput{
			NewGrantID:      "grt_2",
			FromGrantID:     "grt_1",
			ToInvestorID:    "Y",
			AmountPaidMinor: 300_000,
			Currency:        "NGN",
			At:              transferAt,
		})
		require.NoError(t, err)
		assert.Equal(t, "Y", grant.InvestorID)
		assert.Equal(t, 2500, grant.FractionBps)
		require.NotNil(t, grant.TransferredFromGrantID)
		assert.Equal(t, "grt_1", *grant.TransferredFromGrantID)

		allocated, err := s.GetAllocatedBasisPoints(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 2500, allocated)

		active, err := s.ListActiveGrants(ctx, "A", transferAt)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "Y", active[0].InvestorID)

		_, err = s.TransferGrant(ctx, store.TransferGrantInput{
			NewGrantID: "grt_3", FromGrantID: "grt_1", ToInvestorID: "Z", Currency: "NGN", At: transferAt,
		})
		assert.ErrorIs(t, err, domain.ErrGrantAlreadyCancelled)

		xGrants, err := s.ListGrantsByInvestor(ctx, "X", false)
		require.NoError(t, err)
		assert.Empty(t, xGrants)
		xGrants, err = s.ListGrantsByInvestor(ctx, "X", true)
		require.NoError(t, err)
		require.Len(t, xGrants, 1)
		assert.NotNil(t, xGrants[0].CancelledAt)
	})
}

func testRuns(t *testing.T, newStore NewStoreFunc) {
	ctx := context.Background()

	t.Run("pending run lifecycle", func(t *testing.T) {
		s := newStore(t)
		CreateTestAsset(t, s, "A")
		period := mustPeriod(t, "2025-11")

		run := newRun("run_1", "A", "key-1", period, 1_000_001)
		require.NoError(t, s.CreatePendingRun(ctx, run))
		assert.Equal(t, domain.RunStatusPending, run.Status)

		pending, err := s.FindPendingRun(ctx, "A", period)
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, "run_1", pending.ID)

		completed, err := s.FindCompletedRun(ctx, "A", period)
		require.NoError(t, err)
		assert.Nil(t, completed)

		err = s.CreatePendingRun(ctx, newRun("run_2", "A", "key-1", mustPeriod(t, "2025-12"), 10))
		assert.ErrorIs(t, err, domain.ErrRunInProgress)
		err = s.CreatePendingRun(ctx, newRun("run_3", "A", "key-other", period, 10))
		assert.ErrorIs(t, err, domain.ErrRunInProgress)

		completeAt := baseTime.Add(2 * time.Hour)
		items := []schema.DistributionLineItem{
			{InvestorID: "X", FractionBps: 6000, AmountMinor: 600_001, RoundingAdjusted: true},
			{InvestorID: "Y", FractionBps: 4000, AmountMinor: 400_000},
		}
		require.NoError(t, s.CompleteRun(ctx, "run_1", items, completeAt))
		assert.Error(t, s.CompleteRun(ctx, "run_1", items, completeAt))
		assert.Error(t, s.FailRun(ctx, "run_1", "late", nil, completeAt))

		completed, err = s.FindCompletedRun(ctx, "A", period)
		require.NoError(t, err)
		require.NotNil(t, completed)
		assert.Equal(t, domain.RunStatusCompleted, completed.Status)
		require.NotNil(t, completed.CompletedAt)
		assert.True(t, completeAt.Equal(*completed.CompletedAt))

		byKey, err := s.FindRunByIdempotencyKey(ctx, "key-1")
		require.NoError(t, err)
		require.NotNil(t, byKey)
		assert.Equal(t, "run_1", byKey.ID)

		stored, err := s.ListLineItemsForRun(ctx, "run_1")
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, "X", stored[0].InvestorID)
		assert.Equal(t, int64(600_001), stored[0].AmountMinor)
		assert.True(t, stored[0].RoundingAdjusted)
		assert.Equal(t, "run_1", stored[0].RunID)
		assert.Equal(t, int64(400_000), stored[1].AmountMinor)
		assert.False(t, stored[1].RoundingAdjusted)
	})

	t.Run("failed run keeps diagnostic and frees the key", func(t *testing.T) {
		s := newStore(t)
		CreateTestAsset(t, s, "A")
		period := mustPeriod(t, "2025-11")

		require.NoError(t, s.CreatePendingRun(ctx, newRun("run_1", "A", "key-1", period, 100)))
		failAt := baseTime.Add(2 * time.Hour)
		require.NoError(t, s.FailRun(ctx, "run_1", "persistence failure", []byte(`{"error":"boom"}`), failAt))

		failed, err := s.GetRun(ctx, "run_1")
		require.NoError(t, err)
		require.NotNil(t, failed)
		assert.Equal(t, domain.RunStatusFailed, failed.Status)
		require.NotNil(t, failed.FailureReason)
		assert.Equal(t, "persistence failure", *failed.FailureReason)
		assert.JSONEq(t, `{"error":"boom"}`, string(failed.Diagnostic))

		byKey, err := s.FindRunByIdempotencyKey(ctx, "key-1")
		require.NoError(t, err)
		assert.Nil(t, byKey)

		retry := newRun("run_2", "A", "key-1", period, 100)
		retry.CreatedAt = failAt.Add(time.Minute)
		require.NoError(t, s.CreatePendingRun(ctx, retry))

		runs, total, err := s.ListRunsForAsset(ctx, "A", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), total)
		require.Len(t, runs, 2)
		assert.Equal(t, "run_2", runs[0].ID)
		assert.Equal(t, "run_1", runs[1].ID)
	})

	t.Run("investor payouts only include completed runs", func(t *testing.T) {
		s := newStore(t)
		CreateTestAsset(t, s, "A")

		require.NoError(t, s.CreatePendingRun(ctx, newRun("run_1", "A", "key-1", mustPeriod(t, "2025-10"), 100)))
		require.NoError(t, s.CompleteRun(ctx, "run_1", []schema.DistributionLineItem{
			{InvestorID: "X", FractionBps: 10000, AmountMinor: 100},
		}, baseTime.Add(time.Hour)))

		require.NoError(t, s.CreatePendingRun(ctx, newRun("run_2", "A", "key-2", mustPeriod(t, "2025-11"), 200)))

		items, total, err := s.ListLineItemsForInvestor(ctx, "X", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), total)
		require.Len(t, items, 1)
		assert.Equal(t, "run_1", items[0].RunID)
		assert.Equal(t, int64(100), items[0].AmountMinor)
	})

	t.Run("stale pending runs are failed", func(t *testing.T) {
		s := newStore(t)
		CreateTestAsset(t, s, "A")

		old := newRun("run_old", "A", "key-old", mustPeriod(t, "2025-09"), 100)
		old.CreatedAt = baseTime
		require.NoError(t, s.CreatePendingRun(ctx, old))
		fresh := newRun("run_new", "A", "key-new", mustPeriod(t, "2025-10"), 100)
		fresh.CreatedAt = baseTime.Add(time.Hour)
		require.NoError(t, s.CreatePendingRun(ctx, fresh))

		ids, err := s.FailStalePendingRuns(ctx, baseTime.Add(30*time.Minute), "abandoned", 10, baseTime.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{"run_old"}, ids)

		run, err := s.GetRun(ctx, "run_old")
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusFailed, run.Status)
		run, err = s.GetRun(ctx, "run_new")
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusPending, run.Status)
	})

	t.Run("asset lock requires the asset", func(t *testing.T) {
		s := newStore(t)
		err := s.WithAssetLock(ctx, "missing", func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, domain.ErrAssetNotFound)

		CreateTestAsset(t, s, "A")
		called := false
		err = s.WithAssetLock(ctx, "A", func(ctx context.Context) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, called)

		sentinel := errors.New("callback failed")
		err = s.WithAssetLock(ctx, "A", func(ctx context.Context) error { return sentinel })
		assert.ErrorIs(t, err, sentinel)
	})
}

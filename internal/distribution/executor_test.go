package distribution_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/distribution"
	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/ledger"
	"github.com/fractionalev/ownership-ledger/internal/mocks"
	"github.com/fractionalev/ownership-ledger/internal/settlement"
	"github.com/fractionalev/ownership-ledger/internal/store"
	"github.com/fractionalev/ownership-ledger/internal/store/memory"
	"github.com/fractionalev/ownership-ledger/internal/store/schema"
)

var baseTime = time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)

// flakyStore fails CompleteRun a configured number of times
type flakyStore struct {
	*memory.Store
	completeFailures atomic.Int32
}

func (s *flakyStore) CompleteRun(ctx context.Context, runID string, items []schema.DistributionLineItem, at time.Time) error {
	if s.completeFailures.Add(-1) >= 0 {
		return errors.New("connection reset by peer")
	}
	return s.Store.CompleteRun(ctx, runID, items, at)
}

// fixedSnapshot returns the same shares for every asset
type fixedSnapshot []domain.Share

func (f fixedSnapshot) GetOwnershipSnapshot(_ context.Context, _ string, _ *time.Time) ([]domain.Share, error) {
	return f, nil
}

type testExecutor struct {
	ctrl     *gomock.Controller
	store    *flakyStore
	ledger   ledger.Ledger
	emitter  *mocks.MockEmitter
	executor distribution.Executor

	mu      sync.Mutex
	emitted [][]settlement.Instruction
}

func (te *testExecutor) instructions() [][]settlement.Instruction {
	te.mu.Lock()
	defer te.mu.Unlock()
	return append([][]settlement.Instruction(nil), te.emitted...)
}

func setupTestExecutor(t *testing.T, snapshots distribution.SnapshotReader) *testExecutor {
	ctrl := gomock.NewController(t)
	te := &testExecutor{
		ctrl:    ctrl,
		store:   &flakyStore{Store: memory.NewStore()},
		emitter: mocks.NewMockEmitter(ctrl),
	}

	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(baseTime).AnyTimes()
	clock.EXPECT().Since(gomock.Any()).Return(time.Millisecond).AnyTimes()

	te.emitter.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, instructions []settlement.Instruction) error {
			te.mu.Lock()
			defer te.mu.Unlock()
			te.emitted = append(te.emitted, instructions)
			return nil
		}).AnyTimes()

	ids := adapter.NewIDGenerator()
	jsonAdapter := adapter.NewJSON()

	te.ledger = ledger.NewLedger(ledger.Config{
		DefaultCurrency:         "NGN",
		TreasuryAccountID:       "treasury",
		RequireVerifiedInvestor: true,
	}, te.store, clock, ids)

	if snapshots == nil {
		snapshots = te.ledger
	}
	te.executor = distribution.NewExecutor(distribution.Config{
		TreasuryAccountID: "treasury",
		DefaultCurrency:   "NGN",
	}, te.store, snapshots, te.emitter, clock, ids, adapter.NewCanonicalizer(jsonAdapter), jsonAdapter)

	return te
}

func (te *testExecutor) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, te.executor.Drain(ctx))
}

func (te *testExecutor) createAsset(t *testing.T, id string, grants map[string]int) {
	t.Helper()
	ctx := context.Background()
	_, err := te.store.CreateAsset(ctx, store.CreateAssetInput{
		ID:       id,
		Name:     "Battery " + id,
		Category: domain.AssetCategoryBattery,
		Status:   domain.AssetStatusActive,
		Currency: "NGN",
		Health:   100,
		At:       baseTime.Add(-time.Hour),
	})
	require.NoError(t, err)

	for investor, bps := range grants {
		_, err := te.ledger.GrantOwnership(ctx, ledger.GrantInput{
			AssetID:          id,
			InvestorID:       investor,
			FractionBps:      bps,
			AmountPaidMinor:  int64(bps) * 100,
			InvestorVerified: true,
		})
		require.NoError(t, err)
	}
}

func november(t *testing.T) domain.Period {
	t.Helper()
	p, err := domain.ParsePeriod("2025-11")
	require.NoError(t, err)
	return p
}

func amounts(items []schema.DistributionLineItem) map[string]int64 {
	out := make(map[string]int64, len(items))
	for _, item := range items {
		out[item.InvestorID] = item.AmountMinor
	}
	return out
}

func TestInitiateDistribution_Completes(t *testing.T) {
	te := setupTestExecutor(t, nil)
	te.createAsset(t, "A", map[string]int{"inv-1": 6000, "inv-2": 4000})

	result, err := te.executor.InitiateDistribution(context.Background(), distribution.InitiateInput{
		AssetID:           "A",
		Period:            november(t),
		TotalRevenueMinor: 100000,
	})
	require.NoError(t, err)
	te.drain(t)

	assert.False(t, result.Duplicate)
	assert.Equal(t, domain.RunStatusCompleted, result.Run.Status)
	assert.Equal(t, "NGN", result.Run.Currency)
	assert.True(t, strings.HasPrefix(result.Run.ID, domain.RUN_ID_PREFIX))
	assert.True(t, strings.HasPrefix(result.Run.IdempotencyKey, domain.DERIVED_IDEMPOTENCY_KEY_PREFIX))
	assert.Equal(t, baseTime, result.Run.SnapshotAt)
	require.NotNil(t, result.Run.CompletedAt)
	assert.Equal(t, map[string]int64{"inv-1": 60000, "inv-2": 40000}, amounts(result.LineItems))

	stored, err := te.executor.GetRun(context.Background(), result.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, stored.Run.Status)
	assert.Len(t, stored.LineItems, 2)

	emitted := te.instructions()
	require.Len(t, emitted, 1)
	require.Len(t, emitted[0], 2)
	for _, instruction := range emitted[0] {
		assert.Equal(t, result.Run.ID, instruction.RunID)
		assert.Equal(t, settlement.InstructionID(result.Run.ID, instruction.InvestorID), instruction.InstructionID)
	}
}

func TestInitiateDistribution_RemainderGoesToLargestFraction(t *testing.T) {
	te := setupTestExecutor(t, nil)
	te.createAsset(t, "A", map[string]int{"inv-1": 6000, "inv-2": 4000})

	result, err := te.executor.InitiateDistribution(context.Background(), distribution.InitiateInput{
		AssetID:           "A",
		Period:            november(t),
		TotalRevenueMinor: 1000001,
	})
	require.NoError(t, err)
	te.drain(t)

	assert.Equal(t, map[string]int64{"inv-1": 600001, "inv-2": 400000}, amounts(result.LineItems))
	for _, item := range result.LineItems {
		assert.Equal(t, item.InvestorID == "inv-1", item.RoundingAdjusted)
	}
}

func TestInitiateDistribution_RepeatIsIdempotent(t *testing.T) {
	te := setupTestExecutor(t, nil)
	te.createAsset(t, "A", map[string]int{"inv-1": 6000, "inv-2": 4000})
	ctx := context.Background()
	input := distribution.InitiateInput{
		AssetID:           "A",
		Period:            november(t),
		TotalRevenueMinor: 100000,
	}

	first, err := te.executor.InitiateDistribution(ctx, input)
	require.NoError(t, err)
	second, err := te.executor.InitiateDistribution(ctx, input)
	require.NoError(t, err)
	te.drain(t)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, amounts(first.LineItems), amounts(second.LineItems))

	runs, total, err := te.executor.ListRunsForAsset(ctx, "A", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
	assert.Len(t, runs, 1)
	assert.Len(t, te.instructions(), 1)
}

func TestInitiateDistribution_NewKeySamePeriodReturnsCompletedRun(t *testing.T) {
	te := setupTestExecutor(t, nil)
	te.createAsset(t, "A", map[string]int{"inv-1": 10000})
	ctx := context.Background()

	first, err := te.executor.InitiateDistribution(ctx, distribution.InitiateInput{
		AssetID: "A", Period: november(t), TotalRevenueMinor: 100000, IdempotencyKey: "feed:1",
	})
	require.NoError(t, err)

	second, err := te.executor.InitiateDistribution(ctx, distribution.InitiateInput{
		AssetID: "A", Period: november(t), TotalRevenueMinor: 250000, IdempotencyKey: "feed:2",
	})
	require.NoError(t, err)
	te.drain(t)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, int64(100000), second.Run.TotalRevenueMinor)
}

func TestInitiateDistribution_IdempotencyConflict(t *testing.T) {
	te := setupTestExecutor(t, nil)
	te.createAsset(t, "A", map[string]int{"inv-1": 10000})
	ctx := context.Background()

	_, err := te.executor.InitiateDistribution(ctx, distribution.InitiateInput{
		AssetID: "A", Period: november(t), TotalRevenueMinor: 100000, IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	_, err = te.executor.InitiateDistribution(ctx, distribution.InitiateInput{
		AssetID: "A", Period: november(t), TotalRevenueMinor: 200000, IdempotencyKey: "k1",
	})
	te.drain(t)
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestInitiateDistribution_TreasuryRetainsUnallocated(t *testing.T) {
	te := setupTestExecutor(t, nil)
	te.createAsset(t, "A", map[string]int{"inv-1": 6000, "inv-2": 3000})

	result, err := te.executor.InitiateDistribution(context.Background(), distribution.InitiateInput{
		AssetID: "A", Period: november(t), TotalRevenueMinor: 100000,
	})
	require.NoError(t, err)
	te.drain(t)

	require.Len(t, result.LineItems, 3)
	assert.Equal(t, map[string]int64{"inv-1": 60000, "inv-2": 30000, "treasury": 10000}, amounts(result.LineItems))
	for _, item := range result.LineItems {
		assert.Equal(t, item.InvestorID == "treasury", item.Retained)
	}

	emitted := te.instructions()
	require.Len(t, emitted, 1)
	assert.Len(t, emitted[0], 2)
	for _, instruction := range emitted[0] {
		assert.NotEqual(t, "treasury", instruction.InvestorID)
	}
}

func TestInitiateDistribution_TreasuryGrantsMerge(t *testing.T) {
	// grants held by the treasury before the ledger refused them
	te := setupTestExecutor(t, fixedSnapshot{
		{InvestorID: "inv-1", BasisPoints: 5000},
		{InvestorID: "treasury", BasisPoints: 2000},
	})
	te.createAsset(t, "A", nil)

	result, err := te.executor.InitiateDistribution(context.Background(), distribution.InitiateInput{
		AssetID: "A", Period: november(t), TotalRevenueMinor: 100000,
	})
	require.NoError(t, err)
	te.drain(t)

	require.Len(t, result.LineItems, 2)
	for _, item := range result.LineItems {
		if item.InvestorID == "treasury" {
			assert.Equal(t, 5000, item.FractionBps)
			assert.True(t, item.Retained)
		}
	}
}

func TestInitiateDistribution_FullyAllocatedTreasuryShareRetained(t *testing.T) {
	te := setupTestExecutor(t, fixedSnapshot{
		{InvestorID: "inv-1", BasisPoints: 7000},
		{InvestorID: "treasury", BasisPoints: 3000},
	})
	te.createAsset(t, "A", nil)

	result, err := te.executor.InitiateDistribution(context.Background(), distribution.InitiateInput{
		AssetID: "A", Period: november(t), TotalRevenueMinor: 100000,
	})
	require.NoError(t, err)
	te.drain(t)

	require.Len(t, result.LineItems, 2)
	assert.Equal(t, map[string]int64{"inv-1": 70000, "treasury": 30000}, amounts(result.LineItems))
	for _, item := range result.LineItems {
		assert.Equal(t, item.InvestorID == "treasury", item.Retained)
	}

	emitted := te.instructions()
	require.Len(t, emitted, 1)
	require.Len(t, emitted[0], 1)
	assert.Equal(t, "inv-1", emitted[0][0].InvestorID)
}

func TestInitiateDistribution_Validation(t *testing.T) {
	te := setupTestExecutor(t, nil)
	te.createAsset(t, "A", map[string]int{"inv-1": 10000})
	te.createAsset(t, "empty", nil)
	period := november(t)

	tests := []struct {
		name  string
		input distribution.InitiateInput
		err   error
	}{
		{
			name:  "zero revenue",
			input: distribution.InitiateInput{AssetID: "A", Period: period},
			err:   domain.ErrInvalidAmount,
		},
		{
			name:  "negative revenue",
			input: distribution.InitiateInput{AssetID: "A", Period: period, TotalRevenueMinor: -5},
			err:   domain.ErrInvalidAmount,
		},
		{
			name:  "inverted period",
			input: distribution.InitiateInput{AssetID: "A", Period: domain.Period{Start: period.End, End: period.Start}, TotalRevenueMinor: 10},
			err:   domain.ErrInvalidPeriod,
		},
		{
			name:  "bad currency",
			input: distribution.InitiateInput{AssetID: "A", Period: period, TotalRevenueMinor: 10, Currency: "naira"},
			err:   domain.ErrInvalidCurrency,
		},
		{
			name:  "reserved key prefix",
			input: distribution.InitiateInput{AssetID: "A", Period: period, TotalRevenueMinor: 10, IdempotencyKey: "derived:abc"},
			err:   domain.ErrInvalidIdempotencyKey,
		},
		{
			name:  "key too long",
			input: distribution.InitiateInput{AssetID: "A", Period: period, TotalRevenueMinor: 10, IdempotencyKey: strings.Repeat("k", 256)},
			err:   domain.ErrInvalidIdempotencyKey,
		},
		{
			name:  "unknown asset",
			input: distribution.InitiateInput{AssetID: "missing", Period: period, TotalRevenueMinor: 10},
			err:   domain.ErrAssetNotFound,
		},
		{
			name:  "no owners",
			input: distribution.InitiateInput{AssetID: "empty", Period: period, TotalRevenueMinor: 10},
			err:   domain.ErrNoOwners,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := te.executor.InitiateDistribution(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, domain.IsValidationError(err))
		})
	}

	runs, _, err := te.executor.ListRunsForAsset(context.Background(), "empty", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, te.instructions())
}

func TestInitiateDistribution_PersistenceFailureCanBeRetried(t *testing.T) {
	te := setupTestExecutor(t, nil)
	te.createAsset(t, "A", map[string]int{"inv-1": 7000, "inv-2": 3000})
	te.store.completeFailures.Store(1)
	ctx := context.Background()
	input := distribution.InitiateInput{AssetID: "A", Period: november(t), TotalRevenueMinor: 100000}

	_, err := te.executor.InitiateDistribution(ctx, input)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailure)
	assert.True(t, distribution.IsRunFailure(err))
	assert.NotContains(t, err.Error(), "connection reset")

	runs, _, err := te.executor.ListRunsForAsset(ctx, "A", 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusFailed, runs[0].Status)
	require.NotNil(t, runs[0].FailureReason)
	assert.Contains(t, *runs[0].FailureReason, "complete_run")
	assert.Contains(t, string(runs[0].Diagnostic), "connection reset")

	retry, err := te.executor.InitiateDistribution(ctx, input)
	require.NoError(t, err)
	te.drain(t)
	assert.False(t, retry.Duplicate)
	assert.NotEqual(t, runs[0].ID, retry.Run.ID)
	assert.Equal(t, map[string]int64{"inv-1": 70000, "inv-2": 30000}, amounts(retry.LineItems))
	assert.Len(t, te.instructions(), 1)
}

func TestInitiateDistribution_InvariantFailureRecordsRun(t *testing.T) {
	te := setupTestExecutor(t, fixedSnapshot{
		{InvestorID: "inv-1", BasisPoints: 5000},
		{InvestorID: "inv-1", BasisPoints: 5000},
	})
	te.createAsset(t, "A", nil)
	ctx := context.Background()

	_, err := te.executor.InitiateDistribution(ctx, distribution.InitiateInput{
		AssetID: "A", Period: november(t), TotalRevenueMinor: 100000,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.False(t, domain.IsValidationError(err))

	var runErr *domain.RunError
	require.True(t, errors.As(err, &runErr))

	stored, err := te.executor.GetRun(ctx, runErr.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, stored.Run.Status)
	assert.Empty(t, stored.LineItems)
	assert.Empty(t, te.instructions())
}

func TestInitiateDistribution_ConcurrentCallersShareOneRun(t *testing.T) {
	te := setupTestExecutor(t, nil)
	te.createAsset(t, "A", map[string]int{"inv-1": 2500, "inv-2": 2500, "inv-3": 5000})
	ctx := context.Background()
	input := distribution.InitiateInput{AssetID: "A", Period: november(t), TotalRevenueMinor: 999999}

	const callers = 25
	var (
		wg     sync.WaitGroup
		fresh  atomic.Int32
		runIDs sync.Map
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := te.executor.InitiateDistribution(ctx, input)
			if !assert.NoError(t, err) {
				return
			}
			if !result.Duplicate {
				fresh.Add(1)
			}
			runIDs.Store(result.Run.ID, struct{}{})
		}()
	}
	wg.Wait()
	te.drain(t)

	assert.Equal(t, int32(1), fresh.Load())
	count := 0
	runIDs.Range(func(_, _ any) bool {
		count++
		return true
	})
	assert.Equal(t, 1, count)
	assert.Len(t, te.instructions(), 1)
}

func TestInitiateDistribution_EmitFailureDoesNotFailRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := memory.NewStore()
	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(baseTime).AnyTimes()
	clock.EXPECT().Since(gomock.Any()).Return(time.Millisecond).AnyTimes()

	emitter := mocks.NewMockEmitter(ctrl)
	emitter.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("nats: timeout")).Times(1)

	jsonAdapter := adapter.NewJSON()
	exec := distribution.NewExecutor(distribution.Config{TreasuryAccountID: "treasury", DefaultCurrency: "NGN"},
		st, fixedSnapshot{{InvestorID: "inv-1", BasisPoints: 10000}}, emitter, clock,
		adapter.NewIDGenerator(), adapter.NewCanonicalizer(jsonAdapter), jsonAdapter)

	_, err := st.CreateAsset(context.Background(), store.CreateAssetInput{
		ID: "A", Name: "Cabinet", Category: domain.AssetCategoryChargingCabinet,
		Status: domain.AssetStatusActive, Currency: "NGN", Health: 100, At: baseTime,
	})
	require.NoError(t, err)

	result, err := exec.InitiateDistribution(context.Background(), distribution.InitiateInput{
		AssetID: "A", Period: november(t), TotalRevenueMinor: 5000,
	})
	require.NoError(t, err)
	require.NoError(t, exec.Drain(context.Background()))
	assert.Equal(t, domain.RunStatusCompleted, result.Run.Status)
}

func TestReemitSettlement(t *testing.T) {
	te := setupTestExecutor(t, nil)
	te.createAsset(t, "A", map[string]int{"inv-1": 6000, "inv-2": 3000})
	ctx := context.Background()

	result, err := te.executor.InitiateDistribution(ctx, distribution.InitiateInput{
		AssetID: "A", Period: november(t), TotalRevenueMinor: 100000,
	})
	require.NoError(t, err)
	te.drain(t)

	count, err := te.executor.ReemitSettlement(ctx, result.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	emitted := te.instructions()
	require.Len(t, emitted, 2)
	assert.ElementsMatch(t, emitted[0], emitted[1])

	_, err = te.executor.ReemitSettlement(ctx, "run_missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestReemitSettlement_FailedRun(t *testing.T) {
	te := setupTestExecutor(t, nil)
	te.createAsset(t, "A", map[string]int{"inv-1": 10000})
	te.store.completeFailures.Store(1)
	ctx := context.Background()

	_, err := te.executor.InitiateDistribution(ctx, distribution.InitiateInput{
		AssetID: "A", Period: november(t), TotalRevenueMinor: 100000,
	})
	var runErr *domain.RunError
	require.True(t, errors.As(err, &runErr))

	_, err = te.executor.ReemitSettlement(ctx, runErr.RunID)
	assert.ErrorIs(t, err, domain.ErrRunNotCompleted)
}

func TestListPayoutsForInvestor(t *testing.T) {
	te := setupTestExecutor(t, nil)
	te.createAsset(t, "A", map[string]int{"inv-1": 6000, "inv-2": 4000})
	te.createAsset(t, "B", map[string]int{"inv-1": 10000})
	ctx := context.Background()

	for _, assetID := range []string{"A", "B"} {
		_, err := te.executor.InitiateDistribution(ctx, distribution.InitiateInput{
			AssetID: assetID, Period: november(t), TotalRevenueMinor: 50000,
		})
		require.NoError(t, err)
	}
	te.drain(t)

	payouts, total, err := te.executor.ListPayoutsForInvestor(ctx, "inv-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), total)
	require.Len(t, payouts, 2)

	byAsset := map[string]int64{}
	for _, p := range payouts {
		assert.Equal(t, "NGN", p.Currency)
		assert.Equal(t, november(t).Start, p.PeriodStart.UTC())
		byAsset[p.AssetID] = p.LineItem.AmountMinor
	}
	assert.Equal(t, map[string]int64{"A": 30000, "B": 50000}, byAsset)

	_, _, err = te.executor.ListPayoutsForInvestor(ctx, " ", 10, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInvestor)

	_, _, err = te.executor.ListRunsForAsset(ctx, "missing", 10, 0)
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
}

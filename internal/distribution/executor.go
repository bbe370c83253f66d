package distribution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/logger"
	"github.com/fractionalev/ownership-ledger/internal/metrics"
	"github.com/fractionalev/ownership-ledger/internal/settlement"
	"github.com/fractionalev/ownership-ledger/internal/store"
	"github.com/fractionalev/ownership-ledger/internal/store/schema"
)

const maxIdempotencyKeyLength = 255

// Config holds distribution settings
type Config struct {
	// TreasuryAccountID receives the share of unallocated basis points
	TreasuryAccountID string
	DefaultCurrency   string
}

// InitiateInput requests the distribution of an asset's revenue for a period
type InitiateInput struct {
	AssetID           string
	Period            domain.Period
	TotalRevenueMinor int64
	Currency          string
	// IdempotencyKey is optional; one is derived from the asset and period when empty
	IdempotencyKey string
}

// Result is a distribution run with its line items
type Result struct {
	Run       *schema.DistributionRun
	LineItems []schema.DistributionLineItem
	// Duplicate is set when an earlier completed run was returned instead of a new one
	Duplicate bool
}

// Payout is an investor's line item together with the run it belongs to
type Payout struct {
	LineItem    schema.DistributionLineItem
	AssetID     string
	Currency    string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// SnapshotReader provides the ownership of an asset at an instant
type SnapshotReader interface {
	GetOwnershipSnapshot(ctx context.Context, assetID string, asOf *time.Time) ([]domain.Share, error)
}

// Executor runs distributions exactly once per idempotency key and per (asset, period)
//
//go:generate mockgen -source=executor.go -destination=../mocks/executor.go -package=mocks -mock_names=Executor=MockExecutor
type Executor interface {
	// InitiateDistribution validates, snapshots, computes and records a distribution run,
	// then hands settlement instructions to the emitter in the background
	InitiateDistribution(ctx context.Context, input InitiateInput) (*Result, error)
	// GetRun returns domain.ErrRunNotFound for unknown ids
	GetRun(ctx context.Context, runID string) (*Result, error)
	ListRunsForAsset(ctx context.Context, assetID string, limit int, offset uint64) ([]schema.DistributionRun, uint64, error)
	ListPayoutsForInvestor(ctx context.Context, investorID string, limit int, offset uint64) ([]Payout, uint64, error)
	// ReemitSettlement publishes the instructions of a completed run again and returns how many were sent
	ReemitSettlement(ctx context.Context, runID string) (int, error)
	// Drain waits for background settlement emission to finish
	Drain(ctx context.Context) error
}

type executor struct {
	config    Config
	store     store.Store
	snapshots SnapshotReader
	emitter   settlement.Emitter
	clock     adapter.Clock
	ids       adapter.IDGenerator
	canon     adapter.Canonicalizer
	json      adapter.JSON

	inflight sync.WaitGroup
}

// NewExecutor creates a new distribution executor
func NewExecutor(
	cfg Config,
	st store.Store,
	snapshots SnapshotReader,
	emitter settlement.Emitter,
	clock adapter.Clock,
	ids adapter.IDGenerator,
	canon adapter.Canonicalizer,
	jsonAdapter adapter.JSON,
) Executor {
	return &executor{
		config:    cfg,
		store:     st,
		snapshots: snapshots,
		emitter:   emitter,
		clock:     clock,
		ids:       ids,
		canon:     canon,
		json:      jsonAdapter,
	}
}

// runIdentity is the canonical form hashed into derived idempotency keys
type runIdentity struct {
	AssetID     string `json:"asset_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

// runRequest is the canonical form hashed into the request hash
type runRequest struct {
	runIdentity
	TotalRevenueMinor int64  `json:"total_revenue_minor"`
	Currency          string `json:"currency"`
}

// failureDiagnostic is stored with failed runs
type failureDiagnostic struct {
	Stage         string `json:"stage"`
	Error         string `json:"error"`
	SnapshotAt    string `json:"snapshot_at"`
	Owners        int    `json:"owners"`
	LineItems     int    `json:"line_items,omitempty"`
	AllocatedSum  int64  `json:"allocated_sum_minor,omitempty"`
	ExpectedTotal int64  `json:"expected_total_minor"`
}

func (e *executor) normalize(input InitiateInput) (InitiateInput, error) {
	input.AssetID = strings.TrimSpace(input.AssetID)
	if input.AssetID == "" {
		return input, fmt.Errorf("%w: asset id is required", domain.ErrAssetNotFound)
	}

	period, err := domain.NewPeriod(input.Period.Start, input.Period.End)
	if err != nil {
		return input, err
	}
	input.Period = period

	if input.TotalRevenueMinor <= 0 {
		return input, fmt.Errorf("%w: total revenue must be positive, got %d", domain.ErrInvalidAmount, input.TotalRevenueMinor)
	}

	currency := input.Currency
	if currency == "" {
		currency = e.config.DefaultCurrency
	}
	input.Currency, err = domain.NormalizeCurrency(currency)
	if err != nil {
		return input, err
	}

	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if len(input.IdempotencyKey) > maxIdempotencyKeyLength {
		return input, fmt.Errorf("%w: longer than %d characters", domain.ErrInvalidIdempotencyKey, maxIdempotencyKeyLength)
	}
	if strings.HasPrefix(input.IdempotencyKey, domain.DERIVED_IDEMPOTENCY_KEY_PREFIX) {
		return input, fmt.Errorf("%w: prefix %q is reserved", domain.ErrInvalidIdempotencyKey, domain.DERIVED_IDEMPOTENCY_KEY_PREFIX)
	}
	return input, nil
}

func identityOf(input InitiateInput) runIdentity {
	return runIdentity{
		AssetID:     input.AssetID,
		PeriodStart: input.Period.Start.Format(time.RFC3339Nano),
		PeriodEnd:   input.Period.End.Format(time.RFC3339Nano),
	}
}

// keyAndHash returns the effective idempotency key and the request hash
func (e *executor) keyAndHash(input InitiateInput) (string, string, error) {
	identity := identityOf(input)

	key := input.IdempotencyKey
	if key == "" {
		digest, err := e.canon.Digest(identity)
		if err != nil {
			return "", "", fmt.Errorf("failed to derive idempotency key: %w", err)
		}
		key = domain.DERIVED_IDEMPOTENCY_KEY_PREFIX + digest
	}

	hash, err := e.canon.Digest(runRequest{
		runIdentity:       identity,
		TotalRevenueMinor: input.TotalRevenueMinor,
		Currency:          input.Currency,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to hash request: %w", err)
	}
	return key, hash, nil
}

func (e *executor) InitiateDistribution(ctx context.Context, input InitiateInput) (*Result, error) {
	started := e.clock.Now()

	result, err := e.initiate(ctx, input)

	outcome := metrics.RunCompleted
	switch {
	case err != nil && domain.IsValidationError(err):
		outcome = metrics.RunRejected
	case err != nil:
		outcome = metrics.RunFailed
	case result.Duplicate:
		outcome = metrics.RunDuplicate
	}
	metrics.ObserveDistribution(outcome, e.clock.Since(started))
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		metrics.AddDistributed(result.Run.Currency, result.Run.TotalRevenueMinor)
		e.emitInBackground(ctx, result.Run, result.LineItems)
	}
	return result, nil
}

func (e *executor) initiate(ctx context.Context, input InitiateInput) (*Result, error) {
	input, err := e.normalize(input)
	if err != nil {
		return nil, err
	}

	key, hash, err := e.keyAndHash(input)
	if err != nil {
		return nil, err
	}

	var result *Result
	err = e.store.WithAssetLock(ctx, input.AssetID, func(ctx context.Context) error {
		var err error
		result, err = e.initiateLocked(ctx, input, key, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// initiateLocked runs while the asset lock is held
func (e *executor) initiateLocked(ctx context.Context, input InitiateInput, key, hash string) (*Result, error) {
	existing, err := e.store.FindRunByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find run by idempotency key: %w", err)
	}
	if existing != nil {
		if existing.RequestHash != hash {
			return nil, fmt.Errorf("%w: key %q belongs to run %s", domain.ErrIdempotencyConflict, key, existing.ID)
		}
		if existing.Status == domain.RunStatusPending {
			return nil, fmt.Errorf("%w: run %s", domain.ErrRunInProgress, existing.ID)
		}
		return e.duplicate(ctx, existing)
	}

	completed, err := e.store.FindCompletedRun(ctx, input.AssetID, input.Period)
	if err != nil {
		return nil, fmt.Errorf("failed to find completed run: %w", err)
	}
	if completed != nil {
		if completed.RequestHash != hash {
			logger.WarnCtx(ctx, "Period already distributed with a different request",
				zap.String("run_id", completed.ID),
				zap.String("idempotency_key", key),
				zap.Int64("recorded_total_minor", completed.TotalRevenueMinor),
				zap.Int64("requested_total_minor", input.TotalRevenueMinor),
			)
		}
		return e.duplicate(ctx, completed)
	}

	pending, err := e.store.FindPendingRun(ctx, input.AssetID, input.Period)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending run: %w", err)
	}
	if pending != nil {
		return nil, fmt.Errorf("%w: run %s", domain.ErrRunInProgress, pending.ID)
	}

	asset, err := e.store.GetAsset(ctx, input.AssetID)
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	if asset == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, input.AssetID)
	}

	snapshotAt := e.clock.Now()
	snapshot, err := e.snapshots.GetOwnershipSnapshot(ctx, input.AssetID, &snapshotAt)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot ownership: %w", err)
	}
	if len(snapshot) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoOwners, input.AssetID)
	}
	shares := e.withTreasuryShare(snapshot)

	run := &schema.DistributionRun{
		ID:                e.ids.NewRunID(),
		AssetID:           input.AssetID,
		PeriodStart:       input.Period.Start,
		PeriodEnd:         input.Period.End,
		TotalRevenueMinor: input.TotalRevenueMinor,
		Currency:          input.Currency,
		Status:            domain.RunStatusPending,
		IdempotencyKey:    key,
		RequestHash:       hash,
		SnapshotAt:        snapshotAt,
		CreatedAt:         snapshotAt,
	}
	if err := e.store.CreatePendingRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create pending run: %w", err)
	}

	diagnostic := failureDiagnostic{
		SnapshotAt:    snapshotAt.Format(time.RFC3339Nano),
		Owners:        len(shares),
		ExpectedTotal: input.TotalRevenueMinor,
	}

	allocations, err := ComputeDistribution(shares, domain.MinorUnits(input.TotalRevenueMinor))
	if err != nil {
		diagnostic.Stage = "compute"
		return nil, e.failRun(ctx, run, diagnostic, fmt.Errorf("%w: %v", domain.ErrInvariantViolation, err))
	}

	var sum domain.MinorUnits
	items := make([]schema.DistributionLineItem, 0, len(allocations))
	negative := false
	for _, a := range allocations {
		if a.AmountMinor < 0 {
			negative = true
		}
		sum += a.AmountMinor
		items = append(items, schema.DistributionLineItem{
			RunID:            run.ID,
			InvestorID:       a.InvestorID,
			FractionBps:      a.BasisPoints,
			AmountMinor:      int64(a.AmountMinor),
			RoundingAdjusted: a.RoundingAdjusted,
			Retained:         a.Retained,
			CreatedAt:        snapshotAt,
		})
	}
	diagnostic.LineItems = len(items)
	diagnostic.AllocatedSum = int64(sum)
	if negative || int64(sum) != input.TotalRevenueMinor {
		diagnostic.Stage = "conservation"
		return nil, e.failRun(ctx, run, diagnostic,
			fmt.Errorf("%w: line items sum to %d, expected %d", domain.ErrInvariantViolation, sum, input.TotalRevenueMinor))
	}

	completedAt := e.clock.Now()
	if err := e.store.CompleteRun(ctx, run.ID, items, completedAt); err != nil {
		diagnostic.Stage = "complete_run"
		return nil, e.failRun(ctx, run, diagnostic, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err))
	}

	run.Status = domain.RunStatusCompleted
	run.CompletedAt = &completedAt

	logger.InfoCtx(ctx, "Distribution run completed",
		zap.String("actor", domain.ActorFromContext(ctx)),
		zap.String("run_id", run.ID),
		zap.String("asset_id", run.AssetID),
		zap.String("period", input.Period.String()),
		zap.Int64("total_revenue_minor", run.TotalRevenueMinor),
		zap.String("currency", run.Currency),
		zap.Int("line_items", len(items)),
	)

	return &Result{Run: run, LineItems: items}, nil
}

// withTreasuryShare adds the unallocated basis points as a retained share.
// A share already held by the treasury account is always retained.
func (e *executor) withTreasuryShare(snapshot []domain.Share) []domain.Share {
	allocated := 0
	for _, s := range snapshot {
		allocated += s.BasisPoints
	}
	unallocated := domain.BasisPointsDenominator - allocated

	shares := make([]domain.Share, 0, len(snapshot)+1)
	merged := false
	for _, s := range snapshot {
		if s.InvestorID == e.config.TreasuryAccountID {
			if unallocated > 0 {
				s.BasisPoints += unallocated
			}
			s.Retained = true
			merged = true
		}
		shares = append(shares, s)
	}
	if !merged && unallocated > 0 {
		shares = append(shares, domain.Share{
			InvestorID:  e.config.TreasuryAccountID,
			BasisPoints: unallocated,
			Retained:    true,
		})
	}
	return shares
}

// failRun records a failed run and returns the error to hand back to the caller
func (e *executor) failRun(ctx context.Context, run *schema.DistributionRun, diagnostic failureDiagnostic, cause error) error {
	diagnostic.Error = cause.Error()

	logger.ErrorCtx(ctx, cause,
		zap.String("run_id", run.ID),
		zap.String("asset_id", run.AssetID),
		zap.String("stage", diagnostic.Stage),
	)

	data, err := e.json.Marshal(diagnostic)
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to marshal run diagnostic: %w", err), zap.String("run_id", run.ID))
		data = nil
	}

	reason := "failed during " + diagnostic.Stage
	if err := e.store.FailRun(ctx, run.ID, reason, data, e.clock.Now()); err != nil {
		// The sweeper fails the run once it is stale
		logger.ErrorCtx(ctx, fmt.Errorf("failed to mark run failed: %w", err), zap.String("run_id", run.ID))
	}

	return &domain.RunError{RunID: run.ID, Err: cause}
}

func (e *executor) duplicate(ctx context.Context, run *schema.DistributionRun) (*Result, error) {
	items, err := e.store.ListLineItemsForRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list line items: %w", err)
	}

	logger.InfoCtx(ctx, "Distribution already recorded", zap.String("run_id", run.ID))
	return &Result{Run: run, LineItems: items, Duplicate: true}, nil
}

// emitInBackground publishes settlement instructions without holding up the caller.
// Failures are logged and counted; ReemitSettlement replays them.
func (e *executor) emitInBackground(ctx context.Context, run *schema.DistributionRun, items []schema.DistributionLineItem) {
	instructions := settlement.InstructionsForRun(run, items)
	if len(instructions) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()

		if err := e.emitter.Emit(ctx, instructions); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to emit settlement instructions: %w", err),
				zap.String("run_id", run.ID),
				zap.Int("instructions", len(instructions)),
			)
			return
		}
		logger.InfoCtx(ctx, "Settlement instructions emitted",
			zap.String("run_id", run.ID),
			zap.Int("instructions", len(instructions)),
		)
	}()
}

func (e *executor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *executor) getRun(ctx context.Context, runID string) (*schema.DistributionRun, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return run, nil
}

func (e *executor) GetRun(ctx context.Context, runID string) (*Result, error) {
	run, err := e.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	items, err := e.store.ListLineItemsForRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list line items: %w", err)
	}
	return &Result{Run: run, LineItems: items}, nil
}

func (e *executor) ListRunsForAsset(ctx context.Context, assetID string, limit int, offset uint64) ([]schema.DistributionRun, uint64, error) {
	asset, err := e.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get asset: %w", err)
	}
	if asset == nil {
		return nil, 0, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, assetID)
	}

	return e.store.ListRunsForAsset(ctx, assetID, store.NormalizePage(limit), offset)
}

func (e *executor) ListPayoutsForInvestor(ctx context.Context, investorID string, limit int, offset uint64) ([]Payout, uint64, error) {
	if strings.TrimSpace(investorID) == "" {
		return nil, 0, fmt.Errorf("%w: investor id is required", domain.ErrInvalidInvestor)
	}

	items, total, err := e.store.ListLineItemsForInvestor(ctx, investorID, store.NormalizePage(limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list line items: %w", err)
	}

	runs := make(map[string]*schema.DistributionRun)
	payouts := make([]Payout, 0, len(items))
	for _, item := range items {
		run, ok := runs[item.RunID]
		if !ok {
			run, err = e.getRun(ctx, item.RunID)
			if err != nil {
				return nil, 0, err
			}
			runs[item.RunID] = run
		}
		payouts = append(payouts, Payout{
			LineItem:    item,
			AssetID:     run.AssetID,
			Currency:    run.Currency,
			PeriodStart: run.PeriodStart,
			PeriodEnd:   run.PeriodEnd,
		})
	}
	return payouts, total, nil
}

func (e *executor) ReemitSettlement(ctx context.Context, runID string) (int, error) {
	result, err := e.GetRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	if result.Run.Status != domain.RunStatusCompleted {
		return 0, fmt.Errorf("%w: run %s is %s", domain.ErrRunNotCompleted, runID, result.Run.Status)
	}

	instructions := settlement.InstructionsForRun(result.Run, result.LineItems)
	if err := e.emitter.Emit(ctx, instructions); err != nil {
		return 0, fmt.Errorf("failed to re-emit settlement instructions: %w", err)
	}

	logger.InfoCtx(ctx, "Settlement instructions re-emitted",
		zap.String("actor", domain.ActorFromContext(ctx)),
		zap.String("run_id", runID),
		zap.Int("instructions", len(instructions)),
	)
	return len(instructions), nil
}

// IsRunFailure reports whether err is a recorded run failure
func IsRunFailure(err error) bool {
	var runErr *domain.RunError
	return errors.As(err, &runErr)
}

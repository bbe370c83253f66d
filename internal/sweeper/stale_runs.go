package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/logger"
	"github.com/fractionalev/ownership-ledger/internal/metrics"
	"github.com/fractionalev/ownership-ledger/internal/store"
)

// StaleRunSweeperConfig holds configuration for the stale run sweeper
type StaleRunSweeperConfig struct {
	Interval   time.Duration // Time to sleep between sweep cycles
	StaleAfter time.Duration // Pending runs older than this are failed
	BatchSize  int           // Runs failed per store call

	RetryInitialInterval time.Duration
	RetryMaxElapsed      time.Duration
}

// staleRunSweeper fails distribution runs left pending by a crashed process,
// which frees their idempotency key and period for a retry
type staleRunSweeper struct {
	config    StaleRunSweeperConfig
	store     store.HistoryStore
	clock     adapter.Clock
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewStaleRunSweeper creates a new stale run sweeper
func NewStaleRunSweeper(config StaleRunSweeperConfig, st store.HistoryStore, clock adapter.Clock) Sweeper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 15 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.RetryInitialInterval <= 0 {
		config.RetryInitialInterval = time.Second
	}
	if config.RetryMaxElapsed <= 0 {
		config.RetryMaxElapsed = time.Minute
	}

	return &staleRunSweeper{
		config:    config,
		store:     st,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name
func (s *staleRunSweeper) Name() string {
	return "stale-run-sweeper"
}

// Start begins the sweeper's main loop
func (s *staleRunSweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh)
	}()

	logger.InfoCtx(ctx, "Starting stale run sweeper",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("stale_after", s.config.StaleAfter),
		zap.Int("batch_size", s.config.BatchSize),
	)

	for {
		if _, err := s.runSweepCycleWithRetry(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorCtx(ctx, err)
		}

		if !s.sleep(ctx, s.config.Interval) {
			logger.InfoCtx(ctx, "Stale run sweeper stopping")
			return nil
		}
	}
}

// Stop gracefully stops the sweeper with timeout support
func (s *staleRunSweeper) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	logger.InfoCtx(ctx, "Stopping stale run sweeper")
	close(s.stopChan)

	select {
	case <-s.stoppedCh:
		logger.InfoCtx(ctx, "Stale run sweeper stopped gracefully")
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Stale run sweeper stop interrupted by context timeout")
		return ctx.Err()
	}
}

// runSweepCycleWithRetry runs a sweep cycle, retrying store failures with exponential backoff
func (s *staleRunSweeper) runSweepCycleWithRetry(ctx context.Context) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.RetryInitialInterval
	b.MaxElapsedTime = s.config.RetryMaxElapsed
	b.RandomizationFactor = 0.5

	var failed int
	var attemptCount int
	operation := func() error {
		n, err := s.runSweepCycle(ctx)
		failed += n
		return err
	}
	notifyOnError := func(err error, duration time.Duration) {
		attemptCount++
		logger.WarnCtx(ctx, "Stale run sweep failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attemptCount),
			zap.Duration("next_retry_in", duration),
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notifyOnError); err != nil {
		return failed, fmt.Errorf("stale run sweep failed after %d attempts: %w", attemptCount+1, err)
	}
	return failed, nil
}

// runSweepCycle fails every run that has been pending longer than StaleAfter
func (s *staleRunSweeper) runSweepCycle(ctx context.Context) (int, error) {
	now := s.clock.Now()
	before := now.Add(-s.config.StaleAfter)
	reason := fmt.Sprintf("abandoned: pending for more than %s", s.config.StaleAfter)

	total := 0
	for {
		ids, err := s.store.FailStalePendingRuns(ctx, before, reason, s.config.BatchSize, now)
		if err != nil {
			return total, fmt.Errorf("failed to fail stale pending runs: %w", err)
		}
		total += len(ids)
		metrics.AddStaleRunsFailed(len(ids))

		for _, id := range ids {
			logger.WarnCtx(ctx, "Failed stale distribution run", zap.String("run_id", id))
		}

		if len(ids) < s.config.BatchSize {
			break
		}
	}

	if total > 0 {
		logger.InfoCtx(ctx, "Stale run sweep completed", zap.Int("failed_runs", total))
	}
	return total, nil
}

// sleep sleeps for the given duration but can be interrupted by context cancellation or Stop.
// Returns true if sleep completed normally.
func (s *staleRunSweeper) sleep(ctx context.Context, duration time.Duration) bool {
	select {
	case <-s.clock.After(duration):
		return true
	case <-ctx.Done():
		return false
	case <-s.stopChan:
		return false
	}
}

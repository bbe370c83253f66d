package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fractionalev/ownership-ledger/internal/logger"
)

// RetryConfig is the backoff policy for transient PostgreSQL conflicts
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns the retry policy used unless overridden
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		MaxElapsedTime:  5 * time.Second,
	}
}

func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	b.MaxElapsedTime = c.MaxElapsedTime
	return b
}

// withRetry runs op again while it fails with a transient conflict.
// Any other error is returned as is.
func (s *pgStore) withRetry(ctx context.Context, operation string, op func() error) error {
	attempt := func() error {
		err := op()
		if err == nil || isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnCtx(ctx, "Retrying after transient database conflict",
			zap.String("operation", operation),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	return backoff.RetryNotify(attempt, backoff.WithContext(s.retry.backOff(), ctx), notify)
}

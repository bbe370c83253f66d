package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/distribution"
	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/logger"
	"github.com/fractionalev/ownership-ledger/internal/metrics"
)

const (
	// RevenueSubject is the subject filter of the revenue aggregation feed
	RevenueSubject = "revenue.period_closed.>"

	// FEED_IDEMPOTENCY_KEY_PREFIX namespaces idempotency keys taken from feed event ids
	FEED_IDEMPOTENCY_KEY_PREFIX = "feed:"

	// FeedActor is the actor recorded for distributions started from the feed
	FeedActor = "revenue-feed"

	defaultRetryDelay = 30 * time.Second
)

// RevenuePeriodClosed is published by the revenue aggregation feed when an asset's period is closed
type RevenuePeriodClosed struct {
	EventID string `json:"event_id"`
	AssetID string `json:"asset_id"`
	// Period is an optional calendar label ("2025-11", "2025-W45") used when start and end are absent
	Period            string    `json:"period,omitempty"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	TotalRevenueMinor int64     `json:"total_revenue_minor"`
	Currency          string    `json:"currency"`
}

// Config holds the configuration for the revenue bridge
type Config struct {
	URL            string
	StreamName     string
	ConsumerName   string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
	AckWaitTimeout time.Duration
	MaxDeliver     int
	// RetryDelay is the redelivery delay for messages that failed for a transient reason
	RetryDelay time.Duration
}

// Bridge defines the interface for the revenue bridge
type Bridge interface {
	// Run consumes the revenue feed until ctx is cancelled
	Run(ctx context.Context) error
	// Close closes the bridge and cleans up resources
	Close()
}

type bridge struct {
	nc       adapter.NatsConn
	js       adapter.JetStream
	executor distribution.Executor
	json     adapter.JSON
	config   Config

	inflight sync.WaitGroup
}

// NewBridge creates a new revenue bridge
func NewBridge(
	cfg Config,
	natsJS adapter.NatsJetStream,
	executor distribution.Executor,
	jsonAdapter adapter.JSON,
) (Bridge, error) {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	return &bridge{
		nc:       nc,
		js:       js,
		executor: executor,
		json:     jsonAdapter,
		config:   cfg,
	}, nil
}

// Run starts the revenue bridge
func (b *bridge) Run(ctx context.Context) error {
	logger.Info("Starting revenue bridge", zap.String("stream", b.config.StreamName), zap.String("consumer", b.config.ConsumerName))

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       b.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.config.AckWaitTimeout,
		MaxDeliver:    b.config.MaxDeliver,
		FilterSubject: RevenueSubject,
	}

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.config.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	consumerInfo, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.Info("Consumer created/retrieved", zap.String("consumer", consumerInfo.Name))

	msgChan := make(chan adapter.Message, 100)
	sub, err := consumer.Consume(func(msg adapter.Message) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
			// Left unacknowledged; redelivered after AckWait
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	logger.Info("Started consuming messages")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down revenue bridge")
			b.inflight.Wait()
			return ctx.Err()
		case msg := <-msgChan:
			b.inflight.Add(1)
			go func() {
				defer b.inflight.Done()
				b.handleMessage(context.WithoutCancel(ctx), msg)
			}()
		}
	}
}

// disposition is what happens to a message after it was handled
type disposition int

const (
	dispositionAck disposition = iota
	dispositionTerm
	dispositionRetry
)

// handleMessage processes a single revenue message
func (b *bridge) handleMessage(ctx context.Context, msg adapter.Message) {
	fields := []zap.Field{zap.String("subject", msg.Subject())}
	if metadata, err := msg.Metadata(); err == nil && metadata != nil {
		fields = append(fields, zap.Uint64("deliveryCount", metadata.NumDelivered))
	}

	var event RevenuePeriodClosed
	if err := b.json.Unmarshal(msg.Data(), &event); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to unmarshal revenue event: %w", err), fields...)
		b.settle(ctx, msg, dispositionTerm)
		return
	}

	fields = append(fields,
		zap.String("eventID", event.EventID),
		zap.String("assetID", event.AssetID),
		zap.Int64("totalRevenueMinor", event.TotalRevenueMinor),
		zap.String("currency", event.Currency),
	)
	logger.InfoCtx(ctx, "Received revenue event", fields...)

	input, err := toInitiateInput(event)
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("invalid revenue event: %w", err), fields...)
		b.settle(ctx, msg, dispositionTerm)
		return
	}

	result, err := b.executor.InitiateDistribution(domain.WithActor(ctx, FeedActor), input)
	if err != nil {
		d := classify(err)
		if d == dispositionTerm {
			logger.ErrorCtx(ctx, fmt.Errorf("revenue event rejected: %w", err), fields...)
		} else {
			logger.WarnCtx(ctx, "Failed to distribute revenue, will retry", append(fields, zap.Error(err))...)
		}
		b.settle(ctx, msg, d)
		return
	}

	logger.InfoCtx(ctx, "Revenue distributed",
		append(fields,
			zap.String("runID", result.Run.ID),
			zap.Bool("duplicate", result.Duplicate),
		)...,
	)
	b.settle(ctx, msg, dispositionAck)
}

// toInitiateInput maps a feed event to a distribution request
func toInitiateInput(event RevenuePeriodClosed) (distribution.InitiateInput, error) {
	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		return distribution.InitiateInput{}, errors.New("event_id is required")
	}

	var period domain.Period
	var err error
	if event.PeriodStart.IsZero() && event.PeriodEnd.IsZero() && event.Period != "" {
		period, err = domain.ParsePeriod(event.Period)
	} else {
		period, err = domain.NewPeriod(event.PeriodStart, event.PeriodEnd)
	}
	if err != nil {
		return distribution.InitiateInput{}, err
	}

	return distribution.InitiateInput{
		AssetID:           event.AssetID,
		Period:            period,
		TotalRevenueMinor: event.TotalRevenueMinor,
		Currency:          event.Currency,
		IdempotencyKey:    FEED_IDEMPOTENCY_KEY_PREFIX + eventID,
	}, nil
}

// classify decides whether a failed distribution is redelivered
func classify(err error) disposition {
	switch {
	case errors.Is(err, domain.ErrRunInProgress),
		errors.Is(err, domain.ErrPersistenceFailure):
		return dispositionRetry
	// a reused event id with a different payload never succeeds on redelivery
	case errors.Is(err, domain.ErrIdempotencyConflict),
		domain.IsValidationError(err),
		errors.Is(err, domain.ErrInvariantViolation):
		return dispositionTerm
	default:
		return dispositionRetry
	}
}

func (b *bridge) settle(ctx context.Context, msg adapter.Message, d disposition) {
	var err error
	switch d {
	case dispositionAck:
		err = msg.Ack()
		metrics.IncRevenueMessage(metrics.MessageAcked)
	case dispositionTerm:
		err = msg.Term()
		metrics.IncRevenueMessage(metrics.MessageTermed)
	default:
		err = msg.NakWithDelay(b.config.RetryDelay)
		metrics.IncRevenueMessage(metrics.MessageNaked)
	}
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to settle message: %w", err), zap.String("subject", msg.Subject()))
	}
}

// Close closes the bridge and cleans up resources
func (b *bridge) Close() {
	if b.nc == nil {
		return
	}

	b.nc.Close()
}

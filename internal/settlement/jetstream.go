package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/logger"
	"github.com/fractionalev/ownership-ledger/internal/metrics"
)

// Config holds the configuration for the JetStream settlement publisher
type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ConnectionName  string
	PoolSize        int
	QueueSize       int
	PublishTimeout  time.Duration
	DuplicateWindow time.Duration
}

type jetStreamEmitter struct {
	nc     adapter.NatsConn
	js     adapter.JetStream
	pool   pond.Pool
	json   adapter.JSON
	config Config
}

// NewJetStreamEmitter connects to NATS and makes sure the settlement stream exists
func NewJetStreamEmitter(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (Emitter, error) {
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

	err = js.EnsureStream(ctx, jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Duplicates: cfg.DuplicateWindow,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure settlement stream: %w", err)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	var poolOpts []pond.Option
	if cfg.QueueSize > 0 {
		poolOpts = append(poolOpts, pond.WithQueueSize(cfg.QueueSize))
	}

	return &jetStreamEmitter{
		nc:     nc,
		js:     js,
		pool:   pond.NewPool(poolSize, poolOpts...),
		json:   jsonAdapter,
		config: cfg,
	}, nil
}

// subject builds the subject of an instruction, e.g. settlement.instructions.ngn
func (e *jetStreamEmitter) subject(instruction Instruction) string {
	return fmt.Sprintf("%s.%s", e.config.SubjectPrefix, strings.ToLower(instruction.Currency))
}

func (e *jetStreamEmitter) publish(ctx context.Context, instruction Instruction) error {
	data, err := e.json.Marshal(instruction)
	if err != nil {
		return fmt.Errorf("failed to marshal instruction %s: %w", instruction.InstructionID, err)
	}

	if e.config.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.PublishTimeout)
		defer cancel()
	}

	ack, err := e.js.Publish(ctx, e.subject(instruction), data, jetstream.WithMsgID(instruction.InstructionID))
	if err != nil {
		return fmt.Errorf("failed to publish instruction %s: %w", instruction.InstructionID, err)
	}

	if ack != nil && ack.Duplicate {
		logger.DebugCtx(ctx, "Settlement instruction already published",
			zap.String("instruction_id", instruction.InstructionID))
	}
	return nil
}

// Emit publishes every instruction on the worker pool and waits for all of them
func (e *jetStreamEmitter) Emit(ctx context.Context, instructions []Instruction) error {
	if len(instructions) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	group := e.pool.NewGroup()
	for _, instruction := range instructions {
		group.Submit(func() {
			if err := e.publish(ctx, instruction); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("settlement worker pool failed: %w", err)
	}

	failed := len(errs)
	metrics.AddSettlementInstructions(metrics.ResultSuccess, len(instructions)-failed)
	metrics.AddSettlementInstructions(metrics.ResultError, failed)

	if failed > 0 {
		return fmt.Errorf("%d of %d settlement instructions failed: %w", failed, len(instructions), errors.Join(errs...))
	}
	return nil
}

// Close drains the worker pool and closes the NATS connection
func (e *jetStreamEmitter) Close() {
	if e.pool != nil {
		e.pool.StopAndWait()
	}
	if e.nc == nil {
		return
	}

	e.nc.Close()
}

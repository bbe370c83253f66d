package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/bridge"
	"github.com/fractionalev/ownership-ledger/internal/config"
	"github.com/fractionalev/ownership-ledger/internal/distribution"
	"github.com/fractionalev/ownership-ledger/internal/ledger"
	"github.com/fractionalev/ownership-ledger/internal/logger"
	"github.com/fractionalev/ownership-ledger/internal/metrics"
	"github.com/fractionalev/ownership-ledger/internal/settlement"
	"github.com/fractionalev/ownership-ledger/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadRevenueBridgeConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "revenue-bridge",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Revenue Bridge")

	metrics.Init()

	// Connect to database
	pgCfg := store.PostgresConfig{
		DSN:             cfg.Database.DSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		Debug:           cfg.Debug,
	}
	if cfg.Database.ReadHost != "" {
		pgCfg.ReplicaDSN = cfg.Database.ReadDSN()
	}
	db, err := store.OpenPostgres(pgCfg)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("host", cfg.Database.Host))
	}
	maxOpenConns, _, _, _ := store.NormalizeConnectionPoolSettings(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, 0, 0)
	dataStore := store.NewPGStore(db, store.WithLockConcurrency(store.LockConcurrencyForPool(maxOpenConns)))
	logger.InfoCtx(ctx, "Connected to database", zap.Int("max_open_conns", maxOpenConns))

	// Initialize adapters
	clock := adapter.NewClock()
	ids := adapter.NewIDGenerator()
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()

	// Settlement emitter shares the NATS server with the revenue stream
	emitter, err := settlement.NewJetStreamEmitter(ctx, settlement.Config{
		URL:             cfg.NATS.URL,
		StreamName:      cfg.Settlement.StreamName,
		SubjectPrefix:   cfg.Settlement.SubjectPrefix,
		MaxReconnects:   cfg.NATS.MaxReconnects,
		ReconnectWait:   cfg.NATS.ReconnectWait,
		ConnectionName:  cfg.NATS.ConnectionName + "-settlement",
		PoolSize:        cfg.Settlement.PoolSize,
		QueueSize:       cfg.Settlement.QueueSize,
		PublishTimeout:  cfg.Settlement.PublishTimeout,
		DuplicateWindow: cfg.Settlement.DuplicateWindow,
	}, natsJS, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create settlement emitter", zap.Error(err))
	}
	defer emitter.Close()

	ownershipLedger := ledger.NewLedger(ledger.Config{
		DefaultCurrency:         cfg.Ledger.Currency,
		TreasuryAccountID:       cfg.Ledger.TreasuryAccountID,
		RequireVerifiedInvestor: cfg.Ledger.RequireVerifiedInvestor,
	}, dataStore, clock, ids)
	distributionExecutor := distribution.NewExecutor(distribution.Config{
		TreasuryAccountID: cfg.Ledger.TreasuryAccountID,
		DefaultCurrency:   cfg.Ledger.Currency,
	}, dataStore, ownershipLedger, emitter, clock, ids, adapter.NewCanonicalizer(jsonAdapter), jsonAdapter)

	// Create bridge
	revenueBridge, err := bridge.NewBridge(
		bridge.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			ConsumerName:   cfg.NATS.ConsumerName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
			AckWaitTimeout: cfg.NATS.AckWait,
			MaxDeliver:     cfg.NATS.MaxDeliver,
		},
		natsJS,
		distributionExecutor,
		jsonAdapter,
	)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create revenue bridge", zap.Error(err))
	}
	defer revenueBridge.Close()
	logger.InfoCtx(ctx, "Revenue bridge created", zap.String("stream", cfg.NATS.StreamName), zap.String("consumer", cfg.NATS.ConsumerName))

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel for bridge errors
	errCh := make(chan error, 1)

	// Start the bridge
	go func() {
		if err := revenueBridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "bridge"))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := distributionExecutor.Drain(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err, zap.String("component", "settlement"))
	}

	logger.Info("Revenue Bridge stopped")
}

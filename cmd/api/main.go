package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/api/middleware"
	"github.com/fractionalev/ownership-ledger/internal/api/server"
	"github.com/fractionalev/ownership-ledger/internal/api/shared/executor"
	"github.com/fractionalev/ownership-ledger/internal/config"
	"github.com/fractionalev/ownership-ledger/internal/distribution"
	"github.com/fractionalev/ownership-ledger/internal/ledger"
	"github.com/fractionalev/ownership-ledger/internal/logger"
	"github.com/fractionalev/ownership-ledger/internal/metrics"
	"github.com/fractionalev/ownership-ledger/internal/registry"
	"github.com/fractionalev/ownership-ledger/internal/settlement"
	"github.com/fractionalev/ownership-ledger/internal/store"
	"github.com/fractionalev/ownership-ledger/internal/store/memory"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "api-server",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Ownership Ledger API")

	metrics.Init()

	// Initialize store
	var dataStore store.Store
	switch cfg.StoreDriver {
	case "memory":
		logger.WarnCtx(ctx, "Using in-memory store, data is lost on restart")
		dataStore = memory.NewStore()
	default:
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
		dataStore = store.NewPGStore(db, store.WithLockConcurrency(store.LockConcurrencyForPool(maxOpenConns)))
		logger.InfoCtx(ctx, "Connected to database",
			zap.Int("max_open_conns", maxOpenConns),
			zap.Bool("read_replica", pgCfg.ReplicaDSN != ""),
		)
	}

	// Initialize adapters
	clock := adapter.NewClock()
	ids := adapter.NewIDGenerator()
	jsonAdapter := adapter.NewJSON()
	canonicalizer := adapter.NewCanonicalizer(jsonAdapter)

	// Settlement instructions go to JetStream when NATS is configured
	var emitter settlement.Emitter
	if cfg.NATS.URL != "" {
		emitter, err = settlement.NewJetStreamEmitter(ctx, settlement.Config{
			URL:             cfg.NATS.URL,
			StreamName:      cfg.Settlement.StreamName,
			SubjectPrefix:   cfg.Settlement.SubjectPrefix,
			MaxReconnects:   cfg.NATS.MaxReconnects,
			ReconnectWait:   cfg.NATS.ReconnectWait,
			ConnectionName:  cfg.NATS.ConnectionName,
			PoolSize:        cfg.Settlement.PoolSize,
			QueueSize:       cfg.Settlement.QueueSize,
			PublishTimeout:  cfg.Settlement.PublishTimeout,
			DuplicateWindow: cfg.Settlement.DuplicateWindow,
		}, adapter.NewNatsJetStream(), jsonAdapter)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to create settlement emitter", zap.Error(err))
		}
		logger.InfoCtx(ctx, "Publishing settlement instructions to JetStream", zap.String("stream", cfg.Settlement.StreamName))
	} else {
		logger.WarnCtx(ctx, "NATS not configured, settlement instructions are only logged")
		emitter = settlement.NewLogEmitter()
	}
	defer emitter.Close()

	// Initialize services
	assetRegistry := registry.NewRegistry(registry.Config{DefaultCurrency: cfg.Ledger.Currency}, dataStore, clock, ids, jsonAdapter)
	ownershipLedger := ledger.NewLedger(ledger.Config{
		DefaultCurrency:         cfg.Ledger.Currency,
		TreasuryAccountID:       cfg.Ledger.TreasuryAccountID,
		RequireVerifiedInvestor: cfg.Ledger.RequireVerifiedInvestor,
	}, dataStore, clock, ids)
	distributionExecutor := distribution.NewExecutor(distribution.Config{
		TreasuryAccountID: cfg.Ledger.TreasuryAccountID,
		DefaultCurrency:   cfg.Ledger.Currency,
	}, dataStore, ownershipLedger, emitter, clock, ids, canonicalizer, jsonAdapter)

	// Create server config
	serverConfig := server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Auth: middleware.AuthConfig{
			JWTPublicKey: cfg.Auth.JWTPublicKey,
			APIKeys:      cfg.Auth.APIKeys,
		},
	}

	// Create and start server
	srv := server.New(serverConfig, executor.NewExecutor(assetRegistry, ownershipLedger, distributionExecutor, dataStore, clock))

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.InfoCtx(shutdownCtx, "Shutting down server...")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err, zap.String("component", "server"))
	}

	// Wait for settlement instructions of runs that already completed
	if err := distributionExecutor.Drain(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err, zap.String("component", "settlement"))
	}

	// Use non-context logger for final message since original ctx is canceled
	logger.Info("API server stopped")
}

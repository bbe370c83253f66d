package store

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

// PostgresConfig describes how to reach the primary and the optional read replica
type PostgresConfig struct {
	DSN string
	// ReplicaDSN routes plain reads to a replica when set. Reads that decide a write stay on the primary.
	ReplicaDSN      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Debug           bool
}

// OpenPostgres connects to PostgreSQL, registers the read replica and configures the pool
func OpenPostgres(cfg PostgresConfig) (*gorm.DB, error) {
	logLevel := gormlogger.Warn
	if cfg.Debug {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.ReplicaDSN != "" {
		maxOpen, maxIdle, lifetime, idleTime := NormalizeConnectionPoolSettings(cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime)
		resolver := dbresolver.Register(dbresolver.Config{
			Replicas: []gorm.Dialector{postgres.Open(cfg.ReplicaDSN)},
			Policy:   dbresolver.RandomPolicy{},
		}).
			SetMaxOpenConns(maxOpen).
			SetMaxIdleConns(maxIdle).
			SetConnMaxLifetime(lifetime).
			SetConnMaxIdleTime(idleTime)
		if err := db.Use(resolver); err != nil {
			return nil, fmt.Errorf("failed to register read replica: %w", err)
		}
	}

	if err := ConfigureConnectionPool(db, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime); err != nil {
		return nil, err
	}

	return db, nil
}

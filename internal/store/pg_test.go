package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/store"
	"github.com/fractionalev/ownership-ledger/internal/store/schema"
	"github.com/fractionalev/ownership-ledger/internal/store/storetest"
)

var (
	testDB      *gorm.DB
	testDSN     string
	testDBName  = "test_db"
	pgContainer *postgres.PostgresContainer
)

// TestMain sets up the test database before running tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	// Check if we should use an external database (for CI or local development)
	dbHost := os.Getenv("TEST_DB_HOST")
	dbPort := os.Getenv("TEST_DB_PORT")
	dbUser := os.Getenv("TEST_DB_USER")
	dbPassword := os.Getenv("TEST_DB_PASSWORD")
	dbName := os.Getenv("TEST_DB_NAME")

	var dsn string
	var err error

	if dbHost != "" {
		// Use external database
		if dbPort == "" {
			dbPort = "5432"
		}
		if dbUser == "" {
			dbUser = "postgres"
		}
		if dbPassword == "" {
			dbPassword = "postgres"
		}
		if dbName == "" {
			dbName = "test_db"
		}
		testDBName = dbName

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPassword, dbName)

		fmt.Printf("Using external database: %s:%s/%s\n", dbHost, dbPort, dbName)
	} else {
		// Start a PostgreSQL container for testing
		pgContainer, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("test_db"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			fmt.Printf("Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Printf("Failed to get connection string: %v\n", err)
			if err := pgContainer.Terminate(ctx); err != nil {
				fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("Started PostgreSQL container\n")
	}

	testDSN = dsn

	// Connect to the database
	testDB, err = gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		if pgContainer != nil {
			if err := pgContainer.Terminate(ctx); err != nil {
				fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
			}
		}
		os.Exit(1)
	}

	// Initialize the database schema
	err = initializeTestDatabase(testDB)
	if err != nil {
		fmt.Printf("Failed to initialize database: %v\n", err)
		if pgContainer != nil {
			if err := pgContainer.Terminate(ctx); err != nil {
				fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
			}
		}
		os.Exit(1)
	}

	// Run tests
	code := m.Run()

	// Cleanup
	if pgContainer != nil {
		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
		}
	}

	os.Exit(code)
}

// initializeTestDatabase runs the schema initialization and seed data
func initializeTestDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// Read and execute the schema initialization SQL
	schemaPath := filepath.Join("..", "..", "db", "init_pg_db.sql")
	schemaSQL, err := os.ReadFile(schemaPath) //nolint:gosec,G304
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	_, err = sqlDB.Exec(string(schemaSQL))
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	// Read and execute the test seed data SQL if it exists
	seedPath := filepath.Join("..", "..", "db", "pg_test_data.sql")
	if _, err := os.Stat(seedPath); err == nil {
		seedSQL, err := os.ReadFile(seedPath) //nolint:gosec,G304
		if err != nil {
			return fmt.Errorf("failed to read seed file: %w", err)
		}

		_, err = sqlDB.Exec(string(seedSQL))
		if err != nil {
			return fmt.Errorf("failed to execute seed data: %w", err)
		}
	}

	return nil
}

// initPGTestDB initializes a test database for each test
// Each test runs inside a transaction that is rolled back on cleanup
func initPGTestDB(t *testing.T) store.Store {
	tx := testDB.Begin()
	require.NotNil(t, tx)
	require.NoError(t, tx.Error)

	t.Cleanup(func() {
		tx.Rollback()
	})

	return store.NewPGStore(tx)
}

// truncateTables clears all ledger tables for tests that need real concurrent connections
func truncateTables(t *testing.T) {
	err := testDB.Exec("TRUNCATE distribution_line_items, distribution_runs, ownership_grants, assets RESTART IDENTITY CASCADE").Error
	require.NoError(t, err)
}

// TestPostgreSQLStore runs all store tests against PostgreSQL
func TestPostgreSQLStore(t *testing.T) {
	if testDB == nil {
		t.Fatal("Test database not initialized")
	}

	storetest.RunStoreTests(t, initPGTestDB)
}

// TestPostgreSQLConcurrentGrants races grants over separate connections
func TestPostgreSQLConcurrentGrants(t *testing.T) {
	truncateTables(t)
	t.Cleanup(func() { truncateTables(t) })

	s := store.NewPGStore(testDB, store.WithLockConcurrency(4))
	storetest.CreateTestAsset(t, s, "A")

	const workers = 12
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateGrant(context.Background(), store.CreateGrantInput{
				ID:          fmt.Sprintf("grt_%02d", i),
				AssetID:     "A",
				InvestorID:  fmt.Sprintf("investor-%02d", i),
				FractionBps: 1000,
				Currency:    "NGN",
				At:          time.Now().UTC(),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded, rejected := 0, 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, domain.ErrOverAllocation)
		rejected++
	}
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 2, rejected)

	allocated, err := s.GetAllocatedBasisPoints(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 10000, allocated)
}

// setupStaleReplica creates an empty copy of the schema in a second database.
// It stands in for a replica that has not applied any write yet.
func setupStaleReplica(t *testing.T) string {
	t.Helper()

	const replicaName = "replica_db"
	if err := testDB.Exec("DROP DATABASE IF EXISTS " + replicaName).Error; err != nil {
		t.Skipf("cannot manage databases on this server: %v", err)
	}
	if err := testDB.Exec("CREATE DATABASE " + replicaName).Error; err != nil {
		t.Skipf("cannot create replica database: %v", err)
	}

	replicaDSN := strings.Replace(testDSN, testDBName, replicaName, 1)
	replicaDB, err := gorm.Open(pgdriver.Open(replicaDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, initializeTestDatabase(replicaDB))

	t.Cleanup(func() {
		if sqlDB, err := replicaDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
		_ = testDB.Exec("DROP DATABASE IF EXISTS " + replicaName + " WITH (FORCE)").Error
	})
	return replicaDSN
}

// TestPostgreSQLReadsUnderAssetLockUsePrimary checks that reads made under an asset lock
// see the primary even when a lagging replica is registered
func TestPostgreSQLReadsUnderAssetLockUsePrimary(t *testing.T) {
	truncateTables(t)
	t.Cleanup(func() { truncateTables(t) })

	replicaDSN := setupStaleReplica(t)
	db, err := store.OpenPostgres(store.PostgresConfig{DSN: testDSN, ReplicaDSN: replicaDSN, MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	ctx := context.Background()
	s := store.NewPGStore(db, store.WithLockConcurrency(2))
	storetest.CreateTestAsset(t, s, "A")
	now := time.Now().UTC()
	_, err = s.CreateGrant(ctx, store.CreateGrantInput{
		ID: "grt_x", AssetID: "A", InvestorID: "X", FractionBps: 10000, Currency: "NGN", At: now,
	})
	require.NoError(t, err)

	period, err := domain.ParsePeriod("2025-11")
	require.NoError(t, err)
	require.NoError(t, s.CreatePendingRun(ctx, &schema.DistributionRun{
		ID:                "run_replica",
		AssetID:           "A",
		PeriodStart:       period.Start,
		PeriodEnd:         period.End,
		TotalRevenueMinor: 1000,
		Currency:          "NGN",
		IdempotencyKey:    "replica-key",
		RequestHash:       "hash-replica-key",
		SnapshotAt:        now,
		CreatedAt:         now,
	}))
	require.NoError(t, s.CompleteRun(ctx, "run_replica", []schema.DistributionLineItem{
		{RunID: "run_replica", InvestorID: "X", FractionBps: 10000, AmountMinor: 1000},
	}, now))

	// plain reads go to the replica, which has none of the rows
	asset, err := s.GetAsset(ctx, "A")
	require.NoError(t, err)
	require.Nil(t, asset)

	err = s.WithAssetLock(ctx, "A", func(ctx context.Context) error {
		asset, err := s.GetAsset(ctx, "A")
		require.NoError(t, err)
		require.NotNil(t, asset)

		run, err := s.GetRun(ctx, "run_replica")
		require.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, domain.RunStatusCompleted, run.Status)

		items, err := s.ListLineItemsForRun(ctx, "run_replica")
		require.NoError(t, err)
		assert.Len(t, items, 1)

		grant, err := s.GetGrant(ctx, "grt_x")
		require.NoError(t, err)
		assert.NotNil(t, grant)
		return nil
	})
	require.NoError(t, err)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/distribution"
	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/ledger"
	"github.com/fractionalev/ownership-ledger/internal/logger"
	"github.com/fractionalev/ownership-ledger/internal/registry"
	"github.com/fractionalev/ownership-ledger/internal/settlement"
	"github.com/fractionalev/ownership-ledger/internal/store/memory"
)

const (
	defaultCurrency = "NGN"
	treasuryAccount = "treasury"
)

type Config struct {
	Assets            int
	InvestorsPerAsset int
	Periods           int   // Monthly periods distributed per asset
	Concurrency       int   // Number of concurrent workers
	RevenueMinor      int64 // Revenue of every run, in minor units
	Currency          string
	OutputFile        string // Output markdown file path (optional)
	Debug             bool
}

// RunSample is the outcome of one InitiateDistribution call
type RunSample struct {
	AssetID   string
	Period    domain.Period
	Duration  time.Duration
	Status    domain.RunStatus
	LineItems int
	Err       error
}

type BenchmarkStats struct {
	StartTime     time.Time
	SetupDuration time.Duration
	RunDuration   time.Duration
	Samples       []RunSample

	Completed int
	Failed    int
	Rejected  int

	Instructions     int64
	DistributedMinor int64
	ExpectedMinor    int64
}

// Conserved reports whether completed runs paid out exactly their revenue
func (s *BenchmarkStats) Conserved() bool {
	return s.DistributedMinor == s.ExpectedMinor
}

// countingEmitter accepts every instruction and counts them
type countingEmitter struct {
	count atomic.Int64
}

func (e *countingEmitter) Emit(_ context.Context, instructions []settlement.Instruction) error {
	e.count.Add(int64(len(instructions)))
	return nil
}

func (e *countingEmitter) Close() {}

func main() {
	cfg := parseFlags()

	if err := logger.Initialize(logger.Config{Debug: cfg.Debug}); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	fmt.Printf("Distributing %d period(s) across %d asset(s) with %d investor(s) each (concurrency: %d)\n",
		cfg.Periods, cfg.Assets, cfg.InvestorsPerAsset, cfg.Concurrency)

	stats, err := runBenchmark(ctx, cfg)
	if err != nil {
		fmt.Printf("\nError running benchmark: %v\n", err)
		os.Exit(1)
	}

	title := "BENCHMARK RESULTS"
	if ctx.Err() != nil {
		title = "INTERRUPTED - PARTIAL RESULTS"
	}
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", 80))
	printStats(stats)

	if cfg.OutputFile != "" {
		if err := writeMarkdownReport(cfg.OutputFile, cfg, stats); err != nil {
			fmt.Printf("\n⚠️  Warning: Failed to write markdown file: %v\n", err)
		} else {
			fmt.Printf("\n✓ Report written to: %s\n", cfg.OutputFile)
		}
	}

	if !stats.Conserved() {
		os.Exit(2)
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Assets, "assets", 50, "Number of assets to register")
	flag.IntVar(&cfg.InvestorsPerAsset, "investors", 20, "Number of investors holding each asset")
	flag.IntVar(&cfg.Periods, "periods", 12, "Number of monthly periods to distribute per asset")
	flag.IntVar(&cfg.Concurrency, "concurrency", 8, "Number of concurrent workers")
	flag.Int64Var(&cfg.RevenueMinor, "revenue", 1_000_001, "Revenue of each run in minor units")
	flag.StringVar(&cfg.Currency, "currency", defaultCurrency, "Currency of every run")
	flag.StringVar(&cfg.OutputFile, "output", "", "Output markdown file path (optional)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")

	configFile := flag.String("config", "", "Path to config file (optional)")
	saveConfig := flag.Bool("save-config", false, "Save the effective settings to the default config path")

	flag.Parse()

	// Load from config file if specified
	if *configFile != "" {
		fileCfg, err := LoadConfig(*configFile)
		if err != nil {
			fmt.Printf("Warning: Failed to load config file: %v\n", err)
		} else {
			fileCfg.apply(cfg)
		}
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	// Every investor needs at least one basis point and one stays with the treasury
	if cfg.InvestorsPerAsset > domain.BasisPointsDenominator-1 {
		cfg.InvestorsPerAsset = domain.BasisPointsDenominator - 1
	}

	if *saveConfig {
		path := GetDefaultConfigPath()
		err := SaveConfig(path, &BenchmarkConfig{
			Assets:            cfg.Assets,
			InvestorsPerAsset: cfg.InvestorsPerAsset,
			Periods:           cfg.Periods,
			Concurrency:       cfg.Concurrency,
			RevenueMinor:      cfg.RevenueMinor,
			Currency:          cfg.Currency,
		})
		if err != nil {
			fmt.Printf("Warning: Failed to save config: %v\n", err)
		}
	}

	return cfg
}

// runBenchmark seeds an in-memory ledger and distributes every asset and period concurrently
func runBenchmark(ctx context.Context, cfg *Config) (*BenchmarkStats, error) {
	st := memory.NewStore()
	clock := adapter.NewClock()
	ids := adapter.NewIDGenerator()
	jsonAdapter := adapter.NewJSON()
	emitter := &countingEmitter{}

	reg := registry.NewRegistry(registry.Config{DefaultCurrency: cfg.Currency}, st, clock, ids, jsonAdapter)
	led := ledger.NewLedger(ledger.Config{DefaultCurrency: cfg.Currency, TreasuryAccountID: treasuryAccount, RequireVerifiedInvestor: true}, st, clock, ids)
	exec := distribution.NewExecutor(distribution.Config{TreasuryAccountID: treasuryAccount, DefaultCurrency: cfg.Currency},
		st, led, emitter, clock, ids, adapter.NewCanonicalizer(jsonAdapter), jsonAdapter)

	stats := &BenchmarkStats{StartTime: time.Now()}

	assetIDs, err := seedAssets(ctx, cfg, reg, led)
	if err != nil {
		return nil, err
	}
	stats.SetupDuration = time.Since(stats.StartTime)

	periods := make([]domain.Period, 0, cfg.Periods)
	first := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < cfg.Periods; i++ {
		period, err := domain.NewPeriod(first.AddDate(0, i, 0), first.AddDate(0, i+1, 0))
		if err != nil {
			return nil, err
		}
		periods = append(periods, period)
	}

	var mu sync.Mutex
	pool := pond.NewPool(cfg.Concurrency)
	runStart := time.Now()
	for _, assetID := range assetIDs {
		for _, period := range periods {
			pool.Submit(func() {
				sample := distribute(ctx, exec, cfg, assetID, period)
				mu.Lock()
				stats.Samples = append(stats.Samples, sample)
				mu.Unlock()
			})
		}
	}
	pool.StopAndWait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := exec.Drain(drainCtx); err != nil {
		return nil, fmt.Errorf("failed to drain settlement: %w", err)
	}
	stats.RunDuration = time.Since(runStart)
	stats.Instructions = emitter.count.Load()

	for _, sample := range stats.Samples {
		switch {
		case sample.Err == nil && sample.Status == domain.RunStatusCompleted:
			stats.Completed++
			stats.ExpectedMinor += cfg.RevenueMinor
		case sample.Err != nil && isRejection(sample.Err):
			stats.Rejected++
		default:
			stats.Failed++
		}
	}

	// Sum what the history store recorded rather than what the calls returned
	for _, assetID := range assetIDs {
		var offset uint64
		for {
			runs, total, err := exec.ListRunsForAsset(context.Background(), assetID, 100, offset)
			if err != nil {
				return nil, err
			}
			for _, run := range runs {
				if run.Status != domain.RunStatusCompleted {
					continue
				}
				result, err := exec.GetRun(context.Background(), run.ID)
				if err != nil {
					return nil, err
				}
				for _, item := range result.LineItems {
					stats.DistributedMinor += item.AmountMinor
				}
			}
			offset += uint64(len(runs))
			if len(runs) == 0 || offset >= total {
				break
			}
		}
	}

	return stats, nil
}

// seedAssets registers the assets and leaves one basis point of each to the treasury
func seedAssets(ctx context.Context, cfg *Config, reg registry.Registry, led ledger.Ledger) ([]string, error) {
	assetIDs := make([]string, 0, cfg.Assets)
	for i := 0; i < cfg.Assets; i++ {
		asset, err := reg.CreateAsset(ctx, registry.CreateAssetInput{
			ID:                 fmt.Sprintf("bench-asset-%04d", i),
			Name:               fmt.Sprintf("Benchmark vehicle %d", i),
			Category:           domain.AssetCategoryVehicle,
			OriginalValueMinor: 25_000_000,
			Currency:           cfg.Currency,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create asset %d: %w", i, err)
		}

		if cfg.InvestorsPerAsset > 0 {
			fraction := (domain.BasisPointsDenominator - 1) / cfg.InvestorsPerAsset
			for j := 0; j < cfg.InvestorsPerAsset; j++ {
				_, err := led.GrantOwnership(ctx, ledger.GrantInput{
					AssetID:          asset.ID,
					InvestorID:       fmt.Sprintf("investor-%05d", j),
					FractionBps:      fraction,
					Currency:         cfg.Currency,
					InvestorVerified: true,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to grant %s: %w", asset.ID, err)
				}
			}
		}
		assetIDs = append(assetIDs, asset.ID)
	}
	return assetIDs, nil
}

func distribute(ctx context.Context, exec distribution.Executor, cfg *Config, assetID string, period domain.Period) RunSample {
	sample := RunSample{AssetID: assetID, Period: period}
	start := time.Now()
	result, err := exec.InitiateDistribution(ctx, distribution.InitiateInput{
		AssetID:           assetID,
		Period:            period,
		TotalRevenueMinor: cfg.RevenueMinor,
		Currency:          cfg.Currency,
	})
	sample.Duration = time.Since(start)
	if err != nil {
		sample.Err = err
		sample.Status = domain.RunStatusFailed
		return sample
	}
	sample.Status = result.Run.Status
	sample.LineItems = len(result.LineItems)
	return sample
}

// isRejection reports errors raised before any run was recorded
func isRejection(err error) bool {
	return errors.Is(err, domain.ErrNoOwners) ||
		errors.Is(err, domain.ErrRunInProgress) ||
		errors.Is(err, context.Canceled)
}

func durations(samples []RunSample) []time.Duration {
	out := make([]time.Duration, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.Duration)
	}
	return out
}

func printStats(stats *BenchmarkStats) {
	total := len(stats.Samples)
	latencies := durations(stats.Samples)

	fmt.Printf("\nSetup:        %s\n", formatDuration(stats.SetupDuration))
	fmt.Printf("Distribution: %s (%s)\n", formatDuration(stats.RunDuration), formatRate(total, stats.RunDuration))
	fmt.Printf("\nRuns:         %d\n", total)
	fmt.Printf("  Completed:  %d (%s)\n", stats.Completed, percentageString(stats.Completed, total))
	fmt.Printf("  Failed:     %d (%s)\n", stats.Failed, percentageString(stats.Failed, total))
	fmt.Printf("  Rejected:   %d (%s)\n", stats.Rejected, percentageString(stats.Rejected, total))
	fmt.Printf("\nLatency:      p50 %s, p95 %s, p99 %s, max %s\n",
		formatDuration(percentile(latencies, 50)),
		formatDuration(percentile(latencies, 95)),
		formatDuration(percentile(latencies, 99)),
		formatDuration(percentile(latencies, 100)))
	fmt.Printf("Instructions: %d\n", stats.Instructions)
	fmt.Printf("\n%s Distributed %d of %d minor units\n",
		statusEmoji(stats.Completed, stats.Failed, stats.Conserved()), stats.DistributedMinor, stats.ExpectedMinor)

	printed := 0
	for _, sample := range stats.Samples {
		if sample.Err == nil || printed >= 10 {
			continue
		}
		if printed == 0 {
			fmt.Println("\nErrors:")
		}
		fmt.Printf("  %s %s: %v\n", sample.AssetID, sample.Period, sample.Err)
		printed++
	}
}

// writeMarkdownReport writes a markdown report of the benchmark
func writeMarkdownReport(filepath string, cfg *Config, stats *BenchmarkStats) error {
	file, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer file.Close()

	total := len(stats.Samples)
	latencies := durations(stats.Samples)

	var b strings.Builder
	b.WriteString("# Distribution Benchmark\n\n")
	fmt.Fprintf(&b, "Started: %s\n\n", stats.StartTime.UTC().Format(time.RFC3339))

	b.WriteString("## Setup\n\n")
	b.WriteString("| Setting | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Assets | %d |\n", cfg.Assets)
	fmt.Fprintf(&b, "| Investors per asset | %d |\n", cfg.InvestorsPerAsset)
	fmt.Fprintf(&b, "| Periods | %d |\n", cfg.Periods)
	fmt.Fprintf(&b, "| Concurrency | %d |\n", cfg.Concurrency)
	fmt.Fprintf(&b, "| Revenue per run | %d %s |\n\n", cfg.RevenueMinor, cfg.Currency)

	b.WriteString("## Results\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Setup duration | %s |\n", formatDuration(stats.SetupDuration))
	fmt.Fprintf(&b, "| Distribution duration | %s |\n", formatDuration(stats.RunDuration))
	fmt.Fprintf(&b, "| Throughput | %s |\n", formatRate(total, stats.RunDuration))
	fmt.Fprintf(&b, "| Completed | %d (%s) |\n", stats.Completed, percentageString(stats.Completed, total))
	fmt.Fprintf(&b, "| Failed | %d (%s) |\n", stats.Failed, percentageString(stats.Failed, total))
	fmt.Fprintf(&b, "| Rejected | %d (%s) |\n", stats.Rejected, percentageString(stats.Rejected, total))
	fmt.Fprintf(&b, "| p50 latency | %s |\n", formatDuration(percentile(latencies, 50)))
	fmt.Fprintf(&b, "| p95 latency | %s |\n", formatDuration(percentile(latencies, 95)))
	fmt.Fprintf(&b, "| p99 latency | %s |\n", formatDuration(percentile(latencies, 99)))
	fmt.Fprintf(&b, "| Settlement instructions | %d |\n", stats.Instructions)
	fmt.Fprintf(&b, "| Conservation | %s %d / %d |\n",
		statusEmoji(stats.Completed, stats.Failed, stats.Conserved()), stats.DistributedMinor, stats.ExpectedMinor)

	_, err = file.WriteString(b.String())
	return err
}

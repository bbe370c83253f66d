package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractionalev/ownership-ledger/internal/metrics"
)

func TestRecorders_BeforeInit(t *testing.T) {
	// Recorders must be safe to call when Init was never called
	assert.NotPanics(t, func() {
		metrics.IncGrant(metrics.GrantCreated)
		metrics.ObserveDistribution(metrics.RunCompleted, time.Second)
		metrics.AddDistributed("NGN", 100)
		metrics.AddSettlementInstructions(metrics.ResultSuccess, 2)
		metrics.AddStaleRunsFailed(1)
		metrics.IncRevenueMessage(metrics.MessageAcked)
		metrics.ObserveHTTPRequest("GET", "/health", "200", time.Millisecond)
	})
}

func TestInit_RegistersMetrics(t *testing.T) {
	metrics.Init()
	// Second call is a no-op
	metrics.Init()

	metrics.ObserveDistribution(metrics.RunCompleted, 10*time.Millisecond)
	metrics.AddDistributed("NGN", 1_000_001)
	metrics.AddStaleRunsFailed(0)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ownership_ledger_distribution_runs_total"])
	assert.True(t, names["ownership_ledger_distributed_minor_units_total"])
	// Plain counters are exported before any observation
	assert.True(t, names["ownership_ledger_stale_runs_failed_total"])
}

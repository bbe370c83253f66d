package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "ownership_ledger_"

	unknown = "unknown"
)

// Outcomes shared by the recorders
const (
	ResultSuccess = "success"
	ResultError   = "error"

	RunCompleted = "completed"
	RunDuplicate = "duplicate"
	RunFailed    = "failed"
	RunRejected  = "rejected"

	GrantCreated     = "created"
	GrantTransferred = "transferred"
	GrantCancelled   = "cancelled"
	GrantRejected    = "rejected"

	MessageAcked  = "acked"
	MessageNaked  = "naked"
	MessageTermed = "termed"
)

var (
	registerOnce sync.Once

	grantsTotal *prometheus.CounterVec

	distributionRunsTotal  *prometheus.CounterVec
	distributionRunLatency *prometheus.HistogramVec
	distributedMinorTotal  *prometheus.CounterVec
	settlementInstructions *prometheus.CounterVec
	staleRunsFailedTotal   prometheus.Counter
	revenueMessagesTotal   *prometheus.CounterVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestLatency     *prometheus.HistogramVec
)

// Init registers the service metrics with the default registry
func Init() {
	registerOnce.Do(func() {
		grantsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "grants_total",
				Help: "Total ownership grant commands by outcome",
			},
			[]string{"outcome"},
		)
		distributionRunsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "distribution_runs_total",
				Help: "Total distribution requests by outcome",
			},
			[]string{"outcome"},
		)
		distributionRunLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "distribution_run_latency_seconds",
				Help:    "Distribution request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)
		distributedMinorTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "distributed_minor_units_total",
				Help: "Revenue distributed by completed runs in minor units",
			},
			[]string{"currency"},
		)
		settlementInstructions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_instructions_total",
				Help: "Settlement instructions handed to the custody boundary by result",
			},
			[]string{"result"},
		)
		staleRunsFailedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "stale_runs_failed_total",
				Help: "Pending distribution runs failed by the sweeper",
			},
		)
		revenueMessagesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "revenue_messages_total",
				Help: "Revenue feed messages by disposition",
			},
			[]string{"disposition"},
		)
		httpRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"method", "route", "status"},
		)
		httpRequestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_latency_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)

		prometheus.MustRegister(
			grantsTotal,
			distributionRunsTotal,
			distributionRunLatency,
			distributedMinorTotal,
			settlementInstructions,
			staleRunsFailedTotal,
			revenueMessagesTotal,
			httpRequestsTotal,
			httpRequestLatency,
		)
	})
}

func orUnknown(label string) string {
	if label == "" {
		return unknown
	}
	return label
}

// IncGrant increments the grant command counter.
func IncGrant(outcome string) {
	if grantsTotal != nil {
		grantsTotal.WithLabelValues(orUnknown(outcome)).Inc()
	}
}

// ObserveDistribution records a distribution request and its latency.
func ObserveDistribution(outcome string, duration time.Duration) {
	outcome = orUnknown(outcome)
	if distributionRunsTotal != nil {
		distributionRunsTotal.WithLabelValues(outcome).Inc()
	}
	if distributionRunLatency != nil {
		distributionRunLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// AddDistributed adds the total of a completed run.
func AddDistributed(currency string, amountMinor int64) {
	if amountMinor <= 0 {
		return
	}
	if distributedMinorTotal != nil {
		distributedMinorTotal.WithLabelValues(orUnknown(currency)).Add(float64(amountMinor))
	}
}

// AddSettlementInstructions counts instructions by publish result.
func AddSettlementInstructions(result string, count int) {
	if count <= 0 {
		return
	}
	if settlementInstructions != nil {
		settlementInstructions.WithLabelValues(orUnknown(result)).Add(float64(count))
	}
}

// AddStaleRunsFailed counts runs failed by the sweeper.
func AddStaleRunsFailed(count int) {
	if count <= 0 {
		return
	}
	if staleRunsFailedTotal != nil {
		staleRunsFailedTotal.Add(float64(count))
	}
}

// IncRevenueMessage counts a revenue feed message by disposition.
func IncRevenueMessage(disposition string) {
	if revenueMessagesTotal != nil {
		revenueMessagesTotal.WithLabelValues(orUnknown(disposition)).Inc()
	}
}

// ObserveHTTPRequest records an HTTP request.
func ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	route = orUnknown(route)
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	}
	if httpRequestLatency != nil {
		httpRequestLatency.WithLabelValues(method, route).Observe(duration.Seconds())
	}
}

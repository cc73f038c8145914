// Package monitoring declares the Prometheus metrics of the reward engine.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DispatchTotal counts committed primary credits by transaction kind.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_dispatch_total",
			Help: "Committed reward dispatches by kind",
		},
		[]string{"kind"},
	)

	CommissionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_commission_total",
			Help: "Committed referral commissions by level",
		},
		[]string{"level"},
	)

	DispatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reward_dispatch_failures_total",
			Help: "Dispatches rolled back after an error",
		},
	)

	LedgerDiscrepancies = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_discrepancies",
			Help: "Accounts whose balance disagreed with the ledger at the last reconciliation",
		},
	)

	MarketingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketing_events_total",
			Help: "Marketing events by outcome (sent, failed, dropped)",
		},
		[]string{"outcome"},
	)
)

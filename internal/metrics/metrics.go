// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polytipster_cycles_total",
			Help: "Monitoring cycles by result",
		},
		[]string{"result"},
	)
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polytipster_cycle_duration_seconds",
			Help:    "Monitoring cycle duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polytipster_alerts_total",
			Help: "Alerts by kind and delivery result",
		},
		[]string{"kind", "result"},
	)
	SuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polytipster_alerts_suppressed_total",
			Help: "Candidate alerts suppressed by the cooldown gate",
		},
		[]string{"kind"},
	)
	SkippedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polytipster_skipped_records_total",
			Help: "Malformed records skipped",
		},
		[]string{"record"},
	)
	TrackedWallets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "polytipster_tracked_wallets",
			Help: "Smart wallets currently tracked",
		},
	)
	LiveWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "polytipster_convergence_windows",
			Help: "Markets with live convergence windows",
		},
	)
	GateRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "polytipster_gate_records",
			Help: "Signal keys held by the cooldown gate",
		},
	)
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polytipster_api_requests_total",
			Help: "Polymarket API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)
)

// Package metrics provides Prometheus instrumentation for the settlement core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts finished settlement pipelines by outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capcore_settlements_total",
		Help: "Total number of settlement pipelines finished",
	}, []string{"outcome"})

	// TransferTransitions counts state machine transitions.
	TransferTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capcore_transfer_transitions_total",
		Help: "Custodial transfer state transitions",
	}, []string{"from", "to"})

	// InvalidTransitions counts rejected illegal transition attempts.
	InvalidTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capcore_invalid_transitions_total",
		Help: "Transition attempts rejected by the state machine",
	})

	// CustodianRequestDuration tracks custodian RPC latency per call.
	CustodianRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capcore_custodian_request_duration_seconds",
		Help:    "Custodian API request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"call"})

	// DiscrepanciesTotal counts reconciliation findings by severity.
	DiscrepanciesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capcore_reconciliation_discrepancies_total",
		Help: "Discrepancies found by reconciliation runs",
	}, []string{"type", "severity"})

	// StuckTransfers tracks transfers currently over the age threshold.
	StuckTransfers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capcore_stuck_transfers",
		Help: "Open transfers older than the stuck threshold",
	})

	// SettlementRollbacks counts settlements rolled back after custodian
	// confirmation. Every increment is a critical alert.
	SettlementRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capcore_settlement_rollbacks_total",
		Help: "Settlement transactions rolled back after custodian confirmation",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

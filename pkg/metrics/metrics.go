// Package metrics registers the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "campusride"

var (
	// HoldTransitions counts hold lifecycle transitions by terminal event.
	HoldTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hold_transitions_total",
		Help:      "Hold lifecycle transitions (created, confirmed, cancelled, expired).",
	}, []string{"event"})

	// FeasibilityChecks counts feasibility decisions by outcome code.
	FeasibilityChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feasibility_checks_total",
		Help:      "Feasibility decisions, labelled feasible or by rejection code.",
	}, []string{"result"})

	// ReservationConflicts counts slot reservations lost to a concurrent writer.
	ReservationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "slot_reservation_conflicts_total",
		Help:      "Slot capacity reservations rejected under the row lock.",
	})

	// ProviderRequests counts routing provider calls by operation and outcome.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "routing_provider_requests_total",
		Help:      "Routing provider calls (outcome: ok, error, timeout, fallback, cache_hit).",
	}, []string{"op", "outcome"})

	// ProviderLatency observes routing provider round-trip time.
	ProviderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "routing_provider_latency_seconds",
		Help:      "Routing provider call latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// SimulationRuns counts completed Monte Carlo runs.
	SimulationRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "simulation_runs_total",
		Help:      "Completed Monte Carlo day-simulation runs.",
	})

	// SimulationDuration observes wall time of whole simulation batches.
	SimulationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "simulation_batch_seconds",
		Help:      "Wall time of Monte Carlo batches.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// CacheRequests counts availability cache lookups by result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "availability_cache_requests_total",
		Help:      "Availability cache lookups (hit, miss, error).",
	}, []string{"result"})
)

// Package metrics holds the prometheus collectors shared by the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "migration"

var (
	// objectResults counts finished objects.
	// Labels: module, status (completed, completed_with_errors, validation_failed, error, skipped)
	objectResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "object",
		Name:      "results_total",
		Help:      "Finished migration objects by derived status",
	}, []string{"module", "status"})

	// phaseDuration measures a single ETLV phase.
	// Labels: phase, status
	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "phase",
		Name:      "duration_seconds",
		Help:      "ETLV phase duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"phase", "status"})

	phaseRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "phase",
		Name:      "records_total",
		Help:      "Records processed per ETLV phase",
	}, []string{"phase"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "run",
		Name:      "total",
		Help:      "Runs by outcome (succeeded, failed, cancelled)",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "run",
		Name:      "duration_seconds",
		Help:      "Run duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	runsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "run",
		Name:      "in_flight",
		Help:      "Runs currently executing in this process",
	})

	// busEvents counts events published by the progress bus.
	// Labels: type
	busEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "events_total",
		Help:      "Events published on the progress bus",
	}, []string{"type"})

	// busDropped counts events that never reached a consumer.
	// Labels: reason (unknown_type, buffer_full, slow_subscriber)
	busDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "dropped_total",
		Help:      "Events dropped by the progress bus",
	}, []string{"reason"})

	busSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "subscribers",
		Help:      "Live progress bus subscribers",
	})

	gatewayRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "retries_total",
		Help:      "Gateway call retries",
	}, []string{"operation"})
)

// ObserveObject records a finished object.
func ObserveObject(module, status string) {
	objectResults.WithLabelValues(module, status).Inc()
}

// ObservePhase records one phase execution.
func ObservePhase(phase, status string, d time.Duration, records int) {
	phaseDuration.WithLabelValues(phase, status).Observe(d.Seconds())
	if records > 0 {
		phaseRecords.WithLabelValues(phase).Add(float64(records))
	}
}

// RunStarted marks a run as in flight.
func RunStarted() { runsInFlight.Inc() }

// RunFinished records the outcome of a run started with RunStarted.
func RunFinished(outcome string, d time.Duration) {
	runsInFlight.Dec()
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(d.Seconds())
}

// EventPublished counts a bus event.
func EventPublished(eventType string) { busEvents.WithLabelValues(eventType).Inc() }

// EventDropped counts a dropped bus event.
func EventDropped(reason string) { busDropped.WithLabelValues(reason).Inc() }

// SetSubscribers sets the live subscriber gauge.
func SetSubscribers(n int) { busSubscribers.Set(float64(n)) }

// GatewayRetry counts one retried gateway call.
func GatewayRetry(operation string) { gatewayRetries.WithLabelValues(operation).Inc() }

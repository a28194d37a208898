// Package metrics holds the Prometheus collectors of the advisory pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "advisory"

// Ingestion
var (
	IngestionCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_cycles_total",
			Help:      "Ingestion cycles by outcome",
		},
		[]string{"status"}, // success, partial, failed
	)

	IngestionCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_cycle_duration_seconds",
			Help:      "Wall time of one ingestion cycle",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	SignalsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_detected_total",
			Help:      "Signals detected per district reading",
		},
		[]string{"signal"},
	)

	WeatherUnavailableTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_unavailable_total",
			Help:      "Districts skipped because no weather data was available",
		},
		[]string{"district"},
	)
)

// Rules
var (
	RulesTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_triggered_total",
			Help:      "Rule matches per severity",
		},
		[]string{"severity"},
	)

	RulesSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_skipped_malformed_total",
			Help:      "Rules skipped because their definition could not be parsed",
		},
	)
)

// Delivery log
var (
	TriggersRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_recorded_total",
			Help:      "Trigger attempts by result",
		},
		[]string{"result"}, // recorded, duplicate, capped, error
	)

	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_status_transitions_total",
			Help:      "Delivery log status changes",
		},
		[]string{"to_status"},
	)

	InvalidTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_invalid_transitions_total",
			Help:      "Rejected delivery status changes",
		},
		[]string{"to_status"},
	)
)

// Dispatch
var (
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by channel and outcome",
		},
		[]string{"channel", "status"}, // status: delivered, failed
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent handing one advisory to the transport",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	ContentSourceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_source_total",
			Help:      "Where advisory text came from",
		},
		[]string{"source"}, // store, template, generated, generic
	)

	SweepRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_retries_total",
			Help:      "Logs picked up again by the sweep",
		},
		[]string{"from_status"},
	)
)

// Receipts
var (
	ReceiptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_total",
			Help:      "Delivery receipts consumed by event and outcome",
		},
		[]string{"event", "status"}, // status: applied, rejected, error
	)
)

func RecordIngestionCycle(status string, durationSeconds float64) {
	IngestionCyclesTotal.WithLabelValues(status).Inc()
	IngestionCycleDuration.Observe(durationSeconds)
}

func RecordSignal(signal string) {
	SignalsDetectedTotal.WithLabelValues(signal).Inc()
}

func RecordWeatherUnavailable(district string) {
	WeatherUnavailableTotal.WithLabelValues(district).Inc()
}

func RecordRuleTriggered(severity string) {
	RulesTriggeredTotal.WithLabelValues(severity).Inc()
}

func RecordRulesSkipped(count int) {
	RulesSkippedTotal.Add(float64(count))
}

func RecordTrigger(result string) {
	TriggersRecordedTotal.WithLabelValues(result).Inc()
}

func RecordTriggersCapped(count int) {
	TriggersRecordedTotal.WithLabelValues("capped").Add(float64(count))
}

func RecordTransition(toStatus string) {
	StatusTransitionsTotal.WithLabelValues(toStatus).Inc()
}

func RecordInvalidTransition(toStatus string) {
	InvalidTransitionsTotal.WithLabelValues(toStatus).Inc()
}

func RecordDispatch(channel, status string, durationSeconds float64) {
	DispatchTotal.WithLabelValues(channel, status).Inc()
	DispatchDuration.WithLabelValues(channel).Observe(durationSeconds)
}

func RecordContentSource(source string) {
	ContentSourceTotal.WithLabelValues(source).Inc()
}

func RecordSweepRetry(fromStatus string) {
	SweepRetriesTotal.WithLabelValues(fromStatus).Inc()
}

func RecordReceipt(event, status string) {
	ReceiptsTotal.WithLabelValues(event, status).Inc()
}

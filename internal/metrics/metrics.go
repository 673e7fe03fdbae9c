package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	samplesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greenflow",
			Name:      "samples_ingested_total",
			Help:      "Total accepted telemetry samples, partitioned by metric.",
		},
		[]string{"metric"},
	)

	samplesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greenflow",
			Name:      "samples_rejected_total",
			Help:      "Total rejected telemetry samples, partitioned by metric.",
		},
		[]string{"metric"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greenflow",
			Name:      "anomalies_total",
			Help:      "Total anomaly flags raised, partitioned by detection method.",
		},
		[]string{"method"},
	)

	alertsFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greenflow",
			Name:      "alerts_fired_total",
			Help:      "Total alerts emitted past cooldown gating, partitioned by type.",
		},
		[]string{"type"},
	)

	alertsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "greenflow",
			Name:      "alerts_suppressed_total",
			Help:      "Total alert occurrences absorbed by an active cooldown.",
		},
	)

	eventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "greenflow",
			Name:      "dispatch_events_dropped_total",
			Help:      "Total events dropped from slow subscriber queues.",
		},
	)

	riskScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "greenflow",
			Name:      "risk_score",
			Help:      "Latest composite environmental risk score (0-100).",
		},
	)

	ingestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "greenflow",
			Name:      "ingest_seconds",
			Help:      "End-to-end ingest pipeline latency in seconds.",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)
)

// Register attaches greenflow collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		samplesIngestedTotal,
		samplesRejectedTotal,
		anomaliesTotal,
		alertsFiredTotal,
		alertsSuppressedTotal,
		eventsDroppedTotal,
		riskScore,
		ingestDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// IncSampleIngested counts one accepted sample for the given metric.
func IncSampleIngested(metric string) {
	samplesIngestedTotal.WithLabelValues(metric).Inc()
}

// IncSampleRejected counts one rejected sample for the given metric.
func IncSampleRejected(metric string) {
	samplesRejectedTotal.WithLabelValues(metric).Inc()
}

// IncAnomaly counts one anomaly flag per detection method that raised it.
func IncAnomaly(method string) {
	anomaliesTotal.WithLabelValues(method).Inc()
}

// IncAlertFired counts one emitted alert of the given type.
func IncAlertFired(alertType string) {
	alertsFiredTotal.WithLabelValues(alertType).Inc()
}

// IncAlertSuppressed counts one occurrence absorbed by a cooldown.
func IncAlertSuppressed() {
	alertsSuppressedTotal.Inc()
}

// IncEventDropped counts one event evicted from a subscriber queue.
func IncEventDropped() {
	eventsDroppedTotal.Inc()
}

// SetRiskScore publishes the latest composite risk score.
func SetRiskScore(value float64) {
	riskScore.Set(value)
}

// ObserveIngest records one ingest pipeline pass.
func ObserveIngest(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	ingestDurationSeconds.Observe(duration.Seconds())
}

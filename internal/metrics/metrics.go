package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (pipeline or dependency issues).
	OutcomeError = "error"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis_agent",
			Name:      "analyses_total",
			Help:      "Total number of log analyses handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "aegis_agent",
			Name:      "analysis_seconds",
			Help:      "End-to-end log analysis latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 240},
		},
	)

	previewChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aegis_agent",
			Name:      "preview_chunks_total",
			Help:      "Total number of log chunks summarised during preview generation.",
		},
	)

	escalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis_agent",
			Name:      "escalations_total",
			Help:      "Total number of escalation tasks executed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis_agent",
			Name:      "notifications_total",
			Help:      "Total number of urgent notifications dispatched, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	reportIDFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aegis_agent",
			Name:      "report_id_fallbacks_total",
			Help:      "Total number of report IDs allocated via the degraded fallback path.",
		},
	)
)

// Register attaches agent collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		previewChunksTotal,
		escalationsTotal,
		notificationsTotal,
		reportIDFallbacksTotal,
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

// ObserveAnalysis records an analysis duration and outcome label.
func ObserveAnalysis(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// AddPreviewChunks records how many chunks a preview pass summarised.
func AddPreviewChunks(n int) {
	if n > 0 {
		previewChunksTotal.Add(float64(n))
	}
}

// ObserveEscalation counts one escalation task by outcome.
func ObserveEscalation(outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	escalationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveNotification counts one notification dispatch by outcome.
func ObserveNotification(outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// ReportIDFallback counts a degraded report-ID allocation.
func ReportIDFallback() {
	reportIDFallbacksTotal.Inc()
}

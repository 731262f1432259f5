// Package prometheus provides Prometheus-backed implementations of the
// metrics interfaces.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ziplift/ziplift/pkg/metrics"
)

// uploadMetrics is the Prometheus implementation of metrics.UploadMetrics.
type uploadMetrics struct {
	chunksTotal      *prometheus.CounterVec
	chunkBytes       prometheus.Counter
	sessionsCreated  prometheus.Counter
	sessionOutcomes  *prometheus.CounterVec
	finalizeDuration *prometheus.HistogramVec
	sweepSessions    *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

// NewUploadMetrics creates a new Prometheus-backed UploadMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() metrics.UploadMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &uploadMetrics{
		chunksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ziplift_chunks_total",
				Help: "Total number of chunk ingestion attempts by status",
			},
			[]string{"status"},
		),
		chunkBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ziplift_chunk_bytes_total",
				Help: "Total chunk payload bytes accepted into blob storage",
			},
		),
		sessionsCreated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ziplift_sessions_created_total",
				Help: "Total number of upload sessions created",
			},
		),
		sessionOutcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ziplift_session_outcomes_total",
				Help: "Total number of sessions reaching a terminal state",
			},
			[]string{"outcome"},
		),
		finalizeDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ziplift_finalize_duration_milliseconds",
				Help: "Duration of finalization runs in milliseconds",
				Buckets: []float64{
					10,     // 10ms - tiny archives
					100,    // 100ms
					500,    // 500ms
					1000,   // 1s
					5000,   // 5s - gigabyte-range hashing
					15000,  // 15s
					60000,  // 1m
					300000, // 5m - multi-gigabyte archives
				},
			},
			[]string{"verdict"},
		),
		sweepSessions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ziplift_sweep_sessions_total",
				Help: "Total number of sessions touched by recovery sweeps",
			},
			[]string{"sweep"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "ziplift_active_sessions",
				Help: "Number of sessions currently accepting chunks",
			},
		),
	}
}

func (m *uploadMetrics) RecordChunk(status string, bytes int64) {
	m.chunksTotal.WithLabelValues(status).Inc()
	if status == "accepted" && bytes > 0 {
		m.chunkBytes.Add(float64(bytes))
	}
}

func (m *uploadMetrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

func (m *uploadMetrics) RecordSessionOutcome(outcome string) {
	m.sessionOutcomes.WithLabelValues(outcome).Inc()
}

func (m *uploadMetrics) RecordFinalize(verdict string, duration time.Duration) {
	m.finalizeDuration.WithLabelValues(verdict).Observe(float64(duration.Milliseconds()))
}

func (m *uploadMetrics) RecordSweep(sweep string, sessions int) {
	m.sweepSessions.WithLabelValues(sweep).Add(float64(sessions))
}

func (m *uploadMetrics) SetActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

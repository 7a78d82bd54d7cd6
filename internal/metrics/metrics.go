// Package metrics exposes Prometheus instrumentation for the capture
// pipeline. Chunk drops are counted rather than retried; the counter is the
// only visibility into lossy sends.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics.
type Metrics struct {
	ChunksSent      prometheus.Counter
	ChunksDropped   prometheus.Counter
	SessionsStarted prometheus.Counter
	SessionsFailed  prometheus.Counter
	ActiveSession   prometheus.Gauge
	SessionDuration prometheus.Histogram
	Fragments       *prometheus.CounterVec
	MicRecoveries   prometheus.Counter
}

// New registers all metrics against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_chunks_sent_total",
			Help: "Total number of encoded audio chunks sent to the relay",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_chunks_dropped_total",
			Help: "Total number of encoded audio chunks dropped instead of sent",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_sessions_failed_total",
			Help: "Total number of recording sessions that failed to start or ended fatally",
		}),
		ActiveSession: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livescribe_active_session",
			Help: "Whether a recording session is currently active",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "livescribe_session_duration_seconds",
			Help:    "Duration of finished recording sessions",
			Buckets: prometheus.ExponentialBuckets(15, 2, 10),
		}),
		Fragments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_transcript_fragments_total",
			Help: "Total transcript fragments received, by kind",
		}, []string{"kind"}),
		MicRecoveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_mic_recoveries_total",
			Help: "Total number of mid-session microphone re-acquisitions",
		}),
	}
}

// RecordFragment counts one received fragment.
func (m *Metrics) RecordFragment(final bool) {
	if m == nil {
		return
	}
	kind := "interim"
	if final {
		kind = "final"
	}
	m.Fragments.WithLabelValues(kind).Inc()
}

// RecordChunkSent counts one transmitted chunk.
func (m *Metrics) RecordChunkSent() {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
}

// RecordChunkDropped counts one dropped chunk.
func (m *Metrics) RecordChunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}

// RecordSessionStarted marks a new active session.
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSession.Set(1)
}

// RecordSessionFailed counts a session that could not start or ended fatally.
func (m *Metrics) RecordSessionFailed() {
	if m == nil {
		return
	}
	m.SessionsFailed.Inc()
}

// RecordSessionFinished clears the active gauge and observes the duration.
func (m *Metrics) RecordSessionFinished(seconds float64) {
	if m == nil {
		return
	}
	m.ActiveSession.Set(0)
	m.SessionDuration.Observe(seconds)
}

// RecordMicRecovery counts one successful mid-session mic re-acquisition.
func (m *Metrics) RecordMicRecovery() {
	if m == nil {
		return
	}
	m.MicRecoveries.Inc()
}

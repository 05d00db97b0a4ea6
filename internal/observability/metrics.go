package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric filepipe exports.
type Metrics struct {
	// Transfer metrics
	TransfersTotal        *prometheus.CounterVec
	TransfersActive       prometheus.Gauge
	TransferDuration      prometheus.Histogram
	BytesTransferredTotal *prometheus.CounterVec
	ChunksSentTotal       prometheus.Counter
	ChunksReceivedTotal   prometheus.Counter
	ChunksRetransmitted   *prometheus.CounterVec
	ChunksFailedTotal     prometheus.Counter

	// Connection metrics
	QUICConnectionsTotal   *prometheus.CounterVec
	QUICConnectionsActive  prometheus.Gauge
	QUICConnectionDuration prometheus.Histogram
	QUICStreamsActive      prometheus.Gauge

	// Session metrics
	SessionStateTransitionsTotal *prometheus.CounterVec
	SessionResumesTotal          prometheus.Counter
	BitmapPersistDuration        prometheus.Histogram

	// Dedup metrics
	DedupHitsTotal      prometheus.Counter
	DedupBytesSavedTotal prometheus.Counter

	activeTransfers int64
}

// NewMetrics creates and registers every Prometheus metric.
func NewMetrics() *Metrics {
	m := &Metrics{
		TransfersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filepipe_transfers_total",
				Help: "Total transfers initiated",
			},
			[]string{"status"},
		),

		TransfersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "filepipe_transfers_active",
				Help: "Currently active transfers",
			},
		),

		TransferDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "filepipe_transfer_duration_seconds",
				Help:    "Transfer completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),

		BytesTransferredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filepipe_bytes_transferred_total",
				Help: "Total bytes transferred",
			},
			[]string{"direction"},
		),

		ChunksSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filepipe_chunks_sent_total",
				Help: "Total chunks sent",
			},
		),

		ChunksReceivedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filepipe_chunks_received_total",
				Help: "Total chunks received",
			},
		),

		ChunksRetransmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filepipe_chunks_retransmitted_total",
				Help: "Chunks requiring retransmission",
			},
			[]string{"reason"},
		),

		ChunksFailedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filepipe_chunks_failed_total",
				Help: "Chunks that exhausted their retry budget",
			},
		),

		QUICConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filepipe_quic_connections_total",
				Help: "QUIC connection attempts",
			},
			[]string{"result"},
		),

		QUICConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "filepipe_quic_connections_active",
				Help: "Active QUIC connections",
			},
		),

		QUICConnectionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "filepipe_quic_connection_duration_seconds",
				Help:    "QUIC connection lifetime",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),

		QUICStreamsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "filepipe_quic_streams_active",
				Help: "Active QUIC streams",
			},
		),

		SessionStateTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filepipe_session_state_transitions_total",
				Help: "Session phase transitions",
			},
			[]string{"state"},
		),

		SessionResumesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filepipe_session_resumes_total",
				Help: "Transfers that resumed from a persisted bitmap",
			},
		),

		BitmapPersistDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "filepipe_bitmap_persist_duration_seconds",
				Help:    "Bitmap persistence latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		DedupHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filepipe_dedup_hits_total",
				Help: "Chunks skipped because an identical chunk was already stored",
			},
		),

		DedupBytesSavedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filepipe_dedup_bytes_saved_total",
				Help: "Bytes not written to disk due to deduplication",
			},
		),
	}

	return m
}

// RecordTransferStart increments active transfer counters.
func (m *Metrics) RecordTransferStart() {
	atomic.AddInt64(&m.activeTransfers, 1)
	m.TransfersActive.Set(float64(atomic.LoadInt64(&m.activeTransfers)))
}

// RecordTransferComplete records transfer completion metrics.
func (m *Metrics) RecordTransferComplete(success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeTransfers, -1)
	m.TransfersActive.Set(float64(atomic.LoadInt64(&m.activeTransfers)))

	status := "success"
	if !success {
		status = "failure"
	}

	m.TransfersTotal.WithLabelValues(status).Inc()
	m.TransferDuration.Observe(durationSeconds)
}

// RecordChunkSent updates metrics for a sent chunk.
func (m *Metrics) RecordChunkSent(bytes int) {
	m.ChunksSentTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("sent").Add(float64(bytes))
}

// RecordChunkReceived updates metrics for a received chunk.
func (m *Metrics) RecordChunkReceived(bytes int) {
	m.ChunksReceivedTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("received").Add(float64(bytes))
}

// RecordChunkRetransmit increments retransmit counters by reason (nack,
// timeout, resume).
func (m *Metrics) RecordChunkRetransmit(reason string) {
	m.ChunksRetransmitted.WithLabelValues(reason).Inc()
}

// RecordChunkFailed increments the terminal-failure counter, for a chunk
// that exhausted max_retries.
func (m *Metrics) RecordChunkFailed() {
	m.ChunksFailedTotal.Inc()
}

// RecordQUICConnection logs QUIC connection attempts.
func (m *Metrics) RecordQUICConnection(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.QUICConnectionsTotal.WithLabelValues(result).Inc()

	if success {
		m.QUICConnectionsActive.Inc()
	}
}

// RecordQUICConnectionClose updates metrics for closed QUIC connections.
func (m *Metrics) RecordQUICConnectionClose(durationSeconds float64) {
	m.QUICConnectionsActive.Dec()
	m.QUICConnectionDuration.Observe(durationSeconds)
}

// RecordSessionStateTransition counts a session entering a new phase.
func (m *Metrics) RecordSessionStateTransition(state string) {
	m.SessionStateTransitionsTotal.WithLabelValues(state).Inc()
}

// RecordSessionResume counts a transfer that resumed from a prior bitmap.
func (m *Metrics) RecordSessionResume() {
	m.SessionResumesTotal.Inc()
}

// RecordBitmapPersist observes how long a bitmap save took.
func (m *Metrics) RecordBitmapPersist(durationSeconds float64) {
	m.BitmapPersistDuration.Observe(durationSeconds)
}

// RecordDedupHit counts a chunk skipped by the dedup index and the bytes
// its write would otherwise have cost.
func (m *Metrics) RecordDedupHit(bytes int) {
	m.DedupHitsTotal.Inc()
	m.DedupBytesSavedTotal.Add(float64(bytes))
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a meshxfer process.
type Metrics struct {
	// Transfer metrics
	TransfersTotal        *prometheus.CounterVec
	TransfersActive       prometheus.Gauge
	TransfersQueued       prometheus.Gauge
	TransferDuration      prometheus.Histogram
	BytesTransferredTotal *prometheus.CounterVec
	ChunksSentTotal       prometheus.Counter
	ChunksReceivedTotal   prometheus.Counter
	ChunksRetransmitted   *prometheus.CounterVec
	ChunksMACFailures     prometheus.Counter
	AcksCoalesced         prometheus.Counter
	AcksSent              prometheus.Counter

	// Chunk engine metrics
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CacheEvictionsTotal  prometheus.Counter
	CompressionAppliedPct prometheus.Gauge
	MemoryPressureActive prometheus.Gauge

	// FEC metrics
	FECEnabled                     prometheus.Gauge
	FECReconstructionsTotal        prometheus.Counter
	FECReconstructionFailuresTotal prometheus.Counter
	FECParityShardsSentTotal       prometheus.Counter

	// Integrity metrics
	MerkleVerificationsTotal *prometheus.CounterVec
	SHA256VerificationsTotal *prometheus.CounterVec

	// Connection metrics (optional transport collaborators)
	QUICConnectionsTotal   *prometheus.CounterVec
	QUICConnectionsActive  prometheus.Gauge
	QUICConnectionDuration prometheus.Histogram

	// Resume store metrics
	ResumeStoreOperationsTotal *prometheus.CounterVec

	activeTransfers int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TransfersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshxfer_transfers_total",
				Help: "Total transfers admitted, by terminal status",
			},
			[]string{"status"},
		),

		TransfersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshxfer_transfers_active",
				Help: "Currently active (Transferring) transfers",
			},
		),

		TransfersQueued: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshxfer_transfers_queued",
				Help: "Transfers waiting for admission",
			},
		),

		TransferDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meshxfer_transfer_duration_seconds",
				Help:    "Transfer completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),

		BytesTransferredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshxfer_bytes_transferred_total",
				Help: "Total bytes transferred",
			},
			[]string{"direction"},
		),

		ChunksSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meshxfer_chunks_sent_total",
				Help: "Total chunks sent",
			},
		),

		ChunksReceivedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meshxfer_chunks_received_total",
				Help: "Total chunks received",
			},
		),

		ChunksRetransmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshxfer_chunks_retransmitted_total",
				Help: "Chunks requiring retransmission",
			},
			[]string{"reason"},
		),

		ChunksMACFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meshxfer_chunks_mac_failures_total",
				Help: "Chunks rejected for MAC verification failure",
			},
		),

		AcksCoalesced: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meshxfer_acks_coalesced_total",
				Help: "ACKs suppressed by coalescing before the threshold fired",
			},
		),

		AcksSent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meshxfer_acks_sent_total",
				Help: "ACKs actually transmitted",
			},
		),

		CacheHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meshxfer_chunk_cache_hits_total",
				Help: "Chunk cache hits",
			},
		),

		CacheMissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meshxfer_chunk_cache_misses_total",
				Help: "Chunk cache misses",
			},
		),

		CacheEvictionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meshxfer_chunk_cache_evictions_total",
				Help: "Chunk cache LRU evictions",
			},
		),

		CompressionAppliedPct: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshxfer_compression_applied_ratio",
				Help: "Fraction of recently produced chunks with compression applied",
			},
		),

		MemoryPressureActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshxfer_memory_pressure_active",
				Help: "1 if the chunk engine believes the host is under memory pressure",
			},
		),

		FECEnabled: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshxfer_fec_enabled",
				Help: "FEC currently enabled (0/1)",
			},
		),

		FECReconstructionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meshxfer_fec_reconstructions_total",
				Help: "Chunk batches reconstructed via FEC parity",
			},
		),

		FECReconstructionFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meshxfer_fec_reconstruction_failures_total",
				Help: "Failed FEC reconstructions (too many shards missing)",
			},
		),

		FECParityShardsSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meshxfer_fec_parity_shards_sent_total",
				Help: "Parity shards transmitted",
			},
		),

		MerkleVerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshxfer_merkle_verifications_total",
				Help: "Supplemental BLAKE3 Merkle root verifications",
			},
			[]string{"result"},
		),

		SHA256VerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshxfer_sha256_verifications_total",
				Help: "Whole-file SHA-256 verifications against the manifest",
			},
			[]string{"result"},
		),

		QUICConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshxfer_quic_connections_total",
				Help: "QUIC connection attempts (optional transport)",
			},
			[]string{"result"},
		),

		QUICConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshxfer_quic_connections_active",
				Help: "Active QUIC connections",
			},
		),

		QUICConnectionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meshxfer_quic_connection_duration_seconds",
				Help:    "QUIC connection lifetime",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),

		ResumeStoreOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshxfer_resume_store_operations_total",
				Help: "Resume token store operations",
			},
			[]string{"operation", "result"},
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
func (m *Metrics) RecordTransferComplete(status string, durationSeconds float64) {
	atomic.AddInt64(&m.activeTransfers, -1)
	m.TransfersActive.Set(float64(atomic.LoadInt64(&m.activeTransfers)))

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

// RecordChunkRetransmit increments retransmit counters.
func (m *Metrics) RecordChunkRetransmit(reason string) {
	m.ChunksRetransmitted.WithLabelValues(reason).Inc()
}

// RecordCacheAccess updates chunk cache hit/miss counters.
func (m *Metrics) RecordCacheAccess(hit bool) {
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
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

// RecordMerkleVerification increments Merkle verification counters.
func (m *Metrics) RecordMerkleVerification(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.MerkleVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordSHA256Verification increments whole-file SHA-256 verification counters.
func (m *Metrics) RecordSHA256Verification(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.SHA256VerificationsTotal.WithLabelValues(result).Inc()
}

// RecordFECReconstruction updates FEC reconstruction counters.
func (m *Metrics) RecordFECReconstruction(success bool) {
	if success {
		m.FECReconstructionsTotal.Inc()
	} else {
		m.FECReconstructionFailuresTotal.Inc()
	}
}

// SetFECEnabled sets the FEC enabled flag.
func (m *Metrics) SetFECEnabled(enabled bool) {
	if enabled {
		m.FECEnabled.Set(1)
	} else {
		m.FECEnabled.Set(0)
	}
}

// SetMemoryPressure sets the chunk engine's observed pressure state.
func (m *Metrics) SetMemoryPressure(active bool) {
	if active {
		m.MemoryPressureActive.Set(1)
	} else {
		m.MemoryPressureActive.Set(0)
	}
}

// RecordResumeStoreOp records a resume-token store operation's outcome.
func (m *Metrics) RecordResumeStoreOp(operation string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.ResumeStoreOperationsTotal.WithLabelValues(operation, result).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

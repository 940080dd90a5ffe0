package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for OriumLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreOpsApplied   *prometheus.CounterVec
	CoreOpsRejected  *prometheus.CounterVec
	CoreOpDuration   *prometheus.HistogramVec
	CoreStateHashDur prometheus.Histogram
	CoreSequence     prometheus.Gauge
	CoreHeight       prometheus.Gauge

	// --- Protocol state ---
	OpenCdps        prometheus.Gauge
	TotalCollateral prometheus.Gauge
	TotalDebt       *prometheus.GaugeVec
	OraclePrice     *prometheus.GaugeVec
	Liquidations    prometheus.Counter

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter
	OpSequenceGap         prometheus.Counter
	OpOutOfOrder          prometheus.Counter

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec

	// --- Persistence ---
	PersistOpsWritten   prometheus.Counter
	PersistBatchSize    prometheus.Histogram
	PersistErrors       *prometheus.CounterVec
	PersistRetry        prometheus.Counter
	PersistLastSequence prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayOpsTotal    prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreOpsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orium_core_ops_applied_total",
			Help: "Operations successfully applied by core",
		}, []string{"op_type"}),

		CoreOpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orium_core_ops_rejected_total",
			Help: "Operations rejected (duplicate or domain error)",
		}, []string{"op_type", "reason"}),

		CoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orium_core_op_apply_duration_seconds",
			Help:    "Time to apply a single operation in core",
			Buckets: latencyBuckets,
		}, []string{"op_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "orium_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "orium_core_sequence",
			Help: "Next global sequence number",
		}),

		CoreHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "orium_core_block_height",
			Help: "Latest observed block height",
		}),

		// Protocol state
		OpenCdps: f.NewGauge(prometheus.GaugeOpts{
			Name: "orium_open_cdps",
			Help: "Number of open positions",
		}),

		TotalCollateral: f.NewGauge(prometheus.GaugeOpts{
			Name: "orium_total_collateral",
			Help: "Total locked ORM (lossy float view)",
		}),

		TotalDebt: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orium_total_debt",
			Help: "Total outstanding debt per stablecoin (lossy float view)",
		}, []string{"asset"}),

		OraclePrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orium_oracle_price",
			Help: "Latest oracle price, unscaled",
		}, []string{"symbol"}),

		Liquidations: f.NewCounter(prometheus.CounterOpts{
			Name: "orium_liquidations_total",
			Help: "Positions liquidated",
		}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orium_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: []float64{0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01},
		}, []string{"op_type"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "orium_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orium_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orium_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orium_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orium_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "orium_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "orium_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "orium_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orium_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"op_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "orium_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "orium_dedup_tier2_errors_total",
			Help: "Postgres dedup lookup failures",
		}),

		OpSequenceGap: f.NewCounter(prometheus.CounterOpts{
			Name: "orium_op_sequence_gap_total",
			Help: "Source sequence gaps",
		}),

		OpOutOfOrder: f.NewCounter(prometheus.CounterOpts{
			Name: "orium_op_out_of_order_total",
			Help: "Out-of-order rejections",
		}),

		// Ingestion
		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orium_ingest_messages_total",
			Help: "Inbound messages by source and result",
		}, []string{"source", "result"}),

		// Persistence
		PersistOpsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "orium_persist_ops_written_total",
			Help: "Operations written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "orium_persist_batch_size",
			Help:    "Operations per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orium_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "orium_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "orium_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "orium_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "orium_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "orium_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "orium_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayOpsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "orium_replay_ops_total",
			Help: "Operations replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "orium_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orium_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orium_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}

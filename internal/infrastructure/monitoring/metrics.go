package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type SyncMetrics struct {
	QueueDepth         prometheus.Gauge
	EntriesReplayed    *prometheus.CounterVec
	EntriesFailed      *prometheus.CounterVec
	SilentRejections   *prometheus.CounterVec
	DrainDuration      prometheus.Histogram
	ReconcileDuration  prometheus.Histogram
	OrphansRecovered   prometheus.Counter
	ConnectivityStatus prometheus.Gauge
}

var Sync = SyncMetrics{
	QueueDepth: promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pocket_ledger_sync_queue_depth",
			Help: "Number of pending mutations awaiting remote replay.",
		},
	),
	EntriesReplayed: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocket_ledger_sync_entries_replayed_total",
			Help: "Total queue entries confirmed against the remote store.",
		},
		[]string{"collection", "action"},
	),
	EntriesFailed: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocket_ledger_sync_entries_failed_total",
			Help: "Total queue entry replay attempts that failed and were retained.",
		},
		[]string{"collection", "action"},
	),
	SilentRejections: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocket_ledger_sync_silent_rejections_total",
			Help: "Remote writes that reported success with zero affected rows.",
		},
		[]string{"collection", "action"},
	),
	DrainDuration: promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pocket_ledger_sync_drain_duration_seconds",
			Help:    "Histogram of full queue drain pass latencies.",
			Buckets: prometheus.DefBuckets,
		},
	),
	ReconcileDuration: promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pocket_ledger_sync_reconcile_duration_seconds",
			Help:    "Histogram of reconciliation pass latencies.",
			Buckets: prometheus.DefBuckets,
		},
	),
	OrphansRecovered: promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pocket_ledger_sync_orphans_recovered_total",
			Help: "Local records re-enqueued after being lost from both remote and queue.",
		},
	),
	ConnectivityStatus: promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pocket_ledger_sync_online",
			Help: "1 when the remote store is reachable, 0 otherwise.",
		},
	),
}

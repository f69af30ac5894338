package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики синхронизации
// ============================================================

// PagesFetched - полученные страницы по потоку
var PagesFetched = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "firisync",
		Subsystem: "sync",
		Name:      "pages_fetched_total",
		Help:      "Total number of history pages fetched",
	},
	[]string{"stream"},
)

// RecordsFetched - полученные записи по потоку
var RecordsFetched = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "firisync",
		Subsystem: "sync",
		Name:      "records_fetched_total",
		Help:      "Total number of raw records fetched",
	},
	[]string{"stream"},
)

// StreamErrors - потоки, остановленные ошибкой
var StreamErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "firisync",
		Subsystem: "sync",
		Name:      "stream_errors_total",
		Help:      "Streams stopped by an error",
	},
	[]string{"stream"},
)

// SkippedRecords - записи без идентификатора, не попавшие в выборку
var SkippedRecords = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "firisync",
		Subsystem: "sync",
		Name:      "records_skipped_total",
		Help:      "Raw records skipped because they could not be decoded",
	},
	[]string{"stream"},
)

// SyncDuration - длительность пагинации всех потоков
var SyncDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "firisync",
		Subsystem: "sync",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of SyncAll in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	},
)

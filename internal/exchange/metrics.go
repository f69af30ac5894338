package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики клиента биржи
// ============================================================

// RequestsTotal - ответы биржи по endpoint и статусу ("error" - транспорт)
var RequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "firisync",
		Subsystem: "exchange",
		Name:      "requests_total",
		Help:      "Total number of requests to the exchange API",
	},
	[]string{"endpoint", "status"},
)

// RequestDuration - длительность HTTP запроса без ожидания лимитера
var RequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "firisync",
		Subsystem: "exchange",
		Name:      "request_duration_seconds",
		Help:      "Exchange API request duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	},
	[]string{"endpoint"},
)

// RetriesTotal - повторы по причине (status_5xx, status_429, transport)
var RetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "firisync",
		Subsystem: "exchange",
		Name:      "retries_total",
		Help:      "Total number of retried exchange requests",
	},
	[]string{"endpoint", "reason"},
)

// LimiterWait - время ожидания слота лимитера
var LimiterWait = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "firisync",
		Subsystem: "exchange",
		Name:      "limiter_wait_seconds",
		Help:      "Time spent waiting for a rate limiter slot",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	},
)

// MarketRefreshTotal - обновления справочника рынков (ok, stale, error)
var MarketRefreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "firisync",
		Subsystem: "markets",
		Name:      "refresh_total",
		Help:      "Market directory refresh attempts by result",
	},
	[]string{"result"},
)

// MarketsCached - количество рынков в кэше
var MarketsCached = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "firisync",
		Subsystem: "markets",
		Name:      "cached",
		Help:      "Number of markets in the directory cache",
	},
)

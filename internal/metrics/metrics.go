// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvesterFetchesTotal          *prometheus.CounterVec
	harvesterFetchBytesTotal       *prometheus.CounterVec
	harvesterFetchDurationSeconds  *prometheus.HistogramVec
	harvesterItemsTotal            *prometheus.CounterVec
	harvesterAssetsTotal           *prometheus.CounterVec
	harvesterPagesSkippedTotal     prometheus.Counter
	harvesterRecordStoreErrorTotal prometheus.Counter
	harvesterActiveWorkers         prometheus.Gauge
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Total number of HTTP fetches, labeled by request kind and status class.",
			},
			[]string{"kind", "status_class"},
		)

		harvesterFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_bytes_total",
				Help: "Total number of body bytes fetched, labeled by request kind.",
			},
			[]string{"kind"},
		)

		harvesterFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by request kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"kind"},
		)

		harvesterItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_total",
				Help: "Total number of catalog items processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		harvesterAssetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_assets_total",
				Help: "Total number of asset acquisitions, labeled by asset kind and result.",
			},
			[]string{"kind", "result"},
		)

		harvesterPagesSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_listing_pages_skipped_total",
				Help: "Total number of listing pages that could not be fetched or parsed.",
			},
		)

		harvesterRecordStoreErrorTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_record_store_errors_total",
				Help: "Total number of failed writes to the book index.",
			},
		)

		harvesterActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_status_http_requests_total",
				Help: "Total number of requests served by the status server.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_status_http_request_duration_seconds",
				Help:    "Histogram of status server request latencies.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ClassifyStatus groups HTTP status codes for fetch metrics. Zero means the
// request never produced a response.
func ClassifyStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "error"
	}
}

// ObserveFetch records one completed fetch.
func ObserveFetch(kind string, statusCode int, bytesFetched int, duration time.Duration) {
	Init()
	harvesterFetchesTotal.WithLabelValues(kind, ClassifyStatus(statusCode)).Inc()
	if bytesFetched > 0 {
		harvesterFetchBytesTotal.WithLabelValues(kind).Add(float64(bytesFetched))
	}
	harvesterFetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveItem increments the item counter for the given outcome.
func ObserveItem(outcome string) {
	Init()
	harvesterItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAsset increments the asset counter; result is cached, downloaded or failed.
func ObserveAsset(kind, result string) {
	Init()
	harvesterAssetsTotal.WithLabelValues(kind, result).Inc()
}

// ObservePageSkipped increments the skipped listing page counter.
func ObservePageSkipped() {
	Init()
	harvesterPagesSkippedTotal.Inc()
}

// ObserveRecordStoreError increments the book index failure counter.
func ObserveRecordStoreError() {
	Init()
	harvesterRecordStoreErrorTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvesterActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvesterActiveWorkers.Dec()
}

// Package metrics exposes Prometheus collectors for the chapter watcher.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Feed entry decisions.
const (
	EntryTooOld    = "too_old"
	EntryUndated   = "undated"
	EntryNoKeyword = "no_keyword"
	EntryProcessed = "already_processed"
	EntryCandidate = "candidate"
)

// Feed cycle results.
const (
	CycleSucceeded  = "succeeded"
	CycleFeedFailed = "feed_failed"
	CyclePanicked   = "panicked"
)

var (
	chaptersTotal              *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	feedCyclesTotal            *prometheus.CounterVec
	feedCycleDurationSeconds   prometheus.Histogram
	feedEntriesTotal           *prometheus.CounterVec
	ledgerEntries              prometheus.Gauge
	lastChapterNumber          prometheus.Gauge
	lastSuccessTimestamp       prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	fetchThrottleSeconds       *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		chaptersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterwatch_chapters_total",
				Help: "Announcements run through the pipeline, labeled by outcome status and final stage.",
			},
			[]string{"status", "stage"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chapterwatch_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage.",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
			},
			[]string{"stage"},
		)

		feedCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterwatch_feed_cycles_total",
				Help: "Feed poll cycles, labeled by result.",
			},
			[]string{"result"},
		)

		feedCycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chapterwatch_feed_cycle_duration_seconds",
				Help:    "Wall time of one feed poll cycle including processing.",
				Buckets: []float64{0.5, 1, 5, 30, 120, 600},
			},
		)

		feedEntriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterwatch_feed_entries_total",
				Help: "Feed entries seen, labeled by filter decision.",
			},
			[]string{"decision"},
		)

		ledgerEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chapterwatch_ledger_entries",
				Help: "Links currently held in the processed ledger.",
			},
		)

		lastChapterNumber = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chapterwatch_last_chapter_number",
				Help: "Number of the most recently stored chapter.",
			},
		)

		lastSuccessTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chapterwatch_last_success_timestamp_seconds",
				Help: "Unix time of the most recently stored chapter.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		fetchThrottleSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chapterwatch_fetch_throttle_seconds",
				Help:    "Time archive retrievals waited on the per-host rate limiter.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveChapter counts one pipeline outcome.
func ObserveChapter(status, stage string) {
	Init()
	chaptersTotal.WithLabelValues(status, stage).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveCycle counts a finished feed cycle.
func ObserveCycle(result string, duration time.Duration) {
	Init()
	feedCyclesTotal.WithLabelValues(result).Inc()
	feedCycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveEntry counts a feed entry by filter decision.
func ObserveEntry(decision string) {
	Init()
	feedEntriesTotal.WithLabelValues(decision).Inc()
}

// SetLedgerEntries publishes the ledger size.
func SetLedgerEntries(n int) {
	Init()
	ledgerEntries.Set(float64(n))
}

// MarkChapterStored records the latest stored chapter and when it happened.
func MarkChapterStored(number int, at time.Time) {
	Init()
	lastChapterNumber.Set(float64(number))
	lastSuccessTimestamp.Set(float64(at.Unix()))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveThrottle records a rate-limiter wait before contacting host.
func ObserveThrottle(host string, waited time.Duration) {
	Init()
	fetchThrottleSeconds.WithLabelValues(host).Observe(waited.Seconds())
}

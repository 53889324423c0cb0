package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScrapeJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_jobs_total",
		Help: "Total number of scrape jobs by source and outcome",
	}, []string{"source", "outcome"})

	ScrapeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scrape_duration_seconds",
		Help:    "Duration of scrape jobs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"source"})

	ScrapeRecordsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_records_fetched_total",
		Help: "Total number of normalized records produced by scrapes",
	}, []string{"source"})

	NormalizationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "normalization_errors_total",
		Help: "Total number of raw items that failed normalization",
	}, []string{"source"})

	RecordsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "records_ingested_total",
		Help: "Total number of records processed by the ingest engine",
	}, []string{"source"})

	IngestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_errors_total",
		Help: "Total number of records skipped by the ingest engine",
	}, []string{"source"})

	PriceDropEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_drop_events_total",
		Help: "Total number of price-drop events emitted",
	})

	AllTimeLowEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "all_time_low_events_total",
		Help: "Total number of all-time-low events emitted",
	})

	DeadLetteredJobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dead_lettered_jobs_total",
		Help: "Total number of scrape jobs moved to the dead-letter queue",
	})

	StatsRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stats_refresh_duration_seconds",
		Help:    "Duration of full stats and cache refresh cycles",
		Buckets: prometheus.DefBuckets,
	})

	CachePublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_publish_failures_total",
		Help: "Total number of failed deal-score cache publishes",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

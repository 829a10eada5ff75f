package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchBytes tracks bytes downloaded by the remote fetch service
	FetchBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "extracta_fetch_bytes_total",
			Help: "Total number of bytes downloaded",
		},
	)

	// FetchFailures tracks failed downloads per error code
	FetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extracta_fetch_failures_total",
			Help: "Total number of failed downloads",
		},
		[]string{"code", "mode"},
	)

	// FetchLatency tracks download duration
	FetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "extracta_fetch_duration_seconds",
			Help:    "Download duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ElementsExtracted tracks elements yielded per engine
	ElementsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extracta_elements_total",
			Help: "Total number of elements yielded",
		},
		[]string{"engine"},
	)

	// ExtractionFailures tracks extraction failures per engine and fail mode
	ExtractionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extracta_extraction_failures_total",
			Help: "Total number of failed extractions",
		},
		[]string{"engine", "mode", "code"},
	)

	// EngineConstructions tracks engine factory runs
	EngineConstructions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extracta_engine_constructions_total",
			Help: "Total number of engine constructions",
		},
		[]string{"engine", "result"},
	)

	// RetryAttempts tracks retries performed by recovery strategies
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extracta_recovery_attempts_total",
			Help: "Total number of recovery attempts",
		},
		[]string{"strategy", "result"},
	)
)

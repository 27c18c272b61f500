package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors shared across services. Registered on the default
// registry; the gateway exposes them on /metrics.
var (
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sportswire_messages_consumed_total",
		Help: "Broker messages seen by the consumer loop, by terminal outcome.",
	}, []string{"topic", "outcome"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sportswire_handler_duration_seconds",
		Help:    "Message handler execution time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic", "outcome"})

	ArticlesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sportswire_articles_ingested_total",
		Help: "Raw articles seen by the ingester, by outcome (published, duplicate_cache, duplicate_store, error).",
	}, []string{"source", "outcome"})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sportswire_llm_requests_total",
		Help: "LLM completions issued, by provider and outcome.",
	}, []string{"provider", "outcome"})

	LLMDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sportswire_llm_request_duration_seconds",
		Help:    "LLM completion latency.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"provider"})

	QueriesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sportswire_queries_submitted_total",
		Help: "Queries accepted by the gateway.",
	})
)

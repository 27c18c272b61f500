package config

import "time"

// TopicsConfig names the broker topics the pipeline publishes to and
// consumes from.
type TopicsConfig struct {
	ContentRaw string // ContentMessage traffic, poller → content worker
	Query      string // QueryMessage traffic, gateway → query worker
}

// DefaultTopicsConfig returns the built-in topic names.
func DefaultTopicsConfig() TopicsConfig {
	return TopicsConfig{
		ContentRaw: "content-raw",
		Query:      "query",
	}
}

// LoadTopicsFromEnv reads topic names from TOPIC_CONTENT_RAW and TOPIC_QUERY.
func LoadTopicsFromEnv() TopicsConfig {
	def := DefaultTopicsConfig()
	return TopicsConfig{
		ContentRaw: GetEnv("TOPIC_CONTENT_RAW", def.ContentRaw),
		Query:      GetEnv("TOPIC_QUERY", def.Query),
	}
}

// PollerConfig controls the feed polling cycle.
type PollerConfig struct {
	// Interval is the period between poll cycles.
	Interval time.Duration
}

// DefaultPollerConfig returns the built-in poller defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Interval: 300 * time.Second}
}

// LoadPollerFromEnv reads the poll interval from POLLER_INTERVAL_SECONDS.
func LoadPollerFromEnv() PollerConfig {
	def := DefaultPollerConfig()
	return PollerConfig{
		Interval: GetEnvSeconds("POLLER_INTERVAL_SECONDS", def.Interval),
	}
}

// ConsumerConfig controls the broker consume loop shared by the content and
// query workers.
type ConsumerConfig struct {
	// MaxWorkers bounds concurrent handler invocations. It sizes both the
	// dispatcher pool and the consumer's acquire-before-read semaphore.
	MaxWorkers int

	// VisibilityTimeout is the per-message lease length on brokers that
	// support one; the extender renews at two thirds of it.
	VisibilityTimeout time.Duration
}

// DefaultConsumerConfig returns the built-in consumer defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		MaxWorkers:        10,
		VisibilityTimeout: 30 * time.Second,
	}
}

// LoadConsumerFromEnv reads consumer settings from CONSUMER_MAX_WORKERS and
// CONSUMER_VISIBILITY_TIMEOUT_SECONDS.
func LoadConsumerFromEnv() ConsumerConfig {
	def := DefaultConsumerConfig()
	cfg := ConsumerConfig{
		MaxWorkers:        GetEnvInt("CONSUMER_MAX_WORKERS", def.MaxWorkers),
		VisibilityTimeout: GetEnvSeconds("CONSUMER_VISIBILITY_TIMEOUT_SECONDS", def.VisibilityTimeout),
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	return cfg
}

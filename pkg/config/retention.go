package config

import "time"

// RetentionConfig controls how long processed articles are kept.
type RetentionConfig struct {
	// ArticleRetentionDays is how many days of articles to keep, measured
	// against published_at. Zero or negative disables the sweep.
	ArticleRetentionDays int

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		ArticleRetentionDays: 90,
		CleanupInterval:      12 * time.Hour,
	}
}

// LoadRetentionFromEnv loads retention configuration from environment variables.
func LoadRetentionFromEnv() RetentionConfig {
	cfg := DefaultRetentionConfig()
	cfg.ArticleRetentionDays = GetEnvInt("ARTICLE_RETENTION_DAYS", cfg.ArticleRetentionDays)
	cfg.CleanupInterval = GetEnvSeconds("CLEANUP_INTERVAL_SECONDS", cfg.CleanupInterval)
	return cfg
}

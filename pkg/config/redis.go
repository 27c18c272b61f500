package config

import (
	"net"
	"strconv"
	"time"
)

// RedisConfig holds connection settings for the Redis instance backing the
// state store, the dedup cache, and the stream broker.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	// DefaultTTL caps the lifetime of state-store entries. It must cover the
	// longest expected client poll horizon.
	DefaultTTL time.Duration
}

// Addr returns the host:port dial address.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultRedisConfig returns the built-in Redis defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:       "localhost",
		Port:       6379,
		DefaultTTL: 24 * time.Hour,
	}
}

// LoadRedisFromEnv reads Redis settings from REDIS_HOST, REDIS_PORT,
// REDIS_PASSWORD, REDIS_DB and REDIS_DEFAULT_TTL_SECONDS.
func LoadRedisFromEnv() RedisConfig {
	def := DefaultRedisConfig()
	return RedisConfig{
		Host:       GetEnv("REDIS_HOST", def.Host),
		Port:       GetEnvInt("REDIS_PORT", def.Port),
		Password:   GetEnv("REDIS_PASSWORD", ""),
		DB:         GetEnvInt("REDIS_DB", 0),
		DefaultTTL: GetEnvSeconds("REDIS_DEFAULT_TTL_SECONDS", def.DefaultTTL),
	}
}

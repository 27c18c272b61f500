// Poller service: fetches configured feeds on a schedule and pushes new
// articles onto the content topic.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sportswire/sportswire/pkg/articles"
	"github.com/sportswire/sportswire/pkg/broker"
	"github.com/sportswire/sportswire/pkg/config"
	"github.com/sportswire/sportswire/pkg/database"
	"github.com/sportswire/sportswire/pkg/dedup"
	"github.com/sportswire/sportswire/pkg/gateway"
	"github.com/sportswire/sportswire/pkg/ingest"
	"github.com/sportswire/sportswire/pkg/sources"
	"github.com/sportswire/sportswire/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Load .env when present, otherwise run on the existing environment
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	config.SetupLogger()

	httpPort := config.GetEnv("HTTP_PORT", "8081")
	slog.Info("Starting sportswire poller", "http_port", httpPort)

	ctx := context.Background()

	// 1. Tracing
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.LoadConfigFromEnv("sportswire-poller"))
	if err != nil {
		slog.Error("Failed to set up tracing", "error", err)
		os.Exit(1)
	}

	// 2. Dedup cache
	cache, err := dedup.Connect(ctx, config.LoadRedisFromEnv())
	if err != nil {
		slog.Error("Failed to connect to dedup cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			slog.Error("Error closing dedup cache", "error", err)
		}
	}()

	// 3. Article store. The ingester only checks row existence, so no search
	// client is attached here.
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	db, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	store := articles.New(db, nil)
	slog.Info("Connected to PostgreSQL database")

	// 4. Broker and ingester
	bus, err := broker.New(broker.LoadConfigFromEnv())
	if err != nil {
		slog.Error("Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			slog.Error("Error closing broker", "error", err)
		}
	}()

	topics := config.LoadTopicsFromEnv()
	ingester := ingest.NewIngester(cache, store, bus, topics.ContentRaw)

	// 5. Feed sources and poller
	srcs, err := sources.New(sources.LoadConfigFromEnv())
	if err != nil {
		slog.Error("Failed to build content sources", "error", err)
		os.Exit(1)
	}
	if len(srcs) == 0 {
		slog.Error("No content sources configured")
		os.Exit(1)
	}

	pollerCfg := config.LoadPollerFromEnv()
	poller := ingest.NewPoller(srcs, ingester, pollerCfg.Interval)
	poller.Start(ctx)

	// 6. Health and metrics endpoint (non-blocking)
	ops := gateway.NewOpsServer(map[string]gateway.Probe{
		"dedup_cache": cache.Healthy,
		"database":    db.DB().PingContext,
		"broker":      bus.Healthy,
	})
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("Health server listening", "addr", addr)
		if err := ops.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("Health server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Poller started",
		"sources", len(srcs),
		"interval", pollerCfg.Interval,
		"content_topic", topics.ContentRaw)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop the schedule and wait out the running cycle,
	// then drain HTTP and flush telemetry
	poller.Close()

	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownTimeout)
	defer httpCancel()
	if err := ops.Shutdown(httpCtx); err != nil {
		slog.Error("Health server shutdown error", "error", err)
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, shutdownTimeout)
	defer flushCancel()
	if err := shutdownTracing(flushCtx); err != nil {
		slog.Error("Trace flush error", "error", err)
	}

	slog.Info("Shutdown complete")
}

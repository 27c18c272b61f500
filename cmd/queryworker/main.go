// Query worker: consumes submitted queries, retrieves matching articles,
// synthesizes an answer through the configured LLM provider, and writes the
// result back to request state.
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
	"github.com/sportswire/sportswire/pkg/consumer"
	"github.com/sportswire/sportswire/pkg/database"
	"github.com/sportswire/sportswire/pkg/dispatch"
	"github.com/sportswire/sportswire/pkg/gateway"
	"github.com/sportswire/sportswire/pkg/llm"
	"github.com/sportswire/sportswire/pkg/queryengine"
	"github.com/sportswire/sportswire/pkg/search"
	"github.com/sportswire/sportswire/pkg/state"
	"github.com/sportswire/sportswire/pkg/telemetry"
)

const (
	// drainTimeout caps how long shutdown waits for in-flight handlers; LLM
	// calls can run tens of seconds.
	drainTimeout = 30 * time.Second

	shutdownTimeout = 5 * time.Second
)

func main() {
	// Load .env when present, otherwise run on the existing environment
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	config.SetupLogger()

	httpPort := config.GetEnv("HTTP_PORT", "8083")
	slog.Info("Starting sportswire query worker", "http_port", httpPort)

	ctx := context.Background()

	// 1. Tracing
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.LoadConfigFromEnv("sportswire-query-worker"))
	if err != nil {
		slog.Error("Failed to set up tracing", "error", err)
		os.Exit(1)
	}

	// 2. Request state store
	stateStore, err := state.Connect(ctx, config.LoadRedisFromEnv())
	if err != nil {
		slog.Error("Failed to connect to state store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := stateStore.Close(); err != nil {
			slog.Error("Error closing state store", "error", err)
		}
	}()
	requests := state.NewRequestStore(stateStore)
	slog.Info("Connected to Redis state store")

	// 3. Article store (PostgreSQL + Elasticsearch)
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
	slog.Info("Connected to PostgreSQL database")

	es, err := search.New(search.LoadConfigFromEnv())
	if err != nil {
		slog.Error("Failed to create search client", "error", err)
		os.Exit(1)
	}
	if err := es.EnsureIndex(ctx); err != nil {
		slog.Error("Failed to ensure search index", "error", err)
		os.Exit(1)
	}
	store := articles.New(db, es)

	// 4. LLM provider
	llmCfg := llm.LoadConfigFromEnv()
	provider, err := llm.New(llmCfg)
	if err != nil {
		slog.Error("Failed to create LLM provider", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM provider initialized", "provider", llmCfg.Provider, "model", provider.Model())

	// 5. Handler, dispatcher, consumer
	consumerCfg := config.LoadConsumerFromEnv()
	dispatcher := dispatch.New(consumerCfg.MaxWorkers, queryengine.New(requests, store, provider))

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
	cons := consumer.New(bus, topics.Query, dispatcher, consumerCfg.VisibilityTimeout)

	// 6. Start consume loop (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		if err := cons.Run(ctx); err != nil {
			slog.Error("Consumer error", "error", err)
			errCh <- err
		}
	}()

	// 7. Health and metrics endpoint (non-blocking)
	ops := gateway.NewOpsServer(map[string]gateway.Probe{
		"state_store": stateStore.Healthy,
		"database":    db.DB().PingContext,
		"broker":      bus.Healthy,
	})
	go func() {
		addr := ":" + httpPort
		slog.Info("Health server listening", "addr", addr)
		if err := ops.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("Health server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Query worker started",
		"topic", topics.Query,
		"max_workers", consumerCfg.MaxWorkers)

	// 8. Wait for shutdown signal or a fatal loop error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Fatal error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop fetching, drain in-flight handlers with a
	// deadline, then HTTP and telemetry
	cons.Close()

	drained := make(chan struct{})
	go func() {
		dispatcher.Close(false)
		close(drained)
	}()
	select {
	case <-drained:
		slog.Info("Dispatcher drained")
	case <-time.After(drainTimeout):
		slog.Warn("Drain timeout exceeded, unfinished messages will redeliver")
	}

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

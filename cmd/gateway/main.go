// Gateway service: accepts query submissions over HTTP, records request
// state, and hands the work to the query topic.
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

	"github.com/sportswire/sportswire/pkg/broker"
	"github.com/sportswire/sportswire/pkg/config"
	"github.com/sportswire/sportswire/pkg/gateway"
	"github.com/sportswire/sportswire/pkg/services"
	"github.com/sportswire/sportswire/pkg/state"
	"github.com/sportswire/sportswire/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Load .env when present, otherwise run on the existing environment
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	config.SetupLogger()

	httpPort := config.GetEnv("HTTP_PORT", "8080")
	slog.Info("Starting sportswire gateway", "http_port", httpPort)

	ctx := context.Background()

	// 1. Tracing
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.LoadConfigFromEnv("sportswire-gateway"))
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

	// 3. Broker
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

	// 4. Query service and HTTP server
	topics := config.LoadTopicsFromEnv()
	queries := services.NewQueryService(requests, bus, topics.Query)

	srv := gateway.NewServer(queries, map[string]gateway.Probe{
		"state_store": stateStore.Healthy,
		"broker":      bus.Healthy,
	})

	// 5. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Gateway started", "query_topic", topics.Query)

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown: drain HTTP, then flush telemetry
	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownTimeout)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, shutdownTimeout)
	defer flushCancel()
	if err := shutdownTracing(flushCtx); err != nil {
		slog.Error("Trace flush error", "error", err)
	}

	slog.Info("Shutdown complete")
}

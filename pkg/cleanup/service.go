// Package cleanup enforces article retention in the background.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/sportswire/sportswire/pkg/articles"
	"github.com/sportswire/sportswire/pkg/config"
)

// Service periodically deletes articles older than the retention window.
// Deletion keys on published_at, so a sweep is idempotent and safe to run
// from multiple workers.
type Service struct {
	config config.RetentionConfig
	store  articles.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention service.
func NewService(cfg config.RetentionConfig, store articles.Store) *Service {
	if store == nil {
		panic("cleanup: article store is required")
	}
	return &Service{config: cfg, store: store}
}

// Start launches the background retention loop. A non-positive retention
// window disables the service entirely.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	if s.config.ArticleRetentionDays <= 0 {
		slog.Info("Article retention disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"article_retention_days", s.config.ArticleRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the retention loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.ArticleRetentionDays)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: article sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention: deleted old articles", "count", deleted, "cutoff", cutoff)
	}
}

// Package ingest feeds raw articles into the processing pipeline: the Poller
// fans out across content sources on a schedule, the Ingester deduplicates
// and publishes each article to the content-raw topic.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sportswire/sportswire/pkg/articles"
	"github.com/sportswire/sportswire/pkg/broker"
	"github.com/sportswire/sportswire/pkg/dedup"
	"github.com/sportswire/sportswire/pkg/models"
	"github.com/sportswire/sportswire/pkg/telemetry"
)

// Ingester deduplicates raw articles and publishes the survivors.
type Ingester struct {
	cache  *dedup.Cache
	store  articles.Store
	bus    broker.Broker
	topic  string
	logger *slog.Logger
}

// NewIngester wires the ingest path. All collaborators are required; an
// empty topic selects the default content topic.
func NewIngester(cache *dedup.Cache, store articles.Store, bus broker.Broker, topic string) *Ingester {
	if cache == nil {
		panic("NewIngester: cache must not be nil")
	}
	if store == nil {
		panic("NewIngester: store must not be nil")
	}
	if bus == nil {
		panic("NewIngester: bus must not be nil")
	}
	if topic == "" {
		topic = models.TopicContentRaw
	}
	return &Ingester{
		cache:  cache,
		store:  store,
		bus:    bus,
		topic:  topic,
		logger: slog.Default().With("component", "ingester"),
	}
}

// Ingest publishes one raw article unless it was already seen. The cache is
// checked first (sub-ms), the article store second (authoritative). The seen
// marker is written after the publish: a crash in between yields at most one
// duplicate downstream, caught by the store's upsert key.
func (i *Ingester) Ingest(ctx context.Context, article models.RawArticle) error {
	if i.cache.Exists(ctx, article.Source, article.SourceID) {
		telemetry.ArticlesIngested.WithLabelValues(article.Source, "duplicate_cache").Inc()
		return nil
	}

	exists, err := i.store.ArticleExists(ctx, article.Source, article.SourceID)
	if err != nil {
		telemetry.ArticlesIngested.WithLabelValues(article.Source, "error").Inc()
		return fmt.Errorf("check article store: %w", err)
	}
	if exists {
		telemetry.ArticlesIngested.WithLabelValues(article.Source, "duplicate_store").Inc()
		return nil
	}

	msg := models.NewContentMessage(uuid.New().String(), article, telemetry.Inject(ctx))
	payload, err := json.Marshal(msg)
	if err != nil {
		telemetry.ArticlesIngested.WithLabelValues(article.Source, "error").Inc()
		return fmt.Errorf("encode content message: %w", err)
	}

	pubCtx, span := telemetry.Tracer("ingester").Start(ctx, i.topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("messaging.destination.name", i.topic)))
	err = i.bus.Publish(pubCtx, i.topic, payload)
	span.End()
	if err != nil {
		telemetry.ArticlesIngested.WithLabelValues(article.Source, "error").Inc()
		return fmt.Errorf("publish content: %w", err)
	}

	i.cache.MarkSeen(ctx, article.Source, article.SourceID)
	telemetry.ArticlesIngested.WithLabelValues(article.Source, "published").Inc()

	i.logger.Info("Article published",
		"source", article.Source,
		"source_id", article.SourceID,
		"request_id", msg.RequestID)
	return nil
}

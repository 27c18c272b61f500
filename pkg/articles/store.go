// Package articles persists processed articles across PostgreSQL and
// Elasticsearch. PostgreSQL is authoritative for structured filter queries;
// Elasticsearch serves full-text search over title and summary.
package articles

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sportswire/sportswire/pkg/database"
	"github.com/sportswire/sportswire/pkg/models"
	"github.com/sportswire/sportswire/pkg/search"
	"github.com/sportswire/sportswire/pkg/services"
)

// Store is the article persistence surface used by the workers and the
// query engine.
type Store interface {
	// StoreArticle upserts an article by its (source, source_id) identity.
	// Re-processing the same item overwrites the enrichment in place.
	StoreArticle(ctx context.Context, article *models.ProcessedArticle) error

	// ArticleExists reports whether an article with this identity is already
	// stored. Used by the ingester as the authoritative duplicate check.
	ArticleExists(ctx context.Context, source, sourceID string) (bool, error)

	// QueryArticles returns articles matching the structured filters, newest
	// first.
	QueryArticles(ctx context.Context, params QueryParams) ([]models.ProcessedArticle, error)

	// SearchArticles runs a full-text search over title and summary, ranked
	// by relevance.
	SearchArticles(ctx context.Context, text string, limit int) ([]models.ProcessedArticle, error)

	// DeleteOlderThan removes articles published before cutoff from both the
	// authoritative store and the search projection, returning how many rows
	// were deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Healthy reports whether the authoritative store answers.
	Healthy(ctx context.Context) bool
}

type store struct {
	db     *sql.DB
	search *search.Client
	logger *slog.Logger
}

// New creates a Store backed by the given database client and search client.
// The search client may be nil, in which case full-text search is unavailable
// and indexing is skipped.
func New(db *database.Client, searchClient *search.Client) Store {
	if db == nil {
		panic("articles: database client is required")
	}
	return &store{
		db:     db.DB(),
		search: searchClient,
		logger: slog.Default().With("component", "articles"),
	}
}

const upsertArticle = `
INSERT INTO articles (
	source, source_id, source_url, title, raw_content, summary, sentiment,
	categories, metadata, published_at, ingested_at, processed_at, processing_model
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (source, source_id) DO UPDATE SET
	source_url       = EXCLUDED.source_url,
	title            = EXCLUDED.title,
	raw_content      = EXCLUDED.raw_content,
	summary          = EXCLUDED.summary,
	sentiment        = EXCLUDED.sentiment,
	categories       = EXCLUDED.categories,
	metadata         = EXCLUDED.metadata,
	published_at     = EXCLUDED.published_at,
	processed_at     = EXCLUDED.processed_at,
	processing_model = EXCLUDED.processing_model
RETURNING id`

func (s *store) StoreArticle(ctx context.Context, article *models.ProcessedArticle) error {
	if article.Source == "" || article.SourceID == "" {
		return services.NewValidationError("source_id", "article identity is required")
	}

	categories, err := json.Marshal(emptyIfNil(article.Categories))
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	metadata, err := json.Marshal(article.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if article.Metadata == nil {
		metadata = []byte("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var id int64
	err = tx.QueryRowContext(ctx, upsertArticle,
		article.Source, article.SourceID, article.SourceURL, article.Title,
		article.RawContent, article.Summary, article.Sentiment,
		categories, metadata,
		article.PublishedAt, article.IngestedAt, article.ProcessedAt,
		article.ProcessingModel,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}

	// Entities are replaced wholesale so re-processing cannot leave stale rows.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM article_entities WHERE article_id = $1`, id); err != nil {
		return fmt.Errorf("clear entities: %w", err)
	}
	for _, entity := range article.Entities {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO article_entities (article_id, name, type, normalized)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT DO NOTHING`,
			id, entity.Name, string(entity.Type), entity.Normalized); err != nil {
			return fmt.Errorf("insert entity %q: %w", entity.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit article: %w", err)
	}

	// The index is a projection; a failed write degrades search, not storage.
	if s.search != nil {
		if err := s.search.IndexArticle(ctx, article); err != nil {
			s.logger.Warn("Failed to index article for search",
				"source", article.Source,
				"source_id", article.SourceID,
				"error", err)
		}
	}

	return nil
}

func (s *store) ArticleExists(ctx context.Context, source, sourceID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM articles WHERE source = $1 AND source_id = $2)`,
		source, sourceID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check article exists: %w", err)
	}
	return exists, nil
}

func (s *store) QueryArticles(ctx context.Context, params QueryParams) ([]models.ProcessedArticle, error) {
	query, args := buildArticleQuery(params)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var (
		results []models.ProcessedArticle
		ids     []int64
	)
	for rows.Next() {
		var (
			id                   int64
			article              models.ProcessedArticle
			categories, metadata []byte
		)
		if err := rows.Scan(
			&id, &article.Source, &article.SourceID, &article.SourceURL,
			&article.Title, &article.RawContent, &article.Summary, &article.Sentiment,
			&categories, &metadata,
			&article.PublishedAt, &article.IngestedAt, &article.ProcessedAt,
			&article.ProcessingModel,
		); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if err := json.Unmarshal(categories, &article.Categories); err != nil {
			return nil, fmt.Errorf("decode categories: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &article.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		results = append(results, article)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}

	if err := s.attachEntities(ctx, ids, results); err != nil {
		return nil, err
	}
	return results, nil
}

// attachEntities loads entity rows for the given article IDs and assigns them
// to the matching results slice positions.
func (s *store) attachEntities(ctx context.Context, ids []int64, results []models.ProcessedArticle) error {
	if len(ids) == 0 {
		return nil
	}

	query, args := buildEntityLoad(ids)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]int, len(ids))
	for i, id := range ids {
		byID[id] = i
	}

	for rows.Next() {
		var (
			articleID int64
			entity    models.ArticleEntity
		)
		if err := rows.Scan(&articleID, &entity.Name, &entity.Type, &entity.Normalized); err != nil {
			return fmt.Errorf("scan entity: %w", err)
		}
		if i, ok := byID[articleID]; ok {
			results[i].Entities = append(results[i].Entities, entity)
		}
	}
	return rows.Err()
}

func (s *store) SearchArticles(ctx context.Context, text string, limit int) ([]models.ProcessedArticle, error) {
	if s.search == nil {
		return nil, fmt.Errorf("%w: search index not configured", services.ErrUnavailable)
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	return s.search.Search(ctx, text, limit)
}

func (s *store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM articles WHERE published_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old articles: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted articles: %w", err)
	}

	// Entity rows go with their article via the FK cascade; the index is a
	// projection, so a failed prune there degrades search, not storage.
	if s.search != nil {
		if err := s.search.DeleteOlderThan(ctx, cutoff); err != nil {
			s.logger.Warn("Failed to prune search index", "cutoff", cutoff, "error", err)
		}
	}
	return deleted, nil
}

func (s *store) Healthy(ctx context.Context) bool {
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Warn("Article store health check failed", "error", err)
		return false
	}
	return true
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

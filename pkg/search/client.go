// Package search provides an Elasticsearch client for full-text lookups over
// processed articles.
//
// PostgreSQL remains the source of truth; the index here is a read-optimised
// projection maintained by the content worker after every successful store.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/sportswire/sportswire/pkg/config"
	"github.com/sportswire/sportswire/pkg/models"
)

// DefaultIndex is the index articles are written to unless configured otherwise.
const DefaultIndex = "articles"

// articleMapping pins the fields queries depend on; everything else stays
// dynamically mapped.
const articleMapping = `{
  "mappings": {
    "properties": {
      "source":       {"type": "keyword"},
      "source_id":    {"type": "keyword"},
      "title":        {"type": "text"},
      "summary":      {"type": "text"},
      "categories":   {"type": "keyword"},
      "sentiment":    {"type": "keyword"},
      "published_at": {"type": "date"}
    }
  }
}`

// Config holds Elasticsearch connection settings.
type Config struct {
	URL   string
	Index string
}

// DefaultConfig returns search configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:   "http://localhost:9200",
		Index: DefaultIndex,
	}
}

// LoadConfigFromEnv loads search configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.URL = config.GetEnv("ELASTICSEARCH_URL", cfg.URL)
	cfg.Index = config.GetEnv("ELASTICSEARCH_INDEX", cfg.Index)
	return cfg
}

// Client wraps the Elasticsearch client with article-level operations.
type Client struct {
	es     *elasticsearch.Client
	index  string
	logger *slog.Logger
}

// New creates an Elasticsearch client pointed at the configured URL.
func New(cfg Config) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
	})
	if err != nil {
		return nil, fmt.Errorf("search: create client: %w", err)
	}
	index := cfg.Index
	if index == "" {
		index = DefaultIndex
	}
	return &Client{
		es:     es,
		index:  index,
		logger: slog.Default().With("component", "search"),
	}, nil
}

// EnsureIndex creates the article index with its mapping if it does not exist.
// Safe to call from every worker on startup.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists(
		[]string{c.index},
		c.es.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: check index: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		return nil
	}
	if res.StatusCode != 404 {
		return fmt.Errorf("search: check index [%s]", res.Status())
	}

	createRes, err := c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithBody(strings.NewReader(articleMapping)),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: create index: %w", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		body, _ := io.ReadAll(createRes.Body)
		// Another worker may have created the index between our check and create.
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("search: create index [%s]: %s", createRes.Status(), body)
	}

	c.logger.Info("Created search index", "index", c.index)
	return nil
}

// IndexArticle upserts a processed article into the index. Using the
// source-qualified ID as the document ID makes re-indexing on a redelivery
// idempotent.
func (c *Client) IndexArticle(ctx context.Context, article *models.ProcessedArticle) error {
	body, err := json.Marshal(article)
	if err != nil {
		return err
	}

	docID := article.Source + ":" + article.SourceID

	res, err := c.es.Index(
		c.index,
		bytes.NewReader(body),
		c.es.Index.WithDocumentID(docID),
		c.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: index request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("search: index error [%s]: %s", res.Status(), body)
	}
	return nil
}

// Search executes a full-text multi_match query against title and summary and
// returns matching articles in relevance order.
func (c *Client) Search(ctx context.Context, text string, limit int) ([]models.ProcessedArticle, error) {
	if limit <= 0 {
		limit = 10
	}

	query := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  text,
				"fields": []string{"title^2", "summary"},
			},
		},
		"size": limit,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search: query request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search: query error [%s]: %s", res.Status(), body)
	}

	var sr struct {
		Hits struct {
			Hits []struct {
				Source models.ProcessedArticle `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}

	articles := make([]models.ProcessedArticle, 0, len(sr.Hits.Hits))
	for _, hit := range sr.Hits.Hits {
		articles = append(articles, hit.Source)
	}
	return articles, nil
}

// DeleteOlderThan removes indexed documents published before cutoff, keeping
// the projection in step with retention sweeps on the authoritative store.
func (c *Client) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	query := map[string]any{
		"query": map[string]any{
			"range": map[string]any{
				"published_at": map[string]any{"lt": cutoff.UTC().Format(time.RFC3339)},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}

	res, err := c.es.DeleteByQuery(
		[]string{c.index},
		&buf,
		c.es.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: delete-by-query request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("search: delete-by-query error [%s]: %s", res.Status(), body)
	}
	return nil
}

// Healthy reports whether the cluster answers a ping.
func (c *Client) Healthy(ctx context.Context) bool {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

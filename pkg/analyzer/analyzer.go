// Package analyzer turns raw articles into enriched, stored ones. One LLM
// call extracts the summary, entities, categories, and sentiment; the result
// is upserted into the article store.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sportswire/sportswire/pkg/articles"
	"github.com/sportswire/sportswire/pkg/llm"
	"github.com/sportswire/sportswire/pkg/models"
	"github.com/sportswire/sportswire/pkg/telemetry"
)

const (
	// maxContentChars caps the article body sent to the model.
	maxContentChars = 3000

	analysisTemperature = 0.3
)

const processingPrompt = `Analyze this sports article and return a JSON object with:
- "summary": A 2-3 sentence summary
- "entities": Array of extracted entities (see rules below)
- "categories": Array of topic tags (e.g. "transfer", "injury", "match_result", "contract", "retirement")
- "sentiment": "positive"|"negative"|"neutral"

Entity extraction rules:
1. Each entity: {"name": str, "type": "player"|"team"|"league"|"sport"|"venue", "normalized": str}
2. "normalized" must be lowercase with underscores, no special characters (e.g. "kylian_mbappe", "premier_league")
3. CRITICAL: Extract BOTH explicit AND implicit entities. Use your world knowledge:
   - If a player is mentioned, also add their current team, league, and sport as separate entities
   - If a team is mentioned, also add their league and sport
   - If a league is mentioned, also add the sport
4. Extract ALL mentioned players, teams, leagues, sports, and venues, not just the main subject

Example: An article mentioning only "LeBron James" should produce:
- {"name": "LeBron James", "type": "player", "normalized": "lebron_james"}
- {"name": "Los Angeles Lakers", "type": "team", "normalized": "los_angeles_lakers"}
- {"name": "NBA", "type": "league", "normalized": "nba"}
- {"name": "Basketball", "type": "sport", "normalized": "basketball"}

Article title: %s
Article content: %s

Return ONLY valid JSON, no markdown.`

// enrichment mirrors the JSON object the prompt asks for. Absent keys decode
// to zero values and are tolerated.
type enrichment struct {
	Summary    string         `json:"summary"`
	Entities   []entityResult `json:"entities"`
	Categories []string       `json:"categories"`
	Sentiment  string         `json:"sentiment"`
}

type entityResult struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Normalized string `json:"normalized"`
}

// Analyzer is the content-raw topic's message handler.
type Analyzer struct {
	store    articles.Store
	provider llm.Provider
	logger   *slog.Logger
}

// New wires the handler. Both collaborators are required.
func New(store articles.Store, provider llm.Provider) *Analyzer {
	if store == nil {
		panic("analyzer: article store is required")
	}
	if provider == nil {
		panic("analyzer: llm provider is required")
	}
	return &Analyzer{
		store:    store,
		provider: provider,
		logger:   slog.Default().With("component", "content-analyzer"),
	}
}

// Handle enriches and stores one raw article. Any failure returns false: the
// message is still acked upstream and the article is retried only when a
// fresh poll re-ingests it.
func (a *Analyzer) Handle(ctx context.Context, raw []byte) bool {
	var msg models.ContentMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		a.logger.Error("Content processing failed", "error", err)
		return false
	}
	return a.process(ctx, msg)
}

func (a *Analyzer) process(ctx context.Context, msg models.ContentMessage) bool {
	raw := msg.RawContent
	start := time.Now()

	ctx, span := telemetry.Tracer("content-analyzer").Start(ctx, "analyze article")
	defer span.End()

	prompt := fmt.Sprintf(processingPrompt, raw.Title, truncate(raw.Content, maxContentChars))
	completion, err := a.provider.Complete(ctx, prompt, llm.Options{Temperature: analysisTemperature})
	if err != nil {
		a.logger.Error("Failed to process content",
			"request_id", msg.RequestID, "source", raw.Source, "source_id", raw.SourceID, "error", err)
		return false
	}

	var enriched enrichment
	if err := json.Unmarshal([]byte(llm.ExtractJSON(completion.Text)), &enriched); err != nil {
		a.logger.Error("Failed to parse enrichment",
			"request_id", msg.RequestID, "source", raw.Source, "source_id", raw.SourceID, "error", err)
		return false
	}
	if enriched.Sentiment == "" {
		enriched.Sentiment = "neutral"
	}

	now := time.Now().UTC()
	article := &models.ProcessedArticle{
		Source:          raw.Source,
		SourceID:        raw.SourceID,
		SourceURL:       raw.SourceURL,
		Title:           raw.Title,
		RawContent:      raw.Content,
		Summary:         enriched.Summary,
		Entities:        buildEntities(enriched.Entities),
		Categories:      enriched.Categories,
		Sentiment:       enriched.Sentiment,
		PublishedAt:     raw.PublishedAt,
		IngestedAt:      now,
		ProcessedAt:     now,
		ProcessingModel: completion.Model,
		Metadata:        raw.Metadata,
	}

	if err := a.store.StoreArticle(ctx, article); err != nil {
		a.logger.Error("Failed to store article",
			"request_id", msg.RequestID, "source", raw.Source, "source_id", raw.SourceID, "error", err)
		return false
	}

	a.logger.Info("Processed content",
		"request_id", msg.RequestID,
		"source", raw.Source,
		"source_id", raw.SourceID,
		"entities", len(article.Entities),
		"latency_ms", time.Since(start).Milliseconds())
	return true
}

// buildEntities maps extracted entities, deriving the normalized key from the
// name when the model omitted it. The derivation matches the query side, so
// retrieval joins stay consistent.
func buildEntities(raw []entityResult) []models.ArticleEntity {
	entities := make([]models.ArticleEntity, 0, len(raw))
	for _, e := range raw {
		normalized := e.Normalized
		if normalized == "" {
			normalized = models.NormalizeEntity(e.Name)
		}
		entities = append(entities, models.ArticleEntity{
			Name:       e.Name,
			Type:       models.EntityType(e.Type),
			Normalized: normalized,
		})
	}
	return entities
}

// truncate bounds s to n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

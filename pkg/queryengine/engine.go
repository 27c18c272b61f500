// Package queryengine answers user queries: one LLM call parses the question
// into a structured intent, the article store retrieves candidates, a second
// LLM call synthesizes the answer, and the request record is completed.
package queryengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sportswire/sportswire/pkg/articles"
	"github.com/sportswire/sportswire/pkg/llm"
	"github.com/sportswire/sportswire/pkg/models"
	"github.com/sportswire/sportswire/pkg/telemetry"
)

const (
	intentTemperature    = 0.2
	synthesisTemperature = 0.5

	// retrievalLimit caps both the structured query and the text fallback.
	retrievalLimit = 20

	// maxSynthesisArticles bounds the article block fed to the model.
	maxSynthesisArticles = 10

	// maxSources bounds the citations attached to the result.
	maxSources = 5

	// rawContentFallbackChars bounds the body excerpt used when an article
	// has no summary.
	rawContentFallbackChars = 500
)

// noArticlesAnswer is returned without an LLM call when retrieval comes back
// empty.
const noArticlesAnswer = "I couldn't find any relevant articles to answer your question."

const intentPrompt = `Parse this sports query and return a JSON object with:
- "entities": Array of normalized entity strings to search (e.g. ["manchester_united", "cristiano_ronaldo"])
- "categories": Array of category strings (e.g. ["transfer", "injury", "match_result"])
- "entity_type": If the query asks for a specific type of entity, set this to "player"|"team"|"league"|"sport"|"venue", otherwise null
- "date_context": "recent" | "today" | "this_week" | "this_month" | null
- "search_terms": A text search query string for full-text search

Examples:
- "Show me all NBA teams" -> {"entities": ["nba"], "entity_type": "team", ...}
- "What players are in the Premier League?" -> {"entities": ["premier_league"], "entity_type": "player", ...}
- "Latest Manchester United news" -> {"entities": ["manchester_united"], "entity_type": null, ...}

Query: %s

Return ONLY valid JSON, no markdown.`

const synthesisPrompt = `Based on the following sports articles, answer the user's question.
Be concise, factual, and cite your sources by mentioning the article titles.

User question: %s

Articles:
%s

Provide a clear, well-structured answer.`

// intent is the structured reading of a user query.
type intent struct {
	Entities    []string `json:"entities"`
	Categories  []string `json:"categories"`
	EntityType  string   `json:"entity_type"`
	DateContext string   `json:"date_context"`
	SearchTerms string   `json:"search_terms"`
}

// RequestState is the slice of the request store the engine writes to.
type RequestState interface {
	SetStage(ctx context.Context, requestID string, stage models.RequestStage) error
	Complete(ctx context.Context, requestID string, result models.QueryResult) error
	Fail(ctx context.Context, requestID, errorMessage string) error
}

// Engine is the query topic's message handler.
type Engine struct {
	requests RequestState
	store    articles.Store
	provider llm.Provider
	logger   *slog.Logger
}

// New wires the handler. All collaborators are required.
func New(requests RequestState, store articles.Store, provider llm.Provider) *Engine {
	if requests == nil {
		panic("queryengine: request state is required")
	}
	if store == nil {
		panic("queryengine: article store is required")
	}
	if provider == nil {
		panic("queryengine: llm provider is required")
	}
	return &Engine{
		requests: requests,
		store:    store,
		provider: provider,
		logger:   slog.Default().With("component", "query-engine"),
	}
}

// Handle answers one query message. Failures move the request to Failed and
// return false; the message is acked upstream either way.
func (e *Engine) Handle(ctx context.Context, raw []byte) bool {
	var msg models.QueryMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.logger.Error("Query processing failed", "error", err)
		return false
	}
	return e.orchestrate(ctx, msg)
}

func (e *Engine) orchestrate(ctx context.Context, msg models.QueryMessage) bool {
	requestID := msg.RequestID
	start := time.Now()

	ctx, span := telemetry.Tracer("query-engine").Start(ctx, "orchestrate query")
	defer span.End()

	if err := e.requests.SetStage(ctx, requestID, models.StageQueryProcessing); err != nil {
		return e.fail(ctx, requestID, fmt.Errorf("advance stage: %w", err))
	}

	in, err := e.parseIntent(ctx, msg.QueryRequest.Query)
	if err != nil {
		return e.fail(ctx, requestID, err)
	}

	candidates, err := e.retrieve(ctx, in, msg)
	if err != nil {
		return e.fail(ctx, requestID, err)
	}

	answer, err := e.synthesize(ctx, msg.QueryRequest.Query, candidates)
	if err != nil {
		return e.fail(ctx, requestID, err)
	}

	sources := make([]models.SourceReference, 0, maxSources)
	for _, a := range candidates[:min(len(candidates), maxSources)] {
		sources = append(sources, models.SourceReference{
			Title:       a.Title,
			Source:      a.Source,
			SourceURL:   a.SourceURL,
			PublishedAt: a.PublishedAt,
		})
	}

	latency := time.Since(start)
	result := models.QueryResult{
		Answer:    answer,
		Sources:   sources,
		Metadata:  map[string]any{"intent": in},
		Model:     e.provider.Model(),
		LatencyMS: float64(latency.Microseconds()) / 1000,
	}

	if err := e.requests.Complete(ctx, requestID, result); err != nil {
		return e.fail(ctx, requestID, fmt.Errorf("save result: %w", err))
	}

	e.logger.Info("Query completed",
		"request_id", requestID,
		"articles", len(candidates),
		"latency_ms", latency.Milliseconds())
	return true
}

// fail moves the request to Failed, best effort: when even that write fails
// the error is logged and the message is still acked by the caller.
func (e *Engine) fail(ctx context.Context, requestID string, err error) bool {
	e.logger.Error("Query failed", "request_id", requestID, "error", err)
	if ferr := e.requests.Fail(ctx, requestID, err.Error()); ferr != nil {
		e.logger.Error("Failed to record query failure", "request_id", requestID, "error", ferr)
	}
	return false
}

func (e *Engine) parseIntent(ctx context.Context, query string) (intent, error) {
	completion, err := e.provider.Complete(ctx, fmt.Sprintf(intentPrompt, query), llm.Options{
		Temperature: intentTemperature,
	})
	if err != nil {
		return intent{}, fmt.Errorf("parse intent: %w", err)
	}

	var in intent
	if err := json.Unmarshal([]byte(llm.ExtractJSON(completion.Text)), &in); err != nil {
		return intent{}, fmt.Errorf("parse intent: %w", err)
	}
	return in, nil
}

// retrieve tries the structured query when the intent carries any filter and
// falls back to full-text search when it does not, or when it matched
// nothing.
func (e *Engine) retrieve(ctx context.Context, in intent, msg models.QueryMessage) ([]models.ProcessedArticle, error) {
	var candidates []models.ProcessedArticle

	if len(in.Entities) > 0 || len(in.Categories) > 0 || in.EntityType != "" {
		params := articles.QueryParams{
			Entities:   in.Entities,
			Categories: in.Categories,
			EntityType: in.EntityType,
			Limit:      retrievalLimit,
		}
		if f := msg.QueryRequest.Filters; f != nil {
			params.Sources = f.Sources
			params.DateFrom = f.DateFrom
			params.DateTo = f.DateTo
		}

		var err error
		candidates, err = e.store.QueryArticles(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("query articles: %w", err)
		}
	}

	if len(candidates) == 0 {
		terms := in.SearchTerms
		if terms == "" {
			terms = msg.QueryRequest.Query
		}
		var err error
		candidates, err = e.store.SearchArticles(ctx, terms, retrievalLimit)
		if err != nil {
			return nil, fmt.Errorf("search articles: %w", err)
		}
	}

	return candidates, nil
}

func (e *Engine) synthesize(ctx context.Context, query string, candidates []models.ProcessedArticle) (string, error) {
	if len(candidates) == 0 {
		return noArticlesAnswer, nil
	}

	blocks := make([]string, 0, min(len(candidates), maxSynthesisArticles))
	for _, a := range candidates[:min(len(candidates), maxSynthesisArticles)] {
		summary := a.Summary
		if summary == "" {
			summary = truncate(a.RawContent, rawContentFallbackChars)
		}
		blocks = append(blocks, fmt.Sprintf("Title: %s\nSource: %s\nSummary: %s", a.Title, a.Source, summary))
	}

	completion, err := e.provider.Complete(ctx,
		fmt.Sprintf(synthesisPrompt, query, strings.Join(blocks, "\n\n")),
		llm.Options{Temperature: synthesisTemperature})
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}
	return completion.Text, nil
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

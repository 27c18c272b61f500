// Package e2e wires real pipeline components end to end: the Redis Streams
// broker over miniredis, the real consumer and dispatcher, the real handlers,
// and the real state stores. Only the LLM provider and the article store are
// substituted, with a scripted provider and an in-memory store.
package e2e

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sportswire/sportswire/pkg/articles"
	"github.com/sportswire/sportswire/pkg/broker"
	"github.com/sportswire/sportswire/pkg/config"
	"github.com/sportswire/sportswire/pkg/consumer"
	"github.com/sportswire/sportswire/pkg/dispatch"
	"github.com/sportswire/sportswire/pkg/llm"
	"github.com/sportswire/sportswire/pkg/models"
	"github.com/sportswire/sportswire/pkg/state"
)

// Prompt prefixes the scripted provider routes on. They pin the opening line
// of each production prompt.
const (
	analysisPrefix  = "Analyze this sports article"
	intentPrefix    = "Parse this sports query"
	synthesisPrefix = "Based on the following sports articles"
)

// scriptEntry is one scripted LLM response, matched by prompt prefix so call
// order inside a handler does not matter.
type scriptEntry struct {
	// PromptPrefix selects which calls this entry answers. Empty matches any.
	PromptPrefix string

	Text string
	Err  error
}

// scriptedProvider implements llm.Provider over a fixed script. Each entry is
// consumed at most once; an unmatched call fails the test via the returned
// error.
type scriptedProvider struct {
	mu      sync.Mutex
	entries []scriptEntry
	used    []bool
	prompts []string
}

func newScriptedProvider(entries ...scriptEntry) *scriptedProvider {
	return &scriptedProvider{
		entries: entries,
		used:    make([]bool, len(entries)),
	}
}

func (p *scriptedProvider) Complete(_ context.Context, prompt string, _ llm.Options) (llm.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)

	for i, entry := range p.entries {
		if p.used[i] {
			continue
		}
		if entry.PromptPrefix != "" && !strings.HasPrefix(prompt, entry.PromptPrefix) {
			continue
		}
		p.used[i] = true
		if entry.Err != nil {
			return llm.Completion{}, entry.Err
		}
		return llm.Completion{Text: entry.Text, Model: "scripted-model"}, nil
	}
	return llm.Completion{}, fmt.Errorf("scripted provider: no entry for prompt %.60q", prompt)
}

func (p *scriptedProvider) Model() string { return "scripted-model" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

// memoryArticles is an in-memory articles.Store. Structured queries match on
// normalized entities and categories only; full-text search is a substring
// match over title and summary.
type memoryArticles struct {
	mu         sync.Mutex
	byKey      map[string]models.ProcessedArticle
	storeCalls int
}

func newMemoryArticles() *memoryArticles {
	return &memoryArticles{byKey: make(map[string]models.ProcessedArticle)}
}

func articleKey(source, sourceID string) string {
	return source + ":" + sourceID
}

func (m *memoryArticles) StoreArticle(_ context.Context, article *models.ProcessedArticle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	m.byKey[articleKey(article.Source, article.SourceID)] = *article
	return nil
}

func (m *memoryArticles) ArticleExists(_ context.Context, source, sourceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byKey[articleKey(source, sourceID)]
	return ok, nil
}

func (m *memoryArticles) QueryArticles(_ context.Context, params articles.QueryParams) ([]models.ProcessedArticle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ProcessedArticle
	for _, a := range m.byKey {
		if len(params.Entities) > 0 && !hasEntity(a, params.Entities) {
			continue
		}
		if len(params.Categories) > 0 && !hasCategory(a, params.Categories) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func hasEntity(a models.ProcessedArticle, wanted []string) bool {
	for _, w := range wanted {
		for _, e := range a.Entities {
			if e.Normalized == models.NormalizeEntity(w) {
				return true
			}
		}
	}
	return false
}

func hasCategory(a models.ProcessedArticle, wanted []string) bool {
	for _, w := range wanted {
		for _, c := range a.Categories {
			if strings.EqualFold(c, w) {
				return true
			}
		}
	}
	return false
}

func (m *memoryArticles) SearchArticles(_ context.Context, text string, limit int) ([]models.ProcessedArticle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	needle := strings.ToLower(text)
	var out []models.ProcessedArticle
	for _, a := range m.byKey {
		if strings.Contains(strings.ToLower(a.Title), needle) ||
			strings.Contains(strings.ToLower(a.Summary), needle) {
			out = append(out, a)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryArticles) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for key, a := range m.byKey {
		if a.PublishedAt.Before(cutoff) {
			delete(m.byKey, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memoryArticles) Healthy(context.Context) bool { return true }

func (m *memoryArticles) get(source, sourceID string) (models.ProcessedArticle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byKey[articleKey(source, sourceID)]
	return a, ok
}

func (m *memoryArticles) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

// writes counts StoreArticle calls, including upserts of the same key.
func (m *memoryArticles) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storeCalls
}

// backend holds the Redis-backed infrastructure shared by the pipeline tests:
// one miniredis serving both the stream broker and the state stores.
type backend struct {
	mr       *miniredis.Miniredis
	client   *redis.Client
	bus      broker.Broker
	requests *state.RequestStore
}

func newBackend(t *testing.T) *backend {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg := config.RedisConfig{Host: mr.Host(), Port: port, DefaultTTL: time.Hour}

	bus, err := broker.NewRedisStream(cfg, 30*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &backend{
		mr:       mr,
		client:   client,
		bus:      bus,
		requests: state.NewRequestStore(state.New(client, time.Hour)),
	}
}

// startPipeline runs a consumer loop feeding handler from topic. Teardown
// stops the fetch loop first and then drains the dispatcher, mirroring the
// worker binaries' shutdown order.
func startPipeline(t *testing.T, bus broker.Broker, topic string, handler dispatch.Handler) {
	t.Helper()

	dispatcher := dispatch.New(2, handler)
	t.Cleanup(func() { dispatcher.Close(false) })

	cons := consumer.New(bus, topic, dispatcher, 30*time.Second)
	runErr := make(chan error, 1)
	go func() { runErr <- cons.Run(context.Background()) }()
	t.Cleanup(func() {
		cons.Close()
		require.NoError(t, <-runErr)
	})
}

// waitForStage polls the request record until it reaches want.
func waitForStage(t *testing.T, requests *state.RequestStore, requestID string, want models.RequestStage) *models.ProcessedRequest {
	t.Helper()

	var rec *models.ProcessedRequest
	require.Eventually(t, func() bool {
		r, err := requests.Get(context.Background(), requestID)
		if err != nil || r == nil {
			return false
		}
		rec = r
		return r.Stage == want
	}, 10*time.Second, 50*time.Millisecond, "request %s never reached stage %s", requestID, want)
	return rec
}

package articles

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sportswire/sportswire/pkg/database"
	"github.com/sportswire/sportswire/pkg/models"
	"github.com/sportswire/sportswire/pkg/search"
)

// newTestStore provisions a migrated PostgreSQL instance and returns a Store
// without a search backend. Tests that need the index wire their own.
func newTestStore(t *testing.T) (Store, *sql.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping article store integration test in short mode")
	}

	ctx := context.Background()

	var connStr string
	if ciDatabaseURL := os.Getenv("CI_DATABASE_URL"); ciDatabaseURL != "" {
		connStr = ciDatabaseURL
	} else {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.RunMigrations(db, "test"))

	return New(database.NewClientFromDB(db), nil), db
}

func testArticle(sourceID string, published time.Time) *models.ProcessedArticle {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.ProcessedArticle{
		Source:     "rss:espn",
		SourceID:   sourceID,
		SourceURL:  "https://example.com/" + sourceID,
		Title:      "Lakers beat Celtics in overtime",
		RawContent: "Full article text",
		Summary:    "LeBron James scored 40 as the Lakers won",
		Entities: []models.ArticleEntity{
			{Name: "LeBron James", Type: models.EntityPlayer, Normalized: "lebron_james"},
			{Name: "Lakers", Type: models.EntityTeam, Normalized: "lakers"},
		},
		Categories:      []string{"game_recap"},
		Sentiment:       "positive",
		PublishedAt:     published.UTC().Truncate(time.Microsecond),
		IngestedAt:      now,
		ProcessedAt:     now,
		ProcessingModel: "gpt-4o-mini",
		Metadata:        map[string]any{"feed": "espn"},
	}
}

func TestStoreArticle_UpsertReplacesEnrichment(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	published := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	article := testArticle("up-1", published)
	require.NoError(t, store.StoreArticle(ctx, article))

	// Second processing run for the same item: different enrichment.
	updated := testArticle("up-1", published)
	updated.Summary = "Revised summary"
	updated.Entities = []models.ArticleEntity{
		{Name: "Celtics", Type: models.EntityTeam, Normalized: "celtics"},
	}
	updated.Categories = []string{"analysis"}
	require.NoError(t, store.StoreArticle(ctx, updated))

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE source = 'rss:espn' AND source_id = 'up-1'`,
	).Scan(&count))
	assert.Equal(t, 1, count, "upsert must not create a second row")

	got, err := store.QueryArticles(ctx, QueryParams{Sources: []string{"rss:espn"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Revised summary", got[0].Summary)
	assert.Equal(t, []string{"analysis"}, got[0].Categories)
	require.Len(t, got[0].Entities, 1, "old entity rows must be replaced")
	assert.Equal(t, "celtics", got[0].Entities[0].Normalized)
	assert.Equal(t, map[string]any{"feed": "espn"}, got[0].Metadata)
}

func TestArticleExists(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	exists, err := store.ArticleExists(ctx, "rss:espn", "nope")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.StoreArticle(ctx, testArticle("ex-1", time.Now())))

	exists, err = store.ArticleExists(ctx, "rss:espn", "ex-1")
	require.NoError(t, err)
	assert.True(t, exists)

	// Same ID under a different source is a different article.
	exists, err = store.ArticleExists(ctx, "reddit:nba", "ex-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestQueryArticles_Filters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	older := testArticle("q-old", base.Add(-48*time.Hour))
	older.Categories = []string{"injury"}
	older.Entities = []models.ArticleEntity{
		{Name: "Patrick Mahomes", Type: models.EntityPlayer, Normalized: "patrick_mahomes"},
	}
	require.NoError(t, store.StoreArticle(ctx, older))

	newer := testArticle("q-new", base)
	require.NoError(t, store.StoreArticle(ctx, newer))

	reddit := testArticle("q-reddit", base.Add(-24*time.Hour))
	reddit.Source = "reddit:nba"
	require.NoError(t, store.StoreArticle(ctx, reddit))

	t.Run("no filters returns newest first", func(t *testing.T) {
		got, err := store.QueryArticles(ctx, QueryParams{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "q-new", got[0].SourceID)
		assert.Equal(t, "q-reddit", got[1].SourceID)
		assert.Equal(t, "q-old", got[2].SourceID)
	})

	t.Run("entity filter accepts surface form", func(t *testing.T) {
		got, err := store.QueryArticles(ctx, QueryParams{Entities: []string{"Patrick Mahomes"}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "q-old", got[0].SourceID)
	})

	t.Run("category filter is case insensitive", func(t *testing.T) {
		got, err := store.QueryArticles(ctx, QueryParams{Categories: []string{"INJURY"}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "q-old", got[0].SourceID)
	})

	t.Run("source filter", func(t *testing.T) {
		got, err := store.QueryArticles(ctx, QueryParams{Sources: []string{"reddit:nba"}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "q-reddit", got[0].SourceID)
	})

	t.Run("entity type filter", func(t *testing.T) {
		got, err := store.QueryArticles(ctx, QueryParams{EntityType: "player"})
		require.NoError(t, err)
		require.Len(t, got, 3)
	})

	t.Run("date range is inclusive", func(t *testing.T) {
		from := base.Add(-24 * time.Hour)
		to := base
		got, err := store.QueryArticles(ctx, QueryParams{DateFrom: &from, DateTo: &to})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "q-new", got[0].SourceID)
		assert.Equal(t, "q-reddit", got[1].SourceID)
	})

	t.Run("limit caps results", func(t *testing.T) {
		got, err := store.QueryArticles(ctx, QueryParams{Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "q-new", got[0].SourceID)
	})

	t.Run("no matches returns empty", func(t *testing.T) {
		got, err := store.QueryArticles(ctx, QueryParams{Entities: []string{"nobody"}})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestDeleteOlderThan(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.StoreArticle(ctx, testArticle("old-1", cutoff.Add(-time.Hour))))
	require.NoError(t, store.StoreArticle(ctx, testArticle("new-1", cutoff.Add(time.Hour))))

	deleted, err := store.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	exists, err := store.ArticleExists(ctx, "rss:espn", "old-1")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = store.ArticleExists(ctx, "rss:espn", "new-1")
	require.NoError(t, err)
	assert.True(t, exists)

	var orphans int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM article_entities e
		 WHERE NOT EXISTS (SELECT 1 FROM articles a WHERE a.id = e.article_id)`,
	).Scan(&orphans))
	assert.Zero(t, orphans, "entity rows must cascade with their article")
}

func TestStoreArticle_IndexesIntoSearch(t *testing.T) {
	_, db := newTestStore(t)

	var indexedPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPut {
			indexedPath = r.URL.Path
		}
		w.Write([]byte(`{"result": "created"}`))
	}))
	defer ts.Close()

	searchClient, err := search.New(search.Config{URL: ts.URL, Index: "articles"})
	require.NoError(t, err)

	dual := New(database.NewClientFromDB(db), searchClient)

	require.NoError(t, dual.StoreArticle(context.Background(), testArticle("es-1", time.Now())))
	assert.Contains(t, indexedPath, "rss:espn:es-1")
}

func TestSearchArticles_WithoutIndexConfigured(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.SearchArticles(context.Background(), "anything", 5)
	require.Error(t, err)
}

func TestSearchArticles_DelegatesToIndex(t *testing.T) {
	_, db := newTestStore(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"hits": map[string]any{
				"hits": []map[string]any{
					{"_source": map[string]any{"source": "rss:espn", "source_id": "s1", "title": "hit"}},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	searchClient, err := search.New(search.Config{URL: ts.URL, Index: "articles"})
	require.NoError(t, err)

	dual := New(database.NewClientFromDB(db), searchClient)
	got, err := dual.SearchArticles(context.Background(), "playoff", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hit", got[0].Title)
}

func TestHealthy(t *testing.T) {
	store, db := newTestStore(t)

	assert.True(t, store.Healthy(context.Background()))

	require.NoError(t, db.Close())
	assert.False(t, store.Healthy(context.Background()))
}

package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redditTestPosts(sub string) []map[string]any {
	return []map[string]any{
		{
			"id":           sub + "p1",
			"title":        "Match thread",
			"selftext":     "Kickoff at 3pm.",
			"url":          "https://reddit.com/r/" + sub + "/p1",
			"permalink":    "/r/" + sub + "/comments/p1/",
			"created_utc":  float64(1736848800), // 2025-01-14T10:00:00Z
			"score":        120,
			"num_comments": 45,
			"author":       "mod_bot",
		},
		{
			"id":           sub + "p2",
			"title":        "Injury news",
			"selftext":     "",
			"url":          "https://news.example.com/injury",
			"permalink":    "/r/" + sub + "/comments/p2/",
			"created_utc":  float64(1736762400), // 2025-01-13T10:00:00Z
			"score":        30,
			"num_comments": 7,
			"author":       "beat_writer",
		},
	}
}

// newRedditServer serves the token endpoint and per-subreddit hot listings,
// failing any subreddit listed in down.
func newRedditServer(t *testing.T, down ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/access_token" {
			user, pass, ok := r.BasicAuth()
			require.True(t, ok, "token request must carry basic auth")
			assert.Equal(t, "test-id", user)
			assert.Equal(t, "test-secret", pass)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"bearer","expires_in":3600}`))
			return
		}

		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		require.Len(t, parts, 3) // r/<sub>/hot
		sub := parts[1]
		for _, d := range down {
			if sub == d {
				http.Error(w, "listing unavailable", http.StatusInternalServerError)
				return
			}
		}

		children := make([]map[string]any, 0, 2)
		for _, post := range redditTestPosts(sub) {
			children = append(children, map[string]any{"data": post})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"children": children},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestReddit(server *httptest.Server, subs ...string) *RedditSource {
	return NewReddit(RedditConfig{
		ClientID:     "test-id",
		ClientSecret: "test-secret",
		UserAgent:    "test-agent/1.0",
		Subreddits:   subs,
		BaseURL:      server.URL,
		TokenURL:     server.URL + "/api/v1/access_token",
	})
}

func TestRedditFetch_MapsPosts(t *testing.T) {
	server := newRedditServer(t)
	source := newTestReddit(server, "soccer")

	articles, err := source.Fetch(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, articles, 2)

	first := articles[0]
	assert.Equal(t, "reddit", first.Source)
	assert.Equal(t, "soccerp1", first.SourceID)
	assert.Equal(t, "https://reddit.com/r/soccer/comments/p1/", first.SourceURL)
	assert.Equal(t, "Kickoff at 3pm.", first.Content)
	assert.Equal(t, time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC), first.PublishedAt)
	assert.Equal(t, "soccer", first.Metadata["subreddit"])
	assert.Equal(t, 120, first.Metadata["score"])
	assert.Equal(t, "mod_bot", first.Metadata["author"])

	// Link posts fall back to the outbound URL as content.
	assert.Equal(t, "https://news.example.com/injury", articles[1].Content)
}

func TestRedditFetch_SinceFilter(t *testing.T) {
	server := newRedditServer(t)
	source := newTestReddit(server, "soccer")

	since := time.Date(2025, 1, 13, 12, 0, 0, 0, time.UTC)
	articles, err := source.Fetch(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "soccerp1", articles[0].SourceID)
}

func TestRedditFetch_SubredditFailureIsIsolated(t *testing.T) {
	server := newRedditServer(t, "nba")
	source := newTestReddit(server, "nba", "soccer")

	articles, err := source.Fetch(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, articles, 2)
	for _, a := range articles {
		assert.Equal(t, "soccer", a.Metadata["subreddit"])
	}
}

func TestRedditFetch_FansOutAcrossSubreddits(t *testing.T) {
	server := newRedditServer(t)
	source := newTestReddit(server, "soccer", "nfl")

	articles, err := source.Fetch(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, articles, 4)

	subs := make(map[any]int)
	for _, a := range articles {
		subs[a.Metadata["subreddit"]]++
	}
	assert.Equal(t, map[any]int{"soccer": 2, "nfl": 2}, subs)
}

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sportswire/sportswire/pkg/models"
)

const (
	redditAPIBase  = "https://oauth.reddit.com"
	redditTokenURL = "https://www.reddit.com/api/v1/access_token"

	// hotListingLimit caps posts fetched per subreddit per cycle.
	hotListingLimit = 25
)

// RedditSource polls the hot listing of configured subreddits through the
// OAuth2 client-credentials flow.
type RedditSource struct {
	subreddits []string
	baseURL    string
	client     *http.Client
	logger     *slog.Logger
}

// NewReddit builds the source. The returned client refreshes its token
// transparently; nothing is dialed until the first Fetch.
func NewReddit(cfg RedditConfig) *RedditSource {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = redditTokenURL
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = redditAPIBase
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// Reddit rejects requests without a descriptive User-Agent, including
	// token requests, so the agent is injected at the transport.
	base := &http.Client{
		Transport: &userAgentTransport{agent: cfg.UserAgent, base: http.DefaultTransport},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := creds.Client(ctx)
	client.Timeout = requestTimeout

	return &RedditSource{
		subreddits: cfg.Subreddits,
		baseURL:    baseURL,
		client:     client,
		logger:     slog.Default().With("component", "reddit-source"),
	}
}

func (s *RedditSource) Name() string {
	return "reddit"
}

// Fetch drains each subreddit's hot listing, keeping posts created strictly
// after since. A subreddit that fails is logged and skipped.
func (s *RedditSource) Fetch(ctx context.Context, since time.Time) ([]models.RawArticle, error) {
	var articles []models.RawArticle

	for _, sub := range s.subreddits {
		posts, err := s.fetchHot(ctx, sub)
		if err != nil {
			s.logger.Warn("Failed to fetch subreddit", "subreddit", sub, "error", err)
			continue
		}

		for _, post := range posts {
			created := time.Unix(int64(post.CreatedUTC), 0).UTC()
			if !since.IsZero() && !created.After(since) {
				continue
			}

			content := post.SelfText
			if content == "" {
				content = post.URL
			}

			articles = append(articles, models.RawArticle{
				Source:      "reddit",
				SourceID:    post.ID,
				SourceURL:   "https://reddit.com" + post.Permalink,
				Title:       post.Title,
				Content:     content,
				PublishedAt: created,
				Metadata: map[string]any{
					"subreddit":    sub,
					"score":        post.Score,
					"num_comments": post.NumComments,
					"author":       post.Author,
				},
			})
		}
	}

	return articles, nil
}

func (s *RedditSource) fetchHot(ctx context.Context, subreddit string) ([]redditPost, error) {
	url := fmt.Sprintf("%s/r/%s/hot?limit=%d", s.baseURL, subreddit, hotListingLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	posts := make([]redditPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		posts = append(posts, child.Data)
	}
	return posts, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Author      string  `json:"author"`
}

// userAgentTransport stamps every request, token requests included, with the
// configured agent string.
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(clone)
}

// Package sources defines the content feeds the poller drains. A Source
// turns one upstream (an RSS feed group, a set of subreddits) into
// RawArticles newer than a cursor time.
package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sportswire/sportswire/pkg/config"
	"github.com/sportswire/sportswire/pkg/models"
	"github.com/sportswire/sportswire/pkg/version"
)

// requestTimeout bounds every outbound feed request.
const requestTimeout = 30 * time.Second

// Source is one pollable content feed.
//
// Fetch returns articles published strictly after since; a zero since means
// no lower bound. Failures of individual feeds or subreddits inside a source
// are logged and skipped rather than failing the whole fetch.
type Source interface {
	Name() string
	Fetch(ctx context.Context, since time.Time) ([]models.RawArticle, error)
}

// DefaultFeeds are the RSS feed groups polled when RSS_FEEDS is unset.
var DefaultFeeds = []string{
	"espn=https://www.espn.com/espn/rss/news",
	"bbc_sport=https://feeds.bbci.co.uk/sport/rss.xml",
	"the_athletic=https://theathletic.com/rss/news/",
}

// DefaultSubreddits are polled when REDDIT_SUBREDDITS is unset.
var DefaultSubreddits = []string{"soccer", "nba", "nfl", "formula1"}

// Config selects which source kinds to build and parameterizes each.
type Config struct {
	// Kinds lists the enabled source kinds: "rss", "reddit".
	Kinds []string

	RSS    RSSConfig
	Reddit RedditConfig
}

// RSSConfig lists feed URLs as "name=url" entries. Entries sharing a name
// form one source named after the group.
type RSSConfig struct {
	Feeds []string
}

// RedditConfig carries OAuth2 client credentials and the subreddit list.
// BaseURL and TokenURL exist for tests; leave them empty in production.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	Subreddits   []string
	BaseURL      string
	TokenURL     string
}

// DefaultConfig returns source configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Kinds: []string{"rss", "reddit"},
		RSS:   RSSConfig{Feeds: DefaultFeeds},
		Reddit: RedditConfig{
			UserAgent:  version.Full(),
			Subreddits: DefaultSubreddits,
		},
	}
}

// LoadConfigFromEnv loads source configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Kinds = config.GetEnvCSV("SOURCES", cfg.Kinds)
	cfg.RSS.Feeds = config.GetEnvCSV("RSS_FEEDS", cfg.RSS.Feeds)
	cfg.Reddit.ClientID = config.GetEnv("REDDIT_CLIENT_ID", "")
	cfg.Reddit.ClientSecret = config.GetEnv("REDDIT_CLIENT_SECRET", "")
	cfg.Reddit.UserAgent = config.GetEnv("REDDIT_USER_AGENT", cfg.Reddit.UserAgent)
	cfg.Reddit.Subreddits = config.GetEnvCSV("REDDIT_SUBREDDITS", cfg.Reddit.Subreddits)
	return cfg
}

// New builds the configured sources. Reddit is skipped with a warning when
// its credentials are absent; an unknown kind is a configuration error.
func New(cfg Config) ([]Source, error) {
	logger := slog.Default().With("component", "sources")

	var built []Source
	for _, kind := range cfg.Kinds {
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "rss":
			names, groups, err := parseFeedGroups(cfg.RSS.Feeds)
			if err != nil {
				return nil, err
			}
			for _, name := range names {
				built = append(built, NewRSS(name, groups[name]))
			}
		case "reddit":
			if cfg.Reddit.ClientID == "" || cfg.Reddit.ClientSecret == "" {
				logger.Warn("Reddit source not configured, skipping",
					"hint", "set REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET")
				continue
			}
			built = append(built, NewReddit(cfg.Reddit))
		case "":
		default:
			return nil, fmt.Errorf("sources: unknown source kind %q (want rss or reddit)", kind)
		}
	}
	return built, nil
}

// parseFeedGroups splits "name=url" entries into per-name URL lists,
// preserving first-seen name order.
func parseFeedGroups(entries []string) ([]string, map[string][]string, error) {
	var names []string
	groups := make(map[string][]string)

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, url, ok := strings.Cut(entry, "=")
		if !ok || name == "" || url == "" {
			return nil, nil, fmt.Errorf("sources: malformed RSS feed entry %q (want name=url)", entry)
		}
		if _, seen := groups[name]; !seen {
			names = append(names, name)
		}
		groups[name] = append(groups[name], url)
	}
	return names, groups, nil
}

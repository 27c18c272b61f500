package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/sportswire/sportswire/pkg/models"
	"github.com/sportswire/sportswire/pkg/version"
)

// hashPrefixLen truncates the sha256 link digest used as a source ID.
const hashPrefixLen = 16

// RSSSource polls a named group of RSS feed URLs.
type RSSSource struct {
	name   string
	feeds  []string
	parser *gofeed.Parser
	logger *slog.Logger
}

// NewRSS builds a source named name over the given feed URLs.
func NewRSS(name string, feedURLs []string) *RSSSource {
	parser := gofeed.NewParser()
	parser.UserAgent = version.Full()
	parser.Client = &http.Client{Timeout: requestTimeout}

	return &RSSSource{
		name:   name,
		feeds:  feedURLs,
		parser: parser,
		logger: slog.Default().With("component", "rss-source", "source", name),
	}
}

func (s *RSSSource) Name() string {
	return s.name
}

// Fetch parses every feed in the group and returns items newer than since.
// A feed that fails to parse is logged and skipped.
func (s *RSSSource) Fetch(ctx context.Context, since time.Time) ([]models.RawArticle, error) {
	var articles []models.RawArticle

	for _, feedURL := range s.feeds {
		feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			s.logger.Warn("Failed to fetch RSS feed", "feed_url", feedURL, "error", err)
			continue
		}

		for _, item := range feed.Items {
			published := itemPublished(item)
			if !since.IsZero() && !published.After(since) {
				continue
			}

			content := item.Description
			if content == "" {
				content = item.Content
			}
			author := ""
			if item.Author != nil {
				author = item.Author.Name
			}

			articles = append(articles, models.RawArticle{
				Source:      s.name,
				SourceID:    rssSourceID(item),
				SourceURL:   item.Link,
				Title:       item.Title,
				Content:     content,
				PublishedAt: published,
				Metadata: map[string]any{
					"feed_url": feedURL,
					"author":   author,
				},
			})
		}
	}

	return articles, nil
}

// rssSourceID hashes the item's most stable identifier. Links are preferred;
// GUIDs and titles cover feeds that omit them.
func rssSourceID(item *gofeed.Item) string {
	key := item.Link
	if key == "" {
		key = item.GUID
	}
	if key == "" {
		key = item.Title
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:hashPrefixLen]
}

func itemPublished(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return time.Now().UTC()
}

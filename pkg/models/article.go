package models

import (
	"strings"
	"time"
)

// RawArticle is the immutable input produced by a ContentSource. It is
// carried once through the broker and never re-stored in raw form.
type RawArticle struct {
	Source      string         `json:"source"`
	SourceID    string         `json:"source_id"`
	SourceURL   string         `json:"source_url"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	PublishedAt time.Time      `json:"published_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// EntityType classifies an extracted article entity.
type EntityType string

const (
	EntityPlayer EntityType = "player"
	EntityTeam   EntityType = "team"
	EntityLeague EntityType = "league"
	EntitySport  EntityType = "sport"
	EntityVenue  EntityType = "venue"
)

// ValidEntityType reports whether t is one of the known entity types.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityPlayer, EntityTeam, EntityLeague, EntitySport, EntityVenue:
		return true
	}
	return false
}

// ArticleEntity is a named entity extracted from an article. Normalized is
// the join key for entity-based retrieval.
type ArticleEntity struct {
	Name       string     `json:"name"`
	Type       EntityType `json:"type"`
	Normalized string     `json:"normalized"`
}

// NormalizeEntity derives the canonical entity key: lowercase, spaces as
// underscores, punctuation dropped.
func NormalizeEntity(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ProcessedArticle is the enriched artifact persisted in the article store.
// (Source, SourceID) is unique; writes upsert by that composite key.
type ProcessedArticle struct {
	Source          string          `json:"source"`
	SourceID        string          `json:"source_id"`
	SourceURL       string          `json:"source_url"`
	Title           string          `json:"title"`
	RawContent      string          `json:"raw_content"`
	Summary         string          `json:"summary"`
	Entities        []ArticleEntity `json:"entities"`
	Categories      []string        `json:"categories"`
	Sentiment       string          `json:"sentiment"`
	PublishedAt     time.Time       `json:"published_at"`
	IngestedAt      time.Time       `json:"ingested_at"`
	ProcessedAt     time.Time       `json:"processed_at"`
	ProcessingModel string          `json:"processing_model"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

package articles

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sportswire/sportswire/pkg/models"
)

// DefaultQueryLimit caps result sets when the caller does not choose a limit.
const DefaultQueryLimit = 20

// QueryParams selects articles by structured filters. Values within a filter
// are OR'd together; separate filters are AND'd.
type QueryParams struct {
	Entities   []string
	Categories []string
	Sources    []string
	EntityType string
	DateFrom   *time.Time
	DateTo     *time.Time
	Limit      int
}

const articleColumns = `a.id, a.source, a.source_id, a.source_url, a.title, a.raw_content,
	a.summary, a.sentiment, a.categories, a.metadata,
	a.published_at, a.ingested_at, a.processed_at, a.processing_model`

// buildArticleQuery renders QueryParams into a positional-parameter SQL query.
// Entity values are normalized here so callers can pass surface forms.
func buildArticleQuery(p QueryParams) (string, []any) {
	var conds []string
	var args []any

	placeholder := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(p.Entities) > 0 {
		ph := make([]string, len(p.Entities))
		for i, entity := range p.Entities {
			ph[i] = placeholder(models.NormalizeEntity(entity))
		}
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM article_entities e WHERE e.article_id = a.id AND e.normalized IN (%s))",
			strings.Join(ph, ", ")))
	}

	if len(p.Categories) > 0 {
		ors := make([]string, len(p.Categories))
		for i, category := range p.Categories {
			member, _ := json.Marshal([]string{strings.ToLower(category)})
			ors[i] = fmt.Sprintf("a.categories @> %s::jsonb", placeholder(string(member)))
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}

	if len(p.Sources) > 0 {
		ph := make([]string, len(p.Sources))
		for i, source := range p.Sources {
			ph[i] = placeholder(source)
		}
		conds = append(conds, fmt.Sprintf("a.source IN (%s)", strings.Join(ph, ", ")))
	}

	if p.EntityType != "" {
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM article_entities e WHERE e.article_id = a.id AND e.type = %s)",
			placeholder(p.EntityType)))
	}

	if p.DateFrom != nil {
		conds = append(conds, fmt.Sprintf("a.published_at >= %s", placeholder(*p.DateFrom)))
	}
	if p.DateTo != nil {
		conds = append(conds, fmt.Sprintf("a.published_at <= %s", placeholder(*p.DateTo)))
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(articleColumns)
	sb.WriteString(" FROM articles a")
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	limit := p.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY a.published_at DESC LIMIT %s", placeholder(limit)))

	return sb.String(), args
}

// buildEntityLoad fetches entity rows for a set of article IDs in one round trip.
func buildEntityLoad(ids []int64) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(
		"SELECT article_id, name, type, normalized FROM article_entities WHERE article_id IN (%s)",
		strings.Join(ph, ", "))
	return query, args
}

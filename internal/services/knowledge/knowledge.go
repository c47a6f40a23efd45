package knowledge

import (
	"context"
	"errors"
	"sort"

	"github.com/ruyacapital/ruya-assistant/internal/models"
)

// ErrNotFound is returned when a knowledge item does not exist
var ErrNotFound = errors.New("knowledge item not found")

// SearchOptions narrows a knowledge search
type SearchOptions struct {
	Category string
	Language string // "ar" or "en"; empty matches every language
	Limit    int
}

// Searcher finds knowledge items relevant to a query
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]models.ScoredItem, error)
}

// Store is the management interface over a knowledge base
type Store interface {
	Searcher
	Get(ctx context.Context, id string) (*models.KnowledgeItem, error)
	List(ctx context.Context, language string) ([]models.KnowledgeItem, error)
	Upsert(ctx context.Context, item *models.KnowledgeItem) error
}

// matches reports whether item passes the language and category filters
func (o SearchOptions) matches(item models.KnowledgeItem) bool {
	if o.Language != "" && item.Language != "" && item.Language != o.Language {
		return false
	}
	if o.Category != "" && item.Category != o.Category {
		return false
	}
	return true
}

// rank scores candidates against query, drops zero scores and sorts by
// relevance, verified items first on ties.
func rank(query string, candidates []models.KnowledgeItem, opts SearchOptions) []models.ScoredItem {
	scorer := NewScorer(candidates)

	results := make([]models.ScoredItem, 0)
	for _, item := range candidates {
		if !opts.matches(item) {
			continue
		}
		score := scorer.Score(query, item)
		if score <= 0 {
			continue
		}
		results = append(results, models.ScoredItem{Item: item, Relevance: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		return results[i].Item.Verified && !results[j].Item.Verified
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

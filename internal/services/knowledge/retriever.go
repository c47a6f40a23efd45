package knowledge

import (
	"context"
	"sort"
	"time"

	"github.com/ruyacapital/ruya-assistant/internal/middleware"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/ruyacapital/ruya-assistant/internal/services/cache"
	"github.com/sirupsen/logrus"
)

const (
	DefaultLimit        = 5
	DefaultMinRelevance = 0.3
)

// Retriever fronts a Searcher with limit and relevance filtering. It
// never returns an error: a failing store yields no knowledge.
type Retriever struct {
	searcher     Searcher
	cache        cache.Service
	metrics      *middleware.Metrics
	logger       *logrus.Logger
	limit        int
	minRelevance float64
}

// RetrieverOption configures a Retriever
type RetrieverOption func(*Retriever)

// WithCache caches search results
func WithCache(c cache.Service) RetrieverOption {
	return func(r *Retriever) { r.cache = c }
}

// WithMetrics records retrieval metrics
func WithMetrics(m *middleware.Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

// WithLimits overrides the result limit and the minimum relevance
func WithLimits(limit int, minRelevance float64) RetrieverOption {
	return func(r *Retriever) {
		if limit > 0 {
			r.limit = limit
		}
		if minRelevance >= 0 {
			r.minRelevance = minRelevance
		}
	}
}

// NewRetriever creates a retriever over searcher. A nil searcher is valid
// and always retrieves nothing.
func NewRetriever(searcher Searcher, logger *logrus.Logger, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		searcher:     searcher,
		logger:       logger,
		limit:        DefaultLimit,
		minRelevance: DefaultMinRelevance,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search implements Searcher for callers that want the filtered view
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) ([]models.ScoredItem, error) {
	lang, _ := models.ParseLanguage(opts.Language)
	return r.Retrieve(ctx, query, lang, opts.Category), nil
}

// Retrieve returns at most limit items with relevance >= the minimum,
// most relevant first.
func (r *Retriever) Retrieve(ctx context.Context, query string, lang models.Language, category string) []models.ScoredItem {
	if r.searcher == nil {
		return []models.ScoredItem{}
	}

	langCode := ""
	if lang != "" {
		langCode = lang.Code()
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, query, langCode, category); ok {
			return cached
		}
	}

	start := time.Now()
	results, err := r.searcher.Search(ctx, query, SearchOptions{
		Category: category,
		Language: langCode,
		Limit:    r.limit,
	})
	if err != nil {
		r.logger.WithError(err).WithField("language", langCode).Warn("Knowledge search failed, continuing without knowledge")
		r.metrics.RecordRetrieval("error", 0, time.Since(start))
		return []models.ScoredItem{}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})

	filtered := make([]models.ScoredItem, 0, len(results))
	for _, res := range results {
		if res.Relevance < r.minRelevance {
			continue
		}
		filtered = append(filtered, res)
		if len(filtered) == r.limit {
			break
		}
	}

	r.metrics.RecordRetrieval("success", len(filtered), time.Since(start))
	r.logger.WithFields(logrus.Fields{
		"language": langCode,
		"found":    len(results),
		"kept":     len(filtered),
	}).Debug("Knowledge retrieved")

	if r.cache != nil {
		if err := r.cache.Set(ctx, query, langCode, category, filtered); err != nil {
			r.logger.WithError(err).Warn("Failed to cache knowledge results")
		}
	}
	return filtered
}

// RetrievalConfidence is the saturating count heuristic used for answer
// confidence: 0.2 per retrieved item, capped at 1. It is not a
// probability and says nothing about how similar the items are.
func RetrievalConfidence(itemCount int) float64 {
	return models.ClampScore(float64(itemCount) * 0.2)
}

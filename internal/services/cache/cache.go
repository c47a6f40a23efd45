package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/middleware"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/sirupsen/logrus"
)

// Service caches knowledge search results
type Service interface {
	Get(ctx context.Context, query, language, category string) ([]models.ScoredItem, bool)
	Set(ctx context.Context, query, language, category string, results []models.ScoredItem) error
	Clear(ctx context.Context) error
}

type entry struct {
	Results   []models.ScoredItem
	CreatedAt time.Time
}

// SearchCache implements Service with an in-process TTL cache
type SearchCache struct {
	enabled bool
	cache   *cache.Cache
	logger  *logrus.Logger
	metrics *middleware.Metrics
	maxSize int
}

// NewSearchCache creates a new search cache
func NewSearchCache(cfg *config.CacheConfig, metrics *middleware.Metrics, logger *logrus.Logger) *SearchCache {
	if !cfg.Enabled {
		return &SearchCache{enabled: false}
	}

	return &SearchCache{
		enabled: true,
		cache:   cache.New(cfg.TTL, cfg.TTL*2),
		logger:  logger,
		metrics: metrics,
		maxSize: cfg.MaxSize,
	}
}

// Get retrieves cached results
func (c *SearchCache) Get(ctx context.Context, query, language, category string) ([]models.ScoredItem, bool) {
	if !c.enabled {
		return nil, false
	}

	key := generateKey(query, language, category)
	if val, found := c.cache.Get(key); found {
		e := val.(*entry)
		c.metrics.RecordCacheHit()
		c.logger.WithFields(logrus.Fields{
			"language": language,
			"age":      time.Since(e.CreatedAt),
		}).Debug("Search cache hit")
		return e.Results, true
	}

	c.metrics.RecordCacheMiss()
	return nil, false
}

// Set stores results in cache
func (c *SearchCache) Set(ctx context.Context, query, language, category string, results []models.ScoredItem) error {
	if !c.enabled {
		return nil
	}

	if c.maxSize > 0 && c.cache.ItemCount() >= c.maxSize {
		c.logger.Warn("Cache size limit reached, clearing old entries")
		c.cache.DeleteExpired()
		if c.cache.ItemCount() >= c.maxSize {
			c.cache.Flush()
		}
	}

	c.cache.SetDefault(generateKey(query, language, category), &entry{
		Results:   results,
		CreatedAt: time.Now(),
	})
	return nil
}

// Clear removes all cached entries
func (c *SearchCache) Clear(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	c.cache.Flush()
	c.logger.Info("Cache cleared")
	return nil
}

// generateKey hashes the normalized query with its filters
func generateKey(query, language, category string) string {
	data := language + ":" + category + ":" + strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/middleware"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, cfg config.CacheConfig) *SearchCache {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewSearchCache(&cfg, middleware.NewMetrics(), log)
}

func TestSearchCache(t *testing.T) {
	ctx := context.Background()
	results := []models.ScoredItem{{Item: models.KnowledgeItem{ID: "pricing"}, Relevance: 0.7}}

	t.Run("hit after set", func(t *testing.T) {
		c := newTestCache(t, config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10})
		require.NoError(t, c.Set(ctx, "Pricing?", "en", "", results))

		got, ok := c.Get(ctx, "  pricing?", "en", "")
		require.True(t, ok)
		assert.Equal(t, results, got)
	})

	t.Run("filters are part of the key", func(t *testing.T) {
		c := newTestCache(t, config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10})
		require.NoError(t, c.Set(ctx, "pricing", "en", "", results))

		_, ok := c.Get(ctx, "pricing", "ar", "")
		assert.False(t, ok)
		_, ok = c.Get(ctx, "pricing", "en", "services")
		assert.False(t, ok)
	})

	t.Run("disabled cache never hits", func(t *testing.T) {
		c := newTestCache(t, config.CacheConfig{Enabled: false})
		require.NoError(t, c.Set(ctx, "pricing", "en", "", results))
		_, ok := c.Get(ctx, "pricing", "en", "")
		assert.False(t, ok)
		assert.NoError(t, c.Clear(ctx))
	})

	t.Run("size limit flushes", func(t *testing.T) {
		c := newTestCache(t, config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 2})
		require.NoError(t, c.Set(ctx, "a", "en", "", results))
		require.NoError(t, c.Set(ctx, "b", "en", "", results))
		require.NoError(t, c.Set(ctx, "c", "en", "", results))

		assert.LessOrEqual(t, c.cache.ItemCount(), 2)
		_, ok := c.Get(ctx, "c", "en", "")
		assert.True(t, ok)
	})

	t.Run("clear", func(t *testing.T) {
		c := newTestCache(t, config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10})
		require.NoError(t, c.Set(ctx, "a", "en", "", results))
		require.NoError(t, c.Clear(ctx))
		_, ok := c.Get(ctx, "a", "en", "")
		assert.False(t, ok)
	})
}

package storage

import (
	"context"
	"sync"

	"github.com/patrickmn/go-cache"
	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/sirupsen/logrus"
)

// MemoryStorage implements storage using in-memory cache. Records expire
// after the configured default expiration.
type MemoryStorage struct {
	sessions     *cache.Cache
	interactions *cache.Cache
	mu           sync.Mutex
	logger       *logrus.Logger
}

func NewMemoryStorage(cfg *config.MemoryConfig, logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		sessions:     cache.New(cfg.DefaultExpiration, cfg.CleanupInterval),
		interactions: cache.New(cfg.DefaultExpiration, cfg.CleanupInterval),
		logger:       logger,
	}
}

func (m *MemoryStorage) SaveSession(ctx context.Context, rec *models.SessionRecord) error {
	stored := *rec
	m.sessions.SetDefault(rec.Token, &stored)
	return nil
}

func (m *MemoryStorage) GetSession(ctx context.Context, token string) (*models.SessionRecord, error) {
	val, found := m.sessions.Get(token)
	if !found {
		return nil, ErrNotFound
	}
	rec := *val.(*models.SessionRecord)
	return &rec, nil
}

func (m *MemoryStorage) AppendInteraction(ctx context.Context, in *models.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var list []models.Interaction
	if val, found := m.interactions.Get(in.SessionID); found {
		list = val.([]models.Interaction)
	}
	// Copy so readers holding the previous slice never see the append
	next := make([]models.Interaction, len(list), len(list)+1)
	copy(next, list)
	next = append(next, *in)
	m.interactions.SetDefault(in.SessionID, next)
	return nil
}

func (m *MemoryStorage) ListInteractions(ctx context.Context, sessionID string, limit int) ([]models.Interaction, error) {
	val, found := m.interactions.Get(sessionID)
	if !found {
		return []models.Interaction{}, nil
	}
	list := val.([]models.Interaction)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]models.Interaction, len(list))
	copy(out, list)
	return out, nil
}

func (m *MemoryStorage) Close() error {
	m.sessions.Flush()
	m.interactions.Flush()
	return nil
}

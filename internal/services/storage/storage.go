package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/middleware"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned for unknown session tokens
	ErrNotFound = errors.New("session not found")
	// ErrSessionEnded is returned when ending a session twice
	ErrSessionEnded = errors.New("session already ended")
	// ErrInvalidRating is returned for satisfaction ratings outside 1..5
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// InteractionLogger records completed chat turns
type InteractionLogger interface {
	LogInteraction(ctx context.Context, in *models.Interaction) error
}

// SessionStore tracks the lifecycle of chat sessions and their logged turns
type SessionStore interface {
	StartSession(ctx context.Context, userID string) (string, error)
	EndSession(ctx context.Context, token string, rating *int) error
	GetSession(ctx context.Context, token string) (*models.SessionRecord, error)
	ListInteractions(ctx context.Context, sessionID string, limit int) ([]models.Interaction, error)
}

// Storage is implemented by each persistence backend
type Storage interface {
	SaveSession(ctx context.Context, rec *models.SessionRecord) error
	GetSession(ctx context.Context, token string) (*models.SessionRecord, error)
	AppendInteraction(ctx context.Context, in *models.Interaction) error
	// ListInteractions returns up to limit most recent turns, oldest first
	ListInteractions(ctx context.Context, sessionID string, limit int) ([]models.Interaction, error)
	Close() error
}

// Manager manages different storage backends
type Manager struct {
	storage Storage
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// NewManager creates a new storage manager. db is required only for the
// postgres backend.
func NewManager(cfg *config.Config, db *gorm.DB, metrics *middleware.Metrics, logger *logrus.Logger) (*Manager, error) {
	var storage Storage

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(&cfg.Storage.Redis, logger)
		if err != nil {
			return nil, err
		}
		storage = redisStorage
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres storage requires a database connection")
		}
		pgStorage, err := NewPostgresStorage(db, cfg.Database.AutoMigrate, logger)
		if err != nil {
			return nil, err
		}
		storage = pgStorage
	case "memory":
		storage = NewMemoryStorage(&cfg.Storage.Memory, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	logger.WithField("type", cfg.Storage.Type).Info("Storage initialized")
	return NewManagerWithStorage(storage, metrics, logger), nil
}

// NewManagerWithStorage wraps an already constructed backend
func NewManagerWithStorage(storage Storage, metrics *middleware.Metrics, logger *logrus.Logger) *Manager {
	return &Manager{
		storage: storage,
		metrics: metrics,
		logger:  logger,
	}
}

// StartSession creates a session record and returns its token
func (m *Manager) StartSession(ctx context.Context, userID string) (string, error) {
	start := time.Now()
	rec := &models.SessionRecord{
		Token:     uuid.NewString(),
		UserID:    userID,
		StartedAt: start.UTC(),
	}
	err := m.storage.SaveSession(ctx, rec)
	m.record("start_session", err, start)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return rec.Token, nil
}

// EndSession marks a session ended with an optional 1..5 rating
func (m *Manager) EndSession(ctx context.Context, token string, rating *int) error {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return ErrInvalidRating
	}

	start := time.Now()
	rec, err := m.storage.GetSession(ctx, token)
	if err != nil {
		m.record("end_session", err, start)
		return err
	}
	if rec.EndedAt != nil {
		return ErrSessionEnded
	}

	ended := start.UTC()
	rec.EndedAt = &ended
	rec.SatisfactionRating = rating
	err = m.storage.SaveSession(ctx, rec)
	m.record("end_session", err, start)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetSession returns the record for token
func (m *Manager) GetSession(ctx context.Context, token string) (*models.SessionRecord, error) {
	start := time.Now()
	rec, err := m.storage.GetSession(ctx, token)
	m.record("get_session", err, start)
	return rec, err
}

// LogInteraction stores one completed turn, filling in ID and timestamp
func (m *Manager) LogInteraction(ctx context.Context, in *models.Interaction) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	start := time.Now()
	err := m.storage.AppendInteraction(ctx, in)
	m.record("log_interaction", err, start)
	if err != nil {
		return fmt.Errorf("log interaction: %w", err)
	}
	return nil
}

// ListInteractions returns the most recent turns of a session, oldest first
func (m *Manager) ListInteractions(ctx context.Context, sessionID string, limit int) ([]models.Interaction, error) {
	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	out, err := m.storage.ListInteractions(ctx, sessionID, limit)
	m.record("list_interactions", err, start)
	return out, err
}

// Close releases the backend
func (m *Manager) Close() error {
	return m.storage.Close()
}

func (m *Manager) record(op string, err error, start time.Time) {
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
		m.logger.WithError(err).WithField("operation", op).Warn("Storage operation failed")
	}
	m.metrics.RecordStorageOperation(op, status, time.Since(start))
}

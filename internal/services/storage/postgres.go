package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/ruyacapital/ruya-assistant/pkg/database"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SessionRow is the chat_sessions table row
type SessionRow struct {
	Token              string `gorm:"primaryKey;size:64"`
	UserID             string `gorm:"size:128;index"`
	StartedAt          time.Time
	EndedAt            *time.Time
	SatisfactionRating *int
}

func (SessionRow) TableName() string {
	return "chat_sessions"
}

// InteractionRow is the chat_interactions table row
type InteractionRow struct {
	ID                    string `gorm:"primaryKey;size:64"`
	SessionID             string `gorm:"size:64;index:idx_interactions_session_created"`
	UserID                string `gorm:"size:128"`
	UserText              string `gorm:"type:text"`
	AssistantText         string `gorm:"type:text"`
	Language              string `gorm:"size:16"`
	ResponseTimeMs        int64
	Confidence            float64
	Sources               []string `gorm:"serializer:json"`
	RequiresHumanFollowup bool
	CreatedAt             time.Time `gorm:"index:idx_interactions_session_created"`
}

func (InteractionRow) TableName() string {
	return "chat_interactions"
}

// PostgresStorage implements storage on the hosted database through gorm
type PostgresStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewPostgresStorage(db *gorm.DB, migrate bool, logger *logrus.Logger) (*PostgresStorage, error) {
	if migrate {
		if err := database.Migrate(db, &SessionRow{}, &InteractionRow{}); err != nil {
			return nil, err
		}
	}
	return &PostgresStorage{db: db, logger: logger}, nil
}

func (p *PostgresStorage) SaveSession(ctx context.Context, rec *models.SessionRecord) error {
	row := SessionRow{
		Token:              rec.Token,
		UserID:             rec.UserID,
		StartedAt:          rec.StartedAt,
		EndedAt:            rec.EndedAt,
		SatisfactionRating: rec.SatisfactionRating,
	}
	return p.db.WithContext(ctx).Save(&row).Error
}

func (p *PostgresStorage) GetSession(ctx context.Context, token string) (*models.SessionRecord, error) {
	var row SessionRow
	err := p.db.WithContext(ctx).First(&row, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &models.SessionRecord{
		Token:              row.Token,
		UserID:             row.UserID,
		StartedAt:          row.StartedAt,
		EndedAt:            row.EndedAt,
		SatisfactionRating: row.SatisfactionRating,
	}, nil
}

func (p *PostgresStorage) AppendInteraction(ctx context.Context, in *models.Interaction) error {
	row := InteractionRow{
		ID:                    in.ID,
		SessionID:             in.SessionID,
		UserID:                in.UserID,
		UserText:              in.UserText,
		AssistantText:         in.AssistantText,
		Language:              string(in.Language),
		ResponseTimeMs:        in.ResponseTimeMs,
		Confidence:            in.Confidence,
		Sources:               in.Sources,
		RequiresHumanFollowup: in.RequiresHumanFollowup,
		CreatedAt:             in.CreatedAt,
	}
	return p.db.WithContext(ctx).Create(&row).Error
}

func (p *PostgresStorage) ListInteractions(ctx context.Context, sessionID string, limit int) ([]models.Interaction, error) {
	var rows []InteractionRow
	err := p.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.Interaction, len(rows))
	for i, row := range rows {
		// rows are newest first
		out[len(rows)-1-i] = models.Interaction{
			ID:                    row.ID,
			SessionID:             row.SessionID,
			UserID:                row.UserID,
			UserText:              row.UserText,
			AssistantText:         row.AssistantText,
			Language:              models.Language(row.Language),
			ResponseTimeMs:        row.ResponseTimeMs,
			Confidence:            row.Confidence,
			Sources:               row.Sources,
			RequiresHumanFollowup: row.RequiresHumanFollowup,
			CreatedAt:             row.CreatedAt,
		}
	}
	return out, nil
}

// Close is a no-op; the connection pool is owned by the caller
func (p *PostgresStorage) Close() error {
	return nil
}

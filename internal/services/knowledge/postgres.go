package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxCandidates bounds the rows pulled from the database per search
const maxCandidates = 200

// KnowledgeRecord is the knowledge_items table row
type KnowledgeRecord struct {
	ID          string            `gorm:"primaryKey;size:128"`
	Title       string            `gorm:"size:512;not null"`
	Content     string            `gorm:"type:text;not null"`
	Category    string            `gorm:"size:64;index"`
	Language    string            `gorm:"size:8;index"`
	Tags        []string          `gorm:"serializer:json"`
	Verified    bool              `gorm:"not null;default:false"`
	Metadata    map[string]string `gorm:"serializer:json"`
	LastUpdated time.Time         `gorm:"autoUpdateTime"`
}

func (KnowledgeRecord) TableName() string {
	return "knowledge_items"
}

func (r *KnowledgeRecord) toItem() models.KnowledgeItem {
	return models.KnowledgeItem{
		ID:          r.ID,
		Title:       r.Title,
		Content:     r.Content,
		Category:    r.Category,
		Language:    r.Language,
		Tags:        r.Tags,
		Verified:    r.Verified,
		LastUpdated: r.LastUpdated,
		Metadata:    r.Metadata,
	}
}

func recordFromItem(item *models.KnowledgeItem) *KnowledgeRecord {
	return &KnowledgeRecord{
		ID:          item.ID,
		Title:       item.Title,
		Content:     item.Content,
		Category:    item.Category,
		Language:    item.Language,
		Tags:        item.Tags,
		Verified:    item.Verified,
		Metadata:    item.Metadata,
		LastUpdated: item.LastUpdated,
	}
}

// PostgresStore serves knowledge items from the hosted database
type PostgresStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewPostgresStore creates a knowledge store over db
func NewPostgresStore(db *gorm.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// Search pulls candidate rows matching any query term and ranks them locally
func (s *PostgresStore) Search(ctx context.Context, query string, opts SearchOptions) ([]models.ScoredItem, error) {
	q := s.db.WithContext(ctx).Model(&KnowledgeRecord{})
	if opts.Language != "" {
		q = q.Where("language IN ?", []string{opts.Language, ""})
	}
	if opts.Category != "" {
		q = q.Where("category = ?", opts.Category)
	}

	terms := Tokenize(query)
	if len(terms) == 0 {
		return []models.ScoredItem{}, nil
	}
	if len(terms) > 8 {
		terms = terms[:8]
	}
	conds := make([]string, 0, len(terms))
	args := make([]interface{}, 0, len(terms)*2)
	for _, term := range terms {
		conds = append(conds, "(title ILIKE ? OR content ILIKE ?)")
		pattern := "%" + escapeLike(term) + "%"
		args = append(args, pattern, pattern)
	}
	q = q.Where(strings.Join(conds, " OR "), args...)

	var records []KnowledgeRecord
	if err := q.Limit(maxCandidates).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to search knowledge items: %w", err)
	}

	candidates := make([]models.KnowledgeItem, 0, len(records))
	for i := range records {
		candidates = append(candidates, records[i].toItem())
	}

	s.logger.WithFields(logrus.Fields{
		"terms":      len(terms),
		"candidates": len(candidates),
	}).Debug("Knowledge candidates loaded")

	return rank(query, candidates, opts), nil
}

// Get returns an item by its ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.KnowledgeItem, error) {
	var record KnowledgeRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge item: %w", err)
	}
	item := record.toItem()
	return &item, nil
}

// List returns all items, optionally restricted to one language
func (s *PostgresStore) List(ctx context.Context, language string) ([]models.KnowledgeItem, error) {
	q := s.db.WithContext(ctx).Order("id")
	if language != "" {
		q = q.Where("language IN ?", []string{language, ""})
	}

	var records []KnowledgeRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list knowledge items: %w", err)
	}

	items := make([]models.KnowledgeItem, 0, len(records))
	for i := range records {
		items = append(items, records[i].toItem())
	}
	return items, nil
}

// Upsert inserts or replaces an item
func (s *PostgresStore) Upsert(ctx context.Context, item *models.KnowledgeItem) error {
	if item.ID == "" {
		return fmt.Errorf("knowledge item id is required")
	}
	record := recordFromItem(item)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge item: %w", err)
	}
	item.LastUpdated = record.LastUpdated
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

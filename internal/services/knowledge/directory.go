package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var frontMatterDelim = []byte("---")

// DirectoryStore serves knowledge items from markdown files. Each file
// may start with a YAML front matter block carrying the item metadata.
type DirectoryStore struct {
	items   map[string]*models.KnowledgeItem
	itemsRW sync.RWMutex
	dir     string
	logger  *logrus.Logger
}

// NewDirectoryStore creates a store rooted at dir. Call Load before use.
func NewDirectoryStore(dir string, logger *logrus.Logger) *DirectoryStore {
	return &DirectoryStore{
		items:  make(map[string]*models.KnowledgeItem),
		dir:    dir,
		logger: logger,
	}
}

// Load reads all markdown files under the store directory
func (s *DirectoryStore) Load(ctx context.Context) error {
	s.logger.WithField("dir", s.dir).Info("Loading knowledge base")

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create knowledge directory: %w", err)
	}

	items := make(map[string]*models.KnowledgeItem)
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".md") {
			return nil
		}

		item, err := s.loadItem(path)
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Failed to load knowledge file")
			return nil // Continue with other files
		}

		items[item.ID] = item
		s.logger.WithFields(logrus.Fields{
			"id":       item.ID,
			"title":    item.Title,
			"language": item.Language,
		}).Debug("Loaded knowledge item")
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk knowledge directory: %w", err)
	}

	s.itemsRW.Lock()
	s.items = items
	s.itemsRW.Unlock()

	s.logger.WithField("count", len(items)).Info("Knowledge base loaded")
	return nil
}

// Refresh reloads the knowledge base from disk
func (s *DirectoryStore) Refresh(ctx context.Context) error {
	return s.Load(ctx)
}

func (s *DirectoryStore) loadItem(path string) (*models.KnowledgeItem, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	item := &models.KnowledgeItem{}
	body, err := splitFrontMatter(content, item)
	if err != nil {
		return nil, err
	}
	item.Content = strings.TrimSpace(body)

	if item.ID == "" {
		relPath, _ := filepath.Rel(s.dir, path)
		id := strings.TrimSuffix(relPath, filepath.Ext(relPath))
		item.ID = strings.ReplaceAll(id, string(filepath.Separator), "_")
	}
	if item.Title == "" {
		item.Title = titleFromMarkdown(item.Content, path)
	}
	if item.LastUpdated.IsZero() {
		item.LastUpdated = info.ModTime()
	}
	return item, nil
}

// splitFrontMatter decodes a leading "---" YAML block into item and
// returns the remaining markdown body.
func splitFrontMatter(content []byte, item *models.KnowledgeItem) (string, error) {
	trimmed := bytes.TrimLeft(content, "\uFEFF \t\r\n")
	if !bytes.HasPrefix(trimmed, frontMatterDelim) {
		return string(content), nil
	}

	rest := trimmed[len(frontMatterDelim):]
	end := bytes.Index(rest, append([]byte("\n"), frontMatterDelim...))
	if end < 0 {
		return "", fmt.Errorf("unterminated front matter")
	}

	if err := yaml.Unmarshal(rest[:end], item); err != nil {
		return "", fmt.Errorf("failed to parse front matter: %w", err)
	}
	return string(rest[end+1+len(frontMatterDelim):]), nil
}

// titleFromMarkdown returns the first level-1 header, or a title derived
// from the file name.
func titleFromMarkdown(body, path string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	title = strings.ReplaceAll(title, "_", " ")
	return strings.ReplaceAll(title, "-", " ")
}

// Search ranks the loaded items against query
func (s *DirectoryStore) Search(ctx context.Context, query string, opts SearchOptions) ([]models.ScoredItem, error) {
	s.itemsRW.RLock()
	candidates := make([]models.KnowledgeItem, 0, len(s.items))
	for _, item := range s.items {
		candidates = append(candidates, *item)
	}
	s.itemsRW.RUnlock()

	// Map iteration order is random; keep ranking deterministic on ties
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	return rank(query, candidates, opts), nil
}

// Get returns an item by its ID
func (s *DirectoryStore) Get(ctx context.Context, id string) (*models.KnowledgeItem, error) {
	s.itemsRW.RLock()
	defer s.itemsRW.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	copied := *item
	return &copied, nil
}

// List returns all items, optionally restricted to one language
func (s *DirectoryStore) List(ctx context.Context, language string) ([]models.KnowledgeItem, error) {
	s.itemsRW.RLock()
	defer s.itemsRW.RUnlock()

	items := make([]models.KnowledgeItem, 0, len(s.items))
	for _, item := range s.items {
		if language != "" && item.Language != "" && item.Language != language {
			continue
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// Upsert writes item as a markdown file and updates the in-memory index
func (s *DirectoryStore) Upsert(ctx context.Context, item *models.KnowledgeItem) error {
	if item.ID == "" {
		return fmt.Errorf("knowledge item id is required")
	}
	if strings.ContainsAny(item.ID, `/\`) || strings.Contains(item.ID, "..") {
		return fmt.Errorf("invalid knowledge item id: %s", item.ID)
	}
	if item.LastUpdated.IsZero() {
		item.LastUpdated = time.Now()
	}

	header, err := yaml.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(frontMatterDelim)
	buf.WriteByte('\n')
	buf.Write(header)
	buf.Write(frontMatterDelim)
	buf.WriteString("\n")
	buf.WriteString(item.Content)
	buf.WriteString("\n")

	path := filepath.Join(s.dir, item.ID+".md")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write knowledge file: %w", err)
	}

	copied := *item
	s.itemsRW.Lock()
	s.items[item.ID] = &copied
	s.itemsRW.Unlock()
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/i18n"
	"github.com/ruyacapital/ruya-assistant/internal/middleware"
	"github.com/ruyacapital/ruya-assistant/internal/services/ai"
	"github.com/ruyacapital/ruya-assistant/internal/services/assistant"
	"github.com/ruyacapital/ruya-assistant/internal/services/cache"
	"github.com/ruyacapital/ruya-assistant/internal/services/knowledge"
	"github.com/ruyacapital/ruya-assistant/internal/services/prompt"
	"github.com/ruyacapital/ruya-assistant/internal/services/storage"
	"github.com/ruyacapital/ruya-assistant/pkg/database"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app holds the wired services shared by every command
type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	db        *gorm.DB
	metrics   *middleware.Metrics
	store     knowledge.Store
	retriever *knowledge.Retriever
	ai        *ai.Router
	localizer *i18n.Localizer
	storage   *storage.Manager
	registry  *assistant.Registry
}

// openDatabase connects to Postgres when any component is configured to use it
func openDatabase(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	needsDB := cfg.Storage.Type == "postgres" ||
		(cfg.Knowledge.Enabled && cfg.Knowledge.Source == "postgres")
	if !needsDB {
		return nil, nil
	}
	return database.Open(&cfg.Database, log)
}

// openKnowledge returns the configured knowledge store, or nil when the
// knowledge base is disabled.
func openKnowledge(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logrus.Logger) (knowledge.Store, error) {
	if !cfg.Knowledge.Enabled {
		log.Warn("Knowledge base disabled, answers will use the business fallback")
		return nil, nil
	}

	switch cfg.Knowledge.Source {
	case "postgres":
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(db, &knowledge.KnowledgeRecord{}); err != nil {
				return nil, err
			}
		}
		return knowledge.NewPostgresStore(db, log), nil
	case "directory", "":
		store := knowledge.NewDirectoryStore(cfg.Knowledge.Directory, log)
		if err := store.Load(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported knowledge source: %s", cfg.Knowledge.Source)
	}
}

func newApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: middleware.NewMetrics(),
	}

	var err error
	a.db, err = openDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	a.store, err = openKnowledge(ctx, cfg, a.db, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}

	opts := []knowledge.RetrieverOption{
		knowledge.WithMetrics(a.metrics),
		knowledge.WithLimits(cfg.Knowledge.Limit, cfg.Knowledge.MinRelevance),
	}
	if cfg.Cache.Enabled {
		opts = append(opts, knowledge.WithCache(cache.NewSearchCache(&cfg.Cache, a.metrics, log)))
	}
	var searcher knowledge.Searcher
	if a.store != nil {
		searcher = a.store
	}
	a.retriever = knowledge.NewRetriever(searcher, log, opts...)

	a.ai, err = ai.NewRouter(ctx, &cfg.Models, log,
		ai.WithMetrics(a.metrics),
		ai.WithAttemptTimeout(cfg.Assistant.CompletionTimeout),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize completion service: %w", err)
	}

	a.localizer, err = i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize i18n: %w", err)
	}

	a.storage, err = storage.NewManager(cfg, a.db, a.metrics, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	deps := assistant.Deps{
		Knowledge:    a.retriever,
		AI:           a.ai,
		Composer:     prompt.NewComposer(a.localizer),
		Localizer:    a.localizer,
		Interactions: a.storage,
		Metrics:      a.metrics,
		Logger:       log,
	}
	a.registry = assistant.NewRegistry(deps, assistant.SettingsFromConfig(cfg), cfg.Assistant.SessionTTL)

	return a, nil
}

// Close waits for pending interaction logs and releases the backends
func (a *app) Close() error {
	var errs []error
	if a.registry != nil {
		a.registry.Wait()
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

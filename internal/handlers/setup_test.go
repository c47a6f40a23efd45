package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/i18n"
	"github.com/ruyacapital/ruya-assistant/internal/middleware"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/ruyacapital/ruya-assistant/internal/services/assistant"
	"github.com/ruyacapital/ruya-assistant/internal/services/knowledge"
	"github.com/ruyacapital/ruya-assistant/internal/services/prompt"
	"github.com/ruyacapital/ruya-assistant/internal/services/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	mu      sync.Mutex
	answer  string
	err     error
	calls   int
	started chan struct{}
	release chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	started, release := f.started, f.release
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return f.answer, f.err
}

type fakeSearcher struct {
	results []models.ScoredItem
	opts    knowledge.SearchOptions
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts knowledge.SearchOptions) ([]models.ScoredItem, error) {
	f.opts = opts
	return f.results, nil
}

type fixture struct {
	sessions  *Sessions
	store     *storage.Manager
	registry  *assistant.Registry
	localizer *i18n.Localizer
	limiter   *middleware.KeyRateLimiter
	security  *middleware.SecurityMiddleware
	logger    *logrus.Logger
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newFixture(t *testing.T, ai assistant.Completer, rl config.RateLimitConfig) *fixture {
	t.Helper()
	log := quietLogger()

	loc, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "ar", Languages: []string{"ar", "en"}})
	require.NoError(t, err)

	store := storage.NewManagerWithStorage(
		storage.NewMemoryStorage(&config.MemoryConfig{DefaultExpiration: time.Hour}, log), nil, log)

	deps := assistant.Deps{
		AI:           ai,
		Composer:     prompt.NewComposer(loc),
		Localizer:    loc,
		Interactions: store,
		Logger:       log,
	}
	registry := assistant.NewRegistry(deps, assistant.DefaultSettings(), time.Hour)

	limiter := middleware.NewRateLimiter(&rl, log)
	t.Cleanup(func() {
		limiter.Close()
		registry.Wait()
	})

	return &fixture{
		sessions:  NewSessions(registry, store),
		store:     store,
		registry:  registry,
		localizer: loc,
		limiter:   limiter,
		security:  middleware.NewSecurityMiddleware(4096, log),
		logger:    log,
	}
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/middleware"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrModelNotFound is returned when a request names a model no endpoint serves
var ErrModelNotFound = errors.New("model not found")

// ErrEmptyResponse is returned when the provider answers without text
var ErrEmptyResponse = errors.New("no response from AI")

// Service represents the completion service interface
type Service interface {
	Complete(ctx context.Context, req models.CompletionRequest) (string, error)
	Models() []ModelOption
	Model(modelID string) (*ModelOption, error)
}

// ModelOption represents a model option with endpoint info
type ModelOption struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	EndpointName string `json:"endpoint"`
	MaxTokens    int    `json:"max_tokens"`
}

// provider sends one completion attempt to a single endpoint
type provider interface {
	complete(ctx context.Context, req models.CompletionRequest) (string, error)
}

// clientError marks failures that must not be retried
type clientError struct {
	status int
	err    error
}

func (e *clientError) Error() string {
	return fmt.Sprintf("client error %d: %v", e.status, e.err)
}

func (e *clientError) Unwrap() error { return e.err }

// Option configures a Router
type Option func(*Router)

// WithMetrics records completion latency per model
func WithMetrics(m *middleware.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithRetry overrides the attempt count and the base backoff delay
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(r *Router) {
		if attempts > 0 {
			r.maxAttempts = attempts
		}
		r.baseDelay = baseDelay
	}
}

// WithAttemptTimeout bounds each individual attempt
func WithAttemptTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.attemptTimeout = d
		}
	}
}

// Router dispatches completion requests to the endpoint serving the model
type Router struct {
	defaultModel   string
	providers      map[string]provider
	models         map[string]*ModelOption
	metrics        *middleware.Metrics
	logger         *logrus.Logger
	maxAttempts    int
	baseDelay      time.Duration
	attemptTimeout time.Duration
}

// NewRouter builds providers for every configured endpoint
func NewRouter(ctx context.Context, cfg *config.ModelsConfig, logger *logrus.Logger, opts ...Option) (*Router, error) {
	r := &Router{
		defaultModel:   cfg.Default,
		providers:      make(map[string]provider),
		models:         make(map[string]*ModelOption),
		logger:         logger,
		maxAttempts:    3,
		baseDelay:      2 * time.Second,
		attemptTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}

	logger.WithField("endpointCount", len(cfg.Endpoints)).Info("Loading AI endpoints")

	for i := range cfg.Endpoints {
		endpoint := &cfg.Endpoints[i]

		var (
			p   provider
			err error
		)
		switch endpoint.Provider {
		case "gemini":
			p, err = newGeminiProvider(ctx, endpoint)
		case "", "openai":
			p = newOpenAIProvider(endpoint)
		default:
			err = fmt.Errorf("unsupported provider %q", endpoint.Provider)
		}
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", endpoint.Name, err)
		}
		r.providers[endpoint.Name] = p

		logger.WithFields(logrus.Fields{
			"endpoint": endpoint.Name,
			"provider": endpoint.Provider,
			"models":   len(endpoint.Models),
		}).Info("Loading endpoint")

		for j := range endpoint.Models {
			model := &endpoint.Models[j]
			r.models[model.ID] = &ModelOption{
				ID:           model.ID,
				Name:         model.Name,
				EndpointName: endpoint.Name,
				MaxTokens:    model.MaxTokens,
			}
		}
	}

	logger.WithField("totalModels", len(r.models)).Info("AI service initialized")
	return r, nil
}

// Complete sends the request with retry and exponential backoff. Client
// errors (4xx) fail immediately.
func (r *Router) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	if req.Model == "" {
		req.Model = r.defaultModel
	}
	option, err := r.Model(req.Model)
	if err != nil {
		return "", err
	}
	p := r.providers[option.EndpointName]
	if option.MaxTokens > 0 && (req.MaxOutputTokens <= 0 || req.MaxOutputTokens > option.MaxTokens) {
		req.MaxOutputTokens = option.MaxTokens
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		text, err := r.attempt(ctx, p, req)
		if err == nil {
			r.metrics.RecordAIRequest(req.Model, "success", time.Since(start))
			return text, nil
		}
		lastErr = err

		var ce *clientError
		if errors.As(err, &ce) {
			break
		}

		r.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err.Error(),
			"modelID": req.Model,
		}).Warn("AI request failed, retrying...")

		if attempt < r.maxAttempts {
			// 2s, 4s, ...
			wait := r.baseDelay << uint(attempt-1)
			select {
			case <-ctx.Done():
				r.metrics.RecordAIRequest(req.Model, "error", time.Since(start))
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	r.metrics.RecordAIRequest(req.Model, "error", time.Since(start))
	return "", fmt.Errorf("completion failed for model %s: %w", req.Model, lastErr)
}

func (r *Router) attempt(ctx context.Context, p provider, req models.CompletionRequest) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	text, err := p.complete(attemptCtx, req)
	if err != nil {
		return "", err
	}
	text = stripThinking(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Models returns all configured models sorted by ID
func (r *Router) Models() []ModelOption {
	out := make([]ModelOption, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Model returns a model by its ID
func (r *Router) Model(modelID string) (*ModelOption, error) {
	model, exists := r.models[modelID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	return model, nil
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinking removes reasoning blocks some models emit before the answer.
// An unterminated block drops everything after its opening tag.
func stripThinking(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	if i := strings.Index(text, "<think>"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

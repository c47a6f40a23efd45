// Package assistant runs one chat turn end to end: language detection,
// topic tracking, knowledge retrieval, prompt composition and completion.
package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/i18n"
	"github.com/ruyacapital/ruya-assistant/internal/middleware"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/ruyacapital/ruya-assistant/internal/services/knowledge"
	"github.com/ruyacapital/ruya-assistant/internal/services/language"
	"github.com/ruyacapital/ruya-assistant/internal/services/prompt"
	"github.com/ruyacapital/ruya-assistant/internal/services/storage"
	"github.com/ruyacapital/ruya-assistant/internal/services/topics"
	"github.com/ruyacapital/ruya-assistant/pkg/logger"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionBusy is returned when a turn is already running for the session
	ErrSessionBusy = errors.New("session is busy")
	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = errors.New("session not found")
)

const (
	retrievalWeight = 0.6
	contextWeight   = 0.4
	// Below this confidence a human should follow up
	followupThreshold = 0.5

	logTimeout = 5 * time.Second
)

// contactMarkers force a human followup when the user asks to be contacted
var contactMarkers = []string{"contact", "تواصل"}

// KnowledgeRetriever returns grounding items for a query and never fails
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, query string, lang models.Language, category string) []models.ScoredItem
}

// Completer produces the assistant's answer text
type Completer interface {
	Complete(ctx context.Context, req models.CompletionRequest) (string, error)
}

// Deps are the collaborators shared by every session
type Deps struct {
	Knowledge    KnowledgeRetriever
	AI           Completer
	Composer     *prompt.Composer
	Localizer    *i18n.Localizer
	Interactions storage.InteractionLogger // optional
	Metrics      *middleware.Metrics
	Logger       *logrus.Logger
}

// Settings are the per-turn tunables
type Settings struct {
	Model             string
	DefaultLanguage   models.Language
	TopicWindow       int
	HistoryWindow     int
	Temperature       float32
	MaxOutputTokens   int
	CompletionTimeout time.Duration
}

// SettingsFromConfig reads the assistant section of the configuration
func SettingsFromConfig(cfg *config.Config) Settings {
	lang, ok := models.ParseLanguage(cfg.Assistant.DefaultLanguage)
	if !ok {
		lang = models.LanguageArabic
	}
	return Settings{
		Model:             cfg.Models.Default,
		DefaultLanguage:   lang,
		TopicWindow:       cfg.Assistant.TopicWindow,
		HistoryWindow:     cfg.Assistant.HistoryWindow,
		Temperature:       cfg.Assistant.Temperature,
		MaxOutputTokens:   cfg.Assistant.MaxOutputTokens,
		CompletionTimeout: cfg.Assistant.CompletionTimeout,
	}
}

// DefaultSettings mirrors the configuration defaults
func DefaultSettings() Settings {
	return Settings{
		DefaultLanguage:   models.LanguageArabic,
		TopicWindow:       topics.DefaultWindow,
		HistoryWindow:     10,
		Temperature:       0.7,
		MaxOutputTokens:   1000,
		CompletionTimeout: 30 * time.Second,
	}
}

// Orchestrator owns one conversation. Turns are serialized: a second
// Respond while one is running fails with ErrSessionBusy.
type Orchestrator struct {
	sessionID string
	userID    string
	deps      Deps
	settings  Settings
	log       *logrus.Entry

	turn sync.Mutex

	mu         sync.RWMutex
	session    models.ChatSession
	generation uint64

	pending sync.WaitGroup
}

// NewOrchestrator creates the orchestrator for one session
func NewOrchestrator(sessionID, userID string, deps Deps, settings Settings) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	o := &Orchestrator{
		sessionID: sessionID,
		userID:    userID,
		deps:      deps,
		settings:  settings,
		log:       logger.WithSession(deps.Logger, sessionID, userID),
	}
	o.session = o.freshSession()
	return o
}

// SessionID returns the id of the conversation
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

func (o *Orchestrator) freshSession() models.ChatSession {
	return models.ChatSession{
		Messages:     []models.ChatMessage{},
		Language:     o.settings.DefaultLanguage,
		Topics:       make(models.TopicSet),
		LastActivity: time.Now(),
	}
}

// Respond runs one turn for text. Completion failures are not returned as
// errors; they produce the localized apology with zero confidence.
func (o *Orchestrator) Respond(ctx context.Context, text string) (*models.AIResponse, error) {
	if !o.turn.TryLock() {
		return nil, ErrSessionBusy
	}
	defer o.turn.Unlock()

	start := time.Now()
	lang := language.Detect(text)

	o.mu.Lock()
	prior := make([]models.ChatMessage, len(o.session.Messages))
	copy(prior, o.session.Messages)
	o.session.Language = lang
	o.session.Messages = append(o.session.Messages, models.ChatMessage{
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: start,
	})
	o.session.Topics = topics.Extract(o.session.Messages, o.settings.TopicWindow)
	o.session.LastActivity = start
	history := o.recentLocked(o.settings.HistoryWindow)
	generation := o.generation
	o.mu.Unlock()

	contextScore := topics.ContextScore(text, prior, o.settings.TopicWindow)

	var items []models.ScoredItem
	if o.deps.Knowledge != nil {
		items = o.deps.Knowledge.Retrieve(ctx, text, lang, "")
	}

	req := models.CompletionRequest{
		Model:           o.settings.Model,
		SystemPrompt:    o.deps.Composer.Compose(lang, prompt.KnowledgeText(items)),
		Messages:        history,
		Temperature:     o.settings.Temperature,
		MaxOutputTokens: o.settings.MaxOutputTokens,
	}

	answer, err := o.complete(ctx, req)
	if err != nil {
		o.log.WithError(err).WithField("language", lang).Warn("Completion failed, sending apology")
		resp := &models.AIResponse{
			Content:               o.deps.Localizer.Get(lang.Code(), i18n.MsgApology, nil),
			Language:              lang,
			Confidence:            0,
			Sources:               []string{},
			ContextUnderstanding:  contextScore,
			ResponseTimeMs:        time.Since(start).Milliseconds(),
			RequiresHumanFollowup: true,
		}
		o.deps.Metrics.RecordChatTurn(string(lang), "error", 0, true, time.Since(start))
		return resp, nil
	}

	o.mu.Lock()
	// A clear during the turn starts a new conversation; the answer belongs to the old one
	if o.generation == generation {
		now := time.Now()
		o.session.Messages = append(o.session.Messages, models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   answer,
			Timestamp: now,
		})
		o.session.LastActivity = now
	}
	o.mu.Unlock()

	confidence := models.ClampScore(
		knowledge.RetrievalConfidence(len(items))*retrievalWeight + contextScore*contextWeight,
	)
	sources := make([]string, 0, len(items))
	for _, it := range items {
		sources = append(sources, it.Item.ID)
	}

	resp := &models.AIResponse{
		Content:               answer,
		Language:              lang,
		Confidence:            confidence,
		Sources:               sources,
		ContextUnderstanding:  contextScore,
		ResponseTimeMs:        time.Since(start).Milliseconds(),
		RequiresHumanFollowup: confidence < followupThreshold || requestsContact(text),
	}

	o.log.WithFields(logrus.Fields{
		"language":   lang,
		"confidence": resp.Confidence,
		"sources":    len(sources),
		"elapsed_ms": resp.ResponseTimeMs,
	}).Info("Assistant turn completed")
	o.deps.Metrics.RecordChatTurn(string(lang), "success", confidence, resp.RequiresHumanFollowup, time.Since(start))

	o.logInteraction(text, resp)
	return resp, nil
}

func (o *Orchestrator) complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	if o.settings.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.settings.CompletionTimeout)
		defer cancel()
	}
	answer, err := o.deps.AI.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return "", errors.New("empty completion")
	}
	return answer, nil
}

// logInteraction reports the turn without blocking the response
func (o *Orchestrator) logInteraction(userText string, resp *models.AIResponse) {
	if o.deps.Interactions == nil {
		return
	}
	in := &models.Interaction{
		SessionID:             o.sessionID,
		UserID:                o.userID,
		UserText:              userText,
		AssistantText:         resp.Content,
		Language:              resp.Language,
		ResponseTimeMs:        resp.ResponseTimeMs,
		Confidence:            resp.Confidence,
		Sources:               resp.Sources,
		RequiresHumanFollowup: resp.RequiresHumanFollowup,
		CreatedAt:             time.Now().UTC(),
	}

	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), logTimeout)
		defer cancel()
		if err := o.deps.Interactions.LogInteraction(ctx, in); err != nil {
			o.log.WithError(err).Warn("Failed to log interaction")
		}
	}()
}

// Wait blocks until pending interaction logs have been written
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// recentLocked returns the last n messages as completion turns
func (o *Orchestrator) recentLocked(n int) []models.CompletionMessage {
	msgs := o.session.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]models.CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, models.CompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// ClearContext resets history, language and topics. A running turn is not
// interrupted but its answer is not added to the new history.
func (o *Orchestrator) ClearContext() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session = o.freshSession()
	o.generation++
}

// History returns a copy of the message history
func (o *Orchestrator) History() []models.ChatMessage {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.ChatMessage, len(o.session.Messages))
	copy(out, o.session.Messages)
	return out
}

// Session returns a snapshot of the session state
func (o *Orchestrator) Session() models.ChatSession {
	o.mu.RLock()
	defer o.mu.RUnlock()
	snap := o.session
	snap.Messages = make([]models.ChatMessage, len(o.session.Messages))
	copy(snap.Messages, o.session.Messages)
	snap.Topics = make(models.TopicSet, len(o.session.Topics))
	for t := range o.session.Topics {
		snap.Topics.Add(t)
	}
	return snap
}

func requestsContact(text string) bool {
	normalized := language.Normalize(text)
	for _, m := range contactMarkers {
		if strings.Contains(normalized, m) {
			return true
		}
	}
	return false
}

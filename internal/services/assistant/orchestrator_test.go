package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/i18n"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/ruyacapital/ruya-assistant/internal/services/knowledge"
	"github.com/ruyacapital/ruya-assistant/internal/services/prompt"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

type fakeCompleter struct {
	mu       sync.Mutex
	answer   string
	err      error
	requests []models.CompletionRequest
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
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

func (f *fakeCompleter) lastRequest() models.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeRetriever struct {
	items []models.ScoredItem
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, lang models.Language, category string) []models.ScoredItem {
	return f.items
}

type failingSearcher struct{}

func (failingSearcher) Search(ctx context.Context, query string, opts knowledge.SearchOptions) ([]models.ScoredItem, error) {
	return nil, errors.New("knowledge store unreachable")
}

type recordingLogger struct {
	mu    sync.Mutex
	turns []models.Interaction
	err   error
}

func (r *recordingLogger) LogInteraction(ctx context.Context, in *models.Interaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, *in)
	return r.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func items(ids ...string) []models.ScoredItem {
	out := make([]models.ScoredItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.ScoredItem{
			Item:      models.KnowledgeItem{ID: id, Title: "Title " + id, Content: "Content " + id},
			Relevance: 0.9,
		})
	}
	return out
}

func newDeps(t *testing.T, ai Completer, kr KnowledgeRetriever) Deps {
	t.Helper()
	loc, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "ar", Languages: []string{"ar", "en"}})
	require.NoError(t, err)
	return Deps{
		Knowledge: kr,
		AI:        ai,
		Composer:  prompt.NewComposer(loc),
		Localizer: loc,
		Logger:    quietLogger(),
	}
}

func TestRespond_Success(t *testing.T) {
	ai := &fakeCompleter{answer: "نقدم وكلاء ذكاء اصطناعي مخصصين."}
	kr := &fakeRetriever{items: items("services-ar", "company-ar")}
	o := NewOrchestrator("s1", "", newDeps(t, ai, kr), DefaultSettings())

	text := "ما هي خدمات رؤيا كابيتال؟"
	resp, err := o.Respond(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, ai.answer, resp.Content)
	assert.Equal(t, models.LanguageArabic, resp.Language)
	assert.Equal(t, []string{"services-ar", "company-ar"}, resp.Sources)
	assert.Equal(t, 0.5, resp.ContextUnderstanding)
	// 2 items: 0.4*0.6 + 0.5*0.4
	assert.InDelta(t, 0.44, resp.Confidence, 1e-9)
	assert.True(t, resp.RequiresHumanFollowup, "confidence below 0.5")
	assert.GreaterOrEqual(t, resp.ResponseTimeMs, int64(0))

	history := o.History()
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, text, history[0].Content)
	assert.Equal(t, models.RoleAssistant, history[1].Role)

	session := o.Session()
	assert.True(t, session.Topics.Has(models.TopicServices))
	assert.Equal(t, models.LanguageArabic, session.Language)

	req := ai.lastRequest()
	assert.Contains(t, req.SystemPrompt, "Title services-ar\nContent services-ar")
	assert.InDelta(t, 0.7, req.Temperature, 1e-6)
	assert.Equal(t, 1000, req.MaxOutputTokens)
	want := []models.CompletionMessage{{Role: models.RoleUser, Content: text}}
	if diff := cmp.Diff(want, req.Messages); diff != "" {
		t.Errorf("completion messages mismatch (-want +got):\n%s", diff)
	}
}

func TestRespond_HighConfidenceNoFollowup(t *testing.T) {
	ai := &fakeCompleter{answer: "We build AI agents."}
	kr := &fakeRetriever{items: items("a", "b", "c", "d", "e")}
	o := NewOrchestrator("s1", "", newDeps(t, ai, kr), DefaultSettings())

	resp, err := o.Respond(context.Background(), "What services do you offer?")
	require.NoError(t, err)
	// 1.0*0.6 + 0.5*0.4
	assert.InDelta(t, 0.8, resp.Confidence, 1e-9)
	assert.False(t, resp.RequiresHumanFollowup)
	assert.Equal(t, models.LanguageEnglish, resp.Language)
}

func TestRespond_RetrievalFailureDegrades(t *testing.T) {
	ai := &fakeCompleter{answer: "An AI agent is software that acts on your behalf."}
	retriever := knowledge.NewRetriever(failingSearcher{}, quietLogger())
	o := NewOrchestrator("s1", "", newDeps(t, ai, retriever), DefaultSettings())

	resp, err := o.Respond(context.Background(), "What is an AI agent?")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, ai.answer, resp.Content)
	assert.Empty(t, resp.Sources)
	assert.InDelta(t, 0.2, resp.Confidence, 1e-9)
	assert.True(t, resp.RequiresHumanFollowup)
	assert.Contains(t, ai.lastRequest().SystemPrompt, "Ruya Capital is a consultancy", "falls back to the business description")
}

func TestRespond_ContactRequestForcesFollowup(t *testing.T) {
	ai := &fakeCompleter{answer: "يسعدنا تواصلك معنا."}
	kr := &fakeRetriever{items: items("a", "b", "c", "d", "e")}
	o := NewOrchestrator("s1", "", newDeps(t, ai, kr), DefaultSettings())

	resp, err := o.Respond(context.Background(), "كيف أتواصل مع الفريق؟")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.Confidence, 0.5)
	assert.True(t, resp.RequiresHumanFollowup)

	resp, err = o.Respond(context.Background(), "Please CONTACT me tomorrow")
	require.NoError(t, err)
	assert.True(t, resp.RequiresHumanFollowup)
}

func TestRequestsContact(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Please CONTACT me", true},
		{"أريد التواصل مع مستشار", true},
		{"أريد التـواصل مع مستشار", true},
		{"كيف أتَوَاصَل معكم؟", true},
		{"What services do you offer?", false},
		{"ما هي خدماتكم؟", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, requestsContact(tt.text))
		})
	}
}

func TestRespond_TopicOverlapAcrossTurns(t *testing.T) {
	ai := &fakeCompleter{answer: "Our plans start small."}
	o := NewOrchestrator("s1", "", newDeps(t, ai, &fakeRetriever{}), DefaultSettings())

	first, err := o.Respond(context.Background(), "What are your prices?")
	require.NoError(t, err)
	assert.Equal(t, 0.5, first.ContextUnderstanding)

	second, err := o.Respond(context.Background(), "Is there a monthly subscription?")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, second.ContextUnderstanding, 1e-9)
	assert.InDelta(t, 0.32, second.Confidence, 1e-9)
}

func TestRespond_CompletionFailureApologizes(t *testing.T) {
	ai := &fakeCompleter{err: errors.New("upstream timeout")}
	kr := &fakeRetriever{items: items("a", "b", "c")}
	interactions := &recordingLogger{}
	deps := newDeps(t, ai, kr)
	deps.Interactions = interactions
	o := NewOrchestrator("s1", "", deps, DefaultSettings())

	resp, err := o.Respond(context.Background(), "What is an AI agent?")
	require.NoError(t, err)
	assert.Equal(t, deps.Localizer.Get("en", i18n.MsgApology, nil), resp.Content)
	assert.Equal(t, 0.0, resp.Confidence)
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, resp.Sources)
	assert.True(t, resp.RequiresHumanFollowup)
	assert.GreaterOrEqual(t, resp.ResponseTimeMs, int64(0))

	history := o.History()
	require.Len(t, history, 1, "assistant message only appended on success")
	assert.Equal(t, models.RoleUser, history[0].Role)

	o.Wait()
	assert.Empty(t, interactions.turns)
}

func TestRespond_EmptyCompletionApologizes(t *testing.T) {
	ai := &fakeCompleter{answer: "   "}
	o := NewOrchestrator("s1", "", newDeps(t, ai, nil), DefaultSettings())

	resp, err := o.Respond(context.Background(), "مرحبا")
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "عذرا")
	assert.Len(t, o.History(), 1)
}

func TestRespond_HistoryWindow(t *testing.T) {
	ai := &fakeCompleter{answer: "ok"}
	o := NewOrchestrator("s1", "", newDeps(t, ai, nil), DefaultSettings())

	for i := 0; i < 7; i++ {
		_, err := o.Respond(context.Background(), fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}

	req := ai.lastRequest()
	require.Len(t, req.Messages, 10)
	assert.Equal(t, models.CompletionMessage{Role: models.RoleUser, Content: "question 6"}, req.Messages[9])
	assert.Equal(t, models.CompletionMessage{Role: models.RoleAssistant, Content: "ok"}, req.Messages[0])
	assert.Len(t, o.History(), 14)
}

func TestRespond_HistoryGrowsByTwo(t *testing.T) {
	ai := &fakeCompleter{answer: "ok"}
	o := NewOrchestrator("s1", "", newDeps(t, ai, nil), DefaultSettings())

	for i := 0; i < 3; i++ {
		before := len(o.History())
		_, err := o.Respond(context.Background(), "hello")
		require.NoError(t, err)
		after := o.History()
		require.Len(t, after, before+2)
		assert.Equal(t, models.RoleUser, after[before].Role)
		assert.Equal(t, models.RoleAssistant, after[before+1].Role)
	}
}

func TestRespond_ScoresStayInRange(t *testing.T) {
	inputs := []string{
		"", "and also what about pricing and contact and the company services?",
		"أيضا ماذا عن الأسعار والتواصل مع الشركة وخدماتكم", "hello", "1234",
	}
	for n := 0; n <= 7; n++ {
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("item-%d", i)
		}
		o := NewOrchestrator("s", "", newDeps(t, &fakeCompleter{answer: "ok"}, &fakeRetriever{items: items(ids...)}), DefaultSettings())
		for _, in := range inputs {
			resp, err := o.Respond(context.Background(), in)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, resp.Confidence, 0.0)
			assert.LessOrEqual(t, resp.Confidence, 1.0)
			assert.GreaterOrEqual(t, resp.ContextUnderstanding, 0.0)
			assert.LessOrEqual(t, resp.ContextUnderstanding, 1.0)
		}
	}
}

func TestRespond_BusySession(t *testing.T) {
	ai := &fakeCompleter{answer: "ok", started: make(chan struct{}), release: make(chan struct{})}
	o := NewOrchestrator("s1", "", newDeps(t, ai, nil), DefaultSettings())

	done := make(chan error)
	go func() {
		_, err := o.Respond(context.Background(), "first")
		done <- err
	}()
	<-ai.started

	_, err := o.Respond(context.Background(), "second")
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(ai.release)
	require.NoError(t, <-done)

	history := o.History()
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
}

func TestClearContext(t *testing.T) {
	ai := &fakeCompleter{answer: "ok"}
	o := NewOrchestrator("s1", "", newDeps(t, ai, nil), DefaultSettings())

	_, err := o.Respond(context.Background(), "What are your prices?")
	require.NoError(t, err)
	require.Equal(t, models.LanguageEnglish, o.Session().Language)

	o.ClearContext()
	once := o.Session()
	o.ClearContext()
	twice := o.Session()

	ignoreActivity := cmpopts.IgnoreFields(models.ChatSession{}, "LastActivity")
	if diff := cmp.Diff(once, twice, ignoreActivity); diff != "" {
		t.Errorf("clearing twice differs from clearing once (-once +twice):\n%s", diff)
	}
	assert.Empty(t, twice.Messages)
	assert.Empty(t, twice.Topics)
	assert.Equal(t, models.LanguageArabic, twice.Language)
}

func TestClearContext_DuringTurn(t *testing.T) {
	ai := &fakeCompleter{answer: "late answer", started: make(chan struct{}), release: make(chan struct{})}
	o := NewOrchestrator("s1", "", newDeps(t, ai, nil), DefaultSettings())

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := o.Respond(context.Background(), "hello")
		assert.NoError(t, err)
		assert.Equal(t, "late answer", resp.Content)
	}()
	<-ai.started
	o.ClearContext()
	close(ai.release)
	<-done

	assert.Empty(t, o.History())
}

func TestRespond_LogsInteraction(t *testing.T) {
	ai := &fakeCompleter{answer: "ok"}
	interactions := &recordingLogger{}
	deps := newDeps(t, ai, &fakeRetriever{items: items("a")})
	deps.Interactions = interactions
	o := NewOrchestrator("s1", "user-7", deps, DefaultSettings())

	resp, err := o.Respond(context.Background(), "hello")
	require.NoError(t, err)
	o.Wait()

	require.Len(t, interactions.turns, 1)
	got := interactions.turns[0]
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "user-7", got.UserID)
	assert.Equal(t, "hello", got.UserText)
	assert.Equal(t, "ok", got.AssistantText)
	assert.Equal(t, resp.Confidence, got.Confidence)
	assert.Equal(t, []string{"a"}, got.Sources)
}

func TestRespond_LoggingFailureIsInvisible(t *testing.T) {
	ai := &fakeCompleter{answer: "ok"}
	deps := newDeps(t, ai, nil)
	deps.Interactions = &recordingLogger{err: errors.New("db down")}
	o := NewOrchestrator("s1", "", deps, DefaultSettings())

	resp, err := o.Respond(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	o.Wait()
}

func TestRespond_CompletionTimeout(t *testing.T) {
	settings := DefaultSettings()
	settings.CompletionTimeout = 10 * time.Millisecond
	o := NewOrchestrator("s1", "", newDeps(t, ctxCompleter{}, nil), settings)

	resp, err := o.Respond(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, resp.RequiresHumanFollowup)
	assert.Equal(t, 0.0, resp.Confidence)
}

// ctxCompleter waits for its context to end
type ctxCompleter struct{}

func (ctxCompleter) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Models.Default = "gpt-4o-mini"
	cfg.Assistant = config.AssistantConfig{
		DefaultLanguage: "en", TopicWindow: 3, HistoryWindow: 6,
		Temperature: 0.2, MaxOutputTokens: 500, CompletionTimeout: time.Second,
	}
	s := SettingsFromConfig(cfg)
	assert.Equal(t, models.LanguageEnglish, s.DefaultLanguage)
	assert.Equal(t, "gpt-4o-mini", s.Model)
	assert.Equal(t, 6, s.HistoryWindow)

	cfg.Assistant.DefaultLanguage = "fr"
	assert.Equal(t, models.LanguageArabic, SettingsFromConfig(cfg).DefaultLanguage)
}

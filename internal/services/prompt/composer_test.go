package prompt

import (
	"testing"

	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/i18n"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newComposer(t *testing.T) (*Composer, *i18n.Localizer) {
	t.Helper()
	loc, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "ar", Languages: []string{"ar", "en"}})
	require.NoError(t, err)
	return NewComposer(loc), loc
}

func TestComposer_Compose(t *testing.T) {
	c, loc := newComposer(t)

	t.Run("english with knowledge", func(t *testing.T) {
		knowledge := "Pricing\nStarter plan details."
		got := c.Compose(models.LanguageEnglish, knowledge)

		assert.Contains(t, got, loc.Get("en", i18n.MsgPromptLanguage, nil))
		assert.Contains(t, got, loc.Get("en", i18n.MsgPromptGrounding, nil))
		assert.Contains(t, got, loc.Get("en", i18n.MsgPromptHandoff, nil))
		assert.Contains(t, got, loc.Get("en", i18n.MsgPromptNoFabrication, nil))
		assert.Contains(t, got, knowledge)
		assert.NotContains(t, got, loc.Get("en", i18n.MsgFallbackBusiness, nil))
	})

	t.Run("arabic falls back to business description", func(t *testing.T) {
		got := c.Compose(models.LanguageArabic, "  ")
		assert.Contains(t, got, loc.Get("ar", i18n.MsgPromptLanguage, nil))
		assert.Contains(t, got, loc.Get("ar", i18n.MsgFallbackBusiness, nil))
		assert.NotContains(t, got, "English")
	})
}

func TestKnowledgeText(t *testing.T) {
	assert.Equal(t, "", KnowledgeText(nil))

	items := []models.ScoredItem{
		{Item: models.KnowledgeItem{ID: "a", Title: "Services", Content: "We build agents."}},
		{Item: models.KnowledgeItem{ID: "b", Title: "Pricing", Content: "Starter plan."}},
	}
	assert.Equal(t, "Services\nWe build agents.\n\nPricing\nStarter plan.", KnowledgeText(items))
}

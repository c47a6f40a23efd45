// Package prompt builds the system instruction sent with every completion.
package prompt

import (
	"strings"

	"github.com/ruyacapital/ruya-assistant/internal/i18n"
	"github.com/ruyacapital/ruya-assistant/internal/models"
)

// Composer renders system prompts in the conversation language
type Composer struct {
	localizer *i18n.Localizer
}

// NewComposer creates a composer backed by the localized message bundle
func NewComposer(localizer *i18n.Localizer) *Composer {
	return &Composer{localizer: localizer}
}

// Compose returns the system instruction for lang. An empty knowledgeText is
// replaced with the generic business description.
func (c *Composer) Compose(lang models.Language, knowledgeText string) string {
	code := lang.Code()
	knowledgeText = strings.TrimSpace(knowledgeText)
	if knowledgeText == "" {
		knowledgeText = c.localizer.Get(code, i18n.MsgFallbackBusiness, nil)
	}

	var b strings.Builder
	for _, id := range []string{
		i18n.MsgPromptRole,
		i18n.MsgPromptLanguage,
		i18n.MsgPromptGrounding,
		i18n.MsgPromptHandoff,
		i18n.MsgPromptNoFabrication,
	} {
		b.WriteString(c.localizer.Get(code, id, nil))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(c.localizer.Get(code, i18n.MsgKnowledgeHeader, nil))
	b.WriteString("\n")
	b.WriteString(knowledgeText)
	return b.String()
}

// KnowledgeText joins title and content of each item, separated by blank lines
func KnowledgeText(items []models.ScoredItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, strings.TrimSpace(it.Item.Title+"\n"+it.Item.Content))
	}
	return strings.Join(parts, "\n\n")
}

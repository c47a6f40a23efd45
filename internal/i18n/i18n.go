package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/ruyacapital/ruya-assistant/internal/config"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer from the embedded message files
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	defaultTag, err := language.Parse(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", cfg.DefaultLanguage, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	// Load language files
	for _, lang := range cfg.Languages {
		if _, err := bundle.LoadMessageFileFS(locales, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang, cfg.DefaultLanguage)
	}
	if _, ok := localizers[cfg.DefaultLanguage]; !ok {
		return nil, fmt.Errorf("default language %s is not in the language list", cfg.DefaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgPromptRole          = "prompt_role"
	MsgPromptLanguage      = "prompt_language"
	MsgPromptGrounding     = "prompt_grounding"
	MsgPromptHandoff       = "prompt_handoff"
	MsgPromptNoFabrication = "prompt_no_fabrication"
	MsgKnowledgeHeader     = "prompt_knowledge_header"
	MsgFallbackBusiness    = "fallback_business"
	MsgApology             = "apology"
	MsgWelcome             = "welcome"
	MsgHelp                = "help"
	MsgContextCleared      = "context_cleared"
	MsgRateLimitExceeded   = "rate_limit_exceeded"
	MsgSessionBusy         = "session_busy"
	MsgSessionEnded        = "session_ended"
	MsgInvalidInput        = "invalid_input"
	MsgUnknownCommand      = "unknown_command"
)

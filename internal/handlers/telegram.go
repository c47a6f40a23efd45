package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ruyacapital/ruya-assistant/internal/i18n"
	"github.com/ruyacapital/ruya-assistant/internal/middleware"
	"github.com/ruyacapital/ruya-assistant/internal/services/assistant"
	"github.com/ruyacapital/ruya-assistant/internal/services/language"
	applog "github.com/ruyacapital/ruya-assistant/pkg/logger"
	"github.com/ruyacapital/ruya-assistant/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// TelegramHandler answers Telegram chats with the assistant. Each chat has
// its own session.
type TelegramHandler struct {
	bot             *tgbotapi.BotAPI
	sessions        *Sessions
	rateLimiter     middleware.RateLimiter
	security        *middleware.SecurityMiddleware
	localizer       *i18n.Localizer
	metrics         *middleware.Metrics
	defaultLanguage string
	logger          *logrus.Logger

	mu    sync.Mutex
	chats map[int64]string
	wg    sync.WaitGroup
}

// NewTelegramHandler creates a new Telegram handler
func NewTelegramHandler(
	bot *tgbotapi.BotAPI,
	sessions *Sessions,
	rateLimiter middleware.RateLimiter,
	security *middleware.SecurityMiddleware,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	defaultLanguage string,
	logger *logrus.Logger,
) *TelegramHandler {
	return &TelegramHandler{
		bot:             bot,
		sessions:        sessions,
		rateLimiter:     rateLimiter,
		security:        security,
		localizer:       localizer,
		metrics:         metrics,
		defaultLanguage: defaultLanguage,
		logger:          logger,
		chats:           make(map[int64]string),
	}
}

// Run long-polls for updates until ctx is cancelled
func (h *TelegramHandler) Run(ctx context.Context, timeout int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	updates := h.bot.GetUpdatesChan(u)
	applog.WithChannel(h.logger, "telegram").WithField("username", h.bot.Self.UserName).Info("Telegram polling started")

	defer func() {
		h.bot.StopReceivingUpdates()
		h.wg.Wait()
		h.logger.Info("Telegram polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			h.wg.Add(1)
			go func(update tgbotapi.Update) {
				defer h.wg.Done()
				if err := h.HandleUpdate(ctx, &update); err != nil {
					h.logger.WithError(err).Error("Failed to handle update")
				}
			}(update)
		}
	}
}

// HandleUpdate processes a single update
func (h *TelegramHandler) HandleUpdate(ctx context.Context, update *tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.ID == h.bot.Self.ID {
		return nil
	}
	h.metrics.RecordChannelMessage("telegram")

	if msg.IsCommand() {
		return h.handleCommand(ctx, msg)
	}
	if !h.shouldRespond(msg) {
		return nil
	}

	text := h.cleanMessage(msg.Text)
	lang := h.replyLanguage(msg, text)

	if !h.rateLimiter.Allow(fmt.Sprintf("tg:%d", msg.From.ID)) {
		h.metrics.RecordRateLimitExceeded("telegram")
		return h.reply(msg, h.localizer.Get(lang, i18n.MsgRateLimitExceeded, nil))
	}
	if err := h.security.ValidateInput(text); err != nil {
		h.logger.WithError(err).Warn("Input validation failed")
		return h.reply(msg, h.localizer.Get(lang, i18n.MsgInvalidInput, nil))
	}

	o, err := h.chatSession(ctx, msg)
	if err != nil {
		return err
	}

	if _, err := h.bot.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		h.logger.WithError(err).Debug("Failed to send typing action")
	}

	resp, err := o.Respond(ctx, text)
	if errors.Is(err, assistant.ErrSessionBusy) {
		return h.reply(msg, h.localizer.Get(lang, i18n.MsgSessionBusy, nil))
	}
	if err != nil {
		return err
	}
	return h.sendResponse(msg, resp.Content)
}

func (h *TelegramHandler) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	lang := h.replyLanguage(msg, "")

	switch msg.Command() {
	case "start":
		h.mu.Lock()
		delete(h.chats, msg.Chat.ID)
		h.mu.Unlock()
		if _, err := h.chatSession(ctx, msg); err != nil {
			return err
		}
		return h.reply(msg, h.localizer.Get(lang, i18n.MsgWelcome, nil))
	case "clear":
		o, err := h.chatSession(ctx, msg)
		if err != nil {
			return err
		}
		o.ClearContext()
		return h.reply(msg, h.localizer.Get(lang, i18n.MsgContextCleared, nil))
	case "help":
		return h.reply(msg, h.localizer.Get(lang, i18n.MsgHelp, nil))
	default:
		return h.reply(msg, h.localizer.Get(lang, i18n.MsgUnknownCommand, nil))
	}
}

// chatSession returns the chat's orchestrator, starting a session when the
// chat has none or its previous one is gone
func (h *TelegramHandler) chatSession(ctx context.Context, msg *tgbotapi.Message) (*assistant.Orchestrator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if token, ok := h.chats[msg.Chat.ID]; ok {
		o, err := h.sessions.Resolve(ctx, token)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, assistant.ErrSessionNotFound) && !errors.Is(err, errSessionEnded) {
			return nil, err
		}
	}

	o, err := h.sessions.Start(ctx, fmt.Sprintf("tg:%d", msg.From.ID))
	if err != nil {
		return nil, fmt.Errorf("start telegram session: %w", err)
	}
	h.chats[msg.Chat.ID] = o.SessionID()
	return o, nil
}

func (h *TelegramHandler) shouldRespond(msg *tgbotapi.Message) bool {
	// Always respond in private chat
	if msg.Chat.IsPrivate() {
		return true
	}
	botUsername := "@" + h.bot.Self.UserName
	if strings.Contains(strings.ToLower(msg.Text), strings.ToLower(botUsername)) {
		return true
	}
	return msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.ID == h.bot.Self.ID
}

func (h *TelegramHandler) cleanMessage(text string) string {
	// Remove bot mention
	botUsername := "@" + h.bot.Self.UserName
	return strings.TrimSpace(strings.ReplaceAll(text, botUsername, ""))
}

// replyLanguage picks the language of text, else the user's client language
func (h *TelegramHandler) replyLanguage(msg *tgbotapi.Message, text string) string {
	if text != "" {
		return language.Detect(text).Code()
	}
	if code := strings.ToLower(msg.From.LanguageCode); strings.HasPrefix(code, "ar") {
		return "ar"
	} else if strings.HasPrefix(code, "en") {
		return "en"
	}
	return h.defaultLanguage
}

func (h *TelegramHandler) reply(msg *tgbotapi.Message, text string) error {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := h.bot.Send(out); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (h *TelegramHandler) sendResponse(msg *tgbotapi.Message, response string) error {
	out := tgbotapi.NewMessage(msg.Chat.ID, markdown.ToTelegramHTML(response))
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyToMessageID = msg.MessageID

	if _, err := h.bot.Send(out); err != nil {
		// If HTML parsing fails, try plain text
		h.logger.WithError(err).Warn("Failed to send HTML response, trying plain text")
		out.ParseMode = ""
		out.Text = response
		if _, err := h.bot.Send(out); err != nil {
			return fmt.Errorf("send response: %w", err)
		}
	}
	return nil
}

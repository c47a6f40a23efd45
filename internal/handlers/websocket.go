package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ruyacapital/ruya-assistant/internal/i18n"
	"github.com/ruyacapital/ruya-assistant/internal/middleware"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/ruyacapital/ruya-assistant/internal/services/assistant"
	"github.com/ruyacapital/ruya-assistant/internal/services/language"
	applog "github.com/ruyacapital/ruya-assistant/pkg/logger"
	"github.com/ruyacapital/ruya-assistant/pkg/markdown"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxMessage   = 16 << 10
)

// WSIncoming is a chat message sent by the widget
type WSIncoming struct {
	Text string `json:"text"`
}

// WSResponse is sent back to the widget
type WSResponse struct {
	Type        string             `json:"type"` // connected, response, error, ended
	SessionID   string             `json:"session_id"`
	Text        string             `json:"text,omitempty"`
	ContentHTML string             `json:"content_html,omitempty"`
	Response    *models.AIResponse `json:"response,omitempty"`
}

// WSHandler serves the chat widget over a WebSocket
type WSHandler struct {
	sessions       *Sessions
	rateLimiter    middleware.RateLimiter
	security       *middleware.SecurityMiddleware
	localizer      *i18n.Localizer
	metrics        *middleware.Metrics
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
	logger         *logrus.Logger
}

// NewWSHandler creates the WebSocket handler
func NewWSHandler(
	sessions *Sessions,
	rateLimiter middleware.RateLimiter,
	security *middleware.SecurityMiddleware,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	allowedOrigins []string,
	logger *logrus.Logger,
) *WSHandler {
	origins := make(map[string]bool)
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	h := &WSHandler{
		sessions:       sessions,
		rateLimiter:    rateLimiter,
		security:       security,
		localizer:      localizer,
		metrics:        metrics,
		allowedOrigins: origins,
		logger:         logger,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // allow non-browser clients
	}
	return h.allowedOrigins[origin]
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Resolve or start the session before upgrading so failures are plain HTTP
	var (
		o   *assistant.Orchestrator
		err error
	)
	if id := r.URL.Query().Get("session_id"); id != "" {
		o, err = h.sessions.Resolve(ctx, id)
	} else {
		o, err = h.sessions.Start(ctx, r.Header.Get("X-User-ID"))
	}
	switch {
	case errors.Is(err, assistant.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, errSessionEnded):
		http.Error(w, err.Error(), http.StatusGone)
		return
	case err != nil:
		h.logger.WithError(err).Error("Failed to open WebSocket session")
		http.Error(w, "failed to open session", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessage)

	sessionID := o.SessionID()
	log := applog.WithChannel(h.logger, "websocket").WithField("session_id", sessionID)

	if err := h.write(conn, WSResponse{Type: "connected", SessionID: sessionID}); err != nil {
		log.WithError(err).Warn("Failed to send connected message")
		return
	}

	// Turns run inline so one connection never races its own session
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("WebSocket closed unexpectedly")
			}
			return
		}
		h.metrics.RecordChannelMessage("websocket")

		var incoming WSIncoming
		if err := json.Unmarshal(message, &incoming); err != nil {
			h.write(conn, WSResponse{
				Type:      "error",
				SessionID: sessionID,
				Text:      "Invalid message format. Send JSON with a 'text' field.",
			})
			continue
		}

		lang := language.Detect(incoming.Text).Code()
		if err := h.security.ValidateInput(incoming.Text); err != nil {
			h.write(conn, WSResponse{Type: "error", SessionID: sessionID, Text: h.localizer.Get(lang, i18n.MsgInvalidInput, nil)})
			continue
		}
		if !h.rateLimiter.Allow(sessionID) {
			h.metrics.RecordRateLimitExceeded("websocket")
			h.write(conn, WSResponse{Type: "error", SessionID: sessionID, Text: h.localizer.Get(lang, i18n.MsgRateLimitExceeded, nil)})
			continue
		}

		// The session may have ended or expired since the upgrade
		o, err := h.sessions.Resolve(ctx, sessionID)
		if err != nil {
			if errors.Is(err, errSessionEnded) || errors.Is(err, assistant.ErrSessionNotFound) {
				h.write(conn, WSResponse{Type: "ended", SessionID: sessionID, Text: h.localizer.Get(lang, i18n.MsgSessionEnded, nil)})
				return
			}
			log.WithError(err).Error("Failed to resolve session")
			h.write(conn, WSResponse{Type: "error", SessionID: sessionID, Text: h.localizer.Get(lang, i18n.MsgApology, nil)})
			continue
		}

		resp, err := o.Respond(ctx, incoming.Text)
		if err != nil {
			text := h.localizer.Get(lang, i18n.MsgSessionBusy, nil)
			if !errors.Is(err, assistant.ErrSessionBusy) {
				log.WithError(err).Error("Failed to respond")
				text = h.localizer.Get(lang, i18n.MsgApology, nil)
			}
			h.write(conn, WSResponse{Type: "error", SessionID: sessionID, Text: text})
			continue
		}

		if err := h.write(conn, WSResponse{
			Type:        "response",
			SessionID:   sessionID,
			ContentHTML: markdown.ToHTML(resp.Content),
			Response:    resp,
		}); err != nil {
			log.WithError(err).Warn("Failed to write to WebSocket")
			return
		}
	}
}

func (h *WSHandler) write(conn *websocket.Conn, msg WSResponse) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}

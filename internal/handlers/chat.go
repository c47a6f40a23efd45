package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/ruyacapital/ruya-assistant/internal/i18n"
	"github.com/ruyacapital/ruya-assistant/internal/middleware"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/ruyacapital/ruya-assistant/internal/services/assistant"
	"github.com/ruyacapital/ruya-assistant/internal/services/knowledge"
	"github.com/ruyacapital/ruya-assistant/internal/services/language"
	"github.com/ruyacapital/ruya-assistant/internal/services/storage"
	"github.com/ruyacapital/ruya-assistant/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// maxInteractionsLimit matches the per-session cap of the Redis backend
const maxInteractionsLimit = 200

// ChatHandler serves the JSON API used by the website's chat panel
type ChatHandler struct {
	sessions       *Sessions
	searcher       knowledge.Searcher
	rateLimiter    middleware.RateLimiter
	security       *middleware.SecurityMiddleware
	localizer      *i18n.Localizer
	metrics        *middleware.Metrics
	allowedOrigins map[string]bool
	trustedProxies []netip.Prefix
	logger         *logrus.Logger
}

// NewChatHandler creates the HTTP API handler
func NewChatHandler(
	sessions *Sessions,
	searcher knowledge.Searcher,
	rateLimiter middleware.RateLimiter,
	security *middleware.SecurityMiddleware,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	allowedOrigins []string,
	logger *logrus.Logger,
) *ChatHandler {
	origins := make(map[string]bool)
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &ChatHandler{
		sessions:       sessions,
		searcher:       searcher,
		rateLimiter:    rateLimiter,
		security:       security,
		localizer:      localizer,
		metrics:        metrics,
		allowedOrigins: origins,
		logger:         logger,
	}
}

// Register mounts the API routes on router
func (h *ChatHandler) Register(router *mux.Router) {
	router.Use(h.cors)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", h.startSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/messages", h.postMessage).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/history", h.history).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/context", h.clearContext).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/end", h.endSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/interactions", h.interactions).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/knowledge/search", h.searchKnowledge).Methods(http.MethodGet, http.MethodOptions)
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	*models.AIResponse
	SessionID   string `json:"session_id"`
	ContentHTML string `json:"content_html"`
}

type historyResponse struct {
	SessionID string               `json:"session_id"`
	Language  models.Language      `json:"language"`
	Topics    []models.Topic       `json:"topics"`
	Messages  []models.ChatMessage `json:"messages"`
}

type endRequest struct {
	Rating *int `json:"rating"`
}

func (h *ChatHandler) startSession(w http.ResponseWriter, r *http.Request) {
	o, err := h.sessions.Start(r.Context(), r.Header.Get("X-User-ID"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to start session")
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": o.SessionID()})
}

func (h *ChatHandler) postMessage(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordChannelMessage("http")

	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	lang := language.Detect(req.Message).Code()

	if err := h.security.ValidateInput(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, h.localizer.Get(lang, i18n.MsgInvalidInput, nil))
		return
	}
	if !h.rateLimiter.Allow(h.clientIP(r)) {
		h.metrics.RecordRateLimitExceeded("http")
		writeError(w, http.StatusTooManyRequests, h.localizer.Get(lang, i18n.MsgRateLimitExceeded, nil))
		return
	}

	id := mux.Vars(r)["id"]
	o, ok := h.resolve(w, r, id)
	if !ok {
		return
	}

	resp, err := o.Respond(r.Context(), req.Message)
	if errors.Is(err, assistant.ErrSessionBusy) {
		writeError(w, http.StatusConflict, h.localizer.Get(lang, i18n.MsgSessionBusy, nil))
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("session_id", id).Error("Failed to respond")
		writeError(w, http.StatusInternalServerError, "failed to respond")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		AIResponse:  resp,
		SessionID:   id,
		ContentHTML: markdown.ToHTML(resp.Content),
	})
}

func (h *ChatHandler) history(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	o, ok := h.resolve(w, r, id)
	if !ok {
		return
	}
	session := o.Session()
	writeJSON(w, http.StatusOK, historyResponse{
		SessionID: id,
		Language:  session.Language,
		Topics:    session.Topics.Slice(),
		Messages:  session.Messages,
	})
}

type interactionsResponse struct {
	SessionID    string               `json:"session_id"`
	Interactions []models.Interaction `json:"interactions"`
}

func (h *ChatHandler) interactions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxInteractionsLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxInteractionsLimit))
			return
		}
		limit = n
	}

	list, err := h.sessions.Interactions(r.Context(), id, limit)
	switch {
	case errors.Is(err, assistant.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		h.logger.WithError(err).WithField("session_id", id).Error("Failed to list interactions")
		writeError(w, http.StatusInternalServerError, "failed to list interactions")
		return
	}
	if list == nil {
		list = []models.Interaction{}
	}
	writeJSON(w, http.StatusOK, interactionsResponse{SessionID: id, Interactions: list})
}

func (h *ChatHandler) clearContext(w http.ResponseWriter, r *http.Request) {
	o, ok := h.resolve(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	o.ClearContext()
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) endSession(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	err := h.sessions.End(r.Context(), mux.Vars(r)["id"], req.Rating)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, storage.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, assistant.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrSessionEnded):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.WithError(err).Error("Failed to end session")
		writeError(w, http.StatusInternalServerError, "failed to end session")
	}
}

func (h *ChatHandler) searchKnowledge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}

	opts := knowledge.SearchOptions{Category: q.Get("category"), Limit: 5}
	if lang := q.Get("lang"); lang != "" {
		parsed, ok := models.ParseLanguage(lang)
		if !ok {
			writeError(w, http.StatusBadRequest, "lang must be ar or en")
			return
		}
		opts.Language = parsed.Code()
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit <= 50 {
		opts.Limit = limit
	}

	results, err := h.searcher.Search(r.Context(), query, opts)
	if err != nil {
		h.logger.WithError(err).Warn("Knowledge search failed")
		results = []models.ScoredItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// resolve writes the error response itself when the session is unusable
func (h *ChatHandler) resolve(w http.ResponseWriter, r *http.Request, id string) (*assistant.Orchestrator, bool) {
	o, err := h.sessions.Resolve(r.Context(), id)
	switch {
	case err == nil:
		return o, true
	case errors.Is(err, assistant.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errSessionEnded):
		writeError(w, http.StatusGone, err.Error())
	default:
		h.logger.WithError(err).WithField("session_id", id).Error("Failed to resolve session")
		writeError(w, http.StatusInternalServerError, "failed to load session")
	}
	return nil, false
}

func (h *ChatHandler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(h.allowedOrigins) == 0 || h.allowedOrigins[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TrustProxies accepts X-Forwarded-For only from the given addresses or
// CIDR ranges. Without trusted proxies the header is ignored.
func (h *ChatHandler) TrustProxies(proxies []string) error {
	prefixes := make([]netip.Prefix, 0, len(proxies))
	for _, p := range proxies {
		if prefix, err := netip.ParsePrefix(p); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			return fmt.Errorf("invalid trusted proxy %q", p)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	h.trustedProxies = prefixes
	return nil
}

func (h *ChatHandler) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range h.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the remote host. Behind a trusted proxy it walks
// X-Forwarded-For from the right and returns the first untrusted hop.
func (h *ChatHandler) clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if !h.trusted(ip) {
		return ip
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !h.trusted(hop) {
			return hop
		}
		ip = hop
	}
	return ip
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

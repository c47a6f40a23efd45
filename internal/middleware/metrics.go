package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Chat metrics
	chatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_chat_turns_total",
		Help: "Total number of chat turns",
	}, []string{"language", "outcome"})

	chatTurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_chat_turn_duration_seconds",
		Help:    "End-to-end duration of chat turns",
		Buckets: prometheus.DefBuckets,
	}, []string{"language"})

	responseConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assistant_response_confidence",
		Help:    "Heuristic confidence of assistant responses",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	humanFollowups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_human_followups_total",
		Help: "Responses flagged for human followup",
	}, []string{"language"})

	channelMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_channel_messages_total",
		Help: "Messages received per channel",
	}, []string{"channel"})

	// AI metrics
	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_ai_request_duration_seconds",
		Help:    "Duration of completion requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	aiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_ai_requests_total",
		Help: "Total number of completion requests",
	}, []string{"model", "status"})

	// Knowledge metrics
	retrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_knowledge_search_duration_seconds",
		Help:    "Duration of knowledge searches",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	retrievalItems = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assistant_knowledge_items_retrieved",
		Help:    "Knowledge items kept per search",
		Buckets: prometheus.LinearBuckets(0, 1, 6),
	})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_cache_hits_total",
		Help: "Total number of cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_cache_misses_total",
		Help: "Total number of cache misses",
	})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	}, []string{"channel"})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "status"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_storage_operation_duration_seconds",
		Help:    "Duration of storage operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assistant_active_sessions",
		Help: "Number of in-memory chat sessions",
	})
)

// Metrics provides methods to record metrics. The zero value and a nil
// *Metrics are both usable.
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordChatTurn records a finished assistant turn
func (m *Metrics) RecordChatTurn(language, outcome string, confidence float64, followup bool, duration time.Duration) {
	chatTurns.WithLabelValues(language, outcome).Inc()
	chatTurnDuration.WithLabelValues(language).Observe(duration.Seconds())
	responseConfidence.Observe(confidence)
	if followup {
		humanFollowups.WithLabelValues(language).Inc()
	}
}

// RecordChannelMessage records a message received on a transport
func (m *Metrics) RecordChannelMessage(channel string) {
	channelMessages.WithLabelValues(channel).Inc()
}

// RecordAIRequest records a completion request
func (m *Metrics) RecordAIRequest(model, status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	aiRequestsTotal.WithLabelValues(model, status).Inc()
}

// RecordRetrieval records a knowledge search
func (m *Metrics) RecordRetrieval(status string, items int, duration time.Duration) {
	retrievalDuration.WithLabelValues(status).Observe(duration.Seconds())
	if status == "success" {
		retrievalItems.Observe(float64(items))
	}
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded(channel string) {
	rateLimitExceeded.WithLabelValues(channel).Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string, duration time.Duration) {
	storageOperations.WithLabelValues(operation, status).Inc()
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetActiveSessions sets the number of in-memory sessions
func (m *Metrics) SetActiveSessions(count float64) {
	activeSessions.Set(count)
}

// NewMetricsServer builds the HTTP server exposing metrics and health
func NewMetricsServer(port int, path string) *http.Server {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

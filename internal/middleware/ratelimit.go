package middleware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(key string) bool
	Reset(key string)
}

// KeyRateLimiter implements per-key (client or session) rate limiting
type KeyRateLimiter struct {
	enabled         bool
	limiters        map[string]*rate.Limiter
	mu              sync.RWMutex
	rpm             int
	burst           int
	logger          *logrus.Logger
	cleanupInterval time.Duration
	maxKeys         int
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a new rate limiter. Call Close to stop its janitor.
func NewRateLimiter(cfg *config.RateLimitConfig, logger *logrus.Logger) *KeyRateLimiter {
	if !cfg.Enabled {
		return &KeyRateLimiter{enabled: false}
	}

	rl := &KeyRateLimiter{
		enabled:         true,
		limiters:        make(map[string]*rate.Limiter),
		rpm:             cfg.RequestsPerMinute,
		burst:           cfg.Burst,
		logger:          logger,
		cleanupInterval: 1 * time.Hour,
		maxKeys:         10000,
		stop:            make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks if key is allowed to make a request
func (r *KeyRateLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}

	allowed := r.getLimiter(key).Allow()
	if !allowed {
		r.logger.WithField("key", key).Warn("Rate limit exceeded")
	}
	return allowed
}

// Reset forgets the limiter for key
func (r *KeyRateLimiter) Reset(key string) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, key)
	r.mu.Unlock()
}

// Close stops the cleanup goroutine
func (r *KeyRateLimiter) Close() {
	if !r.enabled {
		return
	}
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *KeyRateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[key]; exists {
		return limiter
	}

	// Rate per second = RPM / 60
	rps := float64(r.rpm) / 60.0
	limiter = rate.NewLimiter(rate.Limit(rps), r.burst)
	r.limiters[key] = limiter

	return limiter
}

// cleanup drops all limiters once the map grows past maxKeys
func (r *KeyRateLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if len(r.limiters) > r.maxKeys {
				r.logger.Warn("Rate limiter map size exceeded threshold, clearing")
				r.limiters = make(map[string]*rate.Limiter)
			}
			r.mu.Unlock()
		}
	}
}

// SecurityMiddleware provides input checks
type SecurityMiddleware struct {
	maxBytes int
	logger   *logrus.Logger
}

// NewSecurityMiddleware creates security middleware
func NewSecurityMiddleware(maxBytes int, logger *logrus.Logger) *SecurityMiddleware {
	if maxBytes <= 0 {
		maxBytes = 4096
	}
	return &SecurityMiddleware{
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// ValidateInput rejects empty and oversized messages
func (s *SecurityMiddleware) ValidateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message is empty")
	}
	if len(text) > s.maxBytes {
		return fmt.Errorf("message too long: %d bytes", len(text))
	}
	return nil
}

package assistant

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Registry maps session ids to their orchestrators. Idle sessions expire
// after the configured TTL and their history is dropped.
type Registry struct {
	deps     Deps
	settings Settings
	sessions *cache.Cache
	mu       sync.Mutex
}

// NewRegistry creates a registry whose sessions expire after ttl of inactivity
func NewRegistry(deps Deps, settings Settings, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	r := &Registry{
		deps:     deps,
		settings: settings,
		sessions: cache.New(ttl, ttl/2),
	}
	r.sessions.OnEvicted(func(string, interface{}) {
		r.deps.Metrics.SetActiveSessions(float64(r.sessions.ItemCount()))
	})
	return r
}

// Get returns the orchestrator for sessionID and refreshes its expiry
func (r *Registry) Get(sessionID string) (*Orchestrator, bool) {
	val, found := r.sessions.Get(sessionID)
	if !found {
		return nil, false
	}
	o := val.(*Orchestrator)
	// Replace fails once the session was removed, so a concurrent
	// Remove is never undone
	if err := r.sessions.Replace(sessionID, o, cache.DefaultExpiration); err != nil {
		return nil, false
	}
	return o, true
}

// GetOrCreate returns the orchestrator for sessionID, creating it on first use
func (r *Registry) GetOrCreate(sessionID, userID string) *Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.Get(sessionID); ok {
		return o
	}
	o := NewOrchestrator(sessionID, userID, r.deps, r.settings)
	r.sessions.SetDefault(sessionID, o)
	r.deps.Metrics.SetActiveSessions(float64(r.sessions.ItemCount()))
	return o
}

// Clear resets the conversation of sessionID
func (r *Registry) Clear(sessionID string) error {
	o, ok := r.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	o.ClearContext()
	return nil
}

// Remove drops sessionID after its pending logs are written
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	val, found := r.sessions.Get(sessionID)
	r.sessions.Delete(sessionID)
	r.mu.Unlock()
	r.deps.Metrics.SetActiveSessions(float64(r.sessions.ItemCount()))
	if found {
		val.(*Orchestrator).Wait()
	}
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	return r.sessions.ItemCount()
}

// Wait blocks until every live session has flushed its interaction logs
func (r *Registry) Wait() {
	for _, item := range r.sessions.Items() {
		item.Object.(*Orchestrator).Wait()
	}
}

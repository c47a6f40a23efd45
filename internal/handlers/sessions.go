package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/ruyacapital/ruya-assistant/internal/services/assistant"
	"github.com/ruyacapital/ruya-assistant/internal/services/storage"
)

// errSessionEnded is returned when a message arrives for an ended session
var errSessionEnded = errors.New("session has ended")

// Sessions ties persisted session records to live orchestrators
type Sessions struct {
	registry *assistant.Registry
	store    storage.SessionStore
}

// NewSessions creates a session resolver
func NewSessions(registry *assistant.Registry, store storage.SessionStore) *Sessions {
	return &Sessions{registry: registry, store: store}
}

// Start records a new session and creates its orchestrator
func (s *Sessions) Start(ctx context.Context, userID string) (*assistant.Orchestrator, error) {
	token, err := s.store.StartSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.registry.GetOrCreate(token, userID), nil
}

// Resolve returns the orchestrator for id. A known session whose in-memory
// state expired gets a fresh orchestrator.
func (s *Sessions) Resolve(ctx context.Context, id string) (*assistant.Orchestrator, error) {
	if o, ok := s.registry.Get(id); ok {
		return o, nil
	}

	rec, err := s.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, assistant.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if rec.EndedAt != nil {
		return nil, errSessionEnded
	}
	return s.registry.GetOrCreate(id, rec.UserID), nil
}

// End closes the session and drops its in-memory state
func (s *Sessions) End(ctx context.Context, id string, rating *int) error {
	if err := s.store.EndSession(ctx, id, rating); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return assistant.ErrSessionNotFound
		}
		return err
	}
	s.registry.Remove(id)
	return nil
}

// Interactions returns the logged turns of a session, ended or not
func (s *Sessions) Interactions(ctx context.Context, id string, limit int) ([]models.Interaction, error) {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, assistant.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s.store.ListInteractions(ctx, id, limit)
}

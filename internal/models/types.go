package models

import (
	"time"
)

// Role identifies the author of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Language is the detected conversation language
type Language string

const (
	LanguageArabic  Language = "arabic"
	LanguageEnglish Language = "english"
)

// Code returns the short language code used by i18n bundles and stores
func (l Language) Code() string {
	if l == LanguageEnglish {
		return "en"
	}
	return "ar"
}

// ParseLanguage maps "ar"/"arabic"/"en"/"english" to a Language.
func ParseLanguage(s string) (Language, bool) {
	switch s {
	case "ar", "arabic":
		return LanguageArabic, true
	case "en", "english":
		return LanguageEnglish, true
	}
	return "", false
}

// Topic is one of the fixed conversation topics
type Topic string

const (
	TopicServices Topic = "services"
	TopicPricing  Topic = "pricing"
	TopicContact  Topic = "contact"
	TopicCompany  Topic = "company"
)

// TopicSet is a deduplicated set of topics
type TopicSet map[Topic]struct{}

// Add inserts a topic
func (s TopicSet) Add(t Topic) {
	s[t] = struct{}{}
}

// Has reports whether t is in the set
func (s TopicSet) Has(t Topic) bool {
	_, ok := s[t]
	return ok
}

// Overlaps reports whether the two sets share a topic
func (s TopicSet) Overlaps(other TopicSet) bool {
	for t := range s {
		if other.Has(t) {
			return true
		}
	}
	return false
}

// Slice returns the topics in the fixed declaration order
func (s TopicSet) Slice() []Topic {
	out := make([]Topic, 0, len(s))
	for _, t := range []Topic{TopicServices, TopicPricing, TopicContact, TopicCompany} {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// ChatMessage represents one turn in a session history. Messages are
// never mutated after they are appended.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession is the in-memory state of one conversation
type ChatSession struct {
	Messages     []ChatMessage
	Language     Language
	Topics       TopicSet
	LastActivity time.Time
}

// KnowledgeItem is a retrievable fact used to ground answers
type KnowledgeItem struct {
	ID          string            `json:"id" yaml:"id"`
	Title       string            `json:"title" yaml:"title"`
	Content     string            `json:"content" yaml:"-"`
	Category    string            `json:"category" yaml:"category"`
	Language    string            `json:"language" yaml:"language"`
	Tags        []string          `json:"tags" yaml:"tags"`
	Verified    bool              `json:"verified" yaml:"verified"`
	LastUpdated time.Time         `json:"last_updated" yaml:"updated"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata"`
}

// ScoredItem pairs a knowledge item with its relevance to a query
type ScoredItem struct {
	Item      KnowledgeItem `json:"item"`
	Relevance float64       `json:"relevance"`
}

// AIResponse is the result of one assistant turn
type AIResponse struct {
	Content               string   `json:"content"`
	Language              Language `json:"language"`
	Confidence            float64  `json:"confidence"`
	Sources               []string `json:"sources"`
	ContextUnderstanding  float64  `json:"context_understanding"`
	ResponseTimeMs        int64    `json:"response_time_ms"`
	RequiresHumanFollowup bool     `json:"requires_human_followup"`
}

// CompletionMessage is one turn sent to the completion service
type CompletionMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single call to the completion service
type CompletionRequest struct {
	Model           string
	SystemPrompt    string
	Messages        []CompletionMessage
	Temperature     float32
	MaxOutputTokens int
}

// Interaction is one logged turn for analytics
type Interaction struct {
	ID                    string    `json:"id"`
	SessionID             string    `json:"session_id"`
	UserID                string    `json:"user_id,omitempty"`
	UserText              string    `json:"user_text"`
	AssistantText         string    `json:"assistant_text"`
	Language              Language  `json:"language"`
	ResponseTimeMs        int64     `json:"response_time_ms"`
	Confidence            float64   `json:"confidence"`
	Sources               []string  `json:"sources"`
	RequiresHumanFollowup bool      `json:"requires_human_followup"`
	CreatedAt             time.Time `json:"created_at"`
}

// SessionRecord is the persisted lifecycle of a chat session
type SessionRecord struct {
	Token              string     `json:"token"`
	UserID             string     `json:"user_id,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	SatisfactionRating *int       `json:"satisfaction_rating,omitempty"`
}

package topics

import (
	"testing"

	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestContextScore(t *testing.T) {
	tests := []struct {
		name    string
		current string
		prior   []models.ChatMessage
		want    float64
	}{
		{"fresh conversation", "hello", nil, 0.5},
		{"pricing twice gets overlap bonus", "what is the price of the pro plan", []models.ChatMessage{user("how much does it cost?"), assistant("It depends.")}, 0.8},
		{"arabic pricing twice", "وما هي تكلفة الباقة الثانية", []models.ChatMessage{user("كم سعر الباقة الأولى؟")}, 0.8},
		{"follow-up marker only", "what about weekends?", []models.ChatMessage{user("hi")}, 0.7},
		{"overlap and marker capped at one", "also, the price for enterprise?", []models.ChatMessage{user("pricing please")}, 1.0},
		{"arabic marker", "ماذا عن الدعم؟", nil, 0.7},
		{"and as a word not a substring", "I understand", nil, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ContextScore(tt.current, tt.prior, DefaultWindow)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestHasFollowUpMarker(t *testing.T) {
	assert.True(t, HasFollowUpMarker("And the price?"))
	assert.True(t, HasFollowUpMarker("Additionally: support"))
	assert.True(t, HasFollowUpMarker("وكذلك الدعم"))
	assert.False(t, HasFollowUpMarker("brand new"))
}

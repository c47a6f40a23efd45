package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type geminiRequest struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	SystemInstruction struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"systemInstruction"`
	GenerationConfig struct {
		Temperature     float32 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

func writeGeminiAnswer(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]string{{"text": text}},
			},
			"finishReason": "STOP",
		}},
	})
}

func newGeminiRouter(t *testing.T, url string) *Router {
	t.Helper()
	cfg := &config.ModelsConfig{
		Default: "gemini-test",
		Endpoints: []config.ModelEndpoint{{
			Name:     "gemini",
			Provider: "gemini",
			BaseURL:  url,
			APIKey:   "g-test",
			Models:   []config.ModelInfo{{ID: "gemini-test", MaxTokens: 800}},
		}},
	}
	r, err := NewRouter(context.Background(), cfg, quietLogger(), WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	return r
}

func TestGemini_Complete(t *testing.T) {
	var (
		got  geminiRequest
		path string
		key  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.Header.Get("x-goog-api-key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeGeminiAnswer(w, "<think>draft</think>Ruya offers feasibility studies.")
	}))
	defer srv.Close()

	r := newGeminiRouter(t, srv.URL)
	text, err := r.Complete(context.Background(), models.CompletionRequest{
		SystemPrompt: "be helpful",
		Messages: []models.CompletionMessage{
			{Role: models.RoleUser, Content: "what do you offer?"},
			{Role: models.RoleAssistant, Content: "consulting"},
			{Role: models.RoleUser, Content: "details please"},
		},
		Temperature:     0.7,
		MaxOutputTokens: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ruya offers feasibility studies.", text)

	assert.True(t, strings.HasSuffix(path, "/models/gemini-test:generateContent"), path)
	assert.Equal(t, "g-test", key)

	require.Len(t, got.Contents, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, "details please", got.Contents[2].Parts[0].Text)
	require.Len(t, got.SystemInstruction.Parts, 1)
	assert.Equal(t, "be helpful", got.SystemInstruction.Parts[0].Text)
	assert.Equal(t, 800, got.GenerationConfig.MaxOutputTokens)
	assert.InDelta(t, 0.7, got.GenerationConfig.Temperature, 1e-6)
}

func TestGemini_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "bad request", "status": "INVALID_ARGUMENT"},
		})
	}))
	defer srv.Close()

	r := newGeminiRouter(t, srv.URL)
	_, err := r.Complete(context.Background(), models.CompletionRequest{
		Messages: []models.CompletionMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGemini_RequiresAPIKey(t *testing.T) {
	_, err := NewRouter(context.Background(), &config.ModelsConfig{
		Endpoints: []config.ModelEndpoint{{
			Name:     "gemini",
			Provider: "gemini",
			Models:   []config.ModelInfo{{ID: "gemini-test"}},
		}},
	}, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

package ai

import (
	"context"
	"errors"
	"net/http"

	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// openAIProvider talks to any OpenAI-compatible chat completions endpoint
type openAIProvider struct {
	client *openai.Client
}

func newOpenAIProvider(endpoint *config.ModelEndpoint) *openAIProvider {
	cfg := openai.DefaultConfig(endpoint.APIKey)
	if endpoint.BaseURL != "" {
		cfg.BaseURL = endpoint.BaseURL
	}
	cfg.HTTPClient = &http.Client{}
	return &openAIProvider{client: openai.NewClientWithConfig(cfg)}
}

func (p *openAIProvider) complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && isClientStatus(apiErr.HTTPStatusCode) {
		return &clientError{status: apiErr.HTTPStatusCode, err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && isClientStatus(reqErr.HTTPStatusCode) {
		return &clientError{status: reqErr.HTTPStatusCode, err: err}
	}
	return err
}

// isClientStatus reports 4xx other than 408 and 429, which are worth retrying
func isClientStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"google.golang.org/genai"
)

// geminiProvider calls the Gemini API through the genai SDK
type geminiProvider struct {
	client *genai.Client
}

func newGeminiProvider(ctx context.Context, endpoint *config.ModelEndpoint) (*geminiProvider, error) {
	if endpoint.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  endpoint.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if endpoint.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: endpoint.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &geminiProvider{client: client}, nil
}

func (p *geminiProvider) complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		var role genai.Role = genai.RoleUser
		if m.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: int32(req.MaxOutputTokens),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, gc)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && isClientStatus(apiErr.Code) {
			return "", &clientError{status: apiErr.Code, err: err}
		}
		return "", err
	}
	return resp.Text(), nil
}

package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const geminiEndpoint = "generativelanguage.googleapis.com"

// GenaiClient calls Gemini models through the Google Gen AI SDK.
type GenaiClient struct {
	client    *genai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewGenaiClient creates a Gemini API client.
func NewGenaiClient(ctx context.Context, cfg *Config, logger *zap.Logger) (*GenaiClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GenaiClient{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("llm-gemini"),
	}, nil
}

// GenerateResponse requests a JSON response for the prompt.
func (c *GenaiClient) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
) (*GenerateResponseResult, error) {
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemMessage, genai.RoleUser),
		Temperature:       genai.Ptr(float32(temperature)),
		ResponseMIMEType:  "application/json",
	}
	if c.maxTokens > 0 {
		genCfg.MaxOutputTokens = int32(c.maxTokens)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), genCfg)
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		llmErr := ClassifyError(err)
		llmErr.Model = c.model
		llmErr.Endpoint = c.GetEndpoint()
		return nil, llmErr
	}

	result := &GenerateResponseResult{Content: resp.Text()}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		result.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if result.Content == "" {
		return nil, NewErrorWithContext(ErrorTypeUnknown, "empty response", false, nil, c.model, c.GetEndpoint(), 0)
	}
	return result, nil
}

// GetModel returns the configured model name.
func (c *GenaiClient) GetModel() string {
	return c.model
}

// GetEndpoint returns the Gemini API host.
func (c *GenaiClient) GetEndpoint() string {
	return "https://" + geminiEndpoint
}

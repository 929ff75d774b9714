package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/config"
	"github.com/ekaya-inc/ekaya-calls/pkg/retry"
)

// NewClientFromConfig builds the configured extraction backend wrapped in a
// ResilientClient. Returns ErrNotConfigured when extraction is disabled.
func NewClientFromConfig(ctx context.Context, cfg *config.ExtractionConfig, logger *zap.Logger) (LLMClient, error) {
	if !cfg.IsAvailable() {
		return nil, ErrNotConfigured
	}

	clientCfg := &Config{
		Endpoint:  cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
		JSONMode:  true,
	}

	var (
		inner LLMClient
		err   error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		inner, err = NewClient(clientCfg, logger)
	case config.ProviderAnthropic:
		inner, err = NewAnthropicClient(clientCfg, logger)
	case config.ProviderGemini:
		inner, err = NewGenaiClient(ctx, clientCfg, logger)
	default:
		return nil, fmt.Errorf("unknown extraction provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  cfg.BreakerThreshold,
		ResetAfter: cfg.BreakerReset,
	})

	logger.Info("Extraction backend configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", inner.GetModel()),
		zap.String("endpoint", inner.GetEndpoint()))

	return NewResilientClient(inner, breaker, retry.WithMaxRetries(cfg.MaxRetries), logger), nil
}

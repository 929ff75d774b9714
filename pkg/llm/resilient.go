package llm

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/retry"
)

// ResilientClient wraps a provider client with retries for transient errors
// and a circuit breaker across calls.
type ResilientClient struct {
	inner   LLMClient
	breaker *CircuitBreaker
	retry   *retry.Config
	logger  *zap.Logger
}

// NewResilientClient wraps inner. A nil retry config disables retries.
func NewResilientClient(inner LLMClient, breaker *CircuitBreaker, retryCfg *retry.Config, logger *zap.Logger) *ResilientClient {
	if retryCfg == nil {
		retryCfg = retry.WithMaxRetries(0)
	}
	return &ResilientClient{
		inner:   inner,
		breaker: breaker,
		retry:   retryCfg,
		logger:  logger.Named("llm-resilient"),
	}
}

// GenerateResponse calls the provider unless the breaker is open.
// Permanent errors and exhausted retries count as one breaker failure.
func (c *ResilientClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, NewErrorWithContext(ErrorTypeEndpoint, "provider unavailable", false, err, c.inner.GetModel(), c.inner.GetEndpoint(), 0)
	}

	result, err := retry.DoWithResult(ctx, c.retry, func() (*GenerateResponseResult, error) {
		return c.inner.GenerateResponse(ctx, prompt, systemMessage, temperature)
	})
	if err != nil {
		// The caller going away says nothing about provider health.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.breaker.RecordFailure()
		if c.breaker.State() == CircuitOpen {
			c.logger.Warn("Extraction backend circuit opened",
				zap.String("model", c.inner.GetModel()),
				zap.Int("consecutive_failures", c.breaker.ConsecutiveFailures()),
				zap.Error(err))
		}
		return nil, err
	}

	c.breaker.RecordSuccess()
	return result, nil
}

// GetModel returns the wrapped client's model.
func (c *ResilientClient) GetModel() string {
	return c.inner.GetModel()
}

// GetEndpoint returns the wrapped client's endpoint.
func (c *ResilientClient) GetEndpoint() string {
	return c.inner.GetEndpoint()
}

// Package platform is the client for the remote conversational-agent platform
// that owns agents and their call executions.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/config"
	"github.com/ekaya-inc/ekaya-calls/pkg/logging"
	"github.com/ekaya-inc/ekaya-calls/pkg/retry"
)

// maxErrorBody bounds how much of an error response is kept for logs.
const maxErrorBody = 512

// defaultMaxResponseBytes caps a response body when the config leaves it unset.
const defaultMaxResponseBytes int64 = 32 << 20

// ErrResponseTooLarge is returned when a response body exceeds the configured cap.
var ErrResponseTooLarge = errors.New("platform response too large")

// Client reads executions from the platform.
type Client interface {
	// ListExecutions returns one page (1-based) of an agent's executions.
	ListExecutions(ctx context.Context, agentID string, page, pageSize int) (*Page, error)
	// GetExecution returns a single execution.
	GetExecution(ctx context.Context, executionID string) (*Record, error)
}

// Page is one page of the execution list. Items are decoded lazily with
// ParseRecord so one malformed item does not discard the page.
type Page struct {
	Number  int
	Items   []json.RawMessage
	HasMore bool
}

// APIError is a non-2xx platform response.
type APIError struct {
	StatusCode int
	Body       string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform returned status %d for %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

// IsRetryable implements retry.RetryableError: rate limits and server errors are transient.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type httpClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxBody    int64
	retry      *retry.Config
	logger     *zap.Logger
}

// NewClient creates a platform client from configuration.
func NewClient(cfg *config.PlatformConfig, logger *zap.Logger) Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBytes
	}
	return &httpClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxBody: maxBody,
		retry:   retry.WithMaxRetries(cfg.MaxRetries),
		logger:  logger.Named("platform"),
	}
}

var _ Client = (*httpClient)(nil)

func (c *httpClient) ListExecutions(ctx context.Context, agentID string, page, pageSize int) (*Page, error) {
	endpoint, err := buildURL(c.baseURL, "v2", "agent", agentID, "executions")
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}
	q := url.Values{}
	q.Set("page_number", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	endpoint += "?" + q.Encode()

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var response struct {
		Data       []json.RawMessage `json:"data"`
		Executions []json.RawMessage `json:"executions"`
		HasMore    bool              `json:"has_more"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse execution page: %w", err)
	}

	items := response.Data
	if items == nil {
		items = response.Executions
	}

	c.logger.Debug("Fetched execution page",
		zap.String("agent_id", agentID),
		zap.Int("page", page),
		zap.Int("items", len(items)),
		zap.Bool("has_more", response.HasMore))

	return &Page{Number: page, Items: items, HasMore: response.HasMore}, nil
}

func (c *httpClient) GetExecution(ctx context.Context, executionID string) (*Record, error) {
	endpoint, err := buildURL(c.baseURL, "executions", executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	record, err := ParseRecord(body)
	if err != nil {
		return nil, fmt.Errorf("execution %s: %w", executionID, err)
	}
	return record, nil
}

// get performs a GET with retries for transient failures.
func (c *httpClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retry, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to call platform: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if int64(len(body)) > c.maxBody {
			c.logger.Warn("Platform response exceeds size limit",
				zap.Int64("limit_bytes", c.maxBody),
				zap.String("path", req.URL.Path))
			return nil, ErrResponseTooLarge
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				Body:       logging.TruncateString(logging.SanitizeText(string(body)), maxErrorBody),
				Endpoint:   req.URL.Path,
			}
			c.logger.Warn("Platform returned error",
				zap.Int("status", resp.StatusCode),
				zap.String("path", req.URL.Path),
				zap.Bool("retryable", apiErr.IsRetryable()))
			return nil, apiErr
		}
		return body, nil
	})
}

func buildURL(baseURL string, pathSegments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q", baseURL)
	}
	segments := append([]string{u.Path}, pathSegments...)
	u.Path = path.Join(segments...)
	return u.String(), nil
}

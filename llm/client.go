// Package llm provides the model-agnostic role dispatcher for the strategy
// pipeline. A logical role (strategist, briefer, ...) is resolved to a
// concrete model via configuration; the model prefix selects a provider
// family; the provider variant owns its own wire-format quirks.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// maxResponseSize limits the provider response body to prevent memory
// exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Client dispatches role calls to configured model providers with retry.
type Client struct {
	roles       map[Role]RoleConfig
	baseURLs    map[string]string // provider name -> base URL override
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithBaseURL overrides the endpoint base URL for a provider family.
// Tests point providers at httptest servers through this.
func WithBaseURL(provider, url string) ClientOption {
	return func(client *Client) {
		client.baseURLs[provider] = url
	}
}

// NewClient creates a dispatcher over the given role configuration.
func NewClient(roles map[Role]RoleConfig, opts ...ClientOption) *Client {
	c := &Client{
		roles:       roles,
		baseURLs:    make(map[string]string),
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 90 * time.Second, // generation calls are slow
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Dispatch resolves role to its configured model and provider, executes the
// call with retry on transient failures, and returns the normalized
// response. Missing configuration and empty provider output are fatal
// errors; callers decide degradation semantics.
func (c *Client) Dispatch(ctx context.Context, role Role, prompt Prompt) (*Response, error) {
	rc, ok := c.roles[role]
	if !ok || rc.Model == "" {
		return nil, NewFatalError(fmt.Errorf("no model configured for role %s", role))
	}

	providerName := ProviderForModel(rc.Model)
	if providerName == "" {
		return nil, NewFatalError(fmt.Errorf("role %s: no provider for model %q", role, rc.Model))
	}
	provider := GetProvider(providerName)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("role %s: provider %s not registered", role, providerName))
	}

	req := Request{
		Model:           rc.Model,
		Prompt:          prompt,
		MaxTokens:       rc.MaxTokens,
		Temperature:     rc.Temperature,
		TopP:            rc.TopP,
		TopK:            rc.TopK,
		ReasoningEffort: rc.ReasoningEffort,
		Search:          rc.SearchEnabled,
		WantJSON:        promptWantsJSON(prompt),
	}

	deadline := time.Time{}
	if c.retryConfig.TotalBudget > 0 {
		deadline = time.Now().Add(c.retryConfig.TotalBudget)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, provider, req)
		if err == nil {
			if strings.TrimSpace(resp.Text) == "" {
				return nil, NewFatalError(fmt.Errorf("role %s model %s: %w", role, rc.Model, ErrEmptyResponse))
			}
			return resp, nil
		}

		lastErr = err
		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			if !deadline.IsZero() && time.Now().Add(backoff).After(deadline) {
				c.logger.Warn("Retry budget exhausted",
					"role", role,
					"model", rc.Model,
					"attempt", attempt,
					"error", err)
				break
			}
			c.logger.Debug("Provider call failed, retrying",
				"role", role,
				"model", rc.Model,
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("role %s exhausted retries: %w", role, lastErr)
}

// calculateBackoff computes exponential backoff duration with jitter.
// Jitter prevents thundering herd when multiple workers retry together.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	// Add jitter: +/- 25% to prevent synchronized retries
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doRequest executes a single HTTP request against the provider.
func (c *Client) doRequest(ctx context.Context, provider Provider, req Request) (*Response, error) {
	url := provider.BuildURL(c.baseURLs[provider.Name()], req)

	body, err := provider.BuildRequestBody(req)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("Sending provider request",
		"provider", provider.Name(),
		"model", req.Model,
		"search", req.Search)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors (timeouts, aborted connections) are transient.
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	return provider.ParseResponse(respBody, req)
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("provider API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode == http.StatusBadGateway,
		statusCode == http.StatusServiceUnavailable,
		statusCode == http.StatusGatewayTimeout:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}

// promptWantsJSON detects prompts that request structured JSON output so
// providers can run response cleanup.
func promptWantsJSON(p Prompt) bool {
	s := strings.ToLower(p.System + " " + p.User)
	return strings.Contains(s, "json")
}

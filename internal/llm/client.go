// Package llm is the HTTP client for the AI-completion service. The service
// is an opaque collaborator: one JSON completion endpoint, no streaming.
// Callers treat it as unreliable and keep a deterministic fallback; the
// client's job is bounded latency, rate limiting, and errors that classify
// usefully for the retry layer.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/circuitbreaker"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/interceptors"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/metrics"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/tracing"
)

// Config controls the completion client. Zero values fall back to env
// (LLM_SERVICE_URL, LLM_TIMEOUT_SECONDS, LLM_REQUESTS_PER_SECOND) and then
// to defaults suitable for an in-cluster service.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = getenv("LLM_SERVICE_URL", "http://llm-service:8000")
	}
	if c.Timeout <= 0 {
		if secs, err := strconv.Atoi(os.Getenv("LLM_TIMEOUT_SECONDS")); err == nil && secs > 0 {
			c.Timeout = time.Duration(secs) * time.Second
		} else {
			c.Timeout = 120 * time.Second
		}
	}
	if c.RequestsPerSecond <= 0 {
		if rps, err := strconv.ParseFloat(os.Getenv("LLM_REQUESTS_PER_SECOND"), 64); err == nil && rps > 0 {
			c.RequestsPerSecond = rps
		} else {
			c.RequestsPerSecond = 5
		}
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RequestsPerSecond)
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	return c
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// CompletionRequest mirrors the service's completion contract.
type CompletionRequest struct {
	Prompt         string  `json:"prompt"`
	SystemPrompt   string  `json:"system_prompt,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

// CompletionResponse is the decoded completion payload.
type CompletionResponse struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model,omitempty"`
}

// httpDoer is the slice of http.Client the completion calls need; the
// circuit-breaker wrapper satisfies it too.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is safe for concurrent use. A local token-bucket limiter smooths
// bursts from parallel workflow branches before they hit the service, and a
// circuit breaker refuses calls outright while the service stays down.
type Client struct {
	baseURL string
	http    httpDoer
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		// Calls made from activities carry the workflow identity so the
		// service's logs correlate with the Temporal execution.
		Transport: interceptors.NewWorkflowHTTPRoundTripper(nil),
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    circuitbreaker.NewHTTPWrapper(httpClient, "llm", "llm-service", logger),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}
}

// Complete posts a completion request and decodes the result. Error text is
// part of the contract with the retry classifier: 429s mention the rate
// limit, 5xx mention the llm service, timeouts surface as net errors.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("llm: completion prompt must not be empty")
	}

	if !c.limiter.Allow() {
		metrics.LLMRateLimited.Inc()
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("llm: rate limiter wait: %w", err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: encode completion request: %w", err)
	}

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, c.baseURL+"/complete")
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/complete", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.RecordLLMRequest("transport_error", time.Since(started).Seconds())
		return nil, fmt.Errorf("llm service request failed: %w", err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(started)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RecordLLMRequest("rate_limited", elapsed.Seconds())
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llm service rate limit exceeded: status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		metrics.RecordLLMRequest("error", elapsed.Seconds())
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("llm service error: status %d: %s", resp.StatusCode, string(snippet))
	}

	var out CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.RecordLLMRequest("decode_error", elapsed.Seconds())
		return nil, fmt.Errorf("llm: decode completion response: %w", err)
	}

	metrics.RecordLLMRequest("ok", elapsed.Seconds())
	c.logger.Debug("LLM completion",
		zap.Int("tokens_used", out.TokensUsed),
		zap.String("model", out.Model),
		zap.Duration("duration", elapsed))
	return &out, nil
}

// Healthy probes the service's health endpoint. Used by the health manager
// and by callers deciding whether to degrade to deterministic output.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("llm: build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("llm service unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("llm service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// BaseURL exposes the resolved endpoint for logging and health reporting.
func (c *Client) BaseURL() string { return c.baseURL }

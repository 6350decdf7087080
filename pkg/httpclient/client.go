// Package httpclient wraps net/http with status-aware retries. It backs
// outbound calls to OAuth token endpoints and authorization server
// discovery documents.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	ConservativeRetry
	SmartRetry
)

func (s RetryStrategy) String() string {
	switch s {
	case ConservativeRetry:
		return "conservative"
	case SmartRetry:
		return "smart"
	default:
		return "none"
	}
}

type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
}

type RateLimitHeaderParser func(http.Header) RateLimitInfo

type RetryStrategyFunc func(int) RetryStrategy

type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
	sleep        func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

// New creates a client. By default it retries up to three times and reads
// the standard Retry-After header.
func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: defaultTimeout},
		maxRetries:   3,
		baseDelay:    time.Second,
		headerParser: ParseRetryAfter,
		strategyFunc: DefaultRetryStrategy,
		sleep:        sleepContext,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// HTTPClient exposes the underlying client, for libraries that accept one.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do sends req, retrying retryable status codes. Waiting between attempts
// stops as soon as the request context is done.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, strategy, retryInfo, err := c.attemptRequest(req)
		if strategy == NoRetry || err == nil {
			return resp, err
		}

		delay := c.calculateDelay(strategy, attempt, retryInfo)
		if attempt >= c.maxRetries || delay <= 0 {
			return resp, &RetriesExhaustedError{StatusCode: resp.StatusCode, Attempts: attempt + 1, Err: err}
		}

		drain(resp)
		slog.Debug("Retrying HTTP request",
			"url", req.URL.String(),
			"status", resp.StatusCode,
			"strategy", strategy.String(),
			"delay", delay,
			"attempt", attempt+1)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Get issues a GET request bound to ctx.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

func (c *Client) attemptRequest(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NoRetry, RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var retryInfo RateLimitInfo
	if c.headerParser != nil {
		retryInfo = c.headerParser(resp.Header)
	}

	strategy := c.strategyFunc(resp.StatusCode)
	if strategy == NoRetry {
		return resp, NoRetry, retryInfo, nil
	}
	return resp, strategy, retryInfo, fmt.Errorf("HTTP %d", resp.StatusCode)
}

func (c *Client) calculateDelay(strategy RetryStrategy, attempt int, retryInfo RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if retryInfo.RetryAfter > 0 {
			return retryInfo.RetryAfter
		}
		if retryInfo.ResetTime > 0 {
			if delay := time.Until(time.Unix(retryInfo.ResetTime, 0)); delay > 0 {
				return delay
			}
		}
		exponentialDelay := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		jitter := time.Duration(float64(exponentialDelay) * 0.1)
		return exponentialDelay + jitter

	case ConservativeRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(1+attempt) * c.baseDelay

	default:
		return 0
	}
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrying, traced HTTP client for calls out to enforcement backends and notification webhooks.
package robusthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type LeveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l LeveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l LeveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

type clientConfig struct {
	retry   *retryablehttp.Client
	timeout time.Duration
}

type Option func(*clientConfig)

func WithMaxRetries(maxRetries int) Option {
	return func(c *clientConfig) {
		c.retry.RetryMax = maxRetries
	}
}

// WithRetryWait bounds the backoff between attempts.
func WithRetryWait(waitMin, waitMax time.Duration) Option {
	return func(c *clientConfig) {
		c.retry.RetryWaitMin = waitMin
		c.retry.RetryWaitMax = waitMax
	}
}

// WithTimeout bounds each call as a whole, across all attempts.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.retry.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: logger})
	}
}

// WithTransport replaces the underlying (traced) transport; mostly for tests.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.retry.HTTPClient.Transport = transport
	}
}

func WithRetryPolicy(policy retryablehttp.CheckRetry) Option {
	return func(c *clientConfig) {
		c.retry.CheckRetry = policy
	}
}

// Generates an HTTP client with decent general-purpose defaults around
// timeouts and retries. The returned client has the stdlib http.Client
// interface, but has Hashicorp retryablehttp logic internally.
//
// This client will retry on connection errors, 5xx status (except 501), and
// 429 (respecting 'Retry-After'). It will log intermediate failures with WARN
// level. This does not start from http.DefaultClient.
//
// Enforcement calls (PUT/DELETE of a per-target resource) are idempotent, so
// retrying them is safe.
func NewClient(options ...Option) *http.Client {
	logger := LeveledSlog{inner: slog.Default().With("subsystem", "RobustHTTPClient")}
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(logger)
	retryClient.CheckRetry = DefaultRetryPolicy

	cfg := &clientConfig{retry: retryClient, timeout: 20 * time.Second}
	for _, option := range options {
		option(cfg)
	}

	client := retryClient.StandardClient()
	client.Timeout = cfg.timeout
	return client
}

// DefaultRetryPolicy is retryablehttp.DefaultRetryPolicy, except that a
// cancelled or expired caller context is never retried, and "409 Conflict"
// (the backend already holds conflicting state) is final.
func DefaultRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil && resp.StatusCode == http.StatusConflict {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

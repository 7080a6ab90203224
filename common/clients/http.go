package clients

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps http.Client with context-aware helpers. It is immutable:
// per spec.md §5 ("network clients are immutable references swapped
// atomically only during token refresh"), a token refresh never mutates an
// existing Client in place. Instead the owning component (broker, storage,
// data, observability) holds an atomic pointer to a *Client and replaces it
// wholesale with NewClient(newToken, ...); requests already in flight keep
// using the Client value they captured when the call started.
type Client struct {
	http   *http.Client
	token  string
	logger Logger
}

// NewClient creates a new bearer-authenticated HTTP client wrapper.
func NewClient(token string, logger Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		token:  token,
		logger: logger,
	}
}

// Token returns the bearer token this client was constructed with.
func (c *Client) Token() string {
	return c.token
}

// Do creates and executes an HTTP request, attaching the bearer token and
// any correlation id found in ctx.
func (c *Client) Do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, method, url, body, "")
}

// DoWithContentType is Do but overrides the request's Content-Type, for
// callers (storage) that must send multipart/form-data.
func (c *Client) DoWithContentType(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Response, error) {
	return c.do(ctx, method, url, body, contentType)
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Connection", "close")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if requestID, ok := GetRequestID(ctx); ok {
		req.Header.Set("X-Request-ID", requestID)
		c.logger.Debug("added X-Request-ID header from context", "request_id", requestID)
	}

	return c.http.Do(req)
}

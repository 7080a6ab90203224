package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for a per-call correlation id,
	// propagated as X-Request-ID so broker/storage/data/po logs on both
	// sides of a call can be joined.
	RequestIDKey contextKey = "request-id"
)

// WithRequestID attaches a correlation id to the context. It will be
// automatically extracted and added as an X-Request-ID header on any
// outbound request made with a *Client built from this package.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the correlation id from context.
func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(RequestIDKey).(string)
	return id, ok && id != ""
}

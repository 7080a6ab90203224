package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/flamehq/flame-node-sdk/common/clients"
	"github.com/flamehq/flame-node-sdk/common/ratelimit"
)

type noopLogger struct{}

func (noopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Error(msg string, keysAndValues ...interface{}) {}
func (noopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Debug(msg string, keysAndValues ...interface{}) {}

func newTestRateLimiter(t *testing.T) *ratelimit.RateLimiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("unexpected error starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return ratelimit.NewRateLimiter(client, noopLogger{})
}

func newEchoContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestGlobalRateLimitMiddlewareAllowsUnderLimit(t *testing.T) {
	limiter := newTestRateLimiter(t)
	mw := GlobalRateLimitMiddleware(limiter, ratelimit.GlobalConfig{Limit: 5, WindowSeconds: 60})

	c, rec := newEchoContext(http.MethodGet, "/healthz")
	called := false
	err := mw(func(c echo.Context) error { called = true; return c.NoContent(http.StatusOK) })(c)

	if err != nil || !called || rec.Code != http.StatusOK {
		t.Fatalf("got err=%v called=%v code=%d", err, called, rec.Code)
	}
}

func TestGlobalRateLimitMiddlewareBlocksOverLimit(t *testing.T) {
	limiter := newTestRateLimiter(t)
	mw := GlobalRateLimitMiddleware(limiter, ratelimit.GlobalConfig{Limit: 1, WindowSeconds: 60})

	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	c1, _ := newEchoContext(http.MethodGet, "/webhook")
	if err := mw(next)(c1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c2, rec2 := newEchoContext(http.MethodGet, "/webhook")
	if err := mw(next)(c2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the second call to be rate limited, got %d", rec2.Code)
	}
}

func TestGlobalRateLimitMiddlewareBypassesInternalRequests(t *testing.T) {
	t.Setenv("INTERNAL_SERVICE_SECRET", "shh")
	limiter := newTestRateLimiter(t)
	mw := GlobalRateLimitMiddleware(limiter, ratelimit.GlobalConfig{Limit: 0, WindowSeconds: 60})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	req.Header.Set("X-Internal-Service", "shh")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	err := mw(func(c echo.Context) error { called = true; return c.NoContent(http.StatusOK) })(c)
	if err != nil || !called {
		t.Fatalf("expected the internal request to bypass the limiter, err=%v called=%v", err, called)
	}
}

func TestSourceRateLimitMiddlewarePassesThroughWithoutRequestID(t *testing.T) {
	limiter := newTestRateLimiter(t)
	mw := SourceRateLimitMiddleware(limiter, ratelimit.SourceConfig{Limit: 0, WindowSeconds: 60})

	c, rec := newEchoContext(http.MethodPost, "/webhook")
	called := false
	err := mw(func(c echo.Context) error { called = true; return c.NoContent(http.StatusOK) })(c)
	if err != nil || !called || rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through without a request id, got err=%v called=%v code=%d", err, called, rec.Code)
	}
}

func TestSourceRateLimitMiddlewareBlocksPerSourceOverage(t *testing.T) {
	limiter := newTestRateLimiter(t)
	mw := SourceRateLimitMiddleware(limiter, ratelimit.SourceConfig{Limit: 1, WindowSeconds: 60})
	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req = req.WithContext(clients.WithRequestID(req.Context(), "hub"))
	rec1 := httptest.NewRecorder()
	c1 := e.NewContext(req, rec1)
	if err := mw(next)(c1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec2 := httptest.NewRecorder()
	c2 := e.NewContext(req, rec2)
	if err := mw(next)(c2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the second delivery from the same source to be blocked, got %d", rec2.Code)
	}
}

package middleware

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/flamehq/flame-node-sdk/common/clients"
	"github.com/flamehq/flame-node-sdk/common/ratelimit"
)

// isInternalRequest checks if the request is from an internal service
// Internal services set X-Internal-Service header to bypass rate limits
func isInternalRequest(c echo.Context) bool {
	internalHeader := c.Request().Header.Get("X-Internal-Service")
	if internalHeader == "" {
		return false
	}

	expectedSecret := os.Getenv("INTERNAL_SERVICE_SECRET")
	if expectedSecret == "" {
		expectedSecret = "default-internal-secret-change-in-prod"
	}

	return internalHeader == expectedSecret
}

// GlobalRateLimitMiddleware checks the global service-wide rate limit.
// Protects the webhook ingress from being overwhelmed regardless of sender.
func GlobalRateLimitMiddleware(rateLimiter *ratelimit.RateLimiter, cfg ratelimit.GlobalConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isInternalRequest(c) {
				return next(c)
			}

			result, err := rateLimiter.CheckGlobalLimit(c.Request().Context(), cfg.Limit)
			if err != nil {
				// fail open: a rate limiter outage must not take the node offline
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "global_rate_limit_exceeded",
					"message": "node is experiencing high load, retry later",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window_seconds":      cfg.WindowSeconds,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}

// SourceRateLimitMiddleware checks the per-sender limit for webhook
// deliveries. The source id is the request id carried in the request
// context (clients.GetRequestID); a request without one passes through
// unchecked. The message body is not parsed here.
func SourceRateLimitMiddleware(rateLimiter *ratelimit.RateLimiter, cfg ratelimit.SourceConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isInternalRequest(c) {
				return next(c)
			}

			sourceID, ok := clients.GetRequestID(c.Request().Context())
			if !ok {
				return next(c)
			}

			result, err := rateLimiter.CheckSourceLimit(c.Request().Context(), sourceID, cfg.Limit, cfg.WindowSeconds)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "source_rate_limit_exceeded",
					"message": "sender exceeded its delivery quota",
					"details": map[string]interface{}{
						"source":              sourceID,
						"limit":               result.Limit,
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}

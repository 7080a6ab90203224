package clients

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// ClientConfig holds client-level polling/retry behavior, read once at
// startup and shared by every HTTP client constructed during bootstrap.
// This is where the fixed polling cadences spec.md mandates (1s for
// broker awaits, backoff-without-timeout for the ingress health poll)
// become overridable for tests without touching call sites.
type ClientConfig struct {
	// PollInterval is the polling granularity for awaitMessage,
	// awaitAcknowledgement and the readiness barrier. spec.md fixes this
	// at 1s in production; tests override it to run fast.
	PollInterval time.Duration

	// IngressHealthBackoff is the delay between ingress /healthz polls
	// during bootstrap step 2. No timeout is ever applied here.
	IngressHealthBackoff time.Duration
}

var (
	globalConfig *ClientConfig
	configOnce   sync.Once
)

// LoadClientConfig loads client configuration from environment variables.
// Should be called once at application startup.
func LoadClientConfig() *ClientConfig {
	configOnce.Do(func() {
		globalConfig = &ClientConfig{
			PollInterval:         getEnvDuration("SDK_POLL_INTERVAL", 1*time.Second),
			IngressHealthBackoff: getEnvDuration("SDK_INGRESS_BACKOFF", 1*time.Second),
		}
	})
	return globalConfig
}

// GetClientConfig returns the global client config (loads if not already loaded)
func GetClientConfig() *ClientConfig {
	return LoadClientConfig()
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

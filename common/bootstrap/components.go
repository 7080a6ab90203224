package bootstrap

import (
	"context"
	"fmt"

	"github.com/flamehq/flame-node-sdk/common/cache"
	"github.com/flamehq/flame-node-sdk/common/config"
	"github.com/flamehq/flame-node-sdk/common/data"
	"github.com/flamehq/flame-node-sdk/common/db"
	"github.com/flamehq/flame-node-sdk/common/logger"
	"github.com/flamehq/flame-node-sdk/common/messaging"
	"github.com/flamehq/flame-node-sdk/common/nodeconfig"
	"github.com/flamehq/flame-node-sdk/common/observability"
	"github.com/flamehq/flame-node-sdk/common/queue"
	"github.com/flamehq/flame-node-sdk/common/ratelimit"
	"github.com/flamehq/flame-node-sdk/common/storage"
	"github.com/flamehq/flame-node-sdk/common/streamer"
	"github.com/flamehq/flame-node-sdk/common/telemetry"
	"github.com/flamehq/flame-node-sdk/common/webhook"
)

// Components holds every initialized participant-side dependency (spec.md
// §4.1 bootstrap sequence). Identity.RunState reflects how far bootstrap
// got: starting while connecting, stuck if the broker handshake failed,
// running once Setup completes. The webhook server itself is started
// afterwards, by sdk.New.
type Components struct {
	Config       *config.Config
	Logger       *logger.Logger
	Identity     *nodeconfig.Identity
	Participants *nodeconfig.ParticipantSet

	Messaging     *messaging.API
	Storage       *storage.Client
	Data          *data.Client // nil unless the node needs one (analyzer, or WithAggregatorRequiresData)
	Observability *observability.Client
	Progress      *logger.ProgressRecorder

	Webhook     *webhook.Server
	RateLimiter *ratelimit.RateLimiter
	Cache       cache.Cache
	Queue       queue.Queue
	DB          *db.DB // optional audit sink
	Telemetry   *telemetry.Telemetry
	Streamer    *streamer.Hub // nil unless WithDebugStream

	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components, LIFO.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	c.Logger.Info("shutdown complete")
	return nil
}

// Health reports whether every connected component is reachable.
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("audit sink unhealthy: %w", err)
		}
	}
	if !c.Identity.HasParticipant() {
		return fmt.Errorf("broker handshake not complete")
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

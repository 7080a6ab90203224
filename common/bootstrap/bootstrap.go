package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flamehq/flame-node-sdk/common/broker"
	"github.com/flamehq/flame-node-sdk/common/cache"
	"github.com/flamehq/flame-node-sdk/common/clients"
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

// Setup runs the participant-side bootstrap sequence (spec.md §4.1): load
// config and identity, wait for the ingress to answer, hand shake with the
// hub to learn this node's id and role, then connect every component a
// node of that role needs before the webhook starts serving.
//
// A failed hub handshake is not fatal: Identity.RunState is set to "stuck"
// and Setup still returns a *Components whose webhook server answers
// /healthz, matching the original SDK's behavior of surfacing the stuck
// state to the platform rather than crashing the pod.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration.
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load config: %w", err)
		}
	}

	// 2. Initialize logger.
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}
	log := components.Logger
	log.Info("bootstrapping node", "service", serviceName, "environment", components.Config.Service.Environment)

	// 3. Load node identity (ANALYSIS_ID, PROJECT_ID, DEPLOYMENT_NAME, tokens).
	components.Identity, err = nodeconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load identity: %w", err)
	}
	identity := components.Identity

	clientCfg := clients.LoadClientConfig()

	// 4. Poll the ingress /healthz until it answers. No overall timeout:
	// the ingress sidecar can take an arbitrary amount of time to come up.
	if err := waitForIngress(ctx, identity.IngressHost, clientCfg.IngressHealthBackoff, log); err != nil {
		return nil, fmt.Errorf("bootstrap: wait for ingress: %w", err)
	}

	// 5. Broker client + hub handshake. On failure the node still comes
	// up, just stuck, so operators can see it instead of a crash loop.
	brokerCl := broker.NewClient(identity, log, clientCfg.PollInterval)
	components.Messaging = messaging.NewAPI(brokerCl, log)

	participant, err := brokerCl.Self(ctx)
	if err != nil {
		log.Error("hub handshake failed, node is stuck", "error", err)
		identity.SetRunState(nodeconfig.RunStateStuck)
	} else {
		if err := identity.SetParticipant(participant.NodeID, participant.NodeType); err != nil {
			return nil, fmt.Errorf("bootstrap: set participant: %w", err)
		}

		components.Participants = nodeconfig.NewParticipantSet()
		all, err := brokerCl.Participants(ctx)
		if err != nil {
			log.Error("failed to load participant list, node is stuck", "error", err)
			identity.SetRunState(nodeconfig.RunStateStuck)
		} else if err := components.Participants.Load(all); err != nil {
			return nil, fmt.Errorf("bootstrap: load participants: %w", err)
		}
	}

	// 6. Storage client (every node needs one: analyzers push intermediate
	// results, the aggregator pushes the final one).
	components.Storage = storage.NewClient(identity, log)

	// 7. Data client: analyzers always get one; aggregators only if asked.
	needsData := identity.Role() != nodeconfig.RoleAggregator || options.aggregatorRequiresData
	if needsData {
		components.Data, err = data.NewClient(ctx, identity, log)
		if err != nil {
			log.Warn("data client unavailable, continuing without one", "error", err)
			components.Data = nil
		}
	}

	// 8. Optional Postgres audit sink for streamed progress records.
	if !options.skipAuditSink && components.Config.Database.Host != "" {
		log.Info("connecting audit sink")
		components.DB, err = db.New(ctx, components.Config, log)
		if err != nil {
			log.Warn("audit sink unavailable, continuing without one", "error", err)
			components.DB = nil
		} else {
			components.addCleanup(func() error {
				log.Info("closing audit sink")
				components.DB.Close()
				return nil
			})
		}
	}

	// 9. Observability client + progress recorder, wired to stream every
	// progress record to the hub (and, if present, mirror it to the audit sink).
	components.Observability = observability.NewClient(identity, log, components.DB)
	components.Progress = logger.NewProgressRecorder(log, 30*time.Second)
	components.Progress.Attach(ctx, components.Observability)

	// 10. Optional cache backend.
	var redisClient *redis.Client
	if !options.skipCache && components.Config.Cache.Enabled {
		if components.Config.Cache.Backend == "redis" {
			redisClient = newRedisClient()
		}
		components.Cache = cache.NewBackend(components.Config.Cache.Backend, redisClient, log)
		components.addCleanup(func() error {
			log.Info("closing cache")
			return components.Cache.Close()
		})
	}

	// 11. In-process queue, always on: it's what feeds the debug stream.
	components.Queue = queue.NewMemoryQueue(log)
	components.addCleanup(func() error {
		log.Info("closing queue")
		return components.Queue.Close()
	})

	// 12. Optional rate limiter (webhook ingress protection).
	if components.Config.RateLimit.Enabled {
		if redisClient == nil {
			redisClient = newRedisClient()
		}
		components.RateLimiter = ratelimit.NewRateLimiter(redisClient, log)
	}

	// 13. Optional pprof telemetry.
	if !options.skipTelemetry && components.Config.Telemetry.EnablePprof {
		components.Telemetry = telemetry.New(components.Config.Telemetry.PprofPort, log)
		if err := components.Telemetry.Start(ctx); err != nil {
			log.Warn("failed to start telemetry", "error", err)
		}
	}

	// 14. Optional debug event stream, fed by the queue's "debug" topic.
	if options.withDebugStream {
		components.Streamer = streamer.NewHub(log)
		stop := make(chan struct{})
		go components.Streamer.Run(stop)
		components.addCleanup(func() error {
			close(stop)
			return nil
		})
		if err := streamer.Wire(ctx, components.Queue, components.Streamer); err != nil {
			log.Warn("failed to wire debug stream", "error", err)
		}
	}

	// 15. Webhook server: health, message delivery, token refresh. Built
	// last so every TokenRefresher it registers already exists.
	refreshers := []webhook.TokenRefresher{brokerCl, components.Storage}
	if components.Data != nil {
		refreshers = append(refreshers, components.Data)
	}
	refreshers = append(refreshers, components.Observability)

	components.Webhook = webhook.New(
		identity, brokerCl, log, components.Config.Service.Port, components.RateLimiter,
		webhook.WithTokenRefreshers(refreshers...),
		webhook.WithFinishedCallback(func() {
			identity.Finish()
		}),
	)
	if components.Streamer != nil {
		components.Webhook.Echo().GET("/debug/stream", streamer.Handler(components.Streamer))
	}

	if identity.RunState() != nodeconfig.RunStateStuck {
		identity.SetRunState(nodeconfig.RunStateRunning)
	}

	log.Info("bootstrap complete",
		"node_id", identity.NodeID(),
		"role", identity.Role(),
		"run_state", identity.RunState(),
		"data_client", components.Data != nil,
		"audit_sink", components.DB != nil,
		"cache", components.Cache != nil,
		"rate_limiter", components.RateLimiter != nil,
		"debug_stream", components.Streamer != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error. Useful for cmd/node's main,
// which can't meaningfully recover from a failed bootstrap.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("bootstrap: setup %s: %v", serviceName, err))
	}
	return components
}

// waitForIngress polls the ingress health endpoint until it answers with a
// 2xx, backing off by backoff between attempts. Never times out: spec.md
// §4.1 treats an unreachable ingress as "not ready yet", not an error.
func waitForIngress(ctx context.Context, host string, backoff time.Duration, log *logger.Logger) error {
	url := fmt.Sprintf("http://%s/healthz", host)
	httpClient := &http.Client{Timeout: 5 * time.Second}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			resp, err := httpClient.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					return nil
				}
			}
		}

		log.Debug("ingress not ready, retrying", "host", host)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// newRedisClient builds a Redis connection from the environment, the way
// the orchestrator's own containers do.
func newRedisClient() *redis.Client {
	host := getEnv("REDIS_HOST", "localhost")
	port := getEnv("REDIS_PORT", "6379")
	password := getEnv("REDIS_PASSWORD", "")

	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       0,
	})
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

package bootstrap

import (
	"github.com/flamehq/flame-node-sdk/common/config"
	"github.com/flamehq/flame-node-sdk/common/logger"
)

// Option configures the bootstrap process.
type Option func(*options)

type options struct {
	skipCache              bool
	skipTelemetry          bool
	skipAuditSink          bool
	withDebugStream        bool
	aggregatorRequiresData bool
	customLogger           *logger.Logger
	customConfig           *config.Config
}

// WithoutCache skips cache initialization.
func WithoutCache() Option {
	return func(o *options) { o.skipCache = true }
}

// WithoutTelemetry skips pprof telemetry initialization.
func WithoutTelemetry() Option {
	return func(o *options) { o.skipTelemetry = true }
}

// WithoutAuditSink skips the optional Postgres audit mirror for streamed
// progress records, even if Config.Database.Host is set.
func WithoutAuditSink() Option {
	return func(o *options) { o.skipAuditSink = true }
}

// WithDebugStream starts the websocket debug event hub and mounts it at
// /debug/stream on the webhook server.
func WithDebugStream() Option {
	return func(o *options) { o.withDebugStream = true }
}

// WithAggregatorRequiresData connects the data client even for a node whose
// role is aggregator (by default only analyzer-role nodes get one).
func WithAggregatorRequiresData() Option {
	return func(o *options) { o.aggregatorRequiresData = true }
}

// WithCustomLogger uses a custom logger instead of creating one.
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithCustomConfig uses a custom config instead of loading from env.
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

func defaultOptions() *options {
	return &options{}
}

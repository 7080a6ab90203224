package ratelimit

// GlobalConfig contains global service-wide limits for the webhook ingress.
type GlobalConfig struct {
	Limit         int64 // Total requests per window (all senders)
	WindowSeconds int   // Window reported in 429 responses; CheckGlobalLimit always counts over 60 seconds
}

// DefaultGlobalConfig caps total inbound webhook traffic regardless of
// sender. It exists to protect the node process itself, not to enforce any
// per-sender fairness.
var DefaultGlobalConfig = GlobalConfig{
	Limit:         600, // 10 req/s sustained across all senders
	WindowSeconds: 60,
}

// SourceConfig contains the per-sender limit applied to webhook deliveries.
// The hub and every other node in the star are each a "source" from this
// node's point of view.
type SourceConfig struct {
	Limit         int64
	WindowSeconds int
}

// DefaultSourceConfig bounds how fast any single sender (hub or peer node)
// can deliver messages to this node's webhook.
var DefaultSourceConfig = SourceConfig{
	Limit:         120,
	WindowSeconds: 60,
}

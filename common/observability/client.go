// Package observability is the progress-streaming client (C6): it forwards
// ProgressRecorder output to the hub's progress-observer service and,
// optionally, mirrors it into the local audit sink.
package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/flamehq/flame-node-sdk/common/clients"
	"github.com/flamehq/flame-node-sdk/common/db"
	"github.com/flamehq/flame-node-sdk/common/logger"
	"github.com/flamehq/flame-node-sdk/common/nodeconfig"
)

// Client streams progress records to the hub's progress-observer service.
// It implements logger.ProgressSink, so a ProgressRecorder can Attach it
// directly once bootstrap has it ready (spec.md §4.7).
type Client struct {
	identity *nodeconfig.Identity
	http     atomic.Pointer[clients.Client]
	baseURL  string
	log      *logger.Logger
	audit    *db.DB // optional mirror; nil when no audit sink is configured
}

// NewClient constructs a progress-observer client. audit may be nil.
func NewClient(identity *nodeconfig.Identity, log *logger.Logger, audit *db.DB) *Client {
	c := &Client{
		identity: identity,
		baseURL:  fmt.Sprintf("http://%s/po", identity.IngressHost),
		log:      log,
		audit:    audit,
	}
	c.http.Store(clients.NewClient(identity.PlatformToken, log))
	return c
}

// RefreshToken swaps the underlying HTTP client for one built with the new
// bearer token (spec.md §5).
func (c *Client) RefreshToken(token string) {
	c.http.Store(clients.NewClient(token, c.log))
}

// SendProgress implements logger.ProgressSink. A failure to reach the hub is
// logged and swallowed: progress streaming is best-effort and must never
// fail analysis work (matching the original client's behavior of catching
// every exception around the POST).
func (c *Client) SendProgress(ctx context.Context, record logger.Record) error {
	payload := map[string]string{
		"log":         record.Message,
		"log_type":    string(record.LogType),
		"analysis_id": c.identity.AnalysisID,
		"status":      string(record.RunStatus),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("observability: encode progress record: %w", err)
	}

	resp, err := c.http.Load().Do(ctx, http.MethodPost, c.baseURL+"/stream_logs", bytes.NewReader(encoded))
	if err != nil {
		c.log.Warn("observability: failed to stream progress to hub", "error", err)
	} else {
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			c.log.Warn("observability: hub rejected progress record", "status", resp.StatusCode, "body", string(body))
		}
	}

	if c.audit != nil {
		c.audit.InsertLogRecord(ctx, c.identity.NodeID(), record)
	}
	return nil
}

package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flamehq/flame-node-sdk/common/clients"
	"github.com/flamehq/flame-node-sdk/common/logger"
	"github.com/flamehq/flame-node-sdk/common/nodeconfig"
)

// Client is the HTTP transport to the message broker (C3): subscribe,
// publish, list participants, and the send/receive/await surface on top of
// a node-local Log. Per spec.md §5, the underlying HTTP client is an
// immutable reference swapped atomically only on token refresh; every
// outstanding request keeps using the client it captured at call time.
type Client struct {
	identity *nodeconfig.Identity
	log      *Log
	seq      int64
	http     atomic.Pointer[clients.Client]
	baseURL  string // http://{ingressHost}
	logr      *logger.Logger
	poll     time.Duration
}

// NewClient constructs a broker client for the given identity. The broker's
// base URL is derived from the identity's ingress host (http://{ingressHost}).
func NewClient(identity *nodeconfig.Identity, log *logger.Logger, pollInterval time.Duration) *Client {
	c := &Client{
		identity: identity,
		log:      NewLog(),
		baseURL:  fmt.Sprintf("http://%s", identity.IngressHost),
		logr:     log,
		poll:     pollInterval,
	}
	c.http.Store(clients.NewClient(identity.PlatformToken, log))
	return c
}

// Log exposes the underlying message log for components that need direct
// read access (the messaging API, C8).
func (c *Client) Log() *Log { return c.log }

// RefreshToken swaps the underlying HTTP client for one built with the new
// bearer token. Outstanding requests keep the client they already captured.
func (c *Client) RefreshToken(token string) {
	c.http.Store(clients.NewClient(token, c.logr))
}

func (c *Client) client() *clients.Client {
	return c.http.Load()
}

func (c *Client) analysesPath(suffix string) string {
	return fmt.Sprintf("%s/analyses/%s%s", c.baseURL, c.identity.AnalysisID, suffix)
}

func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("broker: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	resp, err := c.client().Do(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("broker: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("broker: %s %s returned %d: %s", method, url, resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Subscribe registers the node's webhook URL with the broker. Idempotent.
func (c *Client) Subscribe(ctx context.Context, webhookURL string) error {
	return c.do(ctx, http.MethodPost, c.analysesPath("/messages/subscriptions"), map[string]string{
		"webhookUrl": webhookURL,
	}, nil)
}

// Self fetches the calling node's own participant record, learning its
// nodeId and role.
func (c *Client) Self(ctx context.Context) (nodeconfig.Participant, error) {
	var resp struct {
		NodeID   string          `json:"nodeId"`
		NodeType nodeconfig.Role `json:"nodeType"`
	}
	if err := c.do(ctx, http.MethodGet, c.analysesPath("/participants/self"), nil, &resp); err != nil {
		return nodeconfig.Participant{}, err
	}
	return nodeconfig.Participant{NodeID: resp.NodeID, NodeType: resp.NodeType}, nil
}

// Participants fetches the full participant list.
func (c *Client) Participants(ctx context.Context) ([]nodeconfig.Participant, error) {
	var resp []struct {
		NodeID   string          `json:"nodeId"`
		NodeType nodeconfig.Role `json:"nodeType"`
	}
	if err := c.do(ctx, http.MethodGet, c.analysesPath("/participants"), nil, &resp); err != nil {
		return nil, err
	}
	participants := make([]nodeconfig.Participant, len(resp))
	for i, p := range resp {
		participants[i] = nodeconfig.Participant{NodeID: p.NodeID, NodeType: p.NodeType}
	}
	return participants, nil
}

// Send assigns meta.number and meta.id, appends the message to the outgoing
// log, and POSTs it to every receiver. It does not block on delivery or
// acknowledgement.
func (c *Client) Send(ctx context.Context, receivers []string, category string, body map[string]any) (Message, error) {
	msg, err := NewMessage(category, c.identity.NodeID(), body)
	if err != nil {
		return Message{}, err
	}

	number := atomic.AddInt64(&c.seq, 1)
	msg.Meta.Number = number
	msg.Meta.ID = fmt.Sprintf("%s-%d-%s", c.identity.NodeID(), number, uuid.New().String())

	c.log.AppendOutgoing(msg)

	if err := c.post(ctx, receivers, msg); err != nil {
		c.logr.Warn("broker send failed", "category", category, "receivers", receivers, "error", err)
		return msg, err
	}
	return msg, nil
}

func (c *Client) post(ctx context.Context, receivers []string, msg Message) error {
	return c.do(ctx, http.MethodPost, c.analysesPath("/messages"), map[string]any{
		"recipients": receivers,
		"message":    msg,
	}, nil)
}

// Receive is called by the webhook with one inbound message body. It
// records arrival time, deduplicates on meta.id plus akn_id (at-least-once
// delivery; see SPEC_FULL.md Open Question decision 1), and — for a first delivery —
// sets akn_id to this node's own id and echoes the message back to the
// sender as the acknowledgement (spec.md §4.2). An already-acknowledged
// message (an ack echo arriving back at the original sender) is recorded
// but not re-echoed, preventing acknowledgement storms.
func (c *Client) Receive(ctx context.Context, msg Message) error {
	now := time.Now()
	msg.Meta.ArrivedAt = &now
	msg.Meta.Type = DirectionIncoming

	needsAck := msg.Meta.AknID == nil
	if needsAck {
		self := c.identity.NodeID()
		msg.Meta.AknID = &self
	}

	if !c.log.AppendIncoming(msg) {
		return nil
	}

	if needsAck {
		return c.echo(ctx, msg)
	}
	return nil
}

func (c *Client) echo(ctx context.Context, msg Message) error {
	echoMeta := msg.Meta
	echoMeta.Type = DirectionOutgoing
	echoMsg := Message{Meta: echoMeta, Body: msg.Body}
	c.log.AppendOutgoing(echoMsg)
	return c.post(ctx, []string{msg.Meta.Sender}, echoMsg)
}

// AwaitMessage inspects the incoming log for unread matches; if none, polls
// every c.poll until an incoming arrival satisfies the predicate, then
// returns every match present at that moment.
func (c *Client) AwaitMessage(ctx context.Context, senderID, category, messageID string) (string, []Message, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		if matches := c.log.MatchUnreadIncoming(senderID, category, messageID); len(matches) > 0 {
			return senderID, matches, nil
		}

		select {
		case <-ctx.Done():
			return senderID, nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AwaitAcknowledgement blocks until an incoming message exists whose
// meta.id equals outgoingID and whose meta.akn_id equals receiverID.
func (c *Client) AwaitAcknowledgement(ctx context.Context, outgoingID, receiverID string) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		if c.log.HasAcknowledgement(outgoingID, receiverID) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DeleteByID removes a message from the named direction's log.
func (c *Client) DeleteByID(id string, direction Direction) bool {
	return c.log.DeleteByID(id, direction)
}

// Clear removes matching messages from the named direction's log.
func (c *Client) Clear(direction Direction, status Status, minAge time.Duration) int {
	return c.log.Clear(direction, status, minAge)
}

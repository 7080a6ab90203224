// Package sdk is the participant-facing façade (spec.md C10): the single
// type an analysis script imports to talk to the hub, its peers and its
// storage, without knowing how bootstrap wired any of it together.
package sdk

import (
	"context"
	"fmt"
	"time"

	"github.com/flamehq/flame-node-sdk/common/bootstrap"
	"github.com/flamehq/flame-node-sdk/common/broker"
	"github.com/flamehq/flame-node-sdk/common/logger"
	"github.com/flamehq/flame-node-sdk/common/messaging"
	"github.com/flamehq/flame-node-sdk/common/nodeconfig"
	"github.com/flamehq/flame-node-sdk/common/storage"
)

// SDK wraps a bootstrapped set of Components with the operation set a
// participant script uses day to day.
type SDK struct {
	components *bootstrap.Components
	log        *logger.Logger
}

// New bootstraps a node and returns its façade. serviceName is used for
// config/logger naming only; it is not the node id (the hub assigns that).
func New(ctx context.Context, serviceName string, opts ...bootstrap.Option) (*SDK, error) {
	components, err := bootstrap.Setup(ctx, serviceName, opts...)
	if err != nil {
		return nil, fmt.Errorf("sdk: %w", err)
	}

	s := &SDK{components: components, log: components.Logger}

	go func() {
		if err := components.Webhook.Start(ctx); err != nil {
			s.log.Error("webhook server stopped", "error", err)
		}
	}()

	return s, nil
}

// Components exposes the underlying bootstrapped components for callers
// that need something the façade doesn't wrap directly (e.g. the star
// orchestrator, which reads Identity and Participants straight through).
func (s *SDK) Components() *bootstrap.Components { return s.components }

// Shutdown tears down every component, LIFO.
func (s *SDK) Shutdown(ctx context.Context) error { return s.components.Shutdown(ctx) }

// ---- General ----------------------------------------------------------

// GetAggregatorID returns the node id of the participant whose role is
// aggregator, or "" if the handshake hasn't completed or none exists.
func (s *SDK) GetAggregatorID() string {
	if s.components.Participants == nil {
		return ""
	}
	if p, ok := s.components.Participants.Aggregator(); ok {
		return p.NodeID
	}
	return ""
}

// GetParticipants returns every known participant.
func (s *SDK) GetParticipants() []nodeconfig.Participant {
	if s.components.Participants == nil {
		return nil
	}
	return s.components.Participants.All()
}

// GetParticipantIDs returns the node ids of every known participant.
func (s *SDK) GetParticipantIDs() []string {
	all := s.GetParticipants()
	ids := make([]string, len(all))
	for i, p := range all {
		ids[i] = p.NodeID
	}
	return ids
}

func (s *SDK) GetAnalysisID() string { return s.components.Identity.AnalysisID }
func (s *SDK) GetProjectID() string  { return s.components.Identity.ProjectID }
func (s *SDK) GetID() string         { return s.components.Identity.NodeID() }
func (s *SDK) GetRole() nodeconfig.Role { return s.components.Identity.Role() }

// AnalysisFinished broadcasts analysis_finished to every participant, then
// marks this node finished. It is idempotent: Identity.Finish may already
// have run via the webhook receiving the same message from a peer.
func (s *SDK) AnalysisFinished(ctx context.Context) bool {
	ids := s.GetParticipantIDs()
	if len(ids) > 0 {
		if _, _, err := s.components.Messaging.SendMessage(ctx, ids, "analysis_finished", map[string]any{},
			messaging.WithMaxAttempts(5), messaging.WithPerAttemptTimeout(30*time.Second)); err != nil {
			s.log.Warn("failed to broadcast analysis_finished", "error", err)
		}
	}
	s.components.Identity.Finish()
	return s.components.Identity.Finished()
}

// ReadyCheck sends repeated ready_check messages to nodes (or every
// participant, if nodes is nil) until each has acknowledged at least once,
// or timeout elapses. A zero timeout waits indefinitely.
func (s *SDK) ReadyCheck(ctx context.Context, nodes []string, attemptInterval, timeout time.Duration) map[string]bool {
	if nodes == nil {
		nodes = s.GetParticipantIDs()
	}

	received := make(map[string]bool, len(nodes))
	pending := append([]string(nil), nodes...)
	for _, n := range nodes {
		received[n] = false
	}

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for len(pending) > 0 {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		acked, _, err := s.components.Messaging.SendMessage(ctx, pending, "ready_check", map[string]any{},
			messaging.WithPerAttemptTimeout(attemptInterval))
		if err != nil {
			s.log.Warn("ready_check send failed", "error", err)
		}

		for _, n := range acked {
			received[n] = true
		}
		pending = remaining(pending, acked)

		select {
		case <-ctx.Done():
			return received
		case <-time.After(time.Second):
		}
	}

	return received
}

func remaining(all, acked []string) []string {
	ackedSet := make(map[string]bool, len(acked))
	for _, a := range acked {
		ackedSet[a] = true
	}
	out := make([]string, 0, len(all))
	for _, n := range all {
		if !ackedSet[n] {
			out = append(out, n)
		}
	}
	return out
}

// ---- Messaging ----------------------------------------------------------

func (s *SDK) SendMessage(ctx context.Context, receivers []string, category string, body map[string]any, opts ...messaging.SendOption) ([]string, []string, error) {
	return s.components.Messaging.SendMessage(ctx, receivers, category, body, opts...)
}

func (s *SDK) AwaitMessages(ctx context.Context, senders []string, category, messageID string, timeout time.Duration) map[string][]broker.Message {
	return s.components.Messaging.AwaitMessages(ctx, senders, category, messageID, timeout)
}

func (s *SDK) SendMessageAndWaitForResponses(ctx context.Context, receivers []string, category string, body map[string]any, awaitTimeout time.Duration, opts ...messaging.SendOption) (acked, notAcked []string, responses map[string][]broker.Message, err error) {
	return s.components.Messaging.SendAndAwait(ctx, receivers, category, body, awaitTimeout, opts...)
}

func (s *SDK) GetMessages(status broker.Status) []broker.Message {
	return s.components.Messaging.GetMessages(status)
}

func (s *SDK) DeleteMessages(ids []string) { s.components.Messaging.DeleteByID(ids) }

func (s *SDK) ClearMessages(status broker.Status, minAge time.Duration) {
	s.components.Messaging.Clear(status, minAge)
}

// ---- Storage --------------------------------------------------------

func (s *SDK) SubmitFinalResult(ctx context.Context, result any, outputType storage.OutputType, localDP *storage.LocalDPParams) (storage.Receipt, error) {
	if s.components.Identity.Role() != nodeconfig.RoleAggregator {
		return storage.Receipt{}, fmt.Errorf("sdk: only the aggregator may submit a final result")
	}
	return s.components.Storage.SubmitFinalResult(ctx, result, outputType, localDP)
}

func (s *SDK) SaveIntermediateData(ctx context.Context, data any, location storage.Location, tag string) (storage.Receipt, error) {
	return s.components.Storage.SaveIntermediateData(ctx, data, location, tag)
}

func (s *SDK) SaveIntermediateDataEncrypted(ctx context.Context, data any, remoteNodeIDs []string) (map[string]storage.Receipt, error) {
	return s.components.Storage.SaveIntermediateDataEncrypted(ctx, data, remoteNodeIDs)
}

func (s *SDK) GetIntermediateData(ctx context.Context, location storage.Location, id, senderNodeID string) (any, error) {
	return s.components.Storage.GetIntermediateData(ctx, location, id, senderNodeID)
}

func (s *SDK) GetLocalTags(ctx context.Context, filter string) ([]string, error) {
	return s.components.Storage.GetLocalTags(ctx, filter)
}

// SendIntermediateData saves data globally (encrypted per-recipient if
// encrypted is set) then messages receivers with the resulting result id
// under "result_id", combining a save and a send into one round trip.
func (s *SDK) SendIntermediateData(ctx context.Context, receivers []string, data any, category string, encrypted bool, opts ...messaging.SendOption) ([]string, []string, error) {
	if category == "" {
		category = "intermediate_data"
	}

	var body map[string]any
	if encrypted {
		receipts, err := s.components.Storage.SaveIntermediateDataEncrypted(ctx, data, receivers)
		if err != nil {
			return nil, nil, fmt.Errorf("sdk: save encrypted intermediate data: %w", err)
		}
		ids := make(map[string]string, len(receipts))
		for node, r := range receipts {
			ids[node] = r.ID
		}
		body = map[string]any{"result_id": ids}
	} else {
		receipt, err := s.components.Storage.SaveIntermediateData(ctx, data, storage.LocationGlobal, "")
		if err != nil {
			return nil, nil, fmt.Errorf("sdk: save intermediate data: %w", err)
		}
		body = map[string]any{"result_id": receipt.ID}
	}

	return s.components.Messaging.SendMessage(ctx, receivers, category, body, opts...)
}

// AwaitIntermediateData waits for a category message from each sender and
// retrieves the intermediate data it references, unwrapping an
// encrypted-mode per-recipient result_id map using this node's own id. A
// sender that never responds maps to a nil value.
func (s *SDK) AwaitIntermediateData(ctx context.Context, senders []string, category string, timeout time.Duration) map[string]any {
	if category == "" {
		category = "intermediate_data"
	}

	result := make(map[string]any, len(senders))
	for _, sender := range senders {
		result[sender] = nil
	}

	messagesBySender := s.components.Messaging.AwaitMessages(ctx, senders, category, "", timeout)
	for sender, msgs := range messagesBySender {
		if len(msgs) == 0 {
			continue
		}
		last := msgs[len(msgs)-1]

		resultIDRaw, ok := last.Body["result_id"]
		if !ok {
			continue
		}

		var (
			resultID    string
			senderNode  string
			isEncrypted bool
		)
		if m, ok := resultIDRaw.(map[string]any); ok {
			isEncrypted = true
			if v, ok := m[s.GetID()].(string); ok {
				resultID = v
			}
			senderNode = sender
		} else if v, ok := resultIDRaw.(string); ok {
			resultID = v
		}

		if resultID == "" {
			continue
		}

		data, err := s.components.Storage.GetIntermediateData(ctx, storage.LocationGlobal, resultID, senderNode)
		if err != nil {
			s.log.Warn("failed to fetch intermediate data", "sender", sender, "error", err)
			continue
		}
		_ = isEncrypted
		result[sender] = data
	}

	return result
}

// ---- Data -------------------------------------------------------------

func (s *SDK) GetDataClient(dataID string) (string, error) {
	if s.components.Data == nil {
		return "", fmt.Errorf("sdk: no data client connected for this node")
	}
	url, _, err := s.components.Data.GetDataClient(dataID)
	return url, err
}

func (s *SDK) GetDataSources() []string {
	if s.components.Data == nil {
		return nil
	}
	sources := s.components.Data.ListSources()
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = src.Name
	}
	return names
}

func (s *SDK) GetFHIRData(ctx context.Context, queries []string) []map[string]any {
	if s.components.Data == nil {
		return nil
	}
	return s.components.Data.GetFHIR(ctx, queries)
}

func (s *SDK) GetS3Data(ctx context.Context, keys []string) ([]map[string][]byte, error) {
	if s.components.Data == nil {
		return nil, fmt.Errorf("sdk: no data client connected for this node")
	}
	return s.components.Data.GetS3(ctx, keys)
}

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flamehq/flame-node-sdk/common/broker"
	"github.com/flamehq/flame-node-sdk/common/logger"
	"github.com/flamehq/flame-node-sdk/common/nodeconfig"
)

// fakeHub answers /messages POSTs by immediately echoing every message back
// as an acknowledgement into the sending node's own broker client, mimicking
// the hub's ack-echo protocol without a real server on the other side.
func newAPIWithFakeHub(t *testing.T, ackAll bool) *API {
	t.Helper()

	var brokerClient *broker.Client
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			w.WriteHeader(http.StatusOK)
			return
		}
		if !ackAll {
			w.WriteHeader(http.StatusOK)
			return
		}
		var body struct {
			Recipients []string       `json:"recipients"`
			Message    broker.Message `json:"message"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)

		go func() {
			for _, recipient := range body.Recipients {
				ack := body.Message
				acknowledger := recipient
				ack.Meta.AknID = &acknowledger
				brokerClient.Receive(context.Background(), ack)
			}
		}()
	}))
	t.Cleanup(srv.Close)

	identity := &nodeconfig.Identity{
		AnalysisID:  "analysis-1",
		IngressHost: strings.TrimPrefix(srv.URL, "http://"),
	}
	identity.SetParticipant("node-1", nodeconfig.RoleDefault)

	log := logger.New("error", "json")
	brokerClient = broker.NewClient(identity, log, 5*time.Millisecond)
	return NewAPI(brokerClient, log)
}

func TestSendMessageAllAcked(t *testing.T) {
	api := newAPIWithFakeHub(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	acked, notAcked, err := api.SendMessage(ctx, []string{"node-2", "node-3"}, "intermediate_results", map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notAcked) != 0 {
		t.Fatalf("expected no unacked receivers, got %v", notAcked)
	}
	if len(acked) != 2 {
		t.Fatalf("expected both receivers acked, got %v", acked)
	}
}

func TestSendMessageRetriesUnacked(t *testing.T) {
	api := newAPIWithFakeHub(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	acked, notAcked, err := api.SendMessage(ctx, []string{"node-2"}, "intermediate_results", map[string]any{"n": 1},
		WithMaxAttempts(2), WithPerAttemptTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(acked) != 0 {
		t.Fatalf("expected no acks from a hub that never echoes, got %v", acked)
	}
	if len(notAcked) != 1 || notAcked[0] != "node-2" {
		t.Fatalf("got notAcked %v", notAcked)
	}
}

func TestGetMessagesFiltersByStatus(t *testing.T) {
	api := newAPIWithFakeHub(t, false)

	msg, _ := broker.NewMessage("intermediate_results", "node-2", map[string]any{})
	msg.Meta.ID = "m1"
	api.broker.Log().AppendIncoming(msg)
	api.broker.Log().MarkRead([]string{"m1"})

	msg2, _ := broker.NewMessage("intermediate_results", "node-2", map[string]any{})
	msg2.Meta.ID = "m2"
	api.broker.Log().AppendIncoming(msg2)

	unread := api.GetMessages(broker.StatusUnread)
	if len(unread) != 1 || unread[0].Meta.ID != "m2" {
		t.Fatalf("got %+v", unread)
	}

	all := api.GetMessages("")
	if len(all) != 2 {
		t.Fatalf("expected both messages without a status filter, got %d", len(all))
	}
}

func TestDeleteByIDRemovesFromBothLogs(t *testing.T) {
	api := newAPIWithFakeHub(t, false)

	in, _ := broker.NewMessage("intermediate_results", "node-2", map[string]any{})
	in.Meta.ID = "shared-id"
	api.broker.Log().AppendIncoming(in)

	out, _ := broker.NewMessage("intermediate_results", "node-1", map[string]any{})
	out.Meta.ID = "shared-id"
	api.broker.Log().AppendOutgoing(out)

	api.DeleteByID([]string{"shared-id"})

	if len(api.broker.Log().Messages(broker.DirectionIncoming)) != 0 {
		t.Fatal("expected incoming log entry to be removed")
	}
	if len(api.broker.Log().Messages(broker.DirectionOutgoing)) != 0 {
		t.Fatal("expected outgoing log entry to be removed")
	}
}

func TestAwaitMessagesMarksMatchesRead(t *testing.T) {
	api := newAPIWithFakeHub(t, false)

	msg, _ := broker.NewMessage("aggregated_results", "aggregator-0", map[string]any{"result": 1})
	msg.Meta.ID = "agg-1"
	api.broker.Log().AppendIncoming(msg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	results := api.AwaitMessages(ctx, []string{"aggregator-0"}, "aggregated_results", "", 200*time.Millisecond)
	if len(results["aggregator-0"]) != 1 {
		t.Fatalf("got %+v", results)
	}

	if unread := api.GetMessages(broker.StatusUnread); len(unread) != 0 {
		t.Fatalf("expected the matched message to be marked read, got %+v", unread)
	}
}

func TestAwaitMessagesTimesOutPerSender(t *testing.T) {
	api := newAPIWithFakeHub(t, false)

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)
	var results map[string][]broker.Message
	go func() {
		defer wg.Done()
		results = api.AwaitMessages(ctx, []string{"aggregator-0"}, "aggregated_results", "", 30*time.Millisecond)
	}()
	wg.Wait()

	if results["aggregator-0"] != nil {
		t.Fatalf("expected a nil slice for a sender that never responds, got %+v", results["aggregator-0"])
	}
}

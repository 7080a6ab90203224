package broker

import (
	"encoding/json"
	"testing"
)

func TestNewMessageRejectsReservedKey(t *testing.T) {
	_, err := NewMessage("intermediate_results", "node-1", map[string]any{"meta": "oops"})
	if err != ErrReservedMetaKey {
		t.Fatalf("got %v, want ErrReservedMetaKey", err)
	}
}

func TestNewMessageDefaults(t *testing.T) {
	msg, err := NewMessage("intermediate_results", "node-1", map[string]any{"result": 1.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Meta.Status != StatusUnread {
		t.Fatalf("got status %v", msg.Meta.Status)
	}
	if msg.Meta.Type != DirectionOutgoing {
		t.Fatalf("got type %v", msg.Meta.Type)
	}
	if msg.Meta.Acknowledged() {
		t.Fatal("a freshly built message must not be acknowledged")
	}
}

func TestMessageMarshalUnmarshalRoundTrip(t *testing.T) {
	msg, err := NewMessage("aggregated_results", "aggregator-0", map[string]any{"delta": 0.01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg.Meta.ID = "msg-1"
	msg.Meta.Number = 7

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("unmarshal to map: %v", err)
	}
	if _, ok := flat["meta"]; !ok {
		t.Fatal("expected a top-level 'meta' key on the wire")
	}
	if _, ok := flat["delta"]; !ok {
		t.Fatal("expected body fields flattened to the top level")
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal to Message: %v", err)
	}
	if decoded.Meta.ID != "msg-1" || decoded.Meta.Number != 7 {
		t.Fatalf("meta round trip mismatch: %+v", decoded.Meta)
	}
	if decoded.Body["delta"] != 0.01 {
		t.Fatalf("body round trip mismatch: %+v", decoded.Body)
	}
	if _, ok := decoded.Body["meta"]; ok {
		t.Fatal("meta must not leak into Body after unmarshal")
	}
}

func TestMessageUnmarshalRequiresMeta(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"delta":1}`), &msg); err == nil {
		t.Fatal("expected an error when 'meta' is missing")
	}
}

package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MetaKey is the reserved field name under which MessageMeta travels in a
// message body. User bodies must not set it on send.
const MetaKey = "meta"

// ErrReservedMetaKey is raised synchronously (spec.md §7, Protocol
// violation) when a caller's body already contains the reserved meta key.
var ErrReservedMetaKey = errors.New("broker: body must not contain reserved 'meta' key")

// Status is the read/unread state of a message in a node's local log.
type Status string

const (
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
)

// Direction distinguishes a node's outgoing log from its incoming log.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Meta is attached to every message under the reserved "meta" key.
// Invariants (spec.md §3): on send, AknID is nil and Status is unread; on
// first receipt, if AknID is nil the receiver sets it to its own node id and
// echoes the message back unchanged otherwise — that echo IS the
// acknowledgement.
type Meta struct {
	ID        string     `json:"id"`
	Number    int64      `json:"number"`
	Category  string     `json:"category"`
	Sender    string     `json:"sender"`
	AknID     *string    `json:"akn_id"`
	Status    Status     `json:"status"`
	Type      Direction  `json:"type"`
	CreatedAt time.Time  `json:"created_at"`
	ArrivedAt *time.Time `json:"arrived_at,omitempty"`
}

// Acknowledged reports whether this message has already been acknowledged.
func (m Meta) Acknowledged() bool {
	return m.AknID != nil
}

// Message is a body of arbitrary, user-supplied JSON fields plus its
// protocol metadata. Body never contains the "meta" key: that key is
// represented by the Meta field and merged in only at the wire boundary,
// keeping Meta strongly typed while exposing the rest of the body to user
// code as an opaque map (spec.md §9, "dynamic body shapes").
type Message struct {
	Meta Meta
	Body map[string]any
}

// NewMessage builds an outgoing message body, rejecting a body that already
// carries the reserved meta key.
func NewMessage(category, sender string, body map[string]any) (Message, error) {
	if _, reserved := body[MetaKey]; reserved {
		return Message{}, ErrReservedMetaKey
	}
	return Message{
		Meta: Meta{
			Category:  category,
			Sender:    sender,
			Status:    StatusUnread,
			Type:      DirectionOutgoing,
			CreatedAt: time.Now(),
		},
		Body: body,
	}, nil
}

// MarshalJSON merges Meta under "meta" with the rest of Body at the top
// level, matching the wire shape the broker expects.
func (m Message) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(m.Body)+1)
	for k, v := range m.Body {
		flat[k] = v
	}
	flat[MetaKey] = m.Meta
	return json.Marshal(flat)
}

// UnmarshalJSON splits the wire shape back into Meta and Body.
func (m *Message) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	rawMeta, ok := flat[MetaKey]
	if !ok {
		return fmt.Errorf("broker: message missing required 'meta' field")
	}
	var meta Meta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return fmt.Errorf("broker: invalid meta: %w", err)
	}
	delete(flat, MetaKey)

	body := make(map[string]any, len(flat))
	for k, raw := range flat {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("broker: invalid body field %q: %w", k, err)
		}
		body[k] = v
	}

	m.Meta = meta
	m.Body = body
	return nil
}

package broker

import (
	"sync"
	"time"
)

// Log holds a node's full outgoing and incoming message history. It is the
// single authoritative copy (spec.md §3, "C3 exclusively owns MessageLog");
// every other component reaches it only through the messaging API (C8).
// Mutated on send, on webhook receipt, and by read/clear maintenance calls.
type Log struct {
	mu       sync.Mutex
	outgoing []Message
	incoming []Message
}

// NewLog creates an empty message log.
func NewLog() *Log {
	return &Log{}
}

// AppendOutgoing records a message the node has sent.
func (l *Log) AppendOutgoing(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outgoing = append(l.outgoing, msg)
}

// AppendIncoming records a message the node has received, returning false
// without appending if a message with the same meta.id and the same akn_id
// is already present (at-least-once delivery, client-side dedup — see Open
// Question decision 1 in SPEC_FULL.md). Acknowledgement echoes of one
// message from different receivers share a meta.id but differ in akn_id,
// so each of them is kept.
func (l *Log) AppendIncoming(msg Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.incoming {
		if existing.Meta.ID != msg.Meta.ID {
			continue
		}
		a, b := existing.Meta.AknID, msg.Meta.AknID
		if (a == nil && b == nil) || (a != nil && b != nil && *a == *b) {
			return false
		}
	}
	l.incoming = append(l.incoming, msg)
	return true
}

// FindIncoming returns the incoming message with the given meta.id, if any.
func (l *Log) FindIncoming(id string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range l.incoming {
		if msg.Meta.ID == id {
			return msg, true
		}
	}
	return Message{}, false
}

// MatchUnreadIncoming returns every unread incoming message satisfying the
// predicate, in log order: sender == senderID, category == category,
// status == unread, and (messageID == "" or id == messageID) — the
// awaitMessage predicate from spec.md §4.2.
func (l *Log) MatchUnreadIncoming(senderID, category, messageID string) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matches []Message
	for _, msg := range l.incoming {
		if msg.Meta.Status != StatusUnread {
			continue
		}
		if msg.Meta.Sender != senderID || msg.Meta.Category != category {
			continue
		}
		if messageID != "" && msg.Meta.ID != messageID {
			continue
		}
		matches = append(matches, msg)
	}
	return matches
}

// HasAcknowledgement reports whether the incoming log contains a message
// whose meta.id equals outgoingID and whose meta.akn_id equals receiverID —
// the condition awaitAcknowledgement blocks on.
func (l *Log) HasAcknowledgement(outgoingID, receiverID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range l.incoming {
		if msg.Meta.ID == outgoingID && msg.Meta.AknID != nil && *msg.Meta.AknID == receiverID {
			return true
		}
	}
	return false
}

// MarkRead transitions every message in ids to read. Once read, a message
// is never again returned by MatchUnreadIncoming (spec.md invariant 5).
func (l *Log) MarkRead(ids []string) {
	if len(ids) == 0 {
		return
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.incoming {
		if set[l.incoming[i].Meta.ID] {
			l.incoming[i].Meta.Status = StatusRead
		}
	}
}

// DeleteByID removes a message with the given id from the named direction's
// log, reporting whether anything was removed.
func (l *Log) DeleteByID(id string, direction Direction) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.listFor(direction)
	for i, msg := range *list {
		if msg.Meta.ID == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes every message in the named direction matching status (if
// non-empty) and at least minAge old (if positive).
func (l *Log) Clear(direction Direction, status Status, minAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.listFor(direction)
	kept := (*list)[:0]
	removed := 0
	now := time.Now()
	for _, msg := range *list {
		matchesStatus := status == "" || msg.Meta.Status == status
		matchesAge := minAge <= 0 || now.Sub(msg.Meta.CreatedAt) >= minAge
		if matchesStatus && matchesAge {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	*list = kept
	return removed
}

// Messages returns a snapshot copy of the named direction's log.
func (l *Log) Messages(direction Direction) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.listFor(direction)
	out := make([]Message, len(*list))
	copy(out, *list)
	return out
}

func (l *Log) listFor(direction Direction) *[]Message {
	if direction == DirectionOutgoing {
		return &l.outgoing
	}
	return &l.incoming
}

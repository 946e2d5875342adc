// Package events carries typed notifications between the connection flow, the
// transcription tracker and dashboard clients.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind names an event type on the wire
type Kind string

const (
	KindConnectionState     Kind = "connection.state"
	KindConnectionQR        Kind = "connection.qr"
	KindConnectionConnected Kind = "connection.connected"
	KindTicketAssumed       Kind = "ticket.assumed"
	KindTranscription       Kind = "transcription.state"
	KindSessionStatus       Kind = "session.status"
	KindMessageReceived     Kind = "message.received"
)

// Payload is implemented by every event body
type Payload interface {
	EventKind() Kind
}

// Event is what subscribers receive
type Event struct {
	Kind Kind      `json:"type"`
	At   time.Time `json:"at"`
	Data Payload   `json:"data"`
}

// ConnectionState reports a bootstrap flow transition
type ConnectionState struct {
	UserID  string `json:"userId"`
	Session string `json:"session,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
	Error   string `json:"error,omitempty"`
}

func (ConnectionState) EventKind() Kind { return KindConnectionState }

// ConnectionQR reports that a new QR image is available
type ConnectionQR struct {
	UserID  string `json:"userId"`
	Session string `json:"session"`
	Source  string `json:"source"`
}

func (ConnectionQR) EventKind() Kind { return KindConnectionQR }

// Connected reports a working session
type Connected struct {
	UserID  string `json:"userId"`
	Session string `json:"session"`
}

func (Connected) EventKind() Kind { return KindConnectionConnected }

// TicketAssumed is published when an attendant takes over a conversation
type TicketAssumed struct {
	TicketID    string `json:"ticketId"`
	ContactID   string `json:"contactId,omitempty"`
	AttendantID string `json:"attendantId"`
}

func (TicketAssumed) EventKind() Kind { return KindTicketAssumed }

// TranscriptionState reports progress of an audio transcription
type TranscriptionState struct {
	MessageID string `json:"messageId"`
	State     string `json:"state"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (TranscriptionState) EventKind() Kind { return KindTranscription }

// SessionStatus relays a status change pushed by the gateway
type SessionStatus struct {
	Session string `json:"session"`
	Status  string `json:"status"`
}

func (SessionStatus) EventKind() Kind { return KindSessionStatus }

// MessageReceived carries an inbound or outbound chat message and its rendering
type MessageReceived struct {
	Session   string      `json:"session"`
	MessageID string      `json:"messageId"`
	Chat      string      `json:"chat"`
	Kind      string      `json:"kind"`
	Text      string      `json:"text,omitempty"`
	View      interface{} `json:"view,omitempty"`
}

func (MessageReceived) EventKind() Kind { return KindMessageReceived }

// Subscription receives events on C until it is cancelled or the bus closes
type Subscription struct {
	C     <-chan Event
	ch    chan Event
	kinds map[Kind]bool
}

func (s *Subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Bus is an in-process publish/subscribe channel. Publish never blocks; events for a
// subscriber whose buffer is full are dropped and counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	next    uint64
	closed  bool
	dropped atomic.Uint64
	now     func() time.Time
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[uint64]*Subscription),
		now:  time.Now,
	}
}

// Subscribe registers a subscriber for the given kinds (all kinds when none are given).
// The returned function cancels the subscription and closes C.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) (*Subscription, func()) {
	if buffer < 1 {
		buffer = 1
	}

	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, kinds: make(map[Kind]bool, len(kinds))}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return sub, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

// Publish delivers p to every interested subscriber
func (b *Bus) Publish(p Payload) {
	if p == nil {
		return
	}

	evt := Event{Kind: p.EventKind(), At: b.now(), Data: p}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.wants(evt.Kind) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscription; later publishes are ignored
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

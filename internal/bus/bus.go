// Package bus is the in-process publish/subscribe channel between call
// sessions and dashboard subscribers. Publication never blocks the owning
// session: each subscriber has a bounded queue and is disconnected when it
// falls behind.
package bus

import (
	"context"
	"sync"
	"time"

	"call-server/internal/metrics"
	"call-server/internal/observability"
)

// EventKind labels a transcript event.
type EventKind string

const (
	EventTranscript  EventKind = "transcript"
	EventStateChange EventKind = "state_change"
	EventBooking     EventKind = "booking"
	EventError       EventKind = "error"
)

// TranscriptEvent is the immutable record broadcast for every call
// transition. Seq is strictly increasing per call and never reused.
type TranscriptEvent struct {
	CallID    string      `json:"call_id"`
	Seq       uint64      `json:"seq"`
	Kind      EventKind   `json:"kind"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// TranscriptPayload carries one transcript line.
type TranscriptPayload struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// StateChangePayload carries a state machine transition.
type StateChangePayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// BookingPayload carries a booking outcome.
type BookingPayload struct {
	Status          string    `json:"status"`
	SlotStart       time.Time `json:"slot_start,omitempty"`
	TechnicianName  string    `json:"technician_name,omitempty"`
	ConfirmationRef string    `json:"confirmation_ref,omitempty"`
}

// ErrorPayload carries a caller-invisible failure surfaced for operators.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Subscription is one subscriber's ordered event feed. C is closed when the
// call ends or the subscriber is dropped for falling behind.
type Subscription struct {
	C      <-chan TranscriptEvent
	ch     chan TranscriptEvent
	callID string
}

// CallID returns the call this subscription follows.
func (s *Subscription) CallID() string { return s.callID }

// Bus routes call events to per-call subscriber sets.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]map[*Subscription]struct{}
	queueSize int
	logger    *observability.Logger
}

// New creates a Bus whose subscribers each buffer up to queueSize events.
func New(queueSize int, logger *observability.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Bus{
		subs:      make(map[string]map[*Subscription]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe registers a new subscriber for a call's events.
func (b *Bus) Subscribe(callID string) *Subscription {
	ch := make(chan TranscriptEvent, b.queueSize)
	sub := &Subscription{C: ch, ch: ch, callID: callID}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[callID] == nil {
		b.subs[callID] = make(map[*Subscription]struct{})
	}
	b.subs[callID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber. Safe to call after the subscriber was
// already dropped or the call closed.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.callID]; ok {
		if _, member := set[sub]; member {
			delete(set, sub)
			close(sub.ch)
		}
		if len(set) == 0 {
			delete(b.subs, sub.callID)
		}
	}
}

// Publish delivers the event to every subscriber of the call. Fire and
// forget: a subscriber with a full queue is disconnected rather than allowed
// to stall the call.
func (b *Bus) Publish(ctx context.Context, evt TranscriptEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	metrics.EventsPublished.Inc()

	set := b.subs[evt.CallID]
	for sub := range set {
		select {
		case sub.ch <- evt:
		default:
			delete(set, sub)
			close(sub.ch)
			metrics.SubscribersDropped.Inc()
			b.logger.Warn(ctx, "dropped slow event subscriber")
		}
	}
	if len(set) == 0 {
		delete(b.subs, evt.CallID)
	}
}

// CloseCall releases every subscription for a call. Called once when the
// session reaches a terminal state.
func (b *Bus) CloseCall(callID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[callID] {
		close(sub.ch)
	}
	delete(b.subs, callID)
}

// SubscriberCount reports the active subscriber count for a call.
func (b *Bus) SubscriberCount(callID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[callID])
}

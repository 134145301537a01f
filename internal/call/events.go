package call

import (
	"time"

	"github.com/google/uuid"

	"call-server/internal/extract"
)

// Speakers on a call transcript.
const (
	SpeakerCaller    = "caller"
	SpeakerAssistant = "assistant"
)

// TranscriptLine is one utterance in call order.
type TranscriptLine struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a read-only view of a session for the dashboard.
type Snapshot struct {
	CallID       string                 `json:"call_id"`
	BusinessID   uuid.UUID              `json:"business_id"`
	CallerNumber string                 `json:"caller_number"`
	State        State                  `json:"state"`
	BookingState BookingState           `json:"booking_state,omitempty"`
	IsEmergency  bool                   `json:"is_emergency"`
	StartedAt    time.Time              `json:"started_at"`
	Turns        int                    `json:"turns"`
	Customer     extract.CustomerRecord `json:"-"`
	CustomerName string                 `json:"customer_name,omitempty"`
}

// Internal mailbox events. The bridge's concurrent flows all funnel through
// this queue so one goroutine owns every state mutation.
type eventKind int

const (
	evStreamStart eventKind = iota
	evCallerText
	evAssistantText
	evBargeIn
	evSilence
	evAIFailure
	evStreamStop
)

type event struct {
	kind      eventKind
	text      string
	err       error
	streamSid string
	callSid   string
	quiet     time.Duration
}

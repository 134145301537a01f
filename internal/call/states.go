// Package call owns the per-call state machine: it consumes bridge events,
// runs intent classification and data extraction on the live transcript,
// drives booking and dispatch, and guarantees every call reaches exactly one
// terminal outcome.
package call

// State is the top-level call state.
type State string

const (
	StateRinging     State = "ringing"
	StateGreeting    State = "greeting"
	StateListening   State = "listening"
	StateThinking    State = "thinking"
	StateSpeaking    State = "speaking"
	StateBookingFlow State = "booking_flow"
	StateWrapUp      State = "wrap_up"
	StateEnded       State = "ended"
	StateEscalated   State = "escalated"
)

// Terminal reports whether no further transitions occur from s.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateEscalated
}

// BookingState is the booking sub-machine state, meaningful only while the
// call is in StateBookingFlow.
type BookingState string

const (
	BookingIdle         BookingState = ""
	BookingOffering     BookingState = "offering_slots"
	BookingAwaiting     BookingState = "awaiting_confirmation"
	BookingConfirming   BookingState = "confirming"
	BookingDispatching  BookingState = "dispatching"
	BookingConfirmed    BookingState = "confirmed"
	BookingFailed       BookingState = "failed"
)

// End reasons recorded on the terminal state change.
const (
	ReasonCompleted       = "completed"
	ReasonConnectFailed   = "connect_failed"
	ReasonTransportClosed = "transport_closed"
	ReasonAIFailed        = "ai_failed"

	ReasonCallerRequested      = "caller_requested_human"
	ReasonRecognitionFailures  = "recognition_failures"
	ReasonNoEmergencyTech      = "no_emergency_technician"
)

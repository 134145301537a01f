package call

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"call-server/internal/bus"
	"call-server/internal/callerrors"
	"call-server/internal/config"
	"call-server/internal/dispatch"
	"call-server/internal/extract"
	"call-server/internal/intent"
	"call-server/internal/knowledge"
	"call-server/internal/metrics"
	"call-server/internal/observability"
	"call-server/internal/scheduling"
	"call-server/internal/store"
)

// Grounder finds knowledge snippets for the current turn.
type Grounder interface {
	Search(ctx context.Context, businessID uuid.UUID, query string) ([]knowledge.Match, error)
}

// Scheduler is the calendar boundary.
type Scheduler interface {
	ListAvailableSlots(ctx context.Context, businessID uuid.UUID) ([]scheduling.Slot, error)
	Book(ctx context.Context, req scheduling.BookingRequest, isEmergency bool) (*store.Appointment, *store.Technician, error)
	MatchTechnician(ctx context.Context, businessID uuid.UUID, serviceType string, isEmergency bool) (*store.Technician, error)
}

// Notifier sends the outbound SMS/email a call produces.
type Notifier interface {
	ConfirmBooking(ctx context.Context, businessName string, appt *store.Appointment, techName string) error
	AssignTechnician(ctx context.Context, tech *store.Technician, appt *store.Appointment, customer extract.CustomerRecord, isEmergency bool) error
	EmergencyBlast(ctx context.Context, technicians []store.Technician, customer extract.CustomerRecord, issue string) error
	SendQuote(ctx context.Context, businessName string, customer extract.CustomerRecord, quote dispatch.Quote) error
}

// AIControl is the slice of the bridge the session talks back through.
type AIControl interface {
	InjectContext(text string) error
	RequestResponse(instructions string) error
}

// SummaryStore persists the one terminal summary row per call.
type SummaryStore interface {
	InsertCallSummary(ctx context.Context, summary store.CallSummary) error
}

// Summarizer produces the short human-readable call summary. Optional; the
// raw transcript is stored either way.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Deps wires a session to everything outside its own state machine.
type Deps struct {
	Bus        *bus.Bus
	Registry   *Registry
	Classifier *intent.Classifier
	Extractor  *extract.Extractor
	Grounder   Grounder
	Scheduler  Scheduler
	Notifier   Notifier
	Summaries  SummaryStore
	Summarizer Summarizer
	Logger     *observability.Logger
	Config     config.CallConfig
}

// Session owns one call. All mutation happens on the Run goroutine, which
// drains the event mailbox one event at a time; the bridge's concurrent
// flows only enqueue.
type Session struct {
	deps Deps
	cfg  config.CallConfig

	callID       string
	business     *store.Business
	callerNumber string
	startedAt    time.Time

	events chan event
	ai     AIControl

	mu          sync.Mutex
	state       State
	booking     *BookingAttempt
	transcript  []TranscriptLine
	customer    extract.CustomerRecord
	intents     []intent.Result
	isEmergency bool
	seq         uint64
	backlog     []bus.TranscriptEvent

	// Run-goroutine only.
	recognitionFailures int
	emergencyTries      int
	serviceTopic        string
	wantsBooking        bool
	aiFailed            bool
	terminal            bool
}

// New creates a session in Ringing. The caller registers it and starts Run;
// the AI control is attached once the bridge exists.
func New(callID string, business *store.Business, callerNumber string, deps Deps) *Session {
	cfg := deps.Config
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = config.DefaultCallConfig().EventQueueSize
	}
	s := &Session{
		deps:         deps,
		cfg:          cfg,
		callID:       callID,
		business:     business,
		callerNumber: callerNumber,
		startedAt:    time.Now(),
		events:       make(chan event, cfg.EventQueueSize),
		state:        StateRinging,
		serviceTopic: "general service",
	}
	extract.SeedCallerNumber(&s.customer, callerNumber)
	return s
}

// SetAI attaches the bridge control surface. Must happen before Run.
func (s *Session) SetAI(ai AIControl) { s.ai = ai }

func (s *Session) CallID() string { return s.callID }

// Snapshot returns a point-in-time view safe to read while the session runs.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		CallID:       s.callID,
		CallerNumber: s.callerNumber,
		State:        s.state,
		IsEmergency:  s.isEmergency,
		StartedAt:    s.startedAt,
		Turns:        len(s.transcript),
		Customer:     s.customer,
		CustomerName: s.customer.Name.Value,
	}
	if s.business != nil {
		snap.BusinessID = s.business.ID
	}
	if s.booking != nil {
		snap.BookingState = s.booking.State
	}
	return snap
}

// Backlog returns buffered events with Seq greater than afterSeq, oldest
// first, for subscriber replay after a reconnect. Bounded by the configured
// backlog window.
func (s *Session) Backlog(afterSeq uint64) []bus.TranscriptEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bus.TranscriptEvent
	for _, evt := range s.backlog {
		if evt.Seq > afterSeq {
			out = append(out, evt)
		}
	}
	return out
}

// Run drains the mailbox until the call reaches its terminal state. Exactly
// one terminal transition happens regardless of how the call dies.
func (s *Session) Run(ctx context.Context) {
	metrics.ActiveCalls.Inc()
	defer metrics.ActiveCalls.Dec()

	for {
		select {
		case <-ctx.Done():
			s.end(context.Background())
			return
		case ev := <-s.events:
			s.handle(ctx, ev)
			if s.terminal {
				return
			}
		}
	}
}

// Bridge handler methods: enqueue only, never block. A full mailbox drops
// the event with a warning; conversational events are far below frame rate,
// so a full queue means the session is already wedged on something worse.

func (s *Session) OnStreamStart(ctx context.Context, streamSid, callSid string, params map[string]string) {
	s.enqueue(ctx, event{kind: evStreamStart, streamSid: streamSid, callSid: callSid})
}

func (s *Session) OnCallerTranscript(ctx context.Context, text string) {
	s.enqueue(ctx, event{kind: evCallerText, text: text})
}

func (s *Session) OnAssistantTranscript(ctx context.Context, text string) {
	s.enqueue(ctx, event{kind: evAssistantText, text: text})
}

func (s *Session) OnBargeIn(ctx context.Context) {
	s.enqueue(ctx, event{kind: evBargeIn})
}

func (s *Session) OnCallerSilence(ctx context.Context, d time.Duration) {
	s.enqueue(ctx, event{kind: evSilence, quiet: d})
}

func (s *Session) OnAIFailure(ctx context.Context, err error) {
	s.enqueue(ctx, event{kind: evAIFailure, err: err})
}

func (s *Session) OnStreamStop(ctx context.Context) {
	s.enqueue(ctx, event{kind: evStreamStop})
}

func (s *Session) enqueue(ctx context.Context, ev event) {
	select {
	case s.events <- ev:
	default:
		s.deps.Logger.Warn(
			observability.WithFields(ctx, observability.Field{Key: "call_id", Value: s.callID}),
			"session event queue full, dropping event")
	}
}

func (s *Session) handle(ctx context.Context, ev event) {
	ctx = observability.WithCallFields(ctx, s.callID, s.businessID())

	switch ev.kind {
	case evStreamStart:
		s.handleStreamStart(ctx)
	case evCallerText:
		s.handleCallerTurn(ctx, ev.text)
	case evAssistantText:
		s.handleAssistantTurn(ctx, ev.text)
	case evBargeIn:
		if s.currentState() == StateSpeaking {
			s.setState(ctx, StateListening, "barge_in")
		}
	case evSilence:
		s.injectContext(ctx, "The caller has been silent for a while. Ask if they are still there.")
		s.requestResponse(ctx, "")
	case evAIFailure:
		s.handleAIFailure(ctx, ev.err)
	case evStreamStop:
		s.end(ctx)
	}
}

func (s *Session) handleStreamStart(ctx context.Context) {
	if s.currentState() != StateRinging {
		return
	}
	s.setState(ctx, StateGreeting, "")
	greeting := fmt.Sprintf(
		"Greet the caller warmly as the assistant for %s and ask how you can help today.",
		s.businessName())
	s.requestResponse(ctx, greeting)
}

func (s *Session) handleCallerTurn(ctx context.Context, text string) {
	if !usableTranscript(text) {
		s.recognitionFailures++
		s.deps.Logger.Warn(
			observability.WithFields(ctx, observability.Field{Key: "consecutive", Value: s.recognitionFailures}),
			"unusable recognition result")
		if s.recognitionFailures >= s.maxRecognitionFailures() {
			s.escalate(ctx, ReasonRecognitionFailures)
		}
		return
	}
	s.recognitionFailures = 0

	s.appendTranscript(ctx, SpeakerCaller, text)
	inConversation := s.conversational()
	if inConversation {
		s.setState(ctx, StateThinking, "")
	}

	s.extractFrom(ctx, text)
	s.updateTopic(text)

	if intent.RequestsHuman(text) {
		s.escalate(ctx, ReasonCallerRequested)
		return
	}

	result := s.deps.Classifier.Classify(ctx, text, s.recentCallerTurns())
	s.recordIntent(result)

	if result.Confidence >= s.intentThreshold() {
		s.actOnIntent(ctx, result, text)
		if s.terminal {
			return
		}
	} else {
		s.deps.Logger.Debug(
			observability.WithFields(ctx,
				observability.Field{Key: "label", Value: string(result.Label)},
				observability.Field{Key: "confidence", Value: result.Confidence}),
			"sub-threshold intent ignored")
	}

	s.ground(ctx, text)
	s.steerMissingFields(ctx)

	if inConversation && s.currentState() == StateThinking {
		s.setState(ctx, StateSpeaking, "")
	}
}

func (s *Session) handleAssistantTurn(ctx context.Context, text string) {
	s.appendTranscript(ctx, SpeakerAssistant, text)
	switch s.currentState() {
	case StateGreeting, StateSpeaking:
		s.setState(ctx, StateListening, "")
	}
}

func (s *Session) handleAIFailure(ctx context.Context, err error) {
	s.publish(ctx, bus.EventError, bus.ErrorPayload{Code: "ai_failure", Message: err.Error()})
	if errors.Is(err, callerrors.ErrTransportClosed) || errors.Is(err, callerrors.ErrAIUnavailable) {
		// end() keeps the reason honest: a failure while still Ringing is
		// a connect failure, anything later is an AI failure.
		s.aiFailed = true
		s.end(ctx)
	}
}

// actOnIntent branches on the most recent above-threshold classification.
func (s *Session) actOnIntent(ctx context.Context, result intent.Result, text string) {
	switch result.Label {
	case intent.Emergency:
		s.handleEmergency(ctx, text)
	case intent.BookAppointment:
		s.wantsBooking = true
		if s.customerRecord().HasBookingInfo() {
			s.startBookingFlow(ctx)
		}
	case intent.Confirmation:
		if st, ok := s.bookingState(); ok && st == BookingAwaiting {
			s.confirmBooking(ctx)
		}
	case intent.Decline:
		if st, ok := s.bookingState(); ok && st == BookingAwaiting {
			s.handleDecline(ctx)
		}
	case intent.PricingInquiry:
		s.handlePricing(ctx)
	case intent.CheckAvailability:
		s.handleAvailabilityCheck(ctx)
	}
}

// handleEmergency sets the sticky flag and pushes for a technician. The
// flag survives any later classification; only the match attempts are
// bounded.
func (s *Session) handleEmergency(ctx context.Context, text string) {
	s.setEmergency(ctx)

	tech, err := s.deps.Scheduler.MatchTechnician(ctx, s.businessID(), s.serviceTopic, true)
	if err != nil {
		s.emergencyTries++
		s.deps.Logger.Warn(
			observability.WithFields(ctx, observability.Field{Key: "attempt", Value: s.emergencyTries}),
			"no technician for emergency")
		if s.emergencyTries >= s.maxEmergencyTries() {
			s.escalate(ctx, ReasonNoEmergencyTech)
			return
		}
		s.injectContext(ctx, "This is an emergency but no technician is confirmed yet. Reassure the caller, give relevant safety guidance, and collect their address.")
		return
	}

	if err := s.deps.Notifier.EmergencyBlast(ctx, []store.Technician{*tech}, s.customerRecord(), text); err != nil {
		s.deps.Logger.Error(ctx, "emergency dispatch notification failed", err)
	}
	s.injectContext(ctx, fmt.Sprintf(
		"An emergency alert has been sent to technician %s. Tell the caller help is on the way, give relevant safety guidance, and confirm their address.",
		tech.Name))
}

func (s *Session) startBookingFlow(ctx context.Context) {
	if st, ok := s.bookingState(); ok && st != BookingFailed {
		return
	}

	slots, err := s.deps.Scheduler.ListAvailableSlots(ctx, s.businessID())
	if err != nil {
		s.publish(ctx, bus.EventError, bus.ErrorPayload{Code: "scheduling_unavailable", Message: err.Error()})
		s.injectContext(ctx, "The scheduling system is unavailable right now. Apologize and offer to have someone call back to book.")
		return
	}
	if len(slots) == 0 {
		s.injectContext(ctx, "There is no open availability in the next week. Apologize and offer a callback when a slot opens.")
		return
	}

	attempt := newBookingAttempt(slots, s.cfg.SlotsPerOffer)
	s.mu.Lock()
	s.booking = attempt
	s.mu.Unlock()

	s.setState(ctx, StateBookingFlow, "")
	s.injectContext(ctx, attempt.OfferText())
	s.setBookingState(BookingAwaiting)
}

func (s *Session) confirmBooking(ctx context.Context) {
	b := s.bookingAttempt()
	slot := b.PickSlot()
	if slot == nil {
		s.bookingFailed(ctx, errors.New("no offered slot to confirm"))
		return
	}
	s.setBookingState(BookingConfirming)

	customer := s.customerRecord()
	appt, tech, err := s.deps.Scheduler.Book(ctx, scheduling.BookingRequest{
		BusinessID:    s.businessID(),
		CustomerName:  customer.Name.Value,
		CustomerPhone: extract.E164(customer.Phone.Value),
		ServiceType:   s.serviceTopic,
		Slot:          *slot,
	}, s.IsEmergency())

	if errors.Is(err, callerrors.ErrSlotTaken) {
		// A concurrent caller won the slot. Not fatal: re-offer from
		// fresh availability.
		s.publish(ctx, bus.EventError, bus.ErrorPayload{Code: "slot_taken", Message: slot.Start.String()})
		s.injectContext(ctx, "That time was just taken by another booking. Apologize briefly.")
		s.refreshOffer(ctx)
		return
	}
	if err != nil {
		s.bookingFailed(ctx, err)
		return
	}

	s.mu.Lock()
	b.State = BookingDispatching
	b.ConfirmedSlot = slot
	b.TechnicianID = tech.ID
	b.TechnicianName = tech.Name
	b.ConfirmationRef = appt.ID.String()
	s.mu.Unlock()

	if err := s.deps.Notifier.ConfirmBooking(ctx, s.businessName(), appt, tech.Name); err != nil {
		s.deps.Logger.Error(ctx, "customer confirmation failed", err)
	}
	if err := s.deps.Notifier.AssignTechnician(ctx, tech, appt, customer, s.IsEmergency()); err != nil {
		s.deps.Logger.Error(ctx, "technician assignment notification failed", err)
	}

	s.setBookingState(BookingConfirmed)
	metrics.BookingsTotal.WithLabelValues("confirmed").Inc()
	s.publish(ctx, bus.EventBooking, bus.BookingPayload{
		Status:          string(BookingConfirmed),
		SlotStart:       slot.Start,
		TechnicianName:  tech.Name,
		ConfirmationRef: b.ConfirmationRef,
	})
	s.injectContext(ctx, fmt.Sprintf(
		"The appointment is confirmed for %s with %s. Tell the caller, mention the SMS confirmation, and ask if there is anything else.",
		slot.Start.Format("Monday, January 2 at 3:04 PM"), tech.Name))
	s.setState(ctx, StateWrapUp, "")
}

func (s *Session) handleDecline(ctx context.Context) {
	b := s.bookingAttempt()
	if !b.NextPage() {
		s.bookingFailed(ctx, errors.New("caller declined all available slots"))
		return
	}
	s.injectContext(ctx, b.OfferText())
}

// refreshOffer re-lists availability after a confirm-time conflict.
func (s *Session) refreshOffer(ctx context.Context) {
	slots, err := s.deps.Scheduler.ListAvailableSlots(ctx, s.businessID())
	if err != nil || len(slots) == 0 {
		s.bookingFailed(ctx, errors.New("no availability after slot conflict"))
		return
	}
	fresh := newBookingAttempt(slots, s.cfg.SlotsPerOffer)
	s.mu.Lock()
	s.booking = fresh
	s.mu.Unlock()
	s.injectContext(ctx, fresh.OfferText())
	s.setBookingState(BookingAwaiting)
}

// bookingFailed closes the flow as Failed. The failure is spoken and
// logged; the call itself continues to wrap-up.
func (s *Session) bookingFailed(ctx context.Context, err error) {
	s.setBookingState(BookingFailed)
	metrics.BookingsTotal.WithLabelValues("failed").Inc()
	s.publish(ctx, bus.EventBooking, bus.BookingPayload{Status: string(BookingFailed)})
	s.deps.Logger.Error(ctx, "booking flow failed", err)
	s.injectContext(ctx, "The booking could not be completed. Apologize and offer to have the office call back to schedule.")
	s.setState(ctx, StateWrapUp, "")
}

func (s *Session) handlePricing(ctx context.Context) {
	quote := dispatch.DefaultQuote(s.serviceTopic)
	customer := s.customerRecord()
	if err := s.deps.Notifier.SendQuote(ctx, s.businessName(), customer, quote); err != nil {
		s.deps.Logger.Error(ctx, "quote delivery failed", err)
		s.injectContext(ctx, fmt.Sprintf(
			"Typical %s work runs $%d to $%d. Share that range verbally.",
			quote.ServiceType, quote.LowUSD, quote.HighUSD))
		return
	}
	s.injectContext(ctx, fmt.Sprintf(
		"Typical %s work runs $%d to $%d. Share that range and mention a written estimate is on its way to them.",
		quote.ServiceType, quote.LowUSD, quote.HighUSD))
}

func (s *Session) handleAvailabilityCheck(ctx context.Context) {
	slots, err := s.deps.Scheduler.ListAvailableSlots(ctx, s.businessID())
	if err != nil || len(slots) == 0 {
		s.injectContext(ctx, "No open slots are visible right now. Offer a callback.")
		return
	}
	limit := s.cfg.SlotsPerOffer
	if limit <= 0 {
		limit = config.DefaultCallConfig().SlotsPerOffer
	}
	if limit > len(slots) {
		limit = len(slots)
	}
	labels := make([]string, limit)
	for i := 0; i < limit; i++ {
		labels[i] = slots[i].Start.Format("Monday, January 2 at 3:04 PM")
	}
	s.injectContext(ctx, "The earliest open appointment times are: "+strings.Join(labels, "; ")+".")
}

// ground injects knowledge snippets relevant to the turn. Degrades silently:
// the retriever owns its own budget and returns empty on timeout.
func (s *Session) ground(ctx context.Context, text string) {
	if s.deps.Grounder == nil {
		return
	}
	matches, err := s.deps.Grounder.Search(ctx, s.businessID(), text)
	if err != nil {
		s.deps.Logger.Warn(ctx, "knowledge retrieval failed, turn proceeds ungrounded")
		return
	}
	if block := knowledge.FormatContext(matches); block != "" {
		s.injectContext(ctx, block)
	}
}

// steerMissingFields nudges the next AI turn toward collecting whatever the
// booking still needs. A steering directive, not a state transition.
func (s *Session) steerMissingFields(ctx context.Context) {
	if !s.wantsBooking {
		return
	}
	record := s.customerRecord()
	if record.HasBookingInfo() {
		if _, ok := s.bookingState(); !ok {
			s.startBookingFlow(ctx)
		}
		return
	}

	if s.deps.Extractor.NeedsFreeTextPass(record) {
		updated := record
		if err := s.deps.Extractor.ExtractFreeText(ctx, &updated, s.transcriptText()); err == nil {
			s.setCustomer(updated)
			record = updated
		}
	}
	if missing := record.MissingBookingFields(); len(missing) > 0 {
		s.injectContext(ctx, "Before booking, naturally collect the caller's "+strings.Join(missing, " and ")+".")
	}
}

func (s *Session) extractFrom(ctx context.Context, text string) {
	record := s.customerRecord()
	s.deps.Extractor.ExtractTurn(ctx, &record, text)
	s.setCustomer(record)
}

func (s *Session) updateTopic(text string) {
	lower := strings.ToLower(text)
	for _, topic := range []string{"water heater", "drain", "hvac", "air condition", "furnace", "electrical", "plumbing", "leak", "pipe"} {
		if strings.Contains(lower, topic) {
			switch topic {
			case "drain":
				s.serviceTopic = "drain cleaning"
			case "air condition", "furnace":
				s.serviceTopic = "hvac"
			case "leak", "pipe":
				s.serviceTopic = "plumbing"
			default:
				s.serviceTopic = topic
			}
			return
		}
	}
}

// escalate hands the call off AI control. Terminal for the session even if
// the audio keeps flowing on the provider side.
func (s *Session) escalate(ctx context.Context, reason string) {
	if s.terminal {
		return
	}
	s.setState(ctx, StateEscalated, reason)
	s.injectContext(ctx, "Tell the caller you are transferring them to a team member who will take care of them right away.")
	s.requestResponse(ctx, "")
	s.finalize(ctx, string(StateEscalated)+":"+reason)
}

// end resolves the terminal reason from how the call died and closes out.
func (s *Session) end(ctx context.Context) {
	if s.terminal {
		return
	}
	reason := ReasonTransportClosed
	switch {
	case s.currentState() == StateRinging:
		reason = ReasonConnectFailed
	case s.aiFailed:
		reason = ReasonAIFailed
	case s.currentState() == StateWrapUp:
		reason = ReasonCompleted
	}
	s.setState(ctx, StateEnded, reason)
	s.finalize(ctx, reason)
}

// finalize runs exactly once: summary row first, then teardown. The summary
// is the session's last act before its registry entry disappears.
func (s *Session) finalize(ctx context.Context, outcome string) {
	s.terminal = true
	s.writeSummary(ctx, outcome)
	s.deps.Bus.CloseCall(s.callID)
	if s.deps.Registry != nil {
		s.deps.Registry.Remove(s.callID)
	}
	metrics.CallsTotal.WithLabelValues(outcome).Inc()
	s.deps.Logger.Info(
		observability.WithFields(ctx,
			observability.Field{Key: "outcome", Value: outcome},
			observability.Field{Key: "turns", Value: len(s.transcript)}),
		"call finished")
}

func (s *Session) writeSummary(ctx context.Context, outcome string) {
	if s.deps.Summaries == nil {
		return
	}
	transcript := s.transcriptText()

	var summaryText string
	if s.deps.Summarizer != nil && transcript != "" {
		sctx, cancel := context.WithTimeout(ctx, s.adapterTimeout())
		if text, err := s.deps.Summarizer.Summarize(sctx, transcript); err == nil {
			summaryText = text
		}
		cancel()
	}

	customer := s.customerRecord()
	booked := false
	if st, ok := s.bookingState(); ok && st == BookingConfirmed {
		booked = true
	}
	sentiment := "neutral"
	if s.IsEmergency() {
		sentiment = "urgent"
	} else if booked {
		sentiment = "positive"
	}

	summary := store.CallSummary{
		CallID:          s.callID,
		BusinessID:      s.businessID(),
		CallerNumber:    s.callerNumber,
		Transcript:      transcript,
		CustomerName:    nullable(customer.Name.Value),
		CustomerPhone:   nullable(customer.Phone.Value),
		CustomerEmail:   nullable(customer.Email.Value),
		CustomerAddress: nullable(customer.Address.Value),
		Summary:         nullable(summaryText),
		Outcome:         outcome,
		Sentiment:       sentiment,
		BookedAppt:      booked,
		IsEmergency:     s.IsEmergency(),
	}

	wctx, cancel := context.WithTimeout(ctx, s.adapterTimeout())
	defer cancel()
	if err := s.deps.Summaries.InsertCallSummary(wctx, summary); err != nil {
		s.deps.Logger.Error(ctx, "failed to persist call summary", err)
	}
}

// State and data accessors. Snapshot-visible fields live behind the mutex;
// everything else is Run-goroutine private.

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) conversational() bool {
	switch s.currentState() {
	case StateListening, StateThinking, StateSpeaking:
		return true
	}
	return false
}

func (s *Session) setState(ctx context.Context, to State, reason string) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	s.publish(ctx, bus.EventStateChange, bus.StateChangePayload{From: string(from), To: string(to), Reason: reason})
}

// IsEmergency reports the sticky emergency flag.
func (s *Session) IsEmergency() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isEmergency
}

// setEmergency sets the flag; nothing ever clears it.
func (s *Session) setEmergency(ctx context.Context) {
	s.mu.Lock()
	already := s.isEmergency
	s.isEmergency = true
	s.mu.Unlock()
	if !already {
		s.publish(ctx, bus.EventStateChange, bus.StateChangePayload{From: "", To: "emergency_flagged"})
	}
}

func (s *Session) customerRecord() extract.CustomerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customer
}

func (s *Session) setCustomer(record extract.CustomerRecord) {
	s.mu.Lock()
	s.customer = record
	s.mu.Unlock()
}

func (s *Session) bookingAttempt() *BookingAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.booking
}

// bookingState reads the attempt's state under the mutex; ok is false when
// no attempt exists. Snapshot reads the same field from dashboard goroutines,
// so every State access goes through here or setBookingState.
func (s *Session) bookingState() (BookingState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.booking == nil {
		return "", false
	}
	return s.booking.State, true
}

func (s *Session) setBookingState(state BookingState) {
	s.mu.Lock()
	if s.booking != nil {
		s.booking.State = state
	}
	s.mu.Unlock()
}

func (s *Session) recordIntent(result intent.Result) {
	s.mu.Lock()
	s.intents = append(s.intents, result)
	s.mu.Unlock()
}

// Intents returns the full classification history, oldest first.
func (s *Session) Intents() []intent.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]intent.Result(nil), s.intents...)
}

func (s *Session) appendTranscript(ctx context.Context, speaker, text string) {
	line := TranscriptLine{Speaker: speaker, Text: text, Timestamp: time.Now()}
	s.mu.Lock()
	s.transcript = append(s.transcript, line)
	s.mu.Unlock()
	s.publish(ctx, bus.EventTranscript, bus.TranscriptPayload{Speaker: speaker, Text: text})
}

// Transcript returns a copy of the transcript so far.
func (s *Session) Transcript() []TranscriptLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TranscriptLine(nil), s.transcript...)
}

func (s *Session) transcriptText() string {
	lines := s.Transcript()
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Speaker)
		b.WriteString(": ")
		b.WriteString(l.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func (s *Session) recentCallerTurns() []string {
	lines := s.Transcript()
	var turns []string
	for _, l := range lines[:len(lines)-1] { // exclude the turn being classified
		if l.Speaker == SpeakerCaller {
			turns = append(turns, l.Text)
		}
	}
	return turns
}

// publish assigns the next sequence number, buffers for replay, and fans
// out. Sequence numbers are strictly increasing per call and survive bridge
// reconnects because they live here, not in the bridge.
func (s *Session) publish(ctx context.Context, kind bus.EventKind, payload interface{}) {
	s.mu.Lock()
	s.seq++
	evt := bus.TranscriptEvent{
		CallID:    s.callID,
		Seq:       s.seq,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	s.backlog = append(s.backlog, evt)
	if window := s.backlogWindow(); len(s.backlog) > window {
		s.backlog = s.backlog[len(s.backlog)-window:]
	}
	s.mu.Unlock()

	s.deps.Bus.Publish(ctx, evt)
}

func (s *Session) injectContext(ctx context.Context, text string) {
	if s.ai == nil {
		return
	}
	if err := s.ai.InjectContext(text); err != nil {
		s.deps.Logger.Warn(ctx, "context injection failed")
	}
}

func (s *Session) requestResponse(ctx context.Context, instructions string) {
	if s.ai == nil {
		return
	}
	if err := s.ai.RequestResponse(instructions); err != nil {
		s.deps.Logger.Warn(ctx, "response request failed")
	}
}

func (s *Session) businessID() uuid.UUID {
	if s.business == nil {
		return uuid.Nil
	}
	return s.business.ID
}

func (s *Session) businessName() string {
	if s.business == nil {
		return "the business"
	}
	return s.business.Name
}

func (s *Session) maxRecognitionFailures() int {
	if s.cfg.MaxRecognitionFailures > 0 {
		return s.cfg.MaxRecognitionFailures
	}
	return config.DefaultCallConfig().MaxRecognitionFailures
}

func (s *Session) maxEmergencyTries() int {
	if s.cfg.MaxEmergencyMatchTries > 0 {
		return s.cfg.MaxEmergencyMatchTries
	}
	return config.DefaultCallConfig().MaxEmergencyMatchTries
}

func (s *Session) intentThreshold() float64 {
	if s.cfg.IntentThreshold > 0 {
		return s.cfg.IntentThreshold
	}
	return config.DefaultCallConfig().IntentThreshold
}

func (s *Session) backlogWindow() int {
	if s.cfg.BacklogWindow > 0 {
		return s.cfg.BacklogWindow
	}
	return config.DefaultCallConfig().BacklogWindow
}

func (s *Session) adapterTimeout() time.Duration {
	if s.cfg.AdapterTimeout > 0 {
		return s.cfg.AdapterTimeout
	}
	return config.DefaultCallConfig().AdapterTimeout
}

// usableTranscript filters recognition noise: empty strings and fragments
// with no letters count as failures.
func usableTranscript(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

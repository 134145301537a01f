// Package handler terminates the Twilio side of a call: the answer webhook
// that returns TwiML, and the media-stream websocket that feeds the bridge.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go/twiml"

	"call-server/internal/bridge"
	"call-server/internal/call"
	"call-server/internal/clients/openai"
	"call-server/internal/config"
	"call-server/internal/observability"
	"call-server/internal/store"
)

// BusinessStore resolves the business answering a dialed number.
type BusinessStore interface {
	GetBusiness(ctx context.Context, id uuid.UUID) (*store.Business, error)
	GetBusinessByPhone(ctx context.Context, phoneNumber string) (*store.Business, error)
}

type Handler struct {
	businesses  BusinessStore
	realtime    *openai.RealtimeClient
	sessionDeps call.Deps
	streamURL   string
	cfg         config.CallConfig
	logger      *observability.Logger
}

func New(businesses BusinessStore, realtime *openai.RealtimeClient, sessionDeps call.Deps,
	streamURL string, cfg config.CallConfig, logger *observability.Logger) Handler {
	return Handler{
		businesses:  businesses,
		realtime:    realtime,
		sessionDeps: sessionDeps,
		streamURL:   streamURL,
		cfg:         cfg,
		logger:      logger,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Twilio media streams carry no browser origin.
		return true
	},
}

// HandleAnswerCall is the Twilio voice webhook. It resolves the dialed
// business and returns TwiML connecting the call to the media stream, with
// the routing facts Twilio hands back as stream parameters.
func (h *Handler) HandleAnswerCall(c *gin.Context) {
	ctx := c.Request.Context()

	callSid := c.PostForm("CallSid")
	from := c.PostForm("From")
	to := c.PostForm("To")
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "call_sid", Value: callSid},
		observability.Field{Key: "to", Value: to},
	)

	business, err := h.businesses.GetBusinessByPhone(ctx, to)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.logger.Warn(ctx, "call to unrecognized number, rejecting")
			h.respondTwiML(c, []twiml.Element{
				&twiml.VoiceSay{Message: "Sorry, this number is not in service. Goodbye."},
				&twiml.VoiceHangup{},
			})
			return
		}
		h.logger.Error(ctx, "business lookup failed", err)
		c.String(http.StatusInternalServerError, "lookup failed")
		return
	}

	h.logger.Info(ctx, fmt.Sprintf("answering call for %s", business.Name))

	stream := twiml.VoiceStream{
		Name: "media-stream",
		Url:  h.streamURL,
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "business_id", Value: business.ID.String()},
			&twiml.VoiceParameter{Name: "caller_number", Value: from},
		},
	}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	h.respondTwiML(c, []twiml.Element{connect})
}

func (h *Handler) respondTwiML(c *gin.Context, elements []twiml.Element) {
	result, err := twiml.Voice(elements)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, result)
}

// HandleMediaStream upgrades the websocket Twilio connects after the TwiML
// response and runs the call until either side hangs up.
func (h *Handler) HandleMediaStream(c *gin.Context) {
	ctx := c.Request.Context()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(ctx, "websocket upgrade failed", err)
		return
	}

	transport := bridge.NewTwilioStream(conn, h.logger)
	h.runCall(ctx, transport)
}

// runCall consumes the start event to identify the call, builds the session
// and bridge, and blocks until the call ends.
func (h *Handler) runCall(ctx context.Context, transport *bridge.TwilioStream) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := transport.Events(ctx)
	start, err := awaitStart(ctx, events)
	if err != nil {
		h.logger.Error(ctx, "media stream never started", err)
		transport.Close()
		return
	}
	ctx = observability.WithFields(ctx, observability.Field{Key: "call_sid", Value: start.CallSid})

	businessID, err := uuid.Parse(start.Parameters["business_id"])
	if err != nil {
		h.logger.Error(ctx, "stream start missing business_id parameter", err)
		transport.Close()
		return
	}
	business, err := h.businesses.GetBusiness(ctx, businessID)
	if err != nil {
		h.logger.Error(ctx, "business lookup failed for stream", err)
		transport.Close()
		return
	}

	session := call.New(start.CallSid, business, start.Parameters["caller_number"], h.sessionDeps)
	if reg := h.sessionDeps.Registry; reg != nil {
		if err := reg.Insert(session); err != nil {
			h.logger.Error(ctx, "duplicate call session", err)
			transport.Close()
			return
		}
	}

	dial := func(ctx context.Context) (bridge.AISession, error) {
		return h.realtime.Dial(ctx, openai.RealtimeConfig{
			Voice:        "alloy",
			Instructions: buildInstructions(business),
			TurnSilence:  h.cfg.TurnSilence,
		})
	}

	br := bridge.New(
		&replayTransport{Transport: transport, start: *start, events: events},
		dial,
		session,
		bridge.Config{
			JitterFrames:    h.cfg.JitterBufferFrames,
			SilenceReprompt: h.cfg.SilenceReprompt,
		},
		h.logger,
	)
	session.SetAI(br)

	done := make(chan struct{})
	go func() {
		session.Run(ctx)
		close(done)
	}()

	if err := br.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error(ctx, "bridge exited with error", err)
	}

	// The stream-stop (or AI-failure) event lets the session finish its
	// teardown before the handler returns.
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		h.logger.Warn(ctx, "session did not reach terminal state after bridge exit")
		cancel()
		<-done
	}
}

func awaitStart(ctx context.Context, events <-chan bridge.StreamEvent) (*bridge.StreamEvent, error) {
	timeout := time.NewTimer(10 * time.Second)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return nil, errors.New("timed out waiting for stream start")
		case ev, ok := <-events:
			if !ok {
				return nil, errors.New("stream closed before start event")
			}
			if ev.Kind == bridge.StreamStarted {
				return &ev, nil
			}
		}
	}
}

// replayTransport re-presents the start event the handler already consumed,
// then forwards the live feed, so the bridge sees the full event sequence.
type replayTransport struct {
	bridge.Transport
	start  bridge.StreamEvent
	events <-chan bridge.StreamEvent
}

func (t *replayTransport) Events(ctx context.Context) <-chan bridge.StreamEvent {
	out := make(chan bridge.StreamEvent, 1)
	go func() {
		defer close(out)
		select {
		case out <- t.start:
		case <-ctx.Done():
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-t.events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// buildInstructions renders the per-business system prompt for the realtime
// session.
func buildInstructions(business *store.Business) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a friendly, professional phone receptionist for %s", business.Name)
	if business.Industry != "" {
		fmt.Fprintf(&b, ", a %s company", business.Industry)
	}
	b.WriteString(". Speak naturally and keep responses short, this is a live phone call. ")
	b.WriteString("Help callers describe their issue, collect their name, phone number, and address, ")
	b.WriteString("and guide them toward booking an appointment when they want service. ")
	b.WriteString("If the caller describes an emergency, stay calm and reassure them that help is being arranged. ")
	b.WriteString("Never invent prices or appointment times; only state ones you have been given.")
	if len(business.Services) > 0 {
		fmt.Fprintf(&b, " Services offered: %s.", strings.Join(business.Services, ", "))
	}
	if business.AIPersonality.Valid && business.AIPersonality.String != "" {
		b.WriteString(" ")
		b.WriteString(business.AIPersonality.String)
	}
	return b.String()
}

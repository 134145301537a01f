package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"call-server/internal/observability"
)

// Twilio media-stream wire messages.
type mediaEvent struct {
	Event string `json:"event"`
	Start struct {
		StreamSid        string            `json:"streamSid"`
		CallSid          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
	Stop struct {
		StreamSid string `json:"streamSid"`
	} `json:"stop,omitempty"`
}

// StreamEvent kinds surfaced by the transport.
const (
	StreamStarted = "started"
	StreamMedia   = "media"
	StreamMark    = "mark"
	StreamStopped = "stopped"
)

// StreamEvent is one decoded event from the Twilio media stream.
type StreamEvent struct {
	Kind       string
	StreamSid  string
	CallSid    string
	Parameters map[string]string // TwiML <Parameter> values from the start event
	Payload    string            // base64 μ-law for StreamMedia
	Mark       string
}

// TwilioStream wraps the Twilio media-stream websocket: a read loop decoding
// events, and serialized writes for audio, clears, and marks.
type TwilioStream struct {
	conn      *websocket.Conn
	logger    *observability.Logger
	streamSid string
	writeMu   sync.Mutex
}

func NewTwilioStream(conn *websocket.Conn, logger *observability.Logger) *TwilioStream {
	return &TwilioStream{conn: conn, logger: logger}
}

// Events starts the read loop and returns its event channel. The channel
// closes when the stream stops or the socket errors.
func (t *TwilioStream) Events(ctx context.Context) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		for {
			_, msg, err := t.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.logger.Info(ctx, "Twilio stream closed normally")
				} else {
					t.logger.Error(ctx, "Twilio stream read error", err)
				}
				return
			}

			var event mediaEvent
			if err := json.Unmarshal(msg, &event); err != nil {
				t.logger.Error(ctx, "failed to parse Twilio event", err)
				continue
			}

			switch event.Event {
			case "start":
				t.streamSid = event.Start.StreamSid
				t.logger.Info(ctx, fmt.Sprintf("Twilio stream started: %s", t.streamSid))
				select {
				case events <- StreamEvent{
					Kind:       StreamStarted,
					StreamSid:  event.Start.StreamSid,
					CallSid:    event.Start.CallSid,
					Parameters: event.Start.CustomParameters,
				}:
				case <-ctx.Done():
					return
				}
			case "media":
				select {
				case events <- StreamEvent{Kind: StreamMedia, Payload: event.Media.Payload}:
				case <-ctx.Done():
					return
				}
			case "mark":
				select {
				case events <- StreamEvent{Kind: StreamMark, Mark: event.Mark.Name}:
				case <-ctx.Done():
					return
				}
			case "stop":
				t.logger.Info(ctx, fmt.Sprintf("Twilio stream stopped: %s", event.Stop.StreamSid))
				select {
				case events <- StreamEvent{Kind: StreamStopped, StreamSid: event.Stop.StreamSid}:
				case <-ctx.Done():
				}
				return
			default:
				t.logger.Debug(ctx, fmt.Sprintf("unknown Twilio event: %s", event.Event))
			}
		}
	}()
	return events
}

// SendAudio queues one base64 μ-law payload to the caller.
func (t *TwilioStream) SendAudio(payload string) error {
	return t.writeJSON(map[string]interface{}{
		"event":     "media",
		"streamSid": t.streamSid,
		"media":     map[string]string{"payload": payload},
	})
}

// SendClear discards audio Twilio has buffered but not yet played, cutting
// assistant speech off when the caller barges in.
func (t *TwilioStream) SendClear() error {
	return t.writeJSON(map[string]interface{}{
		"event":     "clear",
		"streamSid": t.streamSid,
	})
}

// SendMark inserts a named marker into the outbound audio; Twilio echoes it
// back once playback reaches it.
func (t *TwilioStream) SendMark(name string) error {
	return t.writeJSON(map[string]interface{}{
		"event":     "mark",
		"streamSid": t.streamSid,
		"mark":      map[string]string{"name": name},
	})
}

func (t *TwilioStream) writeJSON(v interface{}) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close sends a close frame and tears the socket down.
func (t *TwilioStream) Close() {
	t.writeMu.Lock()
	t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	t.conn.Close()
}

// StreamSID returns the Twilio stream identifier, empty before start.
func (t *TwilioStream) StreamSID() string {
	return t.streamSid
}

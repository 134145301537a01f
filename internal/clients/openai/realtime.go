package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"call-server/internal/observability"
)

const realtimeURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview"

// RealtimeConfig configures one realtime voice session.
type RealtimeConfig struct {
	Voice        string
	Instructions string
	TurnSilence  time.Duration // silence that ends a caller turn
}

// Realtime event kinds surfaced to the bridge.
const (
	RealtimeAudioDelta          = "audio_delta"          // assistant audio, base64 g711_ulaw
	RealtimeSpeechStarted       = "speech_started"       // caller began speaking (barge-in)
	RealtimeCallerTranscript    = "caller_transcript"    // completed caller utterance
	RealtimeAssistantTranscript = "assistant_transcript" // completed assistant utterance
	RealtimeError               = "error"
)

// RealtimeEvent is one event from the realtime session. The events channel
// closes when the connection drops; Err is set on RealtimeError events.
type RealtimeEvent struct {
	Type       string
	Audio      string // base64 payload for RealtimeAudioDelta
	Transcript string
	Err        error
}

// RealtimeClient dials OpenAI realtime voice sessions.
type RealtimeClient struct {
	apiKey string
	logger *observability.Logger
}

func NewRealtimeClient(apiKey string, logger *observability.Logger) (*RealtimeClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	return &RealtimeClient{apiKey: apiKey, logger: logger}, nil
}

// RealtimeSession is one live websocket session. Writes are serialized;
// events are read by a single goroutine and delivered on Events.
type RealtimeSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan RealtimeEvent
	logger  *observability.Logger
}

// Dial opens a realtime session configured for telephone audio: G.711 μ-law
// both directions, server-side voice activity detection deciding turn
// boundaries.
func (c *RealtimeClient) Dial(ctx context.Context, cfg RealtimeConfig) (*RealtimeSession, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, realtimeURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to OpenAI realtime: %w", err)
	}

	s := &RealtimeSession{
		conn:   conn,
		events: make(chan RealtimeEvent, 64),
		logger: c.logger,
	}

	if err := s.UpdateSession(cfg); err != nil {
		conn.Close()
		return nil, err
	}

	go s.readLoop(ctx)
	return s, nil
}

// Events delivers session events in arrival order. Closed when the
// connection drops.
func (s *RealtimeSession) Events() <-chan RealtimeEvent { return s.events }

// UpdateSession (re)configures the session. Also used after a reconnect to
// restore instructions.
func (s *RealtimeSession) UpdateSession(cfg RealtimeConfig) error {
	voice := cfg.Voice
	if voice == "" {
		voice = "alloy"
	}
	silenceMs := int(cfg.TurnSilence / time.Millisecond)
	if silenceMs <= 0 {
		silenceMs = 500
	}
	return s.writeJSON(map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"voice":               voice,
			"instructions":        cfg.Instructions,
			"input_audio_format":  "g711_ulaw",
			"output_audio_format": "g711_ulaw",
			"input_audio_transcription": map[string]string{
				"model": "whisper-1",
			},
			"turn_detection": map[string]interface{}{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": silenceMs,
			},
		},
	})
}

// AppendAudio forwards one base64 μ-law frame into the session's input buffer.
func (s *RealtimeSession) AppendAudio(payload string) error {
	return s.writeJSON(map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": payload,
	})
}

// InjectContext adds out-of-band system text to the conversation, used for
// grounding facts and steering directives. It does not force a response;
// the model uses it on its next turn.
func (s *RealtimeSession) InjectContext(text string) error {
	return s.writeJSON(map[string]interface{}{
		"type": "conversation.item.create",
		"item": map[string]interface{}{
			"type": "message",
			"role": "system",
			"content": []map[string]string{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// RequestResponse asks the model to speak now, used for the greeting and for
// prompts the session initiates rather than the caller.
func (s *RealtimeSession) RequestResponse(instructions string) error {
	response := map[string]interface{}{}
	if instructions != "" {
		response["instructions"] = instructions
	}
	return s.writeJSON(map[string]interface{}{
		"type":     "response.create",
		"response": response,
	})
}

// Close tears the websocket down. The read loop then closes Events.
func (s *RealtimeSession) Close() error {
	return s.conn.Close()
}

func (s *RealtimeSession) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *RealtimeSession) readLoop(ctx context.Context) {
	defer close(s.events)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var event map[string]interface{}
		if err := json.Unmarshal(msg, &event); err != nil {
			continue
		}
		typeStr, _ := event["type"].(string)
		switch typeStr {
		case "response.audio.delta":
			delta, _ := event["delta"].(string)
			s.deliver(ctx, RealtimeEvent{Type: RealtimeAudioDelta, Audio: delta})
		case "input_audio_buffer.speech_started":
			s.deliver(ctx, RealtimeEvent{Type: RealtimeSpeechStarted})
		case "conversation.item.input_audio_transcription.completed":
			transcript, _ := event["transcript"].(string)
			if transcript != "" {
				s.deliver(ctx, RealtimeEvent{Type: RealtimeCallerTranscript, Transcript: transcript})
			}
		case "response.audio_transcript.done":
			transcript, _ := event["transcript"].(string)
			if transcript != "" {
				s.deliver(ctx, RealtimeEvent{Type: RealtimeAssistantTranscript, Transcript: transcript})
			}
		case "error":
			s.logger.Error(ctx, "OpenAI realtime error event", fmt.Errorf("%v", event["error"]))
			s.deliver(ctx, RealtimeEvent{Type: RealtimeError, Err: fmt.Errorf("realtime: %v", event["error"])})
		}
	}
}

func (s *RealtimeSession) deliver(ctx context.Context, e RealtimeEvent) {
	select {
	case s.events <- e:
	case <-ctx.Done():
	}
}

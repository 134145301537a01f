// Package bridge couples one Twilio media stream to one OpenAI realtime
// session: audio frames flow through bounded jitter buffers in both
// directions, transcripts and turn boundaries surface to the call session,
// and a dropped AI socket is redialed once before the call degrades.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"call-server/internal/callerrors"
	"call-server/internal/clients/openai"
	"call-server/internal/observability"
)

// AISession is the realtime voice session the bridge feeds.
type AISession interface {
	Events() <-chan openai.RealtimeEvent
	AppendAudio(payload string) error
	InjectContext(text string) error
	RequestResponse(instructions string) error
	Close() error
}

// Transport is the telephony leg.
type Transport interface {
	Events(ctx context.Context) <-chan StreamEvent
	SendAudio(payload string) error
	SendClear() error
	SendMark(name string) error
	Close()
}

// Handler receives the conversational events the bridge extracts from the
// audio path. Implementations must not block; the call session enqueues into
// its own event loop.
type Handler interface {
	OnStreamStart(ctx context.Context, streamSid, callSid string, params map[string]string)
	OnCallerTranscript(ctx context.Context, text string)
	OnAssistantTranscript(ctx context.Context, text string)
	OnBargeIn(ctx context.Context)
	OnCallerSilence(ctx context.Context, d time.Duration)
	OnAIFailure(ctx context.Context, err error)
	OnStreamStop(ctx context.Context)
}

// DialFunc opens a new AI session. Called once at start and at most once
// more for the single reconnect attempt.
type DialFunc func(ctx context.Context) (AISession, error)

// Config tunes one bridge.
type Config struct {
	JitterFrames    int           // per-direction buffer size
	Keepalive       time.Duration // mark interval keeping the Twilio socket warm
	SilenceReprompt time.Duration // caller silence before the session is told
}

// Bridge runs the audio path for one call.
type Bridge struct {
	transport Transport
	dial      DialFunc
	handler   Handler
	cfg       Config
	logger    *observability.Logger

	inbound  *JitterBuffer
	outbound *JitterBuffer

	mu      sync.Mutex
	session AISession
}

func New(transport Transport, dial DialFunc, handler Handler, cfg Config, logger *observability.Logger) *Bridge {
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 5 * time.Second
	}
	if cfg.SilenceReprompt <= 0 {
		cfg.SilenceReprompt = 15 * time.Second
	}
	return &Bridge{
		transport: transport,
		dial:      dial,
		handler:   handler,
		cfg:       cfg,
		logger:    logger,
		inbound:   NewJitterBuffer(cfg.JitterFrames, "inbound", logger),
		outbound:  NewJitterBuffer(cfg.JitterFrames, "outbound", logger),
	}
}

// InjectContext forwards grounding or steering text to the live AI session.
func (b *Bridge) InjectContext(text string) error {
	s := b.currentSession()
	if s == nil {
		return callerrors.ErrTransportClosed
	}
	return s.InjectContext(text)
}

// RequestResponse asks the AI to speak now.
func (b *Bridge) RequestResponse(instructions string) error {
	s := b.currentSession()
	if s == nil {
		return callerrors.ErrTransportClosed
	}
	return s.RequestResponse(instructions)
}

func (b *Bridge) currentSession() AISession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

func (b *Bridge) setSession(s AISession) {
	b.mu.Lock()
	b.session = s
	b.mu.Unlock()
}

// Run pumps until the caller hangs up, the AI leg fails twice, or ctx is
// cancelled. It always returns with both legs closed.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer b.transport.Close()

	session, err := b.dial(ctx)
	if err != nil {
		// A dial that never succeeded is fatal, not a per-event glitch.
		err = fmt.Errorf("%w: %w", callerrors.ErrAIUnavailable, err)
		b.handler.OnAIFailure(ctx, err)
		return err
	}
	b.setSession(session)
	defer func() {
		if s := b.currentSession(); s != nil {
			s.Close()
		}
	}()

	go b.pumpInbound(ctx)
	go b.pumpOutbound(ctx)

	streamEvents := b.transport.Events(ctx)
	aiEvents := session.Events()
	reconnected := false

	keepalive := time.NewTicker(b.cfg.Keepalive)
	defer keepalive.Stop()
	silenceCheck := time.NewTicker(time.Second)
	defer silenceCheck.Stop()

	lastVoice := time.Now()
	silenceReported := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-keepalive.C:
			if err := b.transport.SendMark("keepalive"); err != nil {
				b.logger.Warn(ctx, "keepalive mark failed")
			}

		case <-silenceCheck.C:
			quiet := time.Since(lastVoice)
			if quiet >= b.cfg.SilenceReprompt && !silenceReported {
				silenceReported = true
				b.handler.OnCallerSilence(ctx, quiet)
			}

		case ev, ok := <-streamEvents:
			if !ok {
				b.handler.OnStreamStop(ctx)
				return nil
			}
			switch ev.Kind {
			case StreamStarted:
				b.handler.OnStreamStart(ctx, ev.StreamSid, ev.CallSid, ev.Parameters)
			case StreamMedia:
				if frame, err := decodeBase64(ev.Payload); err == nil && !IsSilentFrame(frame) {
					lastVoice = time.Now()
					silenceReported = false
				}
				b.inbound.Push(ev.Payload)
			case StreamStopped:
				b.handler.OnStreamStop(ctx)
				return nil
			}

		case ev, ok := <-aiEvents:
			if !ok {
				if reconnected {
					err := callerrors.WrapAdapter("realtime", callerrors.ErrTransportClosed)
					b.handler.OnAIFailure(ctx, err)
					return err
				}
				reconnected = true
				b.logger.Warn(ctx, "AI session dropped, reconnecting once")
				next, err := b.dial(ctx)
				if err != nil {
					err = fmt.Errorf("%w: %w", callerrors.ErrAIUnavailable, err)
					b.handler.OnAIFailure(ctx, err)
					return err
				}
				b.setSession(next)
				aiEvents = next.Events()
				continue
			}
			switch ev.Type {
			case openai.RealtimeAudioDelta:
				b.outbound.Push(ev.Audio)
			case openai.RealtimeSpeechStarted:
				// Caller barged in: obsolete queued assistant audio on
				// both sides of the wire.
				b.outbound.Clear()
				if err := b.transport.SendClear(); err != nil {
					b.logger.Warn(ctx, "failed to clear Twilio playback buffer")
				}
				b.handler.OnBargeIn(ctx)
			case openai.RealtimeCallerTranscript:
				b.handler.OnCallerTranscript(ctx, ev.Transcript)
			case openai.RealtimeAssistantTranscript:
				b.handler.OnAssistantTranscript(ctx, ev.Transcript)
			case openai.RealtimeError:
				b.handler.OnAIFailure(ctx, ev.Err)
			}
		}
	}
}

func (b *Bridge) pumpInbound(ctx context.Context) {
	for {
		if err := b.inbound.Wait(ctx); err != nil {
			return
		}
		for {
			frame, ok := b.inbound.Pop()
			if !ok {
				break
			}
			s := b.currentSession()
			if s == nil {
				continue
			}
			if err := s.AppendAudio(frame); err != nil {
				b.logger.Debug(ctx, "failed to append audio to AI session")
			}
		}
	}
}

func (b *Bridge) pumpOutbound(ctx context.Context) {
	for {
		if err := b.outbound.Wait(ctx); err != nil {
			return
		}
		for {
			frame, ok := b.outbound.Pop()
			if !ok {
				break
			}
			if err := b.transport.SendAudio(frame); err != nil {
				b.logger.Debug(ctx, "failed to send audio to Twilio")
			}
		}
	}
}

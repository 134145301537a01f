package bridge

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"call-server/internal/callerrors"
	"call-server/internal/clients/openai"
	"call-server/internal/observability"
)

type fakeTransport struct {
	events chan StreamEvent

	mu     sync.Mutex
	sent   []string
	clears int
	marks  []string
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan StreamEvent, 16)}
}

func (f *fakeTransport) Events(ctx context.Context) <-chan StreamEvent { return f.events }

func (f *fakeTransport) SendAudio(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) SendClear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeTransport) SendMark(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, name)
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

type fakeSession struct {
	events chan openai.RealtimeEvent

	mu       sync.Mutex
	appended []string
	closed   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan openai.RealtimeEvent, 16)}
}

func (f *fakeSession) Events() <-chan openai.RealtimeEvent { return f.events }

func (f *fakeSession) AppendAudio(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, payload)
	return nil
}

func (f *fakeSession) InjectContext(text string) error   { return nil }
func (f *fakeSession) RequestResponse(text string) error { return nil }

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) appendedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

type recordingHandler struct {
	mu             sync.Mutex
	callerTexts    []string
	assistantTexts []string
	bargeIns       int
	aiFailures     []error
	streamStops    int
	streamStarts   int
	startCallSid   string
}

func (h *recordingHandler) OnStreamStart(ctx context.Context, streamSid, callSid string, params map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streamStarts++
	h.startCallSid = callSid
}

func (h *recordingHandler) OnCallerTranscript(ctx context.Context, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callerTexts = append(h.callerTexts, text)
}

func (h *recordingHandler) OnAssistantTranscript(ctx context.Context, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.assistantTexts = append(h.assistantTexts, text)
}

func (h *recordingHandler) OnBargeIn(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bargeIns++
}

func (h *recordingHandler) OnCallerSilence(ctx context.Context, d time.Duration) {}

func (h *recordingHandler) OnAIFailure(ctx context.Context, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aiFailures = append(h.aiFailures, err)
}

func (h *recordingHandler) OnStreamStop(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streamStops++
}

func (h *recordingHandler) snapshot() (callers, assistants []string, barges, stops int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.callerTexts...), append([]string(nil), h.assistantTexts...), h.bargeIns, h.streamStops
}

func testConfig() Config {
	return Config{JitterFrames: 8, Keepalive: time.Hour, SilenceReprompt: time.Hour}
}

func TestBridge_ForwardsBothDirections(t *testing.T) {
	transport := newFakeTransport()
	session := newFakeSession()
	handler := &recordingHandler{}

	b := New(transport, func(ctx context.Context) (AISession, error) {
		return session, nil
	}, handler, testConfig(), observability.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	frame := base64.StdEncoding.EncodeToString(loudFrame(160))
	transport.events <- StreamEvent{Kind: StreamStarted, StreamSid: "MZ1", CallSid: "CA1"}
	transport.events <- StreamEvent{Kind: StreamMedia, Payload: frame}
	session.events <- openai.RealtimeEvent{Type: openai.RealtimeAudioDelta, Audio: "out1"}
	session.events <- openai.RealtimeEvent{Type: openai.RealtimeCallerTranscript, Transcript: "hi there"}
	session.events <- openai.RealtimeEvent{Type: openai.RealtimeAssistantTranscript, Transcript: "hello, how can I help"}

	assert.Eventually(t, func() bool {
		return session.appendedCount() == 1 && transport.sentCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		callers, assistants, _, _ := handler.snapshot()
		return len(callers) == 1 && len(assistants) == 1
	}, time.Second, 5*time.Millisecond)

	callers, assistants, _, _ := handler.snapshot()
	assert.Equal(t, "hi there", callers[0])
	assert.Equal(t, "hello, how can I help", assistants[0])

	handler.mu.Lock()
	assert.Equal(t, 1, handler.streamStarts)
	assert.Equal(t, "CA1", handler.startCallSid)
	handler.mu.Unlock()

	transport.events <- StreamEvent{Kind: StreamStopped}
	assert.NoError(t, <-done)
	_, _, _, stops := handler.snapshot()
	assert.Equal(t, 1, stops)

	transport.mu.Lock()
	assert.True(t, transport.closed)
	transport.mu.Unlock()
}

func TestBridge_BargeInClearsOutbound(t *testing.T) {
	transport := newFakeTransport()
	session := newFakeSession()
	handler := &recordingHandler{}

	b := New(transport, func(ctx context.Context) (AISession, error) {
		return session, nil
	}, handler, testConfig(), observability.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	session.events <- openai.RealtimeEvent{Type: openai.RealtimeSpeechStarted}

	assert.Eventually(t, func() bool {
		_, _, barges, _ := handler.snapshot()
		return barges == 1 && transport.clearCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBridge_ReconnectsOnceThenFails(t *testing.T) {
	transport := newFakeTransport()
	first := newFakeSession()
	second := newFakeSession()
	handler := &recordingHandler{}

	dials := 0
	var mu sync.Mutex
	b := New(transport, func(ctx context.Context) (AISession, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}, handler, testConfig(), observability.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// First drop: redialed and the new session serves audio.
	close(first.events)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials == 2
	}, time.Second, 5*time.Millisecond)

	second.events <- openai.RealtimeEvent{Type: openai.RealtimeAudioDelta, Audio: "after-reconnect"}
	assert.Eventually(t, func() bool { return transport.sentCount() == 1 }, time.Second, 5*time.Millisecond)

	// Second drop: no more retries.
	close(second.events)
	err := <-done
	assert.Error(t, err)

	handler.mu.Lock()
	failures := len(handler.aiFailures)
	handler.mu.Unlock()
	assert.Equal(t, 1, failures)
}

func TestBridge_DialFailureReported(t *testing.T) {
	transport := newFakeTransport()
	handler := &recordingHandler{}

	b := New(transport, func(ctx context.Context) (AISession, error) {
		return nil, assert.AnError
	}, handler, testConfig(), observability.NewLogger())

	err := b.Run(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, err, callerrors.ErrAIUnavailable, "dial failures must be classified as fatal")
	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Len(t, handler.aiFailures, 1)
	assert.ErrorIs(t, handler.aiFailures[0], callerrors.ErrAIUnavailable)
}

func TestBridge_ReconnectDialFailureIsFatal(t *testing.T) {
	transport := newFakeTransport()
	first := newFakeSession()
	handler := &recordingHandler{}

	dials := 0
	var mu sync.Mutex
	b := New(transport, func(ctx context.Context) (AISession, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return nil, assert.AnError
	}, handler, testConfig(), observability.NewLogger())

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	close(first.events)
	err := <-done
	assert.ErrorIs(t, err, callerrors.ErrAIUnavailable)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Len(t, handler.aiFailures, 1)
	assert.ErrorIs(t, handler.aiFailures[0], callerrors.ErrAIUnavailable)
}

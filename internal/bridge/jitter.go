package bridge

import (
	"context"
	"sync"

	"call-server/internal/metrics"
	"call-server/internal/observability"
)

// JitterBuffer is a bounded FIFO of audio frames between the telephony leg
// and the AI leg. When the consumer falls behind, the oldest frames are
// dropped: stale audio is worse than missing audio on a live call. Each
// saturation episode logs a single warning so a slow consumer cannot flood
// the log at frame rate.
type JitterBuffer struct {
	mu        sync.Mutex
	frames    []string
	max       int
	saturated bool
	direction string
	notify    chan struct{}
	logger    *observability.Logger
}

// NewJitterBuffer creates a buffer holding at most max frames. direction
// labels dropped-frame metrics ("inbound" or "outbound").
func NewJitterBuffer(max int, direction string, logger *observability.Logger) *JitterBuffer {
	if max <= 0 {
		max = 1
	}
	return &JitterBuffer{
		frames:    make([]string, 0, max),
		max:       max,
		direction: direction,
		notify:    make(chan struct{}, 1),
		logger:    logger,
	}
}

// Push appends a frame, evicting the oldest frame when full. Never blocks.
func (b *JitterBuffer) Push(frame string) {
	b.mu.Lock()
	if len(b.frames) >= b.max {
		b.frames = b.frames[1:]
		metrics.FramesDropped.WithLabelValues(b.direction).Inc()
		if !b.saturated {
			b.saturated = true
			b.logger.Warn(
				observability.WithFields(context.Background(),
					observability.Field{Key: "direction", Value: b.direction}),
				"jitter buffer saturated, dropping oldest frames")
		}
	}
	b.frames = append(b.frames, frame)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Pop removes the oldest frame. The second return is false when the buffer
// is empty.
func (b *JitterBuffer) Pop() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return "", false
	}
	frame := b.frames[0]
	b.frames = b.frames[1:]
	// The episode ends only when the consumer fully catches up. Resetting
	// on a partial drain would log once per push/pop oscillation under
	// sustained overload.
	if len(b.frames) == 0 {
		b.saturated = false
	}
	return frame, true
}

// Wait blocks until a frame may be available or ctx is done. Spurious
// wakeups are possible; callers loop on Pop.
func (b *JitterBuffer) Wait(ctx context.Context) error {
	select {
	case <-b.notify:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of buffered frames.
func (b *JitterBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Clear empties the buffer, used when barge-in obsoletes queued assistant
// audio.
func (b *JitterBuffer) Clear() {
	b.mu.Lock()
	b.frames = b.frames[:0]
	b.saturated = false
	b.mu.Unlock()
}

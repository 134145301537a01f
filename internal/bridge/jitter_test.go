package bridge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"call-server/internal/observability"
)

func TestJitterBuffer_FIFO(t *testing.T) {
	b := NewJitterBuffer(4, "inbound", observability.NewLogger())
	b.Push("a")
	b.Push("b")
	b.Push("c")

	frame, ok := b.Pop()
	assert.True(t, ok)
	assert.Equal(t, "a", frame)
	frame, _ = b.Pop()
	assert.Equal(t, "b", frame)
	frame, _ = b.Pop()
	assert.Equal(t, "c", frame)

	_, ok = b.Pop()
	assert.False(t, ok)
}

func TestJitterBuffer_DropsOldestWhenFull(t *testing.T) {
	b := NewJitterBuffer(3, "inbound", observability.NewLogger())
	for i := 0; i < 5; i++ {
		b.Push(fmt.Sprintf("f%d", i))
	}

	assert.Equal(t, 3, b.Len())
	frame, _ := b.Pop()
	assert.Equal(t, "f2", frame, "oldest frames evicted first")
	frame, _ = b.Pop()
	assert.Equal(t, "f3", frame)
	frame, _ = b.Pop()
	assert.Equal(t, "f4", frame)
}

func TestJitterBuffer_PushNeverBlocks(t *testing.T) {
	b := NewJitterBuffer(2, "outbound", observability.NewLogger())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Push("x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked")
	}
	assert.Equal(t, 2, b.Len())
}

func TestJitterBuffer_WaitWakesOnPush(t *testing.T) {
	b := NewJitterBuffer(4, "inbound", observability.NewLogger())

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Push("wake")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, b.Wait(ctx))
	frame, ok := b.Pop()
	assert.True(t, ok)
	assert.Equal(t, "wake", frame)
}

func TestJitterBuffer_WaitHonorsContext(t *testing.T) {
	b := NewJitterBuffer(4, "inbound", observability.NewLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.DeadlineExceeded)
}

func TestJitterBuffer_SaturationLatchesUntilDrained(t *testing.T) {
	b := NewJitterBuffer(3, "inbound", observability.NewLogger())
	for i := 0; i < 5; i++ {
		b.Push("x")
	}
	b.mu.Lock()
	assert.True(t, b.saturated)
	b.mu.Unlock()

	// Push/pop oscillation at the boundary stays inside one episode.
	b.Pop()
	b.Push("y")
	b.mu.Lock()
	assert.True(t, b.saturated, "partial drain must not end the episode")
	b.mu.Unlock()

	for {
		if _, ok := b.Pop(); !ok {
			break
		}
	}
	b.mu.Lock()
	assert.False(t, b.saturated, "episode ends when the consumer catches up")
	b.mu.Unlock()
}

func TestJitterBuffer_Clear(t *testing.T) {
	b := NewJitterBuffer(4, "outbound", observability.NewLogger())
	b.Push("a")
	b.Push("b")
	b.Clear()
	assert.Equal(t, 0, b.Len())
	_, ok := b.Pop()
	assert.False(t, ok)
}

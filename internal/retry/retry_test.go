package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"call-server/internal/callerrors"

	"github.com/stretchr/testify/assert"
)

func testPolicy() Policy {
	return Policy{Timeout: 50 * time.Millisecond, Backoff: time.Millisecond, Attempts: 2}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "scheduling", testPolicy(), func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesExactlyOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "scheduling", testPolicy(), func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})

	assert.Error(t, err)
	assert.Equal(t, 2, calls)

	var ae *callerrors.AdapterError
	assert.True(t, errors.As(err, &ae))
	assert.Equal(t, "scheduling", ae.Adapter)
}

func TestDo_SecondAttemptSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "dispatch", testPolicy(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_TimeoutClassified(t *testing.T) {
	p := Policy{Timeout: 10 * time.Millisecond, Backoff: time.Millisecond, Attempts: 1}
	err := Do(context.Background(), "knowledge", p, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.Error(t, err)
	assert.True(t, callerrors.IsAdapterTimeout(err))
}

func TestDo_NoRetryAfterCallCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, "scheduling", testPolicy(), func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNoRetry_SingleAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "persistence", testPolicy().NoRetry(), func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

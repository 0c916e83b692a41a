package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	timer := NewRecordingTimer()
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4, Delay: 2 * time.Second, Timer: timer}, func() error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, timer.Waits())
}

func TestDo_HonoursServerHint(t *testing.T) {
	timer := NewRecordingTimer()
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Second, UseServerHint: true, Timer: timer}, func() error {
		calls++
		return &RetryAfterError{Err: errBusy, After: 5 * time.Second}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 3, calls, "bounded to MaxAttempts")
	require.Len(t, timer.Waits(), 2)
	for _, w := range timer.Waits() {
		assert.GreaterOrEqual(t, w, 5*time.Second)
	}
}

func TestDo_IgnoresHintWhenDisabled(t *testing.T) {
	timer := NewRecordingTimer()
	_ = Do(context.Background(), Policy{MaxAttempts: 2, Delay: time.Second, Timer: timer}, func() error {
		return &RetryAfterError{Err: errBusy, After: time.Minute}
	})
	assert.Equal(t, []time.Duration{time.Second}, timer.Waits())
}

func TestDo_MaxDelayCapsHint(t *testing.T) {
	timer := NewRecordingTimer()
	_ = Do(context.Background(), Policy{MaxAttempts: 2, UseServerHint: true, MaxDelay: 10 * time.Second, Timer: timer}, func() error {
		return &RetryAfterError{Err: errBusy, After: time.Hour}
	})
	assert.Equal(t, []time.Duration{10 * time.Second}, timer.Waits())
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	forbidden := errors.New("forbidden")
	timer := NewRecordingTimer()
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, Delay: time.Second, Timer: timer}, func() error {
		calls++
		return Permanent(forbidden)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, forbidden)
	assert.NotErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.Waits())
}

func TestDo_ExponentialGrowth(t *testing.T) {
	timer := NewRecordingTimer()
	_ = Do(context.Background(), Policy{MaxAttempts: 4, Delay: time.Second, Multiplier: 2, Timer: timer}, func() error {
		return errBusy
	})
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, timer.Waits())
}

func TestDo_SingleAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, func() error {
		calls++
		return errBusy
	})
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 3, Delay: time.Hour}, func() error {
		calls++
		return errBusy
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	d, ok := ParseRetryAfter("5", now)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Zero(t, d)

	_, ok = ParseRetryAfter("", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter("-3", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter("soon", now)
	assert.False(t, ok)
}

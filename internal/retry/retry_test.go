package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	now    time.Time
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
	c.sleeps++
}

func TestUntilSucceedsAfterRetries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	attempts := 0

	err := Until(context.Background(), Config{
		Interval: time.Second,
		Timeout:  10 * time.Second,
		Now:      clock.Now,
		Sleep:    clock.Sleep,
	}, func(context.Context) (bool, error) {
		attempts++
		return attempts == 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, clock.sleeps)
}

func TestUntilTimesOutWithoutRealSleeping(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	attempts := 0

	start := time.Now()
	err := Until(context.Background(), Config{
		Interval: time.Second,
		Timeout:  5 * time.Second,
		Now:      clock.Now,
		Sleep:    clock.Sleep,
	}, func(context.Context) (bool, error) {
		attempts++
		return false, nil
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 5, attempts)
	// The injected clock means the wall clock barely moved.
	assert.Less(t, time.Since(start), time.Second)
}

func TestUntilStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0

	err := Until(context.Background(), Config{
		Interval: time.Millisecond,
		Timeout:  time.Second,
	}, func(context.Context) (bool, error) {
		attempts++
		return false, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestUntilHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Until(ctx, Config{}, func(context.Context) (bool, error) {
		t.Fatal("fn must not run after cancellation")
		return false, nil
	})

	require.ErrorIs(t, err, context.Canceled)
}

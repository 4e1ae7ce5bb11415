package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var (
	testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	errFlaky = errors.New("flaky endpoint")
)

func TestBackoff(t *testing.T) {
	p := DefaultPolicy()

	require.Equal(t, time.Second, p.Backoff(0))
	require.Equal(t, time.Second, p.Backoff(1))
	require.Equal(t, 2*time.Second, p.Backoff(2))
	require.Equal(t, 4*time.Second, p.Backoff(3))
	require.Equal(t, 4*time.Second, p.Backoff(10))

	uncapped := Policy{BaseDelay: time.Millisecond}
	require.Equal(t, 8*time.Millisecond, uncapped.Backoff(4))
}

// TestDoBacksOff drives the retrier with a test clock and asserts that it
// waits 1s then 2s before giving up with the last error.
func TestDoBacksOff(t *testing.T) {
	ticks := make(chan time.Duration, 4)
	clk := clock.NewTestClockWithTickSignal(testTime, ticks)
	r := New(DefaultPolicy(), clk)

	var attempts []int
	done := make(chan error, 1)
	go func() {
		done <- r.Do(context.Background(),
			func(_ context.Context, attempt int) error {
				attempts = append(attempts, attempt)
				return errFlaky
			})
	}()

	require.Equal(t, time.Second, <-ticks)
	clk.SetTime(testTime.Add(time.Second))

	require.Equal(t, 2*time.Second, <-ticks)
	clk.SetTime(testTime.Add(3 * time.Second))

	select {
	case err := <-done:
		require.ErrorIs(t, err, errFlaky)
	case <-time.After(time.Second):
		t.Fatal("retrier did not finish")
	}
	require.Equal(t, []int{1, 2, 3}, attempts)
}

func TestDoSucceedsAfterFailure(t *testing.T) {
	// A zero delay policy never waits on the clock.
	r := New(Policy{MaxAttempts: 3}, clock.NewTestClock(testTime))

	calls := 0
	err := r.Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls < 2 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	r := New(DefaultPolicy(), clock.NewTestClock(testTime))

	errStop := errors.New("budget exhausted")
	calls := 0
	err := r.Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(errStop)
	})
	require.Equal(t, errStop, err)
	require.Equal(t, 1, calls)
	require.Nil(t, Permanent(nil))
}

func TestDoHonoursContext(t *testing.T) {
	r := New(DefaultPolicy(), clock.NewTestClock(testTime))

	ctx, cancel := context.WithCancel(context.Background())
	err := r.Do(ctx, func(context.Context, int) error {
		cancel()
		return errFlaky
	})
	require.ErrorIs(t, err, context.Canceled)
}

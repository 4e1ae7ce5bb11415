package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	addrA = "0x00000000000000000000000000000000000000aa"
	addrB = "0x00000000000000000000000000000000000000bb"
)

func exhaust(t *testing.T, l *Limiter, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		require.NoError(t, l.RecordAttempt(), "attempt %d", i+1)
	}
}

// TestTripsAfterMaxAttempts asserts that the attempt after the budget fails
// and that the limiter then stays blocked.
func TestTripsAfterMaxAttempts(t *testing.T) {
	l := New(0)
	l.Bind(addrA)

	exhaust(t, l, DefaultMaxAttempts)
	require.False(t, l.Blocked())

	require.ErrorIs(t, l.RecordAttempt(), ErrRateLimitExceeded)
	require.True(t, l.Blocked())

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, l.RecordAttempt(), ErrRateLimitExceeded)
	}

	state := l.Snapshot()
	require.Equal(t, State{
		TotalAttempts:     DefaultMaxAttempts,
		MaxAttempts:       DefaultMaxAttempts,
		IsBlocked:         true,
		BlockedForSession: addrA,
	}, state)
}

func TestBindResetsOnlyForNewAddress(t *testing.T) {
	l := New(2)
	require.True(t, l.Bind(addrA))

	exhaust(t, l, 2)
	require.Error(t, l.RecordAttempt())

	// Same address, different casing: still blocked.
	require.False(t, l.Bind("0x00000000000000000000000000000000000000AA"))
	require.True(t, l.Blocked())

	require.True(t, l.Bind(addrB))
	require.False(t, l.Blocked())
	require.Equal(t, 0, l.Snapshot().TotalAttempts)
	exhaust(t, l, 2)
}

func TestResetOnDisconnect(t *testing.T) {
	l := New(1)
	l.Bind(addrA)
	exhaust(t, l, 1)
	require.Error(t, l.RecordAttempt())

	l.Reset()
	require.False(t, l.Blocked())
	require.Equal(t, State{MaxAttempts: 1}, l.Snapshot())

	// The same address binding again after a disconnect starts fresh.
	require.True(t, l.Bind(addrA))
	exhaust(t, l, 1)
}

package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexie-crypto/lexie-wallet/internal/connect"
)

func TestEmitterFanOut(t *testing.T) {
	e := NewEmitter(4)

	a, err := e.Subscribe()
	require.NoError(t, err)
	b, err := e.Subscribe()
	require.NoError(t, err)

	e.Emit(Event{Kind: EventInitStarted})
	require.Equal(t, EventInitStarted, (<-a.Updates()).Kind)
	require.Equal(t, EventInitStarted, (<-b.Updates()).Kind)

	a.Cancel()
	_, ok := <-a.Updates()
	require.False(t, ok)

	// Cancelling twice is harmless.
	a.Cancel()

	e.Emit(Event{Kind: EventScanStarted})
	require.Equal(t, EventScanStarted, (<-b.Updates()).Kind)
}

func TestEmitterDropsForSlowSubscriber(t *testing.T) {
	e := NewEmitter(1)
	sub, err := e.Subscribe()
	require.NoError(t, err)

	e.Emit(Event{Kind: EventInitStarted})
	e.Emit(Event{Kind: EventInitCompleted})

	require.Equal(t, EventInitStarted, (<-sub.Updates()).Kind)
	select {
	case ev := <-sub.Updates():
		t.Fatalf("unexpected event %v", ev.Kind)
	default:
	}
}

func TestEmitterClose(t *testing.T) {
	e := NewEmitter(0)
	sub, err := e.Subscribe()
	require.NoError(t, err)

	e.Close()
	_, ok := <-sub.Updates()
	require.False(t, ok)

	_, err = e.Subscribe()
	require.ErrorIs(t, err, ErrEmitterClosed)

	sub.Cancel()
	e.Close()
}

func TestStateEpochs(t *testing.T) {
	s := NewState()
	require.False(t, s.Current(0))
	require.False(t, s.MarkDisconnecting())
	require.False(t, s.SetChain(1))

	epoch := s.Begin(connect.Session{Address: "0xabc", ChainID: 1})
	require.True(t, s.Current(epoch))
	require.True(t, s.SetChain(137))
	require.EqualValues(t, 137, s.Session().UnsafeFromSome().ChainID)

	require.True(t, s.MarkDisconnecting())
	require.False(t, s.Current(epoch))
	require.False(t, s.MarkDisconnecting())

	s.End()
	require.True(t, s.Session().IsNone())

	next := s.Begin(connect.Session{Address: "0xdef"})
	require.Greater(t, next, epoch)
	require.True(t, s.Current(next))
	require.False(t, s.Current(epoch))
}

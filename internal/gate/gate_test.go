package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/lexie-crypto/lexie-wallet/internal/connect"
)

const (
	metamask      connect.ConnectorKind = "metamask"
	walletConnect connect.ConnectorKind = "walletconnect"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type memFlags struct {
	mu    sync.Mutex
	flags map[string]bool
	err   error
}

func newMemFlags() *memFlags {
	return &memFlags{flags: make(map[string]bool)}
}

func (m *memFlags) GetFlag(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.flags[key], m.err
}

func (m *memFlags) SetFlag(key string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.flags[key] = value
	return nil
}

type mockWallet struct {
	disconnects int
	revokes     int
	revokeErr   error
}

func (m *mockWallet) SignMessage(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockWallet) Disconnect(context.Context) error {
	m.disconnects++
	return nil
}

func (m *mockWallet) RevokePermissions(context.Context) error {
	m.revokes++
	return m.revokeErr
}

func newTestGate(flags FlagStore) (*Gate, *clock.TestClock) {
	clk := clock.NewTestClock(testTime)
	return New(Config{Flags: flags, Clock: clk}), clk
}

func TestRejectsStartupAutoConnect(t *testing.T) {
	g, _ := newTestGate(newMemFlags())

	d := g.Evaluate(Event{Connector: metamask})
	require.False(t, d.Allow)
	require.Equal(t, ReasonStartupAutoConnect, d.Reason)

	require.NoError(t, g.UserConnect(metamask))
	d = g.Evaluate(Event{Connector: metamask})
	require.True(t, d.Allow)
}

func TestBlockedBrandOutsideGraceWindow(t *testing.T) {
	flags := newMemFlags()
	g, clk := newTestGate(flags)

	require.NoError(t, g.UserConnect(metamask))
	require.NoError(t, g.UserDisconnect(metamask))
	require.True(t, flags.flags[FlagKey(metamask)])

	// Within the grace window the event is still attributed to the user.
	clk.SetTime(testTime.Add(500 * time.Millisecond))
	require.True(t, g.Evaluate(Event{Connector: metamask}).Allow)

	clk.SetTime(testTime.Add(2 * time.Second))
	d := g.Evaluate(Event{Connector: metamask})
	require.False(t, d.Allow)
	require.Equal(t, ReasonBlockedBrand, d.Reason)

	// Other brands are unaffected.
	require.True(t, g.Evaluate(Event{Connector: walletConnect}).Allow)

	// An explicit connect clears the flag.
	require.NoError(t, g.UserConnect(metamask))
	clk.SetTime(testTime.Add(time.Minute))
	require.True(t, g.Evaluate(Event{Connector: metamask}).Allow)
}

// TestDisconnectIsNotAUserAction asserts that a disconnect click alone does
// not open the gate for a startup auto-connect.
func TestDisconnectIsNotAUserAction(t *testing.T) {
	g, clk := newTestGate(newMemFlags())

	require.NoError(t, g.UserDisconnect(walletConnect))
	_, acted := g.SinceUserAction()
	require.False(t, acted)

	d := g.Evaluate(Event{Connector: metamask})
	require.False(t, d.Allow)
	require.Equal(t, ReasonStartupAutoConnect, d.Reason)

	// The grace window runs from the last connect, not the disconnect.
	require.NoError(t, g.UserConnect(metamask))
	clk.SetTime(testTime.Add(time.Minute))
	require.NoError(t, g.UserDisconnect(metamask))
	d = g.Evaluate(Event{Connector: metamask})
	require.False(t, d.Allow)
	require.Equal(t, ReasonBlockedBrand, d.Reason)
}

// TestFlagSurvivesRestart asserts that a new gate over the same store
// rejects the blocked brand once the user acted on something else.
func TestFlagSurvivesRestart(t *testing.T) {
	flags := newMemFlags()
	g, _ := newTestGate(flags)
	require.NoError(t, g.UserDisconnect(metamask))

	restarted, clk := newTestGate(flags)
	require.NoError(t, restarted.UserConnect(walletConnect))
	clk.SetTime(testTime.Add(5 * time.Second))

	require.False(t, restarted.Evaluate(Event{Connector: metamask}).Allow)
}

func TestFlagStoreErrors(t *testing.T) {
	flags := newMemFlags()
	g, _ := newTestGate(flags)
	require.NoError(t, g.UserConnect(metamask))

	flags.err = errors.New("disk full")
	require.Error(t, g.UserDisconnect(metamask))

	// Unreadable flags do not block the user.
	require.True(t, g.Evaluate(Event{Connector: metamask}).Allow)
}

func TestForceDisconnectIgnoresRevokeFailure(t *testing.T) {
	g, _ := newTestGate(newMemFlags())
	w := &mockWallet{revokeErr: errors.New("unsupported method")}

	require.NoError(t, g.ForceDisconnect(context.Background(), w))
	require.Equal(t, 1, w.revokes)
	require.Equal(t, 1, w.disconnects)
}

package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
)

const testAddr = "0x00000000000000000000000000000000000000aa"

var (
	testTime   = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	testTarget = Target{Address: testAddr, WalletID: "wallet-1"}
)

type mockEngine struct {
	engine.Engine

	refreshes atomic.Int32
	started   chan engine.ChainID
	release   chan struct{}
	err       error
}

func (m *mockEngine) RefreshBalances(ctx context.Context, chain engine.ChainID,
	walletIDs []string) error {

	m.refreshes.Add(1)
	if m.started != nil {
		m.started <- chain
	}
	if m.release != nil {
		<-m.release
	}
	return m.err
}

func seededStore(t *testing.T) *metadata.MemoryStore {
	s := metadata.NewMemoryStore()
	require.NoError(t, s.Put(context.Background(), testAddr, &metadata.Record{
		WalletID:          "wallet-1",
		PrivacyAddress:    "0zk1abc",
		Signature:         "0xsig",
		EncryptedMnemonic: "salt:iv:ct",
		ScannedChains:     []engine.ChainID{},
		SchemaVersion:     metadata.SchemaVersion,
	}))
	return s
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
}

func newTestTracker(e *mockEngine, s metadata.Store) (*Tracker, *eventLog) {
	events := &eventLog{}
	return New(Config{
		Engine: e,
		Store:  s,
		Clock:  clock.NewTestClock(testTime),
		Notify: events.add,
	}), events
}

func TestScanOnceAndPersist(t *testing.T) {
	e := &mockEngine{}
	s := seededStore(t)
	tr, events := newTestTracker(e, s)
	ctx := context.Background()

	ran, err := tr.EnsureScanned(ctx, testTarget, 1)
	require.NoError(t, err)
	require.True(t, ran)

	ran, err = tr.EnsureScanned(ctx, testTarget, 1)
	require.NoError(t, err)
	require.False(t, ran)
	require.EqualValues(t, 1, e.refreshes.Load())

	rec, err := s.Get(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, []engine.ChainID{1}, rec.ScannedChains)
	require.Equal(t, "0xsig", rec.Signature)
	require.Equal(t, "salt:iv:ct", rec.EncryptedMnemonic)
	require.Equal(t, testTime, *rec.LastBalanceUpdate)

	last, ok, err := tr.LastUpdate(ctx, testTarget)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testTime, last)

	require.Equal(t, []Event{
		{Kind: ScanStarted, WalletID: "wallet-1", ChainID: 1},
		{Kind: ScanComplete, WalletID: "wallet-1", ChainID: 1},
	}, events.events)
}

// TestRemoteScannedChainSkipsRefresh covers a chain already recorded by
// another device.
func TestRemoteScannedChainSkipsRefresh(t *testing.T) {
	e := &mockEngine{}
	s := seededStore(t)
	_, err := metadata.Update(context.Background(), s, testAddr,
		func(r *metadata.Record) error {
			r.AddScannedChain(137)
			return nil
		})
	require.NoError(t, err)

	tr, _ := newTestTracker(e, s)
	ran, err := tr.EnsureScanned(context.Background(), testTarget, 137)
	require.NoError(t, err)
	require.False(t, ran)
	require.Zero(t, e.refreshes.Load())
}

// TestConcurrentCallsRefreshOnce asserts that concurrent calls for one
// pair refresh once while another chain scans in parallel.
func TestConcurrentCallsRefreshOnce(t *testing.T) {
	e := &mockEngine{
		started: make(chan engine.ChainID, 4),
		release: make(chan struct{}),
	}
	s := seededStore(t)
	tr, _ := newTestTracker(e, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	scan := func(chain engine.ChainID) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.EnsureScanned(ctx, testTarget, chain)
			require.NoError(t, err)
		}()
	}

	scan(1)
	require.Equal(t, engine.ChainID(1), <-e.started)
	require.True(t, tr.InFlight("wallet-1", 1))

	// Same pair while in flight: returns without refreshing.
	ran, err := tr.EnsureScanned(ctx, testTarget, 1)
	require.NoError(t, err)
	require.False(t, ran)

	// A different chain is not blocked.
	scan(42161)
	require.Equal(t, engine.ChainID(42161), <-e.started)

	close(e.release)
	wg.Wait()

	require.EqualValues(t, 2, e.refreshes.Load())
	require.False(t, tr.InFlight("wallet-1", 1))

	rec, err := s.Get(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, []engine.ChainID{1, 42161}, rec.ScannedChains)
}

func TestFailedScanClearsInFlight(t *testing.T) {
	e := &mockEngine{err: errors.New("rpc timeout")}
	s := seededStore(t)
	tr, events := newTestTracker(e, s)
	ctx := context.Background()

	_, err := tr.EnsureScanned(ctx, testTarget, 56)
	require.ErrorContains(t, err, "rpc timeout")
	require.False(t, tr.InFlight("wallet-1", 56))
	require.Error(t, events.events[1].Err)

	rec, err := s.Get(ctx, testAddr)
	require.NoError(t, err)
	require.False(t, rec.HasScanned(56))

	// A later call retries.
	e.err = nil
	ran, err := tr.EnsureScanned(ctx, testTarget, 56)
	require.NoError(t, err)
	require.True(t, ran)
}

func TestResetForgetsCache(t *testing.T) {
	e := &mockEngine{}
	tr, _ := newTestTracker(e, metadata.NewMemoryStore())
	ctx := context.Background()

	// Without a record the scan runs but cannot be persisted.
	ran, err := tr.EnsureScanned(ctx, testTarget, 1)
	require.NoError(t, err)
	require.True(t, ran)

	ran, err = tr.EnsureScanned(ctx, testTarget, 1)
	require.NoError(t, err)
	require.False(t, ran)

	tr.Reset()
	ran, err = tr.EnsureScanned(ctx, testTarget, 1)
	require.NoError(t, err)
	require.True(t, ran)
	require.EqualValues(t, 2, e.refreshes.Load())
}

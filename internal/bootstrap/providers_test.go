package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/ratelimit"
	"github.com/lexie-crypto/lexie-wallet/internal/retry"
)

var testNetworks = []engine.NetworkConfig{
	{Name: "Ethereum", ChainID: 1, Providers: ProviderPair("https://a", "https://b")},
	{Name: "Arbitrum", ChainID: 42161, Providers: ProviderPair("https://c", "https://d")},
	{Name: "Polygon", ChainID: 137, Providers: ProviderPair("https://e", "https://f")},
	{Name: "BNB Chain", ChainID: 56, Providers: ProviderPair("https://g", "")},
}

type mockEngine struct {
	engine.Engine

	mu      sync.Mutex
	loads   []engine.ChainID
	failing map[engine.ChainID]int
	paused  int
}

func newMockEngine() *mockEngine {
	return &mockEngine{failing: make(map[engine.ChainID]int)}
}

func (m *mockEngine) LoadProvider(_ context.Context, n engine.NetworkConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loads = append(m.loads, n.ChainID)
	if m.failing[n.ChainID] != 0 {
		m.failing[n.ChainID]--
		return fmt.Errorf("rpc %d unreachable", n.ChainID)
	}
	return nil
}

func (m *mockEngine) PausePolling() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.paused++
}

func newTestBootstrapper(e *mockEngine, l *ratelimit.Limiter) *Bootstrapper {
	// A zero delay policy keeps the test clock out of the way.
	r := retry.New(retry.Policy{MaxAttempts: 3},
		clock.NewTestClock(time.Unix(0, 0)))

	return New(Config{Engine: e, Limiter: l, Retrier: r})
}

func TestProviderPair(t *testing.T) {
	pair := ProviderPair("https://primary", "https://fallback")
	require.Len(t, pair, 2)

	primary, fallback := pair[0], pair[1]
	require.Less(t, primary.Priority, fallback.Priority)
	require.Greater(t, primary.Weight, fallback.Weight)
	require.Less(t, primary.MaxLogsPerBatch, fallback.MaxLogsPerBatch)
	require.Less(t, primary.StallTimeout, fallback.StallTimeout)

	require.Len(t, ProviderPair("https://primary", ""), 1)
}

func TestLoadAllNetworks(t *testing.T) {
	e := newMockEngine()
	l := ratelimit.New(ratelimit.DefaultMaxAttempts)
	b := newTestBootstrapper(e, l)

	res, err := b.LoadProviders(context.Background(), testNetworks, 1)
	require.NoError(t, err)
	require.Len(t, res.Loaded, 4)
	require.False(t, res.RateLimited)
	require.Equal(t, 1, e.paused)
	require.Equal(t, 4, l.Snapshot().TotalAttempts)

	// Loaded networks are not loaded twice.
	res, err = b.LoadProviders(context.Background(), testNetworks, 1)
	require.NoError(t, err)
	require.Empty(t, res.Loaded)
	require.Len(t, e.loads, 4)
	require.True(t, b.IsLoaded(56))
}

func TestFailingNetworkIsRetriedThenSkipped(t *testing.T) {
	e := newMockEngine()
	e.failing[42161] = 100
	e.failing[137] = 1
	l := ratelimit.New(ratelimit.DefaultMaxAttempts)
	b := newTestBootstrapper(e, l)

	res, err := b.LoadProviders(context.Background(), testNetworks, 1)

	var partial *PartialFailure
	require.ErrorAs(t, err, &partial)
	require.ErrorIs(t, err, ErrProviderLoad)
	require.Contains(t, partial.Failures, engine.ChainID(42161))
	require.Contains(t, err.Error(), "chain 42161")

	require.Len(t, res.Loaded, 3)
	for _, n := range res.Loaded {
		if n.ChainID == 137 {
			require.Equal(t, 2, n.Attempts)
		}
	}

	// 1 + 3 + 2 + 1 attempts.
	require.Equal(t, 7, l.Snapshot().TotalAttempts)
	require.Equal(t, 1, e.paused)
}

// TestRateLimitedChainSwitch covers a session with 9/9 attempts used
// switching chains: exactly one load attempt is made, for the active chain.
func TestRateLimitedChainSwitch(t *testing.T) {
	e := newMockEngine()
	l := ratelimit.New(ratelimit.DefaultMaxAttempts)
	for i := 0; i < ratelimit.DefaultMaxAttempts; i++ {
		require.NoError(t, l.RecordAttempt())
	}
	b := newTestBootstrapper(e, l)

	res, err := b.LoadProviders(context.Background(), testNetworks, 137)
	require.NoError(t, err)
	require.True(t, res.RateLimited)
	require.Equal(t, []engine.ChainID{137}, e.loads)
	require.ElementsMatch(t, []engine.ChainID{1, 42161, 56}, res.Skipped)
	require.Len(t, res.Loaded, 1)
	require.True(t, l.Blocked())
}

func TestRateLimitTripsMidway(t *testing.T) {
	e := newMockEngine()
	e.failing[1] = 100
	l := ratelimit.New(4)
	b := newTestBootstrapper(e, l)

	// Ethereum burns three attempts, Arbitrum the fourth, then the
	// limiter trips on Polygon, which is the active chain.
	res, err := b.LoadProviders(context.Background(), testNetworks, 137)
	require.Error(t, err)
	require.True(t, res.RateLimited)
	require.Equal(t, []engine.ChainID{1, 1, 1, 42161, 137}, e.loads)
	require.Equal(t, []engine.ChainID{56}, res.Skipped)
}

type stubProbe struct {
	fail map[string]bool
}

func (s stubProbe) Probe(_ context.Context, _ engine.ChainID,
	p engine.ProviderConfig) error {

	if s.fail[p.URL] {
		return errors.New("unreachable")
	}
	return nil
}

func TestProbeGatesLoad(t *testing.T) {
	e := newMockEngine()
	l := ratelimit.New(ratelimit.DefaultMaxAttempts)
	b := newTestBootstrapper(e, l)
	b.cfg.Probe = stubProbe{fail: map[string]bool{
		"https://a": true,
		"https://b": true,
		"https://c": true,
	}}

	res, err := b.LoadProviders(context.Background(), testNetworks[:2], 1)
	require.Error(t, err)
	require.Contains(t, res.Failed, engine.ChainID(1))

	// Arbitrum's fallback answered, so it is loaded.
	require.Equal(t, []engine.ChainID{42161}, e.loads)
}

func newRPCServer(t *testing.T, chainHex string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter,
		r *http.Request) {

		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "eth_chainId", req.Method)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%q}`,
			req.ID, chainHex)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestEthProbe(t *testing.T) {
	srv := newRPCServer(t, "0x89")
	p := ProviderPair(srv.URL, "")[0]

	require.NoError(t, EthProbe{}.Probe(context.Background(), 137, p))

	err := EthProbe{}.Probe(context.Background(), 1, p)
	require.ErrorContains(t, err, "expected 1")
}

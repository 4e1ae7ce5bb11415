// Package bootstrap loads per-network RPC providers into the privacy engine
// under the session rate limiter.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/ratelimit"
	"github.com/lexie-crypto/lexie-wallet/internal/retry"
)

// ErrProviderLoad wraps the last error seen for a network that could not be
// loaded.
var ErrProviderLoad = errors.New("provider load failed")

// Weighted pair tuning. The primary is tried first with small log batches
// and a short stall timeout, the fallback takes over with larger batches.
const (
	primaryPriority     = 1
	primaryWeight       = 2
	primaryBatchSize    = 1
	primaryStallTimeout = 2500 * time.Millisecond

	fallbackPriority     = 2
	fallbackWeight       = 1
	fallbackBatchSize    = 5
	fallbackStallTimeout = 5 * time.Second
)

// ProviderPair builds the weighted primary/fallback provider list for a
// network. An empty fallback yields a single provider.
func ProviderPair(primaryURL, fallbackURL string) []engine.ProviderConfig {
	providers := []engine.ProviderConfig{{
		URL:             primaryURL,
		Priority:        primaryPriority,
		Weight:          primaryWeight,
		MaxLogsPerBatch: primaryBatchSize,
		StallTimeout:    primaryStallTimeout,
	}}
	if fallbackURL != "" {
		providers = append(providers, engine.ProviderConfig{
			URL:             fallbackURL,
			Priority:        fallbackPriority,
			Weight:          fallbackWeight,
			MaxLogsPerBatch: fallbackBatchSize,
			StallTimeout:    fallbackStallTimeout,
		})
	}
	return providers
}

// LoadedNetwork describes a network whose providers are in the engine.
type LoadedNetwork struct {
	ChainID  engine.ChainID
	Name     string
	Attempts int
}

// Result summarises one LoadProviders call.
type Result struct {
	Loaded      []LoadedNetwork
	Failed      map[engine.ChainID]error
	Skipped     []engine.ChainID
	RateLimited bool
}

// PartialFailure lists the networks that could not be loaded. The other
// networks in the same call may have loaded fine.
type PartialFailure struct {
	Failures map[engine.ChainID]error
}

func (p *PartialFailure) Error() string {
	chains := make([]engine.ChainID, 0, len(p.Failures))
	for chain := range p.Failures {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })

	parts := make([]string, 0, len(chains))
	for _, chain := range chains {
		parts = append(parts,
			fmt.Sprintf("chain %d: %v", chain, p.Failures[chain]))
	}
	return "providers failed to load: " + strings.Join(parts, "; ")
}

// Unwrap exposes the per-network errors to errors.Is.
func (p *PartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(p.Failures))
	for _, err := range p.Failures {
		errs = append(errs, err)
	}
	return errs
}

// Err returns a *PartialFailure when any network failed.
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &PartialFailure{Failures: r.Failed}
}

// EndpointProbe checks an RPC endpoint before it is handed to the engine.
type EndpointProbe interface {
	Probe(ctx context.Context, chain engine.ChainID,
		provider engine.ProviderConfig) error
}

// Config holds the bootstrapper dependencies.
type Config struct {
	Engine  engine.Engine
	Limiter *ratelimit.Limiter
	Retrier *retry.Retrier

	// Probe is optional.
	Probe EndpointProbe
}

// Bootstrapper loads providers, remembering which networks are loaded.
type Bootstrapper struct {
	cfg Config

	mu     sync.Mutex
	loaded map[engine.ChainID]bool
}

// New creates a Bootstrapper.
func New(cfg Config) *Bootstrapper {
	return &Bootstrapper{
		cfg:    cfg,
		loaded: make(map[engine.ChainID]bool),
	}
}

// IsLoaded reports whether chain already has providers in the engine.
func (b *Bootstrapper) IsLoaded(chain engine.ChainID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.loaded[chain]
}

// LoadProviders loads every network not loaded yet, best effort per
// network, and pauses engine polling afterwards. Each attempt consumes one
// rate limiter slot. Once the limiter is blocked only the active chain gets
// a single attempt, and the other networks are skipped. Cancelling ctx
// stops the run before the next network or retry. The returned error is
// the result's PartialFailure, if any.
func (b *Bootstrapper) LoadProviders(ctx context.Context,
	networks []engine.NetworkConfig, active engine.ChainID) (*Result, error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	res := &Result{Failed: make(map[engine.ChainID]error)}
	for _, network := range networks {
		if err := ctx.Err(); err != nil {
			log.Debugf("Provider bootstrap stopped: %v", err)
			break
		}
		if b.loaded[network.ChainID] {
			continue
		}

		if b.cfg.Limiter.Blocked() {
			res.RateLimited = true
			b.loadBlocked(ctx, network, active, res)
			continue
		}

		attempts, err := b.loadWithRetry(ctx, network)
		switch {
		case err == nil:
			b.markLoaded(network, attempts, res)

		case errors.Is(err, ratelimit.ErrRateLimitExceeded):
			res.RateLimited = true
			b.loadBlocked(ctx, network, active, res)

		default:
			log.Errorf("Giving up on providers for %v (chain %d) "+
				"after %d attempts: %v", network.Name,
				network.ChainID, attempts, err)
			res.Failed[network.ChainID] = fmt.Errorf("%w: %v",
				ErrProviderLoad, err)
		}
	}

	b.cfg.Engine.PausePolling()

	return res, res.Err()
}

// loadBlocked handles a network once the limiter tripped.
func (b *Bootstrapper) loadBlocked(ctx context.Context,
	network engine.NetworkConfig, active engine.ChainID, res *Result) {

	if network.ChainID != active {
		log.Debugf("Rate limited, skipping providers for chain %d",
			network.ChainID)
		res.Skipped = append(res.Skipped, network.ChainID)
		return
	}

	log.Infof("Rate limited, making a single load attempt for active "+
		"chain %d", network.ChainID)

	if err := b.loadOnce(ctx, network); err != nil {
		res.Failed[network.ChainID] = fmt.Errorf("%w: %v",
			ErrProviderLoad, err)
		return
	}
	b.markLoaded(network, 1, res)
}

func (b *Bootstrapper) loadWithRetry(ctx context.Context,
	network engine.NetworkConfig) (int, error) {

	var attempts int
	err := b.cfg.Retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := ctx.Err(); err != nil {
			return retry.Permanent(err)
		}
		if err := b.cfg.Limiter.RecordAttempt(); err != nil {
			return retry.Permanent(err)
		}
		attempts = attempt

		err := b.loadOnce(ctx, network)
		if err != nil {
			log.Warnf("Provider load attempt %d for %v (chain %d) "+
				"failed: %v", attempt, network.Name,
				network.ChainID, err)
		}
		return err
	})

	return attempts, err
}

func (b *Bootstrapper) loadOnce(ctx context.Context,
	network engine.NetworkConfig) error {

	if b.cfg.Probe != nil {
		if err := b.probe(ctx, network); err != nil {
			return err
		}
	}

	return b.cfg.Engine.LoadProvider(ctx, network)
}

// probe succeeds when any provider of the network answers correctly.
func (b *Bootstrapper) probe(ctx context.Context,
	network engine.NetworkConfig) error {

	var errs []error
	for _, p := range network.Providers {
		err := b.cfg.Probe.Probe(ctx, network.ChainID, p)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (b *Bootstrapper) markLoaded(network engine.NetworkConfig, attempts int,
	res *Result) {

	b.loaded[network.ChainID] = true
	res.Loaded = append(res.Loaded, LoadedNetwork{
		ChainID:  network.ChainID,
		Name:     network.Name,
		Attempts: attempts,
	})
	log.Infof("Loaded providers for %v (chain %d)", network.Name,
		network.ChainID)
}

// Reset forgets which networks are loaded.
func (b *Bootstrapper) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.loaded = make(map[engine.ChainID]bool)
}

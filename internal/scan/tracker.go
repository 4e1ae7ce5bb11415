// Package scan makes sure each (wallet, chain) pair runs its initial full
// balance scan once, recording completion in the wallet record.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
)

// Target identifies the wallet to scan.
type Target struct {
	// Address is the external address keying the wallet record.
	Address string

	WalletID string
}

// EventKind distinguishes scan notifications.
type EventKind uint8

const (
	// ScanStarted is sent before the engine refresh begins.
	ScanStarted EventKind = iota

	// ScanComplete is sent after the refresh returned. Err is set when
	// it failed.
	ScanComplete
)

// Event is a scan notification.
type Event struct {
	Kind     EventKind
	WalletID string
	ChainID  engine.ChainID
	Err      error
}

// Config holds the tracker dependencies.
type Config struct {
	Engine engine.Engine
	Store  metadata.Store
	Clock  clock.Clock

	// Notify, if set, receives scan events.
	Notify func(Event)
}

type pairKey struct {
	walletID string
	chain    engine.ChainID
}

// Tracker deduplicates initial scans per (wallet, chain).
type Tracker struct {
	cfg Config

	// writeMu serializes record updates so that scans of different
	// chains finishing together do not overwrite each other.
	writeMu sync.Mutex

	mu         sync.Mutex
	generation uint64
	inFlight   map[pairKey]struct{}
	scanned    map[pairKey]struct{}
}

// New creates a Tracker.
func New(cfg Config) *Tracker {
	cfg.Engine = engine.Recover(cfg.Engine)
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Tracker{
		cfg:      cfg,
		inFlight: make(map[pairKey]struct{}),
		scanned:  make(map[pairKey]struct{}),
	}
}

// EnsureScanned runs the initial scan for chain unless it already completed
// or is running. It returns true when this call ran the scan.
func (t *Tracker) EnsureScanned(ctx context.Context, target Target,
	chain engine.ChainID) (bool, error) {

	key := pairKey{walletID: target.WalletID, chain: chain}

	t.mu.Lock()
	if _, ok := t.scanned[key]; ok {
		t.mu.Unlock()
		return false, nil
	}
	if _, ok := t.inFlight[key]; ok {
		t.mu.Unlock()
		log.Debugf("Scan of chain %d for wallet %v already running",
			chain, target.WalletID)
		return false, nil
	}
	t.inFlight[key] = struct{}{}
	generation := t.generation
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.generation == generation {
			delete(t.inFlight, key)
		}
		t.mu.Unlock()
	}()

	rec, err := t.cfg.Store.Get(ctx, target.Address)
	switch {
	case err == nil && rec.HasScanned(chain):
		t.markScanned(key, generation)
		return false, nil

	case err != nil && !errors.Is(err, metadata.ErrNotFound):
		log.Warnf("Unable to read scan state for %v, scanning chain "+
			"%d anyway: %v", target.Address, chain, err)
	}

	t.notify(Event{Kind: ScanStarted, WalletID: target.WalletID, ChainID: chain})
	log.Infof("Starting initial scan of chain %d for wallet %v", chain,
		target.WalletID)

	err = t.cfg.Engine.RefreshBalances(ctx, chain, []string{target.WalletID})
	if err != nil {
		err = fmt.Errorf("scan of chain %d failed: %w", chain, err)
		t.notify(Event{
			Kind:     ScanComplete,
			WalletID: target.WalletID,
			ChainID:  chain,
			Err:      err,
		})
		return false, err
	}

	now := t.cfg.Clock.Now().UTC()
	t.writeMu.Lock()
	_, err = metadata.Update(ctx, t.cfg.Store, target.Address,
		func(r *metadata.Record) error {
			if r.WalletID != target.WalletID {
				return fmt.Errorf("record belongs to wallet %v",
					r.WalletID)
			}
			r.AddScannedChain(chain)
			r.LastBalanceUpdate = &now
			return nil
		})
	t.writeMu.Unlock()
	if err != nil {
		log.Errorf("Unable to record scan of chain %d for %v: %v",
			chain, target.Address, err)
	}

	t.markScanned(key, generation)
	t.notify(Event{Kind: ScanComplete, WalletID: target.WalletID, ChainID: chain})
	log.Infof("Initial scan of chain %d for wallet %v complete", chain,
		target.WalletID)

	return true, nil
}

func (t *Tracker) markScanned(key pairKey, generation uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.generation == generation {
		t.scanned[key] = struct{}{}
	}
}

func (t *Tracker) notify(ev Event) {
	if t.cfg.Notify != nil {
		t.cfg.Notify(ev)
	}
}

// InFlight reports whether a scan for the pair is running.
func (t *Tracker) InFlight(walletID string, chain engine.ChainID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.inFlight[pairKey{walletID: walletID, chain: chain}]
	return ok
}

// Reset drops the in-flight set and the scanned cache. Scans still running
// from before the reset do not update either.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation++
	t.inFlight = make(map[pairKey]struct{})
	t.scanned = make(map[pairKey]struct{})
}

// LastUpdate returns the recorded balance update time for target.
func (t *Tracker) LastUpdate(ctx context.Context, target Target) (time.Time, bool, error) {
	rec, err := t.cfg.Store.Get(ctx, target.Address)
	if err != nil {
		return time.Time{}, false, err
	}
	if rec.LastBalanceUpdate == nil {
		return time.Time{}, false, nil
	}
	return *rec.LastBalanceUpdate, true, nil
}

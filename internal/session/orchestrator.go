// Package session drives the wallet session: it gates connections, hydrates
// the privacy wallet, loads providers and schedules initial chain scans in
// response to connect, chain-change and disconnect events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/lexie-crypto/lexie-wallet/internal/bootstrap"
	"github.com/lexie-crypto/lexie-wallet/internal/connect"
	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/gate"
	"github.com/lexie-crypto/lexie-wallet/internal/hydration"
	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
	"github.com/lexie-crypto/lexie-wallet/internal/ratelimit"
	"github.com/lexie-crypto/lexie-wallet/internal/retry"
	"github.com/lexie-crypto/lexie-wallet/internal/scan"
)

// Config holds the orchestrator dependencies.
type Config struct {
	Engine      engine.Engine
	StartConfig engine.StartConfig

	// Wallet is the connected external wallet used for signatures and
	// forced disconnects.
	Wallet connect.Wallet

	Store    metadata.Store
	Flags    gate.FlagStore
	Networks []engine.NetworkConfig

	// Optional settings. Zero values select the defaults.
	Clock            clock.Clock
	MaxAttempts      int
	RetryPolicy      retry.Policy
	GraceWindow      time.Duration
	Probe            bootstrap.EndpointProbe
	VerifySignatures bool
	EventBuffer      int
}

// Status is a point in time view of the session.
type Status struct {
	Connected      bool            `json:"connected"`
	Address        string          `json:"address,omitempty"`
	ChainID        engine.ChainID  `json:"chainId,omitempty"`
	Connector      string          `json:"connector,omitempty"`
	Epoch          uint64          `json:"epoch"`
	Hydration      string          `json:"hydration"`
	WalletID       string          `json:"walletId,omitempty"`
	PrivacyAddress string          `json:"privacyAddress,omitempty"`
	RateLimit      ratelimit.State `json:"rateLimit"`
}

// readiness resolves AwaitReady callers for one epoch.
type readiness struct {
	epoch  uint64
	done   chan struct{}
	wallet *hydration.Wallet
	err    error
}

// Orchestrator owns the session state and every component that mutates it.
type Orchestrator struct {
	cfg Config

	engine    engine.Engine
	state     *State
	limiter   *ratelimit.Limiter
	gate      *gate.Gate
	providers *bootstrap.Bootstrapper
	hydrator  *hydration.Machine
	scans     *scan.Tracker
	events    *Emitter
	workers   *fn.GoroutineManager

	// connectMu orders session starts and teardowns.
	connectMu sync.Mutex

	// cancelSession stops the live session's hydration and provider
	// loads. Guarded by connectMu.
	cancelSession context.CancelFunc

	readyMu sync.Mutex
	ready   *readiness
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Engine == nil:
		return nil, errors.New("session: engine is required")
	case cfg.Wallet == nil:
		return nil, errors.New("session: wallet is required")
	case cfg.Store == nil:
		return nil, errors.New("session: metadata store is required")
	case cfg.Flags == nil:
		return nil, errors.New("session: flag store is required")
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = ratelimit.DefaultMaxAttempts
	}
	if cfg.RetryPolicy.MaxAttempts <= 0 {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}

	o := &Orchestrator{
		cfg:     cfg,
		engine:  engine.Recover(cfg.Engine),
		state:   NewState(),
		limiter: ratelimit.New(cfg.MaxAttempts),
		events:  NewEmitter(cfg.EventBuffer),
		workers: fn.NewGoroutineManager(),
	}

	o.gate = gate.New(gate.Config{
		Flags:       cfg.Flags,
		Clock:       cfg.Clock,
		GraceWindow: cfg.GraceWindow,
	})
	o.providers = bootstrap.New(bootstrap.Config{
		Engine:  o.engine,
		Limiter: o.limiter,
		Retrier: retry.New(cfg.RetryPolicy, cfg.Clock),
		Probe:   cfg.Probe,
	})
	o.hydrator = hydration.New(hydration.Config{
		Engine:           o.engine,
		Starter:          engine.NewStarter(o.engine, cfg.StartConfig),
		Store:            cfg.Store,
		Signer:           cfg.Wallet,
		Guard:            o.state,
		Providers:        o.providers,
		Networks:         cfg.Networks,
		VerifySignatures: cfg.VerifySignatures,
		Progress:         o.onProgress,
	})
	o.scans = scan.New(scan.Config{
		Engine: o.engine,
		Store:  cfg.Store,
		Clock:  cfg.Clock,
		Notify: o.onScan,
	})

	return o, nil
}

// Subscribe registers an event subscriber.
func (o *Orchestrator) Subscribe() (*Subscription, error) {
	return o.events.Subscribe()
}

// UserConnect records an explicit user connect through kind.
func (o *Orchestrator) UserConnect(kind connect.ConnectorKind) error {
	return o.gate.UserConnect(kind)
}

// UserDisconnect records an explicit user disconnect, disconnects the
// external wallet and tears the session down.
func (o *Orchestrator) UserDisconnect(ctx context.Context) error {
	sess := o.state.Session()
	if sess.IsNone() {
		return ErrNoSession
	}

	kind := sess.UnsafeFromSome().Connector
	if err := o.gate.UserDisconnect(kind); err != nil {
		log.Errorf("Unable to block auto-connect for %v: %v", kind, err)
	}

	o.HandleDisconnect(ctx)

	return o.cfg.Wallet.Disconnect(ctx)
}

// HandleConnect reacts to the external wallet reporting a connection. The
// connection is checked against the gate, then the privacy wallet is
// hydrated and the initial scan of the active chain is scheduled.
func (o *Orchestrator) HandleConnect(ctx context.Context,
	sess connect.Session) (*hydration.Wallet, error) {

	addr, err := connect.NormalizeAddress(sess.Address)
	if err != nil {
		return nil, err
	}
	sess.Address = addr

	decision := o.gate.Evaluate(gate.Event{
		Connector: sess.Connector,
		Address:   addr,
	})
	if !decision.Allow {
		log.Infof("Rejecting %v connection for %s: %v", sess.Connector,
			addr, decision.Reason)

		o.emit(Event{
			Kind:    EventConnectionRejected,
			Address: addr,
			ChainID: sess.ChainID,
			Message: string(decision.Reason),
		})
		if err := o.gate.ForceDisconnect(ctx, o.cfg.Wallet); err != nil {
			log.Warnf("Forced disconnect failed: %v", err)
		}

		return nil, fmt.Errorf("%w: %v", ErrConnectionRejected,
			decision.Reason)
	}

	// Connect events for the live address (wallet re-announcing, or the
	// same event delivered twice) join the session instead of starting a
	// second hydration.
	o.connectMu.Lock()
	if r, ok := o.liveSession(addr); ok {
		o.connectMu.Unlock()

		current := o.state.Session().UnwrapOr(sess)
		if sess.ChainID != 0 && sess.ChainID != current.ChainID {
			if err := o.HandleChainChanged(ctx, sess.ChainID); err != nil {
				log.Debugf("Chain change on re-announce: %v", err)
			}
		}

		return o.wait(ctx, r)
	}

	// The limiter outlives this teardown: Bind keeps the attempts of a
	// reconnecting address and clears them for a new one.
	if o.state.Session().IsSome() {
		log.Infof("Account changed to %s, resetting session", addr)
		o.teardown(false)
	}

	if sess.ConnectedAt.IsZero() {
		sess.ConnectedAt = o.cfg.Clock.Now()
	}
	epoch := o.state.Begin(sess)
	o.limiter.Bind(addr)
	o.resetReady(epoch)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.cancelSession = cancel
	o.connectMu.Unlock()

	o.emit(Event{Kind: EventInitStarted, ChainID: sess.ChainID})

	w, err := o.hydrator.Hydrate(sessCtx, hydration.Request{
		Address: addr,
		ChainID: sess.ChainID,
		Epoch:   epoch,
	})
	switch {
	case errors.Is(err, hydration.ErrAbandoned):
		log.Debugf("Hydration for %s abandoned", addr)
		return nil, err

	case err != nil:
		o.emit(Event{
			Kind:    EventInitFailed,
			ChainID: sess.ChainID,
			Error:   err.Error(),
		})
		o.resolveReady(epoch, nil, err)

		return nil, err
	}

	w.Bootstrap.WhenSome(func(r *bootstrap.Result) {
		if r.RateLimited {
			o.emitRateLimited(sess.ChainID)
		}
	})
	if w.ReplacedWalletID != "" {
		o.emit(Event{
			Kind:     EventWalletReplaced,
			WalletID: w.WalletID,
			Message: fmt.Sprintf("wallet %s could not be restored",
				w.ReplacedWalletID),
		})
	}

	o.emit(Event{
		Kind:     EventInitCompleted,
		ChainID:  sess.ChainID,
		WalletID: w.WalletID,
	})
	o.resolveReady(epoch, w, nil)

	// The fast path skips the bootstrap, so the active chain may still
	// be missing its providers.
	if err := o.ensureProviders(sessCtx, sess.ChainID); err != nil {
		log.Warnf("Providers for chain %d unavailable: %v",
			sess.ChainID, err)
	}
	o.scheduleScan(epoch, w, sess.ChainID)

	return w, nil
}

// HandleChainChanged reacts to the external wallet switching chains.
func (o *Orchestrator) HandleChainChanged(ctx context.Context,
	chain engine.ChainID) error {

	if !o.state.SetChain(chain) {
		return ErrNoSession
	}
	epoch := o.state.Epoch()

	if err := o.ensureProviders(ctx, chain); err != nil {
		return err
	}

	o.hydrator.Current().WhenSome(func(w *hydration.Wallet) {
		o.scheduleScan(epoch, w, chain)
	})

	return nil
}

// HandleDisconnect tears the session down. Work still running for the old
// session turns into no-ops.
func (o *Orchestrator) HandleDisconnect(ctx context.Context) {
	o.connectMu.Lock()
	sess := o.state.Session()
	ok := o.teardown(true)
	o.connectMu.Unlock()

	if !ok {
		return
	}

	sess.WhenSome(func(s connect.Session) {
		log.Infof("Session for %s ended", s.Address)
		o.emit(Event{Kind: EventDisconnected, Address: s.Address})
	})
}

// teardown ends the session. Callers hold connectMu.
func (o *Orchestrator) teardown(resetLimiter bool) bool {
	if !o.state.MarkDisconnecting() {
		return false
	}

	if o.cancelSession != nil {
		o.cancelSession()
		o.cancelSession = nil
	}
	if resetLimiter {
		o.limiter.Reset()
	}
	o.scans.Reset()
	o.hydrator.Reset()
	o.resolveReady(0, nil, ErrNoSession)
	o.state.End()

	return true
}

// liveSession returns the readiness of the session for addr unless there is
// none or its hydration failed.
func (o *Orchestrator) liveSession(addr string) (*readiness, bool) {
	sess := o.state.Session()
	if sess.IsNone() || sess.UnsafeFromSome().Address != addr {
		return nil, false
	}

	o.readyMu.Lock()
	r := o.ready
	o.readyMu.Unlock()

	if r == nil {
		return nil, false
	}

	select {
	case <-r.done:
		if r.err != nil {
			return nil, false
		}
	default:
	}

	return r, true
}

// AwaitReady blocks until hydration of the current session resolved. Shield,
// transfer and unshield callers must wait on it.
func (o *Orchestrator) AwaitReady(ctx context.Context) (*hydration.Wallet,
	error) {

	o.readyMu.Lock()
	r := o.ready
	o.readyMu.Unlock()

	if r == nil {
		return nil, ErrNoSession
	}

	return o.wait(ctx, r)
}

func (o *Orchestrator) wait(ctx context.Context, r *readiness) (
	*hydration.Wallet, error) {

	select {
	case <-r.done:
		return r.wallet, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) resetReady(epoch uint64) {
	o.readyMu.Lock()
	defer o.readyMu.Unlock()

	o.ready = &readiness{epoch: epoch, done: make(chan struct{})}
}

// resolveReady resolves the waiters of epoch. Epoch zero resolves whatever
// is pending.
func (o *Orchestrator) resolveReady(epoch uint64, w *hydration.Wallet,
	err error) {

	o.readyMu.Lock()
	defer o.readyMu.Unlock()

	r := o.ready
	if r == nil || (epoch != 0 && r.epoch != epoch) {
		return
	}

	select {
	case <-r.done:
		if epoch == 0 {
			o.ready = nil
		}
		return
	default:
	}

	r.wallet, r.err = w, err
	close(r.done)
	if epoch == 0 {
		o.ready = nil
	}
}

// RefreshBalances refreshes the wallet's balances on chain. Bootstrap leaves
// engine polling paused; this is how balances move afterwards.
func (o *Orchestrator) RefreshBalances(ctx context.Context,
	chain engine.ChainID) error {

	w, err := o.readyWallet()
	if err != nil {
		return err
	}
	if err := o.ensureProviders(ctx, chain); err != nil {
		return err
	}

	return o.engine.RefreshBalances(ctx, chain, []string{w.WalletID})
}

// EnsureScanned runs the initial scan of chain for the current wallet
// synchronously.
func (o *Orchestrator) EnsureScanned(ctx context.Context,
	chain engine.ChainID) (bool, error) {

	w, err := o.readyWallet()
	if err != nil {
		return false, err
	}
	if err := o.ensureProviders(ctx, chain); err != nil {
		return false, err
	}

	return o.scans.EnsureScanned(ctx, scan.Target{
		Address:  w.Address,
		WalletID: w.WalletID,
	}, chain)
}

func (o *Orchestrator) readyWallet() (*hydration.Wallet, error) {
	if o.state.Session().IsNone() {
		return nil, ErrNoSession
	}

	w := o.hydrator.Current()
	if w.IsNone() || o.hydrator.State() != hydration.StateReady {
		return nil, ErrNotReady
	}

	return w.UnsafeFromSome(), nil
}

func (o *Orchestrator) network(chain engine.ChainID) (engine.NetworkConfig,
	bool) {

	for _, n := range o.cfg.Networks {
		if n.ChainID == chain {
			return n, true
		}
	}

	return engine.NetworkConfig{}, false
}

// ensureProviders loads providers for chain alone when they are missing.
func (o *Orchestrator) ensureProviders(ctx context.Context,
	chain engine.ChainID) error {

	if o.providers.IsLoaded(chain) {
		return nil
	}

	n, ok := o.network(chain)
	if !ok {
		return fmt.Errorf("%w: chain %d", ErrUnknownNetwork, chain)
	}

	res, err := o.providers.LoadProviders(
		ctx, []engine.NetworkConfig{n}, chain,
	)
	if res != nil && res.RateLimited {
		o.emitRateLimited(chain)
	}

	return err
}

func (o *Orchestrator) scheduleScan(epoch uint64, w *hydration.Wallet,
	chain engine.ChainID) {

	if _, ok := o.network(chain); !ok {
		log.Debugf("Not scanning unconfigured chain %d", chain)
		return
	}

	target := scan.Target{Address: w.Address, WalletID: w.WalletID}
	started := o.workers.Go(context.Background(), func(ctx context.Context) {
		if !o.state.Current(epoch) {
			return
		}

		_, err := o.scans.EnsureScanned(ctx, target, chain)
		if err != nil {
			log.Warnf("Initial scan of chain %d for wallet %s: %v",
				chain, w.WalletID, err)
		}
	})
	if !started {
		log.Debugf("Scan of chain %d not started: shutting down", chain)
	}
}

// Status returns the current session view.
func (o *Orchestrator) Status() Status {
	st := Status{
		Epoch:     o.state.Epoch(),
		Hydration: o.hydrator.State().String(),
		RateLimit: o.limiter.Snapshot(),
	}

	o.state.Session().WhenSome(func(s connect.Session) {
		st.Connected = true
		st.Address = s.Address
		st.ChainID = s.ChainID
		st.Connector = string(s.Connector)
	})
	o.hydrator.Current().WhenSome(func(w *hydration.Wallet) {
		st.WalletID = w.WalletID
		st.PrivacyAddress = w.PrivacyAddress
	})

	return st
}

// Stop waits for background scans and closes every subscription.
func (o *Orchestrator) Stop() {
	o.workers.Stop()
	o.events.Close()
}

func (o *Orchestrator) emit(ev Event) {
	if ev.Address == "" {
		o.state.Session().WhenSome(func(s connect.Session) {
			ev.Address = s.Address
		})
	}
	if ev.Time.IsZero() {
		ev.Time = o.cfg.Clock.Now()
	}

	o.events.Emit(ev)
}

func (o *Orchestrator) emitRateLimited(chain engine.ChainID) {
	snap := o.limiter.Snapshot()
	o.emit(Event{
		Kind:    EventRateLimited,
		ChainID: chain,
		Message: fmt.Sprintf("%d/%d provider load attempts used",
			snap.TotalAttempts, snap.MaxAttempts),
	})
}

func (o *Orchestrator) onProgress(percent int) {
	o.emit(Event{Kind: EventInitProgress, Percent: percent})
}

func (o *Orchestrator) onScan(ev scan.Event) {
	out := Event{
		Kind:     EventScanStarted,
		WalletID: ev.WalletID,
		ChainID:  ev.ChainID,
	}
	if ev.Kind == scan.ScanComplete {
		out.Kind = EventScanComplete
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}

	o.emit(out)
}

// Package hydration restores or creates the privacy wallet bound to a
// connected external address.
package hydration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/singleflight"

	"github.com/lexie-crypto/lexie-wallet/internal/bootstrap"
	"github.com/lexie-crypto/lexie-wallet/internal/connect"
	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
	"github.com/lexie-crypto/lexie-wallet/internal/secrets"
)

var (
	// ErrRejectedSignature is returned when the user declines the
	// signature request. It is terminal for the attempt.
	ErrRejectedSignature = errors.New("signature request was rejected")

	// ErrWalletLoadMismatch is returned when the engine loads a wallet
	// whose id or privacy address differs from the stored record.
	ErrWalletLoadMismatch = errors.New("loaded wallet does not match " +
		"stored record")

	// ErrAbandoned is returned when the session that started hydration
	// ended before it completed.
	ErrAbandoned = errors.New("hydration abandoned: wallet disconnected")
)

// Progress checkpoints reported through Config.Progress.
const (
	progressChecking  = 10
	progressSigned    = 30
	progressProviders = 60
	progressWallet    = 80
	progressReady     = 100
)

// Guard tells whether the session identified by epoch is still current.
type Guard interface {
	Current(epoch uint64) bool
}

type alwaysCurrent struct{}

func (alwaysCurrent) Current(uint64) bool { return true }

// Signer requests personal_sign signatures from the connected wallet.
type Signer interface {
	SignMessage(ctx context.Context, address, text string) (string, error)
}

// Config holds the machine dependencies.
type Config struct {
	Engine    engine.Engine
	Starter   *engine.Starter
	Store     metadata.Store
	Signer    Signer
	Guard     Guard
	Providers *bootstrap.Bootstrapper
	Networks  []engine.NetworkConfig

	// VerifySignatures checks that signatures recover to the connected
	// address before they are used.
	VerifySignatures bool

	// Progress, if set, receives percentages as hydration advances.
	Progress func(percent int)
}

// Request starts hydration for one session.
type Request struct {
	Address string
	ChainID engine.ChainID
	Epoch   uint64
}

// Wallet is a hydrated privacy wallet.
type Wallet struct {
	Address        string
	WalletID       string
	PrivacyAddress string
	Signature      string
	Key            secrets.EncryptionKey

	// Path is StateFastPath or StateFullPath.
	Path State

	// Created is set when a fresh seed phrase was generated.
	Created bool

	// ReplacedWalletID names the previous wallet when its cached secrets
	// were unrecoverable and a fresh wallet took its place.
	ReplacedWalletID string

	// Bootstrap holds the provider bootstrap outcome when the full path
	// ran it.
	Bootstrap fn.Option[*bootstrap.Result]
}

// Machine is the hydration state machine. Concurrent Hydrate calls for one
// address share a single run.
type Machine struct {
	cfg Config

	mu      sync.Mutex
	state   State
	current *Wallet
	lastErr error
	group   *singleflight.Group
}

// New creates a Machine in StateIdle.
func New(cfg Config) *Machine {
	cfg.Engine = engine.Recover(cfg.Engine)
	if cfg.Guard == nil {
		cfg.Guard = alwaysCurrent{}
	}
	if cfg.Starter == nil {
		cfg.Starter = engine.NewStarter(cfg.Engine, engine.StartConfig{})
	}

	return &Machine{
		cfg:   cfg,
		group: &singleflight.Group{},
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Err returns the error that moved the machine to StateFailed.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastErr
}

// Current returns the hydrated wallet, if any.
func (m *Machine) Current() fn.Option[*Wallet] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.state != StateReady {
		return fn.None[*Wallet]()
	}
	return fn.Some(m.current)
}

// Reset returns the machine to StateIdle. Runs still in flight can no
// longer commit once their session guard is invalidated.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateIdle
	m.current = nil
	m.lastErr = nil
	m.group = &singleflight.Group{}
}

// Hydrate brings the privacy wallet for req.Address to StateReady.
func (m *Machine) Hydrate(ctx context.Context, req Request) (*Wallet, error) {
	addr, err := connect.NormalizeAddress(req.Address)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.state == StateReady && m.current != nil &&
		m.current.Address == addr {

		w := m.current
		m.mu.Unlock()
		log.Debugf("Wallet for %v already hydrated", addr)
		return w, nil
	}
	group := m.group
	m.mu.Unlock()

	v, err, shared := group.Do(addr, func() (interface{}, error) {
		return m.hydrate(ctx, addr, req)
	})
	if shared {
		log.Debugf("Joined in-flight hydration for %v", addr)
	}
	if err != nil {
		return nil, err
	}

	return v.(*Wallet), nil
}

func (m *Machine) hydrate(ctx context.Context, addr string,
	req Request) (*Wallet, error) {

	if err := m.transition(req.Epoch, StateChecking, progressChecking); err != nil {
		return nil, err
	}

	rec, err := m.cfg.Store.Get(ctx, addr)
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		log.Infof("No wallet record for %v", addr)
		rec = nil

	case err != nil:
		log.Warnf("Unable to read wallet record for %v, taking the "+
			"full path: %v", addr, err)
		rec = nil
	}

	if rec.Complete() {
		if err := m.transition(req.Epoch, StateFastPath, 0); err != nil {
			return nil, err
		}

		w, err := m.fastPath(ctx, addr, rec)
		if err == nil {
			return m.commit(w, req.Epoch)
		}
		log.Warnf("Fast path for %v failed, falling back to full "+
			"path: %v", addr, err)
	}

	if err := m.transition(req.Epoch, StateFullPath, 0); err != nil {
		return nil, err
	}

	w, err := m.fullPath(ctx, addr, req, rec)
	if err != nil {
		if errors.Is(err, ErrAbandoned) || !m.cfg.Guard.Current(req.Epoch) {
			return nil, ErrAbandoned
		}
		m.fail(req.Epoch, err)
		return nil, err
	}

	return m.commit(w, req.Epoch)
}

// transition moves to state unless the session ended.
func (m *Machine) transition(epoch uint64, state State, percent int) error {
	m.mu.Lock()
	if !m.cfg.Guard.Current(epoch) {
		m.mu.Unlock()
		return ErrAbandoned
	}
	m.state = state
	m.mu.Unlock()

	log.Debugf("Hydration state -> %v", state)
	m.progress(percent)

	return nil
}

// checkpoint reports progress if the session is still current.
func (m *Machine) checkpoint(epoch uint64, percent int) error {
	if !m.cfg.Guard.Current(epoch) {
		return ErrAbandoned
	}
	m.progress(percent)
	return nil
}

func (m *Machine) progress(percent int) {
	if percent > 0 && m.cfg.Progress != nil {
		m.cfg.Progress(percent)
	}
}

func (m *Machine) commit(w *Wallet, epoch uint64) (*Wallet, error) {
	m.mu.Lock()
	if !m.cfg.Guard.Current(epoch) {
		m.mu.Unlock()
		log.Infof("Session ended before wallet %v became ready",
			w.WalletID)
		return nil, ErrAbandoned
	}
	m.state = StateReady
	m.current = w
	m.lastErr = nil
	m.mu.Unlock()

	log.Infof("Wallet %v ready for %v via %v", w.WalletID, w.Address,
		w.Path)
	m.progress(progressReady)

	return w, nil
}

func (m *Machine) fail(epoch uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.Guard.Current(epoch) {
		return
	}
	m.state = StateFailed
	m.lastErr = err

	log.Errorf("Hydration failed: %v", err)
}

// fastPath restores the wallet from a complete record without prompting.
func (m *Machine) fastPath(ctx context.Context, addr string,
	rec *metadata.Record) (*Wallet, error) {

	key := secrets.DeriveEncryptionKey(addr, rec.Signature)

	if err := m.cfg.Starter.Start(ctx); err != nil {
		return nil, fmt.Errorf("engine bootstrap: %w", err)
	}

	info, err := m.cfg.Engine.LoadWalletByID(ctx, key.Hex(), rec.WalletID)
	if err != nil {
		return nil, err
	}
	if info.ID != rec.WalletID || info.PrivacyAddress != rec.PrivacyAddress {
		return nil, fmt.Errorf("%w: got %v/%v, stored %v/%v",
			ErrWalletLoadMismatch, info.ID, info.PrivacyAddress,
			rec.WalletID, rec.PrivacyAddress)
	}

	return &Wallet{
		Address:        addr,
		WalletID:       info.ID,
		PrivacyAddress: info.PrivacyAddress,
		Signature:      rec.Signature,
		Key:            key,
		Path:           StateFastPath,
		Bootstrap:      fn.None[*bootstrap.Result](),
	}, nil
}

// fullPath requests a signature unless cached, bootstraps the engine and
// providers, then loads, restores or creates the wallet and persists the
// record before returning.
func (m *Machine) fullPath(ctx context.Context, addr string, req Request,
	rec *metadata.Record) (*Wallet, error) {

	var signature string
	if rec != nil {
		signature = rec.Signature
	}
	if signature == "" {
		sig, err := m.requestSignature(ctx, addr)
		if err != nil {
			return nil, err
		}
		signature = sig
	}
	if err := m.checkpoint(req.Epoch, progressSigned); err != nil {
		return nil, err
	}

	key := secrets.DeriveEncryptionKey(addr, signature)

	if err := m.cfg.Starter.Start(ctx); err != nil {
		return nil, fmt.Errorf("engine bootstrap: %w", err)
	}

	boot := fn.None[*bootstrap.Result]()
	if m.cfg.Providers != nil {
		res, err := m.cfg.Providers.LoadProviders(
			ctx, m.cfg.Networks, req.ChainID,
		)
		if err != nil {
			log.Warnf("Provider bootstrap incomplete: %v", err)
		}
		boot = fn.Some(res)
	}
	if err := m.checkpoint(req.Epoch, progressProviders); err != nil {
		return nil, err
	}

	w, mnemonic, err := m.restoreOrCreate(ctx, addr, key, rec)
	if err != nil {
		return nil, err
	}
	w.Signature = signature
	w.Bootstrap = boot
	if err := m.checkpoint(req.Epoch, progressWallet); err != nil {
		return nil, err
	}

	m.persist(ctx, w, rec, mnemonic)

	return w, nil
}

func (m *Machine) requestSignature(ctx context.Context, addr string) (string, error) {
	msg := m.cfg.Engine.SignatureMessage(addr)

	log.Infof("Requesting wallet signature from %v", addr)
	sig, err := m.cfg.Signer.SignMessage(ctx, addr, msg)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRejectedSignature, err)
	}

	if m.cfg.VerifySignatures {
		if err := secrets.VerifySignature(addr, msg, sig); err != nil {
			return "", fmt.Errorf("%w: %w", ErrRejectedSignature, err)
		}
	}

	return sig, nil
}

// restoreOrCreate loads the cached wallet id, else recreates the wallet
// from the cached seed phrase, else creates a fresh wallet. The returned
// mnemonic is empty when the wallet was loaded by id.
func (m *Machine) restoreOrCreate(ctx context.Context, addr string,
	key secrets.EncryptionKey, rec *metadata.Record) (*Wallet, string, error) {

	w := &Wallet{
		Address: addr,
		Key:     key,
		Path:    StateFullPath,
	}

	if rec != nil && rec.WalletID != "" {
		info, err := m.cfg.Engine.LoadWalletByID(ctx, key.Hex(), rec.WalletID)
		switch {
		case err != nil:
			log.Warnf("Unable to load wallet %v: %v", rec.WalletID, err)

		case info.ID != rec.WalletID || (rec.PrivacyAddress != "" &&
			info.PrivacyAddress != rec.PrivacyAddress):

			log.Warnf("%v: wallet %v", ErrWalletLoadMismatch,
				rec.WalletID)

		default:
			w.WalletID = info.ID
			w.PrivacyAddress = info.PrivacyAddress
			return w, "", nil
		}
	}

	if rec != nil && rec.EncryptedMnemonic != "" {
		mnemonic, err := secrets.DecryptMnemonic(key, rec.EncryptedMnemonic)
		if err == nil {
			info, err := m.cfg.Engine.CreateWallet(ctx, key.Hex(), mnemonic)
			if err != nil {
				return nil, "", fmt.Errorf("unable to restore "+
					"wallet: %w", err)
			}
			w.WalletID = info.ID
			w.PrivacyAddress = info.PrivacyAddress
			m.markReplaced(w, rec)

			return w, mnemonic, nil
		}

		log.Errorf("Cached seed phrase for %v is unusable, generating "+
			"a fresh wallet: %v", addr, err)
	}

	mnemonic, err := secrets.NewMnemonic()
	if err != nil {
		return nil, "", err
	}
	info, err := m.cfg.Engine.CreateWallet(ctx, key.Hex(), mnemonic)
	if err != nil {
		return nil, "", fmt.Errorf("unable to create wallet: %w", err)
	}
	w.WalletID = info.ID
	w.PrivacyAddress = info.PrivacyAddress
	w.Created = true
	m.markReplaced(w, rec)

	return w, mnemonic, nil
}

func (m *Machine) markReplaced(w *Wallet, rec *metadata.Record) {
	if rec == nil || rec.WalletID == "" || rec.WalletID == w.WalletID {
		return
	}

	w.ReplacedWalletID = rec.WalletID
	log.Criticalf("Wallet %v for %v could not be recovered and was "+
		"replaced by %v", rec.WalletID, w.Address, w.WalletID)
}

// persist writes the record. Failures are logged and the session continues
// with what the engine holds in memory.
func (m *Machine) persist(ctx context.Context, w *Wallet,
	rec *metadata.Record, mnemonic string) {

	var encrypted string
	if mnemonic != "" {
		var err error
		encrypted, err = secrets.EncryptMnemonic(w.Key, mnemonic)
		if err != nil {
			log.Errorf("Unable to encrypt seed phrase: %v", err)
		}
	}

	var err error
	if w.ReplacedWalletID != "" {
		err = metadata.Replace(
			ctx, m.cfg.Store, w.Address, w.ReplacedWalletID,
			walletRecord(w, encrypted),
		)
	} else {
		_, err = metadata.Upsert(ctx, m.cfg.Store, w.Address,
			func(r *metadata.Record) error {
				r.WalletID = w.WalletID
				r.PrivacyAddress = w.PrivacyAddress
				r.Signature = w.Signature
				if encrypted != "" {
					r.EncryptedMnemonic = encrypted
				}
				r.SchemaVersion = metadata.SchemaVersion
				return nil
			})

		// An unreadable store still gets the whole record; a mirror
		// keeps the device copy for the next connect.
		if errors.Is(err, metadata.ErrRemoteUnavailable) {
			log.Warnf("Unable to read back record for %v, writing "+
				"it whole: %v", w.Address, err)

			fresh := walletRecord(w, encrypted)
			if rec != nil && rec.WalletID == w.WalletID {
				fresh.ScannedChains = append(
					fresh.ScannedChains, rec.ScannedChains...,
				)
				fresh.LastBalanceUpdate = rec.LastBalanceUpdate
				if encrypted == "" {
					fresh.EncryptedMnemonic = rec.EncryptedMnemonic
				}
			}
			err = m.cfg.Store.Put(ctx, w.Address, fresh)
		}
	}
	if err != nil {
		log.Errorf("Unable to persist wallet record for %v, continuing "+
			"without it: %v", w.Address, err)
		return
	}

	log.Infof("Persisted wallet record for %v (wallet %v)", w.Address,
		w.WalletID)
}

// walletRecord is the complete record of a wallet with no scanned chains.
func walletRecord(w *Wallet, encryptedMnemonic string) *metadata.Record {
	return &metadata.Record{
		WalletID:          w.WalletID,
		PrivacyAddress:    w.PrivacyAddress,
		Signature:         w.Signature,
		EncryptedMnemonic: encryptedMnemonic,
		ScannedChains:     []engine.ChainID{},
		SchemaVersion:     metadata.SchemaVersion,
	}
}

// Package engine describes the boundary to the privacy engine SDK that owns
// shielded wallets, provider connections and merkle/balance scanning.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEngine is wrapped around failures raised by the privacy engine,
// including recovered panics.
var ErrEngine = errors.New("privacy engine failure")

// ChainID identifies an EVM network.
type ChainID uint64

// ProviderConfig is one weighted RPC endpoint handed to the engine.
type ProviderConfig struct {
	URL             string
	Priority        int
	Weight          int
	MaxLogsPerBatch int
	StallTimeout    time.Duration
}

// NetworkConfig is the provider set for a single network.
type NetworkConfig struct {
	Name      string
	ChainID   ChainID
	Providers []ProviderConfig
}

// StartConfig is handed to Bootstrap once per process.
type StartConfig struct {
	WalletSource string
	DatabasePath string
	Debug        bool
}

// WalletInfo identifies a privacy wallet inside the engine.
type WalletInfo struct {
	ID             string
	PrivacyAddress string
}

// Engine is the subset of the privacy engine SDK used by the session core.
// encryptionKey is always the hex encoding of the session EncryptionKey.
type Engine interface {
	Bootstrap(ctx context.Context, cfg StartConfig) error
	LoadProvider(ctx context.Context, network NetworkConfig) error
	PausePolling()
	CreateWallet(ctx context.Context, encryptionKey, mnemonic string) (WalletInfo, error)
	LoadWalletByID(ctx context.Context, encryptionKey, walletID string) (WalletInfo, error)
	RefreshBalances(ctx context.Context, chain ChainID, walletIDs []string) error
	SignatureMessage(address string) string
}

// recovering converts panics raised by the wrapped engine into errors.
type recovering struct {
	e Engine
}

// Recover wraps e so that a panicking SDK call surfaces as an ErrEngine
// error instead of unwinding into the host.
func Recover(e Engine) Engine {
	if _, ok := e.(*recovering); ok {
		return e
	}
	return &recovering{e: e}
}

func protect(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrEngine, op, r)
		}
	}()
	return fn()
}

func (r *recovering) Bootstrap(ctx context.Context, cfg StartConfig) error {
	return protect("bootstrap", func() error {
		return r.e.Bootstrap(ctx, cfg)
	})
}

func (r *recovering) LoadProvider(ctx context.Context, network NetworkConfig) error {
	return protect("load provider", func() error {
		return r.e.LoadProvider(ctx, network)
	})
}

func (r *recovering) PausePolling() {
	err := protect("pause polling", func() error {
		r.e.PausePolling()
		return nil
	})
	if err != nil {
		log.Warnf("Unable to pause polling: %v", err)
	}
}

func (r *recovering) CreateWallet(ctx context.Context, key, mnemonic string) (WalletInfo, error) {
	var info WalletInfo
	err := protect("create wallet", func() error {
		var err error
		info, err = r.e.CreateWallet(ctx, key, mnemonic)
		return err
	})
	return info, err
}

func (r *recovering) LoadWalletByID(ctx context.Context, key, walletID string) (WalletInfo, error) {
	var info WalletInfo
	err := protect("load wallet", func() error {
		var err error
		info, err = r.e.LoadWalletByID(ctx, key, walletID)
		return err
	})
	return info, err
}

func (r *recovering) RefreshBalances(ctx context.Context, chain ChainID, walletIDs []string) error {
	return protect("refresh balances", func() error {
		return r.e.RefreshBalances(ctx, chain, walletIDs)
	})
}

func (r *recovering) SignatureMessage(address string) string {
	var msg string
	err := protect("signature message", func() error {
		msg = r.e.SignatureMessage(address)
		return nil
	})
	if err != nil {
		log.Errorf("Unable to build signature message: %v", err)
	}
	return msg
}

// Package metadata stores the per-address privacy wallet record: its
// identifiers, the cached signature and encrypted seed, and the set of
// chains that completed their initial scan.
package metadata

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slices"

	"github.com/lexie-crypto/lexie-wallet/internal/engine"
)

// SchemaVersion is the record layout written by this package. Version 1
// records predate the cached signature and encrypted mnemonic.
const SchemaVersion = 2

var (
	// ErrNotFound is returned when no record exists for an address.
	ErrNotFound = errors.New("metadata record not found")

	// ErrRemoteUnavailable is returned when the remote store cannot be
	// reached and no local copy exists.
	ErrRemoteUnavailable = errors.New("metadata store unavailable")

	// ErrImmutableField is returned when an update tries to change the
	// wallet id or privacy address of an existing record.
	ErrImmutableField = errors.New("wallet id and privacy address are " +
		"immutable")
)

// Record is the privacy wallet record kept per external address.
type Record struct {
	WalletID          string           `json:"walletId"`
	PrivacyAddress    string           `json:"privacyAddress"`
	Signature         string           `json:"signature,omitempty"`
	EncryptedMnemonic string           `json:"encryptedMnemonic,omitempty"`
	ScannedChains     []engine.ChainID `json:"scannedChains"`
	SchemaVersion     int              `json:"schemaVersion"`
	LastBalanceUpdate *time.Time       `json:"lastBalanceUpdate,omitempty"`
}

// Complete reports whether the record carries everything the fast path
// needs.
func (r *Record) Complete() bool {
	return r != nil && r.WalletID != "" && r.PrivacyAddress != "" &&
		r.Signature != "" && r.EncryptedMnemonic != ""
}

// HasScanned reports whether chain completed its initial scan.
func (r *Record) HasScanned(chain engine.ChainID) bool {
	if r == nil {
		return false
	}
	return slices.Contains(r.ScannedChains, chain)
}

// AddScannedChain inserts chain, keeping the set sorted.
func (r *Record) AddScannedChain(chain engine.ChainID) {
	if r.HasScanned(chain) {
		return
	}
	r.ScannedChains = append(r.ScannedChains, chain)
	slices.Sort(r.ScannedChains)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	c := *r
	c.ScannedChains = slices.Clone(r.ScannedChains)
	if c.ScannedChains == nil {
		c.ScannedChains = []engine.ChainID{}
	}
	if r.LastBalanceUpdate != nil {
		t := *r.LastBalanceUpdate
		c.LastBalanceUpdate = &t
	}

	return &c
}

// Merge folds update into existing and returns the result. Empty fields in
// update keep the existing value, scanned chains are unioned and the most
// recent balance update wins. Changing an existing wallet id or privacy
// address fails with ErrImmutableField.
func Merge(existing, update *Record) (*Record, error) {
	if existing == nil {
		return update.Clone(), nil
	}
	if update == nil {
		return existing.Clone(), nil
	}

	if existing.WalletID != "" && update.WalletID != "" &&
		existing.WalletID != update.WalletID {

		return nil, fmt.Errorf("%w: wallet id %v -> %v",
			ErrImmutableField, existing.WalletID, update.WalletID)
	}
	if existing.PrivacyAddress != "" && update.PrivacyAddress != "" &&
		existing.PrivacyAddress != update.PrivacyAddress {

		return nil, fmt.Errorf("%w: privacy address changed",
			ErrImmutableField)
	}

	merged := existing.Clone()
	if update.WalletID != "" {
		merged.WalletID = update.WalletID
	}
	if update.PrivacyAddress != "" {
		merged.PrivacyAddress = update.PrivacyAddress
	}
	if update.Signature != "" {
		merged.Signature = update.Signature
	}
	if update.EncryptedMnemonic != "" {
		merged.EncryptedMnemonic = update.EncryptedMnemonic
	}
	for _, chain := range update.ScannedChains {
		merged.AddScannedChain(chain)
	}
	if update.SchemaVersion > merged.SchemaVersion {
		merged.SchemaVersion = update.SchemaVersion
	}
	if update.LastBalanceUpdate != nil && (merged.LastBalanceUpdate == nil ||
		update.LastBalanceUpdate.After(*merged.LastBalanceUpdate)) {

		t := *update.LastBalanceUpdate
		merged.LastBalanceUpdate = &t
	}

	return merged, nil
}

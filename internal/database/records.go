package statedb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
)

// Get returns the stored record for address, satisfying metadata.Store.
func (s *Store) Get(ctx context.Context, address string) (*metadata.Record, error) {
	var row SQLiteWalletRecord

	err := s.withContext(ctx).
		Where("address = ?", strings.ToLower(address)).
		First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, metadata.ErrNotFound

	case err != nil:
		return nil, err
	}

	chains, err := decodeChains(row.ScannedChains)
	if err != nil {
		return nil, fmt.Errorf("corrupt scanned chains for %v: %w",
			address, err)
	}

	return &metadata.Record{
		WalletID:          row.WalletID,
		PrivacyAddress:    row.PrivacyAddress,
		Signature:         row.Signature,
		EncryptedMnemonic: row.EncryptedMnemonic,
		ScannedChains:     chains,
		SchemaVersion:     row.SchemaVersion,
		LastBalanceUpdate: row.LastBalanceUpdate,
	}, nil
}

// Put overwrites the stored record for address.
func (s *Store) Put(ctx context.Context, address string, rec *metadata.Record) error {
	address = strings.ToLower(address)
	db := s.withContext(ctx)

	var row SQLiteWalletRecord
	err := db.Where("address = ?", address).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	row.Address = address
	row.WalletID = rec.WalletID
	row.PrivacyAddress = rec.PrivacyAddress
	row.Signature = rec.Signature
	row.EncryptedMnemonic = rec.EncryptedMnemonic
	row.ScannedChains = encodeChains(rec.ScannedChains)
	row.SchemaVersion = rec.SchemaVersion
	row.LastBalanceUpdate = rec.LastBalanceUpdate

	if err := db.Save(&row).Error; err != nil {
		return err
	}
	log.Debugf("Stored record for %v (wallet %v)", address, rec.WalletID)

	return nil
}

// Addresses lists every address with a stored record.
func (s *Store) Addresses(ctx context.Context) ([]string, error) {
	var addresses []string
	err := s.withContext(ctx).Model(&SQLiteWalletRecord{}).
		Order("address").Pluck("address", &addresses).Error

	return addresses, err
}

func encodeChains(chains []engine.ChainID) string {
	parts := make([]string, 0, len(chains))
	for _, c := range chains {
		parts = append(parts, strconv.FormatUint(uint64(c), 10))
	}
	return strings.Join(parts, ",")
}

func decodeChains(s string) ([]engine.ChainID, error) {
	chains := []engine.ChainID{}
	if s == "" {
		return chains, nil
	}

	for _, part := range strings.Split(s, ",") {
		c, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, err
		}
		chains = append(chains, engine.ChainID(c))
	}
	return chains, nil
}

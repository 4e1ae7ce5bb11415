package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexie-crypto/lexie-wallet/internal/engine"
)

const testAddr = "0x00000000000000000000000000000000000000aa"

func completeRecord() *Record {
	return &Record{
		WalletID:          "wallet-1",
		PrivacyAddress:    "0zk1abc",
		Signature:         "0xsig",
		EncryptedMnemonic: "salt:iv:ct",
		ScannedChains:     []engine.ChainID{},
		SchemaVersion:     SchemaVersion,
	}
}

func TestComplete(t *testing.T) {
	var nilRec *Record
	require.False(t, nilRec.Complete())
	require.True(t, completeRecord().Complete())

	legacy := completeRecord()
	legacy.EncryptedMnemonic = ""
	legacy.SchemaVersion = 1
	require.False(t, legacy.Complete())
}

func TestAddScannedChainKeepsSortedSet(t *testing.T) {
	r := completeRecord()
	r.AddScannedChain(137)
	r.AddScannedChain(1)
	r.AddScannedChain(137)

	require.Equal(t, []engine.ChainID{1, 137}, r.ScannedChains)
	require.True(t, r.HasScanned(1))
	require.False(t, r.HasScanned(56))
}

func TestMergeRejectsIdentityChanges(t *testing.T) {
	existing := completeRecord()

	_, err := Merge(existing, &Record{WalletID: "wallet-2"})
	require.ErrorIs(t, err, ErrImmutableField)

	_, err = Merge(existing, &Record{PrivacyAddress: "0zk1other"})
	require.ErrorIs(t, err, ErrImmutableField)
}

func TestMergeUnionsAndKeepsSecrets(t *testing.T) {
	earlier := time.Unix(100, 0)
	later := time.Unix(200, 0)

	existing := completeRecord()
	existing.ScannedChains = []engine.ChainID{1}
	existing.LastBalanceUpdate = &later

	merged, err := Merge(existing, &Record{
		ScannedChains:     []engine.ChainID{42161},
		LastBalanceUpdate: &earlier,
	})
	require.NoError(t, err)
	require.Equal(t, "0xsig", merged.Signature)
	require.Equal(t, "salt:iv:ct", merged.EncryptedMnemonic)
	require.Equal(t, []engine.ChainID{1, 42161}, merged.ScannedChains)
	require.Equal(t, later, *merged.LastBalanceUpdate)

	// The inputs are left untouched.
	require.Equal(t, []engine.ChainID{1}, existing.ScannedChains)
}

// TestUpdatePreservesOtherFields asserts that a scanned chain update never
// drops the cached signature or encrypted mnemonic.
func TestUpdatePreservesOtherFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, testAddr, completeRecord()))

	now := time.Unix(1700000000, 0)
	_, err := Update(ctx, s, testAddr, func(r *Record) error {
		r.AddScannedChain(1)
		r.LastBalanceUpdate = &now
		return nil
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, "0xsig", got.Signature)
	require.Equal(t, "salt:iv:ct", got.EncryptedMnemonic)
	require.Equal(t, "wallet-1", got.WalletID)
	require.Equal(t, []engine.ChainID{1}, got.ScannedChains)
}

func TestUpdateAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := Update(ctx, s, testAddr, func(*Record) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)

	rec, err := Upsert(ctx, s, testAddr, func(r *Record) error {
		r.WalletID = "wallet-1"
		r.PrivacyAddress = "0zk1abc"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []engine.ChainID{}, rec.ScannedChains)

	_, err = Upsert(ctx, s, testAddr, func(r *Record) error {
		r.WalletID = "wallet-2"
		return nil
	})
	require.ErrorIs(t, err, ErrImmutableField)
	require.Equal(t, 1, s.Puts())
}

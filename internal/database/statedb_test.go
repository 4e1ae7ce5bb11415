package statedb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
)

const testAddr = "0x00000000000000000000000000000000000000aa"

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "state", "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	return s
}

func TestFlags(t *testing.T) {
	s := newTestStore(t)

	blocked, err := s.GetFlag("gate.blocked.metamask")
	require.NoError(t, err)
	require.False(t, blocked)

	require.NoError(t, s.SetFlag("gate.blocked.metamask", true))
	require.NoError(t, s.SetFlag("gate.blocked.rabby", true))
	require.NoError(t, s.SetFlag("gate.blocked.rabby", false))

	blocked, err = s.GetFlag("gate.blocked.metamask")
	require.NoError(t, err)
	require.True(t, blocked)

	keys, err := s.Flags()
	require.NoError(t, err)
	require.Equal(t, []string{"gate.blocked.metamask"}, keys)

	require.NoError(t, s.DeleteValue("gate.blocked.metamask"))
	_, ok, err := s.GetValue("gate.blocked.metamask")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, testAddr)
	require.ErrorIs(t, err, metadata.ErrNotFound)

	updated := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := &metadata.Record{
		WalletID:          "wallet-1",
		PrivacyAddress:    "0zk1abc",
		Signature:         "0xsig",
		EncryptedMnemonic: "a:b:c",
		ScannedChains:     []engine.ChainID{},
		SchemaVersion:     metadata.SchemaVersion,
	}
	require.NoError(t, s.Put(ctx, "0x00000000000000000000000000000000000000AA", rec))

	got, err := s.Get(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, rec, got)

	// Overwriting keeps a single row per address.
	rec.ScannedChains = []engine.ChainID{1, 42161}
	rec.LastBalanceUpdate = &updated
	require.NoError(t, s.Put(ctx, testAddr, rec))

	got, err = s.Get(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, []engine.ChainID{1, 42161}, got.ScannedChains)
	require.True(t, updated.Equal(*got.LastBalanceUpdate))

	addrs, err := s.Addresses(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{testAddr}, addrs)
}

// TestRecordsBackMetadataUpdate asserts the store works as the local side
// of a read-modify-write.
func TestRecordsBackMetadataUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := metadata.Upsert(ctx, s, testAddr, func(r *metadata.Record) error {
		r.WalletID = "wallet-1"
		r.PrivacyAddress = "0zk1abc"
		r.Signature = "0xsig"
		return nil
	})
	require.NoError(t, err)

	_, err = metadata.Update(ctx, s, testAddr, func(r *metadata.Record) error {
		r.AddScannedChain(137)
		return nil
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, "0xsig", got.Signature)
	require.Equal(t, []engine.ChainID{137}, got.ScannedChains)
}

func TestChallenges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveChallenge(ctx, Challenge{
		Challenge: "fresh",
		Hash:      "h1",
		Status:    ChallengeUnused,
		Address:   testAddr,
		CreatedAt: now,
	}))
	require.NoError(t, s.SaveChallenge(ctx, Challenge{
		Challenge: "stale",
		Hash:      "h2",
		Status:    ChallengeUnused,
		Address:   testAddr,
		CreatedAt: now.Add(-10 * time.Minute),
	}))

	expired, err := s.ExpireChallenges(ctx, now, 2*time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, expired)

	c, err := s.GetChallenge(ctx, "h2")
	require.NoError(t, err)
	require.Equal(t, ChallengeExpired, c.Status)

	require.NoError(t, s.MarkChallengeUsed(ctx, "h1", now))
	c, err = s.GetChallenge(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, ChallengeUsed, c.Status)
	require.Equal(t, testAddr, c.Address)

	require.Error(t, s.MarkChallengeUsed(ctx, "missing", now))
}

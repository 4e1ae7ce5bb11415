package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type panickyEngine struct {
	bootstrapCalls int
	failBootstrap  bool
}

func (p *panickyEngine) Bootstrap(context.Context, StartConfig) error {
	p.bootstrapCalls++
	if p.failBootstrap {
		return errors.New("artifacts missing")
	}
	return nil
}

func (p *panickyEngine) LoadProvider(context.Context, NetworkConfig) error {
	panic("provider exploded")
}

func (p *panickyEngine) PausePolling() {
	panic("no poller")
}

func (p *panickyEngine) CreateWallet(context.Context, string, string) (WalletInfo, error) {
	return WalletInfo{ID: "w1", PrivacyAddress: "0zk1"}, nil
}

func (p *panickyEngine) LoadWalletByID(context.Context, string, string) (WalletInfo, error) {
	var m map[string]string
	m["boom"] = "nil map"
	return WalletInfo{}, nil
}

func (p *panickyEngine) RefreshBalances(context.Context, ChainID, []string) error {
	return nil
}

func (p *panickyEngine) SignatureMessage(string) string {
	panic("no message")
}

func TestRecoverConvertsPanics(t *testing.T) {
	e := Recover(&panickyEngine{})
	ctx := context.Background()

	err := e.LoadProvider(ctx, NetworkConfig{ChainID: 1})
	require.ErrorIs(t, err, ErrEngine)
	require.Contains(t, err.Error(), "provider exploded")

	_, err = e.LoadWalletByID(ctx, "key", "w1")
	require.ErrorIs(t, err, ErrEngine)

	info, err := e.CreateWallet(ctx, "key", "words")
	require.NoError(t, err)
	require.Equal(t, "w1", info.ID)

	require.NotPanics(t, e.PausePolling)
	require.Empty(t, e.SignatureMessage("0xabc"))

	// Wrapping twice is a no-op.
	require.Same(t, e, Recover(e))
}

func TestStarterRunsOnce(t *testing.T) {
	pe := &panickyEngine{failBootstrap: true}
	s := NewStarter(pe, StartConfig{WalletSource: "test"})
	ctx := context.Background()

	require.Error(t, s.Start(ctx))
	require.False(t, s.Started())

	pe.failBootstrap = false
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))
	require.True(t, s.Started())
	require.Equal(t, 2, pe.bootstrapCalls)
}

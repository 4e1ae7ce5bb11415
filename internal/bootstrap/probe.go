package bootstrap

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/lexie-crypto/lexie-wallet/internal/engine"
)

// EthProbe dials an endpoint and checks that it serves the expected chain.
type EthProbe struct{}

// Probe implements EndpointProbe. The provider stall timeout bounds the
// whole check.
func (EthProbe) Probe(ctx context.Context, chain engine.ChainID,
	provider engine.ProviderConfig) error {

	if provider.StallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, provider.StallTimeout)
		defer cancel()
	}

	client, err := ethclient.DialContext(ctx, provider.URL)
	if err != nil {
		return fmt.Errorf("dial %v: %w", provider.URL, err)
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("eth_chainId on %v: %w", provider.URL, err)
	}

	if !id.IsUint64() || engine.ChainID(id.Uint64()) != chain {
		return fmt.Errorf("%v serves chain %v, expected %d",
			provider.URL, id, chain)
	}

	return nil
}

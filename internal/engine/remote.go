package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// signatureTemplate is the text every device asks the external wallet to
// sign. It must never change: the derived encryption key depends on it.
const signatureTemplate = "Lexie Privacy Wallet\n\n" +
	"Sign this message to access the privacy wallet for %s.\n\n" +
	"This request will not trigger a transaction or cost any gas."

// SignatureMessage returns the deterministic message signed by address.
func SignatureMessage(address string) string {
	return fmt.Sprintf(signatureTemplate, strings.ToLower(address))
}

// Remote is an Engine served by an out-of-process privacy engine over
// JSON-RPC. Methods live in the "engine" namespace.
type Remote struct {
	client *rpc.Client
}

var _ Engine = (*Remote)(nil)

// DialRemote connects to the engine endpoint at url (http, ws or ipc).
func DialRemote(ctx context.Context, url string) (*Remote, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to dial privacy engine at %s: %w",
			url, err)
	}
	return NewRemote(client), nil
}

// NewRemote wraps an existing client.
func NewRemote(client *rpc.Client) *Remote {
	return &Remote{client: client}
}

// Close closes the underlying client.
func (r *Remote) Close() {
	r.client.Close()
}

func (r *Remote) call(ctx context.Context, result interface{}, method string,
	args ...interface{}) error {

	err := r.client.CallContext(ctx, result, "engine_"+method, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEngine, method, err)
	}
	return nil
}

func (r *Remote) Bootstrap(ctx context.Context, cfg StartConfig) error {
	return r.call(ctx, nil, "bootstrap", cfg)
}

func (r *Remote) LoadProvider(ctx context.Context, network NetworkConfig) error {
	return r.call(ctx, nil, "loadProvider", network)
}

// PausePolling is fire and forget; the engine keeps polling only until it
// handles the request.
func (r *Remote) PausePolling() {
	if err := r.call(context.Background(), nil, "pausePolling"); err != nil {
		log.Warnf("Unable to pause polling: %v", err)
	}
}

func (r *Remote) CreateWallet(ctx context.Context, encryptionKey,
	mnemonic string) (WalletInfo, error) {

	var info WalletInfo
	err := r.call(ctx, &info, "createWallet", encryptionKey, mnemonic)
	return info, err
}

func (r *Remote) LoadWalletByID(ctx context.Context, encryptionKey,
	walletID string) (WalletInfo, error) {

	var info WalletInfo
	err := r.call(ctx, &info, "loadWalletByID", encryptionKey, walletID)
	return info, err
}

func (r *Remote) RefreshBalances(ctx context.Context, chain ChainID,
	walletIDs []string) error {

	return r.call(ctx, nil, "refreshBalances", chain, walletIDs)
}

func (r *Remote) SignatureMessage(address string) string {
	return SignatureMessage(address)
}

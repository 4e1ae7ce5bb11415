package connect

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// userRejectedCode is the EIP-1193 "user rejected request" code.
const userRejectedCode = 4001

// RemoteWallet is an external wallet reached through a JSON-RPC bridge,
// using the "wallet" namespace.
type RemoteWallet struct {
	client *rpc.Client
}

var (
	_ Wallet  = (*RemoteWallet)(nil)
	_ Revoker = (*RemoteWallet)(nil)
)

// NewRemoteWallet wraps client.
func NewRemoteWallet(client *rpc.Client) *RemoteWallet {
	return &RemoteWallet{client: client}
}

// SignMessage maps a 4001 error from the bridge to ErrUserRejected.
func (w *RemoteWallet) SignMessage(ctx context.Context, address,
	text string) (string, error) {

	var sig string
	err := w.client.CallContext(ctx, &sig, "wallet_signMessage", address, text)
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
			return "", fmt.Errorf("%w: %v", ErrUserRejected, err)
		}
		return "", err
	}

	return sig, nil
}

func (w *RemoteWallet) Disconnect(ctx context.Context) error {
	return w.client.CallContext(ctx, nil, "wallet_disconnect")
}

func (w *RemoteWallet) RevokePermissions(ctx context.Context) error {
	return w.client.CallContext(ctx, nil, "wallet_revokePermissions")
}

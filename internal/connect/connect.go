// Package connect holds the types exchanged with the external wallet
// connection layer (injected browser wallets, WalletConnect, etc).
package connect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lexie-crypto/lexie-wallet/internal/engine"
)

var (
	// ErrUserRejected is returned by a Wallet when the user declines a
	// signature request.
	ErrUserRejected = errors.New("user rejected the request")

	// ErrInvalidAddress is returned for strings that are not EOA addresses.
	ErrInvalidAddress = errors.New("invalid wallet address")
)

// ConnectorKind names the connector brand, e.g. "metamask" or
// "walletconnect".
type ConnectorKind string

// Session is the read-only view of a connected external wallet.
type Session struct {
	Address     string
	ChainID     engine.ChainID
	Connector   ConnectorKind
	ConnectedAt time.Time
}

// Wallet is the connected external wallet.
type Wallet interface {
	// SignMessage asks the user to personal_sign text with address and
	// returns the 0x prefixed signature.
	SignMessage(ctx context.Context, address, text string) (string, error)

	// Disconnect drops the current connection.
	Disconnect(ctx context.Context) error
}

// Revoker is implemented by wallets that can revoke previously granted
// account permissions.
type Revoker interface {
	RevokePermissions(ctx context.Context) error
}

// NormalizeAddress validates addr and returns its lowercase 0x form, which
// is the key used for every per-address record.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

package session

import (
	"errors"

	"github.com/lexie-crypto/lexie-wallet/internal/hydration"
	"github.com/lexie-crypto/lexie-wallet/internal/ratelimit"
)

var (
	// ErrConnectionRejected is returned when the connection gate turned
	// a connection away.
	ErrConnectionRejected = errors.New("connection rejected")

	// ErrNoSession is returned when no wallet is connected.
	ErrNoSession = errors.New("no wallet connected")

	// ErrNotReady is returned for wallet operations before hydration
	// reached Ready.
	ErrNotReady = errors.New("privacy wallet is not ready")

	// ErrUnknownNetwork is returned for chains without configured
	// providers.
	ErrUnknownNetwork = errors.New("network not configured")
)

// UserFacing returns the message to show the user for err. Only a rejected
// signature and an exhausted rate limit are shown; everything else is
// handled internally.
func UserFacing(err error) (string, bool) {
	switch {
	case errors.Is(err, hydration.ErrRejectedSignature):
		return "The signature request was rejected. Approve it in " +
			"your wallet to set up your private balance.", true

	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return "Too many network requests for this session. " +
			"Disconnect and reconnect your wallet to try again.", true

	default:
		return "", false
	}
}

package api

import (
	"context"
	"time"

	statedb "github.com/lexie-crypto/lexie-wallet/internal/database"
	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
)

type contextKey string

const (
	requestIDKey contextKey = "requestID"
	claimsKey    contextKey = "claims"
)

// Store is the storage behind the server. *statedb.Store implements it.
type Store interface {
	metadata.Store

	SaveChallenge(ctx context.Context, challenge statedb.Challenge) error
	GetChallenge(ctx context.Context, hash string) (*statedb.Challenge, error)
	MarkChallengeUsed(ctx context.Context, hash string, now time.Time) error
}

// ChallengeResponse is returned by GET /challenge.
type ChallengeResponse struct {
	Challenge string    `json:"challenge"`
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

// VerifyResponse carries the issued token.
type VerifyResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

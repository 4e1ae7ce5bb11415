// Package api is the development metadata server: it stores wallet records
// for the HTTP metadata client and issues tokens to external addresses that
// sign a challenge.
package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"gorm.io/gorm"

	"github.com/lexie-crypto/lexie-wallet/internal/connect"
	statedb "github.com/lexie-crypto/lexie-wallet/internal/database"
	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
	"github.com/lexie-crypto/lexie-wallet/internal/secrets"
)

const (
	// DefaultChallengeTTL is how long an issued challenge can be verified.
	DefaultChallengeTTL = 2 * time.Minute

	// DefaultTokenTTL is the lifetime of issued tokens.
	DefaultTokenTTL = 15 * time.Minute

	// DefaultMaxClockSkew bounds the X-Timestamp drift of signed requests.
	DefaultMaxClockSkew = 5 * time.Minute
)

// Config configures the API.
type Config struct {
	Store Store

	// APIKey enables HMAC signed requests. Empty disables them.
	APIKey string

	// JWTKey signs tokens. A random key is generated when empty.
	JWTKey []byte

	AllowedOrigin string

	Clock        clock.Clock
	ChallengeTTL time.Duration
	TokenTTL     time.Duration
	MaxClockSkew time.Duration
}

// API serves the metadata endpoints.
type API struct {
	cfg Config
}

// NewAPI creates an API.
func NewAPI(cfg Config) (*API, error) {
	if cfg.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if len(cfg.JWTKey) == 0 {
		key, err := GenerateJWTKey()
		if err != nil {
			return nil, err
		}
		cfg.JWTKey = key
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DefaultChallengeTTL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = DefaultMaxClockSkew
	}

	return &API{cfg: cfg}, nil
}

// Handler returns the routed handler with middleware applied.
func (a *API) Handler() http.Handler {
	common := []func(http.HandlerFunc) http.HandlerFunc{
		ErrorMiddleware, LoggingMiddleware, RequestIDMiddleware,
		a.CORSMiddleware,
	}
	wrap := func(h http.HandlerFunc,
		extra ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {

		return ApplyMiddleware(h, append(extra, common...)...)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metadata", wrap(a.HandleMetadata,
		a.AuthMiddleware, JSONContentTypeMiddleware))
	mux.HandleFunc("/challenge", wrap(a.HandleChallengeRequest))
	mux.HandleFunc("/verify", wrap(a.VerifyChallenge,
		JSONContentTypeMiddleware))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// HandleMetadata serves GET and POST /metadata.
func (a *API) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.getRecord(w, r)
	case http.MethodPost:
		a.putRecord(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// authorize checks that a token holder only touches its own record.
func authorize(r *http.Request, address string) bool {
	claims, ok := claimsFrom(r.Context())
	return !ok || claims.Address == address
}

func (a *API) getRecord(w http.ResponseWriter, r *http.Request) {
	addr, err := connect.NormalizeAddress(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !authorize(r, addr) {
		writeError(w, r, http.StatusForbidden, "address not authorized")
		return
	}

	rec, err := a.cfg.Store.Get(r.Context(), addr)
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "no record")
		return

	case err != nil:
		log.Errorf("Unable to read record for %s: %v", addr, err)
		writeError(w, r, http.StatusInternalServerError,
			"failed to read record")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (a *API) putRecord(w http.ResponseWriter, r *http.Request) {
	var req metadata.PutRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	addr, err := connect.NormalizeAddress(req.Address)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !authorize(r, addr) {
		writeError(w, r, http.StatusForbidden, "address not authorized")
		return
	}

	ctx := r.Context()
	existing, err := a.cfg.Store.Get(ctx, addr)
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		existing = nil

	case err != nil:
		log.Errorf("Unable to read record for %s: %v", addr, err)
		writeError(w, r, http.StatusInternalServerError,
			"failed to read record")
		return
	}

	var next *metadata.Record
	if existing != nil && req.ReplacesWalletID != "" &&
		existing.WalletID == req.ReplacesWalletID {

		log.Warnf("Wallet %s for %s replaced by %s", existing.WalletID,
			addr, req.WalletID)
		next = req.Record.Clone()
	} else {
		next, err = metadata.Merge(existing, &req.Record)
		if err != nil {
			writeError(w, r, http.StatusConflict, err.Error())
			return
		}
	}

	if err := a.cfg.Store.Put(ctx, addr, next); err != nil {
		log.Errorf("Unable to write record for %s: %v", addr, err)
		writeError(w, r, http.StatusInternalServerError,
			"failed to write record")
		return
	}

	status := http.StatusOK
	if existing == nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, next)
}

// HandleChallengeRequest issues a challenge for the address query parameter.
func (a *API) HandleChallengeRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	addr, err := connect.NormalizeAddress(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	now := a.cfg.Clock.Now()
	challenge, hash, err := generateChallenge(now)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError,
			"failed to generate challenge")
		return
	}

	err = a.cfg.Store.SaveChallenge(r.Context(), statedb.Challenge{
		Challenge: challenge,
		Hash:      hash,
		Status:    statedb.ChallengeUnused,
		Address:   addr,
		CreatedAt: now,
	})
	if err != nil {
		log.Errorf("Unable to save challenge: %v", err)
		writeError(w, r, http.StatusInternalServerError,
			"failed to save challenge")
		return
	}

	writeJSON(w, http.StatusOK, ChallengeResponse{
		Challenge: challenge,
		Hash:      hash,
		ExpiresAt: now.Add(a.cfg.ChallengeTTL),
	})
}

func generateChallenge(now time.Time) (string, string, error) {
	letters := []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	challenge := make([]byte, 12)
	if _, err := rand.Read(challenge); err != nil {
		return "", "", err
	}
	for i := range challenge {
		challenge[i] = letters[challenge[i]%byte(len(letters))]
	}

	full := fmt.Sprintf("Sign in to Lexie: %s-%s", string(challenge),
		now.UTC().Format(time.RFC3339Nano))

	return full, challengeHash(full), nil
}

func challengeHash(challenge string) string {
	hash := sha256.Sum256([]byte(challenge))
	return hex.EncodeToString(hash[:])
}

// VerifyChallenge checks a personal_sign signature over an issued challenge
// and returns a token for the signing address.
func (a *API) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req VerifyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "cannot parse JSON")
		return
	}

	ctx := r.Context()
	challenge, err := a.cfg.Store.GetChallenge(ctx, challengeHash(req.Challenge))
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeError(w, r, http.StatusUnauthorized, "invalid challenge")
		return

	case err != nil:
		log.Errorf("Unable to load challenge: %v", err)
		writeError(w, r, http.StatusInternalServerError,
			"failed to load challenge")
		return
	}

	if challenge.Status != statedb.ChallengeUnused {
		writeError(w, r, http.StatusUnauthorized, "challenge already used")
		return
	}

	now := a.cfg.Clock.Now()
	if now.Sub(challenge.CreatedAt) > a.cfg.ChallengeTTL {
		writeError(w, r, http.StatusUnauthorized, "challenge expired")
		return
	}

	err = secrets.VerifySignature(
		challenge.Address, challenge.Challenge, req.Signature,
	)
	if err != nil {
		log.Infof("Signature check failed for %s: %v", challenge.Address,
			err)
		writeError(w, r, http.StatusUnauthorized, "invalid signature")
		return
	}

	if err := a.cfg.Store.MarkChallengeUsed(ctx, challenge.Hash, now); err != nil {
		writeError(w, r, http.StatusInternalServerError,
			"failed to mark challenge as used")
		return
	}

	token, expiresAt, err := a.GenerateJWT(challenge.Address)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError,
			"failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int,
	msg string) {

	writeJSON(w, status, ErrorResponse{
		Error:     msg,
		RequestID: requestID(r.Context()),
	})
}

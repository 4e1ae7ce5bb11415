package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// Claims are carried by tokens issued from POST /verify.
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

func claimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// statusRecorder captures the status code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs information about each request
func LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		log.Infof("%s %s -> %d in %v (request %s)", r.Method,
			r.URL.Path, rec.status, time.Since(start),
			requestID(r.Context()))
	}
}

// JSONContentTypeMiddleware ensures that requests have the correct content type
func JSONContentTypeMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead &&
			r.Method != http.MethodOptions {

			contentType := r.Header.Get("Content-Type")
			if !strings.Contains(contentType, "application/json") {
				writeError(w, r, http.StatusUnsupportedMediaType,
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

// ErrorMiddleware wraps the handler and catches any panics, returning them as 500 errors
func ErrorMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("Panic serving %s %s: %v", r.Method,
					r.URL.Path, err)
				writeError(w, r, http.StatusInternalServerError,
					"internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	}
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// ApplyMiddleware applies a list of middleware to a handler. The last one
// listed runs first.
func ApplyMiddleware(h http.HandlerFunc, middleware ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}

// CORSMiddleware answers preflight requests for the configured origin.
func (a *API) CORSMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, Authorization, X-API-Key, X-Timestamp, "+
				"X-Signature, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// AuthMiddleware accepts either an HMAC signed request made with the API
// key or a bearer token issued by POST /verify.
func (a *API) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "" {
			if err := a.checkHMAC(r); err != nil {
				log.Warnf("Rejected signed request: %v", err)
				writeError(w, r, http.StatusUnauthorized,
					"invalid request signature")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, r, http.StatusUnauthorized,
				"authorization required")
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, r, http.StatusUnauthorized,
				"invalid token format")
			return
		}

		claims, err := a.parseToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			var validationErr *jwt.ValidationError
			if errors.As(err, &validationErr) &&
				validationErr.Errors&jwt.ValidationErrorExpired != 0 {

				writeError(w, r, http.StatusUnauthorized,
					"token expired")
				return
			}

			log.Debugf("Invalid token: %v", err)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// checkHMAC verifies the X-API-Key, X-Timestamp and X-Signature headers and
// restores the body for the handler.
func (a *API) checkHMAC(r *http.Request) error {
	if a.cfg.APIKey == "" {
		return errors.New("api key auth disabled")
	}

	key := r.Header.Get("X-API-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(a.cfg.APIKey)) != 1 {
		return errors.New("unknown api key")
	}

	timestamp := r.Header.Get("X-Timestamp")
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("bad timestamp: %w", err)
	}
	skew := a.cfg.Clock.Now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.cfg.MaxClockSkew {
		return fmt.Errorf("timestamp off by %v", skew)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			return fmt.Errorf("reading body: %w", err)
		}
		r.Body.Close()
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	// Requests without a body are signed over an empty body.
	if !metadata.VerifySignature(key, timestamp, body,
		r.Header.Get("X-Signature")) {

		return errors.New("signature mismatch")
	}

	return nil
}

func (a *API) parseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing "+
					"method %v", token.Header["alg"])
			}
			return a.cfg.JWTKey, nil
		})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}

	return claims, nil
}

// GenerateJWT issues a token for address.
func (a *API) GenerateJWT(address string) (string, time.Time, error) {
	now := a.cfg.Clock.Now()
	expiresAt := now.Add(a.cfg.TokenTTL)

	claims := &Claims{
		Address: address,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.cfg.JWTKey)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// GenerateJWTKey returns a random 256 bit signing key.
func GenerateJWTKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate JWT key: %v", err)
	}
	return key, nil
}

// SaveJWTKey writes key base64 encoded to path.
func SaveJWTKey(key []byte, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory for JWT key: %v", err)
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to save JWT key: %v", err)
	}

	return nil
}

// LoadJWTKey reads a key written by SaveJWTKey.
func LoadJWTKey(path string) ([]byte, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT key: %w", err)
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT key: %v", err)
	}

	return key, nil
}

// EnsureJWTKey loads the key at path, creating one when the file is
// missing.
func EnsureJWTKey(path string) ([]byte, error) {
	key, err := LoadJWTKey(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	log.Infof("No JWT key at %s, generating one", path)

	key, err = GenerateJWTKey()
	if err != nil {
		return nil, err
	}
	if err := SaveJWTKey(key, path); err != nil {
		return nil, err
	}

	return key, nil
}

// Package ratelimit bounds the number of RPC provider load attempts made
// during a single connected wallet session.
package ratelimit

import (
	"errors"
	"strings"
	"sync"
)

// DefaultMaxAttempts is the number of provider load attempts allowed per
// session before the limiter trips.
const DefaultMaxAttempts = 9

// ErrRateLimitExceeded is returned once the session budget is exhausted.
// It stays returned until the wallet disconnects or a different address
// connects.
var ErrRateLimitExceeded = errors.New("rpc rate limit exceeded for this " +
	"session: disconnect and reconnect your wallet to try again")

// State is a snapshot of the limiter.
type State struct {
	TotalAttempts     int    `json:"totalAttempts"`
	MaxAttempts       int    `json:"maxAttempts"`
	IsBlocked         bool   `json:"isBlocked"`
	BlockedForSession string `json:"blockedForSession,omitempty"`
}

// Limiter counts provider load attempts for the session bound to one
// external address.
type Limiter struct {
	mu sync.Mutex

	maxAttempts int
	total       int
	blocked     bool
	blockedFor  string
	address     string
}

// New returns a Limiter allowing maxAttempts attempts. Non-positive values
// select DefaultMaxAttempts.
func New(maxAttempts int) *Limiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Limiter{maxAttempts: maxAttempts}
}

// RecordAttempt consumes one attempt. It fails with ErrRateLimitExceeded
// when the limiter is already blocked or when the budget is used up, in
// which case the limiter becomes blocked.
func (l *Limiter) RecordAttempt() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.blocked {
		return ErrRateLimitExceeded
	}

	if l.total >= l.maxAttempts {
		l.blocked = true
		l.blockedFor = l.address
		log.Warnf("Provider load budget of %d attempts exhausted for "+
			"session %v", l.maxAttempts, l.address)
		return ErrRateLimitExceeded
	}

	l.total++
	log.Debugf("Provider load attempt %d/%d", l.total, l.maxAttempts)

	return nil
}

// Blocked reports whether the limiter has tripped.
func (l *Limiter) Blocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.blocked
}

// Bind associates the limiter with address. Binding an address other than
// the current one resets the limiter and returns true.
func (l *Limiter) Bind(address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if strings.EqualFold(l.address, address) {
		return false
	}

	if l.address != "" {
		log.Infof("Session address changed from %v to %v, resetting "+
			"rate limiter", l.address, address)
	}
	l.resetLocked()
	l.address = strings.ToLower(address)

	return true
}

// Reset clears all counters and the bound address. Only called on
// disconnect.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.resetLocked()
	l.address = ""
}

func (l *Limiter) resetLocked() {
	l.total = 0
	l.blocked = false
	l.blockedFor = ""
}

// Snapshot returns the current limiter state.
func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return State{
		TotalAttempts:     l.total,
		MaxAttempts:       l.maxAttempts,
		IsBlocked:         l.blocked,
		BlockedForSession: l.blockedFor,
	}
}

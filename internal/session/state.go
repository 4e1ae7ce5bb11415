package session

import (
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/lexie-crypto/lexie-wallet/internal/connect"
	"github.com/lexie-crypto/lexie-wallet/internal/engine"
)

// State is the mutable session state owned by the orchestrator. Every
// connect and disconnect moves the epoch forward; work started under an
// older epoch must not mutate anything.
type State struct {
	mu            sync.Mutex
	epoch         uint64
	session       fn.Option[connect.Session]
	disconnecting bool
}

// NewState returns a State with no session.
func NewState() *State {
	return &State{session: fn.None[connect.Session]()}
}

// Begin starts a session and returns its epoch.
func (s *State) Begin(sess connect.Session) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.session = fn.Some(sess)
	s.disconnecting = false

	return s.epoch
}

// MarkDisconnecting invalidates the current epoch. It returns false when
// there is no session to tear down.
func (s *State) MarkDisconnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.IsNone() || s.disconnecting {
		return false
	}
	s.disconnecting = true
	s.epoch++

	return true
}

// End clears the session after a disconnect finished.
func (s *State) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = fn.None[connect.Session]()
	s.disconnecting = false
}

// Current reports whether epoch still identifies the live session.
func (s *State) Current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return epoch == s.epoch && !s.disconnecting && s.session.IsSome()
}

// Epoch returns the current epoch.
func (s *State) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.epoch
}

// Session returns the connected session, if any.
func (s *State) Session() fn.Option[connect.Session] {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.session
}

// SetChain records a chain switch. It returns false without a session.
func (s *State) SetChain(chain engine.ChainID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.IsNone() || s.disconnecting {
		return false
	}

	sess := s.session.UnsafeFromSome()
	sess.ChainID = chain
	s.session = fn.Some(sess)

	return true
}

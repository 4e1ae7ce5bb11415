// Package gate decides whether an external wallet connection event was
// initiated by the user or is an unwanted automatic reconnect.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/lexie-crypto/lexie-wallet/internal/connect"
)

// DefaultGraceWindow is how long after a user action a connection from a
// blocked brand is still attributed to that action.
const DefaultGraceWindow = time.Second

// FlagStore persists boolean flags across restarts.
type FlagStore interface {
	GetFlag(key string) (bool, error)
	SetFlag(key string, value bool) error
}

// Reason explains a decision.
type Reason string

const (
	// ReasonUserInitiated is returned for allowed connections.
	ReasonUserInitiated Reason = "user-initiated"

	// ReasonStartupAutoConnect rejects connections that appear before
	// the user acted at all in this process.
	ReasonStartupAutoConnect Reason = "startup-auto-connect"

	// ReasonBlockedBrand rejects reconnects from a brand the user
	// explicitly disconnected.
	ReasonBlockedBrand Reason = "blocked-brand"
)

// Decision is the outcome of evaluating a connection event.
type Decision struct {
	Allow  bool
	Reason Reason
}

// Event is a connection event raised by the wallet connection layer.
type Event struct {
	Connector connect.ConnectorKind
	Address   string
}

// Config holds the gate dependencies.
type Config struct {
	Flags       FlagStore
	Clock       clock.Clock
	GraceWindow time.Duration
}

// Gate tracks user actions for the lifetime of the process.
type Gate struct {
	cfg Config

	mu             sync.Mutex
	userActed      bool
	lastUserAction time.Time
}

// New creates a Gate.
func New(cfg Config) *Gate {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}

	return &Gate{cfg: cfg}
}

// FlagKey returns the persisted flag key for a connector brand.
func FlagKey(kind connect.ConnectorKind) string {
	return fmt.Sprintf("gate.blocked.%s", kind)
}

// UserConnect records an explicit connect click for kind and clears its
// blocked flag.
func (g *Gate) UserConnect(kind connect.ConnectorKind) error {
	g.touch()

	if err := g.cfg.Flags.SetFlag(FlagKey(kind), false); err != nil {
		return fmt.Errorf("unable to clear blocked flag for %v: %w",
			kind, err)
	}
	log.Debugf("Explicit connect for %v, blocked flag cleared", kind)

	return nil
}

// UserDisconnect blocks further automatic reconnects from kind. It does not
// count as a user action for the grace window.
func (g *Gate) UserDisconnect(kind connect.ConnectorKind) error {
	if err := g.cfg.Flags.SetFlag(FlagKey(kind), true); err != nil {
		return fmt.Errorf("unable to set blocked flag for %v: %w",
			kind, err)
	}
	log.Infof("Connector %v blocked until the user connects it again",
		kind)

	return nil
}

func (g *Gate) touch() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.userActed = true
	g.lastUserAction = g.cfg.Clock.Now()
}

// SinceUserAction returns the time elapsed since the last user action and
// false if the user has not acted yet.
func (g *Gate) SinceUserAction() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.userActed {
		return 0, false
	}
	return g.cfg.Clock.Now().Sub(g.lastUserAction), true
}

// Evaluate decides whether ev may proceed.
func (g *Gate) Evaluate(ev Event) Decision {
	since, acted := g.SinceUserAction()
	if !acted {
		log.Infof("Rejecting %v connection for %v: no user action yet",
			ev.Connector, ev.Address)
		return Decision{Reason: ReasonStartupAutoConnect}
	}

	blocked, err := g.cfg.Flags.GetFlag(FlagKey(ev.Connector))
	if err != nil {
		log.Errorf("Unable to read blocked flag for %v: %v",
			ev.Connector, err)
	}

	if blocked && since > g.cfg.GraceWindow {
		log.Infof("Rejecting auto-reconnect from blocked connector %v "+
			"(%v since last user action)", ev.Connector, since)
		return Decision{Reason: ReasonBlockedBrand}
	}

	return Decision{Allow: true, Reason: ReasonUserInitiated}
}

// ForceDisconnect tears down a rejected connection. Permission revocation
// is attempted first when supported and its failure is ignored.
func (g *Gate) ForceDisconnect(ctx context.Context, w connect.Wallet) error {
	if r, ok := w.(connect.Revoker); ok {
		if err := r.RevokePermissions(ctx); err != nil {
			log.Warnf("Unable to revoke wallet permissions: %v", err)
		}
	}

	if err := w.Disconnect(ctx); err != nil {
		return fmt.Errorf("unable to force disconnect: %w", err)
	}

	return nil
}

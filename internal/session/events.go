package session

import (
	"errors"
	"sync"
	"time"

	"github.com/lexie-crypto/lexie-wallet/internal/engine"
)

// DefaultEventBuffer is the per-subscriber channel size.
const DefaultEventBuffer = 64

// ErrEmitterClosed is returned when subscribing after shutdown.
var ErrEmitterClosed = errors.New("event emitter closed")

// EventKind names an orchestrator event.
type EventKind string

const (
	EventInitStarted        EventKind = "init-started"
	EventInitProgress       EventKind = "init-progress"
	EventInitCompleted      EventKind = "init-completed"
	EventInitFailed         EventKind = "init-failed"
	EventScanStarted        EventKind = "scan-started"
	EventScanComplete       EventKind = "scan-complete"
	EventRateLimited        EventKind = "rate-limited"
	EventConnectionRejected EventKind = "connection-rejected"
	EventWalletReplaced     EventKind = "wallet-replaced"
	EventDisconnected       EventKind = "disconnected"
)

// Event is sent to every subscriber.
type Event struct {
	Kind     EventKind      `json:"kind"`
	Address  string         `json:"address,omitempty"`
	ChainID  engine.ChainID `json:"chainId,omitempty"`
	WalletID string         `json:"walletId,omitempty"`
	Percent  int            `json:"percent,omitempty"`
	Message  string         `json:"message,omitempty"`
	Error    string         `json:"error,omitempty"`
	Time     time.Time      `json:"time"`
}

// Subscription receives events until cancelled.
type Subscription struct {
	id      uint64
	updates chan Event
	emitter *Emitter
}

// Updates returns the event channel. It is closed on Cancel or when the
// emitter shuts down.
func (s *Subscription) Updates() <-chan Event {
	return s.updates
}

// Cancel stops delivery and closes the updates channel.
func (s *Subscription) Cancel() {
	s.emitter.cancel(s.id)
}

// Emitter fans events out to subscribers. Slow subscribers lose events
// rather than blocking the session.
type Emitter struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
	buffer int
	closed bool
}

// NewEmitter creates an Emitter with the given per-subscriber buffer.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Emitter{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber.
func (e *Emitter) Subscribe() (*Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEmitterClosed
	}

	e.nextID++
	sub := &Subscription{
		id:      e.nextID,
		updates: make(chan Event, e.buffer),
		emitter: e,
	}
	e.subs[sub.id] = sub

	return sub, nil
}

// Emit delivers ev to every subscriber without blocking.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, sub := range e.subs {
		select {
		case sub.updates <- ev:
		default:
			log.Warnf("Dropping %v event for slow subscriber %d",
				ev.Kind, id)
		}
	}
}

func (e *Emitter) cancel(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sub, ok := e.subs[id]; ok {
		delete(e.subs, id)
		close(sub.updates)
	}
}

// Close cancels every subscription.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	for id, sub := range e.subs {
		delete(e.subs, id)
		close(sub.updates)
	}
}

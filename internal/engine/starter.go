package engine

import (
	"context"
	"sync"
)

// Starter bootstraps the engine at most once per process. A failed attempt
// leaves the starter unstarted so the next caller may try again.
type Starter struct {
	engine Engine
	cfg    StartConfig

	mu      sync.Mutex
	started bool
}

// NewStarter returns a Starter for e.
func NewStarter(e Engine, cfg StartConfig) *Starter {
	return &Starter{
		engine: e,
		cfg:    cfg,
	}
}

// Start bootstraps the engine unless that already succeeded.
func (s *Starter) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	log.Infof("Bootstrapping privacy engine (source=%v)", s.cfg.WalletSource)
	if err := s.engine.Bootstrap(ctx, s.cfg); err != nil {
		return err
	}
	s.started = true

	return nil
}

// Started reports whether Bootstrap has completed.
func (s *Starter) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.started
}

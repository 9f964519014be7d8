package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/autom8ter/realtime/errors"
)

// Supervisor owns the current relay and replaces it as a whole on re-initialization, so no state bound to a
// torn down transport survives into the next relay
type Supervisor struct {
	mu      sync.Mutex
	current atomic.Pointer[Relay]
}

// NewSupervisor creates a supervisor without a relay
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Init builds a relay from the config and starts it in place of the current relay. The new relay is
// validated before anything is torn down; the previous relay and its connections are closed before the new
// relay starts serving, so a client is never delivered to by both.
func (s *Supervisor) Init(ctx context.Context, cfg Config, opts ...Opt) (*Relay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if previous := s.current.Swap(nil); previous != nil {
		if err := previous.Close(); err != nil {
			next.logger.Warn(ctx, "failed to close previous relay", map[string]any{
				"error": err.Error(),
			})
		}
	}
	if err := next.Start(ctx); err != nil {
		_ = next.Close()
		return nil, errors.Wrap(err, 0, "supervisor: failed to start relay")
	}
	s.current.Store(next)
	return next, nil
}

// Current returns the running relay, or nil if none has been initialized
func (s *Supervisor) Current() *Relay {
	return s.current.Load()
}

// Close closes the current relay
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if previous := s.current.Swap(nil); previous != nil {
		return previous.Close()
	}
	return nil
}

// Package lifecycle implements C14: ordered startup and bounded,
// idempotent shutdown of the components that own background resources
// (timers, file handles). Components with no startup/shutdown behavior of
// their own (C1 Token Counter, C2 Compression Codec, C11 Registry) never
// need to register here — they have nothing to start or stop.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Component is anything the Manager must start in order and stop in
// reverse order. Start/Stop should be fast; Stop in particular must
// respect ctx's deadline rather than blocking indefinitely.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// funcComponent adapts a pair of plain functions to Component, for
// collaborators (like cache.Engine.Close) that don't naturally implement
// the interface themselves.
type funcComponent struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (f funcComponent) Name() string                   { return f.name }
func (f funcComponent) Start(ctx context.Context) error { return noopIfNil(f.start, ctx) }
func (f funcComponent) Stop(ctx context.Context) error  { return noopIfNil(f.stop, ctx) }
func noopIfNil(fn func(context.Context) error, ctx context.Context) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// NewComponent builds a Component from plain start/stop functions. Either
// may be nil.
func NewComponent(name string, start, stop func(ctx context.Context) error) Component {
	return funcComponent{name: name, start: start, stop: stop}
}

// Manager starts registered components in registration order and stops
// them in reverse order, honoring a bounded shutdown grace period (spec
// §4.14: "Shutdown is idempotent and bounded in wall time; a stuck handler
// must not prevent shutdown beyond a configurable grace period after which
// the process exits anyway").
type Manager struct {
	mu         sync.Mutex
	components []Component
	grace      time.Duration
	started    bool
	stopped    bool
}

// New constructs a Manager. grace bounds Shutdown's total wait time.
func New(grace time.Duration) *Manager {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Manager{grace: grace}
}

// Register adds a component to the startup/shutdown sequence. Order of
// registration is startup order; shutdown runs in the reverse order,
// matching the dependency order C1..C10 named in spec §4.14 (leaves first
// on the way up, leaves last on the way down mirrors the locking order of
// spec §5: C14→C12→C11→C7→C5→C4→C3→C2→C1).
func (m *Manager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

// Start initializes every registered component in registration order,
// stopping at (and returning) the first error. Components already started
// are left running; callers typically treat a Start failure as fatal.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	components := append([]Component(nil), m.components...)
	m.mu.Unlock()

	for _, c := range components {
		log.Info().Str("component", c.Name()).Msg("lifecycle: starting")
		if err := c.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops every started component in reverse registration order,
// each bounded by the Manager's grace period in aggregate. Shutdown is
// idempotent: calling it twice is a no-op on the second call. An error
// returned by a component's Stop is logged and shutdown goes on to the next
// component. A component whose Stop does not return before the grace period
// elapses is abandoned: Shutdown logs it and returns the context's error at
// once, without stopping the components after it, so Shutdown never runs
// past the grace period.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	components := append([]Component(nil), m.components...)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.grace)
	defer cancel()

	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		done := make(chan error, 1)
		go func() { done <- c.Stop(ctx) }()

		select {
		case err := <-done:
			if err != nil {
				log.Warn().Err(err).Str("component", c.Name()).Msg("lifecycle: stop returned an error")
			} else {
				log.Info().Str("component", c.Name()).Msg("lifecycle: stopped")
			}
		case <-ctx.Done():
			log.Warn().Str("component", c.Name()).Msg("lifecycle: stop did not complete within grace period, abandoning")
			return ctx.Err()
		}
	}
	return nil
}

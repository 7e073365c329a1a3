package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/payment-dashboard/pkg/logger"
)

// MachineFactory builds the machine of a new browser session.
type MachineFactory func(sessionID string) *Machine

// Registry keeps one Machine per browser session and evicts idle ones.
type Registry struct {
	mu       sync.Mutex
	machines map[string]*Machine
	factory  MachineFactory
	clock    Clock
	logger   *slog.Logger
	onEvict  []func(sessionID string)
}

type RegistryOption func(*Registry)

func WithRegistryClock(c Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// OnEvict registers a hook run after a session is dropped.
func OnEvict(fn func(sessionID string)) RegistryOption {
	return func(r *Registry) { r.onEvict = append(r.onEvict, fn) }
}

func NewRegistry(factory MachineFactory, opts ...RegistryOption) *Registry {
	r := &Registry{
		machines: make(map[string]*Machine),
		factory:  factory,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = systemClock{}
	}
	if r.logger == nil {
		r.logger = logger.LoggerWrapper()
	}
	return r
}

func (r *Registry) Get(sessionID string) (*Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[sessionID]
	return m, ok
}

// GetOrCreate returns the session's machine, creating it on first use.
func (r *Registry) GetOrCreate(sessionID string) *Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.machines[sessionID]; ok {
		return m
	}
	m := r.factory(sessionID)
	r.machines[sessionID] = m
	r.logger.Debug("dashboard session created", "session_id", sessionID)
	return m
}

func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	_, ok := r.machines[sessionID]
	delete(r.machines, sessionID)
	r.mu.Unlock()
	if ok {
		r.evicted(sessionID)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.machines)
}

// Sweep drops machines idle for longer than idle and returns how many went.
// Machines with a call in flight are kept.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.clock.Now().Add(-idle)

	var dropped []string
	r.mu.Lock()
	for sid, m := range r.machines {
		if m.idleSince(cutoff) {
			delete(r.machines, sid)
			dropped = append(dropped, sid)
		}
	}
	r.mu.Unlock()

	for _, sid := range dropped {
		r.evicted(sid)
	}
	if len(dropped) > 0 {
		r.logger.Info("idle dashboard sessions evicted", "count", len(dropped))
	}
	return len(dropped)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, idle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("session janitor started", "interval", interval, "idle_timeout", idle)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session janitor stopped")
			return nil
		case <-ticker.C:
			r.Sweep(idle)
		}
	}
}

func (r *Registry) evicted(sessionID string) {
	for _, fn := range r.onEvict {
		fn(sessionID)
	}
}

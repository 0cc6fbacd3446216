package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/closer/internal/hooks"
	"github.com/soyeahso/closer/internal/logging"
)

// Registry manages notifier lifecycle.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	order     []string // insertion order for deterministic lifecycle
	hooks     *hooks.Manager
	sender    Sender
	log       *logging.Logger
}

// NewRegistry creates a notifier registry.
func NewRegistry(hm *hooks.Manager, sender Sender, log *logging.Logger) *Registry {
	return &Registry{
		notifiers: make(map[string]Notifier),
		hooks:     hm,
		sender:    sender,
		log:       log.Sub("notify"),
	}
}

// Register adds a notifier without initializing it.
func (r *Registry) Register(n Notifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.notifiers[n.ID()]; exists {
		return fmt.Errorf("notifier already registered: %s", n.ID())
	}
	r.notifiers[n.ID()] = n
	r.order = append(r.order, n.ID())
	return nil
}

// InitAll initializes notifiers in registration order. On failure the ones
// already initialized are closed.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, id := range r.order {
		api := API{Hooks: r.hooks, Sender: r.sender, Log: r.log.Sub(id)}
		if err := r.notifiers[id].Init(ctx, api); err != nil {
			r.closeLocked(r.order[:i])
			return fmt.Errorf("init notifier %s: %w", id, err)
		}
		r.log.Info().Str("id", id).Msg("notifier active")
	}
	return nil
}

// CloseAll shuts notifiers down in reverse registration order.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.closeLocked(r.order)
}

func (r *Registry) closeLocked(ids []string) {
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		if err := r.notifiers[id].Close(); err != nil {
			r.log.Error().Err(err).Str("id", id).Msg("notifier close error")
		}
	}
}

// List returns notifier IDs in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered notifiers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notifiers)
}

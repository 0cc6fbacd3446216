// Package channel manages the messaging transports sessions talk over and
// the outbox that delivers bot replies through them.
package channel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/logging"
)

// member is a registered channel and the state of its Start goroutine.
type member struct {
	ch      domain.Channel
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

func (m *member) running() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Registry owns the configured channels. It routes outbound messages by
// channel ID and runs each channel's Start in its own goroutine.
type Registry struct {
	mu      sync.RWMutex
	members map[string]*member
	log     *logging.Logger
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		members: make(map[string]*member),
		log:     log.Sub("channels"),
	}
}

// Register adds ch. IDs are unique.
func (r *Registry) Register(ch domain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.members[ch.ID()]; dup {
		return fmt.Errorf("channel %q already registered", ch.ID())
	}
	r.members[ch.ID()] = &member{ch: ch}
	r.log.Debug().Str("channel", ch.ID()).Msg("channel registered")
	return nil
}

func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return nil, false
	}
	return m.ch, true
}

// Send delivers msg through the channel named by msg.ChannelID.
func (r *Registry) Send(ctx context.Context, msg domain.OutboundMessage) error {
	ch, ok := r.Get(msg.ChannelID)
	if !ok {
		return fmt.Errorf("channel %q: %w", msg.ChannelID, domain.ErrNotFound)
	}
	return ch.Send(ctx, msg)
}

// List returns the registered IDs in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked()
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Status reports every channel, ordered by ID. Channels that do not report
// their own status are described by their Start goroutine.
func (r *Registry) Status() []domain.ChannelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChannelStatus, 0, len(r.members))
	for _, id := range r.idsLocked() {
		m := r.members[id]
		if sc, ok := m.ch.(interface{ Status() domain.ChannelStatus }); ok {
			out = append(out, sc.Status())
			continue
		}
		st := domain.ChannelStatus{ChannelID: id, Running: m.running()}
		st.Connected = st.Running
		if m.lastErr != nil {
			st.LastError = m.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// StartAll launches Start for every channel that is not already running.
// Start may block for the life of the connection, so it never waits on
// them; a channel whose Start fails is logged and left stopped.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) == 0 {
		return errors.New("no channels registered")
	}
	for _, id := range r.idsLocked() {
		m := r.members[id]
		if m.running() {
			continue
		}
		runCtx, cancel := context.WithCancel(ctx)
		m.cancel, m.done, m.lastErr = cancel, make(chan struct{}), nil
		r.log.Info().Str("channel", id).Msg("starting channel")
		go r.run(runCtx, id, m)
	}
	return nil
}

func (r *Registry) run(ctx context.Context, id string, m *member) {
	err := m.ch.Start(ctx)
	r.mu.Lock()
	m.lastErr = err
	close(m.done)
	r.mu.Unlock()
	if err != nil && ctx.Err() == nil {
		r.log.Error().Err(err).Str("channel", id).Msg("channel exited")
	}
}

// StopAll stops channels in reverse ID order and waits, bounded by ctx, for
// their Start goroutines to return.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	ids := r.idsLocked()
	members := make([]*member, len(ids))
	for i, id := range ids {
		members[i] = r.members[id]
	}
	r.mu.RUnlock()

	for i := len(members) - 1; i >= 0; i-- {
		m := members[i]
		if err := m.ch.Stop(ctx); err != nil {
			r.log.Warn().Err(err).Str("channel", ids[i]).Msg("stopping channel")
		}
		r.mu.RLock()
		cancel, done := m.cancel, m.done
		r.mu.RUnlock()
		if cancel == nil {
			continue
		}
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			r.log.Warn().Str("channel", ids[i]).Msg("channel did not stop in time")
		}
	}
}

// Package hooks is the in-process event bus. The orchestrator and the
// scheduler emit session events; the gateway and notifiers subscribe.
package hooks

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/soyeahso/closer/internal/logging"
)

const (
	EventMessageReceived   = "message.received"
	EventMessageOutbound   = "message.outbound"
	EventOperatorQueued    = "operator.queued"
	EventSessionUpdated    = "session.updated"
	EventHandoffRequested  = "handoff.requested"
	EventFollowUpScheduled = "followup.scheduled"
	EventFollowUpSent      = "followup.sent"
	EventFollowUpCancelled = "followup.cancelled"
	EventFollowUpEscalated = "followup.escalated"
	EventFollowUpFailed    = "followup_failed"
	EventDeliveryFailed    = "delivery_failed"

	EventGatewayStart = "gateway.start"
	EventGatewayStop  = "gateway.stop"
)

// SessionEvents are the events that concern a single conversation. Each
// carries a "sessionId" key.
var SessionEvents = []string{
	EventMessageReceived,
	EventMessageOutbound,
	EventOperatorQueued,
	EventSessionUpdated,
	EventHandoffRequested,
	EventFollowUpScheduled,
	EventFollowUpSent,
	EventFollowUpCancelled,
	EventFollowUpEscalated,
	EventFollowUpFailed,
	EventDeliveryFailed,
}

// Wildcard subscribes to every event.
const Wildcard = "*"

// Payload is what handlers receive.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to an event. A returned error is logged and never reaches
// the emitter.
type Handler func(ctx context.Context, p Payload) error

type subscription struct {
	name string
	fn   Handler
}

// Manager holds subscriptions by event name.
type Manager struct {
	mu   sync.RWMutex
	subs map[string][]subscription
	log  *logging.Logger
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		subs: make(map[string][]subscription),
		log:  log.Sub("hooks"),
	}
}

// On subscribes fn to event under name. Use Wildcard for every event.
func (m *Manager) On(event, name string, fn Handler) {
	m.mu.Lock()
	m.subs[event] = append(m.subs[event], subscription{name: name, fn: fn})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("subscribed")
}

// Off drops every subscription to event named name.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := slices.DeleteFunc(slices.Clone(m.subs[event]), func(s subscription) bool {
		return s.name == name
	})
	if len(kept) == 0 {
		delete(m.subs, event)
		return
	}
	m.subs[event] = kept
}

// Emit calls the event's subscribers in subscription order, then the
// wildcard subscribers, on the caller's goroutine. A failing or panicking
// handler does not stop the rest.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	m.mu.RLock()
	subs := slices.Concat(m.subs[event], m.subs[Wildcard])
	m.mu.RUnlock()

	p := Payload{Event: event, Data: data}
	for _, s := range subs {
		m.dispatch(ctx, s, p)
	}
}

func (m *Manager) dispatch(ctx context.Context, s subscription, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("event", p.Event).Str("handler", s.name).
				Str("panic", fmt.Sprint(r)).Msg("hook handler panicked")
		}
	}()
	if err := s.fn(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", s.name).Msg("hook handler failed")
	}
}

// Count is the number of subscriptions to event, wildcard excluded.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[event])
}

// Events lists events with at least one subscription, sorted.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]string, 0, len(m.subs))
	for e := range m.subs {
		events = append(events, e)
	}
	slices.Sort(events)
	return events
}

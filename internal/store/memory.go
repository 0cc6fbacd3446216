package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/closer/internal/domain"
)

// MemoryStore implements Store in process memory. Values are copied in and
// out, so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]domain.Session
	messages  map[string][]domain.Message
	followUps map[string]domain.FollowUp
	nextMsgID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]domain.Session),
		messages:  make(map[string][]domain.Message),
		followUps: make(map[string]domain.FollowUp),
	}
}

func (m *MemoryStore) LoadSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return &sess, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, sess domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked(sess)
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return msg, fmt.Errorf("appending message to %s: %w", msg.SessionID, domain.ErrNotFound)
	}
	return m.appendLocked(msg), nil
}

func (m *MemoryStore) UpsertFollowUp(_ context.Context, fu domain.FollowUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkPendingLocked(fu, nil); err != nil {
		return err
	}
	m.followUps[fu.ID] = fu
	return nil
}

// Commit validates the whole turn before applying any of it.
func (m *MemoryStore) Commit(_ context.Context, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[string]domain.FollowUp, len(turn.FollowUps))
	for _, fu := range turn.FollowUps {
		staged[fu.ID] = fu
	}
	for _, fu := range turn.FollowUps {
		if err := m.checkPendingLocked(fu, staged); err != nil {
			return err
		}
	}
	for _, msg := range turn.Messages {
		if msg.SessionID != turn.Session.ID {
			if _, ok := m.sessions[msg.SessionID]; !ok {
				return fmt.Errorf("appending message to %s: %w", msg.SessionID, domain.ErrNotFound)
			}
		}
	}

	m.saveLocked(turn.Session)
	for _, fu := range turn.FollowUps {
		m.followUps[fu.ID] = fu
	}
	for _, msg := range turn.Messages {
		m.appendLocked(msg)
	}
	return nil
}

func (m *MemoryStore) Messages(_ context.Context, sessionID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}

func (m *MemoryStore) ListSessions(_ context.Context, filter SessionFilter) ([]domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Session
	for _, sess := range m.sessions {
		if filter.Mode != "" && sess.Mode != filter.Mode {
			continue
		}
		out = append(out, sess)
	}
	slices.SortFunc(out, func(a, b domain.Session) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListFollowUps(_ context.Context, sessionID string) ([]domain.FollowUp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.FollowUp
	for _, fu := range m.followUps {
		if fu.SessionID == sessionID {
			out = append(out, fu)
		}
	}
	slices.SortFunc(out, func(a, b domain.FollowUp) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Tier, b.Tier)
	})
	return out, nil
}

func (m *MemoryStore) GetFollowUp(_ context.Context, id string) (*domain.FollowUp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fu, ok := m.followUps[id]
	if !ok {
		return nil, fmt.Errorf("follow-up %s: %w", id, domain.ErrNotFound)
	}
	return &fu, nil
}

func (m *MemoryStore) DueFollowUps(_ context.Context, now time.Time, limit int) ([]domain.FollowUp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.FollowUp
	for _, fu := range m.followUps {
		if fu.Due(now) {
			out = append(out, fu)
		}
	}
	slices.SortFunc(out, func(a, b domain.FollowUp) int {
		if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) saveLocked(sess domain.Session) {
	sess.IntentScore = domain.ClampScore(sess.IntentScore)
	if prev, ok := m.sessions[sess.ID]; ok {
		sess.CreatedAt = prev.CreatedAt
	}
	m.sessions[sess.ID] = sess
}

func (m *MemoryStore) appendLocked(msg domain.Message) domain.Message {
	m.nextMsgID++
	msg.ID = m.nextMsgID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return msg
}

// checkPendingLocked reports a conflict when fu is pending and another
// pending follow-up exists for its session. staged overrides stored rows.
func (m *MemoryStore) checkPendingLocked(fu domain.FollowUp, staged map[string]domain.FollowUp) error {
	if !fu.Pending() {
		return nil
	}
	seen := make(map[string]bool)
	check := func(other domain.FollowUp) error {
		if other.ID != fu.ID && other.SessionID == fu.SessionID && other.Pending() {
			return fmt.Errorf("follow-up %s: %w", fu.ID, ErrPendingConflict)
		}
		return nil
	}
	for id, other := range staged {
		seen[id] = true
		if err := check(other); err != nil {
			return err
		}
	}
	for id, other := range m.followUps {
		if seen[id] {
			continue
		}
		if err := check(other); err != nil {
			return err
		}
	}
	return nil
}

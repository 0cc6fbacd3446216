// Package store persists sessions, messages, follow-ups and knowledge
// snippets. SQLite is the durable backend; MemoryStore serves local chat
// and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/soyeahso/closer/internal/domain"
)

// ErrPendingConflict is returned when a write would leave a session with
// more than one pending follow-up.
var ErrPendingConflict = errors.New("session already has a pending follow-up")

// Turn is everything one orchestrator turn writes. Commit applies it
// atomically.
type Turn struct {
	Session   domain.Session
	Messages  []domain.Message
	FollowUps []domain.FollowUp
}

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	Mode  domain.Mode
	Limit int
}

// Store is the persistence port of the orchestrator and scheduler.
type Store interface {
	// LoadSession returns domain.ErrNotFound when the session is absent.
	LoadSession(ctx context.Context, id string) (*domain.Session, error)
	SaveSession(ctx context.Context, sess domain.Session) error
	// AppendMessage stores msg and returns it with its assigned ID.
	AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	UpsertFollowUp(ctx context.Context, fu domain.FollowUp) error
	Commit(ctx context.Context, turn Turn) error

	// Messages returns the last limit messages of a session, oldest first.
	// A limit of 0 returns all of them.
	Messages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	// ListSessions returns sessions, most recently updated first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]domain.Session, error)
	ListFollowUps(ctx context.Context, sessionID string) ([]domain.FollowUp, error)
	GetFollowUp(ctx context.Context, id string) (*domain.FollowUp, error)
	// DueFollowUps returns pending follow-ups scheduled at or before now,
	// earliest first.
	DueFollowUps(ctx context.Context, now time.Time, limit int) ([]domain.FollowUp, error)

	Close() error
}

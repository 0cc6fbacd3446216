// Package notify delivers engine events to operators outside the console:
// an append-only audit log and short alerts on a messaging channel.
package notify

import (
	"context"

	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/hooks"
	"github.com/soyeahso/closer/internal/logging"
)

// Notifier subscribes to hook events during Init and releases its
// resources in Close.
type Notifier interface {
	ID() string
	Init(ctx context.Context, api API) error
	Close() error
}

// Sender delivers a message on a channel. *channel.Registry implements it.
type Sender interface {
	Send(ctx context.Context, msg domain.OutboundMessage) error
}

// API is what a notifier may use.
type API struct {
	Hooks  *hooks.Manager
	Sender Sender
	Log    *logging.Logger
}

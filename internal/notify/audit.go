package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/soyeahso/closer/internal/hooks"
)

// AuditLog appends every hook event to a JSON-lines file.
type AuditLog struct {
	path string

	mu    sync.Mutex
	file  *os.File
	zl    zerolog.Logger
	hooks *hooks.Manager
}

// NewAuditLog creates an audit notifier writing to path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

func (a *AuditLog) ID() string { return "audit" }

func (a *AuditLog) Init(_ context.Context, api API) error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o700); err != nil {
		return fmt.Errorf("creating audit directory: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	a.file = f
	a.zl = zerolog.New(f).With().Timestamp().Logger()
	a.hooks = api.Hooks
	a.hooks.On(hooks.Wildcard, a.ID(), a.record)
	return nil
}

func (a *AuditLog) record(_ context.Context, p hooks.Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	ev := a.zl.Log().Str("event", p.Event)
	if id, ok := p.Data["sessionId"].(string); ok {
		ev = ev.Str("sessionId", id)
	}
	ev.Interface("data", p.Data).Send()
	return nil
}

func (a *AuditLog) Close() error {
	if a.hooks != nil {
		a.hooks.Off(hooks.Wildcard, a.ID())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

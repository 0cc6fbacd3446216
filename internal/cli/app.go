package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/soyeahso/closer/internal/agent"
	"github.com/soyeahso/closer/internal/channel"
	"github.com/soyeahso/closer/internal/channel/irc"
	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/hooks"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/soyeahso/closer/internal/notify"
	"github.com/soyeahso/closer/internal/policy"
	"github.com/soyeahso/closer/internal/scheduler"
	"github.com/soyeahso/closer/internal/signals"
	"github.com/soyeahso/closer/internal/store"
)

// app is the wired engine shared by serve and chat.
type app struct {
	cfg       config.Config
	pol       *policy.Policy
	store     store.Store
	knowledge *store.Knowledge
	hooks     *hooks.Manager
	channels  *channel.Registry
	outbox    *channel.Outbox
	orch      *agent.Orchestrator
	sched     *scheduler.Scheduler
	notifiers *notify.Registry
}

type appOptions struct {
	// memoryStore forces the in-memory store regardless of store.driver.
	memoryStore bool
	// skipConfiguredChannels leaves out channels from config (chat).
	skipConfiguredChannels bool
	channels               []domain.Channel
	now                    func() time.Time
}

func newApp(cfg config.Config, p config.Paths, log *logging.Logger, opts appOptions) (*app, error) {
	pol := policy.New(cfg)
	provider, err := signals.New(cfg, pol, log)
	if err != nil {
		return nil, fmt.Errorf("signal provider: %w", err)
	}

	a := &app{cfg: cfg, pol: pol, hooks: hooks.NewManager(log)}
	if opts.memoryStore || cfg.Store.Driver == "memory" {
		a.store = store.NewMemoryStore()
		log.Info().Msg("using in-memory store")
	} else {
		path := p.Database(cfg.Store)
		db, err := store.Open(path, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.store = store.NewSQLiteStore(db)
		a.knowledge = store.NewKnowledge(db)
	}

	a.channels = channel.NewRegistry(log)
	if cfg.Channels.IRC != nil && !opts.skipConfiguredChannels {
		if err := a.channels.Register(irc.New(*cfg.Channels.IRC, log)); err != nil {
			a.store.Close()
			return nil, err
		}
	}
	for _, ch := range opts.channels {
		if err := a.channels.Register(ch); err != nil {
			a.store.Close()
			return nil, err
		}
	}

	a.outbox = channel.NewOutbox(a.channels, a.store, channel.OutboxOptions{
		Split:     pol.Parts,
		PartDelay: cfg.Channels.PartDelay,
		Rate:      cfg.Channels.SendRate,
		Burst:     cfg.Channels.SendBurst,
	}, log)

	locks := agent.NewLockTable()
	deps := agent.Deps{
		Store:   a.store,
		Signals: provider,
		Outbox:  a.outbox,
		Policy:  pol,
		Locks:   locks,
		Hooks:   a.hooks,
	}
	if a.knowledge != nil {
		deps.Knowledge = a.knowledge
	}
	a.orch = agent.New(deps, agent.Options{
		Timeout:      cfg.Providers.Timeout,
		ReplyTimeout: cfg.Providers.ReplyTimeout,
		Scope:        cfg.Session.Scope,
		Now:          opts.now,
	}, log)

	a.sched = scheduler.New(scheduler.Deps{
		Store:  a.store,
		Outbox: a.outbox,
		Locks:  locks,
		Policy: pol,
		Hooks:  a.hooks,
	}, scheduler.Options{
		Sweep:   cfg.Scheduler.Sweep,
		Workers: cfg.Scheduler.Workers,
		Now:     opts.now,
	}, log)

	a.notifiers = notify.NewRegistry(a.hooks, a.channels, log)
	if path := cfg.Notify.AuditLog; path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.Logs, path)
		}
		a.notifiers.Register(notify.NewAuditLog(path))
	}
	if cfg.Notify.Alert != nil {
		a.notifiers.Register(notify.NewAlert(*cfg.Notify.Alert))
	}
	return a, nil
}

// Close releases the store.
func (a *app) Close() error {
	return a.store.Close()
}

// openStore opens the configured store for read-mostly commands.
func openStore(cfg config.Config) (store.Store, *store.Knowledge, error) {
	if cfg.Store.Driver == "memory" {
		return nil, nil, fmt.Errorf("store.driver is memory; nothing is persisted to inspect")
	}
	db, err := store.Open(paths.Database(cfg.Store), log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return store.NewSQLiteStore(db), store.NewKnowledge(db), nil
}

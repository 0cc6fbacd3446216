// Package scheduler sends due follow-ups. A cron job sweeps the store, and
// each due follow-up is re-checked under its session lock before anything
// is sent.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/closer/internal/agent"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/hooks"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/soyeahso/closer/internal/mode"
	"github.com/soyeahso/closer/internal/policy"
	"github.com/soyeahso/closer/internal/store"
)

// Outcome is what happened to one due follow-up.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeEscalated Outcome = "escalated"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// SweepResult counts outcomes of one sweep.
type SweepResult struct {
	Due      int             `json:"due"`
	Outcomes map[Outcome]int `json:"outcomes"`
}

// Options tunes the scheduler.
type Options struct {
	// Sweep is the cron spec of the sweep job, e.g. "@every 30s".
	Sweep string
	// Workers bounds concurrent dispatches within one sweep.
	Workers int
	// BatchSize caps follow-ups taken per sweep.
	BatchSize int
	// Now overrides the clock.
	Now func() time.Time
}

// Deps are the scheduler's collaborators. Hooks may be nil.
type Deps struct {
	Store  store.Store
	Outbox agent.Outbox
	Locks  *agent.LockTable
	Policy *policy.Policy
	Hooks  *hooks.Manager
}

// Scheduler dispatches follow-ups.
type Scheduler struct {
	store  store.Store
	outbox agent.Outbox
	locks  *agent.LockTable
	pol    *policy.Policy
	hooks  *hooks.Manager
	modes  *mode.Controller

	opts Options
	now  func() time.Time
	log  *logging.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a scheduler. It does nothing until Start.
func New(deps Deps, opts Options, log *logging.Logger) *Scheduler {
	if opts.Sweep == "" {
		opts.Sweep = "@every 30s"
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:  deps.Store,
		outbox: deps.Outbox,
		locks:  deps.Locks,
		pol:    deps.Policy,
		hooks:  deps.Hooks,
		modes:  mode.NewController(),
		opts:   opts,
		now:    now,
		log:    log.Sub("scheduler"),
	}
}

// Start schedules the sweep job. Sweeps run with a context derived from ctx
// and never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	clog := cronLogger{s.log}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(s.opts.Sweep, func() { s.runSweep(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule sweep %q: %w", s.opts.Sweep, err)
	}
	c.Start()
	s.cron = c
	s.cancel = cancel

	s.log.Info().
		Str("sweep", s.opts.Sweep).
		Int("workers", s.opts.Workers).
		Msg("follow-up scheduler started")
	return nil
}

// Stop cancels the running sweep and waits for it to return or for ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	cancel()
	select {
	case <-c.Stop().Done():
		s.log.Info().Msg("follow-up scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	res, err := s.Sweep(ctx, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("follow-up sweep failed")
		return
	}
	if res.Due > 0 {
		s.log.Info().
			Int("due", res.Due).
			Int("sent", res.Outcomes[OutcomeSent]).
			Int("escalated", res.Outcomes[OutcomeEscalated]).
			Int("cancelled", res.Outcomes[OutcomeCancelled]).
			Int("failed", res.Outcomes[OutcomeFailed]).
			Msg("follow-up sweep")
	}
}

// Sweep processes every follow-up due at now, at most Workers at a time.
// Per-follow-up errors are logged and counted as skipped.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	res := SweepResult{Outcomes: make(map[Outcome]int)}
	due, err := s.store.DueFollowUps(ctx, now, s.opts.BatchSize)
	if err != nil {
		return res, &domain.PersistenceError{Op: "load due follow-ups", Err: err}
	}
	res.Due = len(due)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for _, fu := range due {
		g.Go(func() error {
			out, err := s.Process(ctx, fu.ID, now)
			if err != nil {
				s.log.Error().Err(err).
					Str("sessionId", fu.SessionID).
					Str("followUp", fu.ID).
					Int("tier", fu.Tier).
					Msg("follow-up not processed")
			}
			mu.Lock()
			res.Outcomes[out]++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return res, ctx.Err()
}

// Process handles one follow-up under its session lock. The follow-up and
// session are reloaded so decisions use current state.
func (s *Scheduler) Process(ctx context.Context, id string, now time.Time) (Outcome, error) {
	fu, err := s.store.GetFollowUp(ctx, id)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("load follow-up %s: %w", id, err)
	}

	unlock, err := s.locks.Lock(ctx, fu.SessionID)
	if err != nil {
		return OutcomeSkipped, err
	}
	defer unlock()

	// Re-read under the lock; a turn may have cancelled it meanwhile.
	fu, err = s.store.GetFollowUp(ctx, id)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("load follow-up %s: %w", id, err)
	}
	if !fu.Due(now) {
		return OutcomeSkipped, nil
	}

	sess, err := s.store.LoadSession(ctx, fu.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		fu.Close(domain.FollowUpCancelled, now)
		fu.Error = "session not found"
		if err := s.store.UpsertFollowUp(ctx, *fu); err != nil {
			return OutcomeSkipped, &domain.PersistenceError{Op: "cancel follow-up", Err: err}
		}
		return OutcomeCancelled, nil
	}
	if err != nil {
		return OutcomeSkipped, &domain.PersistenceError{Op: "load session", Err: err}
	}

	log := s.log.Session(sess.ID)
	if reason := staleReason(*sess, *fu); reason != "" {
		fu.Close(domain.FollowUpCancelled, now)
		s.clearPending(sess, fu.ID, now)
		if err := s.commit(ctx, *sess, nil, *fu); err != nil {
			return OutcomeSkipped, err
		}
		log.Info().Int("tier", fu.Tier).Str("reason", reason).Msg("follow-up cancelled")
		s.emit(ctx, hooks.EventFollowUpCancelled, map[string]any{"sessionId": sess.ID, "followUp": *fu, "reason": reason})
		return OutcomeCancelled, nil
	}

	if fu.Tier >= domain.FinalTier {
		return s.escalate(ctx, sess, fu, now)
	}
	return s.send(ctx, sess, fu, now)
}

// staleReason returns why a due follow-up must not fire, or "".
// LastInboundAt and CreatedAt are both taken from the process clock.
func staleReason(sess domain.Session, fu domain.FollowUp) string {
	switch {
	case sess.Mode != domain.ModeAuto:
		return "mode is " + string(sess.Mode)
	case sess.Stage == domain.StageSold:
		return "session sold"
	case sess.LastInboundAt.After(fu.CreatedAt):
		return "customer replied"
	case sess.PendingFollowUp != "" && sess.PendingFollowUp != fu.ID:
		return "superseded"
	}
	return ""
}

func (s *Scheduler) send(ctx context.Context, sess *domain.Session, fu *domain.FollowUp, now time.Time) (Outcome, error) {
	log := s.log.Session(sess.ID)
	text := fu.Template
	if text == "" {
		text = s.pol.FollowUpText(fu.Tier, sess.Facts)
	}

	dr := s.outbox.Send(ctx, sess.ID, text)
	if !dr.OK() {
		fu.Close(domain.FollowUpFailed, now)
		fu.Error = dr.Err.Error()
		s.clearPending(sess, fu.ID, now)
		sess.AppendNote(now, "follow-up tier %d failed: %v", fu.Tier, dr.Err)
		if err := s.commit(ctx, *sess, nil, *fu); err != nil {
			return OutcomeFailed, err
		}
		log.Warn().Err(dr.Err).Int("tier", fu.Tier).Msg("follow-up delivery failed")
		s.emit(ctx, hooks.EventFollowUpFailed, map[string]any{"sessionId": sess.ID, "followUp": *fu, "error": fu.Error})
		return OutcomeFailed, nil
	}

	fu.Close(domain.FollowUpSent, now)
	next := domain.FollowUp{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		Tier:        fu.Tier + 1,
		Status:      domain.FollowUpPending,
		Template:    s.pol.FollowUpText(fu.Tier+1, sess.Facts),
		ScheduledAt: fu.ScheduledAt.Add(s.pol.FollowUpDelay(fu.Tier + 1)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	msg := domain.Message{SessionID: sess.ID, Sender: domain.SenderBot, Text: text, Timestamp: now}
	sess.PendingFollowUp = next.ID
	sess.MessageCount++
	sess.LastMessageAt = now
	sess.UpdatedAt = now
	if err := s.commit(ctx, *sess, []domain.Message{msg}, *fu, next); err != nil {
		// Already delivered; the follow-up stays pending and may repeat.
		return OutcomeSent, err
	}

	log.Info().
		Int("tier", fu.Tier).
		Time("nextAt", next.ScheduledAt).
		Msg("follow-up sent")
	s.emit(ctx, hooks.EventFollowUpSent, map[string]any{"sessionId": sess.ID, "followUp": *fu})
	s.emit(ctx, hooks.EventMessageOutbound, map[string]any{"sessionId": sess.ID, "message": msg, "parts": dr.Sent})
	s.emit(ctx, hooks.EventFollowUpScheduled, map[string]any{"sessionId": sess.ID, "followUp": next})
	return OutcomeSent, nil
}

// escalate closes the cadence: no message, the session goes to an operator.
func (s *Scheduler) escalate(ctx context.Context, sess *domain.Session, fu *domain.FollowUp, now time.Time) (Outcome, error) {
	if err := s.modes.Escalate(sess); err != nil {
		return OutcomeSkipped, err
	}
	fu.Close(domain.FollowUpEscalated, now)
	s.clearPending(sess, fu.ID, now)
	sess.AppendNote(now, "no reply after %d follow-ups, escalated", fu.Tier-1)
	if err := s.commit(ctx, *sess, nil, *fu); err != nil {
		return OutcomeSkipped, err
	}

	s.log.Session(sess.ID).Info().Msg("follow-ups exhausted, session needs attention")
	s.emit(ctx, hooks.EventFollowUpEscalated, map[string]any{"sessionId": sess.ID, "followUp": *fu})
	s.emit(ctx, hooks.EventSessionUpdated, map[string]any{"sessionId": sess.ID, "session": *sess})
	return OutcomeEscalated, nil
}

func (s *Scheduler) clearPending(sess *domain.Session, id string, now time.Time) {
	if sess.PendingFollowUp == id {
		sess.PendingFollowUp = ""
	}
	sess.UpdatedAt = now
}

func (s *Scheduler) commit(ctx context.Context, sess domain.Session, msgs []domain.Message, fus ...domain.FollowUp) error {
	err := s.store.Commit(ctx, store.Turn{Session: sess, Messages: msgs, FollowUps: fus})
	if err != nil {
		return &domain.PersistenceError{Op: "commit follow-up", Err: err}
	}
	return nil
}

func (s *Scheduler) emit(ctx context.Context, event string, data map[string]any) {
	if s.hooks != nil {
		s.hooks.Emit(context.WithoutCancel(ctx), event, data)
	}
}

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct{ log *logging.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

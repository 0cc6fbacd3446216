// Package agent runs conversation turns: it reads signals for each inbound
// message, routes the turn, commits the result and delivers the reply. It
// also applies operator actions under the same per-session lock.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/closer/internal/channel"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/extract"
	"github.com/soyeahso/closer/internal/hooks"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/soyeahso/closer/internal/mode"
	"github.com/soyeahso/closer/internal/policy"
	"github.com/soyeahso/closer/internal/routing"
	"github.com/soyeahso/closer/internal/signals"
	"github.com/soyeahso/closer/internal/store"
)

// Outbox delivers a reply to a session's channel.
type Outbox interface {
	Send(ctx context.Context, sessionID, content string) channel.DeliveryResult
}

// Knowledge finds reference snippets for the reply prompt.
type Knowledge interface {
	Search(ctx context.Context, text string, limit int) ([]store.Chunk, error)
}

// Options tunes the orchestrator.
type Options struct {
	// Timeout bounds each classification and extraction call.
	Timeout time.Duration
	// ReplyTimeout bounds reply generation.
	ReplyTimeout time.Duration
	// Scope is the session scope ("per-sender" or "global").
	Scope string
	// HistoryLimit is how many prior messages providers see.
	HistoryLimit int
	// KnowledgeLimit is how many snippets are added to the reply context.
	KnowledgeLimit int
	// Now overrides the clock.
	Now func() time.Time
}

// Deps are the collaborators of an Orchestrator. Knowledge and Hooks may be
// nil.
type Deps struct {
	Store     store.Store
	Signals   signals.Provider
	Outbox    Outbox
	Policy    *policy.Policy
	Locks     *LockTable
	Hooks     *hooks.Manager
	Knowledge Knowledge
}

// TurnResult describes one processed inbound message.
type TurnResult struct {
	SessionID string                  `json:"sessionId"`
	Session   domain.Session          `json:"session"`
	Decision  routing.Decision        `json:"decision"`
	Reply     string                  `json:"reply,omitempty"`
	Delivery  *channel.DeliveryResult `json:"delivery,omitempty"`
	Outcomes  []extract.Outcome       `json:"outcomes,omitempty"`
	FollowUp  *domain.FollowUp        `json:"followUp,omitempty"`
	Cancelled *domain.FollowUp        `json:"cancelled,omitempty"`
	Summary   string                  `json:"summary,omitempty"`
	Degraded  []string                `json:"degraded,omitempty"`
	Duration  time.Duration           `json:"duration"`
}

// Delivered reports whether a reply went out in full.
func (r *TurnResult) Delivered() bool {
	return r.Delivery != nil && r.Delivery.OK() && r.Delivery.Sent > 0
}

// Orchestrator processes turns and operator actions.
type Orchestrator struct {
	store     store.Store
	signals   signals.Provider
	outbox    Outbox
	pol       *policy.Policy
	locks     *LockTable
	hooks     *hooks.Manager
	knowledge Knowledge

	router    *routing.Router
	modes     *mode.Controller
	validator *extract.Validator

	opts Options
	now  func() time.Time
	log  *logging.Logger
}

// New creates an orchestrator.
func New(deps Deps, opts Options, log *logging.Logger) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 20 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if opts.KnowledgeLimit <= 0 {
		opts.KnowledgeLimit = 3
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	locks := deps.Locks
	if locks == nil {
		locks = NewLockTable()
	}
	return &Orchestrator{
		store:     deps.Store,
		signals:   deps.Signals,
		outbox:    deps.Outbox,
		pol:       deps.Policy,
		locks:     locks,
		hooks:     deps.Hooks,
		knowledge: deps.Knowledge,
		router:    routing.NewRouter(deps.Policy),
		modes:     mode.NewController(),
		validator: extract.NewValidator(deps.Policy),
		opts:      opts,
		now:       now,
		log:       log.Sub("agent"),
	}
}

// Locks returns the per-session lock table shared with the scheduler.
func (o *Orchestrator) Locks() *LockTable { return o.locks }

// HandleInbound runs one turn for msg. A *domain.PersistenceError means
// nothing from the turn was stored and nothing was sent. Provider faults
// never fail the turn.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg domain.InboundMessage) (*TurnResult, error) {
	start := o.now()
	key := routing.ResolveSessionKey(msg, o.opts.Scope)
	id := routing.SessionID(key)

	unlock, err := o.locks.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", id, err)
	}
	defer unlock()

	sess, first, err := o.loadOrCreate(ctx, id, key)
	if err != nil {
		return nil, err
	}

	at := msg.Timestamp
	if at.IsZero() {
		at = start
	}
	userMsg := domain.Message{SessionID: id, Sender: domain.SenderUser, Text: msg.Body, Timestamp: at}
	sess.MessageCount++
	sess.LastMessageAt = at
	// Receipt time on the process clock, which the scheduler compares
	// against follow-up creation. Channel timestamps may be skewed.
	sess.LastInboundAt = start

	res := &TurnResult{SessionID: id}
	turn := store.Turn{Messages: []domain.Message{userMsg}}

	// Every inbound message resets the follow-up cadence.
	cancelled, err := o.cancelPending(ctx, &sess, start)
	if err != nil {
		return nil, err
	}
	if cancelled != nil {
		res.Cancelled = cancelled
		turn.FollowUps = append(turn.FollowUps, *cancelled)
	}

	history, err := o.store.Messages(ctx, id, o.opts.HistoryLimit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load history", Err: err}
	}
	history = append(history, userMsg)

	log := o.log.Session(id)

	if sess.Mode != domain.ModeAuto {
		res.Decision = o.router.Route(routing.Input{Session: sess, Text: msg.Body})
		sess.UpdatedAt = start
		turn.Session = sess
		if err := o.commit(ctx, turn); err != nil {
			return nil, err
		}
		res.Session = sess
		res.Duration = o.now().Sub(start)
		log.Info().Str("mode", string(sess.Mode)).Msg("message queued for operator")
		o.emit(ctx, hooks.EventMessageReceived, map[string]any{"sessionId": id, "message": userMsg})
		o.emit(ctx, hooks.EventOperatorQueued, map[string]any{"sessionId": id, "mode": sess.Mode, "message": userMsg})
		o.emitCancelled(ctx, cancelled)
		return res, nil
	}

	sc := signals.Context{Session: sess, History: history}
	res.Outcomes = o.readSignals(ctx, &sess, msg.Body, sc, start, res)

	if o.pol.HumanRequest.Match(msg.Body) {
		sess.RequestsHuman = true
	}
	sess.Stage = sess.Stage.Advance(stageFor(sess))

	d := o.router.Route(routing.Input{Session: sess, Text: msg.Body, FirstTurn: first})
	res.Decision = d
	log.Debug().
		Str("rule", d.Rule).
		Str("handler", string(d.Handler)).
		Float64("intent", sess.IntentScore).
		Str("sentiment", string(sess.Sentiment)).
		Int("negativeStreak", sess.ConsecutiveNegative).
		Msg("turn routed")

	if err := o.applyHandler(&sess, d.Handler, at); err != nil {
		return nil, err
	}
	if d.Handler == routing.HandlerFollowUp {
		fu := o.newFollowUp(sess, 1, at.Add(o.pol.FollowUpDelay(1)), start)
		sess.PendingFollowUp = fu.ID
		res.FollowUp = &fu
		turn.FollowUps = append(turn.FollowUps, fu)
	}

	sc.Session = sess
	sc.Welcome = d.Welcome
	reply := o.reply(ctx, &sess, msg.Body, sc, d, start, res)

	now := o.now()
	botMsg := domain.Message{SessionID: id, Sender: domain.SenderBot, Text: reply, Timestamp: now}
	if reply != "" {
		sess.MessageCount++
		sess.LastMessageAt = now
		turn.Messages = append(turn.Messages, botMsg)
		sc.History = append(history, botMsg)
	}
	if d.Handler == routing.HandlerPayment || d.Handler == routing.HandlerFollowUp {
		o.summarize(ctx, &sess, sc, now, res)
	}
	sess.UpdatedAt = now
	turn.Session = sess

	if err := o.commit(ctx, turn); err != nil {
		log.Error().Err(err).Msg("turn not committed, reply dropped")
		return nil, err
	}
	res.Session = sess
	res.Reply = reply

	if reply != "" {
		dr := o.outbox.Send(ctx, id, reply)
		res.Delivery = &dr
		if dr.OK() {
			o.emit(ctx, hooks.EventMessageOutbound, map[string]any{"sessionId": id, "message": botMsg, "parts": dr.Sent})
		} else {
			log.Warn().Err(dr.Err).Int("sent", dr.Sent).Msg("reply delivery failed")
			o.emit(ctx, hooks.EventDeliveryFailed, map[string]any{"sessionId": id, "error": dr.Err.Error(), "sent": dr.Sent})
		}
	}

	o.emit(ctx, hooks.EventMessageReceived, map[string]any{"sessionId": id, "message": userMsg})
	o.emit(ctx, hooks.EventSessionUpdated, map[string]any{"sessionId": id, "session": sess})
	o.emitCancelled(ctx, cancelled)
	switch d.Handler {
	case routing.HandlerHandoff, routing.HandlerDeescalate:
		o.emit(ctx, hooks.EventHandoffRequested, map[string]any{"sessionId": id, "handler": d.Handler, "session": sess})
	case routing.HandlerFollowUp:
		o.emit(ctx, hooks.EventFollowUpScheduled, map[string]any{"sessionId": id, "followUp": *res.FollowUp})
	}

	res.Duration = o.now().Sub(start)
	log.Info().
		Str("handler", string(d.Handler)).
		Str("stage", string(sess.Stage)).
		Str("mode", string(sess.Mode)).
		Dur("duration", res.Duration).
		Msg("turn complete")
	return res, nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, id string, key domain.SessionKey) (domain.Session, bool, error) {
	sess, err := o.store.LoadSession(ctx, id)
	switch {
	case err == nil:
		return *sess, sess.MessageCount == 0, nil
	case errors.Is(err, domain.ErrNotFound):
		return domain.NewSession(id, key, o.now()), true, nil
	default:
		return domain.Session{}, false, &domain.PersistenceError{Op: "load session", Err: err}
	}
}

// cancelPending closes the session's pending follow-up, if any.
func (o *Orchestrator) cancelPending(ctx context.Context, sess *domain.Session, now time.Time) (*domain.FollowUp, error) {
	if sess.PendingFollowUp == "" {
		return nil, nil
	}
	ref := sess.PendingFollowUp
	sess.PendingFollowUp = ""

	fu, err := o.store.GetFollowUp(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load follow-up", Err: err}
	}
	if !fu.Pending() {
		return nil, nil
	}
	fu.Close(domain.FollowUpCancelled, now)
	return fu, nil
}

// readSignals updates intent, sentiment and facts. A failing provider keeps
// the prior value and leaves a note.
func (o *Orchestrator) readSignals(ctx context.Context, sess *domain.Session, text string, sc signals.Context, now time.Time, res *TurnResult) []extract.Outcome {
	var (
		intent       float64
		sentiment    domain.Sentiment
		intentErr    error
		sentimentErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
		intent, intentErr = o.signals.ClassifyIntent(cctx, text, sc)
		intentErr = external("intent", intentErr)
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
		sentiment, sentimentErr = o.signals.ClassifySentiment(cctx, text, sc)
		sentimentErr = external("sentiment", sentimentErr)
		return nil
	})
	_ = g.Wait()

	if intentErr != nil {
		o.degrade(sess, now, res, intentErr)
	} else {
		sess.SetIntentScore(intent)
	}
	if sentimentErr != nil {
		o.degrade(sess, now, res, sentimentErr)
	} else {
		sess.ObserveSentiment(sentiment)
	}

	cctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	candidates, err := o.signals.ExtractFacts(cctx, text, sc)
	if err := external("extract", err); err != nil {
		o.degrade(sess, now, res, err)
		return nil
	}

	merged, outcomes := o.validator.Merge(sess.Facts, candidates)
	sess.Facts = merged
	for _, out := range outcomes {
		if !out.Accepted {
			o.log.Debug().
				Str("sessionId", sess.ID).
				Str("field", string(out.Field)).
				Str("reason", out.Reason).
				Msg("candidate fact rejected")
		}
	}
	return outcomes
}

// reply generates the bot text for the handler, falling back to the
// configured text when the provider fails. The handoff acknowledgement is
// always the configured text.
func (o *Orchestrator) reply(ctx context.Context, sess *domain.Session, text string, sc signals.Context, d routing.Decision, now time.Time, res *TurnResult) string {
	if d.Handler == routing.HandlerHandoff {
		return o.fallbackReply(d, sess.Facts)
	}
	sc.Knowledge = o.lookupKnowledge(ctx, sess.ID, text)

	rctx, cancel := context.WithTimeout(ctx, o.opts.ReplyTimeout)
	defer cancel()
	reply, err := o.signals.GenerateReply(rctx, sc, d.Handler)
	if err == nil && reply == "" {
		err = errors.New("empty reply")
	}
	if err := external("reply", err); err != nil {
		o.degrade(sess, now, res, err)
		reply = o.fallbackReply(d, sess.Facts)
	}
	if d.Handler == routing.HandlerPayment {
		reply = o.withPaymentLink(reply)
	}
	return reply
}

// summarize appends a conversation summary to the notes. A failing
// provider leaves a note instead.
func (o *Orchestrator) summarize(ctx context.Context, sess *domain.Session, sc signals.Context, now time.Time, res *TurnResult) {
	sc.Session = *sess
	sctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	summary, err := o.signals.Summarize(sctx, sc)
	if err == nil && strings.TrimSpace(summary) == "" {
		err = errors.New("empty summary")
	}
	if err := external("summary", err); err != nil {
		o.degrade(sess, now, res, err)
		return
	}
	res.Summary = strings.TrimSpace(summary)
	sess.AppendNote(now, "summary: %s", res.Summary)
}

func (o *Orchestrator) lookupKnowledge(ctx context.Context, sessionID, text string) []string {
	if o.knowledge == nil {
		return nil
	}
	kctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	chunks, err := o.knowledge.Search(kctx, text, o.opts.KnowledgeLimit)
	if err != nil {
		o.log.Warn().Err(err).Str("sessionId", sessionID).Msg("knowledge lookup failed")
		return nil
	}
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.Content)
	}
	return out
}

func (o *Orchestrator) degrade(sess *domain.Session, now time.Time, res *TurnResult, err error) {
	sess.AppendNote(now, "%v", err)
	res.Degraded = append(res.Degraded, err.Error())
	o.log.Warn().Err(err).Str("sessionId", sess.ID).Msg("provider degraded")
}

func (o *Orchestrator) newFollowUp(sess domain.Session, tier int, at, now time.Time) domain.FollowUp {
	return domain.FollowUp{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		Tier:        tier,
		Status:      domain.FollowUpPending,
		Template:    o.pol.FollowUpText(tier, sess.Facts),
		ScheduledAt: at,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (o *Orchestrator) commit(ctx context.Context, turn store.Turn) error {
	if err := o.store.Commit(ctx, turn); err != nil {
		return &domain.PersistenceError{Op: "commit turn", Err: err}
	}
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, event string, data map[string]any) {
	if o.hooks == nil {
		return
	}
	o.hooks.Emit(context.WithoutCancel(ctx), event, data)
}

func (o *Orchestrator) emitCancelled(ctx context.Context, fu *domain.FollowUp) {
	if fu != nil {
		o.emit(ctx, hooks.EventFollowUpCancelled, map[string]any{"sessionId": fu.SessionID, "followUp": *fu})
	}
}

// external wraps a provider error, leaving nil alone.
func external(op string, err error) error {
	if err == nil {
		return nil
	}
	var ext *domain.ExternalCallError
	if errors.As(err, &ext) {
		return err
	}
	return &domain.ExternalCallError{Op: op, Err: err}
}

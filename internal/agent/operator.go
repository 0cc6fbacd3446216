package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/closer/internal/channel"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/hooks"
	"github.com/soyeahso/closer/internal/store"
)

// ErrEmptyReply is returned when an operator reply has no text.
var ErrEmptyReply = errors.New("reply text is empty")

// SetMode moves a session to the requested mode on behalf of the operator.
// It leaves RequestsHuman and the negative streak alone, so a session moved
// from NEEDS_ATTENTION back to AUTO escalates again on the next message.
// Use ResolveHandoff to close a handoff.
func (o *Orchestrator) SetMode(ctx context.Context, id string, to domain.Mode) (*domain.Session, error) {
	return o.update(ctx, id, func(sess *domain.Session) error {
		from := sess.Mode
		if err := o.modes.Transition(sess, to, domain.ActorOperator); err != nil {
			return err
		}
		sess.AppendNote(o.now(), "operator set mode %s -> %s", from, to)
		return nil
	})
}

// ResolveHandoff clears the human request and the negative streak and hands
// an escalated session back to automation.
func (o *Orchestrator) ResolveHandoff(ctx context.Context, id string) (*domain.Session, error) {
	return o.update(ctx, id, func(sess *domain.Session) error {
		if sess.Mode == domain.ModeNeedsAttention {
			if err := o.modes.Transition(sess, domain.ModeAuto, domain.ActorOperator); err != nil {
				return err
			}
		}
		sess.RequestsHuman = false
		sess.ConsecutiveNegative = 0
		sess.AppendNote(o.now(), "operator resolved handoff")
		return nil
	})
}

// SetStage overrides the stage. It is the only way a stage moves backwards.
func (o *Orchestrator) SetStage(ctx context.Context, id string, stage domain.Stage) (*domain.Session, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	return o.update(ctx, id, func(sess *domain.Session) error {
		if sess.Stage != stage {
			sess.AppendNote(o.now(), "operator set stage %s -> %s", sess.Stage, stage)
		}
		sess.Stage = stage
		return nil
	})
}

// OperatorReply records a message written by the operator and delivers it.
// The session's mode is not changed.
func (o *Orchestrator) OperatorReply(ctx context.Context, id, text string) (channel.DeliveryResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return channel.DeliveryResult{SessionID: id}, ErrEmptyReply
	}

	unlock, err := o.locks.Lock(ctx, id)
	if err != nil {
		return channel.DeliveryResult{SessionID: id}, err
	}
	defer unlock()

	sess, err := o.load(ctx, id)
	if err != nil {
		return channel.DeliveryResult{SessionID: id}, err
	}

	now := o.now()
	msg := domain.Message{SessionID: id, Sender: domain.SenderOperator, Text: text, Timestamp: now}
	sess.MessageCount++
	sess.LastMessageAt = now
	sess.UpdatedAt = now
	if err := o.commit(ctx, store.Turn{Session: *sess, Messages: []domain.Message{msg}}); err != nil {
		return channel.DeliveryResult{SessionID: id}, err
	}

	res := o.outbox.Send(ctx, id, text)
	if !res.OK() {
		o.log.Warn().Err(res.Err).Str("sessionId", id).Msg("operator reply delivery failed")
		o.emit(ctx, hooks.EventDeliveryFailed, map[string]any{"sessionId": id, "error": res.Err.Error(), "sent": res.Sent})
		return res, res.Err
	}
	o.emit(ctx, hooks.EventMessageOutbound, map[string]any{"sessionId": id, "message": msg, "parts": res.Sent})
	return res, nil
}

// update loads a session under its lock, applies fn and saves the result.
// When fn fails nothing is written.
func (o *Orchestrator) update(ctx context.Context, id string, fn func(*domain.Session) error) (*domain.Session, error) {
	unlock, err := o.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	sess.UpdatedAt = o.now()
	if err := o.store.SaveSession(ctx, *sess); err != nil {
		return nil, &domain.PersistenceError{Op: "save session", Err: err}
	}

	o.log.Info().
		Str("sessionId", id).
		Str("mode", string(sess.Mode)).
		Str("stage", string(sess.Stage)).
		Msg("session updated by operator")
	o.emit(ctx, hooks.EventSessionUpdated, map[string]any{"sessionId": id, "session": *sess})
	return sess, nil
}

func (o *Orchestrator) load(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := o.store.LoadSession(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load session", Err: err}
	}
	return sess, nil
}

package agent

import (
	"strings"
	"time"

	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/policy"
	"github.com/soyeahso/closer/internal/routing"
)

// stageFor is the stage the session's facts justify before routing. Stages
// only move forward from here; the handler may advance further.
func stageFor(sess domain.Session) domain.Stage {
	if sess.Facts.Needs != "" || sess.Facts.PainPoints != "" {
		return domain.StageNurturing
	}
	return domain.StageQualifying
}

// applyHandler performs the state side effects of a routed handler.
func (o *Orchestrator) applyHandler(sess *domain.Session, handler routing.HandlerKind, at time.Time) error {
	switch handler {
	case routing.HandlerHandoff:
		if err := o.modes.Escalate(sess); err != nil {
			return err
		}
		sess.AppendNote(at, "handoff requested by customer")
	case routing.HandlerDeescalate:
		if err := o.modes.Escalate(sess); err != nil {
			return err
		}
		sess.AppendNote(at, "escalated after %d negative turns", sess.ConsecutiveNegative)
	case routing.HandlerPayment, routing.HandlerClosing:
		sess.Stage = sess.Stage.Advance(domain.StageClosing)
	}
	return nil
}

// fallbackReply is the configured text used when reply generation fails.
func (o *Orchestrator) fallbackReply(d routing.Decision, facts domain.Facts) string {
	r := o.pol.Replies
	switch d.Handler {
	case routing.HandlerHandoff:
		return policy.FillName(r.Handoff, facts.Name)
	case routing.HandlerPayment:
		return o.pol.PaymentReply(facts.Name)
	case routing.HandlerClosing:
		return policy.FillName(r.Closing, facts.Name)
	case routing.HandlerDeescalate:
		return policy.FillName(r.Deescalation, facts.Name)
	case routing.HandlerFollowUp:
		return policy.FillName(r.FollowUp, facts.Name)
	}
	if d.Welcome {
		return policy.FillName(r.Welcome, facts.Name)
	}
	return policy.FillName(r.Conversation, facts.Name)
}

// withPaymentLink makes sure a payment reply carries the link.
func (o *Orchestrator) withPaymentLink(reply string) string {
	link := o.pol.PaymentLink
	if link == "" || strings.Contains(reply, link) {
		return reply
	}
	sep := " "
	if o.pol.PartSeparator != "" {
		sep = " " + o.pol.PartSeparator + " "
	}
	return strings.TrimSpace(reply) + sep + link
}

// Package routing selects the reply strategy for each turn and feeds
// channel traffic to the orchestrator in per-session order.
package routing

import (
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/policy"
)

// HandlerKind names a reply strategy.
type HandlerKind string

const (
	HandlerManual       HandlerKind = "manual"
	HandlerHandoff      HandlerKind = "handoff"
	HandlerPayment      HandlerKind = "payment"
	HandlerClosing      HandlerKind = "closing"
	HandlerDeescalate   HandlerKind = "deescalate"
	HandlerFollowUp     HandlerKind = "followup"
	HandlerConversation HandlerKind = "conversation"
)

// Automated reports whether the handler may produce bot output.
func (k HandlerKind) Automated() bool { return k != HandlerManual }

// Input is the snapshot a routing decision is made on. Session carries this
// turn's fresh signals.
type Input struct {
	Session   domain.Session
	Text      string
	FirstTurn bool
}

// Rule pairs a condition with the handler it selects.
type Rule struct {
	Name    string
	Handler HandlerKind
	Match   func(p *policy.Policy, in Input) bool
}

// Rules is the priority-ordered routing table. The first match wins and the
// last rule always matches.
var Rules = []Rule{
	{
		Name:    "not-automated",
		Handler: HandlerManual,
		Match: func(_ *policy.Policy, in Input) bool {
			return in.Session.Mode != domain.ModeAuto
		},
	},
	{
		Name:    "human-requested",
		Handler: HandlerHandoff,
		Match: func(_ *policy.Policy, in Input) bool {
			return in.Session.RequestsHuman
		},
	},
	{
		Name:    "ready-to-buy",
		Handler: HandlerPayment,
		Match: func(p *policy.Policy, in Input) bool {
			return in.Session.IntentScore >= p.PaymentThreshold || p.Purchase.Match(in.Text)
		},
	},
	{
		Name:    "interested",
		Handler: HandlerClosing,
		Match: func(p *policy.Policy, in Input) bool {
			return in.Session.IntentScore >= p.ClosingThreshold
		},
	},
	{
		Name:    "negative-streak",
		Handler: HandlerDeescalate,
		Match: func(p *policy.Policy, in Input) bool {
			return in.Session.ConsecutiveNegative >= p.NegativeStreak
		},
	},
	{
		Name:    "disengaging",
		Handler: HandlerFollowUp,
		Match: func(p *policy.Policy, in Input) bool {
			return p.Disengagement.Match(in.Text)
		},
	},
	{
		Name:    "default",
		Handler: HandlerConversation,
		Match:   func(*policy.Policy, Input) bool { return true },
	},
}

// Decision is the outcome of routing one turn.
type Decision struct {
	Rule    string      `json:"rule"`
	Handler HandlerKind `json:"handler"`
	// Welcome marks the conversation handler's first-turn variant.
	Welcome bool `json:"welcome,omitempty"`
}

// Router evaluates a rule table against a policy.
type Router struct {
	pol   *policy.Policy
	rules []Rule
}

// NewRouter returns a router over Rules.
func NewRouter(p *policy.Policy) *Router {
	return &Router{pol: p, rules: Rules}
}

// Route returns exactly one decision for the input.
func (r *Router) Route(in Input) Decision {
	for _, rule := range r.rules {
		if rule.Match(r.pol, in) {
			d := Decision{Rule: rule.Name, Handler: rule.Handler}
			if rule.Handler == HandlerConversation && in.FirstTurn {
				d.Welcome = true
			}
			return d
		}
	}
	// Unreachable with Rules; custom tables may omit a catch-all.
	return Decision{Rule: "default", Handler: HandlerConversation, Welcome: in.FirstTurn}
}

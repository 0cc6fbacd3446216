// Package mode guards the AUTO / MANUAL / NEEDS_ATTENTION automation gate.
package mode

import (
	"time"

	"github.com/soyeahso/closer/internal/domain"
)

// Edge is an allowed transition and the actor that may request it.
type Edge struct {
	From  domain.Mode
	To    domain.Mode
	Actor domain.Actor
}

// Edges is the complete set of allowed transitions. Everything else is
// rejected.
var Edges = []Edge{
	{domain.ModeAuto, domain.ModeManual, domain.ActorOperator},
	{domain.ModeManual, domain.ModeAuto, domain.ActorOperator},
	{domain.ModeAuto, domain.ModeNeedsAttention, domain.ActorSystem},
	{domain.ModeNeedsAttention, domain.ModeAuto, domain.ActorOperator},
}

// Controller applies mode transitions to sessions.
type Controller struct {
	edges map[Edge]bool
	now   func() time.Time
}

// NewController returns a controller over Edges.
func NewController() *Controller {
	c := &Controller{edges: make(map[Edge]bool, len(Edges)), now: time.Now}
	for _, e := range Edges {
		c.edges[e] = true
	}
	return c
}

// Allowed reports whether actor may move a session from one mode to another.
func (c *Controller) Allowed(from, to domain.Mode, actor domain.Actor) bool {
	return c.edges[Edge{from, to, actor}]
}

// Transition moves sess to the requested mode. A disallowed edge returns a
// *domain.ModeTransitionError and leaves sess untouched.
func (c *Controller) Transition(sess *domain.Session, to domain.Mode, actor domain.Actor) error {
	if !c.Allowed(sess.Mode, to, actor) {
		return &domain.ModeTransitionError{From: sess.Mode, To: to, Actor: actor}
	}
	sess.Mode = to
	sess.UpdatedAt = c.now()
	return nil
}

// Escalate requests the system edge to NEEDS_ATTENTION.
func (c *Controller) Escalate(sess *domain.Session) error {
	return c.Transition(sess, domain.ModeNeedsAttention, domain.ActorSystem)
}

package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/logging"
)

// SessionLookup resolves where a session's replies go.
type SessionLookup interface {
	LoadSession(ctx context.Context, id string) (*domain.Session, error)
}

// DeliveryResult reports one Send. Err is a *domain.DispatchError when any
// part failed; parts after a failure are not attempted.
type DeliveryResult struct {
	SessionID string   `json:"sessionId"`
	ChannelID string   `json:"channelId,omitempty"`
	Parts     []string `json:"parts"`
	Sent      int      `json:"sent"`
	Err       error    `json:"-"`
}

// OK reports whether every part was delivered.
func (r DeliveryResult) OK() bool { return r.Err == nil }

// OutboxOptions tunes pacing.
type OutboxOptions struct {
	// Split turns a reply into the parts actually sent. Nil sends the
	// content as one part.
	Split func(string) []string
	// PartDelay separates consecutive parts of one reply.
	PartDelay time.Duration
	// Rate and Burst cap messages per second per channel. Zero disables
	// the cap.
	Rate  float64
	Burst int
}

// Outbox delivers bot replies to a session's channel, splitting them into
// parts and pacing them.
type Outbox struct {
	channels *Registry
	sessions SessionLookup
	opts     OutboxOptions
	log      *logging.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewOutbox creates an outbox.
func NewOutbox(channels *Registry, sessions SessionLookup, opts OutboxOptions, log *logging.Logger) *Outbox {
	return &Outbox{
		channels: channels,
		sessions: sessions,
		opts:     opts,
		log:      log.Sub("outbox"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Send delivers content to the session. It never retries.
func (o *Outbox) Send(ctx context.Context, sessionID, content string) DeliveryResult {
	res := DeliveryResult{SessionID: sessionID, Parts: o.split(content)}
	if len(res.Parts) == 0 {
		return res
	}

	sess, err := o.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		res.Err = &domain.DispatchError{SessionID: sessionID, Err: err}
		return res
	}
	res.ChannelID = sess.Key.ChannelID

	pace := o.pacer()
	for i, part := range res.Parts {
		if err := o.wait(ctx, res.ChannelID, pace); err != nil {
			res.Err = &domain.DispatchError{SessionID: sessionID, ChannelID: res.ChannelID, Err: err}
			return res
		}
		err := o.channels.Send(ctx, domain.OutboundMessage{
			ChannelID: res.ChannelID,
			SessionID: sessionID,
			To:        sess.Key.Target(),
			Body:      part,
		})
		if err != nil {
			res.Err = &domain.DispatchError{
				SessionID: sessionID,
				ChannelID: res.ChannelID,
				Err:       fmt.Errorf("part %d/%d: %w", i+1, len(res.Parts), err),
			}
			o.log.Warn().Err(err).
				Str("sessionId", sessionID).
				Str("channel", res.ChannelID).
				Int("part", i+1).
				Msg("delivery failed")
			return res
		}
		res.Sent++
	}

	o.log.Debug().
		Str("sessionId", sessionID).
		Str("channel", res.ChannelID).
		Int("parts", res.Sent).
		Msg("reply delivered")
	return res
}

func (o *Outbox) split(content string) []string {
	if o.opts.Split != nil {
		return o.opts.Split(content)
	}
	if content == "" {
		return nil
	}
	return []string{content}
}

// pacer spaces the parts of one reply. The first part passes immediately.
func (o *Outbox) pacer() *rate.Limiter {
	if o.opts.PartDelay <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(o.opts.PartDelay), 1)
}

func (o *Outbox) wait(ctx context.Context, channelID string, pace *rate.Limiter) error {
	if pace != nil {
		if err := pace.Wait(ctx); err != nil {
			return err
		}
	}
	if lim := o.limiter(channelID); lim != nil {
		return lim.Wait(ctx)
	}
	return nil
}

func (o *Outbox) limiter(channelID string) *rate.Limiter {
	if o.opts.Rate <= 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	lim, ok := o.limiters[channelID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(o.opts.Rate), max(o.opts.Burst, 1))
		o.limiters[channelID] = lim
	}
	return lim
}

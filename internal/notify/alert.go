package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/hooks"
	"github.com/soyeahso/closer/internal/logging"
	"golang.org/x/time/rate"
)

// Alert tells an operator on a messaging channel when a conversation needs
// a human. Bursts beyond the limiter are dropped and logged.
type Alert struct {
	cfg     config.AlertConfig
	limiter *rate.Limiter

	hooks  *hooks.Manager
	sender Sender
	log    *logging.Logger
}

// NewAlert creates an alert notifier. An empty Events list uses
// config.DefaultAlertEvents.
func NewAlert(cfg config.AlertConfig) *Alert {
	if len(cfg.Events) == 0 {
		cfg.Events = config.DefaultAlertEvents()
	}
	return &Alert{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(6*time.Second), 5),
	}
}

func (a *Alert) ID() string { return "alert" }

func (a *Alert) Init(_ context.Context, api API) error {
	if api.Sender == nil {
		return fmt.Errorf("alert notifier needs a sender")
	}
	a.hooks, a.sender, a.log = api.Hooks, api.Sender, api.Log
	for _, ev := range a.cfg.Events {
		a.hooks.On(ev, a.ID(), a.notify)
	}
	return nil
}

func (a *Alert) notify(ctx context.Context, p hooks.Payload) error {
	if !a.limiter.Allow() {
		a.log.Warn().Str("event", p.Event).Msg("alert dropped: rate limited")
		return nil
	}
	return a.sender.Send(ctx, domain.OutboundMessage{
		ChannelID: a.cfg.Channel,
		To:        a.cfg.To,
		Body:      alertText(p),
	})
}

// alertText renders a one-line summary of an event.
func alertText(p hooks.Payload) string {
	var b strings.Builder
	b.WriteString("[closer] ")
	b.WriteString(p.Event)
	if id, ok := p.Data["sessionId"].(string); ok {
		b.WriteString(" session=")
		b.WriteString(id)
	}
	if h, ok := p.Data["handler"]; ok {
		fmt.Fprintf(&b, " handler=%v", h)
	}
	if reason, ok := p.Data["reason"].(string); ok && reason != "" {
		b.WriteString(" reason=")
		b.WriteString(reason)
	}
	if msg, ok := p.Data["message"].(domain.Message); ok && msg.Text != "" {
		fmt.Fprintf(&b, " last=%q", clip(msg.Text, 80))
	}
	if errText, ok := p.Data["error"].(string); ok && errText != "" {
		b.WriteString(" error=")
		b.WriteString(errText)
	}
	return b.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (a *Alert) Close() error {
	if a.hooks == nil {
		return nil
	}
	for _, ev := range a.cfg.Events {
		a.hooks.Off(ev, a.ID())
	}
	return nil
}

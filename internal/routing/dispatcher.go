package routing

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/closer/internal/channel"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/logging"
)

// HandleFunc processes one inbound message.
type HandleFunc func(ctx context.Context, msg domain.InboundMessage) error

// Dispatcher feeds channel messages to a HandleFunc. Messages for the same
// session are handled one at a time in arrival order; different sessions run
// concurrently.
type Dispatcher struct {
	channels *channel.Registry
	handle   HandleFunc
	scope    string
	log      *logging.Logger

	mu      sync.Mutex
	boxes   map[string][]domain.InboundMessage
	closed  bool
	wg      sync.WaitGroup
	baseCtx context.Context
}

// NewDispatcher creates a dispatcher. scope groups messages into sessions
// the same way the orchestrator does.
func NewDispatcher(channels *channel.Registry, handle HandleFunc, scope string, log *logging.Logger) *Dispatcher {
	if scope == "" {
		scope = ScopePerSender
	}
	return &Dispatcher{
		channels: channels,
		handle:   handle,
		scope:    scope,
		log:      log.Sub("routing"),
		boxes:    make(map[string][]domain.InboundMessage),
		baseCtx:  context.Background(),
	}
}

// Wire registers the dispatcher as the message handler on all channels.
// Handlers run with ctx.
func (d *Dispatcher) Wire(ctx context.Context) {
	d.mu.Lock()
	d.baseCtx = ctx
	d.mu.Unlock()

	for _, id := range d.channels.List() {
		ch, ok := d.channels.Get(id)
		if !ok {
			continue
		}
		ch.OnMessage(d.Enqueue)
		d.log.Debug().Str("channel", id).Msg("wired message handler")
	}
}

// Enqueue adds msg to its session's mailbox, starting a drain goroutine if
// none is running. It never blocks on message handling.
func (d *Dispatcher) Enqueue(msg domain.InboundMessage) {
	key := SessionID(ResolveSessionKey(msg, d.scope))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Warn().Str("sessionId", key).Msg("dispatcher closed, dropping message")
		return
	}

	queue, running := d.boxes[key]
	d.boxes[key] = append(queue, msg)
	if !running {
		d.wg.Add(1)
		go d.drain(d.baseCtx, key)
	}
}

// drain handles queued messages for one session until its mailbox is empty.
// An existing map entry marks a running drain.
func (d *Dispatcher) drain(ctx context.Context, key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.boxes[key]
		if len(queue) == 0 {
			delete(d.boxes, key)
			d.mu.Unlock()
			return
		}
		msg := queue[0]
		d.boxes[key] = queue[1:]
		d.mu.Unlock()

		d.handleOne(ctx, key, msg)
	}
}

func (d *Dispatcher) handleOne(ctx context.Context, key string, msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("sessionId", key).
				Str("panic", fmt.Sprint(r)).
				Msg("message handler panicked")
		}
	}()

	d.log.Info().
		Str("channel", msg.ChannelID).
		Str("from", msg.From).
		Str("chatId", msg.ChatID).
		Str("chatType", string(msg.ChatType)).
		Msg("routing inbound message")

	if err := d.handle(ctx, msg); err != nil {
		d.log.Error().Err(err).
			Str("sessionId", key).
			Str("channel", msg.ChannelID).
			Msg("inbound message not processed")
	}
}

// Pending returns the number of queued, not yet started messages.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.boxes {
		n += len(q)
	}
	return n
}

// Close stops accepting messages and waits for queued ones to finish or for
// ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

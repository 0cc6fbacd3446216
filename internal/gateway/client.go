package gateway

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/closer/internal/logging"
)

const (
	// writeWait bounds a single frame write to a slow console.
	writeWait = 10 * time.Second
	// outboxSize is how many frames may wait for a console's writer.
	outboxSize = 64
)

var errOutboxFull = errors.New("console outbox full")

// Client is an authenticated operator console. Frames are written by a
// single writer goroutine fed from a bounded outbox.
type Client struct {
	ConnID string
	Info   ClientInfo
	Auth   AuthResult
	Since  time.Time

	subs []string
	conn *websocket.Conn
	out  chan Frame
	done chan struct{}
	once sync.Once
	log  *logging.Logger
}

// NewClient wraps an authenticated connection and starts its writer.
func NewClient(conn *websocket.Conn, params ConnectParams, auth AuthResult, log *logging.Logger) *Client {
	c := &Client{
		ConnID: uuid.NewString(),
		Info:   params.Client,
		Auth:   auth,
		Since:  time.Now(),
		subs:   slices.Clone(params.Events),
		conn:   conn,
		out:    make(chan Frame, outboxSize),
		done:   make(chan struct{}),
		log:    log,
	}
	go c.writer()
	return c
}

func (c *Client) writer() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.log.Debug().Err(err).Str("connId", c.ConnID).Msg("console write failed")
				c.Close()
				return
			}
		}
	}
}

// Wants reports whether the console subscribed to event. No subscription
// means everything; an entry ending in "." matches by prefix.
func (c *Client) Wants(event string) bool {
	if len(c.subs) == 0 {
		return true
	}
	return slices.ContainsFunc(c.subs, func(s string) bool {
		return s == event || (strings.HasSuffix(s, ".") && strings.HasPrefix(event, s))
	})
}

// Send queues frame, waiting for room in the outbox.
func (c *Client) Send(frame Frame) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

// offer queues frame only if there is room.
func (c *Client) offer(frame Frame) error {
	select {
	case <-c.done:
		return ErrClientClosed
	case c.out <- frame:
		return nil
	default:
		return errOutboxFull
	}
}

// Respond answers request reqID with payload.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError answers request reqID with an error.
func (c *Client) RespondError(reqID string, shape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, shape))
}

// ReadFrame blocks for the next frame from the console.
func (c *Client) ReadFrame() (Frame, error) {
	var f Frame
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return f, err
	}
	err = json.Unmarshal(msg, &f)
	return f, err
}

// Close stops the writer and closes the socket. Frames still queued are
// dropped.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// ClientRegistry is the set of connected consoles.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	n := len(r.clients)
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Int("consoles", n).Msg("console connected")
}

func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	_, ok := r.clients[connID]
	delete(r.clients, connID)
	r.mu.Unlock()
	if ok {
		r.log.Info().Str("connId", connID).Msg("console disconnected")
	}
}

func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast offers an event to every subscribed console and returns how many
// accepted it. A console whose outbox is full misses the event.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64) int {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encoding event")
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sent := 0
	for _, c := range r.clients {
		if !c.Wants(event) {
			continue
		}
		if err := c.offer(f); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Int64("seq", seq).Msg("event dropped")
			continue
		}
		sent++
	}
	return sent
}

// CloseAll disconnects every console.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}

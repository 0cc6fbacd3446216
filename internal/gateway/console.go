package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Console is the client side of the operator protocol, used by the CLI.
// Calls are serialized; events that arrive while waiting for a response are
// handed to OnEvent.
type Console struct {
	conn    *websocket.Conn
	hello   HelloOK
	seq     atomic.Int64
	mu      sync.Mutex
	OnEvent func(Frame)
}

// Dial connects to a gateway WebSocket URL and completes the handshake.
func Dial(ctx context.Context, url string, auth ConnectAuth, info ClientInfo, events ...string) (*Console, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Console{conn: conn}
	if err := c.handshake(ctx, auth, info, events); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Console) handshake(ctx context.Context, auth ConnectAuth, info ClientInfo, events []string) error {
	c.setDeadline(ctx, handshakeTimeout)
	defer c.conn.SetReadDeadline(time.Time{})

	var challenge Frame
	if err := c.conn.ReadJSON(&challenge); err != nil {
		return fmt.Errorf("reading challenge: %w", err)
	}
	if challenge.Type != FrameTypeEvent || challenge.Event != EventChallenge {
		return fmt.Errorf("unexpected first frame %s/%s", challenge.Type, challenge.Event)
	}

	req, err := NewRequest(MethodConnect, MethodConnect, ConnectParams{
		MinProtocol: ProtocolVersion,
		MaxProtocol: ProtocolVersion,
		Client:      info,
		Auth:        &auth,
		Events:      events,
	})
	if err != nil {
		return err
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("sending connect: %w", err)
	}

	var resp Frame
	if err := c.conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	return decodeResponse(resp, &c.hello)
}

// Hello returns the server's handshake reply.
func (c *Console) Hello() HelloOK { return c.hello }

// Call invokes method and decodes the payload into out, which may be nil.
// Server errors are returned as *ErrorShape.
func (c *Console) Call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := "c" + strconv.FormatInt(c.seq.Add(1), 10)
	req, err := NewRequest(id, method, params)
	if err != nil {
		return err
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}

	c.setDeadline(ctx, rpcTimeout)
	defer c.conn.SetReadDeadline(time.Time{})
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("waiting for %s: %w", method, err)
		}
		if f.Type == FrameTypeEvent {
			if c.OnEvent != nil {
				c.OnEvent(f)
			}
			continue
		}
		if f.ID != id {
			continue
		}
		return decodeResponse(f, out)
	}
}

// Next blocks for the next event frame.
func (c *Console) Next(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return Frame{}, ctx.Err()
			}
			return Frame{}, err
		}
		if f.Type == FrameTypeEvent {
			return f, nil
		}
	}
}

// Close says goodbye and closes the connection.
func (c *Console) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *Console) setDeadline(ctx context.Context, fallback time.Duration) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(fallback)
	}
	c.conn.SetReadDeadline(deadline)
}

func decodeResponse(f Frame, out any) error {
	if f.Type != FrameTypeResponse {
		return fmt.Errorf("expected response, got %s", f.Type)
	}
	if f.OK == nil || !*f.OK {
		if f.Error != nil {
			return f.Error
		}
		return &ErrorShape{Code: CodeInternal, Message: "request failed without error details"}
	}
	if out == nil || len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, out)
}

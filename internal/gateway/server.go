// Package gateway serves the operator console: a WebSocket JSON-RPC
// endpoint with live session events, plus HTTP routes for health, inbound
// webhooks and read-only session queries.
package gateway

import (
	"cmp"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/closer/internal/agent"
	"github.com/soyeahso/closer/internal/channel"
	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/hooks"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/soyeahso/closer/internal/store"
	"github.com/soyeahso/closer/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

const (
	maxPayload       = 1 << 20
	handshakeTimeout = 10 * time.Second
	// rpcTimeout bounds one console request; replies are paced part by part.
	rpcTimeout = time.Minute
	hookName   = "gateway"
)

// Server is the closer gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	orch     *agent.Orchestrator
	store    store.Store
	channels *channel.Registry
	hooks    *hooks.Manager

	mu         sync.RWMutex
	baseCtx    context.Context
	startedAt  time.Time
	httpServer *http.Server

	router      chi.Router
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithOrchestrator enables the webhook and the operator actions.
func WithOrchestrator(o *agent.Orchestrator) ServerOption {
	return func(s *Server) { s.orch = o }
}

// WithStore enables the session queries.
func WithStore(st store.Store) ServerOption {
	return func(s *Server) { s.store = st }
}

// WithChannels sets the channel registry for channel status reporting.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) { s.channels = ch }
}

// WithHooks forwards lifecycle events to connected consoles.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// New creates a gateway server.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("consoles")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		baseCtx:     context.Background(),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	s.router = s.routes()
	if s.hooks != nil {
		s.hooks.On(hooks.Wildcard, hookName, s.forwardEvent)
	}
	return s
}

// checkWebSocketOrigin allows non-browser clients (no Origin header) and
// browsers whose Origin is listed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler { return s.router }

// resolveBindAddr maps the bind mode to a listen address. Unknown modes
// stay on loopback.
func resolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan", "auto":
		host = "0.0.0.0"
	case "custom":
		host = cmp.Or(cfg.CustomBindHost, "0.0.0.0")
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

// listen opens the gateway socket, wrapped in TLS when configured.
func (s *Server) listen() (net.Listener, error) {
	addr := resolveBindAddr(s.cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if !s.cfg.TLS.Enabled {
		if s.cfg.Bind != "" && s.cfg.Bind != "loopback" {
			s.log.Warn().Str("addr", addr).Msg("gateway reachable off-host without TLS")
		}
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Start serves until ctx is cancelled, then disconnects consoles and drains
// in-flight HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:         ln.Addr().String(),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * rpcTimeout,
		IdleTimeout:  2 * time.Minute,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.baseCtx, s.startedAt, s.httpServer = ctx, time.Now(), srv
	s.mu.Unlock()

	go s.authLimiter.run(ctx)
	s.log.Info().Str("addr", srv.Addr).Str("auth", s.auth.Mode).Bool("tls", s.cfg.TLS.Enabled).
		Int("methods", len(s.handlers)).Msg("gateway listening")
	s.emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": srv.Addr})

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.shutdown(context.WithoutCancel(ctx), srv)
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}

func (s *Server) shutdown(ctx context.Context, srv *http.Server) {
	if s.hooks != nil {
		s.hooks.Off(hooks.Wildcard, hookName)
	}
	s.emit(ctx, hooks.EventGatewayStop, nil)
	s.clients.CloseAll()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("gateway shutdown")
	}
	s.log.Info().Msg("gateway stopped")
}

func (s *Server) emit(ctx context.Context, event string, data map[string]any) {
	if s.hooks != nil {
		s.hooks.Emit(ctx, event, data)
	}
}

// Addr returns the listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// requestContext derives the context for one console request.
func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	s.mu.RLock()
	base := s.baseCtx
	s.mu.RUnlock()
	return context.WithTimeout(base, rpcTimeout)
}

func (s *Server) uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// forwardEvent relays session events to subscribed consoles.
func (s *Server) forwardEvent(_ context.Context, p hooks.Payload) error {
	if !slices.Contains(hooks.SessionEvents, p.Event) {
		return nil
	}
	s.clients.Broadcast(p.Event, p.Data, s.eventSeq.Add(1))
	return nil
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()
	s.readLoop(client)
}

// rejection is a handshake failure reported to the console before the
// socket closes.
type rejection struct {
	reqID string
	shape ErrorShape
}

func (r *rejection) Error() string { return r.shape.Error() }

func reject(reqID, code, msg string) error {
	return &rejection{reqID: reqID, shape: ErrorShape{Code: code, Message: msg}}
}

// handshake runs challenge, connect and hello. On a rejection the console
// gets an error response and a close frame.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	req, params, auth, err := s.acceptConnect(conn)
	if err != nil {
		var rj *rejection
		if errors.As(err, &rj) {
			conn.WriteJSON(NewErrorResponse(rj.reqID, rj.shape))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, rj.shape.Message))
		}
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params, auth, s.log.Sub("ws"))
	err = client.Respond(req.ID, HelloOK{
		Protocol: ProtocolVersion,
		Server:   ServerInfo{Version: s.version, Commit: version.Commit, ConnID: client.ConnID},
		Features: Features{Methods: s.Methods(), Events: hooks.SessionEvents},
		Policy:   ServerPolicy{MaxPayload: maxPayload},
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("sending hello: %w", err)
	}
	s.log.Info().Str("connId", client.ConnID).Str("clientId", params.Client.ID).
		Str("clientVersion", params.Client.Version).Str("auth", auth.Method).Msg("console authenticated")
	return client, nil
}

func (s *Server) acceptConnect(conn *websocket.Conn) (Frame, ConnectParams, AuthResult, error) {
	var (
		req    Frame
		params ConnectParams
	)
	challenge, err := NewEvent(EventChallenge, map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return req, params, AuthResult{}, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return req, params, AuthResult{}, fmt.Errorf("sending challenge: %w", err)
	}
	if err := conn.ReadJSON(&req); err != nil {
		return req, params, AuthResult{}, fmt.Errorf("reading connect: %w", err)
	}

	switch {
	case req.Type != FrameTypeRequest || req.Method != MethodConnect:
		return req, params, AuthResult{}, reject(req.ID, CodeProtocol, "expected connect request")
	case json.Unmarshal(req.Params, &params) != nil:
		return req, params, AuthResult{}, reject(req.ID, CodeInvalidParams, "invalid connect params")
	case params.MaxProtocol != 0 && params.MaxProtocol < ProtocolVersion:
		return req, params, AuthResult{}, reject(req.ID, CodeProtocol, "unsupported protocol version")
	}
	auth := Authorize(s.auth, params.Auth)
	if !auth.OK {
		return req, params, auth, reject(req.ID, CodeUnauthorized, auth.Reason)
	}
	return req, params, auth, nil
}

// readLoop processes frames from an authenticated client in order.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("console closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(client, frame)
	}
}

// dispatch routes a request frame to its handler.
func (s *Server) dispatch(client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    CodeMethodNotFound,
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	start := time.Now()
	handler(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
	s.log.Debug().
		Str("connId", client.ConnID).
		Str("method", frame.Method).
		Dur("duration", time.Since(start)).
		Msg("rpc handled")
}

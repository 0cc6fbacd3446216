package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/store"
)

const (
	defaultListLimit     = 50
	defaultMessagesLimit = 100
)

// routes builds the HTTP router.
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(s.log))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))
	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleMethodNotAllowed)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireAuth(s.auth, s.authLimiter))
		r.Post("/inbound", s.handleInbound)
		r.Get("/channels", s.handleChannels)
		r.Get("/sessions", s.handleListSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Get("/messages", s.handleMessages)
			r.Get("/followups", s.handleFollowUps)
		})
	})
	return r
}

// registerRPCHandlers sets up the console methods.
func (s *Server) registerRPCHandlers() {
	s.Handle(MethodHealth, s.rpcHealth)
	s.Handle(MethodChannelsStatus, s.rpcChannelsStatus)
	s.Handle(MethodSessionsList, s.rpcSessionsList)
	s.Handle(MethodSessionGet, s.rpcSessionGet)
	s.Handle(MethodMessages, s.rpcSessionMessages)
	s.Handle(MethodSetMode, s.rpcSessionSetMode)
	s.Handle(MethodResolveHandoff, s.rpcSessionResolveHandoff)
	s.Handle(MethodSetStage, s.rpcSessionSetStage)
	s.Handle(MethodReply, s.rpcSessionReply)
	s.Handle(MethodFollowUps, s.rpcFollowUpsList)
}

// Queries and actions shared by the RPC and HTTP surfaces.

func (s *Server) health() HealthResponse {
	return HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Consoles: s.clients.Count(),
		UptimeMs: s.uptime().Milliseconds(),
		Channels: s.channelStatus(),
	}
}

func (s *Server) channelStatus() []domain.ChannelStatus {
	if s.channels == nil {
		return []domain.ChannelStatus{}
	}
	return s.channels.Status()
}

func (s *Server) listSessions(ctx context.Context, p SessionsListParams) ([]domain.Session, error) {
	if s.store == nil {
		return nil, errNoEngine
	}
	filter := store.SessionFilter{Limit: p.Limit}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if p.Mode != "" {
		m, err := domain.ParseMode(p.Mode)
		if err != nil {
			return nil, invalidParams(err.Error())
		}
		filter.Mode = m
	}
	sessions, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list sessions", Err: err}
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	return sessions, nil
}

func (s *Server) session(ctx context.Context, id string) (*domain.Session, error) {
	if s.store == nil {
		return nil, errNoEngine
	}
	if id == "" {
		return nil, invalidParams("sessionId is required")
	}
	return s.store.LoadSession(ctx, id)
}

func (s *Server) messages(ctx context.Context, p MessagesParams) ([]domain.Message, error) {
	if _, err := s.session(ctx, p.SessionID); err != nil {
		return nil, err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultMessagesLimit
	}
	msgs, err := s.store.Messages(ctx, p.SessionID, limit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load messages", Err: err}
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

func (s *Server) followUps(ctx context.Context, id string) ([]domain.FollowUp, error) {
	if _, err := s.session(ctx, id); err != nil {
		return nil, err
	}
	fus, err := s.store.ListFollowUps(ctx, id)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list follow-ups", Err: err}
	}
	if fus == nil {
		fus = []domain.FollowUp{}
	}
	return fus, nil
}

// RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(s.health())
}

func (s *Server) rpcChannelsStatus(rc *RequestContext) {
	rc.Respond(map[string]any{"channels": s.channelStatus()})
}

func (s *Server) rpcSessionsList(rc *RequestContext) {
	var p SessionsListParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	sessions, err := s.listSessions(rc.Ctx, p)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"sessions": sessions})
}

func (s *Server) rpcSessionGet(rc *RequestContext) {
	var p SessionParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	sess, err := s.session(rc.Ctx, p.SessionID)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"session": sess})
}

func (s *Server) rpcSessionMessages(rc *RequestContext) {
	var p MessagesParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	msgs, err := s.messages(rc.Ctx, p)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"sessionId": p.SessionID, "messages": msgs})
}

func (s *Server) rpcFollowUpsList(rc *RequestContext) {
	var p SessionParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	fus, err := s.followUps(rc.Ctx, p.SessionID)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"sessionId": p.SessionID, "followUps": fus})
}

func (s *Server) rpcSessionSetMode(rc *RequestContext) {
	var p SetModeParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if s.orch == nil {
		rc.Fail(errNoEngine)
		return
	}
	if p.SessionID == "" {
		rc.RespondError(CodeInvalidParams, "sessionId is required")
		return
	}
	m, err := domain.ParseMode(p.Mode)
	if err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	sess, err := s.orch.SetMode(rc.Ctx, p.SessionID, m)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"session": sess})
}

func (s *Server) rpcSessionResolveHandoff(rc *RequestContext) {
	var p SessionParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if s.orch == nil {
		rc.Fail(errNoEngine)
		return
	}
	if p.SessionID == "" {
		rc.RespondError(CodeInvalidParams, "sessionId is required")
		return
	}
	sess, err := s.orch.ResolveHandoff(rc.Ctx, p.SessionID)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"session": sess})
}

func (s *Server) rpcSessionSetStage(rc *RequestContext) {
	var p SetStageParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if s.orch == nil {
		rc.Fail(errNoEngine)
		return
	}
	if p.SessionID == "" {
		rc.RespondError(CodeInvalidParams, "sessionId is required")
		return
	}
	st, err := domain.ParseStage(p.Stage)
	if err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	sess, err := s.orch.SetStage(rc.Ctx, p.SessionID, st)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"session": sess})
}

func (s *Server) rpcSessionReply(rc *RequestContext) {
	var p ReplyParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if s.orch == nil {
		rc.Fail(errNoEngine)
		return
	}
	if p.SessionID == "" {
		rc.RespondError(CodeInvalidParams, "sessionId is required")
		return
	}
	res, err := s.orch.OperatorReply(rc.Ctx, p.SessionID, p.Text)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{
		"delivery":  res,
		"delivered": res.OK(),
		"error":     errString(res.Err),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// HTTP handlers

// InboundRequest is the webhook body. ChatID defaults to From and ChatType
// to "dm".
type InboundRequest struct {
	ID        string    `json:"id,omitempty"`
	ChannelID string    `json:"channelId"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName,omitempty"`
	ChatID    string    `json:"chatId,omitempty"`
	ChatType  string    `json:"chatType,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

func (req InboundRequest) message() (domain.InboundMessage, error) {
	msg := domain.InboundMessage{
		ID:        req.ID,
		ChannelID: strings.TrimSpace(req.ChannelID),
		From:      strings.TrimSpace(req.From),
		FromName:  req.FromName,
		ChatID:    strings.TrimSpace(req.ChatID),
		ChatType:  domain.ChatType(req.ChatType),
		Body:      strings.TrimSpace(req.Text),
		Timestamp: req.Timestamp,
	}
	switch {
	case msg.ChannelID == "":
		return msg, invalidParams("channelId is required")
	case msg.From == "":
		return msg, invalidParams("from is required")
	case msg.Body == "":
		return msg, invalidParams("text is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.ChatID == "" {
		msg.ChatID = msg.From
	}
	switch msg.ChatType {
	case "":
		msg.ChatType = domain.ChatTypeDM
	case domain.ChatTypeDM, domain.ChatTypeGroup:
	default:
		return msg, invalidParams("unknown chatType " + req.ChatType)
	}
	if msg.FromName == "" {
		msg.FromName = msg.From
	}
	return msg, nil
}

// handleInbound runs one turn for a webhook message and returns the result.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		s.writeFailure(w, r, errNoEngine)
		return
	}
	var req InboundRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayload)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorShape{Code: CodeInvalidParams, Message: "invalid JSON body: " + err.Error()})
		return
	}
	msg, err := req.message()
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	res, err := s.orch.HandleInbound(r.Context(), msg)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": s.channelStatus()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := SessionsListParams{Mode: q.Get("mode")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeFailure(w, r, invalidParams("limit must be a non-negative integer"))
			return
		}
		p.Limit = n
	}
	sessions, err := s.listSessions(r.Context(), p)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	p := MessagesParams{SessionID: chi.URLParam(r, "id")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeFailure(w, r, invalidParams("limit must be a non-negative integer"))
			return
		}
		p.Limit = n
	}
	msgs, err := s.messages(r.Context(), p)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": p.SessionID, "messages": msgs})
}

func (s *Server) handleFollowUps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fus, err := s.followUps(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": id, "followUps": fus})
}

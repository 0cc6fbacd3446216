package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/closer/internal/agent"
	"github.com/soyeahso/closer/internal/domain"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC fills in the rest.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version,omitempty"`
	Consoles int                    `json:"consoles,omitempty"`
	UptimeMs int64                  `json:"uptimeMs,omitempty"`
	Channels []domain.ChannelStatus `json:"channels,omitempty"`
}

// RequestHandler processes one RPC request from a console.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{Code: code, Message: message})
}

// Fail maps err to an error response.
func (rc *RequestContext) Fail(err error) {
	_, shape := errorShape(err)
	if shape.Code == CodeInternal {
		rc.Server.log.Error().Err(err).Str("method", rc.Frame.Method).Msg("rpc failed")
	}
	rc.Client.RespondError(rc.Frame.ID, shape)
}

// Params unmarshals the request params into target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}

// errorShape maps domain errors to an HTTP status and a wire error.
func errorShape(err error) (int, ErrorShape) {
	var shape *ErrorShape
	switch {
	case errors.As(err, &shape):
		status := http.StatusBadRequest
		if shape.Code == CodeUnavailable {
			status = http.StatusServiceUnavailable
		}
		return status, *shape
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorShape{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidModeTransition):
		return http.StatusConflict, ErrorShape{Code: CodeInvalidTransition, Message: err.Error()}
	case errors.Is(err, agent.ErrEmptyReply):
		return http.StatusBadRequest, ErrorShape{Code: CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, ErrorShape{Code: CodeUnavailable, Message: err.Error(), Retryable: true}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrorShape{Code: CodeUnavailable, Message: err.Error(), Retryable: true}
	default:
		return http.StatusInternalServerError, ErrorShape{Code: CodeInternal, Message: err.Error()}
	}
}

func invalidParams(msg string) error {
	return &ErrorShape{Code: CodeInvalidParams, Message: msg}
}

var errNoEngine = &ErrorShape{Code: CodeUnavailable, Message: "conversation engine not configured"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, shape ErrorShape) {
	writeJSON(w, status, map[string]any{"error": shape})
}

// writeFailure maps err to a status and error body.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, shape := errorShape(err)
	if status >= http.StatusInternalServerError && shape.Code == CodeInternal {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, shape)
}

// handleHealth reports liveness only; details need the authenticated RPC.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, ErrorShape{Code: CodeNotFound, Message: "no route for " + r.URL.Path})
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, ErrorShape{Code: CodeMethodNotFound, Message: r.Method + " not allowed on " + r.URL.Path})
}

package gateway

import "encoding/json"

// Frame kinds.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// ProtocolVersion is bumped on incompatible frame or method changes.
const ProtocolVersion = 1

// Methods served to operator consoles. MethodConnect is only valid as the
// first frame.
const (
	MethodConnect        = "connect"
	MethodHealth         = "health"
	MethodChannelsStatus = "channels.status"
	MethodSessionsList   = "sessions.list"
	MethodSessionGet     = "session.get"
	MethodMessages       = "session.messages"
	MethodFollowUps      = "followups.list"
	MethodSetMode        = "session.setMode"
	MethodResolveHandoff = "session.resolveHandoff"
	MethodSetStage       = "session.setStage"
	MethodReply          = "session.reply"
)

// Error codes carried in ErrorShape.Code.
const (
	CodeProtocol          = "protocol_error"
	CodeInvalidParams     = "invalid_params"
	CodeUnauthorized      = "unauthorized"
	CodeMethodNotFound    = "method_not_found"
	CodeNotFound          = "not_found"
	CodeInvalidTransition = "invalid_transition"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

// EventChallenge is the first frame a console receives.
const EventChallenge = "connect.challenge"

// Frame is one WebSocket text message. Type selects which fields are
// meaningful: ID, Method and Params for requests; ID, OK, Payload and Error
// for responses; Event, Seq and Payload for events.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// ErrorShape is the error of a failed response.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e *ErrorShape) Error() string { return e.Code + ": " + e.Message }

// ConnectParams is the payload of the connect request. Events filters the
// live events sent to the console; an entry ending in "." matches by prefix
// ("followup."), and no entries means all of them.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
	Events      []string     `json:"events,omitempty"`
}

// ClientInfo describes the console software.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform,omitempty"`
}

// ConnectAuth holds the credential for the configured auth mode.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features lists what the console may call and subscribe to.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

type ServerPolicy struct {
	MaxPayload int `json:"maxPayload"`
}

// Params of the operator methods.
type (
	SessionsListParams struct {
		Mode  string `json:"mode,omitempty"`
		Limit int    `json:"limit,omitempty"`
	}
	SessionParams struct {
		SessionID string `json:"sessionId"`
	}
	MessagesParams struct {
		SessionID string `json:"sessionId"`
		Limit     int    `json:"limit,omitempty"`
	}
	SetModeParams struct {
		SessionID string `json:"sessionId"`
		Mode      string `json:"mode"`
	}
	SetStageParams struct {
		SessionID string `json:"sessionId"`
		Stage     string `json:"stage"`
	}
	ReplyParams struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
	}
)

func encode(f Frame, v any) (Frame, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Frame{}, err
	}
	switch f.Type {
	case FrameTypeRequest:
		f.Params = raw
	default:
		f.Payload = raw
	}
	return f, nil
}

// NewRequest builds a request frame for method.
func NewRequest(id, method string, params any) (Frame, error) {
	return encode(Frame{Type: FrameTypeRequest, ID: id, Method: method}, params)
}

// NewResponse answers request id with payload.
func NewResponse(id string, payload any) (Frame, error) {
	ok := true
	return encode(Frame{Type: FrameTypeResponse, ID: id, OK: &ok}, payload)
}

// NewErrorResponse answers request id with an error.
func NewErrorResponse(id string, shape ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &shape}
}

// NewEvent builds the seq-th event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	return encode(Frame{Type: FrameTypeEvent, Event: event, Seq: seq}, payload)
}

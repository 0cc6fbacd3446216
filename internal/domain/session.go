package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SessionKey identifies who a session talks to and where replies go.
type SessionKey struct {
	ChannelID string `json:"channelId"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId,omitempty"`
}

// String returns a canonical string form of the session key.
func (k SessionKey) String() string {
	s := k.ChannelID + ":" + k.ChatID
	if k.SenderID != "" {
		s += ":" + k.SenderID
	}
	return s
}

// Target returns the address replies for this key are sent to. Group chats
// answer in the room, direct chats answer the chat itself.
func (k SessionKey) Target() string {
	return k.ChatID
}

// Mode gates automated replies.
type Mode string

const (
	ModeAuto           Mode = "AUTO"
	ModeManual         Mode = "MANUAL"
	ModeNeedsAttention Mode = "NEEDS_ATTENTION"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeAuto, ModeManual, ModeNeedsAttention:
		return true
	}
	return false
}

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// Stage is the coarse conversation phase.
type Stage string

const (
	StageWelcome    Stage = "WELCOME"
	StageQualifying Stage = "QUALIFYING"
	StageNurturing  Stage = "NURTURING"
	StageClosing    Stage = "CLOSING"
	StageSold       Stage = "SOLD"
)

var stageRank = map[Stage]int{
	StageWelcome:    0,
	StageQualifying: 1,
	StageNurturing:  2,
	StageClosing:    3,
	StageSold:       4,
}

// Rank orders stages; unknown stages rank below WELCOME.
func (s Stage) Rank() int {
	r, ok := stageRank[s]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool { return s.Rank() >= 0 }

// ParseStage parses a stage name case-insensitively.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return st, nil
}

// Advance returns the later of s and next. Stages never move backwards on
// their own.
func (s Stage) Advance(next Stage) Stage {
	if next.Rank() > s.Rank() {
		return next
	}
	return s
}

// Sentiment is the per-turn tone classification.
type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
	SentimentNegative Sentiment = "NEGATIVE"
)

// ParseSentiment maps a free-form label to a Sentiment. Anything
// unrecognized is neutral.
func ParseSentiment(s string) Sentiment {
	switch strings.ToUpper(strings.Trim(strings.TrimSpace(s), ".!\"'")) {
	case "POSITIVE", "POSITIVO":
		return SentimentPositive
	case "NEGATIVE", "NEGATIVO":
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// Field names a fact slot.
type Field string

const (
	FieldName       Field = "name"
	FieldEmail      Field = "email"
	FieldPhone      Field = "phone"
	FieldNeeds      Field = "needs"
	FieldPainPoints Field = "painPoints"
	FieldBudget     Field = "budget"
)

// Fields lists every fact slot in a stable order.
var Fields = []Field{FieldName, FieldEmail, FieldPhone, FieldNeeds, FieldPainPoints, FieldBudget}

// Facts holds validated lead data. An empty string means unset.
type Facts struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Needs      string `json:"needs,omitempty"`
	PainPoints string `json:"painPoints,omitempty"`
	Budget     string `json:"budget,omitempty"`
}

// Get returns the value stored for f.
func (f Facts) Get(field Field) string {
	switch field {
	case FieldName:
		return f.Name
	case FieldEmail:
		return f.Email
	case FieldPhone:
		return f.Phone
	case FieldNeeds:
		return f.Needs
	case FieldPainPoints:
		return f.PainPoints
	case FieldBudget:
		return f.Budget
	}
	return ""
}

// Set stores v for field and returns the updated copy.
func (f Facts) Set(field Field, v string) Facts {
	switch field {
	case FieldName:
		f.Name = v
	case FieldEmail:
		f.Email = v
	case FieldPhone:
		f.Phone = v
	case FieldNeeds:
		f.Needs = v
	case FieldPainPoints:
		f.PainPoints = v
	case FieldBudget:
		f.Budget = v
	}
	return f
}

// Missing returns the unset fields.
func (f Facts) Missing() []Field {
	var out []Field
	for _, field := range Fields {
		if f.Get(field) == "" {
			out = append(out, field)
		}
	}
	return out
}

// Session is the per-identity conversation state. It is a plain value;
// copies are independent.
type Session struct {
	ID                  string     `json:"id"`
	Key                 SessionKey `json:"key"`
	Mode                Mode       `json:"mode"`
	Stage               Stage      `json:"stage"`
	IntentScore         float64    `json:"intentScore"`
	Sentiment           Sentiment  `json:"sentiment"`
	ConsecutiveNegative int        `json:"consecutiveNegative"`
	Facts               Facts      `json:"facts"`
	RequestsHuman       bool       `json:"requestsHuman"`
	Notes               string     `json:"notes,omitempty"`
	PendingFollowUp     string     `json:"pendingFollowUp,omitempty"`
	MessageCount        int        `json:"messageCount"`
	LastMessageAt       time.Time  `json:"lastMessageAt"`
	LastInboundAt       time.Time  `json:"lastInboundAt"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// NewSession returns a fresh AUTO session in the WELCOME stage.
func NewSession(id string, key SessionKey, now time.Time) Session {
	return Session{
		ID:        id,
		Key:       key,
		Mode:      ModeAuto,
		Stage:     StageWelcome,
		Sentiment: SentimentNeutral,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetIntentScore stores v clamped to [0,1].
func (s *Session) SetIntentScore(v float64) {
	s.IntentScore = ClampScore(v)
}

// ObserveSentiment records this turn's sentiment and updates the negative
// streak.
func (s *Session) ObserveSentiment(v Sentiment) {
	s.Sentiment = v
	if v == SentimentNegative {
		s.ConsecutiveNegative++
	} else {
		s.ConsecutiveNegative = 0
	}
}

// AppendNote adds a timestamped line to the notes.
func (s *Session) AppendNote(now time.Time, format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", now.UTC().Format(time.DateTime), fmt.Sprintf(format, args...))
	if s.Notes != "" {
		s.Notes += "\n"
	}
	s.Notes += line
}

// ClampScore bounds v to [0,1]. NaN becomes 0.
func ClampScore(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/extract"
	"github.com/soyeahso/closer/internal/llm"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/soyeahso/closer/internal/policy"
	"github.com/soyeahso/closer/internal/routing"
)

// LLM asks a completion client for every signal. Classification and
// extraction use the classify model; replies use the main model.
type LLM struct {
	client        llm.Client
	model         string
	classifyModel string
	maxTokens     int
	temperature   *float64
	pol           *policy.Policy
	scanner       *extract.Scanner
	log           *logging.Logger
}

// NewLLM creates an LLM-backed provider.
func NewLLM(client llm.Client, cfg config.LLMConfig, pol *policy.Policy, log *logging.Logger) *LLM {
	classify := cfg.ClassifyModel
	if classify == "" {
		classify = cfg.Model
	}
	return &LLM{
		client:        client,
		model:         cfg.Model,
		classifyModel: classify,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		pol:           pol,
		scanner:       extract.NewScanner(pol),
		log:           log.Sub("signals"),
	}
}

// intentRange bounds the score a category may carry.
type intentRange struct{ lo, hi, def float64 }

var intentCategories = map[string]intentRange{
	"browsing":     {0.0, 0.3, 0.3},
	"interested":   {0.3, 0.6, 0.45},
	"ready_to_buy": {0.6, 1.0, 0.9},
	"objection":    {0.4, 0.6, 0.45},
	"leaving":      {0.0, 0.2, 0.1},
}

// ClassifyIntent asks for {"category", "score"} and clamps the score into
// the category's range. Unknown categories fall back to browsing.
func (l *LLM) ClassifyIntent(ctx context.Context, text string, _ Context) (float64, error) {
	out, err := l.complete(ctx, "intent", l.classifyModel, intentPrompt, text, true, 64)
	if err != nil {
		return 0, err
	}

	var result struct {
		Category string   `json:"category"`
		Score    *float64 `json:"score"`
	}
	if err := decodeObject(out, &result); err != nil {
		return 0, &domain.ExternalCallError{Op: "intent", Err: err}
	}
	return scoreIntent(result.Category, result.Score), nil
}

func scoreIntent(category string, score *float64) float64 {
	r, ok := intentCategories[strings.ToLower(strings.TrimSpace(category))]
	if !ok {
		r = intentCategories["browsing"]
	}
	if score == nil {
		return r.def
	}
	return min(max(domain.ClampScore(*score), r.lo), r.hi)
}

// ClassifySentiment asks for a single word.
func (l *LLM) ClassifySentiment(ctx context.Context, text string, _ Context) (domain.Sentiment, error) {
	out, err := l.complete(ctx, "sentiment", l.classifyModel, sentimentPrompt, text, false, 8)
	if err != nil {
		return "", err
	}
	word, _, _ := strings.Cut(strings.TrimSpace(out), " ")
	return domain.ParseSentiment(strings.Trim(word, ".,!\"'")), nil
}

// ExtractFacts merges pattern candidates with the model's. Model values win
// where both propose a field.
func (l *LLM) ExtractFacts(ctx context.Context, text string, c Context) (domain.Facts, error) {
	candidates := l.scanner.Scan(text, c.Session.Facts, lastBotText(c.History))

	out, err := l.complete(ctx, "extract", l.classifyModel, extractPrompt, text, true, 256)
	if err != nil {
		return candidates, err
	}

	var result map[string]any
	if err := decodeObject(out, &result); err != nil {
		return candidates, &domain.ExternalCallError{Op: "extract", Err: err}
	}
	for _, f := range domain.Fields {
		v, ok := result[string(f)]
		if !ok {
			v = result[snake(f)]
		}
		if s := factString(v); s != "" {
			candidates = candidates.Set(f, s)
		}
	}
	return candidates, nil
}

// factString renders a JSON value as fact text. Nulls and empty values
// yield "".
func factString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// GenerateReply asks the main model for a reply in the handler's register.
func (l *LLM) GenerateReply(ctx context.Context, c Context, handler routing.HandlerKind) (string, error) {
	req := llm.CompletionRequest{
		Model:       l.model,
		System:      replySystemPrompt(l.pol, c, handler),
		Messages:    toMessages(c.History),
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	}
	resp, err := l.client.Complete(ctx, req)
	if err != nil {
		return "", &domain.ExternalCallError{Op: "reply", Err: err}
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", &domain.ExternalCallError{Op: "reply", Err: errors.New("empty completion")}
	}
	l.log.Debug().
		Str("sessionId", c.Session.ID).
		Str("handler", string(handler)).
		Dur("duration", resp.Duration).
		Int("outputTokens", resp.Usage.OutputTokens).
		Msg("reply generated")
	return text, nil
}

// Summarize asks the main model for a short paragraph over the transcript.
// The known facts go first so the model does not have to recover them.
func (l *LLM) Summarize(ctx context.Context, c Context) (string, error) {
	out, err := l.complete(ctx, "summary", l.model, summaryPrompt, transcript(c), false, l.maxTokens)
	if err != nil {
		return "", err
	}
	text := strings.Join(strings.Fields(out), " ")
	if text == "" {
		return "", &domain.ExternalCallError{Op: "summary", Err: errors.New("empty completion")}
	}
	return text, nil
}

// transcript renders the facts line and one "Cliente:"/"Bot:" line per
// message.
func transcript(c Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Datos: %s\n\n", factSummary(c.Session))
	for _, m := range c.History {
		who := "Bot"
		if m.Sender == domain.SenderUser {
			who = "Cliente"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, m.Text)
	}
	return b.String()
}

func (l *LLM) complete(ctx context.Context, op, model, system, text string, asJSON bool, maxTokens int) (string, error) {
	resp, err := l.client.Complete(ctx, llm.CompletionRequest{
		Model:     model,
		System:    system,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: text}},
		MaxTokens: maxTokens,
		JSON:      asJSON,
	})
	if err != nil {
		return "", &domain.ExternalCallError{Op: op, Err: err}
	}
	return resp.Content, nil
}

// decodeObject unmarshals the first {...} span of s, tolerating prose or
// code fences around it.
func decodeObject(s string, v any) error {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in %q", truncate(s, 80))
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}

// toMessages converts history into alternating user/assistant turns that
// start with the user. Consecutive turns by the same role are joined.
func toMessages(history []domain.Message) []llm.Message {
	var out []llm.Message
	for _, m := range history {
		role := llm.RoleAssistant
		if m.Sender == domain.SenderUser {
			role = llm.RoleUser
		}
		if len(out) == 0 && role != llm.RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n" + m.Text
			continue
		}
		out = append(out, llm.Message{Role: role, Content: m.Text})
	}
	return out
}

func snake(f domain.Field) string {
	if f == domain.FieldPainPoints {
		return "pain_points"
	}
	return string(f)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

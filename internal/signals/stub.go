package signals

import (
	"context"
	"sync"

	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/routing"
)

// Stub is a scriptable Provider for tests. Func fields take precedence over
// the fixed values. Every call honours ctx cancellation after the func runs.
type Stub struct {
	Intent    float64
	Sentiment domain.Sentiment
	Facts     domain.Facts
	Reply     string
	Summary   string

	IntentFunc    func(ctx context.Context, text string) (float64, error)
	SentimentFunc func(ctx context.Context, text string) (domain.Sentiment, error)
	ExtractFunc   func(ctx context.Context, text string, known domain.Facts) (domain.Facts, error)
	ReplyFunc     func(ctx context.Context, c Context, handler routing.HandlerKind) (string, error)
	SummarizeFunc func(ctx context.Context, c Context) (string, error)

	mu    sync.Mutex
	calls map[string]int
}

func (s *Stub) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[op]++
}

// Calls returns how often op ("intent", "sentiment", "extract", "reply",
// "summary") was invoked.
func (s *Stub) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Stub) ClassifyIntent(ctx context.Context, text string, _ Context) (float64, error) {
	s.record("intent")
	if s.IntentFunc != nil {
		return s.IntentFunc(ctx, text)
	}
	return s.Intent, ctx.Err()
}

func (s *Stub) ClassifySentiment(ctx context.Context, text string, _ Context) (domain.Sentiment, error) {
	s.record("sentiment")
	if s.SentimentFunc != nil {
		return s.SentimentFunc(ctx, text)
	}
	if s.Sentiment == "" {
		return domain.SentimentNeutral, ctx.Err()
	}
	return s.Sentiment, ctx.Err()
}

func (s *Stub) ExtractFacts(ctx context.Context, text string, c Context) (domain.Facts, error) {
	s.record("extract")
	if s.ExtractFunc != nil {
		return s.ExtractFunc(ctx, text, c.Session.Facts)
	}
	return s.Facts, ctx.Err()
}

func (s *Stub) GenerateReply(ctx context.Context, c Context, handler routing.HandlerKind) (string, error) {
	s.record("reply")
	if s.ReplyFunc != nil {
		return s.ReplyFunc(ctx, c, handler)
	}
	if s.Reply == "" {
		return "reply:" + string(handler), ctx.Err()
	}
	return s.Reply, ctx.Err()
}

func (s *Stub) Summarize(ctx context.Context, c Context) (string, error) {
	s.record("summary")
	if s.SummarizeFunc != nil {
		return s.SummarizeFunc(ctx, c)
	}
	if s.Summary == "" {
		return "summary:" + string(c.Session.Stage), ctx.Err()
	}
	return s.Summary, ctx.Err()
}

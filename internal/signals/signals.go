// Package signals defines the per-stage provider interfaces the
// orchestrator calls each turn, with a heuristic backend, an LLM backend
// and a test stub.
package signals

import (
	"context"
	"fmt"

	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/llm"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/soyeahso/closer/internal/policy"
	"github.com/soyeahso/closer/internal/routing"
)

// Context is what a provider may see besides the current text.
type Context struct {
	Session domain.Session
	// History holds recent messages, oldest first, ending with the current
	// user message.
	History []domain.Message
	// Knowledge holds reference snippets relevant to the current text.
	Knowledge []string
	// Welcome marks the first-turn conversation variant.
	Welcome bool
}

// IntentClassifier scores purchase intent in [0,1].
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, text string, c Context) (float64, error)
}

// SentimentClassifier labels the tone of a message.
type SentimentClassifier interface {
	ClassifySentiment(ctx context.Context, text string, c Context) (domain.Sentiment, error)
}

// FactExtractor proposes candidate facts. Known facts are c.Session.Facts.
// Candidates are validated by the caller.
type FactExtractor interface {
	ExtractFacts(ctx context.Context, text string, c Context) (domain.Facts, error)
}

// ReplyGenerator writes the bot reply for a handler.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, c Context, handler routing.HandlerKind) (string, error)
}

// Summarizer condenses the conversation so far into a short note for the
// operator. c.History ends with the bot reply of the current turn.
type Summarizer interface {
	Summarize(ctx context.Context, c Context) (string, error)
}

// Provider bundles one implementation of every stage.
type Provider interface {
	IntentClassifier
	SentimentClassifier
	FactExtractor
	ReplyGenerator
	Summarizer
}

// New returns the provider selected by cfg.Providers.Kind. The LLM backend
// resolves clients from the registry built out of cfg.LLM.
func New(cfg config.Config, pol *policy.Policy, log *logging.Logger) (Provider, error) {
	switch cfg.Providers.Kind {
	case "", "heuristic":
		return NewHeuristic(pol), nil
	case "llm":
		reg := llm.NewRegistryFromConfig(cfg.LLM, log)
		if len(reg.List()) == 0 {
			return nil, fmt.Errorf("no LLM provider could be configured for %q", cfg.LLM.Provider)
		}
		client := llm.NewFailoverClient(reg, cfg.LLM.Provider, cfg.LLM.Fallbacks, log)
		return NewLLM(client, cfg.LLM, pol, log), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Providers.Kind)
	}
}

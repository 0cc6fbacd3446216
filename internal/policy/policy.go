// Package policy builds the immutable routing and messaging policy shared by
// the orchestrator, router and scheduler.
package policy

import (
	"slices"
	"strings"
	"time"

	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/domain"
)

// Policy is built once from config and never mutated afterwards. Share it by
// pointer.
type Policy struct {
	PaymentThreshold float64
	ClosingThreshold float64
	NegativeStreak   int

	Greetings     Vocabulary
	HumanRequest  Vocabulary
	Purchase      Vocabulary
	Disengagement Vocabulary
	Currency      Vocabulary
	Positive      Vocabulary
	Negative      Vocabulary
	PriceQuestion Vocabulary

	Replies       config.RepliesConfig
	PaymentLink   string
	PartSeparator string
	MaxWordsPart  int

	Product config.ProductConfig

	delays    []time.Duration
	templates []string
}

// New builds a Policy from the engine, follow-up and product sections.
func New(cfg config.Config) *Policy {
	e := cfg.Engine
	v := e.Vocabulary
	return &Policy{
		PaymentThreshold: e.Thresholds.Payment,
		ClosingThreshold: e.Thresholds.Closing,
		NegativeStreak:   e.Thresholds.NegativeStreak,
		Greetings:        NewVocabulary(v.Greetings),
		HumanRequest:     NewVocabulary(v.HumanRequest),
		Purchase:         NewVocabulary(v.Purchase),
		Disengagement:    NewVocabulary(v.Disengagement),
		Currency:         NewVocabulary(v.Currency),
		Positive:         NewVocabulary(v.Positive),
		Negative:         NewVocabulary(v.Negative),
		PriceQuestion:    NewVocabulary(v.PriceQuestion),
		Replies:          e.Replies,
		PaymentLink:      e.PaymentLink,
		PartSeparator:    e.PartSeparator,
		MaxWordsPart:     e.MaxWordsPart,
		Product:          cfg.Product,
		delays:           slices.Clone(cfg.FollowUp.Delays),
		templates:        slices.Clone(cfg.FollowUp.Templates),
	}
}

// Default returns the policy for the default configuration.
func Default() *Policy {
	return New(config.Defaults())
}

// FollowUpDelay returns how long after the previous anchor the given tier
// fires. Tier 1 is anchored on the user's message, later tiers on the
// previous tier's schedule.
func (p *Policy) FollowUpDelay(tier int) time.Duration {
	if tier < 1 || tier > len(p.delays) {
		return 0
	}
	return p.delays[tier-1]
}

// FollowUpText renders the message for a tier. The final tier has no text.
func (p *Policy) FollowUpText(tier int, facts domain.Facts) string {
	if tier < 1 || tier > len(p.templates) {
		return ""
	}
	return FillName(p.templates[tier-1], facts.Name)
}

// PaymentReply renders the payment message. The link is always present,
// appended when the template lacks the placeholder.
func (p *Policy) PaymentReply(name string) string {
	text := FillName(p.Replies.Payment, name)
	if strings.Contains(text, "{link}") {
		return strings.ReplaceAll(text, "{link}", p.PaymentLink)
	}
	if p.PaymentLink != "" && !strings.Contains(text, p.PaymentLink) {
		text += " " + p.PaymentLink
	}
	return text
}

// FillName replaces "{name}" with ", <name>" or removes it.
func FillName(tmpl, name string) string {
	if name == "" {
		return strings.ReplaceAll(tmpl, "{name}", "")
	}
	return strings.ReplaceAll(tmpl, "{name}", ", "+name)
}

// Parts splits a reply into the messages actually sent: first on the part
// separator, then into chunks of at most MaxWordsPart words on sentence
// ends. Empty parts are dropped.
func (p *Policy) Parts(text string) []string {
	var raw []string
	if p.PartSeparator != "" {
		raw = strings.Split(text, p.PartSeparator)
	} else {
		raw = []string{text}
	}

	var parts []string
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if p.MaxWordsPart > 0 {
			parts = append(parts, splitWords(r, p.MaxWordsPart)...)
		} else {
			parts = append(parts, r)
		}
	}
	return parts
}

// splitWords packs whole sentences into chunks of at most max words. A
// single sentence longer than max is cut on word boundaries.
func splitWords(text string, max int) []string {
	var out []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur = nil
		}
	}
	for _, s := range sentences(text) {
		words := strings.Fields(s)
		if len(cur)+len(words) > max {
			flush()
		}
		for len(words) > max {
			out = append(out, strings.Join(words[:max], " "))
			words = words[max:]
		}
		cur = append(cur, words...)
	}
	flush()
	return out
}

func sentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			out = append(out, text[start:i+1])
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

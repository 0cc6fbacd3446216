package signals

import (
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/extract"
	"github.com/soyeahso/closer/internal/policy"
	"github.com/soyeahso/closer/internal/routing"
)

// Heuristic scores, labels and extracts with the policy vocabularies and
// pattern scanning. It never fails and makes no network calls.
type Heuristic struct {
	pol     *policy.Policy
	scanner *extract.Scanner
}

// NewHeuristic creates a heuristic provider.
func NewHeuristic(p *policy.Policy) *Heuristic {
	return &Heuristic{pol: p, scanner: extract.NewScanner(p)}
}

const (
	baseIntent     = 0.3
	positiveStep   = 0.15
	positiveCap    = 0.75
	priceIntent    = 0.65
	purchaseIntent = 0.95
	leavingIntent  = 0.1
	negativeIntent = 0.2
)

// ClassifyIntent maps vocabulary hits to a score. A purchase phrase wins,
// then leaving, then a price question; otherwise positive words raise the
// base score and negative ones cut it.
func (h *Heuristic) ClassifyIntent(_ context.Context, text string, _ Context) (float64, error) {
	switch {
	case h.pol.Purchase.Match(text):
		return purchaseIntent, nil
	case h.pol.Disengagement.Match(text):
		return leavingIntent, nil
	case h.pol.PriceQuestion.Match(text):
		return priceIntent, nil
	}

	pos, neg := h.pol.Positive.Count(text), h.pol.Negative.Count(text)
	if neg > pos {
		return negativeIntent, nil
	}
	return min(baseIntent+positiveStep*float64(pos-neg), positiveCap), nil
}

// ClassifySentiment compares positive and negative vocabulary hits.
func (h *Heuristic) ClassifySentiment(_ context.Context, text string, _ Context) (domain.Sentiment, error) {
	pos, neg := h.pol.Positive.Count(text), h.pol.Negative.Count(text)
	switch {
	case neg > pos:
		return domain.SentimentNegative, nil
	case pos > neg:
		return domain.SentimentPositive, nil
	default:
		return domain.SentimentNeutral, nil
	}
}

// ExtractFacts runs the pattern scanner.
func (h *Heuristic) ExtractFacts(_ context.Context, text string, c Context) (domain.Facts, error) {
	return h.scanner.Scan(text, c.Session.Facts, lastBotText(c.History)), nil
}

// GenerateReply returns the configured text for the handler, steering the
// conversation toward the next missing fact.
func (h *Heuristic) GenerateReply(_ context.Context, c Context, handler routing.HandlerKind) (string, error) {
	r := h.pol.Replies
	name := c.Session.Facts.Name
	switch handler {
	case routing.HandlerHandoff:
		return r.Handoff, nil
	case routing.HandlerPayment:
		return h.pol.PaymentReply(name), nil
	case routing.HandlerClosing:
		return policy.FillName(r.Closing, name), nil
	case routing.HandlerDeescalate:
		return r.Deescalation, nil
	case routing.HandlerFollowUp:
		return policy.FillName(r.FollowUp, name), nil
	}

	if c.Welcome {
		return r.Welcome, nil
	}

	var b strings.Builder
	text := lastUserText(c.History)
	if h.pol.PriceQuestion.Match(text) && h.pol.Product.Price != "" {
		b.WriteString("El precio es " + h.pol.Product.Price + ". ")
	}
	b.WriteString(nextQuestion(c.Session.Facts, r.Conversation))
	return b.String(), nil
}

// Summarize lists the known facts with the stage and intent score.
func (h *Heuristic) Summarize(_ context.Context, c Context) (string, error) {
	return factSummary(c.Session), nil
}

var summaryLabels = []struct {
	field domain.Field
	label string
}{
	{domain.FieldNeeds, "Necesita"},
	{domain.FieldPainPoints, "Problema"},
	{domain.FieldBudget, "Presupuesto"},
	{domain.FieldEmail, "Email"},
	{domain.FieldPhone, "Teléfono"},
}

func factSummary(s domain.Session) string {
	parts := []string{"Cliente " + cmp.Or(s.Facts.Name, "sin nombre")}
	for _, l := range summaryLabels {
		if v := s.Facts.Get(l.field); v != "" {
			parts = append(parts, l.label+": "+v)
		}
	}
	parts = append(parts,
		"Etapa: "+string(s.Stage),
		fmt.Sprintf("Intención: %.2f", s.IntentScore))
	return strings.Join(parts, " | ")
}

func nextQuestion(f domain.Facts, fallback string) string {
	switch {
	case f.Name == "":
		return "¿Cómo te llamas?"
	case f.Needs == "":
		return "Encantado, " + f.Name + ". ¿Qué estás buscando exactamente?"
	case f.PainPoints == "":
		return "Entiendo. ¿Qué es lo que más te está costando hoy con eso?"
	case f.Email == "":
		return "¿Me compartes tu email para enviarte la información?"
	default:
		return fallback
	}
}

// lastBotText is the most recent bot or operator message before the
// current user message.
func lastBotText(history []domain.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender != domain.SenderUser {
			return history[i].Text
		}
	}
	return ""
}

func lastUserText(history []domain.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender == domain.SenderUser {
			return history[i].Text
		}
	}
	return ""
}

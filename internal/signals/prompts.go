package signals

import (
	"fmt"
	"strings"

	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/policy"
	"github.com/soyeahso/closer/internal/routing"
)

const intentPrompt = `Classify the purchase intent of a prospective customer's message.

Categories and score ranges:
- browsing: just looking, not ready to buy (0.0-0.3)
- interested: shows interest or asks questions (0.3-0.6)
- ready_to_buy: clear buying signals (0.6-1.0)
- objection: has doubts or objections (0.4-0.6)
- leaving: wants to end the conversation (0.0-0.2)

A plain greeting such as "hola" or "hey" is interested with a score of 0.4-0.5.

Respond only with JSON in exactly this shape:
{"category": "<category>", "score": 0.0}`

const sentimentPrompt = `Classify the sentiment of a customer's message.
Respond with ONE word: positive, neutral or negative.`

const extractPrompt = `Extract any customer information present in the message.

Fields:
- name: the customer's name
- email: email address
- phone: phone number
- needs: what they are looking for
- painPoints: problems they want solved
- budget: budget or price range mentioned

Respond only with JSON. Use null for fields that are not present:
{"name": null, "email": null, "phone": null, "needs": null, "painPoints": null, "budget": null}`

const summaryPrompt = `Summarize this sales conversation for the sales team.

Cover, where present:
1. The main topic
2. The customer's needs or interests
3. Products or services discussed
4. Objections or concerns
5. Next steps or current status

Write in the conversation's language. Respond only with the summary as one
concise paragraph of at most 150 words.`

var handlerInstructions = map[routing.HandlerKind]string{
	routing.HandlerConversation: "Keep the conversation going. Learn what they need and ask for one missing detail at a time.",
	routing.HandlerClosing:      "The customer is interested. Summarize how the product solves their need and invite them to buy.",
	routing.HandlerPayment:      "The customer is ready to buy. Congratulate them and give them the payment link.",
	routing.HandlerDeescalate:   "The customer is upset. Apologize sincerely and say a person from the team will help them shortly. Do not sell.",
	routing.HandlerFollowUp:     "The customer is leaving. Say goodbye warmly and leave the door open.",
}

// replySystemPrompt assembles the product sheet, known facts, knowledge
// snippets and the handler's instruction.
func replySystemPrompt(p *policy.Policy, c Context, handler routing.HandlerKind) string {
	var b strings.Builder

	b.WriteString("You are a friendly sales assistant chatting with a prospective customer. ")
	b.WriteString("Reply in the customer's language with short, natural messages.\n")

	prod := p.Product
	if prod.Name != "" {
		b.WriteString("\nPRODUCT\n")
		writeField(&b, "Name", prod.Name)
		writeField(&b, "Description", prod.Description)
		writeField(&b, "Features", prod.Features)
		writeField(&b, "Benefits", prod.Benefits)
		writeField(&b, "Price", prod.Price)
		writeField(&b, "Audience", prod.Audience)
	}

	b.WriteString("\nCUSTOMER\n")
	facts := c.Session.Facts
	for _, f := range domain.Fields {
		if v := facts.Get(f); v != "" {
			writeField(&b, string(f), v)
		}
	}
	if missing := facts.Missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = string(f)
		}
		writeField(&b, "Unknown", strings.Join(names, ", "))
	}
	writeField(&b, "Stage", string(c.Session.Stage))

	if len(c.Knowledge) > 0 {
		b.WriteString("\nRELEVANT CONTEXT\n")
		for _, k := range c.Knowledge {
			b.WriteString("- ")
			b.WriteString(k)
			b.WriteString("\n")
		}
		b.WriteString("Use this context when it is relevant.\n")
	}

	b.WriteString("\nTASK\n")
	if c.Welcome {
		b.WriteString("This is the first message. Welcome them and ask their name.\n")
	}
	b.WriteString(handlerInstructions[handler])
	b.WriteString("\n")
	if handler == routing.HandlerPayment && p.PaymentLink != "" {
		fmt.Fprintf(&b, "Payment link: %s\n", p.PaymentLink)
	}

	if p.MaxWordsPart > 0 {
		fmt.Fprintf(&b, "\nSplit long replies into short parts separated by %s, at most %d words each.\n",
			p.PartSeparator, p.MaxWordsPart)
	}
	if prod.UseEmojis {
		b.WriteString("Use emojis naturally.\n")
	} else {
		b.WriteString("Do not use emojis.\n")
	}
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

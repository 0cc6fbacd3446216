package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/policy"
)

var (
	looseEmail = regexp.MustCompile(`[\w.+\-]+@[\w\-.]+`)
	loosePhone = regexp.MustCompile(`(?:whatsapp:)?\+?\d[\d\s\-().]{5,}\d`)
	money      = regexp.MustCompile(`(?i)(?:[$€]\s?\d[\d.,]*(?:\s?(?:k|mil))?|\d[\d.,]*\s?(?:k|mil|usd|eur|euros?|d[oó]lares|pesos)\b)`)
	namedAs    = regexp.MustCompile(`(?i)(?:me llamo|mi nombre es|ll[aá]mame|my name is|call me)\s+([\p{L}'\-]+(?:\s+[\p{L}'\-]+)?)`)
	needPhrase = regexp.MustCompile(`(?i)(?:necesito|estoy buscando|busco|me interesa|i need|looking for)\s+([^.!?\n]+)`)
	painPhrase = regexp.MustCompile(`(?i)(?:mi problema es|el problema es|me cuesta|no puedo|my problem is|i struggle with|struggling with)\s+([^.!?\n]+)`)
	askedName  = regexp.MustCompile(`(?i)(?:c[oó]mo te llamas|cu[aá]l es tu nombre|tu nombre|con qui[eé]n tengo el gusto|your name|who am i talking to)`)
)

// nameStopWords end a captured name early: "me llamo Ana y ..." yields "Ana".
var nameStopWords = map[string]bool{
	"y": true, "e": true, "and": true, "pero": true, "but": true,
	"de": true, "del": true, "con": true, "from": true,
}

// Scanner proposes candidate facts from message text using patterns. Its
// output still goes through the Validator.
type Scanner struct {
	pol *policy.Policy
}

// NewScanner creates a Scanner.
func NewScanner(p *policy.Policy) *Scanner {
	return &Scanner{pol: p}
}

// AsksName reports whether a bot message asked the customer for their name.
func AsksName(botText string) bool { return askedName.MatchString(botText) }

// Scan returns candidates found in text. prev is the bot message text
// answers. A short bare reply is proposed as a name only while no name is
// known and prev asked for one.
func (s *Scanner) Scan(text string, known domain.Facts, prev string) domain.Facts {
	var c domain.Facts

	if m := looseEmail.FindString(text); m != "" {
		c.Email = m
	}
	withoutEmail := looseEmail.ReplaceAllString(text, " ")
	if m := loosePhone.FindString(withoutEmail); m != "" && !money.MatchString(m) {
		c.Phone = m
	}
	if m := money.FindString(withoutEmail); m != "" {
		c.Budget = strings.TrimSpace(m)
	}

	if m := namedAs.FindStringSubmatch(text); m != nil {
		c.Name = trimName(m[1])
	} else if known.Name == "" && AsksName(prev) && s.bareName(text) {
		c.Name = strings.TrimSpace(text)
	}

	if m := needPhrase.FindStringSubmatch(text); m != nil && !s.pol.Purchase.Match(m[0]) {
		c.Needs = strings.TrimSpace(m[1])
	}
	if m := painPhrase.FindStringSubmatch(text); m != nil {
		c.PainPoints = strings.TrimSpace(m[1])
	}
	return c
}

// bareName reports whether text looks like a reply consisting only of a
// name: one to three words of letters that say nothing else the policy
// recognizes.
func (s *Scanner) bareName(text string) bool {
	words := strings.Fields(policy.Normalize(text))
	if len(words) == 0 || len(words) > 3 {
		return false
	}
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsSpace(r) && !strings.ContainsRune(".,!'-", r) {
			return false
		}
	}
	p := s.pol
	for _, v := range []policy.Vocabulary{p.HumanRequest, p.Purchase, p.Disengagement, p.Negative, p.Positive, p.PriceQuestion} {
		if v.Match(text) {
			return false
		}
	}
	return !p.Greetings.Covers(text)
}

func trimName(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if nameStopWords[strings.ToLower(w)] {
			words = words[:i]
			break
		}
	}
	return strings.Join(words, " ")
}

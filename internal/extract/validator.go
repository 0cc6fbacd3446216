// Package extract validates candidate lead facts and merges them into a
// session's stored facts.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/policy"
)

var (
	emailPattern    = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}$`)
	phoneRunPattern = regexp.MustCompile(`\+?\d{7,}`)
	digitPattern    = regexp.MustCompile(`\d`)
)

// Outcome is the verdict on one candidate field.
type Outcome struct {
	Field    domain.Field `json:"field"`
	Value    string       `json:"value"`
	Accepted bool         `json:"accepted"`
	Reason   string       `json:"reason,omitempty"`
}

// Err returns nil for accepted outcomes and an ErrValidationRejected
// wrapper otherwise.
func (o Outcome) Err() error {
	if o.Accepted {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", domain.ErrValidationRejected, o.Field, o.Reason)
}

// Validator applies the per-field acceptance rules.
type Validator struct {
	greetings policy.Vocabulary
	currency  policy.Vocabulary
}

// NewValidator creates a validator using the policy's greeting and currency
// vocabularies.
func NewValidator(p *policy.Policy) *Validator {
	return &Validator{greetings: p.Greetings, currency: p.Currency}
}

// Merge validates every non-empty candidate and returns the updated facts
// with one outcome per candidate. Accepted values replace stored ones;
// rejected values never do.
func (v *Validator) Merge(prior, candidates domain.Facts) (domain.Facts, []Outcome) {
	merged := prior
	var outcomes []Outcome
	for _, field := range domain.Fields {
		raw := strings.TrimSpace(candidates.Get(field))
		if raw == "" {
			continue
		}
		value, err := v.Validate(field, raw)
		if err != nil {
			outcomes = append(outcomes, Outcome{Field: field, Value: raw, Reason: err.Error()})
			continue
		}
		merged = merged.Set(field, value)
		outcomes = append(outcomes, Outcome{Field: field, Value: value, Accepted: true})
	}
	return merged, outcomes
}

// Validate checks a single raw value and returns its normalized form.
func (v *Validator) Validate(field domain.Field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch field {
	case domain.FieldName:
		return v.name(raw)
	case domain.FieldEmail:
		return email(raw)
	case domain.FieldPhone:
		return phone(raw)
	case domain.FieldNeeds, domain.FieldPainPoints:
		return v.freeText(raw)
	case domain.FieldBudget:
		return v.budget(raw)
	}
	return "", fmt.Errorf("unknown field %q", field)
}

func (v *Validator) name(raw string) (string, error) {
	raw = strings.TrimFunc(raw, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	if v.greetings.Covers(raw) {
		return "", errors.New("greeting or filler")
	}
	if digitPattern.MatchString(raw) || strings.Contains(raw, "@") {
		return "", errors.New("not a name")
	}
	name := cases.Title(language.Und).String(strings.Join(strings.Fields(raw), " "))
	if utf8.RuneCountInString(name) < 2 {
		return "", errors.New("too short")
	}
	return name, nil
}

func email(raw string) (string, error) {
	raw = strings.TrimRight(raw, ".,;:!?")
	if !emailPattern.MatchString(raw) {
		return "", errors.New("not an address of the form local@domain.tld")
	}
	return strings.ToLower(raw), nil
}

func phone(raw string) (string, error) {
	run := phoneRunPattern.FindString(FormatPhone(raw))
	if run == "" {
		return "", errors.New("no run of 7 or more digits")
	}
	return run, nil
}

func (v *Validator) freeText(raw string) (string, error) {
	text := strings.Join(strings.Fields(raw), " ")
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	if n < 5 {
		return "", errors.New("fewer than 5 characters")
	}
	if v.greetings.Covers(text) {
		return "", errors.New("greeting or filler")
	}
	return text, nil
}

func (v *Validator) budget(raw string) (string, error) {
	if !digitPattern.MatchString(raw) && !v.currency.Match(raw) {
		return "", errors.New("no amount or currency")
	}
	return strings.Join(strings.Fields(raw), " "), nil
}

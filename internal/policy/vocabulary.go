package policy

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics, so "Adiós" and "adios" compare
// equal.
func Fold(s string) string {
	// Chains carry state; build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Normalize folds s and reduces it to space-separated tokens. Letters and
// digits form words; currency symbols become tokens of their own; all other
// runes separate tokens.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range Fold(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.Is(unicode.Sc, r):
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Vocabulary is a set of phrases matched against normalized text on token
// boundaries. The zero value matches nothing.
type Vocabulary struct {
	phrases []string
}

// NewVocabulary normalizes entries once. Empty entries are dropped.
func NewVocabulary(entries []string) Vocabulary {
	v := Vocabulary{phrases: make([]string, 0, len(entries))}
	for _, e := range entries {
		if n := Normalize(e); n != "" {
			v.phrases = append(v.phrases, n)
		}
	}
	// Longest first so Covers strips "buenas tardes" before "buenas".
	slices.SortStableFunc(v.phrases, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})
	return v
}

// Len returns the number of phrases.
func (v Vocabulary) Len() int { return len(v.phrases) }

// Match reports whether any phrase occurs in text.
func (v Vocabulary) Match(text string) bool {
	padded := " " + Normalize(text) + " "
	for _, p := range v.phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

// Count returns how many phrases occur in text.
func (v Vocabulary) Count(text string) int {
	padded := " " + Normalize(text) + " "
	n := 0
	for _, p := range v.phrases {
		if strings.Contains(padded, " "+p+" ") {
			n++
		}
	}
	return n
}

// Covers reports whether text is made up entirely of vocabulary phrases,
// e.g. "hola, buenas tardes" against a greeting list. Empty text is covered.
func (v Vocabulary) Covers(text string) bool {
	rest := " " + Normalize(text) + " "
	for _, p := range v.phrases {
		needle := " " + p + " "
		for strings.Contains(rest, needle) {
			rest = strings.ReplaceAll(rest, needle, "  ")
		}
	}
	return strings.TrimSpace(rest) == ""
}

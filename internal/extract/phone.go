package extract

import "strings"

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "", "/", "", "\u00a0", "")

// FormatPhone strips a "whatsapp:" transport prefix and separator characters
// from a phone number, keeping a leading "+".
func FormatPhone(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 9 && strings.EqualFold(s[:9], "whatsapp:") {
		s = s[9:]
	}
	return phoneSeparators.Replace(s)
}

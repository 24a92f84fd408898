package social

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var loginNameFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeLoginName folds a provider display handle into a local login name
// candidate: diacritics stripped, lowercased, spaces collapsed to dots, and
// anything outside [a-z0-9._-] dropped.
func NormalizeLoginName(handle string) string {
	folded, _, err := transform.String(loginNameFolder, handle)
	if err != nil {
		folded = handle
	}
	folded = strings.ToLower(strings.TrimSpace(folded))

	var b strings.Builder
	lastDot := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
			lastDot = false
		case r == ' ' || r == '.':
			if !lastDot && b.Len() > 0 {
				b.WriteByte('.')
				lastDot = true
			}
		}
	}
	candidate := strings.Trim(b.String(), ".")
	if candidate == "" {
		return "user"
	}
	return candidate
}

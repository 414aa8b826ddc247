package chunker

import (
	"strings"
	"unicode"
)

// Normalize lower-cases s, turns every rune that is not a letter or digit
// into a space and collapses runs of whitespace. The lexical stage of
// retrieval works on this form.
func Normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

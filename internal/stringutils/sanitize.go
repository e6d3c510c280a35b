package stringutils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sanitize strips NULL bytes and control characters (keeping tab, newline
// and carriage return) so segmentation and storage never see unprintable
// runs. Clean strings are returned as-is.
func Sanitize(s string) string {
	if utf8.ValidString(s) && !hasControlChars(s) {
		return s
	}

	var builder strings.Builder
	builder.Grow(len(s))

	for _, r := range s {
		if r == 0 || r == utf8.RuneError {
			continue
		}
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		if r == 127 || (r >= 128 && r <= 159) {
			continue
		}
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			builder.WriteRune(r)
		}
	}

	return builder.String()
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if r == 0 {
			return true
		}
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
		if r == 127 || (r >= 128 && r <= 159) {
			return true
		}
	}
	return false
}

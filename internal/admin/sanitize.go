package admin

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// scriptPattern matches script and style elements including their body.
	scriptPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)\s*>`)

	// tagPattern matches any remaining HTML tag.
	tagPattern = regexp.MustCompile(`<[^>]*>`)

	// percentPattern matches URL-encoded octets.
	percentPattern = regexp.MustCompile(`%[a-fA-F0-9]{2}`)
)

// SanitizeTextField cleans a single-line text value submitted through an
// admin form:
//
//   - invalid UTF-8 is dropped;
//   - script/style elements and then all tags are stripped; a lone '<' is
//     kept as text, since the filter escapes on output;
//   - URL-encoded octets are removed;
//   - line breaks, tabs and runs of whitespace become a single space and
//     the result is trimmed.
func SanitizeTextField(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}

	s = scriptPattern.ReplaceAllString(s, "")
	s = tagPattern.ReplaceAllString(s, "")

	for {
		stripped := percentPattern.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}

	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

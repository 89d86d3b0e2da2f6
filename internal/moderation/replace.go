package moderation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParseTerms splits a comma-separated word list into its terms. Whitespace
// around each term is trimmed and empty pieces (from "a,,b", a trailing comma
// or a whitespace-only entry) are dropped, since an empty term would match
// between every pair of characters. Order and duplicates are kept.
func ParseTerms(raw string) []string {
	pieces := strings.Split(raw, ",")
	terms := make([]string, 0, len(pieces))
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		terms = append(terms, p)
	}
	return terms
}

// Replace runs one replacement pass per term, in order, each pass operating
// on the output of the previous one. Consequences callers rely on:
//
//   - a term listed before a longer term containing it wins ("cat" before
//     "catastrophe" turns "catastrophe" into "***astrophe");
//   - replacement text is not protected, so a later term occurring inside
//     it is replaced by that term's pass.
//
// Within a pass matches are leftmost and non-overlapping, and scanning
// resumes after the inserted replacement. It returns the rewritten text and
// the total number of replacements.
func Replace(content string, terms []string, replacement string) (string, int) {
	total := 0
	for _, term := range terms {
		var n int
		content, n = replaceFold(content, term, replacement)
		total += n
	}
	return content, total
}

// replaceFold replaces every occurrence of term in s under Unicode simple
// case folding. The matched span in s may differ in byte length from term
// (e.g. the Kelvin sign against "k").
func replaceFold(s, term, replacement string) (string, int) {
	if term == "" || s == "" {
		return s, 0
	}

	var (
		b     strings.Builder
		count int
		last  int // start of the not yet copied tail of s
	)
	for i := 0; i < len(s); {
		if n := matchFold(s[i:], term); n > 0 {
			if count == 0 {
				b.Grow(len(s))
			}
			b.WriteString(s[last:i])
			b.WriteString(replacement)
			count++
			i += n
			last = i
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}

	if count == 0 {
		return s, 0
	}
	b.WriteString(s[last:])
	return b.String(), count
}

// matchFold reports the byte length of the prefix of s that equals term
// under simple case folding, or 0 when s does not start with term.
func matchFold(s, term string) int {
	i := 0
	for _, tr := range term {
		if i >= len(s) {
			return 0
		}
		sr, size := utf8.DecodeRuneInString(s[i:])
		if !equalFoldRune(sr, tr) {
			return 0
		}
		i += size
	}
	return i
}

// equalFoldRune reports whether a and b belong to the same simple case
// folding orbit.
func equalFoldRune(a, b rune) bool {
	if a == b {
		return true
	}
	if a < utf8.RuneSelf && b < utf8.RuneSelf {
		return 'A' <= a && a <= 'Z' && a+'a'-'A' == b ||
			'A' <= b && b <= 'Z' && b+'a'-'A' == a
	}
	for r := unicode.SimpleFold(a); r != a; r = unicode.SimpleFold(r) {
		if r == b {
			return true
		}
	}
	return false
}

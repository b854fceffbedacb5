package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// StripControl removes control characters except newline, carriage return and tab.
func StripControl(s string) string {
	if !strings.ContainsFunc(s, isStrippable) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isStrippable(r) {
			return -1
		}
		return r
	}, s)
}

func isStrippable(r rune) bool {
	if r == '\n' || r == '\r' || r == '\t' {
		return false
	}
	return unicode.IsControl(r)
}

// Tokenize lower-cases s and splits it into letter/digit runs. Tokens shorter
// than two runes and common English stop words are dropped.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Preview returns at most max runes of s on a single line, with "..." when cut.
func Preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:max])
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "in": true, "is": true, "it": true, "its": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "were": true, "what": true, "when": true, "which": true,
	"who": true, "will": true, "with": true, "did": true, "do": true, "does": true,
	"how": true, "i": true, "we": true, "my": true, "our": true, "about": true,
}

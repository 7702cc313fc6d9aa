// Package textnorm provides the text normalization and tokenization used by
// the contradiction rule engine. The rules are deliberately simple substring
// and token matches, so normalization is aggressive: punctuation becomes
// whitespace and a small synonym table folds common variants together.
package textnorm

import (
	"strings"
	"unicode"
)

// synonyms maps token variants to their canonical form. Unknown tokens pass
// through unchanged.
var synonyms = map[string]string{
	"db":        "database",
	"database":  "database",
	"databases": "database",
	"session":   "session",
	"sessions":  "session",
}

// Normalize lowercases text, replaces every punctuation character with a
// space, collapses whitespace runs, and trims. Empty input yields "".
func Normalize(text string) string {
	lowered := strings.ToLower(text)
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, lowered)
	return strings.Join(strings.Fields(mapped), " ")
}

// Tokenize splits normalized text on whitespace and applies the synonym
// table to each token.
func Tokenize(text string) []string {
	fields := strings.Fields(Normalize(text))
	tokens := make([]string, len(fields))
	for i, field := range fields {
		if canonical, ok := synonyms[field]; ok {
			tokens[i] = canonical
		} else {
			tokens[i] = field
		}
	}
	return tokens
}

// Package textnorm folds free text for keyword and name matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripAccents removes combining marks: "Télécom" becomes "Telecom".
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Key folds s for keyword matching: accents stripped, trimmed, lower-cased.
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(StripAccents(s)))
}

// Name folds s for entity-name matching: accents stripped, upper-cased,
// with runs of whitespace collapsed to one space.
func Name(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(StripAccents(s))), " ")
}

// Header folds a column header for case and whitespace insensitive lookup.
func Header(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}

// ContainsWords reports whether every word of query appears in name as a
// whole word. Both sides are folded with Name.
func ContainsWords(name, query string) bool {
	words := strings.Fields(Name(query))
	if len(words) == 0 {
		return true
	}

	tokens := strings.FieldsFunc(Name(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	present := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		present[tok] = true
	}

	for _, w := range words {
		if !present[w] {
			return false
		}
	}
	return true
}

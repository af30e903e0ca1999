package validate

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes combining marks after NFD decomposition, so accented
// supplier names compare equal across the upstream's inconsistent encodings.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// CleanName collapses internal whitespace and trims the string. Returns ""
// when nothing printable remains.
func CleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeKey folds a counterparty name into a comparison key: cleaned,
// uppercased, diacritics stripped. Used to merge supplier identities that
// differ only in accents or casing.
func NormalizeKey(s string) string {
	cleaned := CleanName(s)
	if cleaned == "" {
		return ""
	}
	folded, _, err := transform.String(stripMarks, cleaned)
	if err != nil {
		folded = cleaned
	}
	return strings.ToUpper(folded)
}

// Package titlekey builds the canonical, case-insensitive form of a title
// used to key cached ratings and to deduplicate pending lookups.
package titlekey

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Key is the normalized form of a title
type Key string

// typographic apostrophes are folded to the ASCII one so that
// "Ocean’s Eleven" and "Ocean's Eleven" share an entry
var quoteReplacer = strings.NewReplacer("\u2019", "'", "\u2018", "'")

// Normalize returns the canonical key for a raw title: trimmed, NFC composed
// and case folded. Titles that differ only in case map to the same key.
func Normalize(title string) Key {
	s := strings.TrimSpace(title)
	if s == "" {
		return ""
	}
	s = quoteReplacer.Replace(s)
	s = norm.NFC.String(s)
	// A Caser holds state, so one is created per call rather than shared
	return Key(cases.Fold().String(s))
}

// String returns the key as a plain string
func (k Key) String() string {
	return string(k)
}

package visited

import (
	"strings"
	"unicode"
)

// NormalizeKey is the canonical transform for all key comparisons:
// lowercase, every non-alphanumeric rune stripped. Total and
// deterministic — it never errors, and normalizing twice is a no-op.
func NormalizeKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// looseKey is the weaker separator-insensitive form: lowercase with only
// underscores and spaces removed. Used as the last rung of the match
// ladder for identifiers whose punctuation carries meaning.
func looseKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.TrimSpace(s) {
		if r == '_' || r == ' ' {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// pathLike reports whether a raw evidence string looks like a filesystem
// or asset path rather than a destination identifier.
func pathLike(s string) bool {
	return strings.ContainsAny(s, `/\:`)
}

// genericTokens are evidence strings too common to identify any one
// destination. Compared after normalization.
var genericTokens = map[string]struct{}{
	"save":     {},
	"savegame": {},
	"game":     {},
	"data":     {},
	"player":   {},
	"scene":    {},
	"world":    {},
	"default":  {},
	"none":     {},
	"null":     {},
	"true":     {},
	"false":    {},
}

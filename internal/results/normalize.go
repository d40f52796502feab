package results

import (
	"unicode"
	"unicode/utf8"
)

// NormalizeLevel upper-cases the first rune of a mitigation maturity level
// and leaves the remainder untouched ("foundational" -> "Foundational").
func NormalizeLevel(raw string) string {
	r, size := utf8.DecodeRuneInString(raw)
	if r == utf8.RuneError {
		return raw
	}
	upper := unicode.ToUpper(r)
	if upper == r {
		return raw
	}
	return string(upper) + raw[size:]
}

package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName canonicalizes a department or activity name for lookups.
// Store tables are edited by hand, so names arrive with stray whitespace and
// in either composed or decomposed Unicode form.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

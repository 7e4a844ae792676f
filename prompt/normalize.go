package prompt

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	halfWidthComma = ","
	fullWidthComma = "，"
)

var commaSpacing = regexp.MustCompile(`,[\s\p{Zs}]*`)

// Normalize splits raw prompt text into segments.
//
// If more than half of the commas are full-width, every full-width comma
// becomes a half-width one. Whitespace after half-width commas is then
// collapsed and the text is split on them. Full-width commas that survive
// (because they were the minority) stay inside their segment along with any
// spacing around them. Each segment has its leading whitespace trimmed.
//
// Empty input yields nil.
func Normalize(text string) []string {
	if text == "" {
		return nil
	}

	half := strings.Count(text, halfWidthComma)
	full := strings.Count(text, fullWidthComma)
	if total := half + full; total > 0 && float64(full)/float64(total) > 0.5 {
		text = strings.ReplaceAll(text, fullWidthComma, halfWidthComma)
	}

	text = commaSpacing.ReplaceAllString(text, halfWidthComma)

	parts := strings.Split(text, halfWidthComma)
	for i, p := range parts {
		parts[i] = strings.TrimLeftFunc(p, unicode.IsSpace)
	}
	return parts
}

// Join is the inverse of Normalize for already-clean segments.
func Join(parts []string) string {
	return strings.Join(parts, halfWidthComma)
}

package transcript

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	pronounIContractionPattern = regexp.MustCompile(`\bi['’](?:m|d|ll|ve|re|s)\b`)
	pronounIWordPattern        = regexp.MustCompile(`\bi\b`)
)

// Tidy normalizes a finalized utterance before it is routed as a prompt:
// whitespace is collapsed, sentence starts are capitalized, and the pronoun "i" is upper-cased.
func Tidy(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return ""
	}
	normalized = capitalizeSentenceStarts(normalized)
	normalized = pronounIContractionPattern.ReplaceAllStringFunc(normalized, func(match string) string {
		return "I" + match[1:]
	})
	return pronounIWordPattern.ReplaceAllStringFunc(normalized, func(string) string { return "I" })
}

func capitalizeSentenceStarts(text string) string {
	runes := []rune(text)
	upper := true
	for i, r := range runes {
		switch {
		case upper && unicode.IsLetter(r):
			runes[i] = unicode.ToUpper(r)
			upper = false
		case upper && unicode.IsDigit(r):
			upper = false
		case r == '.' || r == '!' || r == '?':
			upper = i+1 < len(runes) && unicode.IsSpace(runes[i+1])
		}
	}
	return string(runes)
}

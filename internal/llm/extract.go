package llm

import (
	"regexp"
	"strings"
)

var thinkBlockPattern = regexp.MustCompile(`(?s)<think(?:ing)?>.*?</think(?:ing)?>`)

// StripThinkBlocks removes reasoning markup some models emit before their
// real answer.
func StripThinkBlocks(text string) string {
	return strings.TrimSpace(thinkBlockPattern.ReplaceAllString(text, ""))
}

// ExtractJSONObject returns the first balanced {...} object in text. The
// scan tracks brace depth, skipping braces inside quoted strings and
// honoring backslash escapes, so narrative text around the object is
// tolerated. Returns false when no complete object is present.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}

		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}

	return "", false
}

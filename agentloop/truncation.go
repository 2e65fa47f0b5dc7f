package agentloop

import (
	"strings"
	"unicode/utf8"
)

// textPreviewChars is the preview length used when a model answers with
// text where a tool call was expected.
const textPreviewChars = 100

// Preview returns at most maxChars runes of text on one line, with an
// ellipsis when anything was cut.
func Preview(text string, maxChars int) string {
	text = strings.Join(strings.Fields(text), " ")
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChars]) + "..."
}

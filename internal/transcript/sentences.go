package transcript

import (
	"strings"

	"github.com/jdkato/prose/v2"
)

// SplitSentences segments text into sentences. The second return value
// reports whether the final sentence is still incomplete (no terminator yet).
func SplitSentences(text string) ([]string, bool) {
	doc, err := prose.NewDocument(text,
		prose.WithTokenization(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, false
	}

	sentences := doc.Sentences()
	if len(sentences) == 0 {
		return nil, true
	}

	result := make([]string, len(sentences))
	for i, s := range sentences {
		result[i] = strings.TrimSpace(s.Text)
	}

	hasIncomplete := !endsWithTerminator(result[len(result)-1])
	return result, hasIncomplete
}

// NormalizeLines rewrites streamed text so that sentence-ending punctuation
// forces a line break.
func NormalizeLines(text string) string {
	var out []string
	for _, block := range strings.Split(text, "\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		sentences, _ := SplitSentences(block)
		if len(sentences) == 0 {
			out = append(out, block)
			continue
		}
		out = append(out, sentences...)
	}
	return strings.Join(out, "\n")
}

func endsWithTerminator(s string) bool {
	s = strings.TrimRight(s, " \t\n\r\"')")
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return last == '.' || last == '!' || last == '?'
}

// EndsAtBoundary reports whether text currently ends at a sentence boundary.
func EndsAtBoundary(text string) bool {
	return endsWithTerminator(text)
}

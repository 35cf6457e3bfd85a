package observe

import (
	"strings"

	"github.com/google/uuid"
)

var proceduralKeywords = []string{
	"step", "first", "then", "next", "after", "finally", "click", "select",
	"configure", "open", "enter", "navigate", "make sure", "before",
}

// FromTranscript turns a spoken fragment into a low-confidence document
// observation when it contains procedural language.
func FromTranscript(entry TranscriptEntry) (Observation, bool) {
	text := strings.TrimSpace(entry.Text)
	if text == "" || !matchesAny(text, proceduralKeywords) {
		return Observation{}, false
	}
	if entry.Speaker != "" {
		text = entry.Speaker + ": " + text
	}
	return Observation{
		ID:         uuid.New().String(),
		Timestamp:  entry.Timestamp,
		Text:       text,
		Category:   CategoryDocument,
		Source:     SourceTranscript,
		Confidence: ConfidenceLow,
	}, true
}

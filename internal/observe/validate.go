package observe

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// minContentLen is the minimum number of characters that must follow an
// action marker.
const minContentLen = 5

var actionMarkers = []string{"action:", "step:", "observation:"}

var actionVerbs = []string{
	"click", "select", "enter", "type", "configure", "navigate", "open",
	"save", "submit", "create", "edit", "delete", "drag", "scroll", "upload",
	"download", "run", "fill", "choose", "toggle", "search", "copy", "paste",
	"close", "switch",
}

// ValidateScreen checks a screen-derived description. It returns the content
// following the action marker and true when the text names an actionable
// step. Text that fails validation must be discarded by the caller.
func ValidateScreen(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, marker := range actionMarkers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		content := strings.TrimSpace(firstLine(text[idx+len(marker):]))
		if utf8.RuneCountInString(content) < minContentLen {
			continue
		}
		if !matchesAny(content, actionVerbs) {
			continue
		}
		return content, true
	}
	return "", false
}

// NewScreenObservation validates and classifies a describe response. It
// returns false when the response does not describe an actionable step.
func NewScreenObservation(text string, at time.Time) (Observation, bool) {
	content, ok := ValidateScreen(text)
	if !ok {
		return Observation{}, false
	}
	return Observation{
		ID:         uuid.New().String(),
		Timestamp:  at,
		Text:       content,
		Category:   Classify(content),
		Source:     SourceScreen,
		Confidence: ConfidenceHigh,
		Details:    ParseDetails(text),
	}, true
}

// ParseDetails extracts optional "key: value" lines (app, page, action,
// before, after, repeat) from a describe response. It returns nil when none
// are present.
func ParseDetails(text string) *Details {
	var d Details
	found := false
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.Trim(strings.TrimSpace(key), "-* "))
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch key {
		case "app", "application":
			d.Application = value
		case "page", "screen":
			d.Page = value
		case "action":
			d.Action = value
		case "before":
			d.Before = value
		case "after":
			d.After = value
		case "repeat", "repeated":
			v := strings.ToLower(value)
			d.Repeated = v == "yes" || v == "true"
		default:
			continue
		}
		found = true
	}
	if !found {
		return nil
	}
	return &d
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// matchesAny reports whether any keyword appears in text as a whole word or
// a regular inflection of it (clicks, clicked, clicking, typed, dragging,
// copies). Keywords containing a space are matched as phrases.
func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	tokens := tokenize(lower)
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(lower, kw) {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if inflectionOf(tok, kw) {
				return true
			}
		}
	}
	return false
}

var inflectionSuffixes = []string{"s", "es", "ed", "ing"}

func inflectionOf(tok, kw string) bool {
	if tok == kw {
		return true
	}
	if len(tok) <= len(kw) {
		return false
	}
	stems := []string{kw, kw + kw[len(kw)-1:]}
	switch {
	case strings.HasSuffix(kw, "e"):
		stems = append(stems, kw[:len(kw)-1])
	case strings.HasSuffix(kw, "y"):
		stems = append(stems, kw[:len(kw)-1]+"i")
	}
	for _, stem := range stems {
		suffix, ok := strings.CutPrefix(tok, stem)
		if ok && slices.Contains(inflectionSuffixes, suffix) {
			return true
		}
	}
	return false
}

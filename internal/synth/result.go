package synth

import (
	"encoding/json"
	"errors"
	"strings"
)

// GenericChangeSummary is recorded when the collaborator gives none.
const GenericChangeSummary = "Updated from meeting observations"

// ErrEmptyResponse is returned when the collaborator answers with nothing.
var ErrEmptyResponse = errors.New("empty synthesis response")

// ResultKind tags which shape a Result holds.
type ResultKind int

const (
	Freeform ResultKind = iota
	Structured
)

func (k ResultKind) String() string {
	if k == Structured {
		return "structured"
	}
	return "freeform"
}

// Result is either Structured (Fields is set) or Freeform (Text is set).
type Result struct {
	Kind          ResultKind
	Fields        Fields
	Text          string
	ChangeSummary string
}

// Content renders the result as the document body.
func (r Result) Content(fallbackTitle string) string {
	if r.Kind == Structured {
		return r.Fields.Markdown(fallbackTitle)
	}
	return r.Text
}

// SectionsJSON returns the fields as JSON for structured results and "" for
// freeform ones.
func (r Result) SectionsJSON() string {
	if r.Kind != Structured {
		return ""
	}
	b, err := json.Marshal(r.Fields)
	if err != nil {
		return ""
	}
	return string(b)
}

type structuredPayload struct {
	Fields
	ChangeSummary string `json:"change_summary"`
}

// ParseResult interprets a collaborator response. When structured is set it
// first tries to decode a JSON object (optionally wrapped in a markdown
// fence or surrounded by prose); anything that does not yield usable fields
// falls back to Freeform with the whole text.
func ParseResult(raw string, structured bool) (Result, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Result{}, ErrEmptyResponse
	}

	if structured {
		if obj, ok := extractObject(text); ok {
			var p structuredPayload
			if err := json.Unmarshal([]byte(obj), &p); err == nil && !p.Fields.empty() {
				summary := strings.TrimSpace(p.ChangeSummary)
				if summary == "" {
					summary = GenericChangeSummary
				}
				return Result{Kind: Structured, Fields: p.Fields, ChangeSummary: summary}, nil
			}
		}
	}

	return Result{Kind: Freeform, Text: stripFence(text), ChangeSummary: GenericChangeSummary}, nil
}

// extractObject returns the outermost {...} span of s.
func extractObject(s string) (string, bool) {
	s = stripFence(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// stripFence removes a surrounding ``` fence, with or without a language tag.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

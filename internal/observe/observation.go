// Package observe turns captioned screen captures and transcript lines into
// validated, classified observations, and filters near-duplicate analysis
// responses.
package observe

import "time"

// Category tags what kind of screen content an observation describes.
type Category string

const (
	CategoryCode         Category = "code"
	CategoryDiagram      Category = "diagram"
	CategoryPresentation Category = "presentation"
	CategoryDocument     Category = "document"
	CategoryUI           Category = "ui"
	CategoryOther        Category = "other"
)

// Source records where an observation came from.
type Source string

const (
	SourceScreen     Source = "screen"
	SourceTranscript Source = "transcript"
)

// Confidence is how much weight the synthesizer should give an observation.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// Observation is a validated record of one captured action or spoken
// procedural statement. Observations are never edited once appended to a
// log; later observations supersede earlier ones.
type Observation struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Text       string     `json:"text"`
	Category   Category   `json:"category"`
	Source     Source     `json:"source"`
	Confidence Confidence `json:"confidence"`
	Details    *Details   `json:"details,omitempty"`
}

// Details holds the optional structured fields a describe response may carry.
type Details struct {
	Application string `json:"application,omitempty"`
	Page        string `json:"page,omitempty"`
	Action      string `json:"action,omitempty"`
	Before      string `json:"before,omitempty"`
	After       string `json:"after,omitempty"`
	Repeated    bool   `json:"repeated,omitempty"`
}

// TranscriptEntry is one spoken fragment attributed to a speaker.
type TranscriptEntry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

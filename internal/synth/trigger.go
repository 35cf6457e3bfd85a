package synth

import "time"

// Thresholds for ShouldTrigger.
const (
	MinNewObservations   = 2
	MinTranscriptEntries = 3
	MinTranscriptChars   = 50
	MinInterval          = 30 * time.Second
)

// TriggerInput is the state ShouldTrigger evaluates for one document thread.
type TriggerInput struct {
	NewObservations   int
	TranscriptEntries int
	TranscriptChars   int
	LastSynthesis     time.Time
	Now               time.Time
	// Force bypasses every threshold, e.g. when the workflow enters instruct.
	Force bool
}

// ShouldTrigger reports whether a synthesis pass should run: enough new
// material (observations or transcript) and enough time since the last pass.
func ShouldTrigger(in TriggerInput) bool {
	if in.Force {
		return true
	}
	enough := in.NewObservations >= MinNewObservations ||
		(in.TranscriptEntries >= MinTranscriptEntries && in.TranscriptChars >= MinTranscriptChars)
	if !enough {
		return false
	}
	return in.LastSynthesis.IsZero() || in.Now.Sub(in.LastSynthesis) >= MinInterval
}

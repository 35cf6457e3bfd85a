package pipeline

import (
	"strings"

	"github.com/kalambet/opscribe/internal/metrics"
	"github.com/kalambet/opscribe/internal/observe"
	"github.com/kalambet/opscribe/internal/storage"
)

// handleTranscript records a spoken fragment and re-arms the meeting's
// debounced synthesis check.
func (o *Observer) handleTranscript(ev Event) Result {
	sess, unlock := o.registry.Lock(ev.MeetingID)
	ws, err := o.attach(sess)
	if err != nil {
		unlock()
		return errorResult(err)
	}
	if r, ok := blocked(ws); ok {
		unlock()
		metrics.Transcripts.WithLabelValues(metrics.OutcomePaused).Inc()
		return r
	}
	if !sess.TranscriptionEnabled {
		unlock()
		metrics.Transcripts.WithLabelValues(metrics.OutcomeRejected).Inc()
		return status(StatusTranscriptionOff)
	}

	entry := observe.TranscriptEntry{
		Speaker:   ev.Speaker,
		Text:      strings.TrimSpace(ev.Payload),
		Timestamp: o.clock.Now(),
	}
	sess.AppendTranscript(entry)
	obs, procedural := observe.FromTranscript(entry)
	if procedural {
		sess.AppendObservation(obs)
	}
	obsSessionID := sess.ObservationSessionID
	unlock()

	if procedural {
		metrics.Transcripts.WithLabelValues(metrics.OutcomeAccepted).Inc()
		o.persistObservation(obsSessionID, obs)
	} else {
		metrics.Transcripts.WithLabelValues(metrics.OutcomeInvalid).Inc()
	}

	o.debouncer.Schedule(ev.MeetingID, func() {
		o.scheduleSynthesis(sess, false, storage.Kinds...)
	})
	return status(StatusObserving)
}

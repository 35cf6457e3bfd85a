package pipeline

import (
	"context"
	"time"

	"github.com/kalambet/opscribe/internal/fingerprint"
	"github.com/kalambet/opscribe/internal/metrics"
	"github.com/kalambet/opscribe/internal/observe"
	"github.com/kalambet/opscribe/internal/storage"
)

// handleCapture gates a frame, describes it, filters near-duplicate
// descriptions and appends the resulting observation.
func (o *Observer) handleCapture(ctx context.Context, ev Event) Result {
	sess, unlock := o.registry.Lock(ev.MeetingID)
	ws, err := o.attach(sess)
	if err != nil {
		unlock()
		return errorResult(err)
	}
	if r, ok := blocked(ws); ok {
		unlock()
		metrics.Captures.WithLabelValues(metrics.OutcomePaused).Inc()
		return r
	}

	release, ok := sess.TryBeginAnalysis()
	if !ok {
		sess.Rate.Skip()
		unlock()
		metrics.Captures.WithLabelValues(metrics.OutcomeRejected).Inc()
		return status(StatusObserving)
	}
	defer release()

	fp := fingerprint.OfString(ev.Payload)
	decision := o.gate.Evaluate(&sess.Rate, fp, o.clock.Now())
	if !decision.Accept {
		unlock()
		metrics.Captures.WithLabelValues(metrics.OutcomeRejected).Inc()
		return status(StatusObserving)
	}
	previous := sess.LastText
	unlock()

	start := time.Now()
	text, err := o.describer.Describe(ctx, ev.Payload, previous)
	metrics.DescribeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Captures.WithLabelValues(metrics.OutcomeFailed).Inc()
		o.logger.Warn("describing capture failed", "meeting_id", ev.MeetingID, "error", err)
		return errorResult(err)
	}

	unlock, ok = o.registry.Relock(sess)
	if !ok {
		// Stopped or expired while the frame was being described.
		return status(StatusObserving)
	}
	now := o.clock.Now()
	o.gate.Commit(&sess.Rate, fp, now)

	if sess.LastText != "" && observe.Similar(text, sess.LastText) {
		unlock()
		metrics.Captures.WithLabelValues(metrics.OutcomeSuppressed).Inc()
		return status(StatusObserving)
	}
	sess.LastText = text

	obs, valid := observe.NewScreenObservation(text, now)
	if valid {
		sess.AppendObservation(obs)
	}
	count := sess.Thread(storage.KindProcedure).Len()
	obsSessionID := sess.ObservationSessionID
	unlock()

	o.publish(ev.MeetingID, Result{Kind: ResultDocumentStatus, Content: text, ObservationCount: count})
	if !valid {
		metrics.Captures.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return status(StatusObserving)
	}

	metrics.Captures.WithLabelValues(metrics.OutcomeAccepted).Inc()
	o.persistObservation(obsSessionID, obs)
	o.scheduleSynthesis(sess, false, storage.Kinds...)
	return status(StatusObserving)
}

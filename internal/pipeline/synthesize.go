package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/opscribe/internal/ingest"
	"github.com/kalambet/opscribe/internal/metrics"
	"github.com/kalambet/opscribe/internal/observe"
	"github.com/kalambet/opscribe/internal/session"
	"github.com/kalambet/opscribe/internal/storage"
	"github.com/kalambet/opscribe/internal/synth"
)

type claimOutcome int

const (
	claimed claimOutcome = iota
	claimBelowThreshold
	claimBusy
	claimGone
)

// snapshot is the input of one synthesis pass, captured under the meeting
// lock.
type snapshot struct {
	sess       *session.Session
	kind       storage.DocumentKind
	to         int
	obs        []observe.Observation
	transcript []observe.TranscriptEntry
	seq        int
}

func (o *Observer) scheduleSynthesis(sess *session.Session, force bool, kinds ...storage.DocumentKind) {
	for _, kind := range kinds {
		o.spawn(func() { o.synthesize(o.ctx, sess, kind, force) })
	}
}

// synthesize runs one pass for a document thread when its trigger is met.
// A forced pass bypasses the trigger and waits for a running pass to finish
// instead of being skipped.
func (o *Observer) synthesize(ctx context.Context, sess *session.Session, kind storage.DocumentKind, force bool) {
	var (
		snap    snapshot
		release func()
	)
	for {
		var outcome claimOutcome
		snap, release, outcome = o.claim(sess, kind, force)
		switch outcome {
		case claimBelowThreshold:
			metrics.Syntheses.WithLabelValues(string(kind), metrics.SynthesisSkipped).Inc()
			return
		case claimGone:
			return
		case claimBusy:
			if !force {
				metrics.Syntheses.WithLabelValues(string(kind), metrics.SynthesisBusy).Inc()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(forceRetry):
			}
			continue
		}
		break
	}
	defer release()

	if err := o.run(ctx, snap); err != nil {
		metrics.Syntheses.WithLabelValues(string(kind), metrics.SynthesisError).Inc()
		o.logger.Warn("synthesis failed", "meeting_id", sess.MeetingID, "kind", kind, "error", err)
		o.publish(sess.MeetingID, Result{Kind: ResultError, Content: err.Error(), Document: kind})
		return
	}
	metrics.Syntheses.WithLabelValues(string(kind), metrics.SynthesisOK).Inc()
}

// claim evaluates the trigger and takes the thread's single-flight guard.
func (o *Observer) claim(sess *session.Session, kind storage.DocumentKind, force bool) (snapshot, func(), claimOutcome) {
	unlock, ok := o.registry.Relock(sess)
	if !ok {
		return snapshot{}, nil, claimGone
	}
	defer unlock()

	t := sess.Thread(kind)
	fresh := sess.TranscriptSince(t.TranscriptSeen())
	chars := 0
	for _, e := range fresh {
		chars += len(e.Text)
	}
	in := synth.TriggerInput{
		NewObservations:   t.Len() - t.Cursor(),
		TranscriptEntries: len(fresh),
		TranscriptChars:   chars,
		LastSynthesis:     t.LastSynthesis,
		Now:               o.clock.Now(),
		Force:             force,
	}
	if !synth.ShouldTrigger(in) {
		return snapshot{}, nil, claimBelowThreshold
	}

	release, ok := t.TryAcquire()
	if !ok {
		return snapshot{}, nil, claimBusy
	}
	return snapshot{
		sess:       sess,
		kind:       kind,
		to:         t.Len(),
		obs:        t.Pending(),
		transcript: sess.Transcript(),
		seq:        sess.TranscriptSeq(),
	}, release, claimed
}

// run performs the backend call and the durable write. The in-memory cursor
// only advances once the new version is stored.
func (o *Observer) run(ctx context.Context, snap snapshot) error {
	meetingID := snap.sess.MeetingID
	flavor, _ := synth.FlavorFor(snap.kind)

	existing, err := o.store.GetDocument(meetingID, snap.kind)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	answered, err := o.workflow.AnsweredContext(meetingID)
	if err != nil {
		o.logger.Warn("loading clarifications failed", "meeting_id", meetingID, "error", err)
		answered = nil
	}

	req := synth.BuildRequest(flavor, o.templates.Get(flavor), existing.Content, snap.transcript, snap.obs, answered)
	start := time.Now()
	res, err := o.synthesizer.Synthesize(ctx, req)
	metrics.SynthesisDuration.WithLabelValues(string(snap.kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	title := res.Fields.Title
	if title == "" && existing.ID == "" {
		title = flavor.Title
	}
	doc, err := o.store.AppendVersion(storage.NewVersion{
		MeetingID:     meetingID,
		Kind:          snap.kind,
		Title:         title,
		Content:       res.Content(flavor.Title),
		SectionsJSON:  res.SectionsJSON(),
		ChangeSummary: res.ChangeSummary,
	})
	if err != nil {
		return err
	}

	count := snap.to
	if unlock, ok := o.registry.Relock(snap.sess); ok {
		t := snap.sess.Thread(snap.kind)
		if err := t.Commit(snap.to, doc.Version, o.clock.Now()); err != nil {
			o.logger.Warn("committing thread state failed", "meeting_id", meetingID, "kind", snap.kind, "error", err)
		}
		t.MarkTranscript(snap.seq)
		count = t.Len()
		unlock()
	}

	o.logger.Info("document updated", "meeting_id", meetingID, "kind", snap.kind,
		"version", doc.Version, "result", res.Kind.String(), "observations", len(snap.obs))
	o.publish(meetingID, Result{
		Kind:             ResultDocumentUpdate,
		Content:          doc.Content,
		DocumentVersion:  doc.Version,
		ObservationCount: count,
		Document:         snap.kind,
	})

	if snap.kind == storage.KindProcedure {
		job, err := ingest.NewFlowchartJob(doc.ID, doc.Version)
		if err == nil {
			err = o.store.EnqueueJob(job)
		}
		if err != nil {
			o.logger.Warn("enqueueing flowchart job failed", "document_id", doc.ID, "error", err)
		}
	}
	return nil
}

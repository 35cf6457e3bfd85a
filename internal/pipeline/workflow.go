package pipeline

import (
	"github.com/kalambet/opscribe/internal/storage"
)

// Advance moves the meeting's workflow one phase forward. Entering the
// instruct phase forces a procedure synthesis.
func (o *Observer) Advance(meetingID string) (storage.ObservationSession, error) {
	sess, unlock := o.registry.Lock(meetingID)
	_, err := o.attach(sess)
	unlock()
	if err != nil {
		return storage.ObservationSession{}, err
	}

	ws, entered, err := o.workflow.Advance(meetingID)
	if err != nil {
		return ws, err
	}
	o.publish(meetingID, status("phase:"+string(ws.Phase)))
	if entered {
		o.logger.Info("instruct phase entered, forcing procedure synthesis", "meeting_id", meetingID)
		o.scheduleSynthesis(sess, true, storage.KindProcedure)
	}
	return ws, nil
}

// Pause stops analysis of the meeting's events until Resume.
func (o *Observer) Pause(meetingID string) (storage.ObservationSession, error) {
	ws, err := o.workflow.Pause(meetingID)
	if err == nil {
		o.publish(meetingID, status(StatusPaused))
	}
	return ws, err
}

func (o *Observer) Resume(meetingID string) (storage.ObservationSession, error) {
	ws, err := o.workflow.Resume(meetingID)
	if err == nil && ws.Status == storage.SessionActive {
		o.publish(meetingID, status(StatusObserving))
	}
	return ws, err
}

// Complete closes the meeting's workflow and drops its in-memory session.
func (o *Observer) Complete(meetingID string) (storage.ObservationSession, error) {
	ws, err := o.workflow.Complete(meetingID)
	if err != nil {
		return ws, err
	}
	o.Forget(meetingID)
	o.publish(meetingID, status(StatusCompleted))
	return ws, nil
}

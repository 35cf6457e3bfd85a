package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestObservationSessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	sess, err := s.CreateObservationSession("m1")
	if err != nil {
		t.Fatalf("CreateObservationSession: %v", err)
	}
	if sess.Phase != PhaseObserve || sess.Status != SessionActive {
		t.Errorf("new session = %s/%s, want observe/active", sess.Phase, sess.Status)
	}

	sess.Phase = PhaseStructure
	sess.Status = SessionPaused
	if err := s.UpdateObservationSession(sess); err != nil {
		t.Fatalf("UpdateObservationSession: %v", err)
	}

	got, err := s.GetObservationSession(sess.ID)
	if err != nil {
		t.Fatalf("GetObservationSession: %v", err)
	}
	if got.Phase != PhaseStructure || got.Status != SessionPaused {
		t.Errorf("stored session = %s/%s, want structure/paused", got.Phase, got.Status)
	}

	if err := s.UpdateObservationSession(ObservationSession{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLatestObservationSession(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.LatestObservationSession("m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.CreateObservationSession("m1"); err != nil {
		t.Fatal(err)
	}
	second, err := s.CreateObservationSession("m1")
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.LatestObservationSession("m1")
	if err != nil {
		t.Fatalf("LatestObservationSession: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("ID = %q, want %q", got.ID, second.ID)
	}
}

func TestObservations_OrderAndPaging(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateObservationSession("m1")
	if err != nil {
		t.Fatal(err)
	}

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := s.SaveObservation(ObservationRecord{
			ID:         fmt.Sprintf("o%d", i),
			SessionID:  sess.ID,
			Timestamp:  base.Add(time.Duration(i) * 250 * time.Millisecond),
			Text:       fmt.Sprintf("Click button %d", i),
			Category:   "ui",
			Source:     "screen",
			Confidence: "high",
		})
		if err != nil {
			t.Fatalf("SaveObservation %d: %v", i, err)
		}
	}

	n, err := s.CountObservations(sess.ID)
	if err != nil || n != 5 {
		t.Fatalf("CountObservations = %d, %v; want 5", n, err)
	}

	page, err := s.ListObservations(sess.ID, 2, 1)
	if err != nil {
		t.Fatalf("ListObservations: %v", err)
	}
	if len(page) != 2 || page[0].ID != "o1" || page[1].ID != "o2" {
		t.Errorf("page = %+v, want o1,o2", page)
	}
	if !page[0].Timestamp.Equal(base.Add(250 * time.Millisecond)) {
		t.Errorf("Timestamp = %v, want sub-second precision kept", page[0].Timestamp)
	}
}

func TestClarifications(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.CreateObservationSession("m1")
	if err != nil {
		t.Fatal(err)
	}

	for i, q := range []string{"Which approver?", "What is the limit?"} {
		if err := s.SaveClarification(Clarification{ID: fmt.Sprintf("c%d", i), SessionID: sess.ID, Question: q, Category: "policy"}); err != nil {
			t.Fatalf("SaveClarification: %v", err)
		}
	}

	c, err := s.GetClarification("c0")
	if err != nil {
		t.Fatalf("GetClarification: %v", err)
	}
	if c.Status != ClarificationPending || !c.AnsweredAt.IsZero() {
		t.Errorf("new clarification = %+v, want pending and unanswered", c)
	}

	c.Status = ClarificationAnswered
	c.Answer = "The team lead"
	c.AnsweredAt = time.Now()
	if err := s.UpdateClarification(c); err != nil {
		t.Fatalf("UpdateClarification: %v", err)
	}

	answered, err := s.ListClarifications(sess.ID, ClarificationAnswered)
	if err != nil {
		t.Fatalf("ListClarifications: %v", err)
	}
	if len(answered) != 1 || answered[0].Answer != "The team lead" || answered[0].AnsweredAt.IsZero() {
		t.Errorf("answered = %+v", answered)
	}

	all, err := s.ListClarifications(sess.ID, "")
	if err != nil {
		t.Fatalf("ListClarifications all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}

	if err := s.UpdateClarification(Clarification{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

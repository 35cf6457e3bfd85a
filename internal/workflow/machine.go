// Package workflow drives the observe → structure → instruct phases of an
// observation session and its clarification questions.
package workflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/opscribe/internal/storage"
)

var (
	// ErrCompleted is returned for transitions out of a completed session.
	ErrCompleted = errors.New("observation session is completed")
	// ErrNoDocument is returned by Complete before any document exists.
	ErrNoDocument = errors.New("no document has been synthesized yet")
	// ErrNotPending is returned when answering or skipping a clarification
	// that is no longer pending.
	ErrNotPending = errors.New("clarification is not pending")
	// ErrEmptyText is returned for a blank question or answer.
	ErrEmptyText = errors.New("text must not be empty")
)

// Store is the persistence the machine needs. *storage.Store satisfies it.
type Store interface {
	CreateObservationSession(meetingID string) (storage.ObservationSession, error)
	LatestObservationSession(meetingID string) (storage.ObservationSession, error)
	UpdateObservationSession(o storage.ObservationSession) error
	ListDocuments(meetingID string) ([]storage.Document, error)

	SaveClarification(c storage.Clarification) error
	GetClarification(id string) (storage.Clarification, error)
	ListClarifications(sessionID string, status storage.ClarificationStatus) ([]storage.Clarification, error)
	UpdateClarification(c storage.Clarification) error
}

// Machine applies phase and status transitions. Transitions for all
// meetings are serialized.
type Machine struct {
	store Store
	now   func() time.Time
	mu    sync.Mutex
}

func NewMachine(store Store) *Machine {
	return &Machine{store: store, now: time.Now}
}

// Get returns the meeting's current observation session.
func (m *Machine) Get(meetingID string) (storage.ObservationSession, error) {
	return m.store.LatestObservationSession(meetingID)
}

// Ensure returns the meeting's current session, creating one in the observe
// phase if the meeting has none.
func (m *Machine) Ensure(meetingID string) (storage.ObservationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensure(meetingID)
}

func (m *Machine) ensure(meetingID string) (storage.ObservationSession, error) {
	o, err := m.store.LatestObservationSession(meetingID)
	if errors.Is(err, storage.ErrNotFound) {
		return m.store.CreateObservationSession(meetingID)
	}
	return o, err
}

// Start returns an active session, creating a fresh one when the meeting has
// none or its latest session is completed.
func (m *Machine) Start(meetingID string) (storage.ObservationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.ensure(meetingID)
	if err != nil {
		return o, err
	}
	if o.Status == storage.SessionCompleted {
		return m.store.CreateObservationSession(meetingID)
	}
	return o, nil
}

// Advance moves the phase forward by one. It reports true when this call
// entered the instruct phase. Advancing from instruct changes nothing.
func (m *Machine) Advance(meetingID string) (storage.ObservationSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.ensure(meetingID)
	if err != nil {
		return o, false, err
	}
	if o.Status == storage.SessionCompleted {
		return o, false, ErrCompleted
	}

	next, ok := nextPhase(o.Phase)
	if !ok {
		return o, false, nil
	}
	o.Phase = next
	if err := m.save(&o); err != nil {
		return o, false, err
	}
	return o, next == storage.PhaseInstruct, nil
}

func nextPhase(p storage.Phase) (storage.Phase, bool) {
	switch p {
	case storage.PhaseObserve:
		return storage.PhaseStructure, true
	case storage.PhaseStructure:
		return storage.PhaseInstruct, true
	}
	return p, false
}

// Pause stops analysis of incoming events. A completed session is left as is.
func (m *Machine) Pause(meetingID string) (storage.ObservationSession, error) {
	return m.setStatus(meetingID, storage.SessionActive, storage.SessionPaused)
}

// Resume undoes Pause. A completed session is left as is.
func (m *Machine) Resume(meetingID string) (storage.ObservationSession, error) {
	return m.setStatus(meetingID, storage.SessionPaused, storage.SessionActive)
}

func (m *Machine) setStatus(meetingID string, from, to storage.SessionStatus) (storage.ObservationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.ensure(meetingID)
	if err != nil {
		return o, err
	}
	if o.Status != from {
		return o, nil
	}
	o.Status = to
	err = m.save(&o)
	return o, err
}

// Complete closes the session. At least one document must exist.
func (m *Machine) Complete(meetingID string) (storage.ObservationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.ensure(meetingID)
	if err != nil {
		return o, err
	}
	if o.Status == storage.SessionCompleted {
		return o, ErrCompleted
	}
	docs, err := m.store.ListDocuments(meetingID)
	if err != nil {
		return o, fmt.Errorf("listing documents: %w", err)
	}
	if len(docs) == 0 {
		return o, ErrNoDocument
	}
	o.Status = storage.SessionCompleted
	err = m.save(&o)
	return o, err
}

func (m *Machine) save(o *storage.ObservationSession) error {
	o.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateObservationSession(*o); err != nil {
		return fmt.Errorf("updating observation session: %w", err)
	}
	return nil
}

// --- Clarifications ---

// Ask records a pending question against the meeting's current session.
func (m *Machine) Ask(meetingID, question, category string) (storage.Clarification, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return storage.Clarification{}, ErrEmptyText
	}
	o, err := m.Ensure(meetingID)
	if err != nil {
		return storage.Clarification{}, err
	}
	c := storage.Clarification{
		ID:        uuid.New().String(),
		SessionID: o.ID,
		Question:  question,
		Category:  category,
		Status:    storage.ClarificationPending,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.SaveClarification(c); err != nil {
		return storage.Clarification{}, fmt.Errorf("saving clarification: %w", err)
	}
	return c, nil
}

// Answer records the answer to a pending clarification.
func (m *Machine) Answer(id, answer string) (storage.Clarification, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return storage.Clarification{}, ErrEmptyText
	}
	return m.resolve(id, func(c *storage.Clarification) {
		c.Status = storage.ClarificationAnswered
		c.Answer = answer
		c.AnsweredAt = m.now().UTC()
	})
}

// Skip marks a pending clarification as skipped.
func (m *Machine) Skip(id string) (storage.Clarification, error) {
	return m.resolve(id, func(c *storage.Clarification) {
		c.Status = storage.ClarificationSkipped
	})
}

func (m *Machine) resolve(id string, apply func(*storage.Clarification)) (storage.Clarification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.store.GetClarification(id)
	if err != nil {
		return c, err
	}
	if c.Status != storage.ClarificationPending {
		return c, ErrNotPending
	}
	apply(&c)
	if err := m.store.UpdateClarification(c); err != nil {
		return c, fmt.Errorf("updating clarification: %w", err)
	}
	return c, nil
}

// List returns the clarifications of the meeting's current session filtered
// by status ("" for all). A meeting without a session has none.
func (m *Machine) List(meetingID string, status storage.ClarificationStatus) ([]storage.Clarification, error) {
	o, err := m.store.LatestObservationSession(meetingID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.store.ListClarifications(o.ID, status)
}

// Pending returns unanswered questions.
func (m *Machine) Pending(meetingID string) ([]storage.Clarification, error) {
	return m.List(meetingID, storage.ClarificationPending)
}

// AnsweredContext returns answered clarifications for inclusion in the next
// synthesis request.
func (m *Machine) AnsweredContext(meetingID string) ([]storage.Clarification, error) {
	return m.List(meetingID, storage.ClarificationAnswered)
}

package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionNotFound is returned when a rollback or lookup names a version
// the document never had.
var ErrVersionNotFound = errors.New("version not found")

// DocumentKind selects one of the two documents synthesized per meeting.
type DocumentKind string

const (
	KindProcedure DocumentKind = "procedure"
	KindRole      DocumentKind = "role"
)

// Kinds lists every document kind in synthesis order.
var Kinds = []DocumentKind{KindProcedure, KindRole}

func (k DocumentKind) Valid() bool {
	return k == KindProcedure || k == KindRole
}

// DocumentStatus is the human review state of a document.
type DocumentStatus string

const (
	StatusDraft    DocumentStatus = "draft"
	StatusReviewed DocumentStatus = "reviewed"
	StatusApproved DocumentStatus = "approved"
)

func (s DocumentStatus) Valid() bool {
	return s == StatusDraft || s == StatusReviewed || s == StatusApproved
}

// Phase is the forward-only workflow stage of an observation session.
type Phase string

const (
	PhaseObserve   Phase = "observe"
	PhaseStructure Phase = "structure"
	PhaseInstruct  Phase = "instruct"
)

// SessionStatus is orthogonal to Phase.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// ClarificationStatus tracks a clarification question.
type ClarificationStatus string

const (
	ClarificationPending  ClarificationStatus = "pending"
	ClarificationAnswered ClarificationStatus = "answered"
	ClarificationSkipped  ClarificationStatus = "skipped"
)

type Meeting struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// Document is the current state of a synthesized document. Version is the
// current pointer; LatestVersion is the highest version ever written.
type Document struct {
	ID            string
	MeetingID     string
	Kind          DocumentKind
	Title         string
	Status        DocumentStatus
	Version       int
	LatestVersion int
	Content       string
	SectionsJSON  string // synth.Fields as JSON; empty for freeform documents
	Flowchart     string // mermaid
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DocumentVersion is an immutable snapshot of a document.
type DocumentVersion struct {
	DocumentID    string
	Version       int
	Content       string
	SectionsJSON  string
	ChangeSummary string
	CreatedAt     time.Time
}

// NewVersion is the input to AppendVersion.
type NewVersion struct {
	MeetingID     string
	Kind          DocumentKind
	Title         string
	Content       string
	SectionsJSON  string
	ChangeSummary string
}

type ObservationSession struct {
	ID        string
	MeetingID string
	Phase     Phase
	Status    SessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ObservationRecord is the durable form of an accepted observation.
type ObservationRecord struct {
	ID          string
	SessionID   string
	Timestamp   time.Time
	Text        string
	Category    string
	Source      string
	Confidence  string
	DetailsJSON string
}

type Clarification struct {
	ID         string
	SessionID  string
	Question   string
	Category   string
	Status     ClarificationStatus
	Answer     string
	AnsweredAt time.Time
	CreatedAt  time.Time
}

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one unit of background work. A non-empty Key makes the job
// supersede any pending job of the same Type and Key.
type Job struct {
	ID          string
	Type        string
	Key         string
	PayloadJSON string
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

package pipeline

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/opscribe/internal/storage"
)

// ErrInvalidEvent wraps every envelope validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// EventKind selects the handler for an inbound event.
type EventKind string

const (
	KindCapture    EventKind = "capture"
	KindTranscript EventKind = "transcript"
	KindControl    EventKind = "control"
)

// Command is the action of a control event.
type Command string

const (
	CommandStart              Command = "start"
	CommandStop               Command = "stop"
	CommandStartTranscription Command = "start_transcription"
	CommandStopTranscription  Command = "stop_transcription"
	CommandPing               Command = "ping"
)

// Event is the inbound envelope. Payload is a base64 frame for captures
// and spoken text for transcripts.
type Event struct {
	Kind      EventKind `json:"kind" validate:"required,oneof=capture transcript control"`
	Payload   string    `json:"payload" validate:"required_unless=Kind control"`
	MeetingID string    `json:"meetingId" validate:"required,max=128,excludesall=/?#"`
	Speaker   string    `json:"speaker,omitempty" validate:"max=128"`
	Command   Command   `json:"command,omitempty" validate:"omitempty,oneof=start stop start_transcription stop_transcription ping"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the envelope before any session state is touched.
func (e Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if e.Kind == KindControl && e.Command == "" {
		return fmt.Errorf("%w: control event without command", ErrInvalidEvent)
	}
	return nil
}

// ResultKind tags an outbound envelope.
type ResultKind string

const (
	ResultStatus         ResultKind = "status"
	ResultDocumentUpdate ResultKind = "document_update"
	ResultDocumentStatus ResultKind = "document_status"
	ResultError          ResultKind = "error"
)

// Status texts carried by ResultStatus.
const (
	StatusPong             = "pong"
	StatusObserving        = "observing"
	StatusPaused           = "paused"
	StatusCompleted        = "completed"
	StatusStarted          = "started"
	StatusStopped          = "stopped"
	StatusTranscriptionOn  = "transcription_on"
	StatusTranscriptionOff = "transcription_off"
)

// Result is the outbound envelope, sent to the event's sender or broadcast
// to every listener on the meeting.
type Result struct {
	Kind             ResultKind           `json:"kind"`
	Content          string               `json:"content"`
	DocumentVersion  int                  `json:"documentVersion,omitempty"`
	ObservationCount int                  `json:"observationCount,omitempty"`
	Document         storage.DocumentKind `json:"document,omitempty"`
}

func status(text string) Result {
	return Result{Kind: ResultStatus, Content: text}
}

func errorResult(err error) Result {
	return Result{Kind: ResultError, Content: err.Error()}
}

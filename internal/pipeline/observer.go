// Package pipeline routes meeting events through change detection, rate
// limiting, analysis, validation and document synthesis.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/opscribe/internal/observe"
	"github.com/kalambet/opscribe/internal/ratelimit"
	"github.com/kalambet/opscribe/internal/session"
	"github.com/kalambet/opscribe/internal/storage"
	"github.com/kalambet/opscribe/internal/synth"
	"github.com/kalambet/opscribe/internal/workflow"
)

// Transcript synthesis checks run after a quiet period, or at the latest
// DefaultMaxWait after the first fragment that armed them.
const (
	DefaultDebounce = 4 * time.Second
	DefaultMaxWait  = 15 * time.Second
)

// forceRetry is how often a forced synthesis re-checks a busy thread.
const forceRetry = 200 * time.Millisecond

// Describer turns a captured frame into text.
type Describer interface {
	Describe(ctx context.Context, image, previous string) (string, error)
}

// Synthesizer produces a document revision.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (synth.Result, error)
}

// Templates supplies the prompt template of a flavor.
type Templates interface {
	Get(f synth.Flavor) string
}

// Publisher fans a message out to a meeting's listeners.
type Publisher interface {
	Publish(meetingID string, payload []byte) int
}

// Store is the durable state the observer writes.
type Store interface {
	GetDocument(meetingID string, kind storage.DocumentKind) (storage.Document, error)
	AppendVersion(v storage.NewVersion) (storage.Document, error)
	SaveObservation(r storage.ObservationRecord) error
	EnqueueJob(job storage.Job) error
}

// Deps wires an Observer. Clock, Gate, Debounce and MaxWait fall back to
// defaults.
type Deps struct {
	Registry    *session.Registry
	Workflow    *workflow.Machine
	Store       Store
	Describer   Describer
	Synthesizer Synthesizer
	Templates   Templates
	Publisher   Publisher
	Clock       ratelimit.Clock
	Gate        *ratelimit.Gate
	Debounce    time.Duration
	MaxWait     time.Duration
}

// Observer is the per-daemon event processor. It is safe for concurrent use;
// state is serialized per meeting by the session registry.
type Observer struct {
	registry    *session.Registry
	workflow    *workflow.Machine
	store       Store
	describer   Describer
	synthesizer Synthesizer
	templates   Templates
	publisher   Publisher
	clock       ratelimit.Clock
	gate        ratelimit.Gate
	debouncer   *ratelimit.Debouncer
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewObserver(d Deps) *Observer {
	if d.Clock == nil {
		d.Clock = ratelimit.SystemClock{}
	}
	gate := ratelimit.DefaultGate()
	if d.Gate != nil {
		gate = *d.Gate
	}
	if d.Debounce <= 0 {
		d.Debounce = DefaultDebounce
	}
	if d.MaxWait <= 0 {
		d.MaxWait = DefaultMaxWait
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Observer{
		registry:    d.Registry,
		workflow:    d.Workflow,
		store:       d.Store,
		describer:   d.Describer,
		synthesizer: d.Synthesizer,
		templates:   d.Templates,
		publisher:   d.Publisher,
		clock:       d.Clock,
		gate:        gate,
		debouncer:   ratelimit.NewDebouncer(d.Debounce, d.MaxWait),
		logger:      slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Handle validates and processes one event and returns the reply for its
// sender. Document updates go to every listener through the publisher.
func (o *Observer) Handle(ctx context.Context, ev Event) Result {
	if err := ev.Validate(); err != nil {
		return errorResult(err)
	}
	switch ev.Kind {
	case KindCapture:
		return o.handleCapture(ctx, ev)
	case KindTranscript:
		return o.handleTranscript(ev)
	default:
		return o.handleControl(ev)
	}
}

// Wait blocks until background syntheses have finished.
func (o *Observer) Wait() {
	o.wg.Wait()
}

// Close cancels pending debounced checks and in-flight syntheses and waits
// for them to return.
func (o *Observer) Close() {
	o.debouncer.Stop()
	o.cancel()
	o.wg.Wait()
}

// Forget tears down the in-memory session of a meeting.
func (o *Observer) Forget(meetingID string) bool {
	o.debouncer.Cancel(meetingID)
	return o.registry.Remove(meetingID)
}

// Sessions lists live in-memory sessions.
func (o *Observer) Sessions() []session.Info {
	return o.registry.Active()
}

// Session returns the live in-memory session of a meeting, if any.
func (o *Observer) Session(meetingID string) (session.Info, bool) {
	return o.registry.Peek(meetingID)
}

func (o *Observer) handleControl(ev Event) Result {
	switch ev.Command {
	case CommandPing:
		return status(StatusPong)

	case CommandStop:
		o.Forget(ev.MeetingID)
		return status(StatusStopped)

	case CommandStart:
		sess, unlock := o.registry.Lock(ev.MeetingID)
		defer unlock()
		ws, err := o.workflow.Start(ev.MeetingID)
		if err != nil {
			return errorResult(err)
		}
		if _, err := o.attach(sess); err != nil {
			return errorResult(err)
		}
		o.logger.Info("meeting started", "meeting_id", ev.MeetingID, "observation_session", ws.ID)
		return status(StatusStarted)

	case CommandStartTranscription, CommandStopTranscription:
		sess, unlock := o.registry.Lock(ev.MeetingID)
		defer unlock()
		if _, err := o.attach(sess); err != nil {
			return errorResult(err)
		}
		sess.TranscriptionEnabled = ev.Command == CommandStartTranscription
		if sess.TranscriptionEnabled {
			return status(StatusTranscriptionOn)
		}
		return status(StatusTranscriptionOff)
	}
	return errorResult(ErrInvalidEvent)
}

// attach links a session to its durable workflow record. The first attach
// of a session seeds its version counters from stored documents, so a
// session recreated after expiry keeps numbering where the store left off.
// Requires the meeting lock.
func (o *Observer) attach(sess *session.Session) (storage.ObservationSession, error) {
	ws, err := o.workflow.Ensure(sess.MeetingID)
	if err != nil {
		return ws, err
	}
	if sess.ObservationSessionID == "" {
		for _, kind := range storage.Kinds {
			doc, err := o.store.GetDocument(sess.MeetingID, kind)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return ws, err
			}
			sess.Thread(kind).SeedVersion(doc.LatestVersion)
		}
		sess.TranscriptionEnabled = true
	}
	sess.ObservationSessionID = ws.ID
	return ws, nil
}

// blocked returns the reply for events that arrive while the workflow does
// not accept input.
func blocked(ws storage.ObservationSession) (Result, bool) {
	switch ws.Status {
	case storage.SessionPaused:
		return status(StatusPaused), true
	case storage.SessionCompleted:
		return status(StatusCompleted), true
	}
	return Result{}, false
}

func (o *Observer) persistObservation(sessionID string, obs observe.Observation) {
	rec := storage.ObservationRecord{
		ID:         obs.ID,
		SessionID:  sessionID,
		Timestamp:  obs.Timestamp,
		Text:       obs.Text,
		Category:   string(obs.Category),
		Source:     string(obs.Source),
		Confidence: string(obs.Confidence),
	}
	if obs.Details != nil {
		if b, err := json.Marshal(obs.Details); err == nil {
			rec.DetailsJSON = string(b)
		}
	}
	if err := o.store.SaveObservation(rec); err != nil {
		o.logger.Warn("persisting observation failed", "session_id", sessionID, "error", err)
	}
}

func (o *Observer) publish(meetingID string, r Result) {
	if o.publisher == nil {
		return
	}
	b, err := json.Marshal(r)
	if err != nil {
		o.logger.Error("encoding result failed", "error", err)
		return
	}
	o.publisher.Publish(meetingID, b)
}

func (o *Observer) spawn(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

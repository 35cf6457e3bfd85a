package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/opscribe/internal/engine"
	"github.com/kalambet/opscribe/internal/session"
	"github.com/kalambet/opscribe/internal/storage"
	"github.com/kalambet/opscribe/internal/synth"
	"github.com/kalambet/opscribe/internal/workflow"
)

// --- Mocks ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockDescriber struct {
	mu    sync.Mutex
	fn    func(image string) (string, error)
	calls int
}

func (m *mockDescriber) Describe(_ context.Context, image, _ string) (string, error) {
	m.mu.Lock()
	m.calls++
	fn := m.fn
	m.mu.Unlock()
	return fn(image)
}

func (m *mockDescriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockSynthesizer struct {
	mu       sync.Mutex
	err      error
	block    chan struct{}
	requests []synth.Request
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, req synth.Request) (synth.Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	err, block := m.err, m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return synth.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return synth.Result{}, err
	}
	if req.Flavor.Structured {
		f := synth.Fields{Goal: "Grant admin access"}
		for _, o := range req.Observations {
			f.MainFlow = append(f.MainFlow, o.Text)
		}
		return synth.Result{Kind: synth.Structured, Fields: f, ChangeSummary: "added steps"}, nil
	}
	return synth.Result{Kind: synth.Freeform, Text: "# Roles\n", ChangeSummary: synth.GenericChangeSummary}, nil
}

func (m *mockSynthesizer) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockSynthesizer) requestsFor(kind storage.DocumentKind) []synth.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []synth.Request
	for _, r := range m.requests {
		if r.Flavor.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []Result
}

func (p *recordingPublisher) Publish(_ string, payload []byte) int {
	var r Result
	if err := json.Unmarshal(payload, &r); err != nil {
		panic(err)
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, r)
	p.mu.Unlock()
	return 1
}

func (p *recordingPublisher) byKind(kind ResultKind) []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Result
	for _, r := range p.msgs {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

type failingAppendStore struct {
	*storage.Store
	err error
}

func (s *failingAppendStore) AppendVersion(storage.NewVersion) (storage.Document, error) {
	return storage.Document{}, s.err
}

// --- Harness ---

type harness struct {
	obs       *Observer
	store     *storage.Store
	registry  *session.Registry
	clock     *mockClock
	describer *mockDescriber
	synth     *mockSynthesizer
	pub       *recordingPublisher
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:     store,
		clock:     &mockClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		describer: &mockDescriber{fn: func(image string) (string, error) { return descriptions[image], nil }},
		synth:     &mockSynthesizer{},
		pub:       &recordingPublisher{},
	}
	h.registry = session.NewRegistry(session.Options{Clock: h.clock})
	d := Deps{
		Registry:    h.registry,
		Workflow:    workflow.NewMachine(store),
		Store:       store,
		Describer:   h.describer,
		Synthesizer: h.synth,
		Templates:   synth.NewTemplateStore(""),
		Publisher:   h.pub,
		Clock:       h.clock,
		Debounce:    20 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&d)
	}
	h.obs = NewObserver(d)
	t.Cleanup(h.obs.Close)
	return h
}

var descriptions = map[string]string{
	"frame-1": "ACTION: Click the Settings button in the toolbar",
	"frame-2": "ACTION: Open the Users tab in the admin window",
	"frame-3": "ACTION: Toggle the checkbox next to the user name",
	"frame-4": "ACTION: Toggle the checkbox next to the user name again",
	"noise":   "The presenter is talking.",
}

func (h *harness) capture(t *testing.T, meetingID, payload string) Result {
	t.Helper()
	return h.obs.Handle(context.Background(), Event{Kind: KindCapture, MeetingID: meetingID, Payload: payload})
}

func (h *harness) doc(t *testing.T, meetingID string, kind storage.DocumentKind) storage.Document {
	t.Helper()
	doc, err := h.store.GetDocument(meetingID, kind)
	if err != nil {
		t.Fatalf("GetDocument(%s, %s): %v", meetingID, kind, err)
	}
	return doc
}

// --- Tests ---

func TestScenario_SynthesizeSuppressAndForceOnInstruct(t *testing.T) {
	h := newHarness(t)

	// The first pass fails, so three observations accumulate before the
	// first version.
	h.synth.setErr(errors.New("backend unavailable"))
	h.capture(t, "m1", "frame-1")
	h.clock.Advance(5 * time.Second)
	h.capture(t, "m1", "frame-2")
	h.obs.Wait()
	if _, err := h.store.GetDocument("m1", storage.KindProcedure); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("document exists after failed synthesis: %v", err)
	}

	h.synth.setErr(nil)
	h.clock.Advance(5 * time.Second)
	if r := h.capture(t, "m1", "frame-3"); r.Kind != ResultStatus || r.Content != StatusObserving {
		t.Fatalf("capture reply = %+v", r)
	}
	h.obs.Wait()

	doc := h.doc(t, "m1", storage.KindProcedure)
	if doc.Version != 1 {
		t.Fatalf("procedure version = %d, want 1", doc.Version)
	}
	info, ok := h.obs.Session("m1")
	if !ok {
		t.Fatal("session missing")
	}
	if info.Cursors[storage.KindProcedure] != 3 || info.Versions[storage.KindProcedure] != 1 {
		t.Errorf("cursor=%d version=%d, want 3/1", info.Cursors[storage.KindProcedure], info.Versions[storage.KindProcedure])
	}
	reqs := h.synth.requestsFor(storage.KindProcedure)
	if last := reqs[len(reqs)-1]; len(last.Observations) != 3 {
		t.Errorf("last request carried %d observations, want 3", len(last.Observations))
	}
	for _, ob := range reqs[len(reqs)-1].Observations {
		if ob.Category != "ui" {
			t.Errorf("observation %q category = %s, want ui", ob.Text, ob.Category)
		}
	}

	// Near-duplicate response is suppressed.
	h.clock.Advance(5 * time.Second)
	h.capture(t, "m1", "frame-4")
	h.obs.Wait()
	if got := h.doc(t, "m1", storage.KindProcedure).Version; got != 1 {
		t.Errorf("version after duplicate = %d, want 1", got)
	}
	if n := len(h.pub.byKind(ResultDocumentStatus)); n != 3 {
		t.Errorf("document_status broadcasts = %d, want 3", n)
	}

	// Entering instruct forces a pass despite no new observations and the
	// 30s interval.
	if _, err := h.obs.Advance("m1"); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	h.obs.Wait()
	if got := h.doc(t, "m1", storage.KindProcedure).Version; got != 1 {
		t.Errorf("entering structure changed version to %d", got)
	}
	ws, err := h.obs.Advance("m1")
	if err != nil || ws.Phase != storage.PhaseInstruct {
		t.Fatalf("Advance = (%+v, %v)", ws, err)
	}
	h.obs.Wait()
	if got := h.doc(t, "m1", storage.KindProcedure).Version; got != 2 {
		t.Errorf("version after instruct = %d, want 2", got)
	}
	if got := h.doc(t, "m1", storage.KindRole).Version; got != 1 {
		t.Errorf("role version = %d, want 1 (only procedure is forced)", got)
	}

	var procUpdates []Result
	for _, r := range h.pub.byKind(ResultDocumentUpdate) {
		if r.Document == storage.KindProcedure {
			procUpdates = append(procUpdates, r)
		}
	}
	if len(procUpdates) != 2 || procUpdates[0].DocumentVersion != 1 || procUpdates[1].DocumentVersion != 2 {
		t.Errorf("procedure updates = %+v", procUpdates)
	}
	if procUpdates[0].ObservationCount != 3 || !strings.Contains(procUpdates[0].Content, "Toggle the checkbox") {
		t.Errorf("first update = %+v", procUpdates[0])
	}
}

func TestScenario_UnchangedCaptureGate(t *testing.T) {
	h := newHarness(t)

	h.capture(t, "m1", "frame-1")
	if h.describer.Calls() != 1 {
		t.Fatalf("describe calls = %d, want 1", h.describer.Calls())
	}

	h.clock.Advance(10 * time.Second)
	if r := h.capture(t, "m1", "frame-1"); r.Content != StatusObserving {
		t.Errorf("reply = %+v", r)
	}
	if h.describer.Calls() != 1 {
		t.Errorf("unchanged capture after 10s was analyzed")
	}

	h.clock.Advance(50 * time.Second)
	h.capture(t, "m1", "frame-1")
	if h.describer.Calls() != 2 {
		t.Errorf("unchanged capture after 60s not analyzed, calls = %d", h.describer.Calls())
	}
}

func TestCapture_DescribeFailureDoesNotCommit(t *testing.T) {
	h := newHarness(t)
	h.describer.fn = func(string) (string, error) { return "", errors.New("vision model down") }

	r := h.capture(t, "m1", "frame-1")
	if r.Kind != ResultError {
		t.Fatalf("reply = %+v, want error", r)
	}
	// No progress was recorded, so an immediate retry is analyzed.
	h.describer.fn = func(image string) (string, error) { return descriptions[image], nil }
	h.capture(t, "m1", "frame-1")
	if h.describer.Calls() != 2 {
		t.Errorf("describe calls = %d, want 2", h.describer.Calls())
	}
}

func TestCapture_InvalidDescriptionNotStored(t *testing.T) {
	h := newHarness(t)
	h.capture(t, "m1", "noise")
	h.obs.Wait()

	info, _ := h.obs.Session("m1")
	if info.Observations != 0 {
		t.Errorf("observations = %d, want 0", info.Observations)
	}
	if n := len(h.pub.byKind(ResultDocumentStatus)); n != 1 {
		t.Errorf("document_status broadcasts = %d, want 1", n)
	}
}

func TestCapture_PersistsObservation(t *testing.T) {
	h := newHarness(t)
	h.capture(t, "m1", "frame-1")
	h.obs.Wait()

	ws, err := h.store.LatestObservationSession("m1")
	if err != nil {
		t.Fatalf("LatestObservationSession: %v", err)
	}
	recs, err := h.store.ListObservations(ws.ID, 10, 0)
	if err != nil || len(recs) != 1 {
		t.Fatalf("ListObservations = (%d, %v), want 1", len(recs), err)
	}
	if recs[0].Source != "screen" || recs[0].Category != "ui" {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestPaused_EventsNotAnalyzed(t *testing.T) {
	h := newHarness(t)
	if _, err := h.obs.Pause("m1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	if r := h.capture(t, "m1", "frame-1"); r.Content != StatusPaused {
		t.Errorf("capture reply = %+v, want paused", r)
	}
	r := h.obs.Handle(context.Background(), Event{Kind: KindTranscript, MeetingID: "m1", Payload: "then click save"})
	if r.Content != StatusPaused {
		t.Errorf("transcript reply = %+v, want paused", r)
	}
	if h.describer.Calls() != 0 {
		t.Errorf("describer called while paused")
	}

	if _, err := h.obs.Resume("m1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	h.capture(t, "m1", "frame-1")
	if h.describer.Calls() != 1 {
		t.Errorf("describer not called after resume")
	}
}

func TestSynthesis_NotConfiguredSurfacesError(t *testing.T) {
	h := newHarness(t)
	h.synth.setErr(engine.ErrNotConfigured)

	h.capture(t, "m1", "frame-1")
	h.clock.Advance(5 * time.Second)
	h.capture(t, "m1", "frame-2")
	h.obs.Wait()

	errs := h.pub.byKind(ResultError)
	if len(errs) == 0 || !strings.Contains(errs[0].Content, engine.ErrNotConfigured.Error()) {
		t.Errorf("error broadcasts = %+v", errs)
	}
	info, _ := h.obs.Session("m1")
	if info.Cursors[storage.KindProcedure] != 0 {
		t.Errorf("cursor advanced on failure: %d", info.Cursors[storage.KindProcedure])
	}
}

func TestSynthesis_StorageFailureLeavesCursor(t *testing.T) {
	appendErr := errors.New("disk full")
	h := newHarness(t, func(d *Deps) {
		d.Store = &failingAppendStore{Store: d.Store.(*storage.Store), err: appendErr}
	})

	h.capture(t, "m1", "frame-1")
	h.clock.Advance(5 * time.Second)
	h.capture(t, "m1", "frame-2")
	h.obs.Wait()

	info, _ := h.obs.Session("m1")
	if info.Cursors[storage.KindProcedure] != 0 || info.Versions[storage.KindProcedure] != 0 {
		t.Errorf("thread advanced despite failed append: %+v", info)
	}
	if errs := h.pub.byKind(ResultError); len(errs) != 2 {
		t.Errorf("error broadcasts = %d, want one per document", len(errs))
	}
}

func TestSynthesis_SingleFlightSkipsConcurrentPass(t *testing.T) {
	h := newHarness(t)
	block := make(chan struct{})
	h.synth.block = block

	h.capture(t, "m1", "frame-1")
	h.clock.Advance(5 * time.Second)
	h.capture(t, "m1", "frame-2")

	// Wait for the first procedure pass to be in flight.
	deadline := time.Now().Add(2 * time.Second)
	for len(h.synth.requestsFor(storage.KindProcedure)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.clock.Advance(5 * time.Second)
	h.capture(t, "m1", "frame-3")
	time.Sleep(50 * time.Millisecond)
	close(block)
	h.obs.Wait()

	if n := len(h.synth.requestsFor(storage.KindProcedure)); n != 1 {
		t.Errorf("procedure passes = %d, want 1", n)
	}
	info, _ := h.obs.Session("m1")
	if info.Cursors[storage.KindProcedure] != 2 {
		t.Errorf("cursor = %d, want 2 (the third observation stays pending)", info.Cursors[storage.KindProcedure])
	}
}

func TestSession_ExpiryKeepsVersionNumbering(t *testing.T) {
	h := newHarness(t)
	h.capture(t, "m1", "frame-1")
	h.clock.Advance(5 * time.Second)
	h.capture(t, "m1", "frame-2")
	h.obs.Wait()

	h.clock.Advance(session.DefaultIdleTimeout + time.Second)
	if _, ok := h.obs.Session("m1"); ok {
		t.Fatal("session not expired")
	}

	h.capture(t, "m1", "frame-3")
	info, ok := h.obs.Session("m1")
	if !ok {
		t.Fatal("session not recreated")
	}
	if info.Versions[storage.KindProcedure] != 1 {
		t.Errorf("recreated session version = %d, want 1 seeded from store", info.Versions[storage.KindProcedure])
	}
	if info.Observations != 1 {
		t.Errorf("recreated session observations = %d, want 1", info.Observations)
	}
}

func TestTranscript_DebouncedSynthesis(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Debounce = 200 * time.Millisecond })
	lines := []string{
		"first we open the billing console",
		"then select the customer account",
		"after that we issue the refund",
	}
	for _, l := range lines {
		r := h.obs.Handle(context.Background(), Event{Kind: KindTranscript, MeetingID: "m1", Payload: l, Speaker: "Ana"})
		if r.Content != StatusObserving {
			t.Fatalf("transcript reply = %+v", r)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := h.store.GetDocument("m1", storage.KindRole); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.obs.Wait()

	reqs := h.synth.requestsFor(storage.KindRole)
	if len(reqs) != 1 {
		t.Fatalf("role passes = %d, want 1 (debounced)", len(reqs))
	}
	if len(reqs[0].Transcript) != 3 || reqs[0].Transcript[0].Speaker != "Ana" {
		t.Errorf("transcript in request = %+v", reqs[0].Transcript)
	}
}

func TestTranscript_ContinuousSpeechStillSynthesizes(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Debounce = 200 * time.Millisecond
		d.MaxWait = 300 * time.Millisecond
	})
	ctx := context.Background()

	// Fragments arrive faster than the quiet period for two seconds.
	for i := 0; i < 40; i++ {
		r := h.obs.Handle(ctx, Event{Kind: KindTranscript, MeetingID: "m1", Payload: fmt.Sprintf("then click row %d", i)})
		if r.Content != StatusObserving {
			t.Fatalf("transcript %d reply = %+v", i, r)
		}
		h.clock.Advance(time.Second)
		time.Sleep(50 * time.Millisecond)
	}
	passes := len(h.synth.requestsFor(storage.KindProcedure))
	h.obs.Wait()

	if passes == 0 {
		t.Fatal("no procedure pass ran while fragments kept arriving")
	}
	if doc := h.doc(t, "m1", storage.KindProcedure); doc.Version < 1 {
		t.Errorf("procedure version = %d", doc.Version)
	}
}

func TestTranscript_Disabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if r := h.obs.Handle(ctx, Event{Kind: KindControl, MeetingID: "m1", Command: CommandStopTranscription}); r.Content != StatusTranscriptionOff {
		t.Fatalf("reply = %+v", r)
	}
	if r := h.obs.Handle(ctx, Event{Kind: KindTranscript, MeetingID: "m1", Payload: "then click save"}); r.Content != StatusTranscriptionOff {
		t.Errorf("transcript reply = %+v, want transcription_off", r)
	}
	if r := h.obs.Handle(ctx, Event{Kind: KindControl, MeetingID: "m1", Command: CommandStartTranscription}); r.Content != StatusTranscriptionOn {
		t.Errorf("reply = %+v", r)
	}
	if r := h.obs.Handle(ctx, Event{Kind: KindTranscript, MeetingID: "m1", Payload: "then click save"}); r.Content != StatusObserving {
		t.Errorf("transcript reply = %+v, want observing", r)
	}
}

func TestControl(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if r := h.obs.Handle(ctx, Event{Kind: KindControl, MeetingID: "m1", Command: CommandPing}); r.Content != StatusPong {
		t.Errorf("ping reply = %+v", r)
	}
	if _, ok := h.obs.Session("m1"); ok {
		t.Error("ping created a session")
	}
	if r := h.obs.Handle(ctx, Event{Kind: KindControl, MeetingID: "m1", Command: CommandStart}); r.Content != StatusStarted {
		t.Errorf("start reply = %+v", r)
	}
	if _, ok := h.obs.Session("m1"); !ok {
		t.Error("start did not create a session")
	}
	if r := h.obs.Handle(ctx, Event{Kind: KindControl, MeetingID: "m1", Command: CommandStop}); r.Content != StatusStopped {
		t.Errorf("stop reply = %+v", r)
	}
	if _, ok := h.obs.Session("m1"); ok {
		t.Error("stop left the session alive")
	}
}

func TestHandle_InvalidEvents(t *testing.T) {
	h := newHarness(t)
	tests := []Event{
		{Kind: "video", MeetingID: "m1", Payload: "x"},
		{Kind: KindCapture, MeetingID: "", Payload: "x"},
		{Kind: KindCapture, MeetingID: "m1"},
		{Kind: KindControl, MeetingID: "m1"},
		{Kind: KindControl, MeetingID: "m1", Command: "reboot"},
		{Kind: KindCapture, MeetingID: "a/b", Payload: "x"},
	}
	for _, ev := range tests {
		r := h.obs.Handle(context.Background(), ev)
		if r.Kind != ResultError || !strings.Contains(r.Content, ErrInvalidEvent.Error()) {
			t.Errorf("Handle(%+v) = %+v, want invalid event error", ev, r)
		}
	}
	if h.describer.Calls() != 0 {
		t.Error("invalid event reached the describer")
	}
}

func TestComplete_ForgetsSession(t *testing.T) {
	h := newHarness(t)
	h.capture(t, "m1", "frame-1")
	h.clock.Advance(5 * time.Second)
	h.capture(t, "m1", "frame-2")
	h.obs.Wait()

	ws, err := h.obs.Complete("m1")
	if err != nil || ws.Status != storage.SessionCompleted {
		t.Fatalf("Complete = (%+v, %v)", ws, err)
	}
	if _, ok := h.obs.Session("m1"); ok {
		t.Error("session still live after complete")
	}
	h.clock.Advance(5 * time.Second)
	if r := h.capture(t, "m1", "frame-3"); r.Content != StatusCompleted {
		t.Errorf("capture after complete = %+v", r)
	}
}

func TestCapture_InFlightRejectionCountsFrame(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	unblock := make(chan struct{})
	h.describer.fn = func(image string) (string, error) {
		if image == "frame-1" {
			close(started)
			<-unblock
		}
		return descriptions[image], nil
	}

	done := make(chan Result, 1)
	go func() { done <- h.capture(t, "m1", "frame-1") }()
	<-started

	if r := h.capture(t, "m1", "frame-2"); r.Content != StatusObserving {
		t.Errorf("concurrent capture = %+v, want observing", r)
	}
	sess, unlock := h.registry.Lock("m1")
	frames := sess.Rate.FramesSinceAccept
	unlock()

	close(unblock)
	<-done
	if frames != 1 {
		t.Errorf("FramesSinceAccept = %d, want 1", frames)
	}
	if h.describer.Calls() != 1 {
		t.Errorf("describe calls = %d, want 1", h.describer.Calls())
	}
}

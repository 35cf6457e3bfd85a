package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/opscribe/internal/observe"
	"github.com/kalambet/opscribe/internal/storage"
)

// --- Mock clock ---

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

func newTestRegistry() (*Registry, *mockClock) {
	clock := &mockClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewRegistry(Options{Clock: clock, TranscriptWindow: 3}), clock
}

func TestRegistry_LockCreatesAndReuses(t *testing.T) {
	r, _ := newTestRegistry()

	s1, unlock := r.Lock("m1")
	s1.LastText = "hello"
	unlock()

	s2, unlock := r.Lock("m1")
	defer unlock()
	if s1 != s2 {
		t.Fatal("Lock returned a different session for the same meeting")
	}
	if s2.LastText != "hello" {
		t.Errorf("LastText = %q, want %q", s2.LastText, "hello")
	}
}

func TestRegistry_LazyExpiry(t *testing.T) {
	r, clock := newTestRegistry()

	s1, unlock := r.Lock("m1")
	s1.TranscriptionEnabled = true
	unlock()

	clock.Advance(9 * time.Minute)
	if _, ok := r.Peek("m1"); !ok {
		t.Fatal("session expired early")
	}

	clock.Advance(DefaultIdleTimeout)
	if _, ok := r.Peek("m1"); ok {
		t.Fatal("expired session reported live")
	}

	s2, unlock := r.Lock("m1")
	defer unlock()
	if s2 == s1 {
		t.Fatal("expired session was reused")
	}
	if s2.TranscriptionEnabled {
		t.Error("fresh session carried state from expired one")
	}
}

func TestRegistry_LockTouchesActivity(t *testing.T) {
	r, clock := newTestRegistry()

	s1, unlock := r.Lock("m1")
	unlock()
	for i := 0; i < 3; i++ {
		clock.Advance(6 * time.Minute)
		_, unlock = r.Lock("m1")
		unlock()
	}

	s2, unlock := r.Lock("m1")
	defer unlock()
	if s1 != s2 {
		t.Error("active session expired despite regular access")
	}
}

func TestRegistry_PeekDoesNotCreate(t *testing.T) {
	r, _ := newTestRegistry()

	if _, ok := r.Peek("nobody"); ok {
		t.Error("Peek reported a session that was never created")
	}
	if got := r.Active(); len(got) != 0 {
		t.Errorf("Active = %v, want empty", got)
	}
}

func TestRegistry_Remove(t *testing.T) {
	r, _ := newTestRegistry()

	s1, unlock := r.Lock("m1")
	unlock()

	if !r.Remove("m1") {
		t.Fatal("Remove reported no live session")
	}
	if r.Remove("m1") {
		t.Error("second Remove reported a live session")
	}

	s2, unlock := r.Lock("m1")
	defer unlock()
	if s1 == s2 {
		t.Error("removed session was reused")
	}
}

func TestRegistry_Relock(t *testing.T) {
	r, clock := newTestRegistry()

	s1, unlock := r.Lock("m1")
	unlock()
	unlock, ok := r.Relock(s1)
	if !ok {
		t.Fatal("Relock on live session failed")
	}
	unlock()

	// Removed: Relock must not resurrect the session.
	r.Remove("m1")
	if _, ok := r.Relock(s1); ok {
		t.Error("Relock succeeded after Remove")
	}
	if _, live := r.Peek("m1"); live {
		t.Error("Relock recreated a removed session")
	}

	// Replaced after expiry.
	s2, unlock := r.Lock("m2")
	unlock()
	clock.Advance(DefaultIdleTimeout)
	s3, unlock := r.Lock("m2")
	unlock()
	if s3 == s2 {
		t.Fatal("expired session was reused")
	}
	if _, ok := r.Relock(s2); ok {
		t.Error("Relock succeeded on replaced session")
	}
}

func TestRegistry_Active(t *testing.T) {
	r, _ := newTestRegistry()
	for _, id := range []string{"b", "a"} {
		_, unlock := r.Lock(id)
		unlock()
	}

	got := r.Active()
	if len(got) != 2 || got[0].MeetingID != "a" || got[1].MeetingID != "b" {
		t.Errorf("Active = %+v, want a,b", got)
	}
}

func TestRegistry_PerMeetingSerialization(t *testing.T) {
	r, _ := newTestRegistry()

	const meetings, workers, perWorker = 4, 8, 50
	var wg sync.WaitGroup
	for m := 0; m < meetings; m++ {
		id := fmt.Sprintf("m%d", m)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					s, unlock := r.Lock(id)
					s.Rate.FramesSinceAccept++
					unlock()
				}
			}()
		}
	}
	wg.Wait()

	for m := 0; m < meetings; m++ {
		s, unlock := r.Lock(fmt.Sprintf("m%d", m))
		got := s.Rate.FramesSinceAccept
		unlock()
		if got != workers*perWorker {
			t.Errorf("meeting m%d counter = %d, want %d", m, got, workers*perWorker)
		}
	}
}

func TestSession_TranscriptWindow(t *testing.T) {
	r, _ := newTestRegistry()
	s, unlock := r.Lock("m1")
	defer unlock()

	for i := 0; i < 5; i++ {
		s.AppendTranscript(observe.TranscriptEntry{Speaker: "Ana", Text: fmt.Sprintf("line %d", i)})
	}
	got := s.Transcript()
	if len(got) != 3 {
		t.Fatalf("len(transcript) = %d, want 3", len(got))
	}
	if got[0].Text != "line 2" || got[2].Text != "line 4" {
		t.Errorf("window = %+v, want lines 2..4", got)
	}
	if want := "Ana: line 2\nAna: line 3\nAna: line 4\n"; s.TranscriptText() != want {
		t.Errorf("TranscriptText = %q, want %q", s.TranscriptText(), want)
	}

	if s.TranscriptSeq() != 5 {
		t.Errorf("TranscriptSeq = %d, want 5", s.TranscriptSeq())
	}
	if since := s.TranscriptSince(3); len(since) != 2 || since[0].Text != "line 3" {
		t.Errorf("TranscriptSince(3) = %+v, want lines 3..4", since)
	}
	if since := s.TranscriptSince(0); len(since) != 3 {
		t.Errorf("TranscriptSince(0) = %d entries, want the 3 still in the window", len(since))
	}
	if since := s.TranscriptSince(5); since != nil {
		t.Errorf("TranscriptSince(5) = %+v, want nil", since)
	}
}

func TestSession_AppendObservationFeedsBothThreads(t *testing.T) {
	r, _ := newTestRegistry()
	s, unlock := r.Lock("m1")
	defer unlock()

	s.AppendObservation(observe.Observation{ID: "o1"})
	for _, k := range storage.Kinds {
		if s.Thread(k).Len() != 1 {
			t.Errorf("thread %s Len = %d, want 1", k, s.Thread(k).Len())
		}
	}
	if s.Thread("memo") != nil {
		t.Error("unknown kind returned a thread")
	}
	if info := s.Info(); info.Observations != 1 {
		t.Errorf("Info.Observations = %d, want 1", info.Observations)
	}
}

func TestSession_AnalysisGuard(t *testing.T) {
	r, _ := newTestRegistry()
	s, unlock := r.Lock("m1")
	unlock()

	release, ok := s.TryBeginAnalysis()
	if !ok {
		t.Fatal("first TryBeginAnalysis failed")
	}
	if _, ok := s.TryBeginAnalysis(); ok {
		t.Fatal("second TryBeginAnalysis succeeded while held")
	}
	release()
	if _, ok := s.TryBeginAnalysis(); !ok {
		t.Error("TryBeginAnalysis failed after release")
	}
}

package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/opscribe/internal/observe"
	"github.com/kalambet/opscribe/internal/storage"
)

// flight is a single-flight guard. The release func it hands out is safe to
// call more than once.
type flight struct {
	busy atomic.Bool
}

func (f *flight) tryAcquire() (func(), bool) {
	if !f.busy.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { f.busy.Store(false) }) }, true
}

// Thread is the synthesis state of one document kind within a session.
// Fields other than the guard are protected by the session lock.
type Thread struct {
	Kind          storage.DocumentKind
	LastSynthesis time.Time

	log            []observe.Observation
	cursor         int
	version        int
	transcriptSeen int
	guard          flight
}

func newThread(kind storage.DocumentKind) *Thread {
	return &Thread{Kind: kind}
}

// Append adds an observation to the log.
func (t *Thread) Append(obs observe.Observation) {
	t.log = append(t.log, obs)
}

// Len is the number of observations in the log.
func (t *Thread) Len() int { return len(t.log) }

// Cursor is the number of observations consumed by the last successful
// synthesis.
func (t *Thread) Cursor() int { return t.cursor }

// Version is the last document version this thread produced.
func (t *Thread) Version() int { return t.version }

// Pending returns a copy of the observations after the cursor.
func (t *Thread) Pending() []observe.Observation {
	out := make([]observe.Observation, len(t.log)-t.cursor)
	copy(out, t.log[t.cursor:])
	return out
}

// Observations returns a copy of the full log.
func (t *Thread) Observations() []observe.Observation {
	out := make([]observe.Observation, len(t.log))
	copy(out, t.log)
	return out
}

// Commit records a successful synthesis that consumed the log up to `to` and
// produced `version`. The cursor and version never move backwards.
func (t *Thread) Commit(to, version int, at time.Time) error {
	if to < t.cursor || to > len(t.log) {
		return fmt.Errorf("cursor %d out of range [%d, %d]", to, t.cursor, len(t.log))
	}
	if version <= t.version {
		return fmt.Errorf("version %d does not advance past %d", version, t.version)
	}
	t.cursor = to
	t.version = version
	t.LastSynthesis = at
	return nil
}

// TranscriptSeen is the session transcript sequence number consumed by the
// last successful synthesis.
func (t *Thread) TranscriptSeen() int { return t.transcriptSeen }

// MarkTranscript records that transcript entries up to seq were consumed.
func (t *Thread) MarkTranscript(seq int) {
	if seq > t.transcriptSeen {
		t.transcriptSeen = seq
	}
}

// SeedVersion aligns the counter with a document that already exists in the
// durable store, e.g. after the session expired and was recreated.
func (t *Thread) SeedVersion(version int) {
	if version > t.version {
		t.version = version
	}
}

// TryAcquire claims the thread's single-flight guard. When ok is false a
// synthesis is already running. The caller must defer release.
func (t *Thread) TryAcquire() (release func(), ok bool) {
	return t.guard.tryAcquire()
}

// InFlight reports whether a synthesis currently holds the guard.
func (t *Thread) InFlight() bool {
	return t.guard.busy.Load()
}

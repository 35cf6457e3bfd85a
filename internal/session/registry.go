package session

import (
	"sort"
	"sync"
	"time"

	"github.com/kalambet/opscribe/internal/ratelimit"
)

// Defaults for Options.
const (
	DefaultIdleTimeout      = 10 * time.Minute
	DefaultTranscriptWindow = 50
)

// Options configures a Registry.
type Options struct {
	IdleTimeout      time.Duration
	TranscriptWindow int
	Clock            ratelimit.Clock
}

// Registry holds the live sessions keyed by meeting id. Each meeting has its
// own lock; the registry lock only guards the map.
type Registry struct {
	idle          time.Duration
	transcriptCap int
	clock         ratelimit.Clock

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	sess    *Session
	removed bool
}

// NewRegistry creates an empty Registry. Zero options fall back to defaults.
func NewRegistry(opts Options) *Registry {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.TranscriptWindow <= 0 {
		opts.TranscriptWindow = DefaultTranscriptWindow
	}
	if opts.Clock == nil {
		opts.Clock = ratelimit.SystemClock{}
	}
	return &Registry{
		idle:          opts.IdleTimeout,
		transcriptCap: opts.TranscriptWindow,
		clock:         opts.Clock,
		entries:       make(map[string]*entry),
	}
}

// Lock returns the session for meetingID with its meeting lock held, creating
// it when absent or expired, and marks it active. The caller must call
// unlock and must not hold the lock across collaborator calls.
func (r *Registry) Lock(meetingID string) (sess *Session, unlock func()) {
	for {
		r.mu.Lock()
		e, ok := r.entries[meetingID]
		if !ok {
			e = &entry{}
			r.entries[meetingID] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			// Lost a race with Remove; retry against the new entry.
			e.mu.Unlock()
			continue
		}
		now := r.clock.Now()
		if e.sess == nil || r.expired(e.sess, now) {
			e.sess = newSession(meetingID, now, r.transcriptCap)
		}
		e.sess.LastActivity = now
		return e.sess, e.mu.Unlock
	}
}

// Relock reacquires the meeting lock on sess, which must have come from an
// earlier Lock. It fails when sess has since expired, been removed or been
// replaced, so work started on a stale session is not committed to it.
func (r *Registry) Relock(sess *Session) (unlock func(), ok bool) {
	r.mu.Lock()
	e, found := r.entries[sess.MeetingID]
	r.mu.Unlock()
	if !found {
		return nil, false
	}

	e.mu.Lock()
	if e.removed || e.sess != sess || r.expired(sess, r.clock.Now()) {
		e.mu.Unlock()
		return nil, false
	}
	sess.LastActivity = r.clock.Now()
	return e.mu.Unlock, true
}

// Peek returns a summary of the live session without creating or touching
// it. Expired sessions are reported as absent and dropped.
func (r *Registry) Peek(meetingID string) (Info, bool) {
	r.mu.Lock()
	e, ok := r.entries[meetingID]
	r.mu.Unlock()
	if !ok {
		return Info{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.sess == nil {
		return Info{}, false
	}
	if r.expired(e.sess, r.clock.Now()) {
		e.sess = nil
		return Info{}, false
	}
	return e.sess.Info(), true
}

// Remove tears down the session for meetingID. It reports whether a live
// session existed.
func (r *Registry) Remove(meetingID string) bool {
	r.mu.Lock()
	e, ok := r.entries[meetingID]
	delete(r.entries, meetingID)
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	live := e.sess != nil && !r.expired(e.sess, r.clock.Now())
	e.sess = nil
	return live
}

// Active lists the summaries of all live sessions ordered by meeting id.
func (r *Registry) Active() []Info {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	var out []Info
	for _, id := range ids {
		if info, ok := r.Peek(id); ok {
			out = append(out, info)
		}
	}
	return out
}

func (r *Registry) expired(s *Session, now time.Time) bool {
	return now.Sub(s.LastActivity) >= r.idle
}

package ratelimit

import "time"

// Defaults for the capture gate.
const (
	DefaultActiveInterval = 5 * time.Second
	DefaultIdleInterval   = 30 * time.Second
	DefaultRecheckAfter   = 60 * time.Second
	DefaultRecheckFrames  = 6
)

// State is the per-meeting capture history the gate evaluates. Callers must
// serialize access (the session lock does this).
type State struct {
	LastFingerprint   string
	LastResponseAt    time.Time
	FramesSinceAccept int
	LastForcedRecheck time.Time
}

// NewState returns a State whose forced-recheck window starts at now.
func NewState(now time.Time) State {
	return State{LastForcedRecheck: now}
}

// Skip counts a capture rejected before evaluation, e.g. while another
// analysis for the meeting is still in flight.
func (s *State) Skip() {
	s.FramesSinceAccept++
}

// Decision describes the outcome of evaluating one capture.
type Decision struct {
	Accept   bool
	Changed  bool
	Forced   bool
	Interval time.Duration
}

// Gate decides whether a capture is analyzed. A changed scene or a forced
// recheck shortens the minimum interval between analyses.
type Gate struct {
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	RecheckAfter   time.Duration
	RecheckFrames  int
}

// DefaultGate returns a Gate with the standard intervals.
func DefaultGate() Gate {
	return Gate{
		ActiveInterval: DefaultActiveInterval,
		IdleInterval:   DefaultIdleInterval,
		RecheckAfter:   DefaultRecheckAfter,
		RecheckFrames:  DefaultRecheckFrames,
	}
}

// Evaluate applies the gate to a capture with fingerprint fp arriving at now.
// A rejection only increments the frame counter. An acceptance resets the
// frame counter and the forced-recheck window; the response timestamp and
// fingerprint are left for Commit once the analysis has produced a response.
func (g Gate) Evaluate(s *State, fp string, now time.Time) Decision {
	changed := fp != s.LastFingerprint
	forced := s.FramesSinceAccept >= g.RecheckFrames || now.Sub(s.LastForcedRecheck) >= g.RecheckAfter

	interval := g.IdleInterval
	if changed || forced {
		interval = g.ActiveInterval
	}

	d := Decision{Changed: changed, Forced: forced, Interval: interval}
	if !s.LastResponseAt.IsZero() && now.Sub(s.LastResponseAt) < interval {
		s.FramesSinceAccept++
		return d
	}

	s.FramesSinceAccept = 0
	s.LastForcedRecheck = now
	d.Accept = true
	return d
}

// Commit records that the analysis of an accepted capture produced a
// response at now.
func (g Gate) Commit(s *State, fp string, now time.Time) {
	s.LastResponseAt = now
	s.LastFingerprint = fp
}

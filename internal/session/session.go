package session

import (
	"strings"
	"time"

	"github.com/kalambet/opscribe/internal/observe"
	"github.com/kalambet/opscribe/internal/ratelimit"
	"github.com/kalambet/opscribe/internal/storage"
)

// Session is the in-memory state of one observed meeting. All fields and
// methods require the meeting lock obtained from Registry.Lock, except the
// analysis guard.
type Session struct {
	MeetingID            string
	CreatedAt            time.Time
	LastActivity         time.Time
	TranscriptionEnabled bool
	LastText             string
	Rate                 ratelimit.State

	// ObservationSessionID links to the durable workflow record. Empty until
	// the pipeline has created or loaded it.
	ObservationSessionID string

	transcript    []observe.TranscriptEntry
	transcriptCap int
	transcriptSeq int
	threads       map[storage.DocumentKind]*Thread
	analysis      flight
}

func newSession(meetingID string, now time.Time, transcriptCap int) *Session {
	s := &Session{
		MeetingID:     meetingID,
		CreatedAt:     now,
		LastActivity:  now,
		Rate:          ratelimit.NewState(now),
		transcriptCap: transcriptCap,
		threads:       make(map[storage.DocumentKind]*Thread, len(storage.Kinds)),
	}
	for _, k := range storage.Kinds {
		s.threads[k] = newThread(k)
	}
	return s
}

// Thread returns the document thread for kind, or nil for an unknown kind.
func (s *Session) Thread(kind storage.DocumentKind) *Thread {
	return s.threads[kind]
}

// AppendObservation adds obs to every document thread.
func (s *Session) AppendObservation(obs observe.Observation) {
	for _, k := range storage.Kinds {
		s.threads[k].Append(obs)
	}
}

// AppendTranscript adds an entry, dropping the oldest once the window cap is
// exceeded.
func (s *Session) AppendTranscript(e observe.TranscriptEntry) {
	s.transcriptSeq++
	s.transcript = append(s.transcript, e)
	if s.transcriptCap > 0 && len(s.transcript) > s.transcriptCap {
		drop := len(s.transcript) - s.transcriptCap
		s.transcript = append(s.transcript[:0:0], s.transcript[drop:]...)
	}
}

// Transcript returns a copy of the transcript window.
func (s *Session) Transcript() []observe.TranscriptEntry {
	out := make([]observe.TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// TranscriptSeq counts every entry ever appended, including dropped ones.
func (s *Session) TranscriptSeq() int { return s.transcriptSeq }

// TranscriptSince returns the entries still in the window that were appended
// after sequence number seq.
func (s *Session) TranscriptSince(seq int) []observe.TranscriptEntry {
	n := s.transcriptSeq - seq
	if n <= 0 {
		return nil
	}
	if n > len(s.transcript) {
		n = len(s.transcript)
	}
	out := make([]observe.TranscriptEntry, n)
	copy(out, s.transcript[len(s.transcript)-n:])
	return out
}

// TranscriptText renders the window as "speaker: text" lines.
func (s *Session) TranscriptText() string {
	var sb strings.Builder
	for _, e := range s.transcript {
		if e.Speaker != "" {
			sb.WriteString(e.Speaker)
			sb.WriteString(": ")
		}
		sb.WriteString(e.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// TryBeginAnalysis claims the per-session capture analysis guard so only one
// describe call runs at a time. It may be called without the meeting lock.
func (s *Session) TryBeginAnalysis() (release func(), ok bool) {
	return s.analysis.tryAcquire()
}

// Info is a point-in-time summary of a session.
type Info struct {
	MeetingID            string                       `json:"meeting_id"`
	CreatedAt            time.Time                    `json:"created_at"`
	LastActivity         time.Time                    `json:"last_activity"`
	TranscriptionEnabled bool                         `json:"transcription_enabled"`
	Observations         int                          `json:"observations"`
	TranscriptEntries    int                          `json:"transcript_entries"`
	Versions             map[storage.DocumentKind]int `json:"versions"`
	Cursors              map[storage.DocumentKind]int `json:"cursors"`
}

func (s *Session) Info() Info {
	info := Info{
		MeetingID:            s.MeetingID,
		CreatedAt:            s.CreatedAt,
		LastActivity:         s.LastActivity,
		TranscriptionEnabled: s.TranscriptionEnabled,
		Observations:         s.threads[storage.KindProcedure].Len(),
		TranscriptEntries:    len(s.transcript),
		Versions:             make(map[storage.DocumentKind]int, len(s.threads)),
		Cursors:              make(map[storage.DocumentKind]int, len(s.threads)),
	}
	for k, t := range s.threads {
		info.Versions[k] = t.Version()
		info.Cursors[k] = t.Cursor()
	}
	return info
}

package api

import (
	"encoding/json"
	"time"

	"github.com/kalambet/opscribe/internal/storage"
)

type documentView struct {
	ID            string                 `json:"id"`
	MeetingID     string                 `json:"meeting_id"`
	Kind          storage.DocumentKind   `json:"kind"`
	Title         string                 `json:"title"`
	Status        storage.DocumentStatus `json:"status"`
	Version       int                    `json:"version"`
	LatestVersion int                    `json:"latest_version"`
	Content       string                 `json:"content"`
	Sections      json.RawMessage        `json:"sections,omitempty"`
	Flowchart     string                 `json:"flowchart,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func newDocumentView(d storage.Document) documentView {
	v := documentView{
		ID:            d.ID,
		MeetingID:     d.MeetingID,
		Kind:          d.Kind,
		Title:         d.Title,
		Status:        d.Status,
		Version:       d.Version,
		LatestVersion: d.LatestVersion,
		Content:       d.Content,
		Flowchart:     d.Flowchart,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	if d.SectionsJSON != "" && json.Valid([]byte(d.SectionsJSON)) {
		v.Sections = json.RawMessage(d.SectionsJSON)
	}
	return v
}

type versionView struct {
	Version       int       `json:"version"`
	Content       string    `json:"content"`
	ChangeSummary string    `json:"change_summary"`
	CreatedAt     time.Time `json:"created_at"`
}

func newVersionView(v storage.DocumentVersion) versionView {
	return versionView{
		Version:       v.Version,
		Content:       v.Content,
		ChangeSummary: v.ChangeSummary,
		CreatedAt:     v.CreatedAt,
	}
}

type sessionView struct {
	ID        string                `json:"id"`
	MeetingID string                `json:"meeting_id"`
	Phase     storage.Phase         `json:"phase"`
	Status    storage.SessionStatus `json:"status"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

func newSessionView(o storage.ObservationSession) sessionView {
	return sessionView{
		ID:        o.ID,
		MeetingID: o.MeetingID,
		Phase:     o.Phase,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

type observationView struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Text       string          `json:"text"`
	Category   string          `json:"category"`
	Source     string          `json:"source"`
	Confidence string          `json:"confidence"`
	Details    json.RawMessage `json:"details,omitempty"`
}

func newObservationView(r storage.ObservationRecord) observationView {
	v := observationView{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		Text:       r.Text,
		Category:   r.Category,
		Source:     r.Source,
		Confidence: r.Confidence,
	}
	if r.DetailsJSON != "" && json.Valid([]byte(r.DetailsJSON)) {
		v.Details = json.RawMessage(r.DetailsJSON)
	}
	return v
}

type clarificationView struct {
	ID         string                      `json:"id"`
	SessionID  string                      `json:"session_id"`
	Question   string                      `json:"question"`
	Category   string                      `json:"category,omitempty"`
	Status     storage.ClarificationStatus `json:"status"`
	Answer     string                      `json:"answer,omitempty"`
	AnsweredAt *time.Time                  `json:"answered_at,omitempty"`
	CreatedAt  time.Time                   `json:"created_at"`
}

func newClarificationView(c storage.Clarification) clarificationView {
	v := clarificationView{
		ID:        c.ID,
		SessionID: c.SessionID,
		Question:  c.Question,
		Category:  c.Category,
		Status:    c.Status,
		Answer:    c.Answer,
		CreatedAt: c.CreatedAt,
	}
	if !c.AnsweredAt.IsZero() {
		at := c.AnsweredAt
		v.AnsweredAt = &at
	}
	return v
}

func clarificationViews(cs []storage.Clarification) []clarificationView {
	out := make([]clarificationView, len(cs))
	for i, c := range cs {
		out[i] = newClarificationView(c)
	}
	return out
}

type meetingView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

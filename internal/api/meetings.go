package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/opscribe/internal/pipeline"
	"github.com/kalambet/opscribe/internal/session"
	"github.com/kalambet/opscribe/internal/storage"
	"github.com/kalambet/opscribe/internal/workflow"
)

type rollbackRequest struct {
	Version int `json:"version"`
}

type statusRequest struct {
	Status storage.DocumentStatus `json:"status"`
}

type askRequest struct {
	Question string `json:"question"`
	Category string `json:"category"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// writeWorkflowError maps workflow and storage errors to HTTP responses.
func writeWorkflowError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s not found", what)
	case errors.Is(err, storage.ErrVersionNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, workflow.ErrEmptyText):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, workflow.ErrCompleted),
		errors.Is(err, workflow.ErrNoDocument),
		errors.Is(err, workflow.ErrNotPending):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", what, err)
	}
}

func handlePostEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meetingID := chi.URLParam(r, "meetingID")
		var ev pipeline.Event
		if !decodeBody(w, r, maxEventBodySize, &ev) {
			return
		}
		if ev.MeetingID == "" {
			ev.MeetingID = meetingID
		}
		if ev.MeetingID != meetingID {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "meetingId %q does not match path", ev.MeetingID)
			return
		}
		if err := ev.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Observer.Handle(r.Context(), ev))
	}
}

func handleListMeetings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meetings, err := deps.Store.ListMeetings(parseIntParam(r, "limit", 50, 500))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list meetings: %v", err)
			return
		}
		out := make([]meetingView, len(meetings))
		for i, m := range meetings {
			out[i] = meetingView{ID: m.ID, Title: m.Title, CreatedAt: m.CreatedAt}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteMeeting(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meetingID := chi.URLParam(r, "meetingID")
		deps.Observer.Forget(meetingID)
		if err := deps.Store.DeleteMeeting(meetingID); err != nil {
			writeWorkflowError(w, "meeting", err)
			return
		}
		if deps.Hub != nil {
			deps.Hub.Close(meetingID)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- Documents ---

func documentFor(deps Deps, w http.ResponseWriter, r *http.Request) (storage.Document, bool) {
	kind := storage.DocumentKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown document kind %q", kind)
		return storage.Document{}, false
	}
	doc, err := deps.Store.GetDocument(chi.URLParam(r, "meetingID"), kind)
	if err != nil {
		writeWorkflowError(w, "document", err)
		return storage.Document{}, false
	}
	return doc, true
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListDocuments(chi.URLParam(r, "meetingID"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		out := make([]documentView, len(docs))
		for i, d := range docs {
			out[i] = newDocumentView(d)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := documentFor(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, newDocumentView(doc))
	}
}

func handleListVersions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := documentFor(deps, w, r)
		if !ok {
			return
		}
		versions, err := deps.Store.ListVersions(doc.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list versions: %v", err)
			return
		}
		out := make([]versionView, len(versions))
		for i, v := range versions {
			out[i] = newVersionView(v)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetVersion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := documentFor(deps, w, r)
		if !ok {
			return
		}
		n, err := strconv.Atoi(chi.URLParam(r, "version"))
		if err != nil || n < 1 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "version must be a positive integer")
			return
		}
		v, err := deps.Store.GetVersion(doc.ID, n)
		if err != nil {
			writeWorkflowError(w, "version", err)
			return
		}
		writeJSON(w, http.StatusOK, newVersionView(v))
	}
}

func handleRollback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := documentFor(deps, w, r)
		if !ok {
			return
		}
		var req rollbackRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		doc, err := deps.Store.Rollback(doc.ID, req.Version)
		if err != nil {
			writeWorkflowError(w, "document", err)
			return
		}
		publishResult(deps, doc.MeetingID, pipeline.Result{
			Kind:            pipeline.ResultDocumentUpdate,
			Content:         doc.Content,
			DocumentVersion: doc.Version,
			Document:        doc.Kind,
		})
		writeJSON(w, http.StatusOK, newDocumentView(doc))
	}
}

func handleSetDocumentStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := documentFor(deps, w, r)
		if !ok {
			return
		}
		var req statusRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		if !req.Status.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "status must be one of draft, reviewed, approved")
			return
		}
		if err := deps.Store.SetDocumentStatus(doc.ID, req.Status); err != nil {
			writeWorkflowError(w, "document", err)
			return
		}
		doc.Status = req.Status
		writeJSON(w, http.StatusOK, newDocumentView(doc))
	}
}

// publishResult sends a result to the meeting's listeners.
func publishResult(deps Deps, meetingID string, res pipeline.Result) {
	if deps.Hub == nil {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	deps.Hub.Publish(meetingID, b)
}

// --- Sessions ---

type sessionResponse struct {
	Session sessionView   `json:"session"`
	Live    *session.Info `json:"live,omitempty"`
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := deps.Observer.Sessions()
		if sessions == nil {
			sessions = []session.Info{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meetingID := chi.URLParam(r, "meetingID")
		ws, err := deps.Workflow.Get(meetingID)
		if err != nil {
			writeWorkflowError(w, "session", err)
			return
		}
		resp := sessionResponse{Session: newSessionView(ws)}
		if info, ok := deps.Observer.Session(meetingID); ok {
			resp.Live = &info
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleSessionAction(deps Deps, action func(meetingID string) (storage.ObservationSession, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := action(chi.URLParam(r, "meetingID"))
		if err != nil {
			writeWorkflowError(w, "session", err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{Session: newSessionView(ws)})
	}
}

func handleListObservations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := deps.Workflow.Get(chi.URLParam(r, "meetingID"))
		if err != nil {
			writeWorkflowError(w, "session", err)
			return
		}
		limit := parseIntParam(r, "limit", 50, 500)
		offset := parseIntParam(r, "offset", 0, 0)
		records, err := deps.Store.ListObservations(ws.ID, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list observations: %v", err)
			return
		}
		total, err := deps.Store.CountObservations(ws.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count observations: %v", err)
			return
		}
		out := make([]observationView, len(records))
		for i, rec := range records {
			out[i] = newObservationView(rec)
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": total, "observations": out})
	}
}

// --- Clarifications ---

func handleListClarifications(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := storage.ClarificationStatus(r.URL.Query().Get("status"))
		switch status {
		case "", storage.ClarificationPending, storage.ClarificationAnswered, storage.ClarificationSkipped:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", status)
			return
		}
		cs, err := deps.Workflow.List(chi.URLParam(r, "meetingID"), status)
		if err != nil {
			writeWorkflowError(w, "clarifications", err)
			return
		}
		writeJSON(w, http.StatusOK, clarificationViews(cs))
	}
}

func handleAskClarification(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		c, err := deps.Workflow.Ask(chi.URLParam(r, "meetingID"), req.Question, req.Category)
		if err != nil {
			writeWorkflowError(w, "clarification", err)
			return
		}
		writeJSON(w, http.StatusCreated, newClarificationView(c))
	}
}

func handleAnswerClarification(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req answerRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		c, err := deps.Workflow.Answer(chi.URLParam(r, "id"), req.Answer)
		if err != nil {
			writeWorkflowError(w, "clarification", err)
			return
		}
		writeJSON(w, http.StatusOK, newClarificationView(c))
	}
}

func handleSkipClarification(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Workflow.Skip(chi.URLParam(r, "id"))
		if err != nil {
			writeWorkflowError(w, "clarification", err)
			return
		}
		writeJSON(w, http.StatusOK, newClarificationView(c))
	}
}

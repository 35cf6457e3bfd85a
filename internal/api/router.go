package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/kalambet/opscribe/internal/broadcast"
	"github.com/kalambet/opscribe/internal/pipeline"
	"github.com/kalambet/opscribe/internal/storage"
	"github.com/kalambet/opscribe/internal/workflow"
)

const maxRequestBodySize = 1 << 20 // 1MB

// maxEventBodySize bounds capture payloads, which carry base64 frames.
const maxEventBodySize = 16 << 20 // 16MB

// Defaults for websocket flood control.
const (
	DefaultWSRate  = 10
	DefaultWSBurst = 20
)

// BackendStatus reports whether an inference backend is reachable.
type BackendStatus interface {
	Name() string
	IsRunning(ctx context.Context) bool
}

// Deps holds everything the HTTP API serves.
type Deps struct {
	Store    *storage.Store
	Observer *pipeline.Observer
	Workflow *workflow.Machine
	Hub      *broadcast.Hub
	Token    string

	// Backend is optional; when set, /health includes its reachability.
	Backend BackendStatus

	WSRate  rate.Limit
	WSBurst int
}

// NewRouter returns the daemon's HTTP handler. /health and /metrics are
// public; everything else requires the bearer token.
func NewRouter(deps Deps) http.Handler {
	if deps.WSRate <= 0 {
		deps.WSRate = DefaultWSRate
	}
	if deps.WSBurst <= 0 {
		deps.WSBurst = DefaultWSBurst
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/ws/meetings/{meetingID}", handleWebSocket(deps))
		r.Get("/sessions", handleListSessions(deps))
		r.Get("/meetings", handleListMeetings(deps))

		r.Route("/meetings/{meetingID}", func(r chi.Router) {
			r.Delete("/", handleDeleteMeeting(deps))
			r.Post("/events", handlePostEvent(deps))

			r.Get("/documents", handleListDocuments(deps))
			r.Route("/documents/{kind}", func(r chi.Router) {
				r.Get("/", handleGetDocument(deps))
				r.Get("/versions", handleListVersions(deps))
				r.Get("/versions/{version}", handleGetVersion(deps))
				r.Post("/rollback", handleRollback(deps))
				r.Patch("/status", handleSetDocumentStatus(deps))
			})

			r.Get("/session", handleGetSession(deps))
			r.Post("/session/advance", handleSessionAction(deps, deps.Observer.Advance))
			r.Post("/session/pause", handleSessionAction(deps, deps.Observer.Pause))
			r.Post("/session/resume", handleSessionAction(deps, deps.Observer.Resume))
			r.Post("/session/complete", handleSessionAction(deps, deps.Observer.Complete))

			r.Get("/observations", handleListObservations(deps))
			r.Get("/clarifications", handleListClarifications(deps))
			r.Post("/clarifications", handleAskClarification(deps))
		})

		r.Post("/clarifications/{id}/answer", handleAnswerClarification(deps))
		r.Post("/clarifications/{id}/skip", handleSkipClarification(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if deps.Backend != nil {
			resp["backend"] = map[string]any{
				"name":    deps.Backend.Name(),
				"running": deps.Backend.IsRunning(r.Context()),
			}
		}
		if deps.Observer != nil {
			resp["sessions"] = len(deps.Observer.Sessions())
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

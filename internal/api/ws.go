package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/kalambet/opscribe/internal/pipeline"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReplyQueue = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket serves one meeting connection. Inbound frames are events;
// the connection receives its own replies plus every broadcast for the
// meeting. A single goroutine owns all writes.
func handleWebSocket(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meetingID := chi.URLParam(r, "meetingID")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "meeting_id", meetingID, "error", err)
			return
		}
		defer conn.Close()

		listener := deps.Hub.Subscribe(meetingID)
		defer deps.Hub.Unsubscribe(listener)

		replies := make(chan pipeline.Result, wsReplyQueue)
		done := make(chan struct{})
		go func() {
			defer close(done)
			writeLoop(conn, replies, listener.C)
		}()

		slog.Info("websocket connected", "meeting_id", meetingID, "remote", r.RemoteAddr)
		readLoop(r.Context(), deps, conn, meetingID, replies)
		close(replies)
		<-done
		slog.Info("websocket disconnected", "meeting_id", meetingID)
	}
}

func readLoop(ctx context.Context, deps Deps, conn *websocket.Conn, meetingID string, replies chan<- pipeline.Result) {
	conn.SetReadLimit(maxEventBodySize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	limiter := rate.NewLimiter(deps.WSRate, deps.WSBurst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read failed", "meeting_id", meetingID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if !limiter.Allow() {
			replies <- pipeline.Result{Kind: pipeline.ResultError, Content: "rate limit exceeded"}
			continue
		}

		var ev pipeline.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			replies <- pipeline.Result{Kind: pipeline.ResultError, Content: "invalid event: " + err.Error()}
			continue
		}
		if ev.MeetingID == "" {
			ev.MeetingID = meetingID
		}
		if ev.MeetingID != meetingID {
			replies <- pipeline.Result{Kind: pipeline.ResultError, Content: "event meetingId does not match connection"}
			continue
		}
		replies <- deps.Observer.Handle(ctx, ev)
	}
}

func writeLoop(conn *websocket.Conn, replies <-chan pipeline.Result, updates <-chan []byte) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case res, ok := <-replies:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(res); err != nil {
				conn.Close()
				drain(replies)
				return
			}
		case msg, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.Close()
				drain(replies)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				drain(replies)
				return
			}
		}
	}
}

// drain discards replies after a write failure until the reader exits.
func drain(replies <-chan pipeline.Result) {
	for range replies {
	}
}

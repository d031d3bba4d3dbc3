package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/coder/websocket"

	"github.com/runbox-dev/runbox/internal/events"
)

// Events is set from main.go during init.
var Events *events.Broadcaster

// StreamEvents relays the live event feed over Server-Sent Events. A
// subscriber only sees events published after it connected; backlog is
// served by the session output endpoint instead.
//
// Query parameters:
//
//	session_id - only forward events for this session
//
// GET /api/v1/events
func StreamEvents(w http.ResponseWriter, r *http.Request) {
	if Events == nil {
		writeError(w, http.StatusServiceUnavailable, "Event feed not initialized")
		return
	}

	sessionID := r.URL.Query().Get("session_id")

	ch, unsubscribe := Events.Subscribe()
	defer unsubscribe()

	// SSE response
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// Flush headers immediately so the EventSource connection is established
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if sessionID != "" && ev.SessionID != sessionID {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// EventsWS relays the same live feed over a WebSocket, one JSON event
// per text frame. The connection is one-way; inbound frames are drained
// only so close handshakes are seen.
//
// Query parameters:
//
//	session_id - only forward events for this session
//
// GET /api/v1/events/ws
func EventsWS(w http.ResponseWriter, r *http.Request) {
	if Events == nil {
		writeError(w, http.StatusServiceUnavailable, "Event feed not initialized")
		return
	}

	sessionID := r.URL.Query().Get("session_id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[events] Failed to accept websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	conn.SetReadLimit(32 * 1024)

	ch, unsubscribe := Events.Subscribe()
	defer unsubscribe()

	relayCtx, relayCancel := context.WithCancel(r.Context())
	defer relayCancel()

	go func() {
		defer relayCancel()
		for {
			if _, _, err := conn.Read(relayCtx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if sessionID != "" && ev.SessionID != sessionID {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(relayCtx, websocket.MessageText, data); err != nil {
				return
			}
		case <-relayCtx.Done():
			return
		}
	}
}

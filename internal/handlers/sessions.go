package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/runbox-dev/runbox/internal/executor"
	"github.com/runbox-dev/runbox/internal/policy"
	"github.com/runbox-dev/runbox/internal/session"
)

// Sessions is set from main.go during init.
var Sessions *session.Manager

type sessionCreateRequest struct {
	ID         string            `json:"id"`
	OwnerID    string            `json:"owner_id"`
	Name       string            `json:"name"`
	WorkingDir string            `json:"working_dir"`
	Env        map[string]string `json:"env"`
}

type executeRequest struct {
	Command         string `json:"command"`
	TimeoutMs       int64  `json:"timeout_ms"`
	SafetyConfirmed bool   `json:"safety_confirmed"`
}

// executeRejection is the response body when admission control turns a
// command away. The classification tells the caller whether retrying
// with safety_confirmed=true can help.
type executeRejection struct {
	Detail               string        `json:"detail"`
	Classification       policy.Result `json:"classification"`
	ConfirmationRequired bool          `json:"confirmation_required"`
}

type sessionDetailResponse struct {
	session.Info
	History []string `json:"history"`
}

// ListSessions returns summaries of live sessions.
// GET /api/v1/sessions?owner_id=X
func ListSessions(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}

	infos := Sessions.List(r.URL.Query().Get("owner_id"))
	writeJSON(w, http.StatusOK, map[string][]session.Info{"sessions": infos})
}

// CreateSession registers a new session. The ID is optional; one is
// generated when omitted.
// POST /api/v1/sessions
func CreateSession(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}

	var body sessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s, err := Sessions.Create(session.CreateParams{
		ID:         body.ID,
		OwnerID:    body.OwnerID,
		Name:       body.Name,
		WorkingDir: body.WorkingDir,
		Env:        body.Env,
	})
	switch {
	case errors.Is(err, session.ErrDuplicate):
		writeError(w, http.StatusConflict, fmt.Sprintf("Session '%s' already exists", body.ID))
	case errors.Is(err, session.ErrCapacityExceeded):
		writeError(w, http.StatusTooManyRequests, fmt.Sprintf("Session limit reached (%d)", Sessions.MaxSessions()))
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to create session")
	default:
		writeJSON(w, http.StatusCreated, s.Info())
	}
}

// GetSession returns the detail view of one session, including its
// command history.
// GET /api/v1/sessions/{id}
func GetSession(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}

	s, err := Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, sessionDetailResponse{
		Info:    s.Info(),
		History: s.History(),
	})
}

// DeleteSession destroys a session, killing any process it is running.
// DELETE /api/v1/sessions/{id}
func DeleteSession(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}

	if !Sessions.Destroy(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"destroyed": true})
}

// ExecuteCommand dispatches a command into a session and waits for the
// result. Rejections carry the policy classification; a timed-out
// command is a 200 with timed_out set in the result.
// POST /api/v1/sessions/{id}/execute
func ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}

	id := chi.URLParam(r, "id")

	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.TimeoutMs < 0 {
		writeError(w, http.StatusBadRequest, "Invalid timeout_ms")
		return
	}

	result, err := Sessions.Execute(r.Context(), id, session.ExecuteParams{
		Command:         body.Command,
		Timeout:         time.Duration(body.TimeoutMs) * time.Millisecond,
		SafetyConfirmed: body.SafetyConfirmed,
	})
	if err != nil {
		var perr *policy.Error
		var serr *executor.SpawnError
		switch {
		case errors.As(err, &perr):
			status := http.StatusForbidden
			if perr.RequiresConfirmation() {
				status = http.StatusConflict
			} else if perr.Result.Decision == policy.DecisionInvalid {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, executeRejection{
				Detail:               perr.Error(),
				Classification:       perr.Result,
				ConfirmationRequired: perr.RequiresConfirmation(),
			})
		case errors.Is(err, session.ErrNotFound):
			writeError(w, http.StatusNotFound, "Session not found")
		case errors.Is(err, session.ErrBusy):
			writeError(w, http.StatusConflict, "Session is already executing a command")
		case errors.Is(err, executor.ErrInvalidCommand):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid command: %v", err))
		case errors.As(err, &serr):
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to spawn process: %v", serr.Unwrap()))
		default:
			writeError(w, http.StatusInternalServerError, "Command execution failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetSessionOutput returns the session's retained output backlog. The
// event feed has no replay, so late observers read history from here.
// GET /api/v1/sessions/{id}/output?limit=N
func GetSessionOutput(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}

	s, err := Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	limit := 0 // everything retained
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": s.ID,
		"output":     s.Output(limit),
	})
}

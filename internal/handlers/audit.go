package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/runbox-dev/runbox/internal/audit"
)

// Audit is set from main.go during init.
var Audit *audit.Recorder

// GetExecutions returns paginated execution history.
//
// Query parameters:
//
//	session_id - filter by session
//	owner_id   - filter by session owner
//	success    - "true"/"false", filter by outcome
//	timed_out  - "true"/"false", filter timed-out executions
//	since      - RFC3339 timestamp, only executions after this time
//	until      - RFC3339 timestamp, only executions before this time
//	limit      - max entries to return (default 50, max 1000)
//	offset     - pagination offset
//
// GET /api/v1/executions
func GetExecutions(w http.ResponseWriter, r *http.Request) {
	if Audit == nil {
		writeError(w, http.StatusServiceUnavailable, "Execution history not initialized")
		return
	}

	opts := audit.QueryOptions{}

	if v := r.URL.Query().Get("session_id"); v != "" {
		opts.SessionID = v
	}
	if v := r.URL.Query().Get("owner_id"); v != "" {
		opts.OwnerID = v
	}
	if v := r.URL.Query().Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid success flag")
			return
		}
		opts.Success = &b
	}
	if v := r.URL.Query().Get("timed_out"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid timed_out flag")
			return
		}
		opts.TimedOut = &b
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since timestamp (use RFC3339)")
			return
		}
		opts.Since = &t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until timestamp (use RFC3339)")
			return
		}
		opts.Until = &t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = n
	}

	result, err := Audit.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query execution history")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// PurgeExecutions manually removes old execution records.
//
// Query parameters:
//
//	days - number of days to retain (uses configured default if omitted)
//
// POST /api/v1/executions/purge
func PurgeExecutions(w http.ResponseWriter, r *http.Request) {
	if Audit == nil {
		writeError(w, http.StatusServiceUnavailable, "Execution history not initialized")
		return
	}

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid days parameter")
			return
		}
		days = n
	}

	deleted, err := Audit.PurgeOlderThan(days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to purge execution history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":        deleted,
		"retention_days": Audit.RetentionDays(),
	})
}

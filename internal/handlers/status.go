package handlers

import (
	"net/http"

	"github.com/runbox-dev/runbox/internal/config"
	"github.com/runbox-dev/runbox/internal/executor"
)

// Runner is set from main.go during init.
var Runner *executor.Runner

// GetStatus returns aggregate service counters: session occupancy,
// configured limits, and activity totals since start.
// GET /api/v1/status
func GetStatus(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}

	subscribers := 0
	if Events != nil {
		subscribers = Events.SubscriberCount()
	}
	var spawned int64
	if Runner != nil {
		spawned = Runner.SpawnCount()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_sessions":    Sessions.Count(),
		"running_commands":   Sessions.RunningCount(),
		"max_sessions":       Sessions.MaxSessions(),
		"idle_timeout":       config.Cfg.SessionIdleTimeout,
		"default_timeout_ms": config.Cfg.DefaultCommandTimeoutMs,
		"max_timeout_ms":     config.Cfg.MaxCommandTimeoutMs,
		"event_subscribers":  subscribers,
		"processes_started":  spawned,
	})
}

package handlers

import (
	"net/http"

	"github.com/runbox-dev/runbox/internal/policy"
)

// Policy is set from main.go during init.
var Policy *policy.Policy

// ListCommands returns the admission-control tiers so callers can see
// what is runnable before dispatching anything.
// GET /api/v1/commands
func ListCommands(w http.ResponseWriter, r *http.Request) {
	if Policy == nil {
		writeError(w, http.StatusServiceUnavailable, "Command policy not initialized")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"allowed":        Policy.AllowedCommands(),
		"dangerous":      Policy.DangerousCommands(),
		"blocked":        Policy.BlockedCommands(),
		"block_patterns": Policy.BlockPatterns(),
	})
}

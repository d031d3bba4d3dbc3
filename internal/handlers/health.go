package handlers

import (
	"net/http"

	"github.com/runbox-dev/runbox/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	sessStatus := "unavailable"
	if Sessions != nil {
		sessStatus = "ready"
	}

	status := "healthy"
	if dbStatus != "connected" || sessStatus != "ready" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"database": dbStatus,
		"sessions": sessStatus,
	})
}

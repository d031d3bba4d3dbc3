package main

import (
	"log"

	"github.com/runbox-dev/runbox/internal/audit"
)

// purgeExpiredExecutions runs one retention sweep over the execution
// history using the recorder's configured window.
func purgeExpiredExecutions(auditor *audit.Recorder) {
	if _, err := auditor.PurgeOlderThan(0); err != nil {
		log.Printf("Scheduled audit purge: %v", err)
	}
}

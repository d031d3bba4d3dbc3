// Package audit provides a persistent trail of session command executions.
//
// Every command that reaches the process runner produces one record:
// the session and owner it ran for, the raw command line, the exit code
// (null when the process was killed on timeout), the timed-out and
// success flags, and the wall-clock duration. Commands rejected by
// admission control never produce a record because no execution took
// place.
//
// # Architecture
//
// [Recorder] is the core type. It wraps a GORM database connection and
// writes to the execution_records table. It implements the session
// manager's audit-sink interface, so the manager hands it every finished
// execution without knowing about the database. Records are also echoed
// to the standard logger with the [audit] prefix for operational
// visibility.
//
// # Retention and Purging
//
// Records are retained for [DefaultRetentionDays] (30 days) by default.
// [Recorder.PurgeOlderThan] removes entries beyond the retention period;
// the service schedules it via cron to keep the database bounded.
//
// # Querying
//
// [Recorder.Query] retrieves records with filtering by session, owner,
// outcome, and time range. Results include pagination metadata.
package audit

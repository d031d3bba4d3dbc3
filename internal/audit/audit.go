package audit

import (
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/runbox-dev/runbox/internal/database"
	"github.com/runbox-dev/runbox/internal/logutil"
	"github.com/runbox-dev/runbox/internal/session"
)

// DefaultRetentionDays is the default number of days to keep execution
// records.
const DefaultRetentionDays = 30

var _ session.AuditSink = (*Recorder)(nil)

// Recorder writes and queries execution records. It satisfies the
// session manager's audit-sink interface.
type Recorder struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time // injectable clock for testing
}

// NewRecorder creates a Recorder writing to the given database. If
// retentionDays is 0, DefaultRetentionDays is used.
func NewRecorder(db *gorm.DB, retentionDays int) *Recorder {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Recorder{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// RecordExecution persists one finished execution. Write failures are
// logged but never propagated; audit trouble must not fail the
// execution path.
func (r *Recorder) RecordExecution(rec session.ExecutionRecord) {
	record := database.ExecutionRecord{
		SessionID:  rec.SessionID,
		OwnerID:    rec.OwnerID,
		Command:    rec.Command,
		ExitCode:   rec.ExitCode,
		TimedOut:   rec.TimedOut,
		Success:    rec.Success,
		DurationMs: rec.DurationMs,
		Error:      rec.Error,
	}

	if err := r.db.Create(&record).Error; err != nil {
		log.Printf("[audit] failed to write execution record: %v", err)
		return
	}

	log.Printf("[audit] session=%s owner=%s success=%v timed_out=%v duration=%dms command=%s",
		rec.SessionID,
		logutil.SanitizeForLog(rec.OwnerID),
		rec.Success,
		rec.TimedOut,
		rec.DurationMs,
		logutil.SanitizeCommand(rec.Command),
	)
}

// QueryOptions specifies filters for retrieving execution records.
type QueryOptions struct {
	SessionID string
	OwnerID   string
	Success   *bool
	TimedOut  *bool
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains execution records and pagination metadata.
type QueryResult struct {
	Entries []database.ExecutionRecord `json:"entries"`
	Total   int64                      `json:"total"`
	Limit   int                        `json:"limit"`
	Offset  int                        `json:"offset"`
}

// Query retrieves execution records matching the given options, newest
// first.
func (r *Recorder) Query(opts QueryOptions) (*QueryResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx := r.db.Model(&database.ExecutionRecord{})

	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.OwnerID != "" {
		tx = tx.Where("owner_id = ?", opts.OwnerID)
	}
	if opts.Success != nil {
		tx = tx.Where("success = ?", *opts.Success)
	}
	if opts.TimedOut != nil {
		tx = tx.Where("timed_out = ?", *opts.TimedOut)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var entries []database.ExecutionRecord
	if err := tx.Order("created_at DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes execution records older than the given number
// of days, or the configured retention when days <= 0. Returns the
// number of records deleted.
func (r *Recorder) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = r.retentionDays
	}
	cutoff := r.nowFn().AddDate(0, 0, -days)
	result := r.db.Where("created_at < ?", cutoff).Delete(&database.ExecutionRecord{})
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d execution records older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (r *Recorder) RetentionDays() int {
	return r.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (r *Recorder) SetNowFunc(fn func() time.Time) {
	r.nowFn = fn
}

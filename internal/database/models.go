package database

import "time"

// ExecutionRecord is one audited command execution. Policy rejections
// never reach the runner and therefore never produce a record.
type ExecutionRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"index;not null;size:64" json:"session_id"`
	OwnerID    string    `gorm:"index;size:64" json:"owner_id"`
	Command    string    `gorm:"not null" json:"command"`
	ExitCode   *int      `json:"exit_code"`
	TimedOut   bool      `gorm:"not null;default:false" json:"timed_out"`
	Success    bool      `gorm:"not null;default:false" json:"success"`
	DurationMs int64     `gorm:"not null;default:0" json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// Package session implements the registry of command-execution sessions.
//
// A Manager owns every live session: it enforces the capacity limit,
// admission control and single-flight execution, records bounded output
// history, expires idle sessions from one scheduler goroutine, and
// publishes lifecycle and output events to the service broadcaster.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	// StatusIdle means the session is ready to accept a command.
	StatusIdle Status = "idle"
	// StatusRunning means a command is currently executing.
	StatusRunning Status = "running"
	// StatusError means the last dispatch failed before the process could
	// run. The session still accepts new commands.
	StatusError Status = "error"
)

// Output entry types recorded in a session's history.
const (
	OutputStdout  = "stdout"
	OutputStderr  = "stderr"
	OutputCommand = "command"
	OutputError   = "error"
)

var (
	// ErrNotFound reports an unknown or already-destroyed session ID.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicate reports a create with an ID that is already live.
	ErrDuplicate = errors.New("session already exists")
	// ErrCapacityExceeded reports that the session limit is reached.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrBusy reports a dispatch to a session that is still running a
	// command.
	ErrBusy = errors.New("session is already executing a command")
)

// OutputEntry is one recorded chunk of session output.
type OutputEntry struct {
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a single command-execution context. The exported fields are
// immutable after creation; everything mutable is guarded by mu.
type Session struct {
	ID         string
	OwnerID    string
	Name       string
	WorkingDir string
	Env        map[string]string
	CreatedAt  time.Time

	output *OutputLog

	mu           sync.Mutex
	status       Status
	lastActivity time.Time
	history      []string
	cancelExec   context.CancelFunc
	destroyed    bool
}

// Info is a point-in-time snapshot of a session for API responses.
type Info struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Name           string    `json:"name,omitempty"`
	WorkingDir     string    `json:"working_dir,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CommandCount   int       `json:"command_count"`
	OutputCount    int       `json:"output_count"`
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastActivity returns the time of the session's last recorded activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// History returns the commands dispatched to this session, oldest first.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// Output returns up to limit entries from the end of the session's
// output history; limit <= 0 returns everything still buffered.
func (s *Session) Output(limit int) []OutputEntry {
	return s.output.Tail(limit)
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.ID,
		OwnerID:        s.OwnerID,
		Name:           s.Name,
		WorkingDir:     s.WorkingDir,
		Status:         s.status,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.lastActivity,
		CommandCount:   len(s.history),
		OutputCount:    s.output.Len(),
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// beginExecution claims the session for one command. It fails with
// ErrBusy while another command is in flight; only one process can ever
// be associated with a session at a time.
func (s *Session) beginExecution(parent context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, nil, ErrNotFound
	}
	if s.cancelExec != nil {
		return nil, nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancelExec = cancel
	s.status = StatusRunning
	s.lastActivity = time.Now()
	return ctx, cancel, nil
}

func (s *Session) recordCommand(command string) {
	s.mu.Lock()
	s.history = append(s.history, command)
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) endExecution(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelExec = nil
	if !s.destroyed {
		s.status = status
	}
	s.lastActivity = time.Now()
}

// markDestroyed flags the session as gone and cancels any in-flight
// execution, which kills the associated process group.
func (s *Session) markDestroyed() {
	s.mu.Lock()
	cancel := s.cancelExec
	s.destroyed = true
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// defaultOutputCap bounds a session's output history when no cap is
// configured.
const defaultOutputCap = 1000

// OutputLog is a thread-safe bounded log of output entries. When the
// entry count exceeds the cap, the oldest entries are dropped.
type OutputLog struct {
	mu      sync.Mutex
	entries []OutputEntry
	max     int
}

// NewOutputLog creates an output log holding at most max entries. If
// max <= 0, defaultOutputCap is used.
func NewOutputLog(max int) *OutputLog {
	if max <= 0 {
		max = defaultOutputCap
	}
	return &OutputLog{max: max}
}

// Append adds an entry, evicting the oldest entries once the cap is
// exceeded.
func (l *OutputLog) Append(entry OutputEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// Tail returns a copy of the newest n entries in order; n <= 0 returns
// all buffered entries.
func (l *OutputLog) Tail(n int) []OutputEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.entries
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]OutputEntry, len(entries))
	copy(out, entries)
	return out
}

// Len returns the number of buffered entries.
func (l *OutputLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

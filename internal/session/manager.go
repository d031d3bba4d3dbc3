package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runbox-dev/runbox/internal/events"
	"github.com/runbox-dev/runbox/internal/executor"
	"github.com/runbox-dev/runbox/internal/logutil"
	"github.com/runbox-dev/runbox/internal/policy"
)

// DefaultMaxSessions bounds concurrent sessions when no limit is
// configured.
const DefaultMaxSessions = 10

// ExecutionRecord is handed to the audit sink after every execution
// attempt that reached the runner.
type ExecutionRecord struct {
	SessionID  string
	OwnerID    string
	Command    string
	ExitCode   *int
	TimedOut   bool
	Success    bool
	DurationMs int64
	Error      string
}

// AuditSink receives execution records for persistence. Implementations
// must be safe for concurrent use.
type AuditSink interface {
	RecordExecution(rec ExecutionRecord)
}

// Config assembles a Manager's collaborators and limits.
type Config struct {
	MaxSessions int
	IdleTimeout time.Duration
	OutputCap   int

	Policy *policy.Policy
	Runner *executor.Runner
	Events *events.Broadcaster
	Audit  AuditSink
}

// Manager tracks every live session. It enforces the capacity limit and
// duplicate-ID rejection, classifies each command before anything is
// spawned, serializes execution per session, and destroys sessions on
// request or after the idle timeout.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	policy      *policy.Policy
	runner      *executor.Runner
	events      *events.Broadcaster
	audit       AuditSink
	maxSessions int
	outputCap   int
	idle        *reaper
}

// NewManager creates a Manager and starts its idle scheduler.
func NewManager(cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Policy == nil {
		cfg.Policy = policy.Default()
	}
	if cfg.Runner == nil {
		cfg.Runner = executor.NewRunner(0, 0)
	}
	if cfg.Events == nil {
		cfg.Events = events.NewBroadcaster(0)
	}

	m := &Manager{
		sessions:    make(map[string]*Session),
		policy:      cfg.Policy,
		runner:      cfg.Runner,
		events:      cfg.Events,
		audit:       cfg.Audit,
		maxSessions: cfg.MaxSessions,
		outputCap:   cfg.OutputCap,
	}
	m.idle = newReaper(cfg.IdleTimeout, m.expireIdle)
	return m
}

// CreateParams describes a new session. An empty ID is filled with a
// generated UUID.
type CreateParams struct {
	ID         string
	OwnerID    string
	Name       string
	WorkingDir string
	Env        map[string]string
}

// Create registers a new session. It fails with ErrDuplicate when the ID
// is already live and ErrCapacityExceeded when the session limit is
// reached.
func (m *Manager) Create(p CreateParams) (*Session, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	env := make(map[string]string, len(p.Env))
	for k, v := range p.Env {
		env[k] = v
	}

	s := &Session{
		ID:           p.ID,
		OwnerID:      p.OwnerID,
		Name:         p.Name,
		WorkingDir:   p.WorkingDir,
		Env:          env,
		CreatedAt:    time.Now(),
		output:       NewOutputLog(m.outputCap),
		status:       StatusIdle,
		lastActivity: time.Now(),
	}

	m.mu.Lock()
	if _, exists := m.sessions[p.ID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, p.ID)
	}
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: limit %d reached", ErrCapacityExceeded, m.maxSessions)
	}
	m.sessions[p.ID] = s
	m.mu.Unlock()

	m.idle.Reset(p.ID)
	m.events.Publish(events.Event{SessionID: p.ID, Type: events.TypeSessionCreated})
	log.Printf("[sessions] created session %s (owner %s)", p.ID, logutil.SanitizeForLog(p.OwnerID))
	return s, nil
}

// Get returns the session with the given ID or ErrNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns snapshots of all sessions, filtered by owner when ownerID
// is non-empty.
func (m *Manager) List(ownerID string) []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if ownerID != "" && s.OwnerID != ownerID {
			continue
		}
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Destroy removes a session, killing any in-flight process. It reports
// whether a session was actually destroyed: destroying the same ID again
// returns false, never an error.
func (m *Manager) Destroy(id string) bool {
	return m.destroy(id, false)
}

func (m *Manager) destroy(id string, expired bool) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	// The timeout event goes out before the session leaves the registry.
	if expired {
		m.events.Publish(events.Event{SessionID: id, Type: events.TypeSessionTimeout})
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	m.idle.Cancel(id)
	s.markDestroyed()

	if expired {
		log.Printf("[sessions] session %s timed out after inactivity", id)
	}
	m.events.Publish(events.Event{SessionID: id, Type: events.TypeSessionDestroyed})
	log.Printf("[sessions] destroyed session %s", id)
	return true
}

// expireIdle is the reaper callback for sessions past their idle
// deadline.
func (m *Manager) expireIdle(id string) {
	m.destroy(id, true)
}

// RecordOutput appends an entry to the session's bounded output history,
// publishes the matching session_output event, and resets the idle
// deadline.
func (m *Manager) RecordOutput(id, outputType, data string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.output.Append(OutputEntry{
		Type:      outputType,
		Data:      data,
		Timestamp: time.Now(),
	})
	s.touch()
	m.idle.Reset(id)
	m.events.Publish(events.Event{
		SessionID:  id,
		Type:       events.TypeSessionOutput,
		OutputType: outputType,
		Data:       data,
	})
	return nil
}

// ExecuteParams describes one command dispatch.
type ExecuteParams struct {
	Command         string
	Timeout         time.Duration
	SafetyConfirmed bool
}

// Execute runs a command in the session. The command is classified
// first; nothing is spawned unless it is admitted. While the process
// runs, its output streams into the session history and onto the event
// feed. A timeout produces a normal result with TimedOut set, not an
// error.
func (m *Manager) Execute(ctx context.Context, id string, p ExecuteParams) (*executor.Result, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	// Admission control happens before the session is claimed and
	// before any process exists.
	if err := m.policy.Check(p.Command, p.SafetyConfirmed); err != nil {
		return nil, err
	}

	execCtx, cancel, err := s.beginExecution(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	m.idle.Reset(id)
	s.recordCommand(p.Command)
	m.events.Publish(events.Event{SessionID: id, Type: events.TypeCommandStart, Data: p.Command})
	if rerr := m.RecordOutput(id, OutputCommand, p.Command); rerr != nil {
		// Session vanished between Get and here; treat as destroyed.
		s.endExecution(StatusIdle)
		return nil, rerr
	}
	log.Printf("[sessions] session %s executing: %s", id, logutil.SanitizeCommand(p.Command))

	res, runErr := m.runner.Run(execCtx, executor.Request{
		Command: p.Command,
		Dir:     s.WorkingDir,
		Env:     s.Env,
		Timeout: p.Timeout,
		OnOutput: func(stream, data string) {
			// Best effort: output for a session destroyed mid-run is
			// dropped with the session.
			_ = m.RecordOutput(id, stream, data)
		},
	})

	if runErr != nil {
		if errors.Is(runErr, executor.ErrInvalidCommand) {
			// Input error; the session itself is unharmed.
			s.endExecution(StatusIdle)
			m.events.Publish(events.Event{SessionID: id, Type: events.TypeCommandError, Data: runErr.Error()})
			return nil, runErr
		}
		s.endExecution(StatusError)
		_ = m.RecordOutput(id, OutputError, runErr.Error())
		m.events.Publish(events.Event{SessionID: id, Type: events.TypeCommandError, Data: runErr.Error()})
		if m.audit != nil {
			m.audit.RecordExecution(ExecutionRecord{
				SessionID: id,
				OwnerID:   s.OwnerID,
				Command:   p.Command,
				Error:     runErr.Error(),
			})
		}
		log.Printf("[sessions] session %s execution failed: %v", id, runErr)
		return nil, runErr
	}

	s.endExecution(StatusIdle)
	m.idle.Reset(id)
	m.events.Publish(events.Event{SessionID: id, Type: events.TypeCommandComplete, Data: p.Command})
	if m.audit != nil {
		m.audit.RecordExecution(ExecutionRecord{
			SessionID:  id,
			OwnerID:    s.OwnerID,
			Command:    p.Command,
			ExitCode:   res.ExitCode,
			TimedOut:   res.TimedOut,
			Success:    res.Success,
			DurationMs: res.DurationMs,
		})
	}
	return res, nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RunningCount returns the number of sessions currently executing a
// command.
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	count := 0
	for _, s := range sessions {
		if s.Status() == StatusRunning {
			count++
		}
	}
	return count
}

// MaxSessions returns the configured capacity limit.
func (m *Manager) MaxSessions() int {
	return m.maxSessions
}

// Stop shuts the manager down: the idle scheduler is stopped and every
// session is destroyed, killing any processes still running.
func (m *Manager) Stop() {
	m.idle.Stop()

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.destroy(id, false)
	}
}

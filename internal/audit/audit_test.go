package audit

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/runbox-dev/runbox/internal/database"
	"github.com/runbox-dev/runbox/internal/session"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Use a temp file DB so multiple SQL connections see the same data (required
	// for concurrent writes). Each test gets its own file via t.TempDir().
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&database.ExecutionRecord{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	return NewRecorder(setupTestDB(t), 30)
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

// --- Constructor tests ---

func TestNewRecorder_RetentionDays(t *testing.T) {
	r := NewRecorder(setupTestDB(t), 90)
	if r.RetentionDays() != 90 {
		t.Errorf("retention = %d, want 90", r.RetentionDays())
	}
}

func TestNewRecorder_DefaultRetention(t *testing.T) {
	r := NewRecorder(setupTestDB(t), 0)
	if r.RetentionDays() != DefaultRetentionDays {
		t.Errorf("retention = %d, want %d", r.RetentionDays(), DefaultRetentionDays)
	}
}

// --- RecordExecution tests ---

func TestRecordExecution_Basic(t *testing.T) {
	r := newTestRecorder(t)

	r.RecordExecution(session.ExecutionRecord{
		SessionID:  "sess-1",
		OwnerID:    "alice",
		Command:    "echo hello",
		ExitCode:   intPtr(0),
		Success:    true,
		DurationMs: 12,
	})

	res, err := r.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("total = %d, want 1", res.Total)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(res.Entries))
	}

	e := res.Entries[0]
	if e.SessionID != "sess-1" {
		t.Errorf("session_id = %q, want %q", e.SessionID, "sess-1")
	}
	if e.OwnerID != "alice" {
		t.Errorf("owner_id = %q, want %q", e.OwnerID, "alice")
	}
	if e.Command != "echo hello" {
		t.Errorf("command = %q, want %q", e.Command, "echo hello")
	}
	if e.ExitCode == nil || *e.ExitCode != 0 {
		t.Errorf("exit_code = %v, want 0", e.ExitCode)
	}
	if !e.Success {
		t.Error("expected success")
	}
	if e.DurationMs != 12 {
		t.Errorf("duration_ms = %d, want 12", e.DurationMs)
	}
	if e.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if e.CreatedAt.IsZero() {
		t.Error("expected non-zero created_at")
	}
}

func TestRecordExecution_TimeoutHasNoExitCode(t *testing.T) {
	r := newTestRecorder(t)

	r.RecordExecution(session.ExecutionRecord{
		SessionID:  "sess-1",
		OwnerID:    "alice",
		Command:    "sleep 60",
		TimedOut:   true,
		Success:    false,
		DurationMs: 500,
	})

	res, err := r.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	e := res.Entries[0]
	if e.ExitCode != nil {
		t.Errorf("exit_code = %v, want nil for timed-out command", *e.ExitCode)
	}
	if !e.TimedOut {
		t.Error("expected timed_out")
	}
	if e.Success {
		t.Error("expected failure")
	}
}

func TestRecordExecution_SpawnFailure(t *testing.T) {
	r := newTestRecorder(t)

	r.RecordExecution(session.ExecutionRecord{
		SessionID: "sess-1",
		Command:   "no-such-binary",
		Success:   false,
		Error:     "failed to spawn process: exec: not found",
	})

	res, err := r.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Entries[0].Error == "" {
		t.Error("expected error text to be recorded")
	}
}

// --- Query tests ---

func TestQuery_FilterBySession(t *testing.T) {
	r := newTestRecorder(t)

	r.RecordExecution(session.ExecutionRecord{SessionID: "a", Command: "echo 1", Success: true})
	r.RecordExecution(session.ExecutionRecord{SessionID: "b", Command: "echo 2", Success: true})
	r.RecordExecution(session.ExecutionRecord{SessionID: "a", Command: "echo 3", Success: true})

	res, err := r.Query(QueryOptions{SessionID: "a"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2", res.Total)
	}
	for _, e := range res.Entries {
		if e.SessionID != "a" {
			t.Errorf("session_id = %q, want %q", e.SessionID, "a")
		}
	}
}

func TestQuery_FilterByOwner(t *testing.T) {
	r := newTestRecorder(t)

	r.RecordExecution(session.ExecutionRecord{SessionID: "a", OwnerID: "alice", Command: "echo 1"})
	r.RecordExecution(session.ExecutionRecord{SessionID: "b", OwnerID: "bob", Command: "echo 2"})

	res, err := r.Query(QueryOptions{OwnerID: "bob"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("total = %d, want 1", res.Total)
	}
	if res.Entries[0].OwnerID != "bob" {
		t.Errorf("owner_id = %q, want %q", res.Entries[0].OwnerID, "bob")
	}
}

func TestQuery_FilterByOutcome(t *testing.T) {
	r := newTestRecorder(t)

	r.RecordExecution(session.ExecutionRecord{SessionID: "a", Command: "true", ExitCode: intPtr(0), Success: true})
	r.RecordExecution(session.ExecutionRecord{SessionID: "a", Command: "false", ExitCode: intPtr(1), Success: false})
	r.RecordExecution(session.ExecutionRecord{SessionID: "a", Command: "sleep 60", TimedOut: true, Success: false})

	res, err := r.Query(QueryOptions{Success: boolPtr(true)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("success=true total = %d, want 1", res.Total)
	}
	if res.Entries[0].Command != "true" {
		t.Errorf("command = %q, want %q", res.Entries[0].Command, "true")
	}

	res, err = r.Query(QueryOptions{TimedOut: boolPtr(true)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("timed_out=true total = %d, want 1", res.Total)
	}
	if res.Entries[0].Command != "sleep 60" {
		t.Errorf("command = %q, want %q", res.Entries[0].Command, "sleep 60")
	}
}

func TestQuery_FilterByTimeRange(t *testing.T) {
	db := setupTestDB(t)
	r := NewRecorder(db, 30)

	now := time.Now()
	for i, age := range []time.Duration{72 * time.Hour, 24 * time.Hour, time.Hour} {
		rec := database.ExecutionRecord{
			SessionID: "a",
			Command:   fmt.Sprintf("echo %d", i),
			CreatedAt: now.Add(-age),
		}
		if err := db.Create(&rec).Error; err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}

	since := now.Add(-48 * time.Hour)
	res, err := r.Query(QueryOptions{Since: &since})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("since total = %d, want 2", res.Total)
	}

	until := now.Add(-48 * time.Hour)
	res, err = r.Query(QueryOptions{Until: &until})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("until total = %d, want 1", res.Total)
	}
	if res.Entries[0].Command != "echo 0" {
		t.Errorf("command = %q, want %q", res.Entries[0].Command, "echo 0")
	}
}

func TestQuery_Pagination(t *testing.T) {
	r := newTestRecorder(t)

	for i := 0; i < 25; i++ {
		r.RecordExecution(session.ExecutionRecord{SessionID: "a", Command: "echo hi", Success: true})
	}

	res, err := r.Query(QueryOptions{Limit: 10, Offset: 0})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 25 {
		t.Fatalf("total = %d, want 25", res.Total)
	}
	if len(res.Entries) != 10 {
		t.Fatalf("page 1 entries = %d, want 10", len(res.Entries))
	}

	res2, err := r.Query(QueryOptions{Limit: 10, Offset: 20})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res2.Entries) != 5 {
		t.Fatalf("page 3 entries = %d, want 5", len(res2.Entries))
	}

	// No overlap between pages.
	ids := make(map[uint]bool)
	for _, e := range res.Entries {
		ids[e.ID] = true
	}
	for _, e := range res2.Entries {
		if ids[e.ID] {
			t.Errorf("duplicate entry ID %d across pages", e.ID)
		}
	}
}

func TestQuery_DefaultLimit(t *testing.T) {
	r := newTestRecorder(t)

	for i := 0; i < 60; i++ {
		r.RecordExecution(session.ExecutionRecord{SessionID: "a", Command: "echo hi"})
	}

	res, err := r.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 60 {
		t.Fatalf("total = %d, want 60", res.Total)
	}
	if len(res.Entries) != 50 {
		t.Fatalf("entries = %d, want default limit of 50", len(res.Entries))
	}
	if res.Limit != 50 {
		t.Errorf("limit = %d, want 50", res.Limit)
	}
}

func TestQuery_OrderNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	r := NewRecorder(db, 30)

	now := time.Now()
	for i, cmd := range []string{"first", "second", "third"} {
		rec := database.ExecutionRecord{
			SessionID: "a",
			Command:   cmd,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}
		if err := db.Create(&rec).Error; err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}

	res, err := r.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(res.Entries))
	}
	if res.Entries[0].Command != "third" {
		t.Errorf("first entry = %q, want %q", res.Entries[0].Command, "third")
	}
	if res.Entries[2].Command != "first" {
		t.Errorf("last entry = %q, want %q", res.Entries[2].Command, "first")
	}
}

func TestQuery_EmptyResult(t *testing.T) {
	r := newTestRecorder(t)

	res, err := r.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 0 {
		t.Errorf("total = %d, want 0", res.Total)
	}
	if len(res.Entries) != 0 {
		t.Errorf("entries = %d, want 0", len(res.Entries))
	}
}

// --- Purge tests ---

func TestPurgeOlderThan(t *testing.T) {
	db := setupTestDB(t)
	r := NewRecorder(db, 30)

	old := database.ExecutionRecord{
		SessionID: "a",
		Command:   "old entry",
		CreatedAt: time.Now().Add(-100 * 24 * time.Hour),
	}
	recent := database.ExecutionRecord{
		SessionID: "a",
		Command:   "recent entry",
		CreatedAt: time.Now().Add(-time.Hour),
	}
	db.Create(&old)
	db.Create(&recent)

	deleted, err := r.PurgeOlderThan(30)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	res, _ := r.Query(QueryOptions{})
	if res.Total != 1 {
		t.Fatalf("remaining = %d, want 1", res.Total)
	}
	if res.Entries[0].Command != "recent entry" {
		t.Errorf("remaining = %q, want recent entry", res.Entries[0].Command)
	}
}

func TestPurgeOlderThan_DefaultsToRetention(t *testing.T) {
	db := setupTestDB(t)
	r := NewRecorder(db, 30)
	r.SetNowFunc(func() time.Time { return time.Now().Add(40 * 24 * time.Hour) })

	r.RecordExecution(session.ExecutionRecord{SessionID: "a", Command: "echo hi"})

	// With the clock advanced 40 days, a 30-day retention purges the record.
	deleted, err := r.PurgeOlderThan(0)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

func TestPurgeOlderThan_NothingToDelete(t *testing.T) {
	r := newTestRecorder(t)

	r.RecordExecution(session.ExecutionRecord{SessionID: "a", Command: "echo hi"})

	deleted, err := r.PurgeOlderThan(30)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

// --- Concurrent access tests ---

func TestConcurrentRecording(t *testing.T) {
	r := newTestRecorder(t)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(id int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 10; j++ {
				r.RecordExecution(session.ExecutionRecord{
					SessionID: fmt.Sprintf("sess-%d", id),
					Command:   "echo concurrent",
					Success:   true,
				})
			}
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	res, err := r.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 100 {
		t.Errorf("total = %d, want 100 from concurrent recording", res.Total)
	}
}

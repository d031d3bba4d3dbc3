package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetStatus(t *testing.T) {
	m := setupService(t)
	createSessionForTest(t, m, "sess-s1", "alice")
	createSessionForTest(t, m, "sess-s2", "bob")

	r := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()

	GetStatus(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp["active_sessions"].(float64) != 2 {
		t.Errorf("active_sessions = %v, want 2", resp["active_sessions"])
	}
	if resp["running_commands"].(float64) != 0 {
		t.Errorf("running_commands = %v, want 0", resp["running_commands"])
	}
	if resp["max_sessions"].(float64) != 10 {
		t.Errorf("max_sessions = %v, want 10", resp["max_sessions"])
	}
	if resp["event_subscribers"].(float64) != 0 {
		t.Errorf("event_subscribers = %v, want 0", resp["event_subscribers"])
	}
	if _, ok := resp["processes_started"]; !ok {
		t.Error("missing processes_started counter")
	}
}

func TestGetStatus_NotInitialized(t *testing.T) {
	Sessions = nil

	r := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()

	GetStatus(w, r)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

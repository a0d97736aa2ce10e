package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fentz26/utimer/internal/controlplane"
	"github.com/fentz26/utimer/internal/models"
)

func TestRemaining(t *testing.T) {
	now := time.Now()
	end := now.Add(90 * time.Second)
	past := now.Add(-time.Second)

	tests := []struct {
		name string
		task models.TimerTask
		want string
	}{
		{"running", models.TimerTask{Status: models.TaskStatusRunning, EndTime: &end}, "1m30s"},
		{"due", models.TimerTask{Status: models.TaskStatusRunning, EndTime: &past}, "due"},
		{"pending", models.TimerTask{Status: models.TaskStatusPending}, "not started"},
		{"cancelled", models.TimerTask{Status: models.TaskStatusCancelled, EndTime: &end}, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := remaining(&tt.task, now); got != tt.want {
				t.Errorf("remaining() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("Expected unchanged string, got %q", got)
	}
	if got := truncate("番茄钟番茄钟番茄钟", 6); got != "番茄钟..." {
		t.Errorf("Expected rune-safe truncation, got %q", got)
	}
	if got := truncateID("0123456789"); got != "01234567" {
		t.Errorf("Expected 8 characters, got %q", got)
	}
}

func withAPI(t *testing.T, h http.Handler) {
	t.Helper()
	srv := httptest.NewServer(h)
	prev := apiAddr
	apiAddr = srv.URL
	t.Cleanup(func() {
		apiAddr = prev
		srv.Close()
	})
}

func TestCheckHealth(t *testing.T) {
	withAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(controlplane.HealthResponse{OK: false, DB: "database is closed"})
	}))

	health, err := CheckHealth()
	if err == nil {
		t.Fatal("Expected error for 503")
	}
	if health == nil || health.DB != "database is closed" {
		t.Errorf("Expected payload alongside the error, got %+v", health)
	}
	if isDaemonRunning() {
		t.Error("Unhealthy daemon must not count as running")
	}
}

func TestAPIErrors(t *testing.T) {
	withAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "task not found", http.StatusNotFound)
	}))

	var task models.TimerTask
	err := apiGet("/timers/nope", &task)
	if err == nil {
		t.Fatal("Expected error")
	}
	if want := "API error (404): task not found"; err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

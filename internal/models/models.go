// Package models defines the core domain types for utimer.
package models

import (
	"strings"
	"time"
)

// TaskStatus represents the persisted state of a timer task.
//
// There is deliberately no completed status: a task that completes is
// removed from the store in the same write.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid reports whether s is one of the known persisted statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCancelled:
		return true
	}
	return false
}

// Active reports whether a task with this status is still armed.
func (s TaskStatus) Active() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// TimerType classifies a timer by the name it was created with. Informational only.
type TimerType string

const (
	TimerTypeCustom     TimerType = "custom"
	TimerTypeShortBreak TimerType = "short_break"
	TimerTypeLongBreak  TimerType = "long_break"
	TimerTypeHourly     TimerType = "hourly"
	TimerTypePreset     TimerType = "preset"
)

// ParseTimerType maps a user supplied string onto a TimerType.
// Unknown values yield the empty type so callers can infer one from the name.
func ParseTimerType(s string) TimerType {
	switch t := TimerType(strings.ToLower(strings.TrimSpace(s))); t {
	case TimerTypeCustom, TimerTypeShortBreak, TimerTypeLongBreak, TimerTypeHourly, TimerTypePreset:
		return t
	}
	return ""
}

// TaskSettings holds per-timer presentation preferences.
type TaskSettings struct {
	AutoStart    bool `json:"autoStart"`
	Notification bool `json:"notification"`
	Sound        bool `json:"sound"`
}

// DefaultTaskSettings returns the settings new timers start with.
func DefaultTaskSettings() TaskSettings {
	return TaskSettings{AutoStart: true, Notification: true, Sound: true}
}

// TimerTask is the sole persisted entity: one countdown timer request.
type TimerTask struct {
	TaskID          string       `json:"taskId"`
	Name            string       `json:"name"`
	Message         string       `json:"message"`
	DurationSeconds int          `json:"duration"`
	Status          TaskStatus   `json:"status"`
	CreatedAt       time.Time    `json:"createdAt"`
	StartedAt       *time.Time   `json:"startedAt,omitempty"`
	EndTime         *time.Time   `json:"endTime,omitempty"`
	TimerType       TimerType    `json:"timerType"`
	Settings        TaskSettings `json:"settings"`
}

// Duration returns the requested span as a time.Duration.
func (t *TimerTask) Duration() time.Duration {
	return time.Duration(t.DurationSeconds) * time.Second
}

// Remaining returns the time left until EndTime, clamped at zero.
// ok is false when the task has no EndTime yet.
func (t *TimerTask) Remaining(now time.Time) (time.Duration, bool) {
	if t.EndTime == nil {
		return 0, false
	}
	d := t.EndTime.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// DefaultFireMessage is shown when a timer fires without a user message.
const DefaultFireMessage = "Time's up!"

// FireSource identifies which mechanism detected an expiry.
type FireSource string

const (
	FireSourceAlarm FireSource = "alarm"
	FireSourceSweep FireSource = "sweep"
)

// FireEvent is emitted exactly once per completed task.
type FireEvent struct {
	TimerName               string     `json:"timerName"`
	Message                 string     `json:"message"`
	OriginalDurationSeconds int        `json:"originalDurationSeconds"`
	TaskID                  string     `json:"taskId"`
	FiredAt                 time.Time  `json:"firedAt"`
	Source                  FireSource `json:"source"`
}

// NewFireEvent builds the event for a completed task. The default message is
// substituted here, at fire time, and never stored on the task.
func NewFireEvent(task *TimerTask, at time.Time, source FireSource) FireEvent {
	msg := strings.TrimSpace(task.Message)
	if msg == "" {
		msg = DefaultFireMessage
	}
	return FireEvent{
		TimerName:               task.Name,
		Message:                 msg,
		OriginalDurationSeconds: task.DurationSeconds,
		TaskID:                  task.TaskID,
		FiredAt:                 at,
		Source:                  source,
	}
}

// Stats summarises the stored collection.
type Stats struct {
	Total           int `json:"total"`
	Pending         int `json:"pending"`
	Running         int `json:"running"`
	Cancelled       int `json:"cancelled"`
	TotalDuration   int `json:"total_duration"`
	AverageDuration int `json:"average_duration"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     string    `json:"task_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Package timers owns the timer task lifecycle. Every change to the stored
// collection goes through a Manager.
package timers

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/utimer/internal/clock"
	"github.com/fentz26/utimer/internal/models"
	"github.com/fentz26/utimer/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StatusCompleted is accepted by UpdateStatus but never persisted: a
// completed task is removed in the same write.
const StatusCompleted models.TaskStatus = "completed"

// CreateParams describes a new timer.
type CreateParams struct {
	Name            string
	Message         string
	DurationSeconds int
	// TimerType is inferred from Name when empty.
	TimerType models.TimerType
	// EndTime is set for timers that start immediately.
	EndTime  *time.Time
	Settings *models.TaskSettings
}

// Fields are optional values merged by UpdateStatus.
type Fields struct {
	DurationSeconds *int
	EndTime         *time.Time
}

// Manager serialises read-modify-write cycles over the task store.
type Manager struct {
	store *store.TaskStore
	clock clock.Clock
	log   logrus.FieldLogger

	mu sync.Mutex
}

// NewManager creates a Manager. A nil clock means the system clock.
func NewManager(ts *store.TaskStore, c clock.Clock, logger logrus.FieldLogger) *Manager {
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		store: ts,
		clock: c,
		log:   logger.WithField("component", "timers"),
	}
}

// Clock returns the clock the manager stamps times with.
func (m *Manager) Clock() clock.Clock {
	return m.clock
}

// ValidDuration reports whether seconds is at least one and still fits in a
// time.Duration.
func ValidDuration(seconds int) bool {
	return seconds >= 1 && int64(seconds) <= math.MaxInt64/int64(time.Second)
}

// CreateTask appends a new pending task.
func (m *Manager) CreateTask(ctx context.Context, p CreateParams) (*models.TimerTask, error) {
	if !ValidDuration(p.DurationSeconds) {
		return nil, ErrInvalidDuration
	}

	settings := models.DefaultTaskSettings()
	if p.Settings != nil {
		settings = *p.Settings
	}
	timerType := p.TimerType
	if timerType == "" {
		timerType = TimerTypeFromName(p.Name)
	}

	task := models.TimerTask{
		TaskID:          uuid.New().String(),
		Name:            p.Name,
		Message:         p.Message,
		DurationSeconds: p.DurationSeconds,
		Status:          models.TaskStatusPending,
		CreatedAt:       m.clock.Now(),
		EndTime:         copyTime(p.EndTime),
		TimerType:       timerType,
		Settings:        settings,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := m.store.ReplaceAll(ctx, append(tasks, task)); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"task_id":  task.TaskID,
		"duration": task.DurationSeconds,
	}).Debug("Timer task created")
	return &task, nil
}

// UpdateStatus moves a task to status, merging f. Requesting StatusCompleted
// deletes the task and returns the deleted record with deleted set.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status models.TaskStatus, f Fields) (task *models.TimerTask, deleted bool, err error) {
	if f.DurationSeconds != nil && !ValidDuration(*f.DurationSeconds) {
		return nil, false, ErrInvalidDuration
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.store.List(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("update status: %w", err)
	}

	idx := indexOf(tasks, id)
	if idx < 0 {
		return nil, false, ErrTaskNotFound
	}
	current := tasks[idx]

	if err := checkTransition(current.Status, status); err != nil {
		return nil, false, err
	}

	if status == StatusCompleted {
		remaining := make([]models.TimerTask, 0, len(tasks)-1)
		remaining = append(remaining, tasks[:idx]...)
		remaining = append(remaining, tasks[idx+1:]...)
		if err := m.store.ReplaceAll(ctx, remaining); err != nil {
			return nil, false, fmt.Errorf("complete task: %w", err)
		}
		m.log.WithField("task_id", id).Debug("Timer task completed and removed")
		return &current, true, nil
	}

	updated := current
	updated.Status = status
	if status == models.TaskStatusRunning && updated.StartedAt == nil {
		now := m.clock.Now()
		updated.StartedAt = &now
	}
	if f.DurationSeconds != nil {
		updated.DurationSeconds = *f.DurationSeconds
	}
	if f.EndTime != nil {
		updated.EndTime = copyTime(f.EndTime)
	}
	tasks[idx] = updated

	if err := m.store.ReplaceAll(ctx, tasks); err != nil {
		return nil, false, fmt.Errorf("update status: %w", err)
	}
	return &updated, false, nil
}

// checkTransition enforces pending -> running -> (completed | cancelled),
// with pending -> cancelled and pending -> completed allowed. Repeating the
// current status is permitted so field-only updates can reuse it.
func checkTransition(from, to models.TaskStatus) error {
	if to != StatusCompleted && !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if from == to {
		return nil
	}
	ok := false
	switch from {
	case models.TaskStatusPending:
		ok = to == models.TaskStatusRunning || to == models.TaskStatusCancelled || to == StatusCompleted
	case models.TaskStatusRunning:
		ok = to == models.TaskStatusCancelled || to == StatusCompleted
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// List returns every stored task in insertion order.
func (m *Manager) List(ctx context.Context) ([]models.TimerTask, error) {
	tasks, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListActive returns pending and running tasks, oldest first.
func (m *Manager) ListActive(ctx context.Context) ([]models.TimerTask, error) {
	tasks, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]models.TimerTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Status.Active() {
			active = append(active, t)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

// Get returns the task with id.
func (m *Manager) Get(ctx context.Context, id string) (*models.TimerTask, error) {
	tasks, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexOf(tasks, id)
	if idx < 0 {
		return nil, ErrTaskNotFound
	}
	return &tasks[idx], nil
}

// Cancel marks a task cancelled. Cancelled tasks are kept until retention
// cleanup removes them.
func (m *Manager) Cancel(ctx context.Context, id string) (*models.TimerTask, error) {
	task, _, err := m.UpdateStatus(ctx, id, models.TaskStatusCancelled, Fields{})
	return task, err
}

// Complete deletes a pending or running task and returns the removed record.
func (m *Manager) Complete(ctx context.Context, id string) (*models.TimerTask, error) {
	task, _, err := m.UpdateStatus(ctx, id, StatusCompleted, Fields{})
	return task, err
}

// ModifyDuration restarts the countdown from now with a new length. Status
// and StartedAt are left as they are.
func (m *Manager) ModifyDuration(ctx context.Context, id string, seconds int) (*models.TimerTask, error) {
	if !ValidDuration(seconds) {
		return nil, ErrInvalidDuration
	}
	current, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	end := m.clock.Now().Add(time.Duration(seconds) * time.Second)
	task, _, err := m.UpdateStatus(ctx, id, current.Status, Fields{
		DurationSeconds: &seconds,
		EndTime:         &end,
	})
	return task, err
}

// Stats summarises the stored collection.
func (m *Manager) Stats(ctx context.Context) (*models.Stats, error) {
	tasks, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	st := &models.Stats{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusPending:
			st.Pending++
		case models.TaskStatusRunning:
			st.Running++
		case models.TaskStatusCancelled:
			st.Cancelled++
		}
		st.TotalDuration += t.DurationSeconds
	}
	if st.Total > 0 {
		st.AverageDuration = st.TotalDuration / st.Total
	}
	return st, nil
}

// Prune removes every task matching drop and returns how many went. The
// store is not written when nothing matches.
func (m *Manager) Prune(ctx context.Context, drop func(*models.TimerTask) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	kept := make([]models.TimerTask, 0, len(tasks))
	for i := range tasks {
		if !drop(&tasks[i]) {
			kept = append(kept, tasks[i])
		}
	}
	removed := len(tasks) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := m.store.ReplaceAll(ctx, kept); err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	return removed, nil
}

// TimerTypeFromName guesses a timer type from its display name.
func TimerTypeFromName(name string) models.TimerType {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "自定义") || strings.Contains(n, "custom"):
		return models.TimerTypeCustom
	case strings.Contains(n, "5分钟") || strings.Contains(n, "短") || strings.Contains(n, "short"):
		return models.TimerTypeShortBreak
	case strings.Contains(n, "10分钟") || strings.Contains(n, "长") || strings.Contains(n, "long"):
		return models.TimerTypeLongBreak
	case strings.Contains(n, "整点") || strings.Contains(n, "hourly"):
		return models.TimerTypeHourly
	}
	return models.TimerTypePreset
}

func indexOf(tasks []models.TimerTask, id string) int {
	for i := range tasks {
		if tasks[i].TaskID == id {
			return i
		}
	}
	return -1
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

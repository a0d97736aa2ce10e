package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fentz26/utimer/internal/models"
)

// Keys used in the backend.
const (
	KeyTasks       = "utimer_tasks"
	KeyLastCleanup = "timer_last_cleanup"
)

// TaskStore keeps the whole timer collection under a single key. ReplaceAll
// is its only mutation: callers read everything, compute the new collection
// and write it back in one atomic Set.
type TaskStore struct {
	backend Backend
}

// NewTaskStore creates a TaskStore on top of b.
func NewTaskStore(b Backend) *TaskStore {
	return &TaskStore{backend: b}
}

// Backend returns the underlying key-value backend.
func (s *TaskStore) Backend() Backend {
	return s.backend
}

// List returns every stored task in insertion order.
func (s *TaskStore) List(ctx context.Context) ([]models.TimerTask, error) {
	data, err := s.backend.Get(ctx, KeyTasks)
	if err != nil {
		return nil, readError(KeyTasks, err)
	}
	if len(data) == 0 {
		return []models.TimerTask{}, nil
	}

	var tasks []models.TimerTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, readError(KeyTasks, fmt.Errorf("decode tasks: %w", err))
	}
	if tasks == nil {
		tasks = []models.TimerTask{}
	}
	return tasks, nil
}

// ReplaceAll overwrites the stored collection with tasks.
func (s *TaskStore) ReplaceAll(ctx context.Context, tasks []models.TimerTask) error {
	if tasks == nil {
		tasks = []models.TimerTask{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return writeError(KeyTasks, fmt.Errorf("encode tasks: %w", err))
	}
	if err := s.backend.Set(ctx, KeyTasks, data); err != nil {
		return writeError(KeyTasks, err)
	}
	return nil
}

type cleanupRecord struct {
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

// LastCleanup returns when retention cleanup last ran. ok is false if it never has.
func (s *TaskStore) LastCleanup(ctx context.Context) (at time.Time, ok bool, err error) {
	data, err := s.backend.Get(ctx, KeyLastCleanup)
	if err != nil {
		return time.Time{}, false, readError(KeyLastCleanup, err)
	}
	if len(data) == 0 {
		return time.Time{}, false, nil
	}

	var rec cleanupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return time.Time{}, false, readError(KeyLastCleanup, fmt.Errorf("decode cleanup record: %w", err))
	}
	if rec.Timestamp == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(rec.Timestamp), true, nil
}

// SetLastCleanup records at as the last cleanup time.
func (s *TaskStore) SetLastCleanup(ctx context.Context, at time.Time) error {
	data, err := json.Marshal(cleanupRecord{Timestamp: at.UnixMilli(), Type: "maintenance"})
	if err != nil {
		return writeError(KeyLastCleanup, err)
	}
	if err := s.backend.Set(ctx, KeyLastCleanup, data); err != nil {
		return writeError(KeyLastCleanup, err)
	}
	return nil
}

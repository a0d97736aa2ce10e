package timers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/utimer/internal/clock"
	"github.com/fentz26/utimer/internal/log"
	"github.com/fentz26/utimer/internal/models"
	"github.com/fentz26/utimer/internal/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *clock.Manual, *store.TaskStore) {
	t.Helper()
	backend, err := store.NewFile(afero.NewMemMapFs(), "/timers")
	require.NoError(t, err)
	ts := store.NewTaskStore(backend)
	c := clock.NewManual(t0)
	return NewManager(ts, c, log.Discard()), c, ts
}

func TestCreateTask(t *testing.T) {
	m, _, ts := newTestManager(t)
	ctx := context.Background()

	task, err := m.CreateTask(ctx, CreateParams{Name: "tea", Message: "steep", DurationSeconds: 180})
	require.NoError(t, err)

	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, t0, task.CreatedAt)
	assert.Nil(t, task.StartedAt)
	assert.Nil(t, task.EndTime)
	assert.Equal(t, models.TimerTypePreset, task.TimerType)
	assert.Equal(t, models.DefaultTaskSettings(), task.Settings)

	stored, err := ts.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, task.TaskID, stored[0].TaskID)
}

func TestCreateTaskRejectsInvalidDuration(t *testing.T) {
	m, _, _ := newTestManager(t)
	for _, d := range []int{0, -5} {
		_, err := m.CreateTask(context.Background(), CreateParams{Name: "x", DurationSeconds: d})
		assert.ErrorIs(t, err, ErrInvalidDuration)
	}
}

func TestRejectsDurationBeyondTimeRange(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	huge := 10_000_000_000

	_, err := m.CreateTask(ctx, CreateParams{Name: "x", DurationSeconds: huge})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	task, err := m.CreateTask(ctx, CreateParams{Name: "x", DurationSeconds: 60})
	require.NoError(t, err)

	_, err = m.ModifyDuration(ctx, task.TaskID, huge)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, _, err = m.UpdateStatus(ctx, task.TaskID, models.TaskStatusRunning, Fields{DurationSeconds: &huge})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	got, err := m.Get(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.DurationSeconds)
	assert.Equal(t, models.TaskStatusPending, got.Status)

	assert.True(t, ValidDuration(1))
	assert.False(t, ValidDuration(0))
}

func TestCreateTaskKeepsEndTime(t *testing.T) {
	m, _, _ := newTestManager(t)
	end := t0.Add(time.Minute)
	task, err := m.CreateTask(context.Background(), CreateParams{Name: "x", DurationSeconds: 60, EndTime: &end})
	require.NoError(t, err)
	require.NotNil(t, task.EndTime)
	assert.Equal(t, end, *task.EndTime)
}

func TestUpdateStatusRunningStampsStartedAtOnce(t *testing.T) {
	m, c, _ := newTestManager(t)
	ctx := context.Background()
	task, err := m.CreateTask(ctx, CreateParams{Name: "x", DurationSeconds: 60})
	require.NoError(t, err)

	c.Advance(2 * time.Second)
	running, deleted, err := m.UpdateStatus(ctx, task.TaskID, models.TaskStatusRunning, Fields{})
	require.NoError(t, err)
	assert.False(t, deleted)
	require.NotNil(t, running.StartedAt)
	assert.Equal(t, t0.Add(2*time.Second), *running.StartedAt)

	c.Advance(5 * time.Second)
	again, _, err := m.UpdateStatus(ctx, task.TaskID, models.TaskStatusRunning, Fields{})
	require.NoError(t, err)
	assert.Equal(t, *running.StartedAt, *again.StartedAt)
}

func TestCompleteDeletes(t *testing.T) {
	m, _, ts := newTestManager(t)
	ctx := context.Background()
	a, err := m.CreateTask(ctx, CreateParams{Name: "a", DurationSeconds: 60})
	require.NoError(t, err)
	b, err := m.CreateTask(ctx, CreateParams{Name: "b", DurationSeconds: 60})
	require.NoError(t, err)

	removed, deleted, err := m.UpdateStatus(ctx, a.TaskID, StatusCompleted, Fields{})
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, a.TaskID, removed.TaskID)

	stored, err := ts.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, b.TaskID, stored[0].TaskID)
}

func TestCompleteIsIdempotent(t *testing.T) {
	m, _, ts := newTestManager(t)
	ctx := context.Background()
	task, err := m.CreateTask(ctx, CreateParams{Name: "x", DurationSeconds: 60})
	require.NoError(t, err)
	other, err := m.CreateTask(ctx, CreateParams{Name: "y", DurationSeconds: 60})
	require.NoError(t, err)

	_, err = m.Complete(ctx, task.TaskID)
	require.NoError(t, err)
	before, err := ts.List(ctx)
	require.NoError(t, err)

	_, err = m.Complete(ctx, task.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	after, err := ts.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, other.TaskID, after[0].TaskID)
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    models.TaskStatus
		to      models.TaskStatus
		wantErr bool
	}{
		{"pending to running", models.TaskStatusPending, models.TaskStatusRunning, false},
		{"pending to cancelled", models.TaskStatusPending, models.TaskStatusCancelled, false},
		{"pending to completed", models.TaskStatusPending, StatusCompleted, false},
		{"running to cancelled", models.TaskStatusRunning, models.TaskStatusCancelled, false},
		{"running to completed", models.TaskStatusRunning, StatusCompleted, false},
		{"running to running", models.TaskStatusRunning, models.TaskStatusRunning, false},
		{"running to pending", models.TaskStatusRunning, models.TaskStatusPending, true},
		{"cancelled to running", models.TaskStatusCancelled, models.TaskStatusRunning, true},
		{"cancelled to pending", models.TaskStatusCancelled, models.TaskStatusPending, true},
		{"cancelled to completed", models.TaskStatusCancelled, StatusCompleted, true},
		{"unknown target", models.TaskStatusPending, models.TaskStatus("paused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCancelledTaskCannotComplete(t *testing.T) {
	m, _, ts := newTestManager(t)
	ctx := context.Background()
	task, err := m.CreateTask(ctx, CreateParams{Name: "x", DurationSeconds: 60})
	require.NoError(t, err)

	cancelled, err := m.Cancel(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, cancelled.Status)

	_, err = m.Complete(ctx, task.TaskID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := ts.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.TaskStatusCancelled, stored[0].Status)
}

func TestUnknownID(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, _, err := m.UpdateStatus(ctx, "nope", models.TaskStatusRunning, Fields{})
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = m.Cancel(ctx, "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = m.ModifyDuration(ctx, "nope", 30)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = m.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestModifyDuration(t *testing.T) {
	m, c, _ := newTestManager(t)
	ctx := context.Background()
	task, err := m.CreateTask(ctx, CreateParams{Name: "x", DurationSeconds: 60})
	require.NoError(t, err)
	running, _, err := m.UpdateStatus(ctx, task.TaskID, models.TaskStatusRunning, Fields{})
	require.NoError(t, err)

	c.Advance(30 * time.Second)
	modified, err := m.ModifyDuration(ctx, task.TaskID, 120)
	require.NoError(t, err)

	assert.Equal(t, 120, modified.DurationSeconds)
	assert.Equal(t, models.TaskStatusRunning, modified.Status)
	require.NotNil(t, modified.EndTime)
	assert.Equal(t, t0.Add(30*time.Second+120*time.Second), *modified.EndTime)
	assert.Equal(t, *running.StartedAt, *modified.StartedAt)

	_, err = m.ModifyDuration(ctx, task.TaskID, 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestListActiveOrdersByCreatedAt(t *testing.T) {
	m, c, ts := newTestManager(t)
	ctx := context.Background()

	a, err := m.CreateTask(ctx, CreateParams{Name: "a", DurationSeconds: 60})
	require.NoError(t, err)
	c.Advance(time.Second)
	b, err := m.CreateTask(ctx, CreateParams{Name: "b", DurationSeconds: 60})
	require.NoError(t, err)
	c.Advance(time.Second)
	cc, err := m.CreateTask(ctx, CreateParams{Name: "c", DurationSeconds: 60})
	require.NoError(t, err)
	_, err = m.Cancel(ctx, b.TaskID)
	require.NoError(t, err)

	// Reverse stored order to check sorting is by CreatedAt.
	stored, err := ts.List(ctx)
	require.NoError(t, err)
	for i, j := 0, len(stored)-1; i < j; i, j = i+1, j-1 {
		stored[i], stored[j] = stored[j], stored[i]
	}
	require.NoError(t, ts.ReplaceAll(ctx, stored))

	active, err := m.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, a.TaskID, active[0].TaskID)
	assert.Equal(t, cc.TaskID, active[1].TaskID)
}

func TestStats(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.CreateTask(ctx, CreateParams{Name: "a", DurationSeconds: 60})
	require.NoError(t, err)
	_, err = m.CreateTask(ctx, CreateParams{Name: "b", DurationSeconds: 120})
	require.NoError(t, err)
	c, err := m.CreateTask(ctx, CreateParams{Name: "c", DurationSeconds: 300})
	require.NoError(t, err)
	_, _, err = m.UpdateStatus(ctx, a.TaskID, models.TaskStatusRunning, Fields{})
	require.NoError(t, err)
	_, err = m.Cancel(ctx, c.TaskID)
	require.NoError(t, err)

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &models.Stats{
		Total:           3,
		Pending:         1,
		Running:         1,
		Cancelled:       1,
		TotalDuration:   480,
		AverageDuration: 160,
	}, st)
}

func TestStoreFailuresPropagate(t *testing.T) {
	ts := store.NewTaskStore(brokenBackend{})
	m := NewManager(ts, clock.NewManual(t0), log.Discard())
	ctx := context.Background()

	_, err := m.CreateTask(ctx, CreateParams{Name: "x", DurationSeconds: 5})
	assert.ErrorIs(t, err, store.ErrStoreRead)
	_, err = m.ListActive(ctx)
	assert.ErrorIs(t, err, store.ErrStoreRead)
}

func TestConcurrentCreates(t *testing.T) {
	m, _, ts := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CreateTask(ctx, CreateParams{Name: "x", DurationSeconds: 10})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := ts.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 20)
}

func TestTimerTypeFromName(t *testing.T) {
	tests := map[string]models.TimerType{
		"自定义计时":       models.TimerTypeCustom,
		"Custom timer":  models.TimerTypeCustom,
		"5分钟休息":       models.TimerTypeShortBreak,
		"short break":   models.TimerTypeShortBreak,
		"10分钟休息":      models.TimerTypeLongBreak,
		"Long break":    models.TimerTypeLongBreak,
		"整点提醒":        models.TimerTypeHourly,
		"hourly chime":  models.TimerTypeHourly,
		"tea":           models.TimerTypePreset,
		"":              models.TimerTypePreset,
	}
	for name, want := range tests {
		assert.Equal(t, want, TimerTypeFromName(name), name)
	}
}

type brokenBackend struct{}

func (brokenBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("backend down")
}

func (brokenBackend) Set(context.Context, string, []byte) error {
	return errors.New("backend down")
}

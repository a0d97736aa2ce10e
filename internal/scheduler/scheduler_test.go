package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fentz26/utimer/internal/clock"
	"github.com/fentz26/utimer/internal/log"
	"github.com/fentz26/utimer/internal/models"
	"github.com/fentz26/utimer/internal/notify"
	"github.com/fentz26/utimer/internal/store"
	"github.com/fentz26/utimer/internal/timers"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// quietConfig keeps the poll loop from waking during manual-clock tests so
// only explicit Sweep calls detect expiry.
func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.FastPoll = 24 * time.Hour
	cfg.SlowPoll = 24 * time.Hour
	return cfg
}

type harness struct {
	sch   *Scheduler
	mgr   *timers.Manager
	clock *clock.Manual
	rec   *notify.Recorder
	ts    *store.TaskStore
	slept []time.Duration
}

func newHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()
	backend, err := store.NewFile(afero.NewMemMapFs(), "/sched")
	require.NoError(t, err)
	ts := store.NewTaskStore(backend)
	c := clock.NewManual(t0)
	mgr := timers.NewManager(ts, c, log.Discard())
	rec := &notify.Recorder{}

	h := &harness{
		sch:   New(mgr, rec, nil, cfg, log.Discard()),
		mgr:   mgr,
		clock: c,
		rec:   rec,
		ts:    ts,
	}
	h.sch.sleep = func(_ context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		c.Advance(d)
		return nil
	}
	t.Cleanup(h.sch.Stop)
	return h
}

// running creates a running task that expires at end without arming it.
func (h *harness) running(t *testing.T, name string, end time.Time) *models.TimerTask {
	t.Helper()
	ctx := context.Background()
	task, err := h.mgr.CreateTask(ctx, timers.CreateParams{Name: name, DurationSeconds: 60, EndTime: &end})
	require.NoError(t, err)
	task, _, err = h.mgr.UpdateStatus(ctx, task.TaskID, models.TaskStatusRunning, timers.Fields{})
	require.NoError(t, err)
	return task
}

func TestArmAndExpire(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()

	task, err := h.mgr.CreateTask(ctx, timers.CreateParams{Name: "eggs", DurationSeconds: 5})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	armed, err := h.sch.Arm(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, armed.Status)
	require.NotNil(t, armed.StartedAt)
	require.NotNil(t, armed.EndTime)
	assert.Equal(t, t0, *armed.StartedAt)
	assert.Equal(t, t0.Add(5*time.Second), *armed.EndTime)
	assert.Equal(t, task.TaskID, h.sch.ArmedTask())
	assert.True(t, h.sch.Polling())

	h.clock.Set(t0.Add(6 * time.Second))
	_, err = h.sch.Sweep(ctx)
	require.NoError(t, err)
	h.sch.Stop()

	events := h.rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, task.TaskID, events[0].TaskID)
	assert.Equal(t, models.DefaultFireMessage, events[0].Message)
	assert.Equal(t, 5, events[0].OriginalDurationSeconds)

	stored, err := h.ts.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSweepDetectsExpiry(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()
	task := h.running(t, "tea", t0.Add(5*time.Second))

	h.clock.Set(t0.Add(6 * time.Second))
	res, err := h.sch.Sweep(ctx)
	require.NoError(t, err)

	require.Len(t, res.Fired, 1)
	assert.Equal(t, task.TaskID, res.Fired[0].TaskID)
	assert.Equal(t, models.FireSourceSweep, res.Fired[0].Source)
	assert.Equal(t, 0, res.Active)
	assert.Equal(t, 1, h.rec.Len())
}

func TestSweepGrace(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()
	h.running(t, "tea", t0.Add(10*time.Second))

	h.clock.Set(t0.Add(8999 * time.Millisecond))
	res, err := h.sch.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Fired)
	assert.Equal(t, 1, res.Active)

	h.clock.Set(t0.Add(9 * time.Second))
	res, err = h.sch.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Fired, 1)
}

func TestCompletionIsIdempotent(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()
	task := h.running(t, "tea", t0.Add(time.Second))
	h.clock.Set(t0.Add(2 * time.Second))

	first, err := h.sch.complete(ctx, task.TaskID)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := h.sch.complete(ctx, task.TaskID)
	assert.NoError(t, err)
	assert.Nil(t, second)

	res, err := h.sch.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Fired)
	assert.Equal(t, 0, h.rec.Len())
}

func TestModifiedEndTimeIsAuthoritative(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()
	task := h.running(t, "tea", t0.Add(10*time.Second))

	h.clock.Set(t0.Add(5 * time.Second))
	_, err := h.mgr.ModifyDuration(ctx, task.TaskID, 60)
	require.NoError(t, err)

	// Past the original end time, well before the new one.
	h.clock.Set(t0.Add(20 * time.Second))
	res, err := h.sch.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Fired)

	h.clock.Set(t0.Add(65 * time.Second))
	res, err = h.sch.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, res.Fired, 1)
	assert.Equal(t, 60, res.Fired[0].OriginalDurationSeconds)
}

func TestShortenedDurationFiresOnNextSweep(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()
	task := h.running(t, "tea", t0.Add(10*time.Minute))

	_, err := h.mgr.ModifyDuration(ctx, task.TaskID, 1)
	require.NoError(t, err)

	h.clock.Set(t0.Add(time.Second))
	res, err := h.sch.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Fired, 1)
}

func TestSweepOrderAndStagger(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()

	// Created in reverse so creation order differs from expiry order.
	c := h.running(t, "c", t0.Add(3*time.Second))
	b := h.running(t, "b", t0.Add(2*time.Second))
	a := h.running(t, "a", t0.Add(1*time.Second))

	h.clock.Set(t0.Add(4 * time.Second))
	res, err := h.sch.Sweep(ctx)
	require.NoError(t, err)

	require.Len(t, res.Fired, 3)
	assert.Equal(t, []string{a.TaskID, b.TaskID, c.TaskID}, []string{
		res.Fired[0].TaskID, res.Fired[1].TaskID, res.Fired[2].TaskID,
	})
	for i := 1; i < len(res.Fired); i++ {
		gap := res.Fired[i].FiredAt.Sub(res.Fired[i-1].FiredAt)
		assert.GreaterOrEqual(t, gap, 500*time.Millisecond)
	}
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, h.slept)

	recorded := h.rec.Events()
	require.Len(t, recorded, 3)
	assert.Equal(t, a.TaskID, recorded[0].TaskID)
}

func TestTwoTasksCloseTogether(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()

	first := h.running(t, "first", t0.Add(5*time.Second))
	second := h.running(t, "second", t0.Add(5*time.Second+100*time.Millisecond))

	h.clock.Set(t0.Add(7 * time.Second))
	res, err := h.sch.Sweep(ctx)
	require.NoError(t, err)

	require.Len(t, res.Fired, 2)
	assert.Equal(t, first.TaskID, res.Fired[0].TaskID)
	assert.Equal(t, second.TaskID, res.Fired[1].TaskID)
	assert.GreaterOrEqual(t, res.Fired[1].FiredAt.Sub(res.Fired[0].FiredAt), 500*time.Millisecond)
}

func TestArmReplacesPrimaryAlarm(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()

	a, err := h.mgr.CreateTask(ctx, timers.CreateParams{Name: "a", DurationSeconds: 30})
	require.NoError(t, err)
	b, err := h.mgr.CreateTask(ctx, timers.CreateParams{Name: "b", DurationSeconds: 60})
	require.NoError(t, err)

	_, err = h.sch.Arm(ctx, a.TaskID)
	require.NoError(t, err)
	_, err = h.sch.Arm(ctx, b.TaskID)
	require.NoError(t, err)
	assert.Equal(t, b.TaskID, h.sch.ArmedTask())

	// a's alarm was dropped; only the sweep can catch it.
	h.clock.Advance(31 * time.Second)
	assert.Equal(t, 0, h.rec.Len())

	res, err := h.sch.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, res.Fired, 1)
	assert.Equal(t, a.TaskID, res.Fired[0].TaskID)
	assert.Equal(t, models.FireSourceSweep, res.Fired[0].Source)

	h.clock.Advance(30 * time.Second)
	events := h.rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, b.TaskID, events[1].TaskID)
	assert.Equal(t, models.FireSourceAlarm, events[1].Source)
	assert.Empty(t, h.sch.ArmedTask())
}

func TestSweepStopsAlarmOfExpiredTask(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()

	task, err := h.sch.StartTimer(ctx, timers.CreateParams{Name: "x", DurationSeconds: 10})
	require.NoError(t, err)
	require.Equal(t, task.TaskID, h.sch.ArmedTask())

	// Within grace of the end time, before the alarm is due.
	h.clock.Set(t0.Add(9500 * time.Millisecond))
	res, err := h.sch.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, res.Fired, 1)
	assert.Empty(t, h.sch.ArmedTask())

	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.rec.Len())
}

func TestCancelledAlarmIsNoop(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()

	task, err := h.sch.StartTimer(ctx, timers.CreateParams{Name: "x", DurationSeconds: 5})
	require.NoError(t, err)
	_, err = h.mgr.Cancel(ctx, task.TaskID)
	require.NoError(t, err)

	h.clock.Advance(6 * time.Second)
	assert.Equal(t, 0, h.rec.Len())

	stored, err := h.mgr.Get(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, stored.Status)
}

func TestAlarmDefersToLaterEndTime(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()

	task, err := h.sch.StartTimer(ctx, timers.CreateParams{Name: "x", DurationSeconds: 5})
	require.NoError(t, err)
	_, err = h.mgr.ModifyDuration(ctx, task.TaskID, 60)
	require.NoError(t, err)

	h.clock.Advance(6 * time.Second)
	assert.Equal(t, 0, h.rec.Len())

	h.clock.Advance(55 * time.Second)
	res, err := h.sch.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Fired, 1)
}

func TestSweepStoreFailure(t *testing.T) {
	mgr := timers.NewManager(store.NewTaskStore(failingBackend{}), clock.NewManual(t0), log.Discard())
	sch := New(mgr, nil, nil, quietConfig(), log.Discard())
	defer sch.Stop()

	_, err := sch.Sweep(context.Background())
	assert.ErrorIs(t, err, store.ErrStoreRead)

	err = sch.Start(context.Background())
	assert.ErrorIs(t, err, store.ErrStoreRead)
	assert.False(t, sch.Polling())
}

func TestPollInterval(t *testing.T) {
	cfg := DefaultConfig()
	at := func(d time.Duration) *time.Time {
		v := t0.Add(d)
		return &v
	}

	tests := []struct {
		name  string
		tasks []models.TimerTask
		want  time.Duration
	}{
		{"no tasks", nil, 10 * time.Second},
		{"far away", []models.TimerTask{{Status: models.TaskStatusRunning, EndTime: at(5 * time.Minute)}}, 10 * time.Second},
		{"near", []models.TimerTask{{Status: models.TaskStatusRunning, EndTime: at(30 * time.Second)}}, 5 * time.Second},
		{"exactly window", []models.TimerTask{{Status: models.TaskStatusRunning, EndTime: at(60 * time.Second)}}, 10 * time.Second},
		{"already due", []models.TimerTask{{Status: models.TaskStatusRunning, EndTime: at(-time.Second)}}, 10 * time.Second},
		{"cancelled near", []models.TimerTask{{Status: models.TaskStatusCancelled, EndTime: at(10 * time.Second)}}, 10 * time.Second},
		{"pending without end", []models.TimerTask{{Status: models.TaskStatusPending}}, 10 * time.Second},
		{"mixed", []models.TimerTask{
			{Status: models.TaskStatusRunning, EndTime: at(time.Hour)},
			{Status: models.TaskStatusPending, EndTime: at(59 * time.Second)},
		}, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.PollInterval(tt.tasks, t0))
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := (&Config{FastPoll: time.Second}).withDefaults()
	assert.Equal(t, time.Second, cfg.FastPoll)
	assert.Equal(t, 10*time.Second, cfg.SlowPoll)
	assert.Equal(t, 60*time.Second, cfg.NearWindow)

	var nilCfg *Config
	assert.Equal(t, DefaultConfig(), nilCfg.withDefaults())
}

func TestStats(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()

	task, err := h.sch.StartTimer(ctx, timers.CreateParams{Name: "x", DurationSeconds: 5})
	require.NoError(t, err)

	stats := h.sch.Stats()
	assert.Equal(t, task.TaskID, stats["armed_task"])
	assert.Equal(t, true, stats["polling"])
	assert.Equal(t, "24h0m0s", stats["poll_interval"])

	h.clock.Advance(5 * time.Second)
	stats = h.sch.Stats()
	assert.Equal(t, 1, stats["fired"])
	assert.Equal(t, "", stats["armed_task"])
}

// The loop tests below use the real clock with short intervals.

func realConfig() *Config {
	return &Config{
		FastPoll:   20 * time.Millisecond,
		SlowPoll:   20 * time.Millisecond,
		NearWindow: time.Minute,
		Grace:      0,
		Stagger:    5 * time.Millisecond,
	}
}

func TestPollLoopFiresAndTearsDown(t *testing.T) {
	backend, err := store.NewFile(afero.NewMemMapFs(), "/loop")
	require.NoError(t, err)
	mgr := timers.NewManager(store.NewTaskStore(backend), clock.New(), log.Discard())
	rec := &notify.Recorder{}
	sch := New(mgr, rec, nil, realConfig(), log.Discard())
	defer sch.Stop()
	ctx := context.Background()

	end := time.Now().Add(50 * time.Millisecond)
	task, err := mgr.CreateTask(ctx, timers.CreateParams{Name: "loop", DurationSeconds: 1, EndTime: &end})
	require.NoError(t, err)
	_, _, err = mgr.UpdateStatus(ctx, task.TaskID, models.TaskStatusRunning, timers.Fields{})
	require.NoError(t, err)

	require.NoError(t, sch.Start(ctx))
	assert.True(t, sch.Polling())

	require.Eventually(t, func() bool { return rec.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.FireSourceSweep, rec.Events()[0].Source)
	require.Eventually(t, func() bool { return !sch.Polling() }, 2*time.Second, 5*time.Millisecond)
}

func TestRestartRecovery(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	// First process: arm a timer, then go away before it fires.
	backend, err := store.NewFile(fs, "/restart")
	require.NoError(t, err)
	mgr := timers.NewManager(store.NewTaskStore(backend), clock.New(), log.Discard())
	first := New(mgr, nil, nil, quietConfig(), log.Discard())
	task, err := first.StartTimer(ctx, timers.CreateParams{Name: "missed", DurationSeconds: 1})
	require.NoError(t, err)
	first.Stop()

	// Pretend the process was down past the end time.
	past := time.Now().Add(-time.Minute)
	_, _, err = mgr.UpdateStatus(ctx, task.TaskID, models.TaskStatusRunning, timers.Fields{EndTime: &past})
	require.NoError(t, err)

	backend2, err := store.NewFile(fs, "/restart")
	require.NoError(t, err)
	mgr2 := timers.NewManager(store.NewTaskStore(backend2), clock.New(), log.Discard())
	rec := &notify.Recorder{}
	second := New(mgr2, rec, nil, realConfig(), log.Discard())
	defer second.Stop()

	require.NoError(t, second.Start(ctx))
	assert.Empty(t, second.ArmedTask())

	require.Eventually(t, func() bool { return rec.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, task.TaskID, rec.Events()[0].TaskID)
}

func TestStartWithNothingToDo(t *testing.T) {
	h := newHarness(t, quietConfig())
	require.NoError(t, h.sch.Start(context.Background()))
	assert.False(t, h.sch.Polling())
}

func TestArmAfterStop(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()
	task, err := h.mgr.CreateTask(ctx, timers.CreateParams{Name: "x", DurationSeconds: 5})
	require.NoError(t, err)

	h.sch.Stop()
	_, err = h.sch.Arm(ctx, task.TaskID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStartTimerAfterStopLeavesNothingToFire(t *testing.T) {
	h := newHarness(t, quietConfig())
	ctx := context.Background()
	h.sch.Stop()

	_, err := h.sch.StartTimer(ctx, timers.CreateParams{Name: "x", DurationSeconds: 5})
	require.Error(t, err)

	active, err := h.mgr.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	h.clock.Advance(time.Minute)
	res, err := h.sch.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Fired)
	assert.Equal(t, 0, h.rec.Len())
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("backend down")
}

func (failingBackend) Set(context.Context, string, []byte) error {
	return errors.New("backend down")
}

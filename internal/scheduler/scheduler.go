package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/utimer/internal/audit"
	"github.com/fentz26/utimer/internal/clock"
	"github.com/fentz26/utimer/internal/models"
	"github.com/fentz26/utimer/internal/notify"
	"github.com/fentz26/utimer/internal/timers"
	"github.com/sirupsen/logrus"
)

// Scheduler owns the single primary alarm and the poll loop. It holds no
// task state of its own; every decision is made against the store.
type Scheduler struct {
	timers   *timers.Manager
	notifier notify.Dispatcher
	pdr      *audit.PDRWriter
	config   *Config
	clock    clock.Clock
	log      logrus.FieldLogger

	// sleep waits between staggered fire events.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	armedID  string
	alarm    clock.Timer
	polling  bool
	rearmed  bool
	interval time.Duration
	sweeps   int
	fired    int

	// serialises sweeps so events from one sweep are never interleaved with another's
	sweepMu sync.Mutex

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SweepResult describes one sweep.
type SweepResult struct {
	// Fired holds the emitted events in emission order.
	Fired []models.FireEvent
	// Active is the number of active tasks left after the sweep.
	Active int
	// Interval is the poll interval the remaining tasks call for.
	Interval time.Duration
}

// New creates a new scheduler. The manager's clock drives alarms and polling.
func New(m *timers.Manager, d notify.Dispatcher, pdr *audit.PDRWriter, cfg *Config, logger logrus.FieldLogger) *Scheduler {
	if d == nil {
		d = notify.Multi{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sch := &Scheduler{
		timers:   m,
		notifier: d,
		pdr:      pdr,
		config:   cfg.withDefaults(),
		clock:    m.Clock(),
		log:      logger.WithField("component", "scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}
	sch.sleep = func(ctx context.Context, d time.Duration) error {
		return clock.Sleep(ctx, sch.clock, d)
	}
	return sch
}

// Start resumes polling if the store holds active tasks, so timers that
// expired while the process was down fire on the first sweep. Restored tasks
// get no primary alarm.
func (sch *Scheduler) Start(ctx context.Context) error {
	active, err := sch.timers.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active timers: %w", err)
	}
	if len(active) == 0 {
		sch.log.Info("Scheduler started, no active timers")
		return nil
	}

	sch.mu.Lock()
	sch.startPollingLocked(active)
	sch.mu.Unlock()

	sch.log.WithField("active", len(active)).Info("Scheduler started, resuming active timers")
	return nil
}

// Stop cancels the alarm and the poll loop and waits for them to finish.
func (sch *Scheduler) Stop() {
	sch.cancel()

	sch.mu.Lock()
	if sch.alarm != nil {
		sch.alarm.Stop()
		sch.alarm = nil
		sch.armedID = ""
	}
	sch.mu.Unlock()

	sch.wg.Wait()
	sch.log.Info("Scheduler stopped")
}

// StartTimer creates a timer that starts immediately and arms it. Arm sets
// the end time; if arming fails the new record is cancelled so no sweep
// fires it.
func (sch *Scheduler) StartTimer(ctx context.Context, p timers.CreateParams) (*models.TimerTask, error) {
	task, err := sch.timers.CreateTask(ctx, p)
	if err != nil {
		return nil, err
	}
	armed, err := sch.Arm(ctx, task.TaskID)
	if err != nil {
		if _, cerr := sch.timers.Cancel(ctx, task.TaskID); cerr != nil {
			sch.log.WithError(cerr).WithField("task_id", task.TaskID).Warn("Cancel unarmed timer failed")
		}
		return nil, err
	}
	return armed, nil
}

// Arm moves a task to running, gives it the primary alarm (replacing any
// previous one) and makes sure the poll loop is running.
func (sch *Scheduler) Arm(ctx context.Context, taskID string) (*models.TimerTask, error) {
	if err := sch.ctx.Err(); err != nil {
		return nil, fmt.Errorf("scheduler stopped: %w", err)
	}

	current, err := sch.timers.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var fields timers.Fields
	if current.EndTime == nil {
		start := sch.clock.Now()
		if current.StartedAt != nil {
			start = *current.StartedAt
		}
		end := start.Add(current.Duration())
		fields.EndTime = &end
	}

	task, _, err := sch.timers.UpdateStatus(ctx, taskID, models.TaskStatusRunning, fields)
	if err != nil {
		return nil, err
	}

	active, err := sch.timers.ListActive(ctx)
	if err != nil {
		// The task is running and persisted; the next Arm or restart picks up polling.
		sch.log.WithError(err).Warn("List active timers after arm failed")
		active = []models.TimerTask{*task}
	}

	sch.mu.Lock()
	if sch.alarm != nil {
		sch.alarm.Stop()
	}
	sch.armedID = task.TaskID
	id := task.TaskID
	sch.alarm = sch.clock.AfterFunc(task.Duration(), func() { sch.onAlarm(id) })
	sch.startPollingLocked(active)
	sch.mu.Unlock()

	sch.pdr.Record(ctx, audit.ActionArm, map[string]interface{}{
		"task_id":  task.TaskID,
		"duration": task.DurationSeconds,
	}, audit.OutcomeSuccess, task.TaskID, "")

	sch.log.WithFields(logrus.Fields{
		"task_id":  task.TaskID,
		"duration": task.DurationSeconds,
		"end_time": task.EndTime,
	}).Info("Timer armed")
	return task, nil
}

// onAlarm is the primary path. The persisted EndTime still decides: if it
// has been pushed later since arming, the sweep will catch the task instead.
func (sch *Scheduler) onAlarm(taskID string) {
	sch.mu.Lock()
	if sch.armedID == taskID {
		sch.armedID = ""
		sch.alarm = nil
	}
	sch.mu.Unlock()

	ctx := sch.ctx
	if ctx.Err() != nil {
		return
	}
	logger := sch.log.WithField("task_id", taskID)

	task, err := sch.timers.Get(ctx, taskID)
	if errors.Is(err, timers.ErrTaskNotFound) {
		logger.Debug("Alarm fired for a timer that is already gone")
		return
	}
	if err != nil {
		logger.WithError(err).Error("Alarm could not read timer")
		return
	}
	if !task.Status.Active() {
		logger.Debug("Alarm fired for an inactive timer")
		return
	}
	if !sch.config.Expired(task, sch.clock.Now()) {
		logger.Debug("Alarm fired before the timer's end time, leaving it to the sweep")
		return
	}

	done, err := sch.complete(ctx, taskID)
	if err != nil || done == nil {
		return
	}
	sch.emit(ctx, models.NewFireEvent(done, sch.clock.Now(), models.FireSourceAlarm))
}

// complete deletes a task, treating an already missing or inactive task as
// a no-op (nil task, nil error).
func (sch *Scheduler) complete(ctx context.Context, taskID string) (*models.TimerTask, error) {
	task, err := sch.timers.Complete(ctx, taskID)
	switch {
	case errors.Is(err, timers.ErrTaskNotFound), errors.Is(err, timers.ErrInvalidTransition):
		sch.log.WithField("task_id", taskID).Debug("Timer already handled")
		return nil, nil
	case err != nil:
		sch.log.WithError(err).WithField("task_id", taskID).Error("Complete timer failed")
		return nil, err
	}
	return task, nil
}

func (sch *Scheduler) emit(ctx context.Context, ev models.FireEvent) {
	sch.mu.Lock()
	sch.fired++
	sch.mu.Unlock()

	logger := sch.log.WithFields(logrus.Fields{
		"task_id": ev.TaskID,
		"source":  ev.Source,
	})
	logger.Info("Timer fired")

	outcome := audit.OutcomeSuccess
	if err := sch.notifier.Dispatch(ctx, ev); err != nil {
		outcome = audit.OutcomeFailure
		logger.WithError(err).Warn("Fire event dispatch failed")
	}
	sch.pdr.Record(ctx, audit.ActionFire, ev, outcome, ev.TaskID, string(ev.Source))
}

// Sweep completes every active task whose EndTime has passed, earliest
// first, and emits their events Stagger apart.
func (sch *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	sch.sweepMu.Lock()
	defer sch.sweepMu.Unlock()

	sch.mu.Lock()
	sch.rearmed = false
	sch.sweeps++
	sch.mu.Unlock()

	active, err := sch.timers.ListActive(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweep: %w", err)
	}

	now := sch.clock.Now()
	var expired, remaining []models.TimerTask
	for _, t := range active {
		if sch.config.Expired(&t, now) {
			expired = append(expired, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	sort.SliceStable(expired, func(i, j int) bool {
		return expired[i].EndTime.Before(*expired[j].EndTime)
	})

	var done []*models.TimerTask
	for _, t := range expired {
		task, err := sch.complete(ctx, t.TaskID)
		if err != nil {
			// Still active in the store; the next sweep retries it.
			remaining = append(remaining, t)
			continue
		}
		if task != nil {
			done = append(done, task)
		}
	}

	sch.mu.Lock()
	for _, t := range done {
		if t.TaskID == sch.armedID && sch.alarm != nil {
			sch.alarm.Stop()
			sch.alarm = nil
			sch.armedID = ""
		}
	}
	sch.mu.Unlock()

	res := SweepResult{
		Active:   len(remaining),
		Interval: sch.config.PollInterval(remaining, sch.clock.Now()),
	}
	for i, t := range done {
		if i > 0 && sch.config.Stagger > 0 {
			if err := sch.sleep(ctx, sch.config.Stagger); err != nil {
				// Records are already deleted; deliver the rest without delay.
				sch.log.WithError(err).Debug("Stagger interrupted")
			}
		}
		ev := models.NewFireEvent(t, sch.clock.Now(), models.FireSourceSweep)
		sch.emit(ctx, ev)
		res.Fired = append(res.Fired, ev)
	}
	return res, nil
}

func (sch *Scheduler) startPollingLocked(active []models.TimerTask) {
	if sch.polling {
		sch.rearmed = true
		return
	}
	if sch.ctx.Err() != nil {
		return
	}
	sch.polling = true
	sch.rearmed = false
	sch.interval = sch.config.PollInterval(active, sch.clock.Now())

	sch.wg.Add(1)
	go sch.pollLoop()
	sch.log.WithField("interval", sch.interval).Debug("Polling started")
}

func (sch *Scheduler) pollLoop() {
	defer sch.wg.Done()

	for {
		sch.mu.Lock()
		interval := sch.interval
		sch.mu.Unlock()

		select {
		case <-sch.ctx.Done():
			sch.mu.Lock()
			sch.polling = false
			sch.mu.Unlock()
			return
		case <-sch.clock.After(interval):
		}

		res, err := sch.Sweep(sch.ctx)
		if err != nil {
			sch.log.WithError(err).Warn("Sweep failed")
			continue
		}

		sch.mu.Lock()
		if res.Active == 0 && !sch.rearmed {
			sch.polling = false
			sch.mu.Unlock()
			sch.log.Debug("No active timers, polling stopped")
			return
		}
		sch.interval = res.Interval
		sch.mu.Unlock()
	}
}

// Stats returns current scheduler statistics.
func (sch *Scheduler) Stats() map[string]interface{} {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	interval := ""
	if sch.polling {
		interval = sch.interval.String()
	}
	return map[string]interface{}{
		"armed_task":    sch.armedID,
		"polling":       sch.polling,
		"poll_interval": interval,
		"sweeps":        sch.sweeps,
		"fired":         sch.fired,
	}
}

// Polling reports whether the poll loop is running.
func (sch *Scheduler) Polling() bool {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.polling
}

// ArmedTask returns the id holding the primary alarm, if any.
func (sch *Scheduler) ArmedTask() string {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.armedID
}

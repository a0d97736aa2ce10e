// Package controlplane provides the HTTP API and service layer for utimer.
package controlplane

import (
	"context"
	"fmt"
	"strings"

	"github.com/fentz26/utimer/internal/audit"
	"github.com/fentz26/utimer/internal/duration"
	"github.com/fentz26/utimer/internal/maintenance"
	"github.com/fentz26/utimer/internal/models"
	"github.com/fentz26/utimer/internal/scheduler"
	"github.com/fentz26/utimer/internal/timers"
)

// Service provides the control plane business logic. Create, modify and
// cancel are the only mutating entry points exposed to clients.
type Service struct {
	timers  *timers.Manager
	sched   *scheduler.Scheduler
	sweeper *maintenance.Sweeper
	pdr     *audit.PDRWriter
}

// NewService creates a new control plane service.
func NewService(m *timers.Manager, sch *scheduler.Scheduler, sw *maintenance.Sweeper, pdr *audit.PDRWriter) *Service {
	return &Service{
		timers:  m,
		sched:   sch,
		sweeper: sw,
		pdr:     pdr,
	}
}

// CreateRequest asks for a new timer. Exactly one of DurationSeconds and
// DurationText is needed; DurationText goes through the duration parser.
type CreateRequest struct {
	Name            string               `json:"name"`
	Message         string               `json:"message"`
	DurationSeconds int                  `json:"duration_seconds,omitempty"`
	DurationText    string               `json:"duration_text,omitempty"`
	TimerType       string               `json:"timer_type,omitempty"`
	Settings        *models.TaskSettings `json:"settings,omitempty"`
	// Deferred leaves the timer pending instead of starting it.
	Deferred bool `json:"deferred,omitempty"`
}

// ModifyRequest changes a timer's length, counting from now.
type ModifyRequest struct {
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	DurationText    string `json:"duration_text,omitempty"`
}

// StatsResponse combines store and scheduler statistics.
type StatsResponse struct {
	Tasks     *models.Stats          `json:"tasks"`
	Scheduler map[string]interface{} `json:"scheduler"`
}

func resolveSeconds(seconds int, text string) (int, error) {
	if strings.TrimSpace(text) != "" {
		res, ok := duration.Parse(text)
		if !ok {
			return 0, fmt.Errorf("%w: cannot parse %q", ErrInvalidDuration, text)
		}
		return res.Seconds, nil
	}
	if !timers.ValidDuration(seconds) {
		return 0, ErrInvalidDuration
	}
	return seconds, nil
}

// --- Timer Operations ---

// CreateRequest creates a timer and, unless deferred, starts it.
func (s *Service) CreateRequest(ctx context.Context, req CreateRequest) (*models.TimerTask, error) {
	seconds, err := resolveSeconds(req.DurationSeconds, req.DurationText)
	if err != nil {
		return nil, err
	}

	timerType := models.ParseTimerType(req.TimerType)
	if req.TimerType != "" && timerType == "" {
		return nil, fmt.Errorf("%w: unknown timer type %q", ErrInvalidRequest, req.TimerType)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = duration.Format(seconds)
	}

	params := timers.CreateParams{
		Name:            name,
		Message:         req.Message,
		DurationSeconds: seconds,
		TimerType:       timerType,
		Settings:        req.Settings,
	}

	var task *models.TimerTask
	if req.Deferred {
		task, err = s.timers.CreateTask(ctx, params)
	} else {
		task, err = s.sched.StartTimer(ctx, params)
	}
	if err != nil {
		s.pdr.Record(ctx, audit.ActionCreate, req, audit.OutcomeFailure, "", err.Error())
		return nil, err
	}

	s.pdr.Record(ctx, audit.ActionCreate, req, audit.OutcomeSuccess, task.TaskID, "")
	return task, nil
}

// StartRequest arms a pending timer.
func (s *Service) StartRequest(ctx context.Context, taskID string) (*models.TimerTask, error) {
	return s.sched.Arm(ctx, taskID)
}

// ModifyRequest restarts a timer's countdown with a new length.
func (s *Service) ModifyRequest(ctx context.Context, taskID string, req ModifyRequest) (*models.TimerTask, error) {
	seconds, err := resolveSeconds(req.DurationSeconds, req.DurationText)
	if err != nil {
		return nil, err
	}

	task, err := s.timers.ModifyDuration(ctx, taskID, seconds)
	if err != nil {
		s.pdr.Record(ctx, audit.ActionModify, req, audit.OutcomeFailure, taskID, err.Error())
		return nil, err
	}

	s.pdr.Record(ctx, audit.ActionModify, req, audit.OutcomeSuccess, taskID, "")
	return task, nil
}

// CancelRequest cancels a timer.
func (s *Service) CancelRequest(ctx context.Context, taskID string) (*models.TimerTask, error) {
	task, err := s.timers.Cancel(ctx, taskID)
	if err != nil {
		s.pdr.Record(ctx, audit.ActionCancel, map[string]string{"task_id": taskID}, audit.OutcomeFailure, taskID, err.Error())
		return nil, err
	}

	s.pdr.Record(ctx, audit.ActionCancel, map[string]string{"task_id": taskID}, audit.OutcomeSuccess, taskID, "")
	return task, nil
}

// Get returns one timer.
func (s *Service) Get(ctx context.Context, taskID string) (*models.TimerTask, error) {
	return s.timers.Get(ctx, taskID)
}

// List returns every stored timer.
func (s *Service) List(ctx context.Context) ([]models.TimerTask, error) {
	return s.timers.List(ctx)
}

// ListActive returns pending and running timers, oldest first.
func (s *Service) ListActive(ctx context.Context) ([]models.TimerTask, error) {
	return s.timers.ListActive(ctx)
}

// Stats returns store and scheduler statistics.
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	st, err := s.timers.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsResponse{Tasks: st, Scheduler: s.sched.Stats()}, nil
}

// Cleanup runs retention cleanup now, regardless of the daily throttle.
func (s *Service) Cleanup(ctx context.Context, days int) (int, error) {
	return s.sweeper.Cleanup(ctx, days)
}

// Parse runs the duration parser.
func (s *Service) Parse(text string) (duration.Result, bool) {
	return duration.Parse(text)
}

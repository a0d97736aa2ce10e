// Package notify delivers timer fire events to the outside world.
package notify

import (
	"context"
	"sync"

	"github.com/fentz26/utimer/internal/models"
	"github.com/sirupsen/logrus"
)

// Dispatcher receives one FireEvent per completed timer. Presentation is the
// receiver's concern.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.FireEvent) error
}

// Func adapts a function to a Dispatcher.
type Func func(ctx context.Context, ev models.FireEvent) error

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, ev models.FireEvent) error {
	return f(ctx, ev)
}

// Multi fans an event out to every dispatcher. A failing sink does not stop
// the rest; the first error is returned.
type Multi []Dispatcher

// Dispatch sends ev to every sink.
func (m Multi) Dispatch(ctx context.Context, ev models.FireEvent) error {
	var first error
	for _, d := range m {
		if d == nil {
			continue
		}
		if err := d.Dispatch(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes events to a logger.
type LogSink struct {
	log logrus.FieldLogger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger logrus.FieldLogger) *LogSink {
	return &LogSink{log: logger}
}

// Dispatch logs ev at info level.
func (s *LogSink) Dispatch(_ context.Context, ev models.FireEvent) error {
	s.log.WithFields(logrus.Fields{
		"task_id":  ev.TaskID,
		"name":     ev.TimerName,
		"duration": ev.OriginalDurationSeconds,
		"source":   ev.Source,
	}).Info(ev.Message)
	return nil
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []models.FireEvent
}

// Dispatch records ev.
func (r *Recorder) Dispatch(_ context.Context, ev models.FireEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []models.FireEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.FireEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

var (
	_ Dispatcher = Func(nil)
	_ Dispatcher = Multi(nil)
	_ Dispatcher = (*LogSink)(nil)
	_ Dispatcher = (*Recorder)(nil)
)

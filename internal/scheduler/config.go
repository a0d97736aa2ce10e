// Package scheduler detects timer expiry through a primary alarm and an
// adaptive polling sweep.
package scheduler

import (
	"time"

	"github.com/fentz26/utimer/internal/models"
)

// Config defines the scheduler timings.
type Config struct {
	// FastPoll is the sweep interval while some timer is about to expire.
	FastPoll time.Duration `yaml:"fast_poll"`
	// SlowPoll is the sweep interval otherwise.
	SlowPoll time.Duration `yaml:"slow_poll"`
	// NearWindow decides which interval applies.
	NearWindow time.Duration `yaml:"near_window"`
	// Grace lets a sweep treat a timer as expired slightly early.
	Grace time.Duration `yaml:"grace"`
	// Stagger separates fire events emitted by the same sweep.
	Stagger time.Duration `yaml:"stagger"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		FastPoll:   5 * time.Second,
		SlowPoll:   10 * time.Second,
		NearWindow: 60 * time.Second,
		Grace:      1000 * time.Millisecond,
		Stagger:    500 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.FastPoll <= 0 {
		out.FastPoll = d.FastPoll
	}
	if out.SlowPoll <= 0 {
		out.SlowPoll = d.SlowPoll
	}
	if out.NearWindow <= 0 {
		out.NearWindow = d.NearWindow
	}
	if out.Grace < 0 {
		out.Grace = 0
	}
	if out.Stagger < 0 {
		out.Stagger = 0
	}
	return &out
}

// PollInterval returns FastPoll if any active task expires within NearWindow
// of now, and SlowPoll otherwise.
func (c *Config) PollInterval(tasks []models.TimerTask, now time.Time) time.Duration {
	for i := range tasks {
		t := &tasks[i]
		if !t.Status.Active() || t.EndTime == nil {
			continue
		}
		until := t.EndTime.Sub(now)
		if until > 0 && until < c.NearWindow {
			return c.FastPoll
		}
	}
	return c.SlowPoll
}

// Expired reports whether task is due at now, allowing for Grace.
func (c *Config) Expired(task *models.TimerTask, now time.Time) bool {
	if task.EndTime == nil {
		return false
	}
	return !now.Before(task.EndTime.Add(-c.Grace))
}

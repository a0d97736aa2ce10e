// Package maintenance prunes old cancelled timers from the store.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/fentz26/utimer/internal/audit"
	"github.com/fentz26/utimer/internal/clock"
	"github.com/fentz26/utimer/internal/models"
	"github.com/fentz26/utimer/internal/store"
	"github.com/fentz26/utimer/internal/timers"
	"github.com/sirupsen/logrus"
)

// Config controls retention.
type Config struct {
	// RetentionDays is how long inactive timers are kept.
	RetentionDays int `yaml:"retention_days"`
	// MinInterval is the minimum time between two cleanups.
	MinInterval time.Duration `yaml:"min_interval"`
	// CheckCron says when to check whether a cleanup is due.
	CheckCron string `yaml:"check_cron"`
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 30,
		MinInterval:   24 * time.Hour,
		CheckCron:     "@hourly",
	}
}

// Sweeper removes inactive timers past retention, at most once per MinInterval.
type Sweeper struct {
	timers *timers.Manager
	store  *store.TaskStore
	pdr    *audit.PDRWriter
	config *Config
	clock  clock.Clock
	log    logrus.FieldLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Sweeper. The last-run record lives in ts; removals go
// through m so they serialise with other lifecycle writes.
func New(m *timers.Manager, ts *store.TaskStore, pdr *audit.PDRWriter, cfg *Config, logger logrus.FieldLogger) *Sweeper {
	d := DefaultConfig()
	if cfg == nil {
		cfg = d
	}
	c := *cfg
	if c.RetentionDays <= 0 {
		c.RetentionDays = d.RetentionDays
	}
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	if c.CheckCron == "" {
		c.CheckCron = d.CheckCron
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sweeper{
		timers: m,
		store:  ts,
		pdr:    pdr,
		config: &c,
		clock:  m.Clock(),
		log:    logger.WithField("component", "maintenance"),
	}
}

// Cleanup removes inactive timers created more than daysToKeep days ago.
// Pending and running timers are kept whatever their age. daysToKeep <= 0
// means the configured retention.
func (s *Sweeper) Cleanup(ctx context.Context, daysToKeep int) (int, error) {
	if daysToKeep <= 0 {
		daysToKeep = s.config.RetentionDays
	}
	cutoff := s.clock.Now().Add(-time.Duration(daysToKeep) * 24 * time.Hour)

	removed, err := s.timers.Prune(ctx, func(t *models.TimerTask) bool {
		return !t.Status.Active() && t.CreatedAt.Before(cutoff)
	})
	if err != nil {
		s.pdr.Record(ctx, audit.ActionCleanup, map[string]int{"days": daysToKeep}, audit.OutcomeFailure, "", err.Error())
		return 0, err
	}

	s.pdr.Record(ctx, audit.ActionCleanup, map[string]int{"days": daysToKeep}, audit.OutcomeSuccess, "", fmt.Sprintf("removed %d", removed))
	s.log.WithFields(logrus.Fields{
		"removed": removed,
		"days":    daysToKeep,
	}).Info("Cleanup finished")
	return removed, nil
}

// RunIfDue runs Cleanup when the last recorded run is missing or older than
// MinInterval. The record is refreshed only after a successful cleanup.
func (s *Sweeper) RunIfDue(ctx context.Context) (ran bool, removed int, err error) {
	last, ok, err := s.store.LastCleanup(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("read last cleanup: %w", err)
	}
	now := s.clock.Now()
	if ok && now.Sub(last) < s.config.MinInterval {
		return false, 0, nil
	}

	removed, err = s.Cleanup(ctx, s.config.RetentionDays)
	if err != nil {
		return false, 0, err
	}
	if err := s.store.SetLastCleanup(ctx, now); err != nil {
		return true, removed, fmt.Errorf("record cleanup: %w", err)
	}
	return true, removed, nil
}

// Start runs RunIfDue now and again on every CheckCron tick until ctx is
// done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	if !gronx.IsValid(s.config.CheckCron) {
		return fmt.Errorf("invalid check_cron %q", s.config.CheckCron)
	}

	if _, _, err := s.RunIfDue(ctx); err != nil {
		s.log.WithError(err).Warn("Startup cleanup failed")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop ends the check loop and waits for it.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		now := s.clock.Now()
		next, err := gronx.NextTickAfter(s.config.CheckCron, now, false)
		if err != nil {
			s.log.WithError(err).Error("Compute next cleanup check")
			return
		}
		if err := clock.Sleep(ctx, s.clock, next.Sub(now)); err != nil {
			return
		}

		ran, removed, err := s.RunIfDue(ctx)
		switch {
		case err != nil:
			s.log.WithError(err).Warn("Scheduled cleanup failed")
		case ran:
			s.log.WithField("removed", removed).Debug("Scheduled cleanup ran")
		}
	}
}

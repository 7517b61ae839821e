// Package scheduler runs the periodic case-store maintenance jobs: the
// cache/store consistency sweep and the retention sweep.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hrguard/hrguard/pkg/cases"
)

// Default schedules in standard five-field cron syntax.
const (
	DefaultConsistencySchedule = "*/15 * * * *"
	DefaultRetentionSchedule   = "0 3 * * *"
)

// Sweeper is the part of the case store the jobs drive. *cases.Store
// satisfies it.
type Sweeper interface {
	CheckConsistency(ctx context.Context) *cases.Report
	CleanupOldCases(ctx context.Context, days int) (int64, error)
}

// Config selects the job schedules. An empty schedule disables that job.
type Config struct {
	ConsistencySchedule string
	RetentionSchedule   string
	RetentionDays       int
}

// DefaultConfig returns the default schedules with the default horizon.
func DefaultConfig() Config {
	return Config{
		ConsistencySchedule: DefaultConsistencySchedule,
		RetentionSchedule:   DefaultRetentionSchedule,
		RetentionDays:       cases.DefaultRetentionDays,
	}
}

// Scheduler owns a cron runner with up to two jobs. A fresh runner is built
// on every Start, so a stopped scheduler can be started again.
type Scheduler struct {
	sweeper Sweeper
	config  Config
	logger  zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool

	// onAlert is called with every report that has mismatches or failed.
	onAlert atomic.Pointer[func(*cases.Report)]
}

// New creates a scheduler. It does not start any job.
func New(sweeper Sweeper, cfg Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		sweeper: sweeper,
		config:  cfg,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
}

// OnAlert registers fn to receive reports that need operator attention.
func (s *Scheduler) OnAlert(fn func(*cases.Report)) {
	if fn == nil {
		s.onAlert.Store(nil)
		return
	}
	s.onAlert.Store(&fn)
}

// Start validates and registers the configured jobs and starts the cron
// runner. The runner stops when ctx is cancelled. Starting with both
// schedules empty is a no-op. An invalid schedule registers nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))

	jobs := 0
	if expr := s.config.ConsistencySchedule; expr != "" {
		if _, err := c.AddFunc(expr, func() { s.RunConsistency(ctx) }); err != nil {
			return fmt.Errorf("invalid consistency schedule %q: %w", expr, err)
		}
		jobs++
	}
	if expr := s.config.RetentionSchedule; expr != "" {
		if _, err := c.AddFunc(expr, func() { _, _ = s.RunRetention(ctx) }); err != nil {
			return fmt.Errorf("invalid retention schedule %q: %w", expr, err)
		}
		jobs++
	}
	if jobs == 0 {
		s.logger.Info().Msg("No maintenance schedule configured, scheduler idle")
		return nil
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info().
		Str("consistency_schedule", s.config.ConsistencySchedule).
		Str("retention_schedule", s.config.RetentionSchedule).
		Int("retention_days", s.config.RetentionDays).
		Msg("Scheduler started")

	go func() {
		<-ctx.Done()
		s.stop(c)
	}()
	return nil
}

// Stop stops the runner and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	s.stop(c)
}

// stop halts c if it is still the current runner. Jobs may still be
// running, so the wait happens without holding s.mu.
func (s *Scheduler) stop(c *cron.Cron) {
	s.mu.Lock()
	if !s.running || c == nil || s.cron != c {
		s.mu.Unlock()
		return
	}
	s.running = false
	done := c.Stop().Done()
	s.mu.Unlock()

	<-done
	s.logger.Info().Msg("Scheduler stopped")
}

// IsRunning reports whether the cron runner is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the earliest upcoming job time, or nil when idle.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	var next *time.Time
	for _, e := range s.cron.Entries() {
		if e.Next.IsZero() {
			continue
		}
		if next == nil || e.Next.Before(*next) {
			t := e.Next
			next = &t
		}
	}
	return next
}

// RunConsistency performs one consistency sweep and raises an alert when the
// report shows mismatches or the sweep itself failed.
func (s *Scheduler) RunConsistency(ctx context.Context) *cases.Report {
	report := s.sweeper.CheckConsistency(ctx)
	if report == nil {
		return nil
	}

	switch {
	case report.Failed():
		s.logger.Error().Str("error", report.Error).Msg("ALERT: consistency sweep could not complete")
	case report.Mismatches > 0:
		keys := make([]string, 0, len(report.MismatchedKeys))
		for _, k := range report.MismatchedKeys {
			keys = append(keys, k.String())
		}
		s.logger.Warn().
			Int("mismatches", report.Mismatches).
			Int("checked", report.TotalChecked).
			Strs("keys", keys).
			Msg("ALERT: cache and store disagree")
	default:
		return report
	}

	if fn := s.onAlert.Load(); fn != nil {
		(*fn)(report)
	}
	return report
}

// RunRetention performs one retention sweep with the configured horizon.
func (s *Scheduler) RunRetention(ctx context.Context) (int64, error) {
	n, err := s.sweeper.CleanupOldCases(ctx, s.config.RetentionDays)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled retention sweep failed")
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("Scheduled retention sweep completed")
	} else {
		s.logger.Debug().Msg("Scheduled retention sweep completed, nothing to delete")
	}
	return n, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

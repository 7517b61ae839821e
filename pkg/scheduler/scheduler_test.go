package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrguard/hrguard/pkg/cases"
	"github.com/hrguard/hrguard/pkg/hr"
)

type fakeSweeper struct {
	mu       sync.Mutex
	report   *cases.Report
	deleted  int64
	err      error
	gotDays  int
	cleanups int
	audits   int
}

func (f *fakeSweeper) CheckConsistency(context.Context) *cases.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits++
	return f.report
}

func (f *fakeSweeper) CleanupOldCases(_ context.Context, days int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	f.gotDays = days
	return f.deleted, f.err
}

func TestStart(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantRunning bool
		wantErr     bool
	}{
		{"defaults", DefaultConfig(), true, false},
		{"consistency only", Config{ConsistencySchedule: "0 * * * *"}, true, false},
		{"descriptor", Config{RetentionSchedule: "@daily", RetentionDays: 7}, true, false},
		{"nothing scheduled", Config{}, false, false},
		{"invalid consistency", Config{ConsistencySchedule: "every tuesday"}, false, true},
		{"invalid retention", Config{RetentionSchedule: "61 * * * *"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeSweeper{}, tt.cfg, zerolog.Nop())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := s.Start(ctx)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantRunning, s.IsRunning())

			if tt.wantRunning {
				assert.NotNil(t, s.NextRun())
				s.Stop()
				assert.False(t, s.IsRunning())
			}
		})
	}
}

func TestStartTwice(t *testing.T) {
	s := New(&fakeSweeper{}, DefaultConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))
	s.Stop()
	s.Stop()
}

func TestRunConsistencyAlerts(t *testing.T) {
	key := hr.Key{SiteKey: "hdsky", TorrentID: "1"}
	tests := []struct {
		name      string
		report    *cases.Report
		wantAlert bool
		wantLog   string
	}{
		{"clean", &cases.Report{TotalChecked: 3}, false, ""},
		{"mismatch", &cases.Report{TotalChecked: 3, Mismatches: 1, MismatchedKeys: []hr.Key{key}}, true, "hdsky/1"},
		{"failed", &cases.Report{Mismatches: cases.AuditFailed, Error: "disk I/O error"}, true, "disk I/O error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			s := New(&fakeSweeper{report: tt.report}, Config{}, zerolog.New(&buf))
			var alerted *cases.Report
			s.OnAlert(func(r *cases.Report) { alerted = r })

			got := s.RunConsistency(context.Background())
			assert.Same(t, tt.report, got)
			if tt.wantAlert {
				assert.Same(t, tt.report, alerted)
				assert.Contains(t, buf.String(), "ALERT")
				assert.Contains(t, buf.String(), tt.wantLog)
			} else {
				assert.Nil(t, alerted)
				assert.False(t, strings.Contains(buf.String(), "ALERT"))
			}
		})
	}
}

func TestRunRetention(t *testing.T) {
	sw := &fakeSweeper{deleted: 4}
	s := New(sw, Config{RetentionDays: 14}, zerolog.Nop())

	n, err := s.RunRetention(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, 14, sw.gotDays)

	sw.err = errors.New("database is locked")
	_, err = s.RunRetention(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, sw.cleanups)
}

// blockingSweeper holds the consistency sweep open until ctx is cancelled
// and then reports failure, as a sweep interrupted by shutdown does.
type blockingSweeper struct {
	fakeSweeper
	started chan struct{}
	once    sync.Once
}

func (b *blockingSweeper) CheckConsistency(ctx context.Context) *cases.Report {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return &cases.Report{Mismatches: cases.AuditFailed, Error: ctx.Err().Error()}
}

func TestStopDuringAlertingSweep(t *testing.T) {
	sw := &blockingSweeper{started: make(chan struct{})}
	s := New(sw, Config{ConsistencySchedule: "@every 1s"}, zerolog.Nop())

	var alerts atomic.Int32
	s.OnAlert(func(*cases.Report) { alerts.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	select {
	case <-sw.started:
	case <-time.After(5 * time.Second):
		t.Fatal("consistency job never ran")
	}

	cancel()
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while a sweep was alerting")
	}
	assert.False(t, s.IsRunning())
	assert.Eventually(t, func() bool { return alerts.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func jobCount(s *Scheduler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

func TestInvalidScheduleRegistersNothing(t *testing.T) {
	s := New(&fakeSweeper{}, Config{ConsistencySchedule: "@hourly", RetentionSchedule: "61 * * * *"}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Error(t, s.Start(ctx))
	assert.False(t, s.IsRunning())
	assert.Equal(t, 0, jobCount(s))
	assert.Nil(t, s.NextRun())
}

func TestRestartDoesNotDuplicateJobs(t *testing.T) {
	s := New(&fakeSweeper{}, DefaultConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, 2, jobCount(s))
	s.Stop()

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	assert.Equal(t, 2, jobCount(s))
	s.Stop()
}

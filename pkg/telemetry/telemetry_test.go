package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrguard/hrguard/pkg/hr"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"no service", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"metrics without address", func(c *Config) { c.Metrics.ListenAddress = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LoggingConfig{Level: "warn", Format: "json"})

	zl := CaseLogger(logger.Zerolog(), hr.Key{SiteKey: "hdsky", TorrentID: "9"})
	zl.Info().Msg("hidden")
	zl.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"site_key":"hdsky"`)
	assert.Contains(t, out, `"torrent_id":"9"`)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordCacheLookup(true)
	m.RecordCaseMutation("upsert", nil)
	m.RecordDecision("download", "DENY", "HR_ACTIVE_DOWNLOAD", time.Millisecond)
	m.RecordConsistency(1, 0)
	m.RecordRetention(3)
	m.RecordError("audit")
	m.SetActiveCases("a", 1)
	assert.Nil(t, m.Registry())

	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)
	disabled.RecordCacheLookup(false)
	assert.Nil(t, disabled.StartMetricsServer(newLogger(&bytes.Buffer{}, LoggingConfig{}).Zerolog()))
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.RecordCacheLookup(true)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCaseMutation("mark_safe", errors.New("x"))
	m.RecordDecision("download", "DENY", "HR_ACTIVE_DOWNLOAD", time.Millisecond)
	m.RecordConsistency(10, -1)
	m.RecordRetention(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.caseMutations.WithLabelValues("mark_safe", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("DENY", "HR_ACTIVE_DOWNLOAD")))
	assert.Equal(t, -1.0, testutil.ToFloat64(m.consistencyMismatches))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.retentionDeleted))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "hrguard_cache_lookups_total"))
}

func TestDisabledTracer(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: false}, "hrguard", "test", "test")
	require.NoError(t, err)

	_, span := tr.Start(context.Background(), "noop")
	EndSpan(span, hr.NotFound("get", hr.Key{SiteKey: "a", TorrentID: "b"}))
	assert.NoError(t, tr.Shutdown(context.Background()))
}

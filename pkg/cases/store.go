// Package cases owns every mutation of HR case state.
//
// The persistent repository is authoritative. Each mutation runs in one
// store transaction and only after the commit succeeds is the resulting
// record written to the process cache; a failed write leaves the cache
// exactly as it was. Concurrent writers to the same key are serialized by
// the store, so a reader may briefly see an older cached value.
package cases

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hrguard/hrguard/pkg/cache"
	"github.com/hrguard/hrguard/pkg/hr"
	"github.com/hrguard/hrguard/pkg/stores"
	"github.com/hrguard/hrguard/pkg/telemetry"
)

// DefaultRetentionDays is the cleanup horizon used when callers pass zero.
const DefaultRetentionDays = 30

const tracerName = "github.com/hrguard/hrguard/pkg/cases"

// SiteCatalog resolves a site key to its numeric catalog id.
// *config.Store satisfies it.
type SiteCatalog interface {
	SiteID(siteKey string) (int64, bool)
}

// Store is the public case contract layered over a repository and a cache.
type Store struct {
	repo     stores.CaseRepository
	cache    *cache.CaseCache
	catalog  SiteCatalog
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	now      func() time.Time
	validate *validator.Validate

	// placeholderWarned records site keys already reported as unresolved.
	placeholderWarned sync.Map
}

// Option configures a Store.
type Option func(*Store)

// WithCatalog sets the site catalog used when creating cases.
func WithCatalog(c SiteCatalog) Option {
	return func(s *Store) { s.catalog = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l.With().Str("component", "cases").Logger() }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) { s.tracer = t }
}

// New creates a case store.
func New(repo stores.CaseRepository, c *cache.CaseCache, opts ...Option) *Store {
	s := &Store{
		repo:     repo,
		cache:    c,
		logger:   zerolog.Nop(),
		tracer:   otel.Tracer(tracerName),
		now:      func() time.Time { return time.Now().UTC() },
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get reads key directly from the repository. It never consults the cache.
func (s *Store) Get(ctx context.Context, key hr.Key) (*hr.CaseRecord, error) {
	rec, err := s.repo.GetCase(ctx, key)
	if err != nil {
		if hr.IsNotFound(err) {
			return nil, err
		}
		return nil, hr.Persistence("get", key, err)
	}
	return rec, nil
}

// Upsert applies an observation, creating the case when it does not exist.
// entered_at is set on the first transition into ACTIVE and never rewritten.
// Nil fields in obs leave stored values unchanged.
func (s *Store) Upsert(ctx context.Context, obs *hr.Observation) (*hr.CaseRecord, error) {
	if obs == nil {
		return nil, hr.Validation("upsert", "observation is required")
	}
	if err := s.validate.Struct(obs); err != nil {
		return nil, hr.Validation("upsert", err.Error())
	}
	status := obs.Status
	if status == "" {
		status = hr.StatusActive
	}
	if !status.Valid() {
		return nil, hr.Validation("upsert", fmt.Sprintf("unknown status %q", status))
	}

	return s.mutate(ctx, "upsert", obs.Key(), status, func(rec *hr.CaseRecord, now time.Time) {
		// updated_at stays on the store clock so listings order by write time.
		if obs.ObservedAt != nil {
			now = obs.ObservedAt.UTC()
		}
		if obs.InfoHash != "" {
			rec.InfoHash = obs.InfoHash
		}
		if obs.RequirementRatio != nil {
			rec.RequirementRatio = hr.Float(*obs.RequirementRatio)
		}
		if obs.RequiredHours != nil {
			rec.RequirementHours = hr.Float(*obs.RequiredHours)
		}
		if obs.SeededHours != nil {
			rec.SeededHours = hr.Float(*obs.SeededHours)
		}
		if obs.CurrentRatio != nil {
			rec.CurrentRatio = hr.Float(*obs.CurrentRatio)
		}
		if obs.Deadline != nil {
			rec.Deadline = hr.Time(obs.Deadline.UTC())
		}

		setStatus(rec, status, now)
		if status == hr.StatusActive && rec.EnteredAt == nil {
			rec.EnteredAt = hr.Time(now)
		}
		if rec.FirstSeenAt == nil {
			rec.FirstSeenAt = hr.Time(now)
		}
		rec.LastSeenAt = hr.Time(now)
	})
}

// MarkSafe resolves an existing case. It fails with hr.ErrNotFound when the
// case does not exist. A non-empty reason is appended to the notes.
func (s *Store) MarkSafe(ctx context.Context, key hr.Key, reason string) (*hr.CaseRecord, error) {
	return s.mutate(ctx, "mark_safe", key, "", func(rec *hr.CaseRecord, now time.Time) {
		setStatus(rec, hr.StatusSafe, now)
		rec.ResolvedAt = hr.Time(now)
		appendNote(rec, now, reason)
	})
}

// MarkPenalized records a site penalty, creating the case in VIOLATED when absent.
func (s *Store) MarkPenalized(ctx context.Context, key hr.Key) (*hr.CaseRecord, error) {
	return s.mutate(ctx, "mark_penalized", key, hr.StatusViolated, func(rec *hr.CaseRecord, now time.Time) {
		setStatus(rec, hr.StatusViolated, now)
		rec.PenalizedAt = hr.Time(now)
	})
}

// MarkDeleted records that the payload was removed. Status is left alone; a
// case created here starts as UNKNOWN.
func (s *Store) MarkDeleted(ctx context.Context, key hr.Key) (*hr.CaseRecord, error) {
	return s.mutate(ctx, "mark_deleted", key, hr.StatusUnknown, func(rec *hr.CaseRecord, now time.Time) {
		rec.LifeStatus = hr.LifeDeleted
		rec.DeletedAt = hr.Time(now)
	})
}

// RecordEmailNotice stamps last_email_notice_at on an existing case.
func (s *Store) RecordEmailNotice(ctx context.Context, key hr.Key) (*hr.CaseRecord, error) {
	return s.mutate(ctx, "record_email_notice", key, "", func(rec *hr.CaseRecord, now time.Time) {
		rec.LastEmailNoticeAt = hr.Time(now)
	})
}

// mutate loads key inside a transaction, applies fn and writes the row back.
// createAs is the initial status for a missing case; empty means the case
// must already exist. The cache is written only after the commit.
func (s *Store) mutate(ctx context.Context, op string, key hr.Key, createAs hr.Status, fn func(rec *hr.CaseRecord, now time.Time)) (result *hr.CaseRecord, err error) {
	ctx, span := s.tracer.Start(ctx, "cases."+op, trace.WithAttributes(telemetry.CaseAttributes(key)...))
	defer func() { telemetry.EndSpan(span, err) }()

	logger := telemetry.CaseLogger(s.logger, key).With().Str("op", op).Logger()
	now := s.now()

	var created bool
	txErr := s.repo.WithTx(ctx, func(tx stores.CaseTx) error {
		rec, err := tx.GetCase(ctx, key)
		switch {
		case err == nil:
		case hr.IsNotFound(err) && createAs != "":
			rec = s.newCase(key, createAs, now)
			created = true
		case hr.IsNotFound(err):
			return hr.NotFound(op, key)
		default:
			return err
		}

		rec.UpdatedAt = now
		fn(rec, now)
		if rec.FirstSeenAt == nil {
			rec.FirstSeenAt = hr.Time(now)
		}

		if created {
			if err := tx.InsertCase(ctx, rec); err != nil {
				return err
			}
		} else if err := tx.UpdateCase(ctx, rec); err != nil {
			return err
		}
		result = rec
		return nil
	})

	s.metrics.RecordCaseMutation(op, txErr)

	if txErr != nil {
		err = txErr
		if hr.ClassOf(err) == "" {
			err = hr.Persistence(op, key, txErr)
		}
		s.metrics.RecordError(string(hr.ClassOf(err)))
		if hr.IsNotFound(err) {
			logger.Warn().Msg("Case not found")
		} else {
			logger.Error().Err(txErr).Msg("Case mutation failed")
		}
		return nil, err
	}

	s.cache.Set(result)

	logger.Debug().
		Int64("id", result.ID).
		Bool("created", created).
		Str("status", string(result.Status)).
		Str("life_status", string(result.LifeStatus)).
		Msg("Case written")

	return result.Clone(), nil
}

func (s *Store) newCase(key hr.Key, status hr.Status, now time.Time) *hr.CaseRecord {
	return &hr.CaseRecord{
		SiteID:     s.resolveSiteID(key.SiteKey),
		SiteKey:    key.SiteKey,
		TorrentID:  key.TorrentID,
		Status:     status,
		LifeStatus: hr.LifeAlive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// resolveSiteID returns the catalog id, or a placeholder when the key is unknown.
func (s *Store) resolveSiteID(siteKey string) int64 {
	if s.catalog != nil {
		if id, ok := s.catalog.SiteID(siteKey); ok {
			return id
		}
	}
	id := PlaceholderSiteID(siteKey)
	if _, warned := s.placeholderWarned.LoadOrStore(siteKey, struct{}{}); !warned {
		s.logger.Warn().Str("site_key", siteKey).Int64("site_id", id).Msg("Site key not in catalog, using placeholder id")
	}
	return id
}

// PlaceholderSiteID maps siteKey into [-(2^62), -1] with 64-bit FNV-1a.
// Catalog ids are positive, so a placeholder never aliases a real site.
func PlaceholderSiteID(siteKey string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(siteKey))
	v := int64(h.Sum64() & (1<<62 - 1))
	return -v - 1
}

func resolved(s hr.Status) bool {
	return s == hr.StatusSafe || s == hr.StatusNone
}

// setStatus moves rec to status. resolved_at marks the latest entry into
// SAFE or NONE and is cleared when the obligation is live again.
func setStatus(rec *hr.CaseRecord, status hr.Status, now time.Time) {
	prev := rec.Status
	rec.Status = status
	switch {
	case resolved(status):
		if rec.ResolvedAt == nil || !resolved(prev) {
			rec.ResolvedAt = hr.Time(now)
		}
	case status == hr.StatusActive || status == hr.StatusViolated:
		rec.ResolvedAt = nil
	}
}

func appendNote(rec *hr.CaseRecord, now time.Time, reason string) {
	if reason == "" {
		return
	}
	line := now.Format(time.RFC3339) + " " + reason
	if rec.Notes == "" {
		rec.Notes = line
		return
	}
	rec.Notes += "\n" + line
}

// Lookup is a read-through accessor: a cache hit is returned as is, a miss
// is read from the repository and cached.
func (s *Store) Lookup(ctx context.Context, key hr.Key) (*hr.CaseRecord, error) {
	if rec, ok := s.cache.Get(key); ok {
		return rec, nil
	}
	rec, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.Set(rec)
	return rec, nil
}

// Resync rewrites the cache entry for key from the repository, evicting it
// when the row no longer exists. This is the repair step for mismatches
// reported by CheckConsistency.
func (s *Store) Resync(ctx context.Context, key hr.Key) (*hr.CaseRecord, error) {
	rec, err := s.Get(ctx, key)
	if hr.IsNotFound(err) {
		s.cache.Delete(key)
		l := telemetry.CaseLogger(s.logger, key)
		l.Info().Msg("Evicted cache entry with no store row")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.cache.Set(rec)
	return rec, nil
}

// WarmCache loads every stored case into the cache.
func (s *Store) WarmCache(ctx context.Context) (int, error) {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to warm cache: %w", err)
	}
	for _, rec := range all {
		s.cache.Set(rec)
	}
	s.logger.Info().Int("cases", len(all)).Msg("Cache warmed")
	return len(all), nil
}

// ListActiveForSite returns ACTIVE, ALIVE cases for a site, most urgent deadline first.
func (s *Store) ListActiveForSite(ctx context.Context, siteKey string) ([]*hr.CaseRecord, error) {
	out, err := s.repo.ListActiveForSite(ctx, siteKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list active cases for %s: %w", siteKey, err)
	}
	s.metrics.SetActiveCases(siteKey, len(out))
	return out, nil
}

// ListByStatus returns up to limit cases, most recently updated first.
func (s *Store) ListByStatus(ctx context.Context, status hr.Status, limit int) ([]*hr.CaseRecord, error) {
	if !status.Valid() {
		return nil, hr.Validation("list_by_status", fmt.Sprintf("unknown status %q", status))
	}
	return s.repo.ListByStatus(ctx, status, limit)
}

// ListBySite returns up to limit cases for a site, most recently updated first.
func (s *Store) ListBySite(ctx context.Context, siteKey string, limit int) ([]*hr.CaseRecord, error) {
	return s.repo.ListBySite(ctx, siteKey, limit)
}

// GetStatistics aggregates the whole table. Not for hot paths.
func (s *Store) GetStatistics(ctx context.Context) (*stores.Statistics, error) {
	return s.repo.Statistics(ctx)
}

// CleanupOldCases deletes SAFE and NONE cases resolved more than days ago
// and evicts them from the cache. days <= 0 uses DefaultRetentionDays.
func (s *Store) CleanupOldCases(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	ctx, span := s.tracer.Start(ctx, "cases.cleanup")
	n, err := s.repo.DeleteResolvedBefore(ctx, cutoff)
	telemetry.EndSpan(span, err)
	if err != nil {
		s.logger.Error().Err(err).Int("days", days).Msg("Retention sweep failed")
		return 0, fmt.Errorf("failed to delete resolved cases: %w", err)
	}

	// Evicting is always safe; the rows are gone.
	evicted := 0
	for key, rec := range s.cache.Snapshot() {
		if retained(rec, cutoff) {
			continue
		}
		s.cache.Delete(key)
		evicted++
	}

	s.metrics.RecordRetention(n)
	s.logger.Info().Int64("deleted", n).Int("evicted", evicted).Int("days", days).Time("cutoff", cutoff).Msg("Retention sweep finished")
	return n, nil
}

func retained(rec *hr.CaseRecord, cutoff time.Time) bool {
	if !resolved(rec.Status) {
		return true
	}
	return rec.ResolvedAt == nil || !rec.ResolvedAt.Before(cutoff)
}

package cases

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrguard/hrguard/pkg/cache"
	"github.com/hrguard/hrguard/pkg/hr"
	"github.com/hrguard/hrguard/pkg/stores"
)

var errInjected = errors.New("injected failure")

// flakyRepo wraps a real repository and fails transactions or scans on demand.
type flakyRepo struct {
	stores.CaseRepository
	failTx   bool
	failList bool
}

func (r *flakyRepo) WithTx(ctx context.Context, fn func(tx stores.CaseTx) error) error {
	if r.failTx {
		// Run fn so partial work exists, then fail as a commit error would.
		_ = r.CaseRepository.WithTx(ctx, func(tx stores.CaseTx) error {
			if err := fn(tx); err != nil {
				return err
			}
			return errInjected
		})
		return errInjected
	}
	return r.CaseRepository.WithTx(ctx, fn)
}

func (r *flakyRepo) ListAll(ctx context.Context) ([]*hr.CaseRecord, error) {
	if r.failList {
		return nil, errInjected
	}
	return r.CaseRepository.ListAll(ctx)
}

type staticCatalog map[string]int64

func (c staticCatalog) SiteID(siteKey string) (int64, bool) {
	id, ok := c[siteKey]
	return id, ok
}

type fixture struct {
	store *Store
	repo  *flakyRepo
	cache *cache.CaseCache
	now   time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func setup(t *testing.T) *fixture {
	t.Helper()

	sqlStore, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, sqlStore.Init(ctx))
	require.NoError(t, sqlStore.Migrate(ctx))
	t.Cleanup(func() { _ = sqlStore.Close() })

	f := &fixture{
		repo:  &flakyRepo{CaseRepository: sqlStore},
		cache: cache.New(cache.Config{}, nil),
		now:   time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store = New(f.repo, f.cache,
		WithCatalog(staticCatalog{"hdsky": 7}),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func observation(site, torrent string) *hr.Observation {
	return &hr.Observation{
		SiteKey:       site,
		TorrentID:     torrent,
		RequiredHours: hr.Float(72),
		SeededHours:   hr.Float(10),
	}
}

func TestUpsertCreatesAndIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.store.Upsert(ctx, observation("hdsky", "1"))
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.Equal(t, hr.StatusActive, first.Status)
	assert.Equal(t, hr.LifeAlive, first.LifeStatus)
	assert.Equal(t, int64(7), first.SiteID)

	f.advance(time.Hour)
	second, err := f.store.Upsert(ctx, observation("hdsky", "1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "repeat upsert updates in place")

	got, err := f.store.Get(ctx, hr.Key{SiteKey: "hdsky", TorrentID: "1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, got.LastSeenAt.Equal(f.now))
	assert.True(t, got.FirstSeenAt.Equal(f.now.Add(-time.Hour)))

	stats, err := f.store.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestUpsertPreservesEnteredAt(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	key := hr.Key{SiteKey: "hdsky", TorrentID: "2"}
	entered := f.now

	for i := 0; i < 5; i++ {
		obs := observation(key.SiteKey, key.TorrentID)
		obs.SeededHours = hr.Float(float64(10 * i))
		_, err := f.store.Upsert(ctx, obs)
		require.NoError(t, err)
		f.advance(3 * time.Hour)
	}

	got, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got.EnteredAt)
	assert.True(t, got.EnteredAt.Equal(entered))
	assert.Equal(t, 40.0, *got.SeededHours)
}

func TestUpsertNilFieldsKeepValues(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	deadline := f.now.Add(48 * time.Hour)
	obs := observation("hdsky", "3")
	obs.Deadline = &deadline
	obs.CurrentRatio = hr.Float(0.4)
	_, err := f.store.Upsert(ctx, obs)
	require.NoError(t, err)

	rec, err := f.store.Upsert(ctx, &hr.Observation{SiteKey: "hdsky", TorrentID: "3"})
	require.NoError(t, err)
	assert.True(t, rec.Deadline.Equal(deadline))
	assert.Equal(t, 0.4, *rec.CurrentRatio)
	assert.Equal(t, 72.0, *rec.RequirementHours)
}

func TestUpsertValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.store.Upsert(ctx, nil)
	assert.ErrorIs(t, err, hr.ErrValidation)

	_, err = f.store.Upsert(ctx, &hr.Observation{SiteKey: "hdsky"})
	assert.ErrorIs(t, err, hr.ErrValidation)

	_, err = f.store.Upsert(ctx, &hr.Observation{SiteKey: "hdsky", TorrentID: "1", Status: "DONE"})
	assert.ErrorIs(t, err, hr.ErrValidation)
}

func TestUpsertResolvedStatusStampsResolvedAt(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.store.Upsert(ctx, observation("hdsky", "4"))
	require.NoError(t, err)
	f.advance(time.Hour)

	obs := observation("hdsky", "4")
	obs.Status = hr.StatusSafe
	rec, err := f.store.Upsert(ctx, obs)
	require.NoError(t, err)
	require.NotNil(t, rec.ResolvedAt)
	assert.True(t, rec.ResolvedAt.Equal(f.now))
}

func TestMarkSafe(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	key := hr.Key{SiteKey: "hdsky", TorrentID: "5"}

	_, err := f.store.MarkSafe(ctx, key, "seeded")
	assert.True(t, hr.IsNotFound(err))
	_, cached := f.cache.Peek(key)
	assert.False(t, cached)

	_, err = f.store.Upsert(ctx, observation(key.SiteKey, key.TorrentID))
	require.NoError(t, err)

	rec, err := f.store.MarkSafe(ctx, key, "requirement met")
	require.NoError(t, err)
	assert.Equal(t, hr.StatusSafe, rec.Status)
	assert.NotNil(t, rec.ResolvedAt)
	assert.Contains(t, rec.Notes, "requirement met")

	rec, err = f.store.MarkSafe(ctx, key, "confirmed again")
	require.NoError(t, err)
	assert.Len(t, strings.Split(rec.Notes, "\n"), 2)

	c, ok := f.cache.Peek(key)
	require.True(t, ok)
	assert.Equal(t, hr.StatusSafe, c.Status)
}

func TestMarkPenalizedCreatesViolated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.store.MarkPenalized(ctx, hr.Key{SiteKey: "hdsky", TorrentID: "6"})
	require.NoError(t, err)
	assert.Equal(t, hr.StatusViolated, rec.Status)
	assert.True(t, rec.PenalizedAt.Equal(f.now))
	assert.NotZero(t, rec.ID)
}

func TestMarkDeletedKeepsStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	key := hr.Key{SiteKey: "hdsky", TorrentID: "7"}

	_, err := f.store.Upsert(ctx, observation(key.SiteKey, key.TorrentID))
	require.NoError(t, err)

	rec, err := f.store.MarkDeleted(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, hr.StatusActive, rec.Status)
	assert.Equal(t, hr.LifeDeleted, rec.LifeStatus)
	assert.False(t, rec.IsActiveHR())

	created, err := f.store.MarkDeleted(ctx, hr.Key{SiteKey: "hdsky", TorrentID: "new"})
	require.NoError(t, err)
	assert.Equal(t, hr.StatusUnknown, created.Status)
	assert.Equal(t, hr.LifeDeleted, created.LifeStatus)

	active, err := f.store.ListActiveForSite(ctx, "hdsky")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCacheNeverAheadOfStore(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	key := hr.Key{SiteKey: "hdsky", TorrentID: "8"}

	_, err := f.store.Upsert(ctx, observation(key.SiteKey, key.TorrentID))
	require.NoError(t, err)
	before, ok := f.cache.Peek(key)
	require.True(t, ok)

	f.repo.failTx = true
	f.advance(time.Minute)

	mutations := map[string]func() error{
		"upsert": func() error {
			obs := observation(key.SiteKey, key.TorrentID)
			obs.Status = hr.StatusSafe
			_, err := f.store.Upsert(ctx, obs)
			return err
		},
		"mark_safe":      func() error { _, err := f.store.MarkSafe(ctx, key, "x"); return err },
		"mark_penalized": func() error { _, err := f.store.MarkPenalized(ctx, key); return err },
		"mark_deleted":   func() error { _, err := f.store.MarkDeleted(ctx, key); return err },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			err := mutate()
			require.Error(t, err)
			assert.True(t, hr.IsPersistence(err))
			assert.ErrorIs(t, err, errInjected)

			after, ok := f.cache.Peek(key)
			require.True(t, ok)
			assert.Equal(t, before, after)
		})
	}

	t.Run("new key stays absent", func(t *testing.T) {
		missing := hr.Key{SiteKey: "hdsky", TorrentID: "never"}
		_, err := f.store.MarkPenalized(ctx, missing)
		require.Error(t, err)
		_, ok := f.cache.Peek(missing)
		assert.False(t, ok)
	})

	f.repo.failTx = false
	stored, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, hr.StatusActive, stored.Status, "failed writes were rolled back")
}

func TestLookupReadThrough(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	key := hr.Key{SiteKey: "hdsky", TorrentID: "9"}

	_, err := f.store.Upsert(ctx, observation(key.SiteKey, key.TorrentID))
	require.NoError(t, err)
	f.cache.Purge()

	rec, err := f.store.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, hr.StatusActive, rec.Status)
	_, ok := f.cache.Peek(key)
	assert.True(t, ok, "miss populates cache")

	_, err = f.store.Lookup(ctx, hr.Key{SiteKey: "hdsky", TorrentID: "missing"})
	assert.True(t, hr.IsNotFound(err))
}

func TestReturnedRecordsDoNotAliasCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	key := hr.Key{SiteKey: "hdsky", TorrentID: "alias"}

	written, err := f.store.Upsert(ctx, observation(key.SiteKey, key.TorrentID))
	require.NoError(t, err)
	written.Status = hr.StatusViolated

	looked, err := f.store.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, hr.StatusActive, looked.Status)
	looked.Status = hr.StatusSafe

	f.cache.Purge()
	missed, err := f.store.Lookup(ctx, key)
	require.NoError(t, err)
	missed.Status = hr.StatusSafe

	report := f.store.CheckConsistency(ctx)
	assert.Equal(t, 0, report.Mismatches, "callers only ever hold copies")
}

func TestPlaceholderSiteID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.store.Upsert(ctx, observation("unknown-site", "1"))
	require.NoError(t, err)
	assert.Less(t, rec.SiteID, int64(0))
	assert.Equal(t, PlaceholderSiteID("unknown-site"), rec.SiteID)

	for _, k := range []string{"", "a", "b", "some-very-long-site-key"} {
		id := PlaceholderSiteID(k)
		assert.Less(t, id, int64(0))
		assert.GreaterOrEqual(t, id, -(int64(1) << 62))
		assert.Equal(t, id, PlaceholderSiteID(k), "deterministic")
	}
	assert.NotEqual(t, PlaceholderSiteID("a"), PlaceholderSiteID("b"))
}

func TestCleanupOldCases(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	resolvedOld := hr.Key{SiteKey: "hdsky", TorrentID: "old"}
	_, err := f.store.Upsert(ctx, observation(resolvedOld.SiteKey, resolvedOld.TorrentID))
	require.NoError(t, err)
	_, err = f.store.MarkSafe(ctx, resolvedOld, "done")
	require.NoError(t, err)
	_, err = f.store.MarkPenalized(ctx, hr.Key{SiteKey: "hdsky", TorrentID: "violated"})
	require.NoError(t, err)

	f.advance(31 * 24 * time.Hour)

	_, err = f.store.Upsert(ctx, observation("hdsky", "active"))
	require.NoError(t, err)
	recent := hr.Key{SiteKey: "hdsky", TorrentID: "recent"}
	_, err = f.store.Upsert(ctx, observation(recent.SiteKey, recent.TorrentID))
	require.NoError(t, err)
	_, err = f.store.MarkSafe(ctx, recent, "done")
	require.NoError(t, err)

	n, err := f.store.CleanupOldCases(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.store.Get(ctx, resolvedOld)
	assert.True(t, hr.IsNotFound(err))
	_, ok := f.cache.Peek(resolvedOld)
	assert.False(t, ok, "deleted rows are evicted")

	report := f.store.CheckConsistency(ctx)
	assert.Equal(t, 0, report.Mismatches)
	assert.Equal(t, 3, report.TotalChecked)
}

func TestReResolvedCaseSurvivesRetention(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	key := hr.Key{SiteKey: "hdsky", TorrentID: "again"}

	safe := observation(key.SiteKey, key.TorrentID)
	safe.Status = hr.StatusSafe
	first, err := f.store.Upsert(ctx, safe)
	require.NoError(t, err)
	require.NotNil(t, first.ResolvedAt)

	f.advance(60 * 24 * time.Hour)
	active, err := f.store.Upsert(ctx, observation(key.SiteKey, key.TorrentID))
	require.NoError(t, err)
	assert.Nil(t, active.ResolvedAt, "a live obligation has no resolved_at")

	f.advance(time.Hour)
	again, err := f.store.Upsert(ctx, safe)
	require.NoError(t, err)
	require.NotNil(t, again.ResolvedAt)
	assert.True(t, again.ResolvedAt.Equal(f.now))

	n, err := f.store.CleanupOldCases(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = f.store.Get(ctx, key)
	assert.NoError(t, err)
}

func TestResolvedAtTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	key := hr.Key{SiteKey: "hdsky", TorrentID: "trans"}

	_, err := f.store.Upsert(ctx, observation(key.SiteKey, key.TorrentID))
	require.NoError(t, err)
	safe, err := f.store.MarkSafe(ctx, key, "")
	require.NoError(t, err)
	resolvedAt := *safe.ResolvedAt

	// Staying resolved keeps the original stamp.
	f.advance(time.Hour)
	none := observation(key.SiteKey, key.TorrentID)
	none.Status = hr.StatusNone
	rec, err := f.store.Upsert(ctx, none)
	require.NoError(t, err)
	assert.True(t, rec.ResolvedAt.Equal(resolvedAt))

	f.advance(time.Hour)
	rec, err = f.store.MarkPenalized(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec.ResolvedAt)
}

func TestObservedAtKeepsUpdatedAtOnStoreClock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.store.Upsert(ctx, observation("hdsky", "fresh"))
	require.NoError(t, err)
	f.advance(time.Minute)

	backfill := observation("hdsky", "backfill")
	observed := f.now.Add(-48 * time.Hour)
	backfill.ObservedAt = &observed
	rec, err := f.store.Upsert(ctx, backfill)
	require.NoError(t, err)
	assert.True(t, rec.UpdatedAt.Equal(f.now))
	assert.True(t, rec.LastSeenAt.Equal(observed))

	site, err := f.store.ListBySite(ctx, "hdsky", 10)
	require.NoError(t, err)
	require.Len(t, site, 2)
	assert.Equal(t, "backfill", site[0].TorrentID, "most recently written first")
}

func TestRecordEmailNotice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	key := hr.Key{SiteKey: "hdsky", TorrentID: "mail"}

	_, err := f.store.RecordEmailNotice(ctx, key)
	assert.True(t, hr.IsNotFound(err))

	_, err = f.store.Upsert(ctx, observation(key.SiteKey, key.TorrentID))
	require.NoError(t, err)
	rec, err := f.store.RecordEmailNotice(ctx, key)
	require.NoError(t, err)
	assert.True(t, rec.LastEmailNoticeAt.Equal(f.now))
}

func TestListings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := f.store.Upsert(ctx, observation("hdsky", id))
		require.NoError(t, err)
		f.advance(time.Minute)
	}
	_, err := f.store.MarkSafe(ctx, hr.Key{SiteKey: "hdsky", TorrentID: "b"}, "")
	require.NoError(t, err)

	active, err := f.store.ListActiveForSite(ctx, "hdsky")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	safe, err := f.store.ListByStatus(ctx, hr.StatusSafe, 10)
	require.NoError(t, err)
	require.Len(t, safe, 1)
	assert.Equal(t, "b", safe[0].TorrentID)

	site, err := f.store.ListBySite(ctx, "hdsky", 2)
	require.NoError(t, err)
	require.Len(t, site, 2)
	assert.Equal(t, "b", site[0].TorrentID, "most recently updated first")

	_, err = f.store.ListByStatus(ctx, "BOGUS", 10)
	assert.ErrorIs(t, err, hr.ErrValidation)
}

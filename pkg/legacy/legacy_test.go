package legacy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrguard/hrguard/pkg/cache"
	"github.com/hrguard/hrguard/pkg/cases"
	"github.com/hrguard/hrguard/pkg/hr"
	"github.com/hrguard/hrguard/pkg/stores"
)

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		current hr.Status
		legacy  Status
		back    hr.Status
	}{
		{hr.StatusNone, StatusNone, hr.StatusNone},
		{hr.StatusActive, StatusActive, hr.StatusActive},
		{hr.StatusSafe, StatusFinished, hr.StatusSafe},
		{hr.StatusViolated, StatusFailed, hr.StatusViolated},
		{hr.StatusUnknown, StatusNone, hr.StatusNone},
	}

	for _, tt := range tests {
		t.Run(string(tt.current), func(t *testing.T) {
			l, err := ToLegacy(tt.current)
			require.NoError(t, err)
			assert.Equal(t, tt.legacy, l)

			back, err := FromLegacy(l)
			require.NoError(t, err)
			assert.Equal(t, tt.back, back)
		})
	}

	_, err := ToLegacy("BOGUS")
	assert.Error(t, err)
	_, err = FromLegacy("UNKNOWN")
	assert.Error(t, err, "UNKNOWN does not exist in the old vocabulary")
}

func newFacade(t *testing.T) *Facade {
	t.Helper()
	repo, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, repo.Init(ctx))
	require.NoError(t, repo.Migrate(ctx))
	t.Cleanup(func() { _ = repo.Close() })

	return NewFacade(cases.New(repo, cache.New(cache.Config{}, nil)))
}

func TestFacade(t *testing.T) {
	f := newFacade(t)
	ctx := context.Background()

	got, err := f.Get(ctx, "hdsky", "1")
	require.NoError(t, err)
	assert.Nil(t, got)

	deadline := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	rec, err := f.Upsert(ctx, "hdsky", "1", StatusActive, hr.Float(72), hr.Float(1), &deadline)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, rec.Status)

	_, err = f.Upsert(ctx, "hdsky", "2", StatusFinished, nil, nil, nil)
	require.NoError(t, err)

	got, err = f.Get(ctx, "hdsky", "2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusFinished, got.Status)

	active, err := f.ListActiveForSite(ctx, "hdsky")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "1", active[0].TorrentID)
	assert.True(t, active[0].Deadline.Equal(deadline))

	_, err = f.Upsert(ctx, "hdsky", "3", "UNKNOWN", nil, nil, nil)
	assert.ErrorIs(t, err, hr.ErrValidation)
}

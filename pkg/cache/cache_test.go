package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrguard/hrguard/pkg/hr"
)

type countingRecorder struct {
	hits, misses int
}

func (r *countingRecorder) RecordCacheLookup(hit bool) {
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func record(site, torrent string, status hr.Status) *hr.CaseRecord {
	return &hr.CaseRecord{SiteKey: site, TorrentID: torrent, Status: status, LifeStatus: hr.LifeAlive}
}

func TestGetSetDelete(t *testing.T) {
	rec := &countingRecorder{}
	c := New(Config{}, rec)
	key := hr.Key{SiteKey: "hdsky", TorrentID: "1"}

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(record("hdsky", "1", hr.StatusActive))
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, hr.StatusActive, got.Status)
	assert.Equal(t, 1, c.Len())

	c.Delete(key)
	_, ok = c.Get(key)
	assert.False(t, ok)

	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 2, rec.misses)
}

func TestValuesAreCopied(t *testing.T) {
	c := New(Config{}, nil)
	r := record("a", "1", hr.StatusActive)
	r.CurrentRatio = hr.Float(0.5)
	c.Set(r)

	r.Status = hr.StatusSafe
	*r.CurrentRatio = 9

	got, ok := c.Get(r.Key())
	require.True(t, ok)
	assert.Equal(t, hr.StatusActive, got.Status)
	assert.Equal(t, 0.5, *got.CurrentRatio)

	got.Status = hr.StatusViolated
	again, _ := c.Peek(r.Key())
	assert.Equal(t, hr.StatusActive, again.Status)
}

func TestBoundedEviction(t *testing.T) {
	c := New(Config{MaxEntries: 2}, nil)
	c.Set(record("a", "1", hr.StatusActive))
	c.Set(record("a", "2", hr.StatusActive))
	c.Set(record("a", "3", hr.StatusActive))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Peek(hr.Key{SiteKey: "a", TorrentID: "1"})
	assert.False(t, ok, "oldest entry evicted")
}

func TestTTLExpiry(t *testing.T) {
	c := New(Config{TTL: 20 * time.Millisecond}, nil)
	c.Set(record("a", "1", hr.StatusActive))

	assert.Eventually(t, func() bool {
		_, ok := c.Peek(hr.Key{SiteKey: "a", TorrentID: "1"})
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestSnapshot(t *testing.T) {
	c := New(Config{}, nil)
	c.Set(record("a", "1", hr.StatusActive))
	c.Set(record("b", "2", hr.StatusSafe))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, hr.StatusSafe, snap[hr.Key{SiteKey: "b", TorrentID: "2"}].Status)

	c.Purge()
	assert.Len(t, snap, 2, "snapshot is independent of the cache")
	assert.Zero(t, c.Len())
}

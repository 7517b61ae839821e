// Package cache is the process-local accelerator for case lookups.
// It is never authoritative: every value it holds was produced by a
// committed store write or a store read.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hrguard/hrguard/pkg/hr"
)

// HitRecorder receives hit/miss notifications. *telemetry.Metrics satisfies it.
type HitRecorder interface {
	RecordCacheLookup(hit bool)
}

// Config controls cache bounds. Zero values mean unbounded and non-expiring.
type Config struct {
	MaxEntries int
	TTL        time.Duration
}

// CaseCache is an expiring LRU of case records keyed by hr.Key.
// Values are cloned on the way in and out so callers never share memory
// with the cache.
type CaseCache struct {
	lru     *expirable.LRU[hr.Key, *hr.CaseRecord]
	metrics HitRecorder
}

// New creates a cache. metrics may be nil.
func New(cfg Config, metrics HitRecorder) *CaseCache {
	return &CaseCache{
		lru:     expirable.NewLRU[hr.Key, *hr.CaseRecord](cfg.MaxEntries, nil, cfg.TTL),
		metrics: metrics,
	}
}

// Get returns a copy of the cached record for key.
func (c *CaseCache) Get(key hr.Key) (*hr.CaseRecord, bool) {
	v, ok := c.lru.Get(key)
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(ok)
	}
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// Peek returns a copy of the cached record without touching recency or metrics.
func (c *CaseCache) Peek(key hr.Key) (*hr.CaseRecord, bool) {
	v, ok := c.lru.Peek(key)
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// Set stores a copy of rec under its key.
func (c *CaseCache) Set(rec *hr.CaseRecord) {
	if rec == nil {
		return
	}
	c.lru.Add(rec.Key(), rec.Clone())
}

// Delete evicts key.
func (c *CaseCache) Delete(key hr.Key) {
	c.lru.Remove(key)
}

// Len returns the number of live entries.
func (c *CaseCache) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *CaseCache) Purge() {
	c.lru.Purge()
}

// Snapshot copies the current entries. The cache is only locked entry by
// entry, so concurrent writers may land before or after the snapshot.
func (c *CaseCache) Snapshot() map[hr.Key]*hr.CaseRecord {
	keys := c.lru.Keys()
	out := make(map[hr.Key]*hr.CaseRecord, len(keys))
	for _, k := range keys {
		if v, ok := c.lru.Peek(k); ok {
			out[k] = v.Clone()
		}
	}
	return out
}

package config

import (
	"sync/atomic"
)

// Store holds the active settings snapshot. Readers take a snapshot once per
// operation so they see one consistent global/site/subscription triple.
type Store struct {
	current atomic.Pointer[Settings]
}

// NewStore creates a store holding s, or the defaults when s is nil.
func NewStore(s *Settings) *Store {
	st := &Store{}
	if s == nil {
		s = Default()
	}
	st.current.Store(s)
	return st
}

// Snapshot returns the active settings. Callers must not mutate it.
func (st *Store) Snapshot() *Settings {
	return st.current.Load()
}

// Swap installs s and returns the previous snapshot.
func (st *Store) Swap(s *Settings) *Settings {
	return st.current.Swap(s)
}

// SiteID resolves a site key through the active catalog.
func (st *Store) SiteID(siteKey string) (int64, bool) {
	return st.Snapshot().SiteID(siteKey)
}

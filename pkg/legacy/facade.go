package legacy

import (
	"context"
	"time"

	"github.com/hrguard/hrguard/pkg/hr"
)

// CaseStore is the subset of cases.Store the facade needs.
type CaseStore interface {
	Get(ctx context.Context, key hr.Key) (*hr.CaseRecord, error)
	Upsert(ctx context.Context, obs *hr.Observation) (*hr.CaseRecord, error)
	ListActiveForSite(ctx context.Context, siteKey string) ([]*hr.CaseRecord, error)
}

// Record is the old tracker's view of a case.
type Record struct {
	SiteKey           string     `json:"site_key"`
	TorrentID         string     `json:"torrent_id"`
	Status            Status     `json:"status"`
	RequiredSeedHours *float64   `json:"required_seed_hours,omitempty"`
	SeededHours       *float64   `json:"seeded_hours,omitempty"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Facade adapts a CaseStore to the old tracker API.
type Facade struct {
	store CaseStore
}

// NewFacade wraps store.
func NewFacade(store CaseStore) *Facade {
	return &Facade{store: store}
}

// Get returns the case or nil when it does not exist, as the old tracker did.
func (f *Facade) Get(ctx context.Context, siteKey, torrentID string) (*Record, error) {
	rec, err := f.store.Get(ctx, hr.Key{SiteKey: siteKey, TorrentID: torrentID})
	if hr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toRecord(rec)
}

// Upsert records an observation expressed in the old vocabulary.
func (f *Facade) Upsert(ctx context.Context, siteKey, torrentID string, status Status, requiredHours, seededHours *float64, deadline *time.Time) (*Record, error) {
	s, err := FromLegacy(status)
	if err != nil {
		return nil, hr.Validation("legacy.upsert", err.Error())
	}

	rec, err := f.store.Upsert(ctx, &hr.Observation{
		SiteKey:       siteKey,
		TorrentID:     torrentID,
		Status:        s,
		RequiredHours: requiredHours,
		SeededHours:   seededHours,
		Deadline:      deadline,
	})
	if err != nil {
		return nil, err
	}
	return toRecord(rec)
}

// ListActiveForSite returns the site's live obligations in the old vocabulary.
func (f *Facade) ListActiveForSite(ctx context.Context, siteKey string) ([]*Record, error) {
	recs, err := f.store.ListActiveForSite(ctx, siteKey)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		r, err := toRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func toRecord(rec *hr.CaseRecord) (*Record, error) {
	status, err := ToLegacy(rec.Status)
	if err != nil {
		return nil, err
	}
	return &Record{
		SiteKey:           rec.SiteKey,
		TorrentID:         rec.TorrentID,
		Status:            status,
		RequiredSeedHours: rec.RequirementHours,
		SeededHours:       rec.SeededHours,
		Deadline:          rec.Deadline,
		UpdatedAt:         rec.UpdatedAt,
	}, nil
}

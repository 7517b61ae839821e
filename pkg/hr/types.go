package hr

import (
	"fmt"
	"math"
	"time"
)

// Status is the HR compliance status of a case.
type Status string

const (
	StatusNone     Status = "NONE"
	StatusActive   Status = "ACTIVE"
	StatusSafe     Status = "SAFE"
	StatusViolated Status = "VIOLATED"
	StatusUnknown  Status = "UNKNOWN"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusSafe, StatusViolated, StatusUnknown:
		return true
	}
	return false
}

// ParseStatus parses a status name, case-sensitive.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown hr status: %q", v)
	}
	return s, nil
}

// LifeStatus tracks whether the underlying torrent payload still exists.
type LifeStatus string

const (
	LifeAlive   LifeStatus = "ALIVE"
	LifeDeleted LifeStatus = "DELETED"
)

// Key identifies a case. At most one record exists per key.
type Key struct {
	SiteKey   string `json:"site_key"`
	TorrentID string `json:"torrent_id"`
}

// String renders the key as "site_key/torrent_id".
func (k Key) String() string {
	return k.SiteKey + "/" + k.TorrentID
}

// CaseRecord is one torrent's HR obligation on one site.
type CaseRecord struct {
	ID        int64  `json:"id"`
	SiteID    int64  `json:"site_id"`
	SiteKey   string `json:"site_key"`
	TorrentID string `json:"torrent_id"`
	InfoHash  string `json:"infohash,omitempty"`

	Status     Status     `json:"status"`
	LifeStatus LifeStatus `json:"life_status"`

	RequirementRatio *float64 `json:"requirement_ratio,omitempty"`
	RequirementHours *float64 `json:"requirement_hours,omitempty"`
	SeededHours      *float64 `json:"seeded_hours,omitempty"`
	CurrentRatio     *float64 `json:"current_ratio,omitempty"`

	EnteredAt         *time.Time `json:"entered_at,omitempty"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	FirstSeenAt       *time.Time `json:"first_seen_at,omitempty"`
	LastSeenAt        *time.Time `json:"last_seen_at,omitempty"`
	PenalizedAt       *time.Time `json:"penalized_at,omitempty"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	LastEmailNoticeAt *time.Time `json:"last_email_notice_at,omitempty"`

	Notes string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the record's identity key.
func (c *CaseRecord) Key() Key {
	return Key{SiteKey: c.SiteKey, TorrentID: c.TorrentID}
}

// IsActiveHR reports whether the obligation is live: ACTIVE and the payload still ALIVE.
func (c *CaseRecord) IsActiveHR() bool {
	return c.Status == StatusActive && c.LifeStatus == LifeAlive
}

// IsSafe reports whether the case imposes no current obligation.
func (c *CaseRecord) IsSafe() bool {
	switch c.Status {
	case StatusSafe, StatusNone, StatusUnknown:
		return true
	}
	return false
}

// HoursRemaining returns the hours left until the deadline, floored at zero.
// It returns nil when no deadline is known.
func (c *CaseRecord) HoursRemaining(now time.Time) *float64 {
	if c.Deadline == nil {
		return nil
	}
	h := math.Max(0, c.Deadline.Sub(now).Hours())
	return &h
}

// ProgressPercentage returns seeded/required hours as a percentage capped at 100.
// It returns nil when there is no positive hour requirement.
func (c *CaseRecord) ProgressPercentage() *float64 {
	if c.RequirementHours == nil || *c.RequirementHours <= 0 {
		return nil
	}
	seeded := 0.0
	if c.SeededHours != nil {
		seeded = *c.SeededHours
	}
	p := math.Min(100, seeded / *c.RequirementHours * 100)
	if p < 0 {
		p = 0
	}
	return &p
}

// Clone returns a deep copy so callers can hold a snapshot independent of later mutations.
func (c *CaseRecord) Clone() *CaseRecord {
	if c == nil {
		return nil
	}
	cp := *c
	cp.RequirementRatio = cloneFloat(c.RequirementRatio)
	cp.RequirementHours = cloneFloat(c.RequirementHours)
	cp.SeededHours = cloneFloat(c.SeededHours)
	cp.CurrentRatio = cloneFloat(c.CurrentRatio)
	cp.EnteredAt = cloneTime(c.EnteredAt)
	cp.Deadline = cloneTime(c.Deadline)
	cp.FirstSeenAt = cloneTime(c.FirstSeenAt)
	cp.LastSeenAt = cloneTime(c.LastSeenAt)
	cp.PenalizedAt = cloneTime(c.PenalizedAt)
	cp.DeletedAt = cloneTime(c.DeletedAt)
	cp.ResolvedAt = cloneTime(c.ResolvedAt)
	cp.LastEmailNoticeAt = cloneTime(c.LastEmailNoticeAt)
	return &cp
}

// Observation is an upstream report about a torrent's HR obligation.
// Nil fields leave the stored value unchanged.
type Observation struct {
	SiteKey   string `json:"site_key" validate:"required"`
	TorrentID string `json:"torrent_id" validate:"required"`
	InfoHash  string `json:"infohash,omitempty"`

	// Status defaults to ACTIVE when empty: an observation reports a live obligation.
	Status Status `json:"status,omitempty"`

	RequirementRatio *float64   `json:"requirement_ratio,omitempty"`
	RequiredHours    *float64   `json:"required_hours,omitempty"`
	SeededHours      *float64   `json:"seeded_hours,omitempty"`
	CurrentRatio     *float64   `json:"current_ratio,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`

	// ObservedAt defaults to the store's clock.
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

// Key returns the observation's case key.
func (o *Observation) Key() Key {
	return Key{SiteKey: o.SiteKey, TorrentID: o.TorrentID}
}

// Float returns a pointer to v. Handy for building observations.
func Float(v float64) *float64 {
	return &v
}

// Time returns a pointer to t.
func Time(t time.Time) *time.Time {
	return &t
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	x := *t
	return &x
}

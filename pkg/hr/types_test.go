package hr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivedFlags(t *testing.T) {
	tests := []struct {
		name       string
		status     Status
		life       LifeStatus
		wantActive bool
		wantSafe   bool
	}{
		{"active alive", StatusActive, LifeAlive, true, false},
		{"active deleted", StatusActive, LifeDeleted, false, false},
		{"safe", StatusSafe, LifeAlive, false, true},
		{"none", StatusNone, LifeAlive, false, true},
		{"unknown", StatusUnknown, LifeDeleted, false, true},
		{"violated", StatusViolated, LifeAlive, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &CaseRecord{Status: tt.status, LifeStatus: tt.life}
			assert.Equal(t, tt.wantActive, c.IsActiveHR())
			assert.Equal(t, tt.wantSafe, c.IsSafe())
		})
	}
}

func TestHoursRemaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	c := &CaseRecord{}
	assert.Nil(t, c.HoursRemaining(now))

	c.Deadline = Time(now.Add(36 * time.Hour))
	require.NotNil(t, c.HoursRemaining(now))
	assert.InDelta(t, 36.0, *c.HoursRemaining(now), 1e-9)

	c.Deadline = Time(now.Add(-5 * time.Hour))
	assert.Equal(t, 0.0, *c.HoursRemaining(now))
}

func TestProgressPercentage(t *testing.T) {
	c := &CaseRecord{}
	assert.Nil(t, c.ProgressPercentage())

	c.RequirementHours = Float(0)
	assert.Nil(t, c.ProgressPercentage())

	c.RequirementHours = Float(72)
	assert.Equal(t, 0.0, *c.ProgressPercentage())

	c.SeededHours = Float(36)
	assert.InDelta(t, 50.0, *c.ProgressPercentage(), 1e-9)

	c.SeededHours = Float(200)
	assert.Equal(t, 100.0, *c.ProgressPercentage())
}

func TestCloneIsDeep(t *testing.T) {
	orig := &CaseRecord{
		SiteKey:      "hdsky",
		TorrentID:    "42",
		CurrentRatio: Float(0.4),
		EnteredAt:    Time(time.Now()),
	}
	cp := orig.Clone()
	*cp.CurrentRatio = 9
	*cp.EnteredAt = time.Time{}

	assert.Equal(t, 0.4, *orig.CurrentRatio)
	assert.False(t, orig.EnteredAt.IsZero())
	assert.Nil(t, (*CaseRecord)(nil).Clone())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("VIOLATED")
	require.NoError(t, err)
	assert.Equal(t, StatusViolated, s)

	_, err = ParseStatus("finished")
	assert.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	key := Key{SiteKey: "ourbits", TorrentID: "7"}

	nf := NotFound("mark_safe", key)
	wrapped := fmt.Errorf("outer: %w", nf)
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsPersistence(wrapped))
	assert.Contains(t, nf.Error(), "ourbits/7")

	cause := errors.New("disk full")
	pe := Persistence("upsert", key, cause)
	assert.True(t, IsPersistence(pe))
	assert.ErrorIs(t, pe, cause)
	assert.Equal(t, ErrorClassPersistence, ClassOf(pe))
	assert.Equal(t, ErrorClass(""), ClassOf(cause))
}

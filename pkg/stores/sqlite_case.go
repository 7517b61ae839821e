package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hrguard/hrguard/pkg/hr"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

// sqliteTx implements CaseTx on top of a *sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetCase(ctx context.Context, key hr.Key) (*hr.CaseRecord, error) {
	return getCase(ctx, t.tx, key)
}

// InsertCase creates a new case row and sets c.ID
func (t *sqliteTx) InsertCase(ctx context.Context, c *hr.CaseRecord) error {
	query := `
		INSERT INTO hr_cases (
			site_id, site_key, torrent_id, infohash, status, life_status,
			requirement_ratio, requirement_hours, seeded_hours, current_ratio,
			entered_at, deadline, first_seen_at, last_seen_at, penalized_at, deleted_at,
			resolved_at, last_email_notice_at, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := t.tx.ExecContext(ctx, query,
		c.SiteID,
		c.SiteKey,
		c.TorrentID,
		nullString(c.InfoHash),
		string(c.Status),
		string(c.LifeStatus),
		nullFloat(c.RequirementRatio),
		nullFloat(c.RequirementHours),
		nullFloat(c.SeededHours),
		nullFloat(c.CurrentRatio),
		formatTimePtr(c.EnteredAt),
		formatTimePtr(c.Deadline),
		formatTimePtr(c.FirstSeenAt),
		formatTimePtr(c.LastSeenAt),
		formatTimePtr(c.PenalizedAt),
		formatTimePtr(c.DeletedAt),
		formatTimePtr(c.ResolvedAt),
		formatTimePtr(c.LastEmailNoticeAt),
		c.Notes,
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get case ID: %w", err)
	}

	c.ID = id
	return nil
}

// UpdateCase overwrites every mutable column of an existing case row
func (t *sqliteTx) UpdateCase(ctx context.Context, c *hr.CaseRecord) error {
	query := `
		UPDATE hr_cases SET
			site_id = ?, infohash = ?, status = ?, life_status = ?,
			requirement_ratio = ?, requirement_hours = ?, seeded_hours = ?, current_ratio = ?,
			entered_at = ?, deadline = ?, first_seen_at = ?, last_seen_at = ?,
			penalized_at = ?, deleted_at = ?, resolved_at = ?, last_email_notice_at = ?,
			notes = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := t.tx.ExecContext(ctx, query,
		c.SiteID,
		nullString(c.InfoHash),
		string(c.Status),
		string(c.LifeStatus),
		nullFloat(c.RequirementRatio),
		nullFloat(c.RequirementHours),
		nullFloat(c.SeededHours),
		nullFloat(c.CurrentRatio),
		formatTimePtr(c.EnteredAt),
		formatTimePtr(c.Deadline),
		formatTimePtr(c.FirstSeenAt),
		formatTimePtr(c.LastSeenAt),
		formatTimePtr(c.PenalizedAt),
		formatTimePtr(c.DeletedAt),
		formatTimePtr(c.ResolvedAt),
		formatTimePtr(c.LastEmailNoticeAt),
		c.Notes,
		formatTime(c.UpdatedAt),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return hr.NotFound("update", c.Key())
	}

	return nil
}

func getCase(ctx context.Context, q queryer, key hr.Key) (*hr.CaseRecord, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM hr_cases
		WHERE site_key = ? AND torrent_id = ?
	`

	c, err := scanCase(q.QueryRowContext(ctx, query, key.SiteKey, key.TorrentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, hr.NotFound("get", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}

	return c, nil
}

func scanCase(row scanner) (*hr.CaseRecord, error) {
	c := &hr.CaseRecord{}
	var (
		infoHash                                                  sql.NullString
		status, life                                              string
		reqRatio, reqHours, seeded, ratio                         sql.NullFloat64
		entered, deadline, firstSeen, lastSeen, penalized, delAt sql.NullString
		resolved, emailed                                         sql.NullString
		createdAt, updatedAt                                      string
	)

	err := row.Scan(
		&c.ID,
		&c.SiteID,
		&c.SiteKey,
		&c.TorrentID,
		&infoHash,
		&status,
		&life,
		&reqRatio,
		&reqHours,
		&seeded,
		&ratio,
		&entered,
		&deadline,
		&firstSeen,
		&lastSeen,
		&penalized,
		&delAt,
		&resolved,
		&emailed,
		&c.Notes,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.InfoHash = infoHash.String
	c.Status = hr.Status(status)
	c.LifeStatus = hr.LifeStatus(life)
	c.RequirementRatio = floatPtr(reqRatio)
	c.RequirementHours = floatPtr(reqHours)
	c.SeededHours = floatPtr(seeded)
	c.CurrentRatio = floatPtr(ratio)

	timestamps := []struct {
		src sql.NullString
		dst **time.Time
	}{
		{entered, &c.EnteredAt},
		{deadline, &c.Deadline},
		{firstSeen, &c.FirstSeenAt},
		{lastSeen, &c.LastSeenAt},
		{penalized, &c.PenalizedAt},
		{delAt, &c.DeletedAt},
		{resolved, &c.ResolvedAt},
		{emailed, &c.LastEmailNoticeAt},
	}
	for _, ts := range timestamps {
		if !ts.src.Valid {
			continue
		}
		t, err := parseTime(ts.src.String)
		if err != nil {
			return nil, err
		}
		*ts.dst = &t
	}

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		// Rows written by other tools may carry plain RFC 3339.
		if t2, err2 := time.Parse(time.RFC3339Nano, v); err2 == nil {
			return t2.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return t, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

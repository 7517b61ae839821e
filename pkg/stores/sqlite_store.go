package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/hrguard/hrguard/pkg/hr"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so that lexical order in SQLite equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const caseColumns = `id, site_id, site_key, torrent_id, infohash, status, life_status,
	requirement_ratio, requirement_hours, seeded_hours, current_ratio,
	entered_at, deadline, first_seen_at, last_seen_at, penalized_at, deleted_at,
	resolved_at, last_email_notice_at, notes, created_at, updated_at`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own private database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{"_pragma=busy_timeout(5000)", "_pragma=foreign_keys(1)", "_txlock=immediate"}
	if !isMemory(s.path) {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	sep := "?"
	if strings.Contains(s.path, "?") {
		sep = "&"
	}
	dsn := s.path + sep + strings.Join(pragmas, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a transaction. The transaction is rolled back when fn
// fails or panics and committed otherwise.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx CaseTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetCase retrieves a case by key
func (s *SQLiteStore) GetCase(ctx context.Context, key hr.Key) (*hr.CaseRecord, error) {
	return getCase(ctx, s.db, key)
}

// ListActiveForSite lists ACTIVE, ALIVE cases for a site, most urgent deadline first.
func (s *SQLiteStore) ListActiveForSite(ctx context.Context, siteKey string) ([]*hr.CaseRecord, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM hr_cases
		WHERE site_key = ? AND status = 'ACTIVE' AND life_status = 'ALIVE'
		ORDER BY deadline IS NULL, deadline ASC, id ASC
	`

	return s.listCases(ctx, "active cases", query, siteKey)
}

// ListByStatus lists cases with the given status, most recently updated first.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status hr.Status, limit int) ([]*hr.CaseRecord, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM hr_cases
		WHERE status = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT ?
	`

	return s.listCases(ctx, "cases by status", query, string(status), normalizeLimit(limit))
}

// ListBySite lists cases for a site, most recently updated first.
func (s *SQLiteStore) ListBySite(ctx context.Context, siteKey string, limit int) ([]*hr.CaseRecord, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM hr_cases
		WHERE site_key = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT ?
	`

	return s.listCases(ctx, "cases by site", query, siteKey, normalizeLimit(limit))
}

// ListAll returns every case row. Intended for background sweeps only.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]*hr.CaseRecord, error) {
	query := `SELECT ` + caseColumns + ` FROM hr_cases ORDER BY id ASC`

	return s.listCases(ctx, "all cases", query)
}

// Statistics aggregates row counts by status and by site.
func (s *SQLiteStore) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		ByStatus: make(map[hr.Status]int),
		BySite:   make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM hr_cases GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cases by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.ByStatus[hr.Status(status)] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT site_key, COUNT(*) FROM hr_cases GROUP BY site_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cases by site: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var site string
		var n int
		if err := rows.Scan(&site, &n); err != nil {
			return nil, fmt.Errorf("failed to scan site count: %w", err)
		}
		stats.BySite[site] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating site counts: %w", err)
	}

	return stats, nil
}

// DeleteResolvedBefore deletes SAFE and NONE cases whose resolved_at is older than cutoff.
func (s *SQLiteStore) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM hr_cases
		WHERE status IN ('SAFE', 'NONE')
		  AND resolved_at IS NOT NULL
		  AND resolved_at < ?
	`

	result, err := s.db.ExecContext(ctx, query, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved cases: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// CreateAuditEntry records a policy decision
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO decision_audit (
			decision_id, action, site_key, torrent_id, initiator,
			verdict, reason_code, message, confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.DecisionID,
		entry.Action,
		entry.SiteKey,
		entry.TorrentID,
		entry.Initiator,
		entry.Verdict,
		entry.ReasonCode,
		entry.Message,
		entry.Confidence,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists decisions with optional filters, newest first
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, siteKey *string, verdict *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, decision_id, action, site_key, torrent_id, initiator,
		       verdict, reason_code, message, confidence, created_at
		FROM decision_audit
		WHERE (? IS NULL OR site_key = ?)
		  AND (? IS NULL OR verdict = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, siteKey, siteKey, verdict, verdict, normalizeLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		var createdAt string
		err := rows.Scan(
			&entry.ID,
			&entry.DecisionID,
			&entry.Action,
			&entry.SiteKey,
			&entry.TorrentID,
			&entry.Initiator,
			&entry.Verdict,
			&entry.ReasonCode,
			&entry.Message,
			&entry.Confidence,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

func (s *SQLiteStore) listCases(ctx context.Context, what, query string, args ...any) ([]*hr.CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}
	defer rows.Close()

	cases := []*hr.CaseRecord{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		cases = append(cases, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", what, err)
	}

	return cases, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

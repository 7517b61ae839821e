package stores

import (
	"context"
	"time"

	"github.com/hrguard/hrguard/pkg/hr"
)

// DefaultListLimit bounds list scans when the caller passes a non-positive limit.
const DefaultListLimit = 100

// Statistics aggregates the case table for dashboards.
type Statistics struct {
	ByStatus map[hr.Status]int `json:"by_status"`
	BySite   map[string]int    `json:"by_site"`
	Total    int               `json:"total"`
}

// AuditEntry is one persisted policy decision.
type AuditEntry struct {
	ID         int64     `json:"id"`
	DecisionID string    `json:"decision_id"`
	Action     string    `json:"action"`
	SiteKey    string    `json:"site_key"`
	TorrentID  string    `json:"torrent_id"`
	Initiator  string    `json:"initiator"` // user or runner
	Verdict    string    `json:"verdict"`
	ReasonCode string    `json:"reason_code"`
	Message    string    `json:"message"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// CaseTx is the set of case operations available inside a transaction.
type CaseTx interface {
	// GetCase returns hr.ErrNotFound when the key has no row.
	GetCase(ctx context.Context, key hr.Key) (*hr.CaseRecord, error)
	// InsertCase inserts c and sets c.ID.
	InsertCase(ctx context.Context, c *hr.CaseRecord) error
	UpdateCase(ctx context.Context, c *hr.CaseRecord) error
}

// CaseRepository defines the persistence contract for HR cases.
type CaseRepository interface {
	// GetCase returns hr.ErrNotFound when the key has no row.
	GetCase(ctx context.Context, key hr.Key) (*hr.CaseRecord, error)

	// WithTx runs fn in a single transaction, committing only if fn returns nil.
	WithTx(ctx context.Context, fn func(tx CaseTx) error) error

	ListActiveForSite(ctx context.Context, siteKey string) ([]*hr.CaseRecord, error)
	ListByStatus(ctx context.Context, status hr.Status, limit int) ([]*hr.CaseRecord, error)
	ListBySite(ctx context.Context, siteKey string, limit int) ([]*hr.CaseRecord, error)
	ListAll(ctx context.Context) ([]*hr.CaseRecord, error)
	Statistics(ctx context.Context) (*Statistics, error)

	// DeleteResolvedBefore removes SAFE/NONE rows resolved before cutoff.
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore persists policy decisions.
type AuditStore interface {
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, siteKey *string, verdict *string, limit, offset int) ([]*AuditEntry, error)
}

// Store is the full persistence layer.
type Store interface {
	CaseRepository
	AuditStore

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	HealthCheck(ctx context.Context) error
}

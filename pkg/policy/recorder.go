package policy

import (
	"context"
	"fmt"

	"github.com/hrguard/hrguard/pkg/stores"
)

// Recorder persists decisions for later audit.
type Recorder interface {
	Record(ctx context.Context, c *Context, d *Decision) error
}

// AuditRecorder writes decisions to the decision_audit table.
type AuditRecorder struct {
	store stores.AuditStore
}

// NewAuditRecorder creates a recorder backed by store.
func NewAuditRecorder(store stores.AuditStore) *AuditRecorder {
	return &AuditRecorder{store: store}
}

// Record implements Recorder.
func (r *AuditRecorder) Record(ctx context.Context, c *Context, d *Decision) error {
	entry := &stores.AuditEntry{
		DecisionID: d.DecisionID,
		Action:     string(c.Action),
		SiteKey:    c.SiteKey,
		TorrentID:  c.TorrentID,
		Initiator:  string(c.Trigger),
		Verdict:    string(d.Verdict),
		ReasonCode: string(d.ReasonCode),
		Message:    d.Message,
		Confidence: d.Confidence,
		CreatedAt:  d.EvaluatedAt,
	}
	if err := r.store.CreateAuditEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to record decision %s: %w", d.DecisionID, err)
	}
	return nil
}

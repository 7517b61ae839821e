package policy

import (
	"time"

	"github.com/hrguard/hrguard/pkg/hr"
)

// Action is an operation that needs authorization.
type Action string

const (
	ActionDownload       Action = "download"
	ActionDelete         Action = "delete"
	ActionMove           Action = "move"
	ActionUploadCleanup  Action = "upload_cleanup"
	ActionGenerateSTRM   Action = "generate_strm"
	ActionScrapeMetadata Action = "scrape_metadata"
)

// AlwaysSafe reports whether the action never touches the seeded payload
// or its tracker-visible state.
func (a Action) AlwaysSafe() bool {
	switch a {
	case ActionGenerateSTRM, ActionScrapeMetadata:
		return true
	}
	return false
}

// Trigger identifies who initiated an action.
type Trigger string

const (
	TriggerUser   Trigger = "user"
	TriggerRunner Trigger = "runner"
)

// Verdict is the outcome of an evaluation.
type Verdict string

const (
	VerdictAllow          Verdict = "ALLOW"
	VerdictDeny           Verdict = "DENY"
	VerdictRequireConfirm Verdict = "REQUIRE_CONFIRM"
)

// ReasonCode explains a verdict.
type ReasonCode string

const (
	ReasonSettingsDisabled    ReasonCode = "SETTINGS_DISABLED"
	ReasonSafe                ReasonCode = "SAFE"
	ReasonHRActiveDownload    ReasonCode = "HR_ACTIVE_DOWNLOAD"
	ReasonHRActiveDelete      ReasonCode = "HR_ACTIVE_DELETE"
	ReasonHRActiveCleanup     ReasonCode = "HR_ACTIVE_CLEANUP"
	ReasonHRMoveSuggestCopy   ReasonCode = "HR_MOVE_SUGGEST_COPY"
	ReasonHRSafe              ReasonCode = "HR_SAFE"
	ReasonSubscriptionNoHR    ReasonCode = "SUBSCRIPTION_NO_HR"
	ReasonSiteHighlySensitive ReasonCode = "SITE_HIGHLY_SENSITIVE"
	ReasonLowRatioWarning     ReasonCode = "LOW_RATIO_WARNING"
	ReasonErrorOccurred       ReasonCode = "ERROR_OCCURRED"
)

// SuggestCopy is the alternative offered when a move would break seeding.
const SuggestCopy = "copy instead of move"

// Context describes a proposed action.
type Context struct {
	Action    Action  `json:"action"`
	SiteKey   string  `json:"site_key"`
	TorrentID string  `json:"torrent_id"`
	Trigger   Trigger `json:"trigger"`

	// Case is the HR state at evaluation time. When nil and the engine has a
	// case resolver, the engine looks it up by SiteKey and TorrentID.
	Case *hr.CaseRecord `json:"case,omitempty"`

	SubscriptionID string `json:"subscription_id,omitempty"`

	// Move-only fields.
	PathFrom           string `json:"path_from,omitempty"`
	PathTo             string `json:"path_to,omitempty"`
	ChangesSeedingPath bool   `json:"changes_seeding_path,omitempty"`
}

// Key returns the case key the context refers to.
func (c *Context) Key() hr.Key {
	return hr.Key{SiteKey: c.SiteKey, TorrentID: c.TorrentID}
}

// Decision is the engine's answer for one Context.
type Decision struct {
	DecisionID string     `json:"decision_id"`
	Verdict    Verdict    `json:"decision"`
	ReasonCode ReasonCode `json:"reason_code"`
	Message    string     `json:"message"`

	// Confidence is 1 for rule outcomes and 0.5 for fail-open results.
	Confidence float64 `json:"confidence"`

	RequiresUserAction bool `json:"requires_user_action"`

	// AutoApproveAfter is when an unanswered confirmation may be applied.
	AutoApproveAfter *time.Time `json:"auto_approve_after,omitempty"`

	SuggestedAlternative string `json:"suggested_alternative,omitempty"`

	CaseSnapshot *hr.CaseRecord `json:"case_snapshot,omitempty"`

	// Rule is the name of the rule that produced the decision.
	Rule string `json:"rule,omitempty"`

	EvaluatedAt      time.Time `json:"evaluated_at"`
	ProcessingTimeMS float64   `json:"processing_time_ms"`
}

// Allowed reports whether the action may proceed without confirmation.
func (d *Decision) Allowed() bool {
	return d.Verdict == VerdictAllow
}

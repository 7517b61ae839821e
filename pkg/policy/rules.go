package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/hrguard/hrguard/pkg/config"
	"github.com/hrguard/hrguard/pkg/hr"
)

// Input is everything a rule may look at. It is assembled once per evaluation.
type Input struct {
	Context      *Context
	Case         *hr.CaseRecord
	Global       config.Global
	Site         *config.Site
	Subscription *config.Subscription
	Now          time.Time
}

// Outcome is the part of a Decision a rule decides.
type Outcome struct {
	Verdict              Verdict
	Reason               ReasonCode
	Message              string
	RequiresUserAction   bool
	AutoApproveAfter     *time.Time
	SuggestedAlternative string
}

// Rule is one predicate and the outcome it produces. Rules are evaluated in
// order and the first match wins.
//
// A rule that needs the request context or can fail sets Eval instead of
// Matches and Decide. Eval returns a nil Outcome when it does not match.
type Rule struct {
	Name    string
	Matches func(in *Input) bool
	Decide  func(in *Input) Outcome
	Eval    func(ctx context.Context, in *Input) (*Outcome, error)
}

func (r Rule) apply(ctx context.Context, in *Input) (*Outcome, error) {
	if r.Eval != nil {
		return r.Eval(ctx, in)
	}
	if !r.Matches(in) {
		return nil, nil
	}
	out := r.Decide(in)
	return &out, nil
}

// DefaultRules returns the standard rule chain.
func DefaultRules() []Rule {
	return []Rule{
		killSwitchRule,
		alwaysSafeRule,
		activeHardStopRule,
		resolvedMoveRule,
		subscriptionNoHRRule,
		siteSensitivityRule,
		lowRatioDeleteRule,
		defaultAllowRule,
	}
}

var killSwitchRule = Rule{
	Name:    "kill_switch",
	Matches: func(in *Input) bool { return !in.Global.EnableHRProtection },
	Decide: func(*Input) Outcome {
		return Outcome{
			Verdict: VerdictAllow,
			Reason:  ReasonSettingsDisabled,
			Message: "HR protection is disabled",
		}
	},
}

var alwaysSafeRule = Rule{
	Name:    "always_safe_action",
	Matches: func(in *Input) bool { return in.Context.Action.AlwaysSafe() },
	Decide: func(in *Input) Outcome {
		return Outcome{
			Verdict: VerdictAllow,
			Reason:  ReasonSafe,
			Message: fmt.Sprintf("%s does not affect seeding", in.Context.Action),
		}
	},
}

var activeHardStopRule = Rule{
	Name: "active_hr_hard_stop",
	Matches: func(in *Input) bool {
		if in.Case == nil || in.Case.Status != hr.StatusActive {
			return false
		}
		switch in.Context.Action {
		case ActionDownload, ActionDelete, ActionUploadCleanup:
			return true
		case ActionMove:
			return in.Context.ChangesSeedingPath
		}
		return false
	},
	Decide: func(in *Input) Outcome {
		switch in.Context.Action {
		case ActionDownload:
			return Outcome{
				Verdict: VerdictDeny,
				Reason:  ReasonHRActiveDownload,
				Message: "torrent has an active HR obligation and is already being tracked",
			}
		case ActionDelete:
			return Outcome{
				Verdict: VerdictDeny,
				Reason:  ReasonHRActiveDelete,
				Message: activeMessage("delete", in.Case, in.Now),
			}
		case ActionUploadCleanup:
			return Outcome{
				Verdict: VerdictDeny,
				Reason:  ReasonHRActiveCleanup,
				Message: activeMessage("upload cleanup", in.Case, in.Now),
			}
		default:
			return Outcome{
				Verdict:              VerdictRequireConfirm,
				Reason:               ReasonHRMoveSuggestCopy,
				Message:              "moving would change the seeding path while HR is active",
				RequiresUserAction:   true,
				SuggestedAlternative: SuggestCopy,
			}
		}
	},
}

var resolvedMoveRule = Rule{
	Name: "resolved_hr_move",
	Matches: func(in *Input) bool {
		return in.Case != nil && in.Case.Status != hr.StatusActive && in.Context.Action == ActionMove
	},
	Decide: func(in *Input) Outcome {
		return Outcome{
			Verdict: VerdictAllow,
			Reason:  ReasonHRSafe,
			Message: fmt.Sprintf("HR status is %s, move is safe", in.Case.Status),
		}
	},
}

var subscriptionNoHRRule = Rule{
	Name: "subscription_no_hr",
	Matches: func(in *Input) bool {
		return in.Case != nil && in.Subscription != nil && !in.Subscription.AllowHR
	},
	Decide: func(in *Input) Outcome {
		out := Outcome{
			Verdict:            VerdictRequireConfirm,
			Reason:             ReasonSubscriptionNoHR,
			Message:            "subscription does not allow HR torrents",
			RequiresUserAction: true,
		}
		if h := in.Global.AutoApproveHours; h > 0 {
			at := in.Now.Add(time.Duration(h * float64(time.Hour)))
			out.AutoApproveAfter = &at
		}
		return out
	},
}

var siteSensitivityRule = Rule{
	Name: "site_highly_sensitive",
	Matches: func(in *Input) bool {
		return in.Case != nil && in.Site != nil && in.Site.HRSensitivity == config.SensitivityHighlySensitive
	},
	Decide: func(in *Input) Outcome {
		return Outcome{
			Verdict:            VerdictRequireConfirm,
			Reason:             ReasonSiteHighlySensitive,
			Message:            fmt.Sprintf("site %s is configured as highly sensitive to HR", in.Context.SiteKey),
			RequiresUserAction: true,
		}
	},
}

var lowRatioDeleteRule = Rule{
	Name: "low_ratio_delete",
	Matches: func(in *Input) bool {
		if in.Context.Action != ActionDelete || in.Case == nil || in.Case.CurrentRatio == nil {
			return false
		}
		return *in.Case.CurrentRatio < config.EffectiveMinRatio(in.Global, in.Site)
	},
	Decide: func(in *Input) Outcome {
		return Outcome{
			Verdict: VerdictRequireConfirm,
			Reason:  ReasonLowRatioWarning,
			Message: fmt.Sprintf("current ratio %.2f is below the minimum %.2f",
				*in.Case.CurrentRatio, config.EffectiveMinRatio(in.Global, in.Site)),
			RequiresUserAction: true,
		}
	},
}

// insertBeforeDefault places extra ahead of default_allow, or at the end
// when the chain has no default.
func insertBeforeDefault(rules, extra []Rule) []Rule {
	at := len(rules)
	for i, r := range rules {
		if r.Name == defaultAllowRule.Name {
			at = i
			break
		}
	}
	out := make([]Rule, 0, len(rules)+len(extra))
	out = append(out, rules[:at]...)
	out = append(out, extra...)
	return append(out, rules[at:]...)
}

var defaultAllowRule = Rule{
	Name:    "default_allow",
	Matches: func(*Input) bool { return true },
	Decide: func(*Input) Outcome {
		return Outcome{
			Verdict: VerdictAllow,
			Reason:  ReasonSafe,
			Message: "no HR restriction applies",
		}
	},
}

func activeMessage(verb string, c *hr.CaseRecord, now time.Time) string {
	msg := fmt.Sprintf("%s is blocked while HR is active", verb)
	if h := c.HoursRemaining(now); h != nil {
		msg += fmt.Sprintf(" (%.1f hours remaining)", *h)
	}
	return msg
}

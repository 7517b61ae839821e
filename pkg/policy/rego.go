package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/hrguard/hrguard/pkg/config"
	"github.com/hrguard/hrguard/pkg/hr"
)

// RegoPackage is the package every operator policy module must declare.
const RegoPackage = "hrguard"

// ReasonOperatorPolicy is the default reason for outcomes produced by an
// operator policy that does not name its own reason code.
const ReasonOperatorPolicy ReasonCode = "OPERATOR_POLICY"

// RegoPolicy is one operator-supplied Rego module.
type RegoPolicy struct {
	Name   string
	Source string
	Module string
}

// LoadRegoPolicies reads .rego files from paths. A directory is walked
// recursively. Every module is parsed and must declare package hrguard.
func LoadRegoPolicies(paths []string) ([]RegoPolicy, error) {
	var out []RegoPolicy
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat policy path %s: %w", path, err)
		}
		if !info.IsDir() {
			p, err := loadRegoFile(path)
			if err != nil {
				return nil, err
			}
			out = append(out, *p)
			continue
		}

		err = filepath.WalkDir(path, func(file string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(file, ".rego") {
				return nil
			}
			p, err := loadRegoFile(file)
			if err != nil {
				return err
			}
			out = append(out, *p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", path, err)
		}
	}
	return out, nil
}

func loadRegoFile(path string) (*RegoPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	mod, err := ast.ParseModule(path, string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", path, err)
	}
	if got := mod.Package.Path.String(); got != "data."+RegoPackage {
		return nil, fmt.Errorf("policy %s declares package %s, want %s", path, strings.TrimPrefix(got, "data."), RegoPackage)
	}
	return &RegoPolicy{
		Name:   strings.TrimSuffix(filepath.Base(path), ".rego"),
		Source: path,
		Module: string(data),
	}, nil
}

// regoInput is the document operator policies see as input.
type regoInput struct {
	Action             Action               `json:"action"`
	Trigger            Trigger              `json:"trigger"`
	SiteKey            string               `json:"site_key"`
	TorrentID          string               `json:"torrent_id"`
	SubscriptionID     string               `json:"subscription_id,omitempty"`
	PathFrom           string               `json:"path_from,omitempty"`
	PathTo             string               `json:"path_to,omitempty"`
	ChangesSeedingPath bool                 `json:"changes_seeding_path"`
	Case               *hr.CaseRecord       `json:"case"`
	HoursRemaining     *float64             `json:"hours_remaining"`
	Global             config.Global        `json:"global"`
	Site               *config.Site         `json:"site"`
	Subscription       *config.Subscription `json:"subscription"`
	Now                time.Time            `json:"now"`
}

func newRegoInput(in *Input) *regoInput {
	c := in.Context
	ri := &regoInput{
		Action:             c.Action,
		Trigger:            c.Trigger,
		SiteKey:            c.SiteKey,
		TorrentID:          c.TorrentID,
		SubscriptionID:     c.SubscriptionID,
		PathFrom:           c.PathFrom,
		PathTo:             c.PathTo,
		ChangesSeedingPath: c.ChangesSeedingPath,
		Case:               in.Case,
		Global:             in.Global,
		Site:               in.Site,
		Subscription:       in.Subscription,
		Now:                in.Now,
	}
	if in.Case != nil {
		ri.HoursRemaining = in.Case.HoursRemaining(in.Now)
	}
	return ri
}

// NewRegoRule compiles policies into one rule named operator_policy.
//
// Modules contribute to two sets in package hrguard: deny and confirm.
// Entries are strings or objects with message and optional reason_code.
// Any deny entry yields DENY; otherwise any confirm entry yields
// REQUIRE_CONFIRM. When both sets are empty the rule does not match.
// Query errors surface as evaluation errors.
func NewRegoRule(ctx context.Context, policies []RegoPolicy) (Rule, error) {
	opts := []func(*rego.Rego){rego.Query("data." + RegoPackage)}
	for _, p := range policies {
		opts = append(opts, rego.Module(p.Source, p.Module))
	}

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return Rule{}, fmt.Errorf("failed to prepare operator policies: %w", err)
	}

	return Rule{
		Name: "operator_policy",
		Eval: func(ctx context.Context, in *Input) (*Outcome, error) {
			rs, err := query.Eval(ctx, rego.EvalInput(newRegoInput(in)))
			if err != nil {
				return nil, fmt.Errorf("operator policy evaluation failed: %w", err)
			}
			if len(rs) == 0 || len(rs[0].Expressions) == 0 {
				return nil, nil
			}
			doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
			if !ok {
				return nil, nil
			}
			if out := regoOutcome(VerdictDeny, doc["deny"]); out != nil {
				return out, nil
			}
			return regoOutcome(VerdictRequireConfirm, doc["confirm"]), nil
		},
	}, nil
}

func regoOutcome(verdict Verdict, set interface{}) *Outcome {
	entries, ok := set.([]interface{})
	if !ok || len(entries) == 0 {
		return nil
	}

	reason := ReasonOperatorPolicy
	messages := make([]string, 0, len(entries))
	for _, e := range entries {
		switch v := e.(type) {
		case string:
			messages = append(messages, v)
		case map[string]interface{}:
			if msg, ok := v["message"].(string); ok {
				messages = append(messages, msg)
			}
			if rc, ok := v["reason_code"].(string); ok && rc != "" && reason == ReasonOperatorPolicy {
				reason = ReasonCode(rc)
			}
		default:
			messages = append(messages, fmt.Sprintf("%v", v))
		}
	}
	sort.Strings(messages)

	return &Outcome{
		Verdict:            verdict,
		Reason:             reason,
		Message:            strings.Join(messages, "; "),
		RequiresUserAction: verdict == VerdictRequireConfirm,
	}
}

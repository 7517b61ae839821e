package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hrguard/hrguard/pkg/config"
)

const freezePolicy = `package hrguard

import rego.v1

# Deletes on hdsky are frozen during the site migration.
deny contains {"message": "deletes on hdsky are frozen", "reason_code": "SITE_FREEZE"} if {
	input.action == "delete"
	input.site_key == "hdsky"
}

confirm contains "runner downloads need review" if {
	input.action == "download"
	input.trigger == "runner"
}
`

const conflictingPolicy = `package hrguard

import rego.v1

mode := "copy" if input.action == "move"

mode := "link" if input.action == "move"
`

func writePolicy(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func regoEngine(t *testing.T, s *config.Settings, modules ...string) *Engine {
	t.Helper()
	dir := t.TempDir()
	for i, m := range modules {
		writePolicy(t, dir, "p"+string(rune('a'+i))+".rego", m)
	}
	policies, err := LoadRegoPolicies([]string{dir})
	if err != nil {
		t.Fatalf("LoadRegoPolicies: %v", err)
	}
	rule, err := NewRegoRule(context.Background(), policies)
	if err != nil {
		t.Fatalf("NewRegoRule: %v", err)
	}
	return newTestEngine(t, s, WithOperatorRules(rule))
}

func TestLoadRegoPolicies(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "freeze.rego", freezePolicy)
	writePolicy(t, dir, "README.md", "not a policy")

	policies, err := LoadRegoPolicies([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(policies) != 1 || policies[0].Name != "freeze" {
		t.Fatalf("got %+v", policies)
	}

	wrong := writePolicy(t, t.TempDir(), "other.rego", "package other\n\nallow := true\n")
	if _, err := LoadRegoPolicies([]string{wrong}); err == nil || !strings.Contains(err.Error(), "want hrguard") {
		t.Errorf("wrong package: err = %v", err)
	}

	broken := writePolicy(t, t.TempDir(), "broken.rego", "package hrguard\n\ndeny contains if {\n")
	if _, err := LoadRegoPolicies([]string{broken}); err == nil {
		t.Error("parse error not reported")
	}

	if _, err := LoadRegoPolicies([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("missing path not reported")
	}
}

func TestRegoRuleOutcomes(t *testing.T) {
	eng := regoEngine(t, nil, freezePolicy)
	ctx := context.Background()

	names := eng.RuleNames()
	if names[len(names)-2] != "operator_policy" || names[len(names)-1] != "default_allow" {
		t.Fatalf("rule order = %v", names)
	}

	d := eng.Evaluate(ctx, &Context{Action: ActionDelete, SiteKey: "hdsky", TorrentID: "42", Case: safeCase()})
	expect(t, d, VerdictDeny, "SITE_FREEZE")
	if d.Rule != "operator_policy" || d.Message != "deletes on hdsky are frozen" {
		t.Errorf("got rule %q message %q", d.Rule, d.Message)
	}

	d = eng.Evaluate(ctx, &Context{Action: ActionDownload, Trigger: TriggerRunner, SiteKey: "hdsky", TorrentID: "42", Case: safeCase()})
	expect(t, d, VerdictRequireConfirm, ReasonOperatorPolicy)
	if !d.RequiresUserAction {
		t.Error("confirm outcome must require user action")
	}

	d = eng.Evaluate(ctx, &Context{Action: ActionDownload, Trigger: TriggerUser, SiteKey: "hdsky", TorrentID: "42", Case: safeCase()})
	expect(t, d, VerdictAllow, ReasonSafe)
	if d.Rule != "default_allow" {
		t.Errorf("rule = %q", d.Rule)
	}
}

func TestRegoRuleRunsAfterBuiltins(t *testing.T) {
	eng := regoEngine(t, nil, freezePolicy)
	ctx := context.Background()

	d := eng.Evaluate(ctx, &Context{Action: ActionDelete, SiteKey: "hdsky", TorrentID: "42", Case: activeCase()})
	expect(t, d, VerdictDeny, ReasonHRActiveDelete)

	s := config.Default()
	s.Global.EnableHRProtection = false
	off := regoEngine(t, s, freezePolicy)
	d = off.Evaluate(ctx, &Context{Action: ActionDelete, SiteKey: "hdsky", TorrentID: "42", Case: safeCase()})
	expect(t, d, VerdictAllow, ReasonSettingsDisabled)
}

func TestRegoRuleErrorFailsOpen(t *testing.T) {
	eng := regoEngine(t, nil, conflictingPolicy)

	d := eng.Evaluate(context.Background(), &Context{Action: ActionMove, SiteKey: "hdsky", TorrentID: "7"})
	expect(t, d, VerdictAllow, ReasonErrorOccurred)
	if d.Confidence != FailOpenConfidence {
		t.Errorf("confidence = %v, want %v", d.Confidence, FailOpenConfidence)
	}
}

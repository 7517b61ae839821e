// Package policy decides whether a proposed torrent operation may proceed
// given the torrent's HR case and the layered settings.
//
// # Rule chain
//
// Rules are an ordered slice and the first match wins:
//
//  1. kill_switch            protection disabled        ALLOW SETTINGS_DISABLED
//  2. always_safe_action     generate_strm etc.         ALLOW SAFE
//  3. active_hr_hard_stop    ACTIVE case                DENY / REQUIRE_CONFIRM (move)
//  4. resolved_hr_move       non-ACTIVE case, move      ALLOW HR_SAFE
//  5. subscription_no_hr     case, allow_hr=false       REQUIRE_CONFIRM SUBSCRIPTION_NO_HR
//  6. site_highly_sensitive  case, sensitive site       REQUIRE_CONFIRM SITE_HIGHLY_SENSITIVE
//  7. low_ratio_delete       delete below min ratio     REQUIRE_CONFIRM LOW_RATIO_WARNING
//  8. operator_policy        optional Rego modules      DENY / REQUIRE_CONFIRM
//  9. default_allow                                     ALLOW SAFE
//
// Operator policies are .rego modules in package hrguard loaded with
// LoadRegoPolicies and compiled by NewRegoRule. They contribute to the deny
// and confirm sets and only see contexts no built-in rule decided.
//
// # Failure
//
// Evaluate never returns an error. Internal faults, including panics inside
// a rule and failed case lookups, produce ALLOW with ERROR_OCCURRED and a
// confidence of 0.5 so that audit can pick them out.
//
// # Usage
//
//	settings := config.NewStore(loaded)
//	eng := policy.NewEngine(settings,
//	    policy.WithCaseResolver(caseStore),
//	    policy.WithRecorder(policy.NewAuditRecorder(sqlStore)),
//	    policy.WithLogger(logger),
//	)
//	d := eng.Evaluate(ctx, &policy.Context{Action: policy.ActionDelete, SiteKey: "hdsky", TorrentID: "42"})
//	if !d.Allowed() {
//	    // surface d.Message and d.SuggestedAlternative
//	}
package policy

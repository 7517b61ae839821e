// Package config resolves the three layered settings scopes the policy
// engine reads: global, per-site and per-subscription.
//
// # Sources
//
// Settings are loaded from a YAML or CUE file with this shape:
//
//	global:
//	  enable_hr_protection: true
//	  min_ratio_for_delete: 1.0
//	  auto_approve_hours: 24
//	sites:
//	  hdsky:
//	    hr_sensitivity: highly_sensitive
//	    min_keep_ratio: 0.8
//	subscriptions:
//	  "42":
//	    allow_hr: false
//	site_ids:
//	  hdsky: 7
//
// CUE files are unified with a built-in schema that supplies defaults and
// rejects unknown fields. Every file is then checked with struct validation.
//
// # Resolution
//
// EffectiveMinRatio and EffectiveMinSeedHours apply a site override over the
// global value. They depend on nothing else.
//
// # Reloading
//
// Store publishes immutable snapshots. Watcher swaps a new snapshot in when
// the file changes and keeps the old one when the new file is invalid.
package config

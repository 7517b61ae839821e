package config

import (
	"gopkg.in/yaml.v3"
)

// Mode is the global protection posture. It is carried for consumers that
// surface it; the rule chain does not branch on it.
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeBalanced     Mode = "balanced"
	ModeAggressive   Mode = "aggressive"
)

// Sensitivity is a site's HR strictness as configured by the operator.
type Sensitivity string

const (
	SensitivityNormal          Sensitivity = "normal"
	SensitivitySensitive       Sensitivity = "sensitive"
	SensitivityHighlySensitive Sensitivity = "highly_sensitive"
)

// Global holds the process-wide HR protection settings.
type Global struct {
	// Mode is the protection posture (conservative, balanced, aggressive).
	Mode Mode `json:"mode" yaml:"mode" validate:"oneof=conservative balanced aggressive"`

	// MinKeepHours is the default minimum seeding time.
	MinKeepHours float64 `json:"min_keep_hours" yaml:"min_keep_hours" validate:"gte=0"`

	// MinRatioForDelete is the default ratio below which deletes need confirmation.
	MinRatioForDelete float64 `json:"min_ratio_for_delete" yaml:"min_ratio_for_delete" validate:"gte=0"`

	PreferCopyOnMoveForHR bool `json:"prefer_copy_on_move_for_hr" yaml:"prefer_copy_on_move_for_hr"`

	// EnableHRProtection is the engine kill-switch. False allows everything.
	EnableHRProtection bool `json:"enable_hr_protection" yaml:"enable_hr_protection"`

	// AutoApproveHours is the grace period after which an unanswered
	// confirmation may be applied automatically. Zero disables auto-approval.
	AutoApproveHours float64 `json:"auto_approve_hours" yaml:"auto_approve_hours" validate:"gte=0"`
}

// Site holds per-site overrides.
type Site struct {
	HRSensitivity Sensitivity `json:"hr_sensitivity" yaml:"hr_sensitivity" validate:"oneof=normal sensitive highly_sensitive"`

	// MinKeepRatio overrides Global.MinRatioForDelete when set.
	MinKeepRatio *float64 `json:"min_keep_ratio,omitempty" yaml:"min_keep_ratio,omitempty" validate:"omitempty,gte=0"`

	// MinKeepTimeHours overrides Global.MinKeepHours when set.
	MinKeepTimeHours *float64 `json:"min_keep_time_hours,omitempty" yaml:"min_keep_time_hours,omitempty" validate:"omitempty,gte=0"`
}

// Subscription holds per-subscription preferences.
type Subscription struct {
	// AllowHR false means any torrent that has ever carried an HR obligation
	// needs confirmation.
	AllowHR bool `json:"allow_hr" yaml:"allow_hr"`

	AllowH3H5      bool `json:"allow_h3h5" yaml:"allow_h3h5"`
	StrictFreeOnly bool `json:"strict_free_only" yaml:"strict_free_only"`

	// Confirmation toggles consumed by the download pipeline.
	ConfirmOnDownload bool `json:"confirm_on_download" yaml:"confirm_on_download"`
	ConfirmOnDelete   bool `json:"confirm_on_delete" yaml:"confirm_on_delete"`
}

// Settings is one consistent snapshot of all three scopes plus the static
// site catalog.
type Settings struct {
	Global        Global                   `json:"global" yaml:"global"`
	Sites         map[string]*Site         `json:"sites,omitempty" yaml:"sites,omitempty" validate:"dive"`
	Subscriptions map[string]*Subscription `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty" validate:"dive"`

	// SiteIDs maps site keys to catalog ids.
	SiteIDs map[string]int64 `json:"site_ids,omitempty" yaml:"site_ids,omitempty" validate:"dive,gt=0"`
}

// DefaultGlobal returns the built-in global settings.
func DefaultGlobal() Global {
	return Global{
		Mode:                  ModeBalanced,
		MinKeepHours:          72,
		MinRatioForDelete:     1.0,
		PreferCopyOnMoveForHR: true,
		EnableHRProtection:    true,
		AutoApproveHours:      24,
	}
}

// DefaultSite returns a site with no overrides.
func DefaultSite() Site {
	return Site{HRSensitivity: SensitivityNormal}
}

// DefaultSubscription returns a subscription that permits HR torrents.
func DefaultSubscription() Subscription {
	return Subscription{AllowHR: true, AllowH3H5: true}
}

// Default returns settings with only the global defaults.
func Default() *Settings {
	return &Settings{
		Global:        DefaultGlobal(),
		Sites:         map[string]*Site{},
		Subscriptions: map[string]*Subscription{},
		SiteIDs:       map[string]int64{},
	}
}

// SiteSettings returns the overrides for siteKey, or nil.
func (s *Settings) SiteSettings(siteKey string) *Site {
	if s == nil {
		return nil
	}
	return s.Sites[siteKey]
}

// SubscriptionSettings returns the settings for id, or nil.
func (s *Settings) SubscriptionSettings(id string) *Subscription {
	if s == nil || id == "" {
		return nil
	}
	return s.Subscriptions[id]
}

// SiteID looks siteKey up in the catalog.
func (s *Settings) SiteID(siteKey string) (int64, bool) {
	if s == nil {
		return 0, false
	}
	id, ok := s.SiteIDs[siteKey]
	return id, ok
}

// UnmarshalYAML decodes on top of the global defaults so omitted keys keep them.
func (g *Global) UnmarshalYAML(node *yaml.Node) error {
	type plain Global
	p := plain(DefaultGlobal())
	if err := node.Decode(&p); err != nil {
		return err
	}
	*g = Global(p)
	return nil
}

// UnmarshalYAML decodes on top of the site defaults.
func (s *Site) UnmarshalYAML(node *yaml.Node) error {
	type plain Site
	p := plain(DefaultSite())
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = Site(p)
	return nil
}

// UnmarshalYAML decodes on top of the subscription defaults.
func (s *Subscription) UnmarshalYAML(node *yaml.Node) error {
	type plain Subscription
	p := plain(DefaultSubscription())
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = Subscription(p)
	return nil
}

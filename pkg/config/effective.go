package config

// EffectiveMinRatio returns the minimum ratio for deletes: the site override
// when present, otherwise the global value.
func EffectiveMinRatio(g Global, site *Site) float64 {
	if site != nil && site.MinKeepRatio != nil {
		return *site.MinKeepRatio
	}
	return g.MinRatioForDelete
}

// EffectiveMinSeedHours returns the minimum seeding time with the same precedence.
func EffectiveMinSeedHours(g Global, site *Site) float64 {
	if site != nil && site.MinKeepTimeHours != nil {
		return *site.MinKeepTimeHours
	}
	return g.MinKeepHours
}

package config

// settingsSchema constrains .cue settings files. Defaults mirror Default().
const settingsSchema = `
#Global: {
	mode:                       *"balanced" | "conservative" | "aggressive"
	min_keep_hours:             *72.0 | number & >=0
	min_ratio_for_delete:       *1.0 | number & >=0
	prefer_copy_on_move_for_hr: *true | bool
	enable_hr_protection:       *true | bool
	auto_approve_hours:         *24.0 | number & >=0
}

#Site: {
	hr_sensitivity:       *"normal" | "sensitive" | "highly_sensitive"
	min_keep_ratio?:      number & >=0
	min_keep_time_hours?: number & >=0
}

#Subscription: {
	allow_hr:            *true | bool
	allow_h3h5:          *true | bool
	strict_free_only:    *false | bool
	confirm_on_download: *false | bool
	confirm_on_delete:   *false | bool
}

#Settings: {
	global: #Global
	sites: [string]:         #Site
	subscriptions: [string]: #Subscription
	site_ids: [string]:      int & >0
}
`

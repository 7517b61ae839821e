// Package hr defines the Hit-and-Run case model shared by the store, cache,
// legacy adapter and policy engine.
//
// A CaseRecord tracks one torrent's seeding obligation on one private tracker
// site. It carries two independent state axes: the compliance Status
// (NONE, ACTIVE, SAFE, VIOLATED, UNKNOWN) and the LifeStatus of the underlying
// payload (ALIVE, DELETED). A case that is ACTIVE while DELETED is itself a
// violation signal.
//
// Records are uniquely identified by Key{SiteKey, TorrentID}.
package hr

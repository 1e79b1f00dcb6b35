// Package model defines control-plane row structs shared across the persistence layer.
package model

// Destination is a terminal offer URL referenced by stable ID.
type Destination struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	URL         string `json:"url"`
	Status      string `json:"status"`
	UpdatedAtNs int64  `json:"updated_at_ns"`
}

// DestinationStatusActive marks destinations eligible for selection.
const DestinationStatusActive = "active"

// Campaign is the unit of targeting. KVKey is the {host}{path} form its
// rule bundle is stored under.
type Campaign struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	SiteID     string `json:"site_id"`
	PlatformID string `json:"platform_id"`
	KVKey      string `json:"kv_key"`
	Name       string `json:"name"`
}

// Platform is an ad network. ClickIDParam names the query parameter the
// network uses for its native click ID (e.g. "fbclid", "gclid").
type Platform struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ClickIDParam string `json:"click_id_param"`
}

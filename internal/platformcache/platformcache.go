// Package platformcache is the read-through campaign→platform attribution
// cache used to populate platform macros and extract the network-native
// click ID from incoming queries.
package platformcache

import (
	"context"
	"time"

	"github.com/maypok86/otter"
	"github.com/rs/zerolog"
)

// Attribution is the cached platform record for a campaign.
type Attribution struct {
	PlatformID   string
	PlatformName string
	ClickIDParam string
	// OK is false for campaigns without a platform; cached so repeated
	// misses stay in memory.
	OK bool
}

// ControlReader is the control-DB surface the cache reads through.
type ControlReader interface {
	PlatformForCampaign(ctx context.Context, campaignID string) (Attribution, bool, error)
}

// Cache is the per-instance platform cache.
type Cache struct {
	cache otter.CacheWithVariableTTL[string, Attribution]
	db    ControlReader
	log   zerolog.Logger
	ttl   time.Duration
}

// New creates a platform cache bounded to maxEntries with the given TTL.
func New(db ControlReader, maxEntries int, ttl time.Duration, log zerolog.Logger) *Cache {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	cache, err := otter.MustBuilder[string, Attribution](maxEntries).
		Cost(func(_ string, _ Attribution) uint32 { return 1 }).
		WithVariableTTL().
		Build()
	if err != nil {
		panic("platformcache: failed to create cache: " + err.Error())
	}
	return &Cache{cache: cache, db: db, log: log, ttl: ttl}
}

// Lookup returns the platform attribution for a campaign, reading through
// the control DB on miss. ok=false means the campaign has no platform.
func (c *Cache) Lookup(ctx context.Context, campaignID string) (Attribution, bool) {
	if campaignID == "" {
		return Attribution{}, false
	}
	if a, found := c.cache.Get(campaignID); found {
		return a, a.OK
	}

	a, found, err := c.db.PlatformForCampaign(ctx, campaignID)
	if err != nil {
		// Do not cache failures: the next request retries.
		c.log.Warn().Err(err).Str("campaign_id", campaignID).Msg("platform lookup failed")
		return Attribution{}, false
	}
	a.OK = found
	c.cache.Set(campaignID, a, c.ttl)
	return a, a.OK
}

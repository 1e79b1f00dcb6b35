// Package destcache caches destination URLs per process with a cheap
// freshness probe, so edits propagate within ~one probe while steady-state
// lookups stay in memory.
package destcache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
)

// ControlReader is the control-DB surface the cache probes. Implemented
// by the controldb repo.
type ControlReader interface {
	// DestinationMeta returns only updated_at for the freshness probe.
	DestinationMeta(ctx context.Context, id string) (updatedAtNs int64, found bool, err error)
	// Destination returns the active destination's URL and updated_at.
	Destination(ctx context.Context, id string) (url string, updatedAtNs int64, found bool, err error)
}

// Entry is a cached destination resolution. A value type: updates replace
// the whole entry atomically per key. OK=false is a cached negative
// result (missing or inactive destination, or a failed DB read).
type Entry struct {
	URL         string
	OK          bool
	UpdatedAtNs int64
	CachedAt    time.Time
}

// Cache is the per-instance destination cache.
type Cache struct {
	entries *xsync.Map[string, Entry]
	db      ControlReader
	log     zerolog.Logger

	// fastWindow skips even the freshness probe for reads this soon
	// after the last, so bursts within one request don't re-query.
	fastWindow time.Duration

	// now is the clock; replaceable in tests.
	now func() time.Time
}

// New creates a destination cache.
func New(db ControlReader, fastWindow time.Duration, log zerolog.Logger) *Cache {
	if fastWindow <= 0 {
		fastWindow = 100 * time.Millisecond
	}
	return &Cache{
		entries:    xsync.NewMap[string, Entry](),
		db:         db,
		log:        log,
		fastWindow: fastWindow,
		now:        time.Now,
	}
}

// Resolve returns the destination URL for id. ok=false means the
// destination is unavailable (missing, inactive, or DB failure) and the
// caller should fall through.
func (c *Cache) Resolve(ctx context.Context, id string) (string, bool) {
	if id == "" {
		return "", false
	}
	now := c.now()

	if e, found := c.entries.Load(id); found {
		// Fast path: reads inside the window reuse the entry untouched.
		if now.Sub(e.CachedAt) < c.fastWindow {
			return e.URL, e.OK
		}

		// Cheap probe: refresh CachedAt when updated_at is unchanged.
		updatedAt, metaFound, err := c.db.DestinationMeta(ctx, id)
		if err == nil && metaFound && updatedAt == e.UpdatedAtNs {
			e.CachedAt = now
			c.entries.Store(id, e)
			return e.URL, e.OK
		}
		if err != nil {
			// Serve stale on probe failure; the next probe retries.
			c.log.Warn().Err(err).Str("destination_id", id).Msg("destination probe failed, serving cached")
			return e.URL, e.OK
		}
	}

	return c.fill(ctx, id, now)
}

// fill fetches the full row and stores the entry, caching a negative
// result on miss or DB failure to avoid storms.
func (c *Cache) fill(ctx context.Context, id string, now time.Time) (string, bool) {
	url, updatedAt, found, err := c.db.Destination(ctx, id)
	if err != nil {
		c.log.Warn().Err(err).Str("destination_id", id).Msg("destination fetch failed, caching negative")
		c.entries.Store(id, Entry{CachedAt: now})
		return "", false
	}
	e := Entry{URL: url, OK: found, UpdatedAtNs: updatedAt, CachedAt: now}
	c.entries.Store(id, e)
	return e.URL, e.OK
}

// Invalidate drops a cached entry.
func (c *Cache) Invalidate(id string) {
	c.entries.Delete(id)
}

// Size returns the number of cached destinations.
func (c *Cache) Size() int {
	return c.entries.Size()
}

// Package geoip provides the fallback location lookup used when the
// transport metadata record carries no geo fields. It reads a local
// MaxMind database with hot reloading on a cron schedule.
package geoip

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/steerhq/steer/internal/reqctx"
)

// cityRecord maps the subset of the GeoIP2/GeoLite2 City schema the
// enricher consumes.
type cityRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Continent struct {
		Code string `maxminddb:"code"`
	} `maxminddb:"continent"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Subdivisions []struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"subdivisions"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
		TimeZone  string  `maxminddb:"time_zone"`
	} `maxminddb:"location"`
	Postal struct {
		Code string `maxminddb:"code"`
	} `maxminddb:"postal"`
}

// Service provides GeoIP lookup with hot-reloading via RWMutex.
type Service struct {
	mu     sync.RWMutex
	reader *maxminddb.Reader // nil until first load

	path     string
	log      zerolog.Logger
	cron     *cron.Cron
	loadedAt time.Time
}

// ServiceConfig configures the GeoIP service.
type ServiceConfig struct {
	// DBPath is the local MMDB file; empty disables the service.
	DBPath string
	// ReloadSchedule is a cron expression for re-reading the file after
	// out-of-band updates. Default "0 7 * * *".
	ReloadSchedule string
	Logger         zerolog.Logger
}

// NewService creates a GeoIP service. It does not touch the filesystem
// until Start.
func NewService(cfg ServiceConfig) *Service {
	schedule := cfg.ReloadSchedule
	if schedule == "" {
		schedule = "0 7 * * *"
	}
	s := &Service{
		path: cfg.DBPath,
		log:  cfg.Logger,
		cron: cron.New(),
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		if err := s.Reload(); err != nil {
			s.log.Warn().Err(err).Msg("scheduled geoip reload failed")
		}
	}); err != nil {
		s.log.Warn().Str("schedule", schedule).Err(err).Msg("invalid geoip reload schedule")
	}
	return s
}

// Start loads the database (when present) and starts the reload schedule.
// A missing file is not fatal: lookups return no result until a reload
// finds one.
func (s *Service) Start() error {
	if s.path == "" {
		return nil
	}
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			s.log.Info().Str("path", s.path).Msg("geoip database not present, lookups disabled until reload")
			s.cron.Start()
			return nil
		}
		return fmt.Errorf("geoip: stat %s: %w", s.path, err)
	}
	if err := s.Reload(); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the schedule and closes the reader.
func (s *Service) Stop() {
	s.cron.Stop()
	s.mu.Lock()
	r := s.reader
	s.reader = nil
	s.mu.Unlock()
	if r != nil {
		r.Close()
	}
}

// Reload atomically replaces the reader with a fresh open of the file.
// RLock holders finish before the old reader is closed.
func (s *Service) Reload() error {
	newReader, err := maxminddb.Open(s.path)
	if err != nil {
		return fmt.Errorf("geoip: open %s: %w", s.path, err)
	}
	s.mu.Lock()
	old := s.reader
	s.reader = newReader
	s.loadedAt = time.Now()
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Lookup resolves geo fields for an IP. ok=false when the service is
// disabled, the IP is unparsable, or the database has no record.
func (s *Service) Lookup(ip string) (reqctx.Geo, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return reqctx.Geo{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reader == nil {
		return reqctx.Geo{}, false
	}

	var rec cityRecord
	if err := s.reader.Lookup(parsed, &rec); err != nil {
		return reqctx.Geo{}, false
	}
	if rec.Country.ISOCode == "" {
		return reqctx.Geo{}, false
	}

	geo := reqctx.Geo{
		Country:   rec.Country.ISOCode,
		Continent: rec.Continent.Code,
		City:      rec.City.Names["en"],
		TZ:        rec.Location.TimeZone,
		Postal:    rec.Postal.Code,
		Lat:       formatCoord(rec.Location.Latitude),
		Lon:       formatCoord(rec.Location.Longitude),
	}
	if len(rec.Subdivisions) > 0 {
		geo.Region = rec.Subdivisions[0].Names["en"]
		geo.RegionCode = rec.Subdivisions[0].ISOCode
	}
	return geo, true
}

func formatCoord(f float64) string {
	if f == 0 {
		return ""
	}
	return fmt.Sprintf("%.4f", f)
}

// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Directories
	DataDir string
	LogDir  string

	// Network
	ListenAddress string
	Port          int

	// Logging
	LogLevel         string
	LogFileMaxSizeMB int
	LogFileBackups   int

	// Upstream fetches (proxy / modifications / hosted-from-remote)
	UpstreamTimeout time.Duration

	// Event pipeline
	EventQueueSize     int
	EventFlushBatch    int
	EventFlushInterval time.Duration

	// Destination cache
	DestCacheFastWindow time.Duration

	// Platform cache
	PlatformCacheTTL     time.Duration
	PlatformCacheEntries int

	// Matching
	TimeFlagWrap bool

	// Bundle decode cache
	BundleCacheEntries int

	// KV
	KVSeedPath string

	// Blob store
	BlobRoot      string // local directory namespace; empty disables
	BlobS3Bucket  string // S3 assets namespace; empty disables
	BlobS3Region  string
	DriveS3Bucket string // per-user drive namespace; falls back to BlobS3Bucket

	// GeoIP fallback
	GeoIPDBPath          string
	GeoIPReloadSchedule  string
	GeoIPLookupOnMissing bool
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.DataDir = envStr("STEER_DATA_DIR", "/var/lib/steer")
	cfg.LogDir = envStr("STEER_LOG_DIR", "")

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("STEER_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("STEER_PORT", 8970, &errs)

	// --- Logging ---
	cfg.LogLevel = envStr("STEER_LOG_LEVEL", "info")
	cfg.LogFileMaxSizeMB = envInt("STEER_LOG_FILE_MAX_SIZE_MB", 64, &errs)
	cfg.LogFileBackups = envInt("STEER_LOG_FILE_BACKUPS", 5, &errs)

	// --- Upstream ---
	cfg.UpstreamTimeout = envDuration("STEER_UPSTREAM_TIMEOUT", 10*time.Second, &errs)

	// --- Event pipeline ---
	cfg.EventQueueSize = envInt("STEER_EVENT_QUEUE_SIZE", 8192, &errs)
	cfg.EventFlushBatch = envInt("STEER_EVENT_FLUSH_BATCH_SIZE", 256, &errs)
	cfg.EventFlushInterval = envDuration("STEER_EVENT_FLUSH_INTERVAL", time.Second, &errs)

	// --- Caches ---
	cfg.DestCacheFastWindow = envDuration("STEER_DEST_CACHE_FAST_WINDOW", 100*time.Millisecond, &errs)
	cfg.PlatformCacheTTL = envDuration("STEER_PLATFORM_CACHE_TTL", 15*time.Minute, &errs)
	cfg.PlatformCacheEntries = envInt("STEER_PLATFORM_CACHE_ENTRIES", 4096, &errs)
	cfg.BundleCacheEntries = envInt("STEER_BUNDLE_CACHE_ENTRIES", 1024, &errs)

	// --- Matching ---
	cfg.TimeFlagWrap = envBool("STEER_TIME_FLAG_WRAP", false, &errs)

	// --- KV ---
	cfg.KVSeedPath = envStr("STEER_KV_SEED", "")

	// --- Blob store ---
	cfg.BlobRoot = envStr("STEER_BLOB_ROOT", "")
	cfg.BlobS3Bucket = envStr("STEER_BLOB_S3_BUCKET", "")
	cfg.BlobS3Region = envStr("STEER_BLOB_S3_REGION", "")
	cfg.DriveS3Bucket = envStr("STEER_DRIVE_S3_BUCKET", "")

	// --- GeoIP ---
	cfg.GeoIPDBPath = envStr("STEER_GEOIP_DB_PATH", "")
	cfg.GeoIPReloadSchedule = envStr("STEER_GEOIP_RELOAD_SCHEDULE", "0 7 * * *")
	cfg.GeoIPLookupOnMissing = envBool("STEER_GEOIP_LOOKUP_ON_MISSING", true, &errs)

	// --- Validation ---
	if cfg.ListenAddress == "" {
		errs = append(errs, "STEER_LISTEN_ADDRESS must not be empty")
	}
	validatePort("STEER_PORT", cfg.Port, &errs)
	validatePositive("STEER_LOG_FILE_MAX_SIZE_MB", cfg.LogFileMaxSizeMB, &errs)
	validatePositive("STEER_LOG_FILE_BACKUPS", cfg.LogFileBackups, &errs)
	if cfg.UpstreamTimeout <= 0 {
		errs = append(errs, "STEER_UPSTREAM_TIMEOUT must be positive")
	}
	validatePositive("STEER_EVENT_QUEUE_SIZE", cfg.EventQueueSize, &errs)
	validatePositive("STEER_EVENT_FLUSH_BATCH_SIZE", cfg.EventFlushBatch, &errs)
	if cfg.EventFlushInterval <= 0 {
		errs = append(errs, "STEER_EVENT_FLUSH_INTERVAL must be positive")
	}
	if cfg.EventQueueSize < 2*cfg.EventFlushBatch {
		errs = append(errs, "STEER_EVENT_QUEUE_SIZE must be at least 2x STEER_EVENT_FLUSH_BATCH_SIZE")
	}
	if cfg.DestCacheFastWindow < 0 {
		errs = append(errs, "STEER_DEST_CACHE_FAST_WINDOW must not be negative")
	}
	if cfg.PlatformCacheTTL <= 0 {
		errs = append(errs, "STEER_PLATFORM_CACHE_TTL must be positive")
	}
	validatePositive("STEER_PLATFORM_CACHE_ENTRIES", cfg.PlatformCacheEntries, &errs)
	validatePositive("STEER_BUNDLE_CACHE_ENTRIES", cfg.BundleCacheEntries, &errs)
	if _, err := cron.ParseStandard(cfg.GeoIPReloadSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("STEER_GEOIP_RELOAD_SCHEDULE: invalid cron expression %q: %v", cfg.GeoIPReloadSchedule, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

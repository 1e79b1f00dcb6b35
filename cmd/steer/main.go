package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/steerhq/steer/internal/blob"
	"github.com/steerhq/steer/internal/buildinfo"
	"github.com/steerhq/steer/internal/bundle"
	"github.com/steerhq/steer/internal/config"
	"github.com/steerhq/steer/internal/controldb"
	"github.com/steerhq/steer/internal/destcache"
	"github.com/steerhq/steer/internal/dispatch"
	"github.com/steerhq/steer/internal/event"
	"github.com/steerhq/steer/internal/geoip"
	"github.com/steerhq/steer/internal/hosted"
	"github.com/steerhq/steer/internal/kv"
	"github.com/steerhq/steer/internal/logging"
	"github.com/steerhq/steer/internal/platformcache"
	"github.com/steerhq/steer/internal/reqctx"
	"github.com/steerhq/steer/internal/store"
	"github.com/steerhq/steer/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load and validate environment config.
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}

	log := logging.New(logging.Options{
		Level:      envCfg.LogLevel,
		Dir:        envCfg.LogDir,
		MaxSizeMB:  envCfg.LogFileMaxSizeMB,
		MaxBackups: envCfg.LogFileBackups,
	})
	log.Info().
		Str("version", buildinfo.Version).
		Str("commit", buildinfo.GitCommit).
		Msg("steer starting")

	if err := os.MkdirAll(envCfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// 2. Open databases and apply migrations.
	controlDB, err := store.OpenDB(filepath.Join(envCfg.DataDir, "control.db"))
	if err != nil {
		return err
	}
	defer controlDB.Close()
	if err := store.MigrateControlDB(controlDB); err != nil {
		return err
	}

	eventsDB, err := store.OpenDB(filepath.Join(envCfg.DataDir, "events.db"))
	if err != nil {
		return err
	}
	defer eventsDB.Close()
	if err := store.MigrateEventsDB(eventsDB); err != nil {
		return err
	}

	// 3. Wire stores, caches, and services.
	control := controldb.NewRepo(controlDB)

	kvStore := kv.NewSQLStore(controlDB)
	if envCfg.KVSeedPath != "" {
		n, err := kv.Seed(context.Background(), kvStore, envCfg.KVSeedPath)
		if err != nil {
			return err
		}
		log.Info().Int("entries", n).Str("path", envCfg.KVSeedPath).Msg("kv seeded")
	}

	eventRepo, err := event.NewRepo(eventsDB)
	if err != nil {
		return err
	}
	defer eventRepo.Close()

	events := event.NewService(event.ServiceConfig{
		Repo:          eventRepo,
		Logger:        logging.Component(log, "events"),
		QueueSize:     envCfg.EventQueueSize,
		FlushBatch:    envCfg.EventFlushBatch,
		FlushInterval: envCfg.EventFlushInterval,
	})
	events.Start()
	defer events.Stop()

	geo := geoip.NewService(geoip.ServiceConfig{
		DBPath:         envCfg.GeoIPDBPath,
		ReloadSchedule: envCfg.GeoIPReloadSchedule,
		Logger:         logging.Component(log, "geoip"),
	})
	if err := geo.Start(); err != nil {
		return err
	}
	defer geo.Stop()

	enricher := &reqctx.Enricher{}
	if envCfg.GeoIPLookupOnMissing && envCfg.GeoIPDBPath != "" {
		enricher.Geo = geo
	}

	assets, drives, err := buildBlobStores(envCfg)
	if err != nil {
		return err
	}

	handler := dispatch.NewHandler(dispatch.Config{
		Logger:   logging.Component(log, "dispatch"),
		Enricher: enricher,
		Resolver: bundle.NewResolver(kvStore, envCfg.BundleCacheEntries),
		Events:   events,
		Dest: destcache.New(
			control, envCfg.DestCacheFastWindow, logging.Component(log, "destcache")),
		Plat: platformcache.New(
			control, envCfg.PlatformCacheEntries, envCfg.PlatformCacheTTL,
			logging.Component(log, "platformcache")),
		Hosted: &hosted.Server{
			Assets: assets,
			Drives: drives,
			Users:  control,
		},
		Upstream: upstream.NewClient(upstream.Config{Timeout: envCfg.UpstreamTimeout}),
		Options:  dispatch.Options{TimeWrap: envCfg.TimeFlagWrap},
	})

	// 4. Serve.
	addr := net.JoinHostPort(envCfg.ListenAddress, strconv.Itoa(envCfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("dispatcher listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// 5. Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}
	return nil
}

// buildBlobStores selects the configured asset and drive namespaces:
// local directories when STEER_BLOB_ROOT is set, S3 buckets when an S3
// bucket is configured, and directories under the data dir otherwise.
func buildBlobStores(cfg *config.EnvConfig) (assets, drives blob.Store, err error) {
	switch {
	case cfg.BlobRoot != "":
		assets = blob.NewDirStore(filepath.Join(cfg.BlobRoot, "assets"))
		drives = blob.NewDirStore(filepath.Join(cfg.BlobRoot, "drives"))
	case cfg.BlobS3Bucket != "":
		ctx := context.Background()
		s3cfg := blob.S3Config{Region: cfg.BlobS3Region}
		assets, err = blob.NewS3Store(ctx, cfg.BlobS3Bucket, s3cfg)
		if err != nil {
			return nil, nil, err
		}
		driveBucket := cfg.DriveS3Bucket
		if driveBucket == "" {
			driveBucket = cfg.BlobS3Bucket
		}
		drives, err = blob.NewS3Store(ctx, driveBucket, s3cfg)
		if err != nil {
			return nil, nil, err
		}
	default:
		// No blob store configured: hosted actions serve from the data
		// dir when populated, 404 otherwise.
		assets = blob.NewDirStore(filepath.Join(cfg.DataDir, "assets"))
		drives = blob.NewDirStore(filepath.Join(cfg.DataDir, "drives"))
	}
	return assets, drives, nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/clipcast/clipcast/internal/clipstore"
	"github.com/clipcast/clipcast/internal/config"
	"github.com/clipcast/clipcast/internal/datalayer"
	"github.com/clipcast/clipcast/internal/download"
	"github.com/clipcast/clipcast/internal/handler"
	"github.com/clipcast/clipcast/internal/playback"
	"github.com/clipcast/clipcast/internal/ratelimit"
	"github.com/clipcast/clipcast/internal/repository"
	"github.com/clipcast/clipcast/internal/server"
	"github.com/clipcast/clipcast/internal/sharecache"
)

func runServerForever() error {
	if err := config.LoadEnv(); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No .env file found, continuing without it")
		} else {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	serverConfig, err := config.NewServerConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}

	limits, err := config.NewLimitsConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load limits config: %w", err)
	}

	postgresConfig, err := config.NewPostgresConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load postgres config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pool, err := datalayer.NewPostgresPool(ctx, postgresConfig.DSN())
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	defer pool.Close()

	if err := datalayer.MigratePostgres(pool); err != nil {
		return fmt.Errorf("failed to migrate postgres: %w", err)
	}

	store := repository.NewPostgresStore(pool)

	var blobs datalayer.BlobStorage
	minioConfig, err := config.NewMinioConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load minio config: %w", err)
	}
	if minioConfig.Enabled() {
		minioStorage, err := datalayer.NewMinioStorage(minioConfig)
		if err != nil {
			return fmt.Errorf("failed to create minio storage: %w", err)
		}
		if err := minioStorage.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure minio bucket: %w", err)
		}
		blobs = minioStorage
	}

	layout := clipstore.NewLayout(serverConfig.DataDir)
	if err := os.MkdirAll(layout.TempDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	engine := playback.NewEngine()
	fetchLimiter := ratelimit.NewDownloadLimiter(limits.DownloadCooldown)
	playLimiter := ratelimit.NewPlayLimiter(limits.PlayBurst, limits.PlayWindow, limits.PlayCooldown)
	shares := sharecache.New(limits.ShareCacheTTL, limits.ShareCacheCap)

	spawner := &download.ExecSpawner{
		Bin:      serverConfig.WorkerBin,
		MaxBytes: limits.MaxDownloadBytes,
		Timeout:  limits.DownloadTimeout,
	}
	supervisor := download.NewSupervisor(
		layout,
		fetchLimiter,
		store,
		spawner,
		limits.MaxClipsPerOwner,
		limits.MaxActiveFetches,
		limits.DownloadTimeout,
	)

	h := handler.New(store, layout, engine, supervisor, playLimiter, shares, blobs)

	srv, err := server.New(
		h,
		engine,
		supervisor,
		playLimiter,
		fetchLimiter,
		shares,
		serverConfig.ListenAddr,
		serverConfig.RelayAddr,
		serverConfig.MaintenanceCron,
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func main() {
	if err := runServerForever(); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}

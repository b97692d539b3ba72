// cmd/memvaultd/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/memcontext/vault/internal/archival"
	"github.com/memcontext/vault/internal/backend"
	"github.com/memcontext/vault/internal/chunkstore"
	"github.com/memcontext/vault/internal/codec"
	"github.com/memcontext/vault/internal/config"
	"github.com/memcontext/vault/internal/dedup"
	"github.com/memcontext/vault/internal/facade"
	"github.com/memcontext/vault/internal/httpapi"
	"github.com/memcontext/vault/internal/logging"
	"github.com/memcontext/vault/internal/repository"
	"github.com/memcontext/vault/internal/router"
	"github.com/memcontext/vault/internal/telemetry"
	"github.com/memcontext/vault/internal/workerpool"
)

func main() {
	configPath := os.Getenv("MEMVAULT_CONFIG")
	if configPath == "" {
		configPath = "./memvault.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Server.LogLevel, Production: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	metrics := telemetry.New()

	engine := repository.EngineSQLite
	if cfg.Repository.Engine == "postgres" {
		engine = repository.EnginePostgres
	}
	repo, err := repository.Open(context.Background(), engine, cfg.Repository.DSN)
	if err != nil {
		logger.Fatal("open repository", zap.Error(err))
	}
	defer func() { _ = repo.Close() }()

	pipeline := codec.New(codec.Config{
		Algorithm:       codec.Algorithm(cfg.Compression.Algorithm),
		Level:           cfg.Compression.Level,
		ThresholdBytes:  cfg.Compression.ThresholdBytes,
		LargeInputBytes: cfg.Compression.LargeInputBytes,
	}, logging.Component(logger, "codec"))

	store := chunkstore.New(chunkstore.Config{
		ChunkSize: cfg.Chunking.ChunkSize,
		MaxChunks: cfg.Chunking.MaxChunks,
	}, pipeline, logging.Component(logger, "chunkstore"))

	metaCachePath := os.Getenv("MEMVAULT_METADATA_CACHE_PATH")
	if metaCachePath == "" {
		metaCachePath = "./data/cache/metadata_cache.json"
	}
	rtr := router.New(router.Config{MetadataCachePath: metaCachePath}, logging.Component(logger, "router"), metrics)
	registerBackends(rtr, cfg, logger)

	strategy := dedup.Strategy(cfg.Dedup.Strategy)
	if strategy == "content_hash" {
		strategy = dedup.StrategyExact
	}
	dedupEngine := dedup.New(dedup.Config{
		Strategy:   strategy,
		Threshold:  cfg.Dedup.Threshold,
		HashMethod: dedup.HashMethod(cfg.Dedup.HashMethod),
	}, logging.Component(logger, "dedup"))

	var archivalEngine *archival.Engine
	if len(cfg.Archival.Policies) > 0 {
		policies := make(map[string]archival.Policy, len(cfg.Archival.Policies))
		for name, p := range cfg.Archival.Policies {
			policies[name] = archival.Policy{
				Name: name, RetentionDays: p.RetentionDays,
				CompressionEnabled: p.CompressionEnabled, CompressionLevel: p.CompressionLevel,
				ArchiveFormat: archival.ArchiveFormat(p.ArchiveFormat), IncludeMetadata: p.IncludeMetadata,
				IncludeRelations: p.IncludeRelations, IncludeContexts: p.IncludeContexts,
				MaxArchiveSizeMB: p.MaxArchiveSizeMB, SplitLargeArchives: p.SplitLargeArchives,
				ChecksumVerification: p.ChecksumVerification,
			}
		}
		if err := os.MkdirAll(cfg.Archival.DataDir, 0o750); err != nil {
			logger.Fatal("create archival data dir", zap.Error(err))
		}
		archivalEngine, err = archival.NewEngine(repo, store, pipeline, cfg.Archival.DataDir, policies, logging.Component(logger, "archival"))
		if err != nil {
			logger.Fatal("build archival engine", zap.Error(err))
		}
	}

	pool := workerpool.New(0)

	f := facade.New(repo, store, pipeline, rtr, dedupEngine, archivalEngine, pool, metrics, logging.Component(logger, "facade"), facade.StorageOptions{
		LazyLoading:     cfg.Lazy.Enabled,
		PreviewLength:   cfg.Lazy.PreviewLength,
		ChunkingEnabled: cfg.Chunking.Enabled,
		ChunkSize:       cfg.Chunking.ChunkSize,
		MaxChunks:       cfg.Chunking.MaxChunks,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rtr.StartProbing(ctx)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@hourly", store.ClearCache); err != nil {
		logger.Warn("schedule cache cleanup", zap.Error(err))
	}
	if archivalEngine != nil {
		if _, err := scheduler.AddFunc("@daily", func() {
			if removed, err := archivalEngine.Cleanup(context.Background()); err != nil {
				logger.Warn("archival cleanup sweep failed", zap.Error(err))
			} else {
				logger.Info("archival cleanup sweep", zap.Int("removed", removed))
			}
		}); err != nil {
			logger.Warn("schedule archival sweep", zap.Error(err))
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := httpapi.NewServer(fmt.Sprintf(":%d", cfg.Server.HTTPPort), f, logging.Component(logger, "httpapi"))

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		cancel()
		rtr.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
		os.Exit(0)
	}()

	logger.Info("memvaultd listening", zap.Int("port", cfg.Server.HTTPPort))
	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func registerBackends(rtr *router.Router, cfg *config.Config, logger *zap.Logger) {
	dataPath := os.Getenv("MEMVAULT_DATA_PATH")
	if dataPath == "" {
		dataPath = "./data/blobs"
	}
	if err := os.MkdirAll(dataPath, 0o750); err != nil {
		logger.Fatal("create local backend dir", zap.Error(err))
	}
	local, err := backend.NewLocal("local", dataPath, logging.Component(logger, "backend.local"))
	if err != nil {
		logger.Fatal("create local backend", zap.Error(err))
	}
	rtr.Register(local, 0, true)

	for name, bc := range cfg.Backends {
		if !bc.Enabled || name == "local" {
			continue
		}
		switch bc.Type {
		case "s3":
			s3, err := backend.NewS3(context.Background(), name,
				stringOpt(bc.Options, "endpoint"), stringOpt(bc.Options, "bucket"),
				stringOpt(bc.Options, "access_key"), stringOpt(bc.Options, "secret_key"),
				stringOpt(bc.Options, "region"), logging.Component(logger, "backend."+name))
			if err != nil {
				logger.Warn("create s3 backend", zap.String("name", name), zap.Error(err))
				continue
			}
			rtr.Register(s3, bc.Priority, true)
		case "azure":
			az, err := backend.NewAzure(
				stringOpt(bc.Options, "client_id"), stringOpt(bc.Options, "client_secret"),
				stringOpt(bc.Options, "tenant_id"), stringOpt(bc.Options, "root_path"),
				logging.Component(logger, "backend."+name))
			if err != nil {
				logger.Warn("create azure backend", zap.String("name", name), zap.Error(err))
				continue
			}
			rtr.Register(az, bc.Priority, true)
		case "gcs":
			gcs, err := backend.NewGCS(context.Background(), stringOpt(bc.Options, "bucket"))
			if err != nil {
				logger.Warn("create gcs backend", zap.String("name", name), zap.Error(err))
				continue
			}
			rtr.Register(gcs, bc.Priority, true)
		case "memory":
			rtr.Register(backend.NewMemory(name), bc.Priority, true)
		case "redis":
			rtr.Register(backend.NewRedis(stringOpt(bc.Options, "addr"), name), bc.Priority, true)
		default:
			logger.Warn("unknown backend type, skipping", zap.String("name", name), zap.String("type", bc.Type))
		}
	}
}

func stringOpt(opts map[string]any, key string) string {
	if v, ok := opts[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

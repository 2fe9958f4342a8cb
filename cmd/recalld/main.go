package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/recall/internal/api"
	"github.com/nidhogg/recall/internal/config"
	"github.com/nidhogg/recall/internal/embedding"
	"github.com/nidhogg/recall/internal/memory"
	"github.com/nidhogg/recall/internal/store"
	"github.com/nidhogg/recall/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting recall...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/recall.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	ctx := context.Background()

	// Persistent store backend
	var entryStore memory.Store
	var closeStore func()
	switch cfg.Store.Backend {
	case "mongo":
		ms, err := store.NewMongo(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("mongodb unavailable", zap.Error(err))
		}
		entryStore = ms
		closeStore = func() { ms.Close(ctx) }
	case "postgres":
		ps, err := store.NewPostgres(ctx, cfg.Store.PostgresDSN, logger)
		if err != nil {
			logger.Fatal("postgres unavailable", zap.Error(err))
		}
		migrationsDir := cfg.Store.MigrationsDir
		if migrationsDir == "" {
			migrationsDir = "migrations"
		}
		if err := ps.Migrate(ctx, migrationsDir); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		entryStore = ps
		closeStore = func() { ps.Close() }
	default:
		logger.Warn("no durable store configured, keeping entries in process memory")
		entryStore = store.NewMemory()
		closeStore = func() {}
	}

	// Embedding provider
	var embedder embedding.Provider
	switch cfg.Embedding.Provider {
	case "api":
		embedder = embedding.NewAPIProvider(embedding.Config(cfg.Embedding))
	case "local":
		embedder = embedding.NewLocalProvider(embedding.Config(cfg.Embedding))
	default:
		logger.Warn("no embedding provider configured, semantic search disabled")
	}

	// Optional Qdrant sidecar for embedding placement
	var qdrant *vectorstore.Client
	if cfg.Qdrant.Enabled {
		qc, err := vectorstore.NewClient(vectorstore.Config{Host: cfg.Qdrant.Host, Port: cfg.Qdrant.Port})
		if err != nil {
			logger.Warn("qdrant unavailable, storing embeddings inline", zap.Error(err))
		} else {
			collection := cfg.Qdrant.Collection
			if collection == "" {
				collection = "recall_embeddings"
			}
			dim := uint64(cfg.Embedding.Dimension)
			if embedder != nil && embedder.Dimension() > 0 {
				dim = uint64(embedder.Dimension())
			}
			if err := qc.EnsureCollection(ctx, collection, dim); err != nil {
				logger.Warn("qdrant collection setup failed, storing embeddings inline", zap.Error(err))
			} else {
				qdrant = qc
				entryStore = store.NewVectorSidecar(entryStore, qc, collection, logger)
				logger.Info("Embedding sidecar enabled", zap.String("collection", collection))
			}
		}
	}

	// Result cache backend
	cacheTTL := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	var cache memory.ResultCache
	var redisCache *memory.RedisCache
	if cfg.Cache.RedisURL != "" {
		rc, err := memory.NewRedisCache(cfg.Cache.RedisURL, logger)
		if err != nil {
			logger.Warn("redis unavailable, using in-process result cache", zap.Error(err))
		} else {
			redisCache = rc
			cache = rc
			logger.Info("Redis result cache enabled")
		}
	}
	if cache == nil {
		cache = memory.NewMemoryCache(cacheTTL, logger)
	}

	svcCfg := memory.DefaultServiceConfig()
	if cacheTTL > 0 {
		svcCfg.CacheTTL = cacheTTL
	}
	if cfg.Memory.MinEmbedLength > 0 {
		svcCfg.MinEmbedLength = cfg.Memory.MinEmbedLength
	}
	if cfg.Memory.DefaultSearchLimit > 0 {
		svcCfg.DefaultLimit = cfg.Memory.DefaultSearchLimit
	}
	if cfg.Memory.MaxEntries > 0 {
		svcCfg.Prune.MaxEntries = cfg.Memory.MaxEntries
	}
	if cfg.Memory.MinRelevanceScore > 0 {
		svcCfg.Prune.MinRelevanceScore = cfg.Memory.MinRelevanceScore
	}
	if cfg.Memory.MaxAgeDays > 0 {
		svcCfg.Prune.MaxAgeDays = cfg.Memory.MaxAgeDays
	}
	if cfg.Memory.CompressionThresholdDays > 0 {
		svcCfg.Prune.CompressionThresholdDays = cfg.Memory.CompressionThresholdDays
	}

	svc := memory.NewService(entryStore, cache, embedder, svcCfg, logger)
	handler := api.NewHandler(svc, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("recall listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down recall...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	svc.Flush()
	if redisCache != nil {
		redisCache.Close()
	}
	if qdrant != nil {
		qdrant.Close()
	}
	closeStore()
}

package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"spacedrive/internal/app"
	"spacedrive/internal/config"
	"spacedrive/internal/identity"
	"spacedrive/internal/ratelimit"
	"spacedrive/internal/server"
	"spacedrive/internal/util"
	"spacedrive/pkg/storage"
	"spacedrive/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	leeway, err := config.ParseIdentityLeeway(cfg.IdentityLeeway)
	if err != nil {
		log.Fatalf("failed to parse identity leeway: %v", err)
	}
	verifier, err := identity.NewVerifier(identity.Config{
		Secret:   cfg.IdentitySecret,
		Issuer:   cfg.IdentityIssuer,
		Audience: cfg.IdentityAudience,
		Leeway:   leeway,
	})
	if err != nil {
		log.Fatalf("failed to init identity verifier: %v", err)
	}

	blobs, err := buildBlobStore(cfg)
	if err != nil {
		log.Fatalf("failed to init blob store: %v", err)
	}

	var dataStore store.Store
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init postgres store: %v", err)
		}
		dataStore = gormStore
	} else {
		slog.Warn("databaseURL not set, metadata is kept in memory and lost on restart")
		dataStore = store.NewMemoryStore()
	}

	appCore, err := app.New(app.Config{Store: dataStore, Blobs: blobs})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var uploadLimiter *ratelimit.FixedWindowLimiter
	if cfg.UploadRateLimitPerMinute > 0 {
		uploadLimiter, err = ratelimit.NewFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "spacedrive:uploads",
			cfg.UploadRateLimitPerMinute, time.Minute,
		)
		if err != nil {
			log.Fatalf("failed to init upload rate limiter: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Verifier:       verifier,
		UploadLimiter:  uploadLimiter,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr, "storage_backend", cfg.StorageBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func buildBlobStore(cfg config.FileConfig) (storage.BlobStore, error) {
	switch cfg.StorageBackend {
	case config.BackendMinio:
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	default:
		return storage.NewFileStore(cfg.StorageDir)
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"satchel/internal/server/api"
	"satchel/internal/server/auth"
	"satchel/internal/server/config"
	"satchel/internal/server/database"
	"satchel/internal/server/service"
	"satchel/internal/server/storage"

	"github.com/joho/godotenv"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config (.env is optional, env vars win)
	godotenv.Load()
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"max_file_size", cfg.MaxFileSize,
		"retention", cfg.Retention,
		"sweep_interval", cfg.SweepInterval,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize the object store
	var store storage.ObjectStore
	var localStore *storage.FileSystemStore
	switch cfg.StorageBackend {
	case "s3":
		store, err = storage.NewS3Store(storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			slog.Error("failed to initialize s3 storage", "error", err)
			os.Exit(1)
		}
		slog.Info("object storage initialized", "backend", "s3", "bucket", cfg.S3Bucket)
	case "fs":
		localStore = storage.NewFileSystemStore(cfg.StoragePath, cfg.BaseURL, []byte(cfg.JWTSecret))
		if err := localStore.EnsureDir(); err != nil {
			slog.Error("failed to initialize filesystem storage", "error", err)
			os.Exit(1)
		}
		store = localStore
		slog.Info("object storage initialized", "backend", "fs", "path", cfg.StoragePath)
	default:
		slog.Error("unknown storage backend", "backend", cfg.StorageBackend)
		os.Exit(1)
	}

	// Repositories and services
	fileRepo := database.NewFileRepository(db)
	historyRepo := database.NewHistoryRepository(db)
	userRepo := database.NewUserRepository(db)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiry)
	fileSvc := service.NewFileService(fileRepo, historyRepo, store, cfg)
	userSvc := service.NewUserService(userRepo, tokens)

	// Start the expiration sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := storage.NewSweeper(fileRepo, store, cfg.SweepInterval)
	sweeper.Start(sweepCtx)

	// Setup HTTP router
	handler := api.NewHandler(fileSvc, userSvc, db, localStore)
	e := api.SetupRouter(handler, tokens, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop the sweeper
	sweepCancel()
	sweeper.Wait()

	slog.Info("server exited cleanly")
}

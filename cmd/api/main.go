package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/abduss/imgstore/internal/auth"
	"github.com/abduss/imgstore/internal/bucket"
	"github.com/abduss/imgstore/internal/config"
	"github.com/abduss/imgstore/internal/item"
	"github.com/abduss/imgstore/internal/logger"
	"github.com/abduss/imgstore/internal/reconcile"
	"github.com/abduss/imgstore/internal/server"
	"github.com/abduss/imgstore/internal/storage"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logg, err := logger.Init()
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer logg.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logg.Fatal("load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logg.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logg.Fatal("connect postgres", zap.Error(err))
	}
	defer dbPool.Close()

	if err := storage.Migrate(ctx, dbPool); err != nil {
		logg.Fatal("migrate schema", zap.Error(err))
	}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		logg.Fatal("open storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}

	authService := auth.NewService(auth.NewRepository(dbPool), cfg.Auth)

	bucketRepo := bucket.NewRepository(dbPool)
	itemRepo := item.NewRepository(dbPool)

	bucketService := bucket.NewService(bucketRepo, backend, logg)
	itemService := item.NewService(itemRepo, bucketService, backend, cfg.Upload, logg)

	var sweeperDone <-chan struct{}
	if cfg.Reconcile.Interval > 0 {
		sweeper := reconcile.New(bucketRepo, itemRepo, backend, cfg.Reconcile, logg)
		sweeperDone = sweeper.RunPeriodic(ctx, cfg.Reconcile.Interval)
	}

	router := server.NewRouter(server.Dependencies{
		Config:        cfg,
		DB:            dbPool,
		Storage:       backend,
		Logger:        logg,
		AuthService:   authService,
		BucketService: bucketService,
		ItemService:   itemService,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logg.Info("image store API listening",
			zap.String("address", cfg.Server.Address()),
			zap.String("storage", cfg.Storage.Driver))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logg.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("shutdown error", zap.Error(err))
	}
	if sweeperDone != nil {
		<-sweeperDone
	}
}

func newBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	if cfg.Storage.Driver == config.StorageDriverMinIO {
		client, err := storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := storage.EnsureBucket(ctx, client, cfg.MinIO.Bucket, cfg.MinIO.Region); err != nil {
			return nil, err
		}
		return storage.NewMinIO(client, cfg.MinIO.Bucket), nil
	}
	return storage.NewLocal(cfg.Storage.Root)
}

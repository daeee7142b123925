package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/common/version"
	"go.uber.org/zap"

	"github.com/sepich/project-image-cache/pkg/cache"
	"github.com/sepich/project-image-cache/pkg/config"
	"github.com/sepich/project-image-cache/pkg/metrics"
	"github.com/sepich/project-image-cache/pkg/mux"
	"github.com/sepich/project-image-cache/pkg/objectstore"
	"github.com/sepich/project-image-cache/pkg/persist"
	"github.com/sepich/project-image-cache/pkg/resolver"
	"github.com/sepich/project-image-cache/pkg/service"
)

var logger *zap.Logger

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if cfg.Debug {
		logger = zap.Must(zap.NewDevelopment())
	} else {
		logger = zap.Must(zap.NewProduction())
	}
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	logger.Info("Starting project-image-cache", zap.String("version", version.Info()), zap.String("build", version.BuildContext()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := cfg.LoadCatalog()
	if err != nil {
		logger.Fatal("could not load catalog", zap.Error(err))
	}

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal("could not open object store", zap.Error(err))
	}

	persister, closePersister, err := newPersister(cfg)
	if err != nil {
		logger.Fatal("could not open cache persistence", zap.Error(err))
	}
	defer closePersister()

	store, err := cache.New(ctx, catalog, objects, cache.Options{
		TTL:       cfg.TTL,
		Persister: persister,
		Metrics:   metrics.NewProm("project_images"),
		Logger:    logger,
		Resolver: resolver.Options{
			BatchSize:   cfg.BatchSize,
			Timeout:     cfg.RemoteTimeout,
			ListRetries: cfg.ListRetries,
		},
	})
	if err != nil {
		logger.Fatal("could not create image cache", zap.Error(err))
	}

	router := mux.NewRouter(&service.GalleryService{Store: store}, logger)
	router.Handle("/metrics", metrics.Handler())
	if cfg.Store == "dir" {
		router.PathPrefix("/files/").Handler(http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.StoreDir))))
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Listening over HTTP", zap.String("addr", cfg.Listen))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Panic("could not listen", zap.Error(err))
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config) (objectstore.ObjectStore, error) {
	if cfg.Store == "dir" {
		base := cfg.PublicBaseURL
		if base == "" {
			base = "/files"
		}
		return &objectstore.DirStore{Root: cfg.StoreDir, BaseURL: base}, nil
	}
	return objectstore.NewS3Store(ctx, objectstore.S3Options{
		Bucket:        cfg.Bucket,
		PublicBaseURL: cfg.PublicBaseURL,
		PresignTTL:    cfg.PresignTTL,
		Logger:        logger,
	})
}

func newPersister(cfg *config.Config) (persist.Persister, func(), error) {
	switch cfg.Persist {
	case "redis":
		p, err := persist.NewRedisPersister(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	case "file":
		return &persist.FilePersister{Directory: cfg.StateDir}, func() {}, nil
	default:
		return persist.Noop{}, func() {}, nil
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maraichr/eomat/internal/api"
	"github.com/maraichr/eomat/internal/api/handler"
	"github.com/maraichr/eomat/internal/artifact"
	"github.com/maraichr/eomat/internal/catalog"
	"github.com/maraichr/eomat/internal/completeness"
	"github.com/maraichr/eomat/internal/config"
	"github.com/maraichr/eomat/internal/discovery"
	"github.com/maraichr/eomat/internal/dispatch"
	"github.com/maraichr/eomat/internal/download"
	"github.com/maraichr/eomat/internal/engine"
	"github.com/maraichr/eomat/internal/events"
	"github.com/maraichr/eomat/internal/ledger"
	"github.com/maraichr/eomat/internal/metrics"
	"github.com/maraichr/eomat/internal/processing"
	"github.com/maraichr/eomat/internal/queue"
	minioclient "github.com/maraichr/eomat/internal/store/minio"
	"github.com/maraichr/eomat/internal/store/postgres"
	vk "github.com/maraichr/eomat/internal/store/valkey"
	"github.com/maraichr/eomat/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	functions := processing.Builtin()
	cat, err := catalog.Load(cfg.CatalogPath, functions)
	if err != nil {
		logger.Error("failed to load catalog", slog.String("path", cfg.CatalogPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	pool, err := postgres.NewPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("connected to database")
	s := postgres.NewStore(pool)

	vkClient, err := vk.NewClient(ctx, cfg.Valkey)
	if err != nil {
		logger.Error("failed to connect to valkey", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer vkClient.Close()
	logger.Info("connected to valkey")

	arts, err := openArtifacts(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open artifact store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Ledger events go to the stream; the workers' engine consumes them.
	l := ledger.New(s, cat, events.NewStreamPublisher(queue.NewProducer(vkClient)), logger)
	if err := l.SyncCatalog(ctx); err != nil {
		logger.Error("failed to sync catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}

	jobs := dispatch.NewValkeyQueue(vkClient)
	eval := completeness.New(cat).WithObserver(metrics.ObserveCompleteness)
	eng := engine.New(l, eval, jobs, logger)
	downloads := download.New(l, jobs, transport.NewRegistry(), download.Config{
		DataDir:     cfg.Worker.DataDir,
		MaxAttempts: cfg.Download.MaxAttempts,
		RetryDelay:  cfg.Download.RetryDelay,
	}, logger)

	disc := discovery.New(l, logger)
	disc.Register(catalog.DiscoveryHTTPIndex, discovery.NewHTTPIndexCrawler(&http.Client{Timeout: time.Minute}))
	if s3c, err := transport.NewS3Client(ctx, cfg.S3); err != nil {
		logger.Warn("s3 client init failed, s3 discovery disabled", slog.String("error", err.Error()))
	} else {
		disc.Register(catalog.DiscoveryS3, discovery.NewS3Crawler(s3c))
	}

	router := api.NewRouter(logger, api.RouterDeps{
		Ledger:    l,
		Engine:    eng,
		Downloads: downloads,
		Discovery: disc,
		Artifacts: arts,
		Readiness: []handler.Check{
			{Name: "postgres", Ping: s.Ping},
			{Name: "valkey", Ping: func(ctx context.Context) error {
				return vkClient.Do(ctx, vkClient.B().Ping().Build()).Error()
			}},
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting API server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// openArtifacts returns the local artifact directory when one is configured
// and the MinIO bucket otherwise.
func openArtifacts(ctx context.Context, cfg *config.Config, logger *slog.Logger) (artifact.Store, error) {
	if cfg.ArtifactDir != "" {
		logger.Info("storing artifacts on disk", slog.String("dir", cfg.ArtifactDir))
		return artifact.NewDir(cfg.ArtifactDir)
	}
	mc, err := minioclient.NewClient(cfg.MinIO)
	if err != nil {
		return nil, err
	}
	if err := mc.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", mc.Bucket(), err)
	}
	logger.Info("connected to minio", slog.String("bucket", mc.Bucket()))
	return mc, nil
}

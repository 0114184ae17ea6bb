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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/maraichr/eomat/internal/artifact"
	"github.com/maraichr/eomat/internal/catalog"
	"github.com/maraichr/eomat/internal/completeness"
	"github.com/maraichr/eomat/internal/config"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	functions := processing.Builtin()
	cat, err := catalog.Load(cfg.CatalogPath, functions)
	if err != nil {
		logger.Error("failed to load catalog", slog.String("path", cfg.CatalogPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Database
	pool, err := postgres.NewPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")
	s := postgres.NewStore(pool)

	// Valkey
	vkClient, err := vk.NewClient(ctx, cfg.Valkey)
	if err != nil {
		logger.Error("failed to connect to valkey", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer vkClient.Close()
	logger.Info("connected to valkey")

	artifacts, err := openArtifacts(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open artifact store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Events committed by this process are appended to the stream like any
	// other; the event consumer below feeds them to the engine.
	l := ledger.New(s, cat, events.NewStreamPublisher(queue.NewProducer(vkClient)), logger)

	jobs := dispatch.NewValkeyQueue(vkClient)
	eval := completeness.New(cat).WithObserver(metrics.ObserveCompleteness)
	eng := engine.New(l, eval, jobs, logger)

	bus := events.NewBus(logger)
	eng.Subscribe(bus)

	// Transports
	creds := transport.EnvCredentials{}
	transports := transport.NewRegistry()
	httpT := transport.NewHTTP(cfg.Download.HTTPTimeout, creds)
	transports.Register("http", httpT)
	transports.Register("https", httpT)
	transports.Register("ftp", transport.NewFTP(cfg.Download.HTTPTimeout, creds))
	transports.Register("sftp", transport.NewSFTP(cfg.Download.HTTPTimeout, creds, cfg.Download.KnownHosts))
	transports.Register("file", transport.File{})
	if s3c, err := transport.NewS3Client(ctx, cfg.S3); err != nil {
		logger.Warn("s3 client init failed, s3 sources disabled", slog.String("error", err.Error()))
	} else {
		transports.Register("s3", transport.NewS3(s3c))
	}

	downloads := download.New(l, jobs, transports, download.Config{
		DataDir:     cfg.Worker.DataDir,
		MaxAttempts: cfg.Download.MaxAttempts,
		RetryDelay:  cfg.Download.RetryDelay,
	}, logger)
	executor := processing.NewExecutor(l, functions, artifacts, cfg.Worker.ScratchDir, logger)

	runner := dispatch.NewRunner(logger)
	runner.Register(dispatch.KindDownload, downloads.Lifecycle(), downloads.Execute)
	runner.Register(dispatch.KindProcess, eng.Lifecycle(), executor.Execute)

	g, ctx := errgroup.WithContext(ctx)

	consume := func(stream queue.Stream, consumerID string, h queue.Handler) error {
		c := queue.NewConsumer(vkClient, stream, consumerID, logger)
		if err := c.EnsureGroup(ctx); err != nil {
			return fmt.Errorf("ensure group %s: %w", stream.Group, err)
		}
		logger.Info("consuming from stream", slog.String("stream", stream.Key), slog.String("consumer", consumerID))
		if err := c.Consume(ctx, h); err != nil && ctx.Err() == nil {
			return fmt.Errorf("consume %s: %w", stream.Key, err)
		}
		return nil
	}

	g.Go(func() error {
		return consume(events.Stream, cfg.Worker.ConsumerID+"-events", events.Relay(bus, logger))
	})
	for i := range cfg.Worker.DownloadWorkers {
		id := fmt.Sprintf("%s-download-%d", cfg.Worker.ConsumerID, i)
		g.Go(func() error { return consume(dispatch.DownloadStream, id, runner.Handle) })
	}
	for i := range cfg.Worker.ProcessWorkers {
		id := fmt.Sprintf("%s-process-%d", cfg.Worker.ConsumerID, i)
		g.Go(func() error { return consume(dispatch.ProcessStream, id, runner.Handle) })
	}

	metricsSrv := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: promhttp.Handler()}
	g.Go(func() error {
		logger.Info("serving metrics", slog.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("worker stopped")
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

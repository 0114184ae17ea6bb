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
	"golang.org/x/time/rate"

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
	"github.com/maraichr/eomat/internal/store/postgres"
	vk "github.com/maraichr/eomat/internal/store/valkey"
	"github.com/maraichr/eomat/internal/transport"
)

// every runs fn immediately and then on each tick until ctx is done.
// Errors are logged and do not stop the loop.
func every(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, fn func(context.Context) error) error {
	logger.Info("starting loop", slog.String("loop", name), slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.Error("loop iteration failed", slog.String("loop", name), slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

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

	cat, err := catalog.Load(cfg.CatalogPath, processing.Builtin())
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
	logger.Info("connected to database")

	vkClient, err := vk.NewClient(ctx, cfg.Valkey)
	if err != nil {
		logger.Error("failed to connect to valkey", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer vkClient.Close()
	logger.Info("connected to valkey")

	l := ledger.New(postgres.NewStore(pool), cat, events.NewStreamPublisher(queue.NewProducer(vkClient)), logger)
	jobs := dispatch.NewValkeyQueue(vkClient)

	var opts []engine.Option
	if cfg.Scheduler.DispatchRate > 0 {
		burst := max(1, int(cfg.Scheduler.DispatchRate))
		opts = append(opts, engine.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.Scheduler.DispatchRate), burst)))
		logger.Info("dispatch rate limited", slog.Float64("per_second", cfg.Scheduler.DispatchRate))
	}
	eval := completeness.New(cat).WithObserver(metrics.ObserveCompleteness)
	eng := engine.New(l, eval, jobs, logger, opts...)
	// The scheduler only enqueues downloads; workers fetch.
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

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return every(ctx, logger, "sweep", cfg.Scheduler.SweepInterval, func(ctx context.Context) error {
			_, err := eng.Sweep(ctx, cfg.Scheduler.SweepBatch)
			return err
		})
	})

	g.Go(func() error {
		return every(ctx, logger, "auto-download", cfg.Scheduler.DownloadInterval, func(ctx context.Context) error {
			n, err := downloads.AutoSchedule(ctx, cat, cfg.Scheduler.DownloadBatch)
			if n > 0 {
				logger.Info("downloads scheduled", slog.Int("count", n))
			}
			return err
		})
	})

	g.Go(func() error {
		return every(ctx, logger, "retry-promote", cfg.Scheduler.PromoteInterval, func(ctx context.Context) error {
			n, err := jobs.Promote(ctx, 500)
			if err != nil {
				return err
			}
			if n > 0 {
				waiting, _ := jobs.Pending(ctx)
				logger.Info("retries promoted", slog.Int("count", n), slog.Int64("waiting", waiting))
			}
			return nil
		})
	})

	if cfg.Scheduler.DiscoveryInterval > 0 {
		g.Go(func() error {
			return every(ctx, logger, "discovery", cfg.Scheduler.DiscoveryInterval, func(ctx context.Context) error {
				for _, grp := range cat.Groups() {
					if grp.Discovery == "" || grp.Discovery == catalog.DiscoveryManual {
						continue
					}
					if _, err := disc.Discover(ctx, grp.Name); err != nil {
						logger.Error("discovery failed", slog.String("group", grp.Name), slog.String("error", err.Error()))
					}
				}
				return nil
			})
		})
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

	logger.Info("starting scheduler")
	if err := g.Wait(); err != nil {
		logger.Error("scheduler error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("scheduler stopped")
}

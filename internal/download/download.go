// Package download moves sources from their remote location into the local
// data directory through the download job lifecycle.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/eomat/internal/catalog"
	"github.com/maraichr/eomat/internal/dispatch"
	"github.com/maraichr/eomat/internal/ledger"
	"github.com/maraichr/eomat/internal/metrics"
	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

// Fetcher is the transport registry as seen by the downloader.
type Fetcher interface {
	Download(ctx context.Context, src models.Source, dest string) (int64, error)
}

type Config struct {
	DataDir     string
	MaxAttempts int
	RetryDelay  time.Duration
}

type Downloader struct {
	ledger  *ledger.Ledger
	queue   dispatch.Queue
	fetcher Fetcher
	cfg     Config
	logger  *slog.Logger
}

func New(l *ledger.Ledger, q dispatch.Queue, f Fetcher, cfg Config, logger *slog.Logger) *Downloader {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 100
	}
	return &Downloader{ledger: l, queue: q, fetcher: f, cfg: cfg, logger: logger}
}

// LocalPath is where a source lands once downloaded.
func (d *Downloader) LocalPath(src models.Source) string {
	group := "ungrouped"
	if len(src.Groups) > 0 {
		group = src.Groups[0]
	}
	return filepath.Join(d.cfg.DataDir, group, src.Filename)
}

// Schedule moves a source to SCHEDULED_FOR_DOWNLOAD and submits its download
// job. Local sources are re-downloaded. If the job cannot be submitted the
// source ends in DOWNLOAD_FAILED.
func (d *Downloader) Schedule(ctx context.Context, sourceID uuid.UUID) (models.Source, error) {
	var src models.Source
	err := d.ledger.Update(ctx, func(tx *ledger.Tx) error {
		var err error
		src, err = tx.TransitionSource(ctx, sourceID, models.SourceScheduledForDownload, ledger.SourceDetails{})
		return err
	})
	if err != nil {
		return src, err
	}

	_, err = d.queue.Submit(ctx, dispatch.Job{
		Kind:        dispatch.KindDownload,
		TargetID:    src.ID,
		MaxAttempts: d.cfg.MaxAttempts,
	})
	if err != nil {
		d.fail(ctx, src.ID, fmt.Errorf("submit download: %w", err))
		return src, fmt.Errorf("submit download for %s: %w", src.Filename, err)
	}
	return src, nil
}

// Revoke moves a source that is not yet local to IGNORE. A download already
// running for it discards its file when it finishes.
func (d *Downloader) Revoke(ctx context.Context, sourceID uuid.UUID) (models.Source, error) {
	var src models.Source
	err := d.ledger.Update(ctx, func(tx *ledger.Tx) error {
		var err error
		src, err = tx.RevokeSource(ctx, sourceID)
		return err
	})
	return src, err
}

// Purge deletes a source row and its local file.
func (d *Downloader) Purge(ctx context.Context, sourceID uuid.UUID) (models.Source, error) {
	var src models.Source
	err := d.ledger.Update(ctx, func(tx *ledger.Tx) error {
		var err error
		src, err = tx.PurgeSource(ctx, sourceID)
		return err
	})
	if err != nil {
		return src, err
	}
	if src.LocalPath != nil {
		if err := os.Remove(*src.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("remove purged source file", slog.String("path", *src.LocalPath), slog.String("error", err.Error()))
		}
	}
	return src, nil
}

// AutoSchedule schedules up to limit AVAILABLE_REMOTELY sources of every
// auto_download group and returns how many were scheduled.
func (d *Downloader) AutoSchedule(ctx context.Context, cat *catalog.Catalog, limit int) (int, error) {
	scheduled := 0
	for _, g := range cat.Groups() {
		if !g.AutoDownload || scheduled >= limit {
			continue
		}
		srcs, err := d.ledger.QuerySources(ctx, store.SourceFilter{
			Group: g.Name,
			State: models.SourceAvailableRemotely,
			Limit: limit - scheduled,
		})
		if err != nil {
			return scheduled, err
		}
		for _, s := range srcs {
			if _, err := d.Schedule(ctx, s.ID); err != nil {
				if errors.Is(err, fault.ErrInvalidTransition) {
					continue
				}
				return scheduled, err
			}
			scheduled++
		}
	}
	return scheduled, nil
}

// Lifecycle returns the download job callbacks.
func (d *Downloader) Lifecycle() dispatch.Lifecycle { return d }

// Execute is the body of a download job.
func (d *Downloader) Execute(ctx context.Context, job dispatch.Job) error {
	src, err := d.ledger.GetSource(ctx, job.TargetID)
	if err != nil {
		return fault.Fatal(err)
	}
	dest := d.LocalPath(src)
	part := dest + ".part"
	n, err := d.fetcher.Download(ctx, src, part)
	if err != nil {
		os.Remove(part)
		return err
	}
	if err := os.Rename(part, dest); err != nil {
		return fault.Retriable(fmt.Errorf("finalize %s: %w", dest, err))
	}
	metrics.DownloadCompleted(n)
	return nil
}

// OnStart moves the source to DOWNLOADING. A source that was revoked or
// already finished makes the job stale.
func (d *Downloader) OnStart(ctx context.Context, job dispatch.Job, target uuid.UUID) error {
	return d.ledger.Update(ctx, func(tx *ledger.Tx) error {
		src, err := tx.Source(ctx, target)
		if errors.Is(err, store.ErrNotFound) {
			return dispatch.ErrStaleJob
		}
		if err != nil {
			return err
		}
		switch src.State {
		case models.SourceDownloading:
			return nil
		case models.SourceScheduledForDownload, models.SourceDeferred:
			_, err = tx.TransitionSource(ctx, src.ID, models.SourceDownloading, ledger.SourceDetails{})
			return err
		default:
			d.logger.Warn("ignoring stale download job",
				slog.String("job_id", job.ID),
				slog.String("source_id", target.String()),
				slog.String("state", string(src.State)))
			return dispatch.ErrStaleJob
		}
	})
}

// OnSuccess records the local file and emits SourceBecameLocal.
func (d *Downloader) OnSuccess(ctx context.Context, job dispatch.Job, target uuid.UUID) error {
	metrics.JobFinished(string(job.Kind), "success")
	var stale bool
	var path string
	err := d.ledger.Update(ctx, func(tx *ledger.Tx) error {
		src, err := tx.Source(ctx, target)
		if err != nil {
			return err
		}
		path = d.LocalPath(src)
		if src.State != models.SourceDownloading {
			stale = true
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat downloaded file: %w", err)
		}
		size := info.Size()
		_, err = tx.TransitionSource(ctx, src.ID, models.SourceAvailableLocally, ledger.SourceDetails{
			LocalPath:  &path,
			SizeActual: &size,
		})
		return err
	})
	if err == nil && stale {
		d.logger.Info("discarding download of revoked source", slog.String("source_id", target.String()))
		os.Remove(path)
	}
	return err
}

// OnFailure applies the retry policy: fatal errors fail the source, deferred
// errors park it in DEFERRED, anything retriable goes back to
// SCHEDULED_FOR_DOWNLOAD. A spent retry budget fails the source.
func (d *Downloader) OnFailure(ctx context.Context, job dispatch.Job, target uuid.UUID, cause error) error {
	return d.ledger.Update(ctx, func(tx *ledger.Tx) error {
		src, err := tx.Source(ctx, target)
		if err != nil {
			return err
		}
		if src.State != models.SourceDownloading {
			return nil
		}
		if !fault.IsRetriable(cause) && !fault.IsDeferred(cause) {
			metrics.JobFinished(string(job.Kind), "fatal")
			_, err := tx.TransitionSource(ctx, src.ID, models.SourceDownloadFailed, ledger.SourceDetails{Error: cause.Error()})
			return err
		}

		next := models.SourceScheduledForDownload
		reason := "retriable"
		if fault.IsDeferred(cause) {
			next, reason = models.SourceDeferred, "deferred"
		}
		switch err := d.queue.Retry(ctx, job, d.cfg.RetryDelay); {
		case errors.Is(err, dispatch.ErrMaxRetriesExceeded):
			metrics.JobFinished(string(job.Kind), "exhausted")
			d.logger.Error("download retry budget exhausted",
				slog.String("source_id", src.ID.String()),
				slog.Int("attempts", job.Attempt),
				slog.String("error", cause.Error()))
			_, err = tx.TransitionSource(ctx, src.ID, models.SourceDownloadFailed, ledger.SourceDetails{
				Error: fmt.Sprintf("%s after %d attempts: %v", dispatch.ErrMaxRetriesExceeded, job.Attempt, cause),
			})
			return err
		case err != nil:
			return fmt.Errorf("schedule retry: %w", err)
		}
		metrics.DownloadRetried(reason)
		_, err = tx.TransitionSource(ctx, src.ID, next, ledger.SourceDetails{Error: cause.Error()})
		return err
	})
}

func (d *Downloader) fail(ctx context.Context, id uuid.UUID, cause error) {
	err := d.ledger.Update(ctx, func(tx *ledger.Tx) error {
		_, err := tx.TransitionSource(ctx, id, models.SourceDownloadFailed, ledger.SourceDetails{Error: cause.Error()})
		return err
	})
	if err != nil {
		d.logger.Error("mark download failed", slog.String("source_id", id.String()), slog.String("error", err.Error()))
	}
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

type RegisterSourceParams struct {
	Filename     string
	Groups       []string
	Domain       string
	URL          string
	Credentials  *string
	SizeReported int64
	// ReferenceDate is extracted from Filename with the first group's date
	// pattern when zero.
	ReferenceDate time.Time
}

// SourceDetails carries the optional columns written alongside a source
// transition. Nil pointers keep the stored value.
type SourceDetails struct {
	LocalPath  *string
	SizeActual *int64
	Error      string
}

// RegisterSource creates a source in AVAILABLE_REMOTELY. Registering an
// existing filename returns the stored row with created == false.
func (tx *Tx) RegisterSource(ctx context.Context, p RegisterSourceParams) (models.Source, bool, error) {
	if p.Filename == "" {
		return models.Source{}, false, errors.New("source filename is required")
	}
	if !bareFilename(p.Filename) {
		return models.Source{}, false, fault.InvalidFilename(p.Filename)
	}
	if len(p.Groups) == 0 {
		return models.Source{}, false, errors.New("source needs at least one group")
	}
	date := p.ReferenceDate
	for _, name := range p.Groups {
		g, err := tx.l.catalog.Resolve(name)
		if err != nil {
			return models.Source{}, false, err
		}
		if g.Kind != models.GroupKindSource {
			return models.Source{}, false, fmt.Errorf("%w: %q is a product group", fault.ErrUnknownGroup, name)
		}
		if date.IsZero() && g.DatePattern != "" {
			d, err := g.ExtractDate(p.Filename)
			if err != nil {
				return models.Source{}, false, fmt.Errorf("reference date: %w", err)
			}
			date = d
		}
	}
	if date.IsZero() {
		return models.Source{}, false, fmt.Errorf("source %s: reference date unknown", p.Filename)
	}
	domain := p.Domain
	if domain == "" && p.URL != "" {
		if u, err := url.Parse(p.URL); err == nil {
			domain = u.Host
		}
	}
	src, created, err := tx.q.CreateSource(ctx, store.CreateSourceParams{
		Filename:      p.Filename,
		Groups:        p.Groups,
		Domain:        domain,
		URL:           p.URL,
		Credentials:   p.Credentials,
		SizeReported:  p.SizeReported,
		ReferenceDate: models.DateOnly(date),
	})
	if err != nil {
		return models.Source{}, false, fmt.Errorf("create source %s: %w", p.Filename, err)
	}
	return src, created, nil
}

// bareFilename reports whether name stays inside the directory it is joined to.
func bareFilename(name string) bool {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return false
	}
	return filepath.Base(name) == name
}

// Source reads a source and locks it for the rest of the transaction.
func (tx *Tx) Source(ctx context.Context, id uuid.UUID) (models.Source, error) {
	return tx.q.LockSource(ctx, id)
}

// TransitionSource moves a source along the source state machine. Entering
// AVAILABLE_LOCALLY emits SourceBecameLocal, including on re-entry.
func (tx *Tx) TransitionSource(ctx context.Context, id uuid.UUID, to models.SourceState, d SourceDetails) (models.Source, error) {
	src, err := tx.q.LockSource(ctx, id)
	if err != nil {
		return models.Source{}, fmt.Errorf("lock source %s: %w", id, err)
	}
	if !CanTransitionSource(src.State, to) {
		return src, fault.InvalidTransition("source", src.State, to)
	}
	arg := store.UpdateSourceParams{
		ID:           src.ID,
		State:        to,
		LocalPath:    src.LocalPath,
		SizeActual:   src.SizeActual,
		ErrorMessage: optString(d.Error),
	}
	if d.LocalPath != nil {
		arg.LocalPath = d.LocalPath
	}
	if d.SizeActual != nil {
		arg.SizeActual = d.SizeActual
	}
	updated, err := tx.q.UpdateSource(ctx, arg)
	if err != nil {
		return models.Source{}, fmt.Errorf("update source %s: %w", id, err)
	}
	if to == models.SourceAvailableLocally {
		tx.emit(eventSourceBecameLocal, updated.ID, "", updated.ReferenceDate)
	}
	return updated, nil
}

// guardDependents fails with fault.ErrFileInUse when a product that
// consumes group on date is owned by a processing job.
func (tx *Tx) guardDependents(ctx context.Context, group string, date time.Time) error {
	for _, p := range tx.l.catalog.Downstream(group) {
		prod, err := tx.q.GetProductByGroupDate(ctx, p.Output, date)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("check dependent %s: %w", p.Output, err)
		}
		if prod.State.InFlight() {
			return fault.InUse("product %s (%s) is %s", prod.Filename, prod.ID, prod.State)
		}
	}
	return nil
}

// RevokeSource moves a source that is not yet local to IGNORE.
func (tx *Tx) RevokeSource(ctx context.Context, id uuid.UUID) (models.Source, error) {
	return tx.TransitionSource(ctx, id, models.SourceIgnore, SourceDetails{Error: "revoked"})
}

// PurgeSource hard-deletes a source row. A local source that feeds an
// in-flight product is rejected with fault.ErrFileInUse; otherwise consumers
// of its groups are told the input was withdrawn.
func (tx *Tx) PurgeSource(ctx context.Context, id uuid.UUID) (models.Source, error) {
	src, err := tx.q.LockSource(ctx, id)
	if err != nil {
		return models.Source{}, fmt.Errorf("lock source %s: %w", id, err)
	}
	local := src.State == models.SourceAvailableLocally
	if local {
		for _, g := range src.Groups {
			if err := tx.guardDependents(ctx, g, src.ReferenceDate); err != nil {
				return src, err
			}
		}
	}
	if src.State == models.SourceDownloading {
		return src, fault.InUse("source %s is downloading", src.Filename)
	}
	if err := tx.q.DeleteSource(ctx, src.ID); err != nil {
		return src, fmt.Errorf("delete source %s: %w", id, err)
	}
	if local {
		for _, g := range src.Groups {
			tx.emit(eventInputWithdrawn, src.ID, g, src.ReferenceDate)
		}
	}
	return src, nil
}

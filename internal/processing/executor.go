package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/maraichr/eomat/internal/artifact"
	"github.com/maraichr/eomat/internal/dispatch"
	"github.com/maraichr/eomat/internal/ledger"
	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/models"
)

// Executor is the body of processing jobs. It gathers the product's inputs
// for its reference date, runs the registered processor into a scratch file
// and uploads the result under the product filename.
type Executor struct {
	ledger    *ledger.Ledger
	registry  *Registry
	artifacts artifact.Store
	scratch   string
	logger    *slog.Logger
}

func NewExecutor(l *ledger.Ledger, r *Registry, arts artifact.Store, scratch string, logger *slog.Logger) *Executor {
	return &Executor{ledger: l, registry: r, artifacts: arts, scratch: scratch, logger: logger}
}

func (x *Executor) Execute(ctx context.Context, job dispatch.Job) error {
	prod, err := x.ledger.GetProduct(ctx, job.TargetID)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	pipeline, ok := x.ledger.Catalog().Producer(prod.Group)
	if !ok {
		return fmt.Errorf("no pipeline produces %s", prod.Group)
	}
	proc, err := x.registry.Get(job.Function)
	if err != nil {
		return err
	}

	inputs, err := x.inputs(ctx, pipeline.Inputs, prod)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(x.scratch, "eomat-*")
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	req := Request{
		Product:       prod,
		ReferenceDate: prod.ReferenceDate,
		Kwargs:        job.Kwargs,
		Inputs:        inputs,
	}
	if err := proc.Process(ctx, req, tmp); err != nil {
		return fmt.Errorf("%s: %w", job.Function, err)
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := x.artifacts.Put(ctx, prod.Filename, tmp, size); err != nil {
		return err
	}
	ok, err = x.artifacts.Exists(ctx, prod.Filename)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("artifact missing after upload")
	}
	x.logger.Info("artifact written",
		slog.String("product_id", prod.ID.String()),
		slog.String("filename", prod.Filename),
		slog.Int64("bytes", size))
	return nil
}

// inputs lists the present rows of every input group for the product's
// reference date.
func (x *Executor) inputs(ctx context.Context, groups []string, prod models.Product) ([]Input, error) {
	date := prod.ReferenceDate
	var out []Input
	for _, g := range groups {
		kind, err := x.ledger.Catalog().KindOf(g)
		if err != nil {
			return nil, err
		}
		if kind == models.GroupKindSource {
			srcs, err := x.ledger.QuerySources(ctx, store.SourceFilter{
				Group: g, State: models.SourceAvailableLocally, From: &date, To: &date,
			})
			if err != nil {
				return nil, err
			}
			for _, s := range srcs {
				if s.LocalPath == nil {
					return nil, fmt.Errorf("source %s has no local path", s.Filename)
				}
				path := *s.LocalPath
				out = append(out, Input{
					Name:  s.Filename,
					Group: g,
					Open: func(context.Context) (io.ReadCloser, error) {
						return os.Open(path)
					},
				})
			}
			continue
		}
		prods, err := x.ledger.QueryProducts(ctx, store.ProductFilter{
			Group: g, State: models.ProductReady, From: &date, To: &date,
		})
		if err != nil {
			return nil, err
		}
		for _, p := range prods {
			name := p.Filename
			out = append(out, Input{
				Name:  name,
				Group: g,
				Open: func(ctx context.Context) (io.ReadCloser, error) {
					return x.artifacts.Open(ctx, name)
				},
			})
		}
	}
	return out, nil
}

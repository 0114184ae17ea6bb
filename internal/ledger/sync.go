package ledger

import (
	"context"
	"fmt"

	"github.com/maraichr/eomat/internal/store"
)

// SyncCatalog mirrors the loaded catalog into the groups and pipelines
// tables so row-level foreign keys can reference them.
func (l *Ledger) SyncCatalog(ctx context.Context) error {
	return l.store.WithTx(ctx, func(q store.Querier) error {
		for _, g := range l.catalog.Groups() {
			if err := q.UpsertGroup(ctx, store.GroupRow{
				Name:        g.Name,
				Kind:        g.Kind,
				DatePattern: g.DatePattern,
				Discovery:   g.Discovery,
				Location:    g.Location,
			}); err != nil {
				return fmt.Errorf("sync group %s: %w", g.Name, err)
			}
		}
		for _, p := range l.catalog.Pipelines() {
			if err := q.UpsertPipeline(ctx, store.PipelineRow{
				Name:     p.Name,
				Inputs:   p.Inputs,
				Output:   p.Output,
				Function: p.Function,
				Kwargs:   p.Kwargs,
				Template: p.Template.String(),
				Enabled:  p.Enabled,
			}); err != nil {
				return fmt.Errorf("sync pipeline %s: %w", p.Name, err)
			}
		}
		return nil
	})
}

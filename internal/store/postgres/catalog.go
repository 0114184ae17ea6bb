package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maraichr/eomat/internal/store"
)

func (q *Queries) UpsertGroup(ctx context.Context, arg store.GroupRow) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO groups (name, kind, date_pattern, discovery, location)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO UPDATE
		 SET date_pattern = EXCLUDED.date_pattern,
		     discovery = EXCLUDED.discovery,
		     location = EXCLUDED.location,
		     updated_at = now()
		 WHERE groups.kind = EXCLUDED.kind`,
		arg.Name, string(arg.Kind), arg.DatePattern, arg.Discovery, arg.Location)
	return err
}

// UpsertPipeline replaces the pipeline row and its input set. Callers run it
// inside WithTx so the input set never appears half-written.
func (q *Queries) UpsertPipeline(ctx context.Context, arg store.PipelineRow) error {
	kwargs, err := json.Marshal(arg.Kwargs)
	if err != nil {
		return fmt.Errorf("marshal kwargs: %w", err)
	}
	if _, err := q.db.Exec(ctx,
		`INSERT INTO pipelines (name, output_group, function, kwargs, template, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE
		 SET output_group = EXCLUDED.output_group,
		     function = EXCLUDED.function,
		     kwargs = EXCLUDED.kwargs,
		     template = EXCLUDED.template,
		     enabled = EXCLUDED.enabled,
		     updated_at = now()`,
		arg.Name, arg.Output, arg.Function, kwargs, arg.Template, arg.Enabled); err != nil {
		return fmt.Errorf("upsert pipeline %s: %w", arg.Name, err)
	}
	if _, err := q.db.Exec(ctx, `DELETE FROM pipeline_inputs WHERE pipeline_name = $1`, arg.Name); err != nil {
		return err
	}
	_, err = q.db.Exec(ctx,
		`INSERT INTO pipeline_inputs (pipeline_name, group_name) SELECT $1, unnest($2::text[])`,
		arg.Name, arg.Inputs)
	return err
}

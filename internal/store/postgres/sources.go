package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/models"
)

const sourceColumns = `s.id, s.filename,
	ARRAY(SELECT sg.group_name FROM source_groups sg WHERE sg.source_id = s.id ORDER BY sg.group_name),
	s.domain, s.url, s.credentials, s.size_reported, s.size_actual, s.reference_date,
	s.state, s.local_path, s.error_message, s.created_at, s.updated_at`

func scanSource(row pgx.Row) (models.Source, error) {
	var i models.Source
	var state string
	err := row.Scan(
		&i.ID, &i.Filename, &i.Groups, &i.Domain, &i.URL, &i.Credentials,
		&i.SizeReported, &i.SizeActual, &i.ReferenceDate, &state,
		&i.LocalPath, &i.ErrorMessage, &i.CreatedAt, &i.UpdatedAt,
	)
	i.State = models.SourceState(state)
	return i, err
}

func (q *Queries) CreateSource(ctx context.Context, arg store.CreateSourceParams) (models.Source, bool, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx,
		`INSERT INTO sources (filename, domain, url, credentials, size_reported, reference_date, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (filename) DO NOTHING
		 RETURNING id`,
		arg.Filename, arg.Domain, arg.URL, arg.Credentials, arg.SizeReported,
		models.DateOnly(arg.ReferenceDate), string(models.SourceAvailableRemotely),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := q.GetSourceByFilename(ctx, arg.Filename)
		return existing, false, err
	}
	if err != nil {
		return models.Source{}, false, err
	}

	if _, err := q.db.Exec(ctx,
		`INSERT INTO source_groups (source_id, group_name)
		 SELECT $1, unnest($2::text[])
		 ON CONFLICT DO NOTHING`,
		id, arg.Groups); err != nil {
		return models.Source{}, false, err
	}

	src, err := q.GetSource(ctx, id)
	return src, true, err
}

func (q *Queries) GetSource(ctx context.Context, id uuid.UUID) (models.Source, error) {
	src, err := scanSource(q.db.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources s WHERE s.id = $1`, id))
	return src, notFound(err)
}

func (q *Queries) GetSourceByFilename(ctx context.Context, filename string) (models.Source, error) {
	src, err := scanSource(q.db.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources s WHERE s.filename = $1`, filename))
	return src, notFound(err)
}

func (q *Queries) LockSource(ctx context.Context, id uuid.UUID) (models.Source, error) {
	src, err := scanSource(q.db.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources s WHERE s.id = $1 FOR UPDATE OF s`, id))
	return src, notFound(err)
}

func (q *Queries) ListSources(ctx context.Context, f store.SourceFilter) ([]models.Source, error) {
	var w whereBuilder
	if f.Group != "" {
		w.add(`EXISTS (SELECT 1 FROM source_groups sg WHERE sg.source_id = s.id AND sg.group_name = $%d)`, f.Group)
	}
	if f.State != "" {
		w.add(`s.state = $%d`, string(f.State))
	}
	if f.From != nil {
		w.add(`s.reference_date >= $%d`, models.DateOnly(*f.From))
	}
	if f.To != nil {
		w.add(`s.reference_date <= $%d`, models.DateOnly(*f.To))
	}
	query := `SELECT ` + sourceColumns + ` FROM sources s` + w.sql() +
		` ORDER BY s.reference_date, s.filename` + w.page(f.Limit, f.Offset)

	rows, err := q.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.Source
	for rows.Next() {
		i, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (q *Queries) UpdateSource(ctx context.Context, arg store.UpdateSourceParams) (models.Source, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE sources
		 SET state = $2, local_path = $3, size_actual = $4, error_message = $5, updated_at = now()
		 WHERE id = $1`,
		arg.ID, string(arg.State), arg.LocalPath, arg.SizeActual, arg.ErrorMessage)
	if err != nil {
		return models.Source{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Source{}, store.ErrNotFound
	}
	return q.GetSource(ctx, arg.ID)
}

func (q *Queries) DeleteSource(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *Queries) CountSources(ctx context.Context, group string, date time.Time, state models.SourceState) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT count(*)
		 FROM sources s
		 JOIN source_groups sg ON sg.source_id = s.id
		 WHERE sg.group_name = $1 AND s.reference_date = $2 AND s.state = $3`,
		group, models.DateOnly(date), string(state)).Scan(&n)
	return n, err
}

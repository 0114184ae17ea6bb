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

const productColumns = `id, filename, group_name, reference_date, state, job_id, error_message, created_at, updated_at`

func scanProduct(row pgx.Row) (models.Product, error) {
	var i models.Product
	var state string
	err := row.Scan(
		&i.ID, &i.Filename, &i.Group, &i.ReferenceDate, &state,
		&i.JobID, &i.ErrorMessage, &i.CreatedAt, &i.UpdatedAt,
	)
	i.State = models.ProductState(state)
	return i, err
}

func collectProducts(rows pgx.Rows) ([]models.Product, error) {
	defer rows.Close()
	var items []models.Product
	for rows.Next() {
		i, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (q *Queries) CreateProduct(ctx context.Context, arg store.CreateProductParams) (models.Product, bool, error) {
	date := models.DateOnly(arg.ReferenceDate)
	p, err := scanProduct(q.db.QueryRow(ctx,
		`INSERT INTO products (filename, group_name, reference_date, state)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (reference_date, group_name) DO NOTHING
		 RETURNING `+productColumns,
		arg.Filename, arg.Group, date, string(arg.State)))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := q.GetProductByGroupDate(ctx, arg.Group, date)
		return existing, false, err
	}
	if err != nil {
		return models.Product{}, false, err
	}
	return p, true, nil
}

func (q *Queries) GetProduct(ctx context.Context, id uuid.UUID) (models.Product, error) {
	p, err := scanProduct(q.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	return p, notFound(err)
}

func (q *Queries) LockProduct(ctx context.Context, id uuid.UUID) (models.Product, error) {
	p, err := scanProduct(q.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	return p, notFound(err)
}

func (q *Queries) GetProductByGroupDate(ctx context.Context, group string, date time.Time) (models.Product, error) {
	p, err := scanProduct(q.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE group_name = $1 AND reference_date = $2`,
		group, models.DateOnly(date)))
	return p, notFound(err)
}

func (q *Queries) ListProducts(ctx context.Context, f store.ProductFilter) ([]models.Product, error) {
	var w whereBuilder
	if f.Group != "" {
		w.add(`group_name = $%d`, f.Group)
	}
	if f.State != "" {
		w.add(`state = $%d`, string(f.State))
	}
	if f.From != nil {
		w.add(`reference_date >= $%d`, models.DateOnly(*f.From))
	}
	if f.To != nil {
		w.add(`reference_date <= $%d`, models.DateOnly(*f.To))
	}
	query := `SELECT ` + productColumns + ` FROM products` + w.sql() +
		` ORDER BY reference_date, group_name` + w.page(f.Limit, f.Offset)

	rows, err := q.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func (q *Queries) UpdateProduct(ctx context.Context, arg store.UpdateProductParams) (models.Product, error) {
	p, err := scanProduct(q.db.QueryRow(ctx,
		`UPDATE products
		 SET state = $2, job_id = $3, error_message = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING `+productColumns,
		arg.ID, string(arg.State), arg.JobID, arg.ErrorMessage))
	return p, notFound(err)
}

func (q *Queries) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *Queries) CountProducts(ctx context.Context, group string, date time.Time, state models.ProductState) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT count(*) FROM products WHERE group_name = $1 AND reference_date = $2 AND state = $3`,
		group, models.DateOnly(date), string(state)).Scan(&n)
	return n, err
}

// ClaimProducts relies on SKIP LOCKED so concurrent sweeps partition the
// candidate rows instead of both claiming them.
func (q *Queries) ClaimProducts(ctx context.Context, from, to models.ProductState, limit int) ([]models.Product, error) {
	rows, err := q.db.Query(ctx,
		`UPDATE products
		 SET state = $2, updated_at = now()
		 WHERE id IN (
		     SELECT id FROM products
		     WHERE state = $1
		     ORDER BY reference_date, created_at
		     LIMIT $3
		     FOR UPDATE SKIP LOCKED)
		 RETURNING `+productColumns,
		string(from), string(to), limit)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

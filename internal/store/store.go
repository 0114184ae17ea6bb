// Package store declares the persistence contract for the source and product
// ledgers. Implementations live in store/postgres and store/memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/eomat/pkg/models"
)

var ErrNotFound = errors.New("not found")

type CreateSourceParams struct {
	Filename      string
	Groups        []string
	Domain        string
	URL           string
	Credentials   *string
	SizeReported  int64
	ReferenceDate time.Time
}

// UpdateSourceParams overwrites every mutable column of a source row.
type UpdateSourceParams struct {
	ID           uuid.UUID
	State        models.SourceState
	LocalPath    *string
	SizeActual   *int64
	ErrorMessage *string
}

type SourceFilter struct {
	Group string
	State models.SourceState
	// From and To bound reference_date inclusively when set.
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type CreateProductParams struct {
	Filename      string
	Group         string
	ReferenceDate time.Time
	State         models.ProductState
}

// UpdateProductParams overwrites every mutable column of a product row.
type UpdateProductParams struct {
	ID           uuid.UUID
	State        models.ProductState
	JobID        *string
	ErrorMessage *string
}

type ProductFilter struct {
	Group  string
	State  models.ProductState
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type GroupRow struct {
	Name        string
	Kind        models.GroupKind
	DatePattern string
	Discovery   string
	Location    string
}

type PipelineRow struct {
	Name     string
	Inputs   []string
	Output   string
	Function string
	Kwargs   map[string]string
	Template string
	Enabled  bool
}

// Querier is the set of ledger queries. Inside Store.WithTx every call runs
// in the same transaction.
type Querier interface {
	// CreateSource inserts a source unless one with the same filename exists,
	// in which case the existing row is returned with created == false.
	CreateSource(ctx context.Context, arg CreateSourceParams) (models.Source, bool, error)
	GetSource(ctx context.Context, id uuid.UUID) (models.Source, error)
	GetSourceByFilename(ctx context.Context, filename string) (models.Source, error)
	// LockSource reads a source and holds a row lock until the transaction ends.
	LockSource(ctx context.Context, id uuid.UUID) (models.Source, error)
	ListSources(ctx context.Context, f SourceFilter) ([]models.Source, error)
	UpdateSource(ctx context.Context, arg UpdateSourceParams) (models.Source, error)
	DeleteSource(ctx context.Context, id uuid.UUID) error
	CountSources(ctx context.Context, group string, date time.Time, state models.SourceState) (int, error)

	// CreateProduct inserts a product unless one exists for the same
	// (group, reference date); that row is returned with created == false.
	CreateProduct(ctx context.Context, arg CreateProductParams) (models.Product, bool, error)
	GetProduct(ctx context.Context, id uuid.UUID) (models.Product, error)
	LockProduct(ctx context.Context, id uuid.UUID) (models.Product, error)
	GetProductByGroupDate(ctx context.Context, group string, date time.Time) (models.Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error)
	UpdateProduct(ctx context.Context, arg UpdateProductParams) (models.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	CountProducts(ctx context.Context, group string, date time.Time, state models.ProductState) (int, error)
	// ClaimProducts moves up to limit products from one state to another and
	// returns them. Rows claimed by a concurrent caller are skipped.
	ClaimProducts(ctx context.Context, from, to models.ProductState, limit int) ([]models.Product, error)

	UpsertGroup(ctx context.Context, arg GroupRow) error
	UpsertPipeline(ctx context.Context, arg PipelineRow) error
}

type Store interface {
	Querier
	WithTx(ctx context.Context, fn func(Querier) error) error
	Ping(ctx context.Context) error
}

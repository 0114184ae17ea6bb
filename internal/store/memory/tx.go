package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/models"
)

// tx operates on the store state with the store mutex already held.
type tx struct {
	st  *state
	now func() time.Time
}

func copySource(s models.Source) models.Source {
	s.Groups = append([]string(nil), s.Groups...)
	return s
}

func (t *tx) CreateSource(_ context.Context, arg store.CreateSourceParams) (models.Source, bool, error) {
	for _, s := range t.st.sources {
		if s.Filename == arg.Filename {
			return copySource(s), false, nil
		}
	}
	for _, g := range arg.Groups {
		if _, ok := t.st.groups[g]; !ok && len(t.st.groups) > 0 {
			return models.Source{}, false, fmt.Errorf("group %q violates foreign key", g)
		}
	}
	now := t.now()
	groups := append([]string(nil), arg.Groups...)
	sort.Strings(groups)
	s := models.Source{
		ID:            uuid.New(),
		Filename:      arg.Filename,
		Groups:        groups,
		Domain:        arg.Domain,
		URL:           arg.URL,
		Credentials:   arg.Credentials,
		SizeReported:  arg.SizeReported,
		ReferenceDate: models.DateOnly(arg.ReferenceDate),
		State:         models.SourceAvailableRemotely,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	t.st.sources[s.ID] = s
	return copySource(s), true, nil
}

func (t *tx) GetSource(_ context.Context, id uuid.UUID) (models.Source, error) {
	s, ok := t.st.sources[id]
	if !ok {
		return models.Source{}, store.ErrNotFound
	}
	return copySource(s), nil
}

func (t *tx) GetSourceByFilename(_ context.Context, filename string) (models.Source, error) {
	for _, s := range t.st.sources {
		if s.Filename == filename {
			return copySource(s), nil
		}
	}
	return models.Source{}, store.ErrNotFound
}

func (t *tx) LockSource(ctx context.Context, id uuid.UUID) (models.Source, error) {
	return t.GetSource(ctx, id)
}

func inRange(d time.Time, from, to *time.Time) bool {
	if from != nil && d.Before(models.DateOnly(*from)) {
		return false
	}
	if to != nil && d.After(models.DateOnly(*to)) {
		return false
	}
	return true
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (t *tx) ListSources(_ context.Context, f store.SourceFilter) ([]models.Source, error) {
	var out []models.Source
	for _, s := range t.st.sources {
		if f.Group != "" && !s.InGroup(f.Group) {
			continue
		}
		if f.State != "" && s.State != f.State {
			continue
		}
		if !inRange(s.ReferenceDate, f.From, f.To) {
			continue
		}
		out = append(out, copySource(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReferenceDate.Equal(out[j].ReferenceDate) {
			return out[i].ReferenceDate.Before(out[j].ReferenceDate)
		}
		return out[i].Filename < out[j].Filename
	})
	return page(out, f.Limit, f.Offset), nil
}

func (t *tx) UpdateSource(_ context.Context, arg store.UpdateSourceParams) (models.Source, error) {
	s, ok := t.st.sources[arg.ID]
	if !ok {
		return models.Source{}, store.ErrNotFound
	}
	s.State = arg.State
	s.LocalPath = arg.LocalPath
	s.SizeActual = arg.SizeActual
	s.ErrorMessage = arg.ErrorMessage
	s.UpdatedAt = t.now()
	t.st.sources[s.ID] = s
	return copySource(s), nil
}

func (t *tx) DeleteSource(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.sources[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.sources, id)
	return nil
}

func (t *tx) CountSources(_ context.Context, group string, date time.Time, st models.SourceState) (int, error) {
	date = models.DateOnly(date)
	n := 0
	for _, s := range t.st.sources {
		if s.State == st && s.ReferenceDate.Equal(date) && s.InGroup(group) {
			n++
		}
	}
	return n, nil
}

func (t *tx) CreateProduct(_ context.Context, arg store.CreateProductParams) (models.Product, bool, error) {
	date := models.DateOnly(arg.ReferenceDate)
	for _, p := range t.st.products {
		if p.Group == arg.Group && p.ReferenceDate.Equal(date) {
			return p, false, nil
		}
	}
	for _, p := range t.st.products {
		if p.Filename == arg.Filename {
			return models.Product{}, false, fmt.Errorf("product filename %q already used by %s", arg.Filename, p.ID)
		}
	}
	now := t.now()
	p := models.Product{
		ID:            uuid.New(),
		Filename:      arg.Filename,
		Group:         arg.Group,
		ReferenceDate: date,
		State:         arg.State,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	t.st.products[p.ID] = p
	return p, true, nil
}

func (t *tx) GetProduct(_ context.Context, id uuid.UUID) (models.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return models.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (t *tx) LockProduct(ctx context.Context, id uuid.UUID) (models.Product, error) {
	return t.GetProduct(ctx, id)
}

func (t *tx) GetProductByGroupDate(_ context.Context, group string, date time.Time) (models.Product, error) {
	date = models.DateOnly(date)
	for _, p := range t.st.products {
		if p.Group == group && p.ReferenceDate.Equal(date) {
			return p, nil
		}
	}
	return models.Product{}, store.ErrNotFound
}

func sortProducts(out []models.Product) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReferenceDate.Equal(out[j].ReferenceDate) {
			return out[i].ReferenceDate.Before(out[j].ReferenceDate)
		}
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

func (t *tx) ListProducts(_ context.Context, f store.ProductFilter) ([]models.Product, error) {
	var out []models.Product
	for _, p := range t.st.products {
		if f.Group != "" && p.Group != f.Group {
			continue
		}
		if f.State != "" && p.State != f.State {
			continue
		}
		if !inRange(p.ReferenceDate, f.From, f.To) {
			continue
		}
		out = append(out, p)
	}
	sortProducts(out)
	return page(out, f.Limit, f.Offset), nil
}

func (t *tx) UpdateProduct(_ context.Context, arg store.UpdateProductParams) (models.Product, error) {
	p, ok := t.st.products[arg.ID]
	if !ok {
		return models.Product{}, store.ErrNotFound
	}
	p.State = arg.State
	p.JobID = arg.JobID
	p.ErrorMessage = arg.ErrorMessage
	p.UpdatedAt = t.now()
	t.st.products[p.ID] = p
	return p, nil
}

func (t *tx) DeleteProduct(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.products, id)
	return nil
}

func (t *tx) CountProducts(_ context.Context, group string, date time.Time, st models.ProductState) (int, error) {
	date = models.DateOnly(date)
	n := 0
	for _, p := range t.st.products {
		if p.State == st && p.Group == group && p.ReferenceDate.Equal(date) {
			n++
		}
	}
	return n, nil
}

func (t *tx) ClaimProducts(ctx context.Context, from, to models.ProductState, limit int) ([]models.Product, error) {
	candidates, _ := t.ListProducts(ctx, store.ProductFilter{State: from})
	candidates = page(candidates, limit, 0)
	now := t.now()
	out := make([]models.Product, 0, len(candidates))
	for _, p := range candidates {
		p.State = to
		p.UpdatedAt = now
		t.st.products[p.ID] = p
		out = append(out, p)
	}
	return out, nil
}

func (t *tx) UpsertGroup(_ context.Context, arg store.GroupRow) error {
	t.st.groups[arg.Name] = arg
	return nil
}

func (t *tx) UpsertPipeline(_ context.Context, arg store.PipelineRow) error {
	for _, g := range append([]string{arg.Output}, arg.Inputs...) {
		if _, ok := t.st.groups[g]; !ok {
			return fmt.Errorf("pipeline %s: group %q violates foreign key", arg.Name, g)
		}
	}
	arg.Inputs = append([]string(nil), arg.Inputs...)
	t.st.pipelines[arg.Name] = arg
	return nil
}

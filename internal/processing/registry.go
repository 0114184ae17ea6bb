// Package processing holds the static registry of processing functions and
// the job body that feeds them their inputs and stores their output.
package processing

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/maraichr/eomat/pkg/models"
)

// Input is one file a processor reads.
type Input struct {
	Name  string
	Group string
	Open  func(ctx context.Context) (io.ReadCloser, error)
}

type Request struct {
	Product       models.Product
	ReferenceDate time.Time
	Kwargs        map[string]string
	Inputs        []Input
}

// Processor writes a product artifact to w. Processors are opaque to the
// engine; returning nil means the artifact is complete.
type Processor interface {
	Process(ctx context.Context, req Request, w io.Writer) error
}

type ProcessorFunc func(ctx context.Context, req Request, w io.Writer) error

func (f ProcessorFunc) Process(ctx context.Context, req Request, w io.Writer) error {
	return f(ctx, req, w)
}

type Registry struct {
	procs map[string]Processor
}

func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]Processor)}
}

// Builtin returns a registry with every bundled processor.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("bundle", Bundle{})
	r.Register("passthrough", Passthrough{})
	r.Register("manifest", Manifest{})
	return r
}

func (r *Registry) Register(name string, p Processor) {
	r.procs[name] = p
}

// Has reports whether name is registered. Catalog loading uses it to reject
// pipelines naming unknown functions.
func (r *Registry) Has(name string) bool {
	_, ok := r.procs[name]
	return ok
}

func (r *Registry) Get(name string) (Processor, error) {
	p, ok := r.procs[name]
	if !ok {
		return nil, fmt.Errorf("unknown processing function %q", name)
	}
	return p, nil
}

// Names lists registered functions in order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.procs))
	for n := range r.procs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

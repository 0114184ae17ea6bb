// Package catalog holds the static group and pipeline registries. A Catalog
// is built once at startup and is read-only afterwards; every structural
// problem is reported then as fault.ErrMisconfiguration.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

const (
	DiscoveryManual    = "manual"
	DiscoveryS3        = "s3"
	DiscoveryHTTPIndex = "http_index"
)

// FunctionSet resolves processing function names. The processing registry
// implements it.
type FunctionSet interface {
	Has(name string) bool
}

type Group struct {
	Name         string           `json:"name"`
	Kind         models.GroupKind `json:"kind"`
	DatePattern  string           `json:"date_pattern,omitempty"`
	Discovery    string           `json:"discovery,omitempty"`
	Location     string           `json:"location,omitempty"`
	AutoDownload bool             `json:"auto_download"`

	datePattern *regexp.Regexp
}

// ExtractDate reads the reference date out of a filename using the group's
// date pattern. The pattern names its captures year plus month and day, or
// year plus doy.
func (g *Group) ExtractDate(filename string) (time.Time, error) {
	if g.datePattern == nil {
		return time.Time{}, fmt.Errorf("group %s has no date pattern", g.Name)
	}
	m := g.datePattern.FindStringSubmatch(filename)
	if m == nil {
		return time.Time{}, fmt.Errorf("filename %q does not match group %s", filename, g.Name)
	}
	parts := make(map[string]int, 4)
	for i, name := range g.datePattern.SubexpNames() {
		if name == "" || m[i] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i])
		if err != nil {
			return time.Time{}, fmt.Errorf("capture %s=%q: %w", name, m[i], err)
		}
		parts[name] = n
	}
	year := parts["year"]
	if doy, ok := parts["doy"]; ok {
		if doy < 1 || doy > 366 {
			return time.Time{}, fmt.Errorf("day of year %d out of range", doy)
		}
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1), nil
	}
	d := time.Date(year, time.Month(parts["month"]), parts["day"], 0, 0, 0, 0, time.UTC)
	if d.Month() != time.Month(parts["month"]) || d.Day() != parts["day"] {
		return time.Time{}, fmt.Errorf("invalid date %04d-%02d-%02d in %q", year, parts["month"], parts["day"], filename)
	}
	return d, nil
}

type Pipeline struct {
	Name               string            `json:"name"`
	Inputs             []string          `json:"inputs"`
	Output             string            `json:"output"`
	Function           string            `json:"function"`
	Kwargs             map[string]string `json:"kwargs,omitempty"`
	Template           Template          `json:"-"`
	Enabled            bool              `json:"enabled"`
	Window             *Window           `json:"-"`
	RegenerateOnUpdate bool              `json:"regenerate_on_update"`
}

// OutputFilename renders the product filename for a reference date.
func (p *Pipeline) OutputFilename(date time.Time) string {
	return p.Template.Render(date)
}

// Admits applies the pipeline's gating predicate to a reference date.
func (p *Pipeline) Admits(date time.Time) bool {
	return p.Window.Contains(date)
}

// ConsumesGroup reports whether name is one of the pipeline's inputs.
func (p *Pipeline) ConsumesGroup(name string) bool {
	for _, in := range p.Inputs {
		if in == name {
			return true
		}
	}
	return false
}

// functionKey identifies a pipeline at dispatch time.
func (p *Pipeline) functionKey() string {
	keys := make([]string, 0, len(p.Kwargs))
	for k := range p.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(p.Function)
	for _, k := range keys {
		b.WriteString("|" + k + "=" + p.Kwargs[k])
	}
	return b.String()
}

type Catalog struct {
	groups    map[string]*Group
	groupList []*Group
	pipelines []*Pipeline
	byOutput  map[string]*Pipeline
	consumers map[string][]*Pipeline
	expected  map[string]int
}

// Load reads and validates a catalog file.
func Load(path string, fns FunctionSet) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data, fns)
}

// Parse decodes catalog YAML and builds the registries.
func Parse(data []byte, fns FunctionSet) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fault.Misconfigured("decode catalog: %v", err)
	}
	return New(f, fns)
}

// Product filenames are unique across groups, so two templates that render
// the same name on any of these dates are rejected.
var templateSampleDates = []time.Time{
	time.Date(2000, time.January, 2, 0, 0, 0, 0, time.UTC),
	time.Date(2021, time.February, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New builds a Catalog from an already decoded File.
func New(f File, fns FunctionSet) (*Catalog, error) {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return nil, fault.Misconfigured("%s", strings.Join(msgs, "; "))
		}
		return nil, fault.Misconfigured("%v", err)
	}

	c := &Catalog{
		groups:    make(map[string]*Group, len(f.Groups)),
		byOutput:  make(map[string]*Pipeline, len(f.Pipelines)),
		consumers: make(map[string][]*Pipeline),
		expected:  make(map[string]int, len(f.ExpectedCounts)),
	}

	for _, gs := range f.Groups {
		g, err := buildGroup(gs)
		if err != nil {
			return nil, err
		}
		if _, dup := c.groups[g.Name]; dup {
			return nil, fault.Misconfigured("duplicate group %q", g.Name)
		}
		c.groups[g.Name] = g
		c.groupList = append(c.groupList, g)
	}

	functionKeys := make(map[string]string)
	rendered := make(map[string]string)
	names := make(map[string]bool)
	for _, ps := range f.Pipelines {
		p, err := c.buildPipeline(ps, fns)
		if err != nil {
			return nil, err
		}
		if names[p.Name] {
			return nil, fault.Misconfigured("duplicate pipeline %q", p.Name)
		}
		names[p.Name] = true
		if other, dup := c.byOutput[p.Output]; dup {
			return nil, fault.Misconfigured("pipelines %q and %q share output group %q", other.Name, p.Name, p.Output)
		}
		key := p.functionKey()
		if other, dup := functionKeys[key]; dup {
			return nil, fault.Misconfigured("pipelines %q and %q share function %s with identical kwargs", other, p.Name, p.Function)
		}
		functionKeys[key] = p.Name
		for _, d := range templateSampleDates {
			name := p.Template.Render(d)
			if other, dup := rendered[name]; dup {
				return nil, fault.Misconfigured("pipelines %q and %q both render product filename %q", other, p.Name, name)
			}
			rendered[name] = p.Name
		}
		c.byOutput[p.Output] = p
		c.pipelines = append(c.pipelines, p)
		for _, in := range p.Inputs {
			c.consumers[in] = append(c.consumers[in], p)
		}
	}

	for name, n := range f.ExpectedCounts {
		if _, ok := c.groups[name]; !ok {
			return nil, fault.Misconfigured("expected count for unknown group %q", name)
		}
		if n < 1 {
			return nil, fault.Misconfigured("expected count for %q must be >= 1, got %d", name, n)
		}
		if c.groups[name].Kind == models.GroupKindProduct && n > 1 {
			return nil, fault.Misconfigured("expected count for product group %q must be 1, got %d", name, n)
		}
		c.expected[name] = n
	}

	if cycle := c.findCycle(); cycle != nil {
		return nil, fault.Misconfigured("pipeline cycle: %s", strings.Join(cycle, " -> "))
	}
	return c, nil
}

func buildGroup(gs GroupSpec) (*Group, error) {
	g := &Group{
		Name:         gs.Name,
		Kind:         models.GroupKind(gs.Kind),
		DatePattern:  gs.DatePattern,
		Discovery:    gs.Discovery,
		Location:     gs.Location,
		AutoDownload: gs.AutoDownload,
	}
	if g.Kind == models.GroupKindProduct {
		if gs.DatePattern != "" || gs.Discovery != "" || gs.AutoDownload {
			return nil, fault.Misconfigured("product group %q cannot declare discovery settings", g.Name)
		}
		return g, nil
	}
	if g.Discovery == "" {
		g.Discovery = DiscoveryManual
	}
	if g.Discovery != DiscoveryManual {
		if g.Location == "" {
			return nil, fault.Misconfigured("group %q: discovery %s needs a location", g.Name, g.Discovery)
		}
		if gs.DatePattern == "" {
			return nil, fault.Misconfigured("group %q: discovery %s needs a date_pattern", g.Name, g.Discovery)
		}
	}
	if gs.DatePattern != "" {
		re, err := regexp.Compile(gs.DatePattern)
		if err != nil {
			return nil, fault.Misconfigured("group %q: date_pattern: %v", g.Name, err)
		}
		captures := make(map[string]bool)
		for _, n := range re.SubexpNames() {
			captures[n] = true
		}
		if !captures["year"] || !(captures["doy"] || (captures["month"] && captures["day"])) {
			return nil, fault.Misconfigured("group %q: date_pattern needs (?P<year>) with (?P<month>)(?P<day>) or (?P<doy>)", g.Name)
		}
		g.datePattern = re
	}
	return g, nil
}

func (c *Catalog) buildPipeline(ps PipelineSpec, fns FunctionSet) (*Pipeline, error) {
	p := &Pipeline{
		Name:               ps.Name,
		Inputs:             ps.Inputs,
		Output:             ps.Output,
		Function:           ps.Function,
		Kwargs:             ps.Kwargs,
		Enabled:            ps.Enabled == nil || *ps.Enabled,
		RegenerateOnUpdate: ps.RegenerateOnUpdate,
	}
	if p.Kwargs == nil {
		p.Kwargs = map[string]string{}
	}
	seen := make(map[string]bool, len(ps.Inputs))
	for _, in := range ps.Inputs {
		if _, ok := c.groups[in]; !ok {
			return nil, fault.Misconfigured("pipeline %q: %v", p.Name, fault.UnknownGroup(in))
		}
		if seen[in] {
			return nil, fault.Misconfigured("pipeline %q lists input %q twice", p.Name, in)
		}
		seen[in] = true
	}
	out, ok := c.groups[ps.Output]
	if !ok {
		return nil, fault.Misconfigured("pipeline %q: %v", p.Name, fault.UnknownGroup(ps.Output))
	}
	if out.Kind != models.GroupKindProduct {
		return nil, fault.Misconfigured("pipeline %q: output %q is not a product group", p.Name, ps.Output)
	}
	if fns == nil || !fns.Has(ps.Function) {
		return nil, fault.Misconfigured("pipeline %q: unknown processing function %q", p.Name, ps.Function)
	}
	tmpl, err := ParseTemplate(ps.Template)
	if err != nil {
		return nil, fault.Misconfigured("pipeline %q: %v", p.Name, err)
	}
	p.Template = tmpl
	if ps.Window != nil {
		w, err := ParseWindow(*ps.Window)
		if err != nil {
			return nil, fault.Misconfigured("pipeline %q: window: %v", p.Name, err)
		}
		p.Window = w
	}
	return p, nil
}

// findCycle walks group -> output group edges and returns the first cycle.
func (c *Catalog) findCycle() []string {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(c.groups))
	var stack []string
	var visit func(g string) []string
	visit = func(g string) []string {
		state[g] = active
		stack = append(stack, g)
		for _, p := range c.consumers[g] {
			switch state[p.Output] {
			case active:
				for i, s := range stack {
					if s == p.Output {
						return append(append([]string{}, stack[i:]...), p.Output)
					}
				}
			case unvisited:
				if cyc := visit(p.Output); cyc != nil {
					return cyc
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[g] = done
		return nil
	}
	for _, g := range c.groupList {
		if state[g.Name] == unvisited {
			if cyc := visit(g.Name); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// Resolve returns the named group or fault.ErrUnknownGroup.
func (c *Catalog) Resolve(name string) (*Group, error) {
	g, ok := c.groups[name]
	if !ok {
		return nil, fault.UnknownGroup(name)
	}
	return g, nil
}

func (c *Catalog) KindOf(name string) (models.GroupKind, error) {
	g, err := c.Resolve(name)
	if err != nil {
		return "", err
	}
	return g.Kind, nil
}

// Groups returns groups in declaration order.
func (c *Catalog) Groups() []*Group { return c.groupList }

// Pipelines returns pipelines in declaration order, enabled or not.
func (c *Catalog) Pipelines() []*Pipeline { return c.pipelines }

// Pipeline looks a pipeline up by name.
func (c *Catalog) Pipeline(name string) (*Pipeline, bool) {
	for _, p := range c.pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Producer returns the pipeline whose output is the given product group.
func (c *Catalog) Producer(outputGroup string) (*Pipeline, bool) {
	p, ok := c.byOutput[outputGroup]
	return p, ok
}

// Consumers returns the enabled pipelines that take group as an input.
func (c *Catalog) Consumers(group string) []*Pipeline {
	var out []*Pipeline
	for _, p := range c.consumers[group] {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Downstream returns every pipeline that takes group as an input, enabled
// or not. Rows produced by a since-disabled pipeline still depend on it.
func (c *Catalog) Downstream(group string) []*Pipeline {
	return c.consumers[group]
}

// ExpectedCount is the number of present rows a group needs per reference
// date before a consuming pipeline is complete. Unlisted groups need one.
func (c *Catalog) ExpectedCount(group string) int {
	if n, ok := c.expected[group]; ok {
		return n
	}
	return 1
}

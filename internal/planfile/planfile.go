// Package planfile reads load plans from YAML files for the CLI and renders
// loaded graphs as JSON.
package planfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"navload/internal/navload"
	"navload/internal/store"
)

// File is a load plan as written in YAML:
//
//	root: Blog
//	where:
//	  - {column: id, op: in, values: [1, 2]}
//	order_by:
//	  - {column: id, desc: true}
//	limit: 10
//	terminal: to_list
//	include:
//	  - path: Posts.Comments
//	  - path: Posts
//	    then:
//	      - path: Author
//	        one_to_one: true
type File struct {
	Root     string    `yaml:"root"`
	Where    []Filter  `yaml:"where"`
	OrderBy  []Order   `yaml:"order_by"`
	Limit    *uint64   `yaml:"limit"`
	Offset   uint64    `yaml:"offset"`
	Tracking string    `yaml:"tracking"`
	Terminal string    `yaml:"terminal"`
	Include  []Include `yaml:"include"`
}

// Filter is one root predicate. Op defaults to "eq".
type Filter struct {
	Column string `yaml:"column"`
	Op     string `yaml:"op"`
	Value  any    `yaml:"value"`
	Values []any  `yaml:"values"`
}

type Order struct {
	Column string `yaml:"column"`
	Desc   bool   `yaml:"desc"`
}

// Step is one navigation path with its options.
type Step struct {
	Path            string `yaml:"path"`
	OneToOne        bool   `yaml:"one_to_one"`
	RegenerateByKey bool   `yaml:"regenerate_by_key"`
}

// Include starts a chain at Path and extends it with Then, in order.
type Include struct {
	Step `yaml:",inline"`
	Then []Step `yaml:"then"`
}

// Execution is a plan file resolved against a loader's catalogue.
type Execution struct {
	Query    store.Query
	Plan     navload.Plan
	Terminal navload.Terminal
}

var compareOps = map[string]string{
	"lt": "<", "<": "<",
	"lte": "<=", "<=": "<=",
	"gt": ">", ">": ">",
	"gte": ">=", ">=": ">=",
	"ne": "<>", "<>": "<>", "!=": "<>",
	"like": "LIKE",
}

// Load reads and validates a plan file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a YAML plan.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &f, nil
}

// Validate checks the parts of the plan that do not need a catalogue.
func (f *File) Validate() error {
	var errs []error
	if strings.TrimSpace(f.Root) == "" {
		errs = append(errs, errors.New("root is required"))
	}
	switch strings.ToLower(f.Tracking) {
	case "", "default", "on", "off":
	default:
		errs = append(errs, fmt.Errorf("tracking must be on, off or default, got %q", f.Tracking))
	}
	if _, err := navload.ParseTerminal(f.Terminal); err != nil {
		errs = append(errs, err)
	}
	for i, w := range f.Where {
		if w.Column == "" {
			errs = append(errs, fmt.Errorf("where[%d]: column is required", i))
		}
		op := strings.ToLower(w.Op)
		if _, ok := compareOps[op]; !ok && op != "" && op != "eq" && op != "=" && op != "in" && op != "not_null" {
			errs = append(errs, fmt.Errorf("where[%d]: unknown op %q", i, w.Op))
		}
	}
	for i, o := range f.OrderBy {
		if o.Column == "" {
			errs = append(errs, fmt.Errorf("order_by[%d]: column is required", i))
		}
	}
	for i, inc := range f.Include {
		if inc.Path == "" {
			errs = append(errs, fmt.Errorf("include[%d]: path is required", i))
		}
		for j, step := range inc.Then {
			if step.Path == "" {
				errs = append(errs, fmt.Errorf("include[%d].then[%d]: path is required", i, j))
			}
		}
	}
	return errors.Join(errs...)
}

func (f Filter) spec() store.FilterSpec {
	op := strings.ToLower(f.Op)
	switch op {
	case "", "eq", "=":
		return store.Eq(f.Column, f.Value)
	case "in":
		return store.In(f.Column, f.Values)
	case "not_null":
		return store.NotNull(f.Column)
	default:
		return store.Compare(f.Column, compareOps[op], f.Value)
	}
}

func (s Step) options() []navload.IncludeOption {
	var opts []navload.IncludeOption
	if s.OneToOne {
		opts = append(opts, navload.OneToOne())
	}
	if s.RegenerateByKey {
		opts = append(opts, navload.RegenerateByKey())
	}
	return opts
}

// Build resolves the plan against l's catalogue.
func (f *File) Build(l *navload.Loader) (Execution, error) {
	root, ok := l.Store().Catalog().Type(f.Root)
	if !ok {
		return Execution{}, fmt.Errorf("unknown root type %q", f.Root)
	}
	terminal, err := navload.ParseTerminal(f.Terminal)
	if err != nil {
		return Execution{}, err
	}

	q := l.Store().Source(root)
	for _, w := range f.Where {
		q = q.Where(w.spec())
	}
	for _, o := range f.OrderBy {
		if o.Desc {
			q = q.OrderByDesc(o.Column)
		} else {
			q = q.OrderBy(o.Column)
		}
	}
	if f.Limit != nil {
		q = q.Limit(*f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	switch strings.ToLower(f.Tracking) {
	case "on":
		q = q.AsTracking()
	case "off":
		q = q.AsNoTracking()
	}
	if err := q.Validate(); err != nil {
		return Execution{}, err
	}

	plan := l.NewPlan(root)
	for _, inc := range f.Include {
		if plan, err = plan.Include(inc.Path, inc.options()...); err != nil {
			return Execution{}, err
		}
		for _, step := range inc.Then {
			if plan, err = plan.ThenInclude(step.Path, step.options()...); err != nil {
				return Execution{}, err
			}
		}
	}
	return Execution{Query: q, Plan: plan, Terminal: terminal}, nil
}

// Run builds the plan and loads it.
func (f *File) Run(ctx context.Context, l *navload.Loader) ([]any, *navload.Report, error) {
	e, err := f.Build(l)
	if err != nil {
		return nil, nil, err
	}
	return l.Load(ctx, e.Query, e.Plan, e.Terminal)
}

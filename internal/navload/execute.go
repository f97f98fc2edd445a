// Package navload loads navigation graphs level by level. A plan of chains
// (Include / ThenInclude) is executed against a store: the root records are
// fetched with their leading to-one steps joined in, then every chain is
// driven one relationship level at a time with a single batched fetch per
// level, deduplicated across chains, and the results are stitched onto their
// owners together with the inverse references.
package navload

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"navload/internal/entity"
	"navload/internal/logging"
	"navload/internal/observability"
	"navload/internal/schema"
	"navload/internal/store"
)

// DefaultMaxInClause caps the number of keys per IN list.
const DefaultMaxInClause = 1000

// Store is what the loader needs from the relational store.
type Store interface {
	Catalog() *schema.Catalog
	Source(t *entity.Type) store.Query
	Fetch(ctx context.Context, q store.Query) ([]store.Row, error)
	IsTrackingEnabled(q store.Query) bool
}

// Loader executes plans against a store. It holds no per-execution state and
// may be shared between goroutines.
type Loader struct {
	store        Store
	maxInClause  int
	combineJoins bool
	metrics      *observability.LoaderMetrics
}

// Option configures a Loader.
type Option func(*Loader)

// WithMaxInClause sets the number of keys per keyed fetch; larger key sets are
// split over several fetches.
func WithMaxInClause(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxInClause = n
		}
	}
}

// WithoutJoinCombination fetches every level separately instead of joining
// runs of to-one steps onto the previous fetch.
func WithoutJoinCombination() Option {
	return func(l *Loader) { l.combineJoins = false }
}

// WithMetrics records loader metrics.
func WithMetrics(m *observability.LoaderMetrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// New creates a loader over s.
func New(s Store, opts ...Option) *Loader {
	l := &Loader{
		store:        s,
		maxInClause:  DefaultMaxInClause,
		combineJoins: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying store.
func (l *Loader) Store() Store { return l.store }

// NewPlan starts an empty plan over root.
func (l *Loader) NewPlan(root *entity.Type) Plan {
	return NewPlan(l.store.Catalog(), root)
}

// Terminal selects how the root query is materialised.
type Terminal int

const (
	TerminalList Terminal = iota
	TerminalFirst
	TerminalFirstOrDefault
	TerminalLast
	TerminalLastOrDefault
	TerminalSingle
	TerminalSingleOrDefault
)

var terminalNames = map[Terminal]string{
	TerminalList:            "to_list",
	TerminalFirst:           "first",
	TerminalFirstOrDefault:  "first_or_default",
	TerminalLast:            "last",
	TerminalLastOrDefault:   "last_or_default",
	TerminalSingle:          "single",
	TerminalSingleOrDefault: "single_or_default",
}

func (t Terminal) String() string {
	if name, ok := terminalNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseTerminal maps a terminal name ("to_list", "first", ...) to a Terminal.
// "to_array" and the empty string mean TerminalList.
func ParseTerminal(name string) (Terminal, error) {
	switch name {
	case "", "to_array":
		return TerminalList, nil
	}
	for t, n := range terminalNames {
		if n == name {
			return t, nil
		}
	}
	return TerminalList, fmt.Errorf("navload: unknown terminal %q", name)
}

func (t Terminal) takesOne() bool { return t != TerminalList }

func (t Terminal) orDefault() bool {
	return t == TerminalFirstOrDefault || t == TerminalLastOrDefault || t == TerminalSingleOrDefault
}

// Load runs root, drives every chain of plan over the result and returns the
// root records. Take-one terminals return at most one record; the OrDefault
// variants return no records instead of ErrNotFound. The report is returned
// even when the execution fails.
func (l *Loader) Load(ctx context.Context, root store.Query, plan Plan, terminal Terminal) ([]any, *Report, error) {
	start := time.Now()
	executionID := uuid.NewString()
	logger := logging.FromContext(ctx).WithExecutionID(executionID)
	ctx = logging.WithLogger(logging.WithExecutionIDContext(ctx, executionID), logger)

	ctx, span := startSpan(ctx, "navload.execute",
		attribute.String("navload.execution_id", executionID),
		attribute.String("navload.root", root.Type().Name()),
		attribute.String("navload.terminal", terminal.String()),
	)
	defer span.End()

	tracking := store.TrackingOff
	if l.store.IsTrackingEnabled(root) {
		tracking = store.TrackingOn
	}
	report := &Report{
		ExecutionID: executionID,
		Root:        root.Type().Name(),
		Terminal:    terminal.String(),
		Tracking:    tracking == store.TrackingOn,
	}

	var (
		records []any
		err     error
	)
	if plan.root != nil && plan.root != root.Type() {
		err = fmt.Errorf("navload: plan is rooted at %s but the query selects %s", plan.root.Name(), root.Type().Name())
	} else {
		ex := newExecution(l, plan, tracking, report)
		records, err = ex.run(ctx, root.WithTracking(tracking), terminal)
		report.RegistryHits = ex.reg.hits
		report.RegistryMisses = ex.reg.misses
	}
	report.Records = len(records)
	report.Duration = time.Since(start)
	l.metrics.RecordExecution(ctx, terminal.String(), report.Duration, err)

	span.SetAttributes(
		attribute.Int("navload.fetches", report.Fetches),
		attribute.Int("navload.records", report.Records),
	)
	if err != nil {
		recordSpanError(span, err)
		logger.Error("navload execution failed",
			slogAttrs(report, "error", err)...,
		)
		return nil, report, err
	}
	logger.Info("navload execution", slogAttrs(report)...)
	return records, report, nil
}

func slogAttrs(r *Report, extra ...any) []any {
	attrs := []any{
		"root", r.Root,
		"terminal", r.Terminal,
		"tracking", r.Tracking,
		"records", r.Records,
		"fetches", r.Fetches,
		"registry_hits", r.RegistryHits,
		"registry_misses", r.RegistryMisses,
		"duration_ms", r.Duration.Milliseconds(),
	}
	return append(attrs, extra...)
}

// rootAnchor is the anchor key of the root fetch.
const rootAnchor = ""

// joinSpec is one to-one step joined onto an anchor fetch. Its scope in the
// anchor query is its index in anchorPlan.joins plus one.
type joinSpec struct {
	node   int
	parent int
}

type anchorPlan struct {
	joins  []joinSpec
	scopes map[string]int
}

// execution is the state of one terminal call.
type execution struct {
	loader   *Loader
	plan     Plan
	tracking store.Tracking
	reg      *registry
	ident    map[identKey]any
	anchors  map[string]*anchorPlan
	report   *Report
}

func newExecution(l *Loader, plan Plan, tracking store.Tracking, report *Report) *execution {
	ex := &execution{
		loader:   l,
		plan:     plan,
		tracking: tracking,
		reg:      newRegistry(),
		ident:    make(map[identKey]any),
		report:   report,
	}
	ex.anchors = ex.compileAnchors()
	return ex
}

// compileAnchors merges, across all chains, the runs of to-one steps that
// directly follow the root or a collection step into one join tree per
// anchor. A run ends at a step flagged RegenerateByKey.
func (ex *execution) compileAnchors() map[string]*anchorPlan {
	anchors := make(map[string]*anchorPlan)
	if !ex.loader.combineJoins {
		return anchors
	}
	for _, chain := range ex.plan.chains() {
		anchor := rootAnchor
		parent := 0
		open := true
		for _, idx := range chain {
			n := ex.plan.nodes[idx]
			if n.rel.Kind == schema.ToMany {
				anchor = n.registryKey()
				parent = 0
				open = true
				continue
			}
			if !open || n.regenerate {
				open = false
				continue
			}
			a, ok := anchors[anchor]
			if !ok {
				a = &anchorPlan{scopes: make(map[string]int)}
				anchors[anchor] = a
			}
			key := n.registryKey()
			if scope, ok := a.scopes[key]; ok {
				parent = scope
				continue
			}
			a.joins = append(a.joins, joinSpec{node: idx, parent: parent})
			parent = len(a.joins)
			a.scopes[key] = parent
		}
	}
	return anchors
}

// withJoins attaches the join tree of anchor to q.
func (ex *execution) withJoins(q store.Query, anchor string) store.Query {
	a, ok := ex.anchors[anchor]
	if !ok {
		return q
	}
	for _, j := range a.joins {
		q, _ = newNavigator(ex.plan.nodes[j.node]).joinOnto(q, j.parent)
	}
	return q
}

func (ex *execution) run(ctx context.Context, root store.Query, terminal Terminal) ([]any, error) {
	roots, source, err := ex.fetchRoot(ctx, root, terminal)
	if err != nil || len(roots) == 0 {
		return roots, err
	}
	for _, chain := range ex.plan.chains() {
		if err := ex.driveChain(ctx, chain, roots, source); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

// fetchRoot materialises the root query with its joined to-one steps. For
// take-one terminals the returned source is rebuilt as a primary-key match on
// the record found.
func (ex *execution) fetchRoot(ctx context.Context, root store.Query, terminal Terminal) ([]any, levelSource, error) {
	rootType := root.Type()
	q := ex.withJoins(root, rootAnchor)
	pickLast := false
	switch terminal {
	case TerminalFirst, TerminalFirstOrDefault:
		q = capAt(q, 1)
	case TerminalLast, TerminalLastOrDefault:
		if root.HasCap() {
			// The last row of a capped window is not the first row of the
			// reversed query; fetch the window and pick in memory.
			pickLast = true
			if len(root.Orders()) == 0 {
				q = q.OrderBy(rootType.PrimaryKey())
			}
		} else {
			q = q.Reversed().Limit(1)
		}
	case TerminalSingle, TerminalSingleOrDefault:
		q = capAt(q, 2)
	}

	rows, err := ex.fetch(ctx, q)
	if err != nil {
		return nil, levelSource{}, err
	}
	if pickLast && len(rows) > 0 {
		rows = rows[len(rows)-1:]
	}
	ex.canonicalize(q, rows)

	source := levelSource{query: root}
	if terminal.takesOne() {
		switch {
		case len(rows) == 0 && terminal.orDefault():
			return nil, levelSource{}, nil
		case len(rows) == 0:
			return nil, levelSource{}, &NotFoundError{Type: rootType.Name()}
		case len(rows) > 1:
			return nil, levelSource{}, &NotSingularError{Type: rootType.Name()}
		}
		key, _ := rootType.KeyOf(rows[0][0])
		source = levelSource{query: store.From(rootType).Where(store.Eq(rootType.PrimaryKey(), key))}
	}

	roots := distinct(rootType, column(rows, 0))
	if err := ex.stitchJoins(ctx, rootAnchor, rows, source); err != nil {
		return nil, levelSource{}, err
	}
	return roots, source, nil
}

// capAt lowers the row cap of q to n, keeping a smaller cap set by the caller.
func capAt(q store.Query, n uint64) store.Query {
	if limit, ok := q.LimitValue(); ok && limit < n {
		return q
	}
	return q.Limit(n)
}

// driveChain walks one chain level by level. The owners of each level are the
// records reached through the previous level's navigation.
func (ex *execution) driveChain(ctx context.Context, chain []int, roots []any, rootSource levelSource) error {
	owners := roots
	source := rootSource
	for _, idx := range chain {
		n := ex.plan.nodes[idx]
		entry, err := ex.level(ctx, idx, owners, source)
		if err != nil {
			return err
		}
		next := reached(n.rel, owners)
		if entry != nil && len(entry.owners) == len(owners) {
			source = entry.source()
		} else {
			source = levelSource{query: keyedByPrimaryKey(n.rel.Related, next), keyed: true}
		}
		owners = next
	}
	return nil
}

// fetch runs q with the execution's tracking mode.
func (ex *execution) fetch(ctx context.Context, q store.Query) ([]store.Row, error) {
	ex.report.Fetches++
	return ex.loader.store.Fetch(ctx, q.WithTracking(ex.tracking))
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("navload")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

package navload

import (
	"fmt"
	"strings"

	"navload/internal/entity"
	"navload/internal/schema"
)

// IncludeOption tunes one loading step.
type IncludeOption func(*includeOptions)

type includeOptions struct {
	oneToOne   bool
	regenerate bool
}

// OneToOne marks a to-one step whose owners never share a target, so the
// foreign key values are not deduplicated before fetching.
func OneToOne() IncludeOption {
	return func(o *includeOptions) { o.oneToOne = true }
}

// RegenerateByKey forces the step to be fetched with an explicit key list
// instead of a subquery or join over the previous level.
func RegenerateByKey() IncludeOption {
	return func(o *includeOptions) { o.regenerate = true }
}

const noNode = -1

// node is one loading step. Nodes live in the plan's arena and refer to each
// other by index.
type node struct {
	prev       int
	next       int
	rel        schema.Relationship
	path       string
	offset     int
	fkChain    string
	oneToOne   bool
	regenerate bool
}

// registryKey identifies the level a node loads: two nodes with the same key
// load the same related set for the same owners.
func (n node) registryKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", n.rel.Owner.Name(), n.fkChain, n.rel.Navigation.Name(), n.offset)
}

// Plan is an immutable set of loading chains rooted at one type. Include
// starts a chain, ThenInclude extends the most recent one. Every method
// returns a new Plan; the receiver is never modified.
type Plan struct {
	catalog *schema.Catalog
	root    *entity.Type
	nodes   []node
	current int
	leaves  []int
}

// NewPlan returns an empty plan over root.
func NewPlan(catalog *schema.Catalog, root *entity.Type) Plan {
	return Plan{catalog: catalog, root: root, current: noNode}
}

// Root returns the root type.
func (p Plan) Root() *entity.Type { return p.root }

// IsEmpty reports whether no chain was registered.
func (p Plan) IsEmpty() bool { return len(p.nodes) == 0 }

func (p Plan) clone() Plan {
	c := p
	c.nodes = append([]node(nil), p.nodes...)
	c.leaves = append([]int(nil), p.leaves...)
	return c
}

// Include starts a new chain from the root. A dotted path such as
// "Posts.Comments" is shorthand for Include("Posts").ThenInclude("Comments");
// options apply to the last segment.
func (p Plan) Include(path string, opts ...IncludeOption) (Plan, error) {
	segments, err := splitPath(path)
	if err != nil {
		return p, err
	}
	c := p.clone()
	if err := c.appendNode(noNode, segments[0], optionsFor(segments, 0, opts)); err != nil {
		return p, err
	}
	for i := 1; i < len(segments); i++ {
		if err := c.appendNode(c.current, segments[i], optionsFor(segments, i, opts)); err != nil {
			return p, err
		}
	}
	return c, nil
}

// ThenInclude extends the chain started by the last Include.
func (p Plan) ThenInclude(path string, opts ...IncludeOption) (Plan, error) {
	if p.current == noNode {
		return p, chainStateError("ThenInclude(%q) without a preceding Include", path)
	}
	segments, err := splitPath(path)
	if err != nil {
		return p, err
	}
	c := p.clone()
	for i, seg := range segments {
		if err := c.appendNode(c.current, seg, optionsFor(segments, i, opts)); err != nil {
			return p, err
		}
	}
	return c, nil
}

func splitPath(path string) ([]string, error) {
	segments := strings.Split(strings.TrimSpace(path), ".")
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("navload: invalid navigation path %q", path)
		}
	}
	return segments, nil
}

func optionsFor(segments []string, i int, opts []IncludeOption) includeOptions {
	var o includeOptions
	if i != len(segments)-1 {
		return o
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// appendNode classifies navigation on the type reached by prev and links the
// new node after it. prev == noNode starts a chain at the root.
func (p *Plan) appendNode(prev int, navigation string, opts includeOptions) error {
	owner := p.root
	offset := 1
	fkChain := ""
	path := navigation
	if prev != noNode {
		parent := p.nodes[prev]
		if parent.next != noNode {
			return chainStateError("%s already continues with %s", parent.path, p.nodes[parent.next].rel.Navigation.Name())
		}
		owner = parent.rel.Related
		offset = parent.offset + 1
		fkChain = parent.fkChain + "|"
		path = parent.path + "." + navigation
	}

	rel, err := p.catalog.Classify(owner, navigation)
	if err != nil {
		return err
	}
	fkChain += rel.Related.Name() + ":" + rel.ForeignKey

	idx := len(p.nodes)
	p.nodes = append(p.nodes, node{
		prev:       prev,
		next:       noNode,
		rel:        rel,
		path:       path,
		offset:     offset,
		fkChain:    fkChain,
		oneToOne:   opts.oneToOne,
		regenerate: opts.regenerate,
	})
	if prev == noNode {
		p.leaves = append(p.leaves, idx)
	} else {
		p.nodes[prev].next = idx
		// prev was the chain's leaf; the chain now ends at idx.
		for i, leaf := range p.leaves {
			if leaf == prev {
				p.leaves[i] = idx
			}
		}
	}
	p.current = idx
	return nil
}

// chains returns node indices per chain, root first, in registration order.
func (p Plan) chains() [][]int {
	out := make([][]int, 0, len(p.leaves))
	for _, leaf := range p.leaves {
		var chain []int
		for i := leaf; i != noNode; i = p.nodes[i].prev {
			chain = append(chain, i)
		}
		for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
			chain[l], chain[r] = chain[r], chain[l]
		}
		out = append(out, chain)
	}
	return out
}

// Step describes one node of a chain for callers and reports.
type Step struct {
	Path            string
	Owner           string
	Navigation      string
	Related         string
	Kind            schema.Kind
	Offset          int
	FKChain         string
	OneToOne        bool
	RegenerateByKey bool
}

// Chains lists the registered chains, root first.
func (p Plan) Chains() [][]Step {
	var out [][]Step
	for _, chain := range p.chains() {
		steps := make([]Step, len(chain))
		for i, idx := range chain {
			n := p.nodes[idx]
			steps[i] = Step{
				Path:            n.path,
				Owner:           n.rel.Owner.Name(),
				Navigation:      n.rel.Navigation.Name(),
				Related:         n.rel.Related.Name(),
				Kind:            n.rel.Kind,
				Offset:          n.offset,
				FKChain:         n.fkChain,
				OneToOne:        n.oneToOne,
				RegenerateByKey: n.regenerate,
			}
		}
		out = append(out, steps)
	}
	return out
}

func (p Plan) String() string {
	if p.root == nil {
		return "<empty plan>"
	}
	var b strings.Builder
	b.WriteString(p.root.Name())
	for _, chain := range p.Chains() {
		b.WriteString("\n  ")
		for i, s := range chain {
			if i > 0 {
				b.WriteString(" -> ")
			}
			fmt.Fprintf(&b, "%s (%s)", s.Navigation, s.Kind)
		}
	}
	return b.String()
}

package navload

import (
	"navload/internal/schema"
	"navload/internal/store"
)

// loadState is the tri-state answer to "is this navigation loaded for these
// owners". A nil reference cannot tell "checked, absent" from "never
// checked"; the registry remembers checked-absent owners explicitly.
type loadState int

const (
	loadUnknown loadState = iota
	loadCheckedAbsent
	loadCheckedPresent
)

func (s loadState) String() string {
	switch s {
	case loadCheckedAbsent:
		return "checked_absent"
	case loadCheckedPresent:
		return "checked_present"
	default:
		return "unknown"
	}
}

// navigator is the behaviour shared by the three node kinds.
type navigator interface {
	relationship() schema.Relationship
	// buildQuery returns the related set reachable from source through a
	// subquery filter.
	buildQuery(source store.Query) store.Query
	// keyedQuery returns the related records whose correlated column is in keys.
	keyedQuery(keys []any) store.Query
	// joinOnto LEFT JOINs the related type onto scope parent of anchor; only
	// valid for single-valued nodes.
	joinOnto(anchor store.Query, parent int) (store.Query, int)
	// pending returns the owners whose navigation still needs a fetch.
	pending(owners []any, reg *registry) []any
	// fetchKeys returns the related-side key values to fetch for owners.
	fetchKeys(owners []any) []any
	alreadyLoaded(owners []any) []any
	fullyLoaded(owners []any, reg *registry) loadState
	// stitch assigns related onto owners and returns the per-owner states of
	// single-valued navigations (nil for collections).
	stitch(owners, related []any) (map[any]loadState, error)
}

func newNavigator(n node) navigator {
	b := base{rel: n.rel, oneToOne: n.oneToOne}
	switch n.rel.Kind {
	case schema.ToMany:
		return &toManyNode{base: b}
	case schema.ToOneUnique:
		return &toOneUniqueNode{base: b}
	default:
		return &toOneNode{base: b}
	}
}

type base struct {
	rel      schema.Relationship
	oneToOne bool
}

func (b *base) relationship() schema.Relationship { return b.rel }

func (b *base) ownerValue(owner any) (any, bool) {
	return b.rel.Owner.KeyValue(owner, b.rel.OwnerColumn())
}

func (b *base) relatedValue(related any) (any, bool) {
	return b.rel.Related.KeyValue(related, b.rel.RelatedColumn())
}

func (b *base) ownerKey(owner any) any {
	key, _ := b.rel.Owner.KeyOf(owner)
	return key
}

// buildQuery drops the source's ordering. Capped sources are never used as
// subqueries, so no rows are lost.
func (b *base) buildQuery(source store.Query) store.Query {
	correlated := source.WithoutJoins().WithoutCaps().Project(b.rel.OwnerColumn())
	return store.From(b.rel.Related).Where(store.InQuery(b.rel.RelatedColumn(), correlated))
}

func (b *base) keyedQuery(keys []any) store.Query {
	return store.From(b.rel.Related).Where(store.In(b.rel.RelatedColumn(), keys))
}

func (b *base) joinOnto(anchor store.Query, parent int) (store.Query, int) {
	return anchor.Join(parent, b.rel)
}

func (b *base) fetchKeys(owners []any) []any {
	seen := make(map[any]struct{}, len(owners))
	keys := make([]any, 0, len(owners))
	for _, o := range owners {
		v, ok := b.ownerValue(o)
		if !ok {
			continue
		}
		if !b.oneToOne {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
		}
		keys = append(keys, v)
	}
	return keys
}

func (b *base) alreadyLoaded(owners []any) []any {
	seen := make(map[any]struct{})
	var out []any
	for _, o := range owners {
		held, _ := b.rel.Navigation.Get(o)
		for _, r := range held {
			key, ok := b.rel.Related.KeyOf(r)
			if !ok {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// group indexes related records by their correlated column.
func (b *base) group(related []any) map[any][]any {
	grouped := make(map[any][]any, len(related))
	for _, r := range related {
		v, ok := b.relatedValue(r)
		if !ok {
			continue
		}
		grouped[v] = append(grouped[v], r)
	}
	return grouped
}

// setInverse points r's inverse navigation back at owner. Collection
// inverses are left alone: only part of their contents is known here.
func (b *base) setInverse(r, owner any) {
	inv := b.rel.Inverse
	if inv == nil || inv.IsCollection() {
		return
	}
	inv.Set(r, []any{owner})
}

func (b *base) integrityError(owner any, reason string) error {
	return &IntegrityViolationError{
		Type:       b.rel.Owner.Name(),
		Navigation: b.rel.Navigation.Name(),
		Key:        b.ownerKey(owner),
		Reason:     reason,
	}
}

// toManyNode loads a collection held through a foreign key on the related type.
type toManyNode struct {
	base
}

func (n *toManyNode) pending(owners []any, _ *registry) []any {
	var out []any
	for _, o := range owners {
		if !n.rel.Navigation.IsLoaded(o) {
			out = append(out, o)
		}
	}
	return out
}

// fullyLoaded is always unknown: an empty collection proves nothing.
func (n *toManyNode) fullyLoaded([]any, *registry) loadState {
	return loadUnknown
}

func (n *toManyNode) stitch(owners, related []any) (map[any]loadState, error) {
	grouped := n.group(related)
	for _, o := range owners {
		v, ok := n.ownerValue(o)
		var members []any
		if ok {
			members = grouped[v]
		}
		if members == nil {
			members = []any{}
		}
		n.rel.Navigation.Set(o, members)
		for _, r := range members {
			n.setInverse(r, o)
		}
	}
	return nil, nil
}

// toOneUniqueNode loads a reference whose target holds the foreign key back to
// the owner.
type toOneUniqueNode struct {
	base
}

func (n *toOneUniqueNode) pending(owners []any, reg *registry) []any {
	var out []any
	for _, o := range owners {
		if n.rel.Navigation.IsLoaded(o) {
			continue
		}
		if reg.state(n.rel, n.ownerKey(o)) == loadCheckedAbsent {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (n *toOneUniqueNode) fullyLoaded(owners []any, reg *registry) loadState {
	if len(owners) == 0 || len(n.pending(owners, reg)) > 0 {
		return loadUnknown
	}
	for _, o := range owners {
		if n.rel.Navigation.IsLoaded(o) {
			return loadCheckedPresent
		}
	}
	return loadCheckedAbsent
}

func (n *toOneUniqueNode) stitch(owners, related []any) (map[any]loadState, error) {
	grouped := n.group(related)
	states := make(map[any]loadState, len(owners))
	for _, o := range owners {
		v, ok := n.ownerValue(o)
		var match []any
		if ok {
			match = grouped[v]
		}
		switch len(match) {
		case 0:
			n.rel.Navigation.Set(o, nil)
			states[n.ownerKey(o)] = loadCheckedAbsent
		case 1:
			n.rel.Navigation.Set(o, match)
			n.setInverse(match[0], o)
			states[n.ownerKey(o)] = loadCheckedPresent
		default:
			return nil, n.integrityError(o, "more than one related record for a unique navigation")
		}
	}
	return states, nil
}

// toOneNode loads a reference through a foreign key held by the owner.
type toOneNode struct {
	base
}

// buildQuery filters out owners without a key and deduplicates the keys
// unless the step is one-to-one.
func (n *toOneNode) buildQuery(source store.Query) store.Query {
	correlated := source.WithoutJoins().WithoutCaps().
		Where(store.NotNull(n.rel.OwnerColumn())).
		Project(n.rel.OwnerColumn())
	if !n.oneToOne {
		correlated = correlated.Distinct()
	}
	return store.From(n.rel.Related).Where(store.InQuery(n.rel.RelatedColumn(), correlated))
}

func (n *toOneNode) pending(owners []any, _ *registry) []any {
	var out []any
	for _, o := range owners {
		if n.rel.Navigation.IsLoaded(o) {
			continue
		}
		if _, ok := n.ownerValue(o); !ok {
			continue
		}
		out = append(out, o)
	}
	return out
}

// fullyLoaded: an owner with a NULL foreign key is checked-absent by
// definition.
func (n *toOneNode) fullyLoaded(owners []any, reg *registry) loadState {
	if len(owners) == 0 || len(n.pending(owners, reg)) > 0 {
		return loadUnknown
	}
	for _, o := range owners {
		if n.rel.Navigation.IsLoaded(o) {
			return loadCheckedPresent
		}
	}
	return loadCheckedAbsent
}

func (n *toOneNode) stitch(owners, related []any) (map[any]loadState, error) {
	grouped := n.group(related)
	states := make(map[any]loadState, len(owners))
	for _, o := range owners {
		v, ok := n.ownerValue(o)
		if !ok {
			n.rel.Navigation.Set(o, nil)
			states[n.ownerKey(o)] = loadCheckedAbsent
			continue
		}
		match := grouped[v]
		if len(match) == 0 {
			return nil, n.integrityError(o, "foreign key has no matching related record")
		}
		n.rel.Navigation.Set(o, match[:1])
		n.setInverse(match[0], o)
		states[n.ownerKey(o)] = loadCheckedPresent
	}
	return states, nil
}

var (
	_ navigator = (*toManyNode)(nil)
	_ navigator = (*toOneUniqueNode)(nil)
	_ navigator = (*toOneNode)(nil)
)

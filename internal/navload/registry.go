package navload

import (
	"github.com/elliotchance/orderedmap/v2"

	"navload/internal/entity"
	"navload/internal/schema"
	"navload/internal/store"
)

// loadedNavigation records one level that has been resolved during an
// execution: the related records, a query selecting exactly them, and the
// owners they were resolved for.
type loadedNavigation struct {
	key     string
	rel     schema.Relationship
	related []any
	query   store.Query
	// keyed is set when query lists keys explicitly or covers more rows than
	// related; such a query is not reused as a subquery source.
	keyed  bool
	owners map[any]struct{}
	// joined marks an entry filled by a join on its anchor's fetch that no
	// chain has walked yet.
	joined bool
}

func newLoadedNavigation(key string, rel schema.Relationship) *loadedNavigation {
	return &loadedNavigation{key: key, rel: rel, owners: make(map[any]struct{})}
}

// missing returns the owners not covered by the entry.
func (e *loadedNavigation) missing(owners []any) []any {
	var out []any
	for _, o := range owners {
		key, ok := e.rel.Owner.KeyOf(o)
		if !ok {
			continue
		}
		if _, covered := e.owners[key]; !covered {
			out = append(out, o)
		}
	}
	return out
}

func (e *loadedNavigation) cover(owners []any) {
	for _, o := range owners {
		if key, ok := e.rel.Owner.KeyOf(o); ok {
			e.owners[key] = struct{}{}
		}
	}
}

// relatedKeys returns the primary keys of the related records.
func (e *loadedNavigation) relatedKeys() []any {
	keys := make([]any, 0, len(e.related))
	for _, r := range e.related {
		if key, ok := e.rel.Related.KeyOf(r); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// source returns the entry as the owner source of the next level.
func (e *loadedNavigation) source() levelSource {
	return levelSource{query: e.query, keyed: e.keyed}
}

// levelSource describes where a level's owners came from.
type levelSource struct {
	query store.Query
	keyed bool
}

// subqueryable reports whether the next level may select through this
// source with IN (SELECT ...). Capped sources are not stable across queries.
func (s levelSource) subqueryable() bool {
	return !s.keyed && !s.query.HasCap()
}

type stateKey struct {
	owner      string
	navigation string
	key        any
}

// registry is the per-execution bookkeeping of loaded levels. It is never
// shared between executions.
type registry struct {
	entries *orderedmap.OrderedMap[string, *loadedNavigation]
	states  map[stateKey]loadState
	hits    int
	misses  int
}

func newRegistry() *registry {
	return &registry{
		entries: orderedmap.NewOrderedMap[string, *loadedNavigation](),
		states:  make(map[stateKey]loadState),
	}
}

func (r *registry) get(key string) (*loadedNavigation, bool) {
	return r.entries.Get(key)
}

// lookup is get plus hit/miss accounting.
func (r *registry) lookup(key string) (*loadedNavigation, bool) {
	e, ok := r.entries.Get(key)
	if ok {
		r.hits++
	} else {
		r.misses++
	}
	return e, ok
}

// add stores related for owners under key, unioning with an existing entry.
// A union is no longer exactly described by a single subquery, so the merged
// entry switches to a keyed query.
func (r *registry) add(key string, rel schema.Relationship, owners, related []any, q store.Query, keyed bool) *loadedNavigation {
	e, ok := r.entries.Get(key)
	if !ok {
		e = newLoadedNavigation(key, rel)
		e.related = distinct(rel.Related, related)
		e.query = q
		e.keyed = keyed
		e.cover(owners)
		r.entries.Set(key, e)
		return e
	}
	e.related = distinct(rel.Related, append(append([]any(nil), e.related...), related...))
	e.cover(owners)
	e.query = store.From(rel.Related).Where(store.In(rel.Related.PrimaryKey(), e.relatedKeys()))
	e.keyed = true
	return e
}

func (r *registry) state(rel schema.Relationship, ownerKey any) loadState {
	if ownerKey == nil {
		return loadUnknown
	}
	return r.states[stateKey{owner: rel.Owner.Name(), navigation: rel.Navigation.Name(), key: ownerKey}]
}

func (r *registry) setStates(rel schema.Relationship, states map[any]loadState) {
	for key, s := range states {
		if key == nil {
			continue
		}
		r.states[stateKey{owner: rel.Owner.Name(), navigation: rel.Navigation.Name(), key: key}] = s
	}
}

// keys lists entry keys in the order levels were first resolved.
func (r *registry) keys() []string {
	out := make([]string, 0, r.entries.Len())
	for el := r.entries.Front(); el != nil; el = el.Next() {
		out = append(out, el.Key)
	}
	return out
}

// distinct drops records whose primary key was already seen, keeping order.
func distinct(t *entity.Type, records []any) []any {
	seen := make(map[any]struct{}, len(records))
	out := make([]any, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		key, ok := t.KeyOf(rec)
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}
	return out
}

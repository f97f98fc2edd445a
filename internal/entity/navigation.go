package entity

import "reflect"

// Navigation is a navigation property on an owner type: either a collection of
// related records or a single reference.
type Navigation struct {
	name       string
	owner      *Type
	related    reflect.Type
	collection bool
	via        string
	fkColumn   string
	inverse    string

	get func(owner any) ([]any, bool)
	set func(owner any, related []any)
}

// NavOption customises how a navigation resolves its relationship metadata.
type NavOption func(*Navigation)

// Via pins the foreign key constraint used by the navigation.
func Via(constraint string) NavOption {
	return func(n *Navigation) { n.via = constraint }
}

// ForeignKeyColumn pins the foreign key column used by the navigation.
func ForeignKeyColumn(col string) NavOption {
	return func(n *Navigation) { n.fkColumn = col }
}

// Inverse names the navigation on the related type that points back.
func Inverse(name string) NavOption {
	return func(n *Navigation) { n.inverse = name }
}

// Many declares a collection navigation selected by sel.
func Many[T any, R any](name string, sel func(*T) *[]*R, opts ...NavOption) Def[T] {
	n := &Navigation{
		name:       name,
		related:    reflect.TypeFor[R](),
		collection: true,
		get: func(owner any) ([]any, bool) {
			p := sel(owner.(*T))
			if *p == nil {
				return nil, false
			}
			out := make([]any, len(*p))
			for i, r := range *p {
				out[i] = r
			}
			return out, true
		},
		set: func(owner any, related []any) {
			p := sel(owner.(*T))
			if related == nil {
				*p = nil
				return
			}
			typed := make([]*R, 0, len(related))
			for _, r := range related {
				typed = append(typed, r.(*R))
			}
			*p = typed
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return Def[T]{nav: n}
}

// One declares a single-reference navigation selected by sel.
func One[T any, R any](name string, sel func(*T) **R, opts ...NavOption) Def[T] {
	n := &Navigation{
		name:    name,
		related: reflect.TypeFor[R](),
		get: func(owner any) ([]any, bool) {
			p := sel(owner.(*T))
			if *p == nil {
				return nil, false
			}
			return []any{*p}, true
		},
		set: func(owner any, related []any) {
			p := sel(owner.(*T))
			if len(related) == 0 || related[0] == nil {
				*p = nil
				return
			}
			*p = related[0].(*R)
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return Def[T]{nav: n}
}

// Name returns the navigation property name.
func (n *Navigation) Name() string { return n.name }

// Owner returns the type declaring the navigation.
func (n *Navigation) Owner() *Type { return n.owner }

// RelatedGoType returns the struct type of the related records.
func (n *Navigation) RelatedGoType() reflect.Type { return n.related }

// IsCollection reports whether the navigation holds many records.
func (n *Navigation) IsCollection() bool { return n.collection }

// PinnedConstraint returns the constraint set with Via, if any.
func (n *Navigation) PinnedConstraint() string { return n.via }

// PinnedColumn returns the column set with ForeignKeyColumn, if any.
func (n *Navigation) PinnedColumn() string { return n.fkColumn }

// DeclaredInverse returns the inverse set with Inverse, if any.
func (n *Navigation) DeclaredInverse() string { return n.inverse }

// Get returns the related records currently held by owner. loaded is false
// when the navigation has never been assigned (nil slice or nil reference).
func (n *Navigation) Get(owner any) (related []any, loaded bool) {
	return n.get(owner)
}

// IsLoaded reports whether owner holds a value for the navigation.
func (n *Navigation) IsLoaded(owner any) bool {
	_, ok := n.get(owner)
	return ok
}

// Set assigns related records. For collections a nil slice clears the
// navigation and a non-nil empty slice marks it loaded and empty; references
// take the first element or become nil.
func (n *Navigation) Set(owner any, related []any) {
	n.set(owner, related)
}

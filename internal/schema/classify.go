package schema

import (
	"fmt"

	"navload/internal/entity"
)

// Kind classifies a relationship from the owner's point of view.
type Kind int

const (
	// ToMany is a collection navigation; the related type holds the foreign key.
	ToMany Kind = iota + 1
	// ToOneUnique is a reference navigation where the related type holds the
	// foreign key back to the owner (one-to-one, dependent side is related).
	ToOneUnique
	// ToOne is a reference navigation where the owner holds the foreign key
	// (classic many-to-one).
	ToOne
)

func (k Kind) String() string {
	switch k {
	case ToMany:
		return "to_many"
	case ToOneUnique:
		return "to_one_unique"
	case ToOne:
		return "to_one"
	default:
		return "unknown"
	}
}

// Relationship is a classified navigation between two mapped types.
type Relationship struct {
	Owner      *entity.Type
	Related    *entity.Type
	Navigation *entity.Navigation
	// Inverse is the navigation on Related pointing back at Owner; nil when absent.
	Inverse    *entity.Navigation
	Kind       Kind
	Constraint string
	// ForeignKey is the FK column on the dependent type.
	ForeignKey string
	// PrincipalKey is the column the FK references on the principal type.
	PrincipalKey       string
	ForeignKeyNullable bool
}

// Dependent returns the type holding the foreign key.
func (r Relationship) Dependent() *entity.Type {
	if r.Kind == ToOne {
		return r.Owner
	}
	return r.Related
}

// OwnerColumn is the owner column correlated with RelatedColumn.
func (r Relationship) OwnerColumn() string {
	if r.Kind == ToOne {
		return r.ForeignKey
	}
	return r.PrincipalKey
}

// RelatedColumn is the related column correlated with OwnerColumn.
func (r Relationship) RelatedColumn() string {
	if r.Kind == ToOne {
		return r.PrincipalKey
	}
	return r.ForeignKey
}

// IsSingleValued reports whether the navigation holds at most one record.
func (r Relationship) IsSingleValued() bool {
	return r.Kind == ToOne || r.Kind == ToOneUnique
}

// RelationshipOf classifies the navigation named navigation on the owner type,
// checking that it targets the related type. Results are memoised.
func (c *Catalog) RelationshipOf(owner, related, navigation string) (Relationship, error) {
	ownerType, ok := c.Type(owner)
	if !ok {
		return Relationship{}, unsupported(owner, navigation, "owner type is not mapped")
	}
	rel, err := c.Classify(ownerType, navigation)
	if err != nil {
		return Relationship{}, err
	}
	if related != "" && rel.Related.Name() != related {
		return Relationship{}, unsupported(owner, navigation, "navigation targets %s, not %s", rel.Related.Name(), related)
	}
	return rel, nil
}

// Classify determines the relationship behind owner's navigation.
func (c *Catalog) Classify(owner *entity.Type, navigation string) (Relationship, error) {
	memoKey := owner.Name() + "." + navigation

	c.mu.RLock()
	rel, ok := c.rels[memoKey]
	c.mu.RUnlock()
	if ok {
		return rel, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rel, err := c.classifyLocked(owner, navigation)
	if err != nil {
		return Relationship{}, err
	}
	c.rels[memoKey] = rel
	return rel, nil
}

type fkChoice struct {
	fk               ForeignKeyConstraint
	ownerIsDependent bool
}

func (c *Catalog) classifyLocked(owner *entity.Type, navigation string) (Relationship, error) {
	nav, ok := owner.Navigation(navigation)
	if !ok {
		return Relationship{}, unsupported(owner.Name(), navigation, "no such navigation")
	}
	related, ok := c.byGo[nav.RelatedGoType()]
	if !ok {
		return Relationship{}, unsupported(owner.Name(), navigation, "related Go type %s is not mapped", nav.RelatedGoType())
	}
	choice, err := c.resolveForeignKey(owner, nav, related)
	if err != nil {
		return Relationship{}, err
	}

	rel := Relationship{
		Owner:        owner,
		Related:      related,
		Navigation:   nav,
		Constraint:   choice.fk.ConstraintName,
		ForeignKey:   choice.fk.ColumnNames[0],
		PrincipalKey: choice.fk.ReferencedColumns[0],
	}
	switch {
	case nav.IsCollection():
		rel.Kind = ToMany
	case choice.ownerIsDependent:
		rel.Kind = ToOne
	default:
		rel.Kind = ToOneUnique
	}

	dependent := rel.Dependent()
	if !dependent.HasColumn(rel.ForeignKey) {
		return Relationship{}, unsupported(owner.Name(), navigation, "foreign key column %s is not mapped on %s", rel.ForeignKey, dependent.Name())
	}
	principal := related
	if rel.Kind != ToOne {
		principal = owner
	}
	if !principal.HasColumn(rel.PrincipalKey) {
		return Relationship{}, unsupported(owner.Name(), navigation, "referenced column %s is not mapped on %s", rel.PrincipalKey, principal.Name())
	}
	rel.ForeignKeyNullable = c.columnNullable(dependent.Table(), rel.ForeignKey)

	inverse, err := c.findInverse(rel, choice)
	if err != nil {
		return Relationship{}, err
	}
	rel.Inverse = inverse
	return rel, nil
}

func (c *Catalog) columnNullable(table, column string) bool {
	t, ok := c.tables[table]
	if !ok {
		return false
	}
	for _, col := range t.Columns {
		if col.Name == column {
			return col.IsNullable
		}
	}
	return false
}

// resolveForeignKey picks the constraint linking owner and related for nav.
// Reference navigations prefer a key held by the owner; collections always
// need the key on the related side.
func (c *Catalog) resolveForeignKey(owner *entity.Type, nav *entity.Navigation, related *entity.Type) (fkChoice, error) {
	ownerTable, ok := c.tables[owner.Table()]
	if !ok {
		return fkChoice{}, unsupported(owner.Name(), nav.Name(), "no table metadata for %s", owner.Table())
	}
	relatedTable, ok := c.tables[related.Table()]
	if !ok {
		return fkChoice{}, unsupported(owner.Name(), nav.Name(), "no table metadata for %s", related.Table())
	}

	var ownerHeld, relatedHeld []ForeignKeyConstraint
	if !nav.IsCollection() {
		ownerHeld = pinned(nav, referencing(*ownerTable, related.Table()))
	}
	relatedHeld = pinned(nav, referencing(*relatedTable, owner.Table()))

	candidates := relatedHeld
	ownerIsDependent := false
	if len(ownerHeld) > 0 {
		candidates = ownerHeld
		ownerIsDependent = true
	}
	if len(candidates) == 0 {
		if nav.IsCollection() {
			return fkChoice{}, unsupported(owner.Name(), nav.Name(),
				"no foreign key on %s references %s (many-to-many needs an explicit bridge entity)", related.Table(), owner.Table())
		}
		return fkChoice{}, unsupported(owner.Name(), nav.Name(), "no foreign key links %s and %s", owner.Table(), related.Table())
	}
	if len(candidates) > 1 {
		candidates = byConvention(nav, candidates, ownerIsDependent)
		if len(candidates) != 1 {
			return fkChoice{}, unsupported(owner.Name(), nav.Name(),
				"ambiguous foreign key between %s and %s; pin one with entity.Via", owner.Table(), related.Table())
		}
	}
	fk := candidates[0]
	if fk.IsComposite() {
		return fkChoice{}, unsupported(owner.Name(), nav.Name(), "foreign key %s spans %d columns", fk.ConstraintName, len(fk.ColumnNames))
	}
	return fkChoice{fk: fk, ownerIsDependent: ownerIsDependent}, nil
}

func referencing(table Table, target string) []ForeignKeyConstraint {
	var out []ForeignKeyConstraint
	for _, fk := range ForeignKeyConstraints(table) {
		if fk.ReferencedTable == target {
			out = append(out, fk)
		}
	}
	return out
}

func pinned(nav *entity.Navigation, fks []ForeignKeyConstraint) []ForeignKeyConstraint {
	if nav.PinnedConstraint() == "" && nav.PinnedColumn() == "" {
		return fks
	}
	var out []ForeignKeyConstraint
	for _, fk := range fks {
		if nav.PinnedConstraint() != "" && fk.ConstraintName != nav.PinnedConstraint() {
			continue
		}
		if nav.PinnedColumn() != "" && (len(fk.ColumnNames) == 0 || fk.ColumnNames[0] != nav.PinnedColumn()) {
			continue
		}
		out = append(out, fk)
	}
	return out
}

// byConvention narrows candidates to the FK column named after the navigation
// (Author -> author_id) when the owner holds the key, or after the declared
// inverse when the related type holds it.
func byConvention(nav *entity.Navigation, fks []ForeignKeyConstraint, ownerIsDependent bool) []ForeignKeyConstraint {
	name := nav.Name()
	if !ownerIsDependent {
		name = nav.DeclaredInverse()
	}
	if name == "" {
		return fks
	}
	want := entity.SnakeCase(name) + "_id"
	var out []ForeignKeyConstraint
	for _, fk := range fks {
		if len(fk.ColumnNames) > 0 && fk.ColumnNames[0] == want {
			out = append(out, fk)
		}
	}
	return out
}

func sameConstraint(a, b ForeignKeyConstraint) bool {
	if a.ConstraintName != b.ConstraintName || a.ReferencedTable != b.ReferencedTable {
		return false
	}
	if len(a.ColumnNames) != len(b.ColumnNames) {
		return false
	}
	for i := range a.ColumnNames {
		if a.ColumnNames[i] != b.ColumnNames[i] {
			return false
		}
	}
	return true
}

// findInverse locates the navigation on the related type that walks the same
// constraint in the opposite direction.
func (c *Catalog) findInverse(rel Relationship, choice fkChoice) (*entity.Navigation, error) {
	if name := rel.Navigation.DeclaredInverse(); name != "" {
		inv, ok := rel.Related.Navigation(name)
		if !ok {
			return nil, unsupported(rel.Owner.Name(), rel.Navigation.Name(), "declared inverse %s.%s does not exist", rel.Related.Name(), name)
		}
		if inv.RelatedGoType() != rel.Owner.GoType() {
			return nil, unsupported(rel.Owner.Name(), rel.Navigation.Name(), "declared inverse %s.%s does not point back at %s", rel.Related.Name(), name, rel.Owner.Name())
		}
		return inv, nil
	}

	var found *entity.Navigation
	for _, cand := range rel.Related.Navigations() {
		if cand.RelatedGoType() != rel.Owner.GoType() {
			continue
		}
		if rel.Related == rel.Owner && cand.Name() == rel.Navigation.Name() {
			continue
		}
		other, err := c.resolveForeignKey(rel.Related, cand, rel.Owner)
		if err != nil {
			continue
		}
		if !sameConstraint(other.fk, choice.fk) || other.ownerIsDependent == choice.ownerIsDependent {
			continue
		}
		if found != nil {
			// Two navigations walk the same key back; leave the inverse unset.
			return nil, nil
		}
		found = cand
	}
	return found, nil
}

// String renders the relationship for plan output and logs.
func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s -> %s (%s via %s.%s)", r.Owner.Name(), r.Navigation.Name(), r.Related.Name(), r.Kind, r.Dependent().Table(), r.ForeignKey)
}

package navload

import (
	"context"

	"navload/internal/logging"
	"navload/internal/schema"
	"navload/internal/store"
)

type identKey struct {
	typ string
	key any
}

// canonicalize replaces every fetched record with the first instance seen for
// its (type, key) in this execution, so a record reached twice is one object.
// With tracking on the store already returns session instances and this is a
// no-op.
func (ex *execution) canonicalize(q store.Query, rows []store.Row) {
	for _, row := range rows {
		for scope, rec := range row {
			if rec == nil {
				continue
			}
			t := q.ScopeType(scope)
			key, ok := t.KeyOf(rec)
			if !ok {
				continue
			}
			k := identKey{typ: t.Name(), key: key}
			if existing, found := ex.ident[k]; found {
				row[scope] = existing
				continue
			}
			ex.ident[k] = rec
		}
	}
}

// column returns the non-nil records of one scope across rows.
func column(rows []store.Row, scope int) []any {
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		if scope < len(row) && row[scope] != nil {
			out = append(out, row[scope])
		}
	}
	return out
}

// stitch assigns related onto owners and remembers the per-owner states of
// single-valued navigations.
func (ex *execution) stitch(n node, nv navigator, owners, related []any) error {
	states, err := nv.stitch(owners, related)
	if err != nil {
		return err
	}
	ex.reg.setStates(n.rel, states)
	return nil
}

// stitchJoins wires the joined scopes of an anchor fetch and records each
// joined step in the registry. source is the query the anchor rows came from.
func (ex *execution) stitchJoins(ctx context.Context, anchor string, rows []store.Row, source levelSource) error {
	a, ok := ex.anchors[anchor]
	if !ok || len(rows) == 0 {
		return nil
	}
	sources := make([]levelSource, len(a.joins)+1)
	sources[0] = source

	for i, j := range a.joins {
		scope := i + 1
		n := ex.plan.nodes[j.node]
		nv := newNavigator(n)

		owners := distinct(n.rel.Owner, column(rows, j.parent))
		related := distinct(n.rel.Related, column(rows, scope))
		if len(owners) == 0 {
			sources[scope] = levelSource{query: keyedByPrimaryKey(n.rel.Related, nil), keyed: true}
			continue
		}
		if err := ex.stitch(n, nv, owners, related); err != nil {
			return err
		}

		parent := sources[j.parent]
		var entry *loadedNavigation
		if parent.subqueryable() {
			entry = ex.reg.add(n.registryKey(), n.rel, owners, related, nv.buildQuery(parent.query), false)
		} else {
			entry = ex.reg.add(n.registryKey(), n.rel, owners, related, keyedByPrimaryKey(n.rel.Related, related), true)
		}
		entry.joined = true
		sources[scope] = entry.source()

		lr := LevelReport{
			Path:       n.path,
			Navigation: n.rel.Navigation.Name(),
			Kind:       n.rel.Kind.String(),
			Offset:     n.offset,
			Strategy:   StrategyJoin,
			Owners:     len(owners),
			Related:    len(related),
		}
		ex.report.Levels = append(ex.report.Levels, lr)
		ex.loader.metrics.RecordLevel(ctx, n.path, string(StrategyJoin), len(owners))
		ex.loader.metrics.RecordFetchesSaved(ctx, 1, "join")
		logging.FromContext(ctx).Debug("navload level",
			"path", lr.Path,
			"kind", lr.Kind,
			"offset", lr.Offset,
			"strategy", lr.Strategy,
			"owners", lr.Owners,
			"related", lr.Related,
		)
	}
	return nil
}

// reached returns the distinct records held by owners through rel's
// navigation; they are the owners of the next level.
func reached(rel schema.Relationship, owners []any) []any {
	var held []any
	for _, o := range owners {
		related, _ := rel.Navigation.Get(o)
		held = append(held, related...)
	}
	return distinct(rel.Related, held)
}

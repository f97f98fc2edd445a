package navload

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"navload/internal/entity"
	"navload/internal/logging"
	"navload/internal/schema"
	"navload/internal/store"
)

// level resolves one node for owners. It consults the registry first, then
// decides between reusing what the owners already hold, a subquery over the
// owners' source, and an explicit key list.
func (ex *execution) level(ctx context.Context, idx int, owners []any, source levelSource) (*loadedNavigation, error) {
	n := ex.plan.nodes[idx]
	nv := newNavigator(n)
	key := n.registryKey()
	lr := LevelReport{
		Path:       n.path,
		Navigation: n.rel.Navigation.Name(),
		Kind:       n.rel.Kind.String(),
		Offset:     n.offset,
		Owners:     len(owners),
	}

	ctx, span := startSpan(ctx, "navload.level",
		attribute.String("navload.path", n.path),
		attribute.String("navload.kind", lr.Kind),
		attribute.Int("navload.owners", len(owners)),
	)
	defer span.End()

	entry, err := ex.resolveLevel(ctx, n, nv, key, owners, source, &lr)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if lr.Strategy == "" {
		// Reported when the anchor fetch joined it in.
		return entry, nil
	}
	if entry != nil {
		lr.Related = len(reached(n.rel, owners))
	}
	span.SetAttributes(attribute.String("navload.strategy", string(lr.Strategy)))
	ex.report.Levels = append(ex.report.Levels, lr)
	ex.loader.metrics.RecordLevel(ctx, n.path, string(lr.Strategy), len(owners))
	logging.FromContext(ctx).Debug("navload level",
		"path", lr.Path,
		"kind", lr.Kind,
		"offset", lr.Offset,
		"strategy", lr.Strategy,
		"owners", lr.Owners,
		"related", lr.Related,
		"fetches", lr.Fetches,
	)
	return entry, nil
}

func (ex *execution) resolveLevel(ctx context.Context, n node, nv navigator, key string, owners []any, source levelSource, lr *LevelReport) (*loadedNavigation, error) {
	if len(owners) == 0 {
		lr.Strategy = StrategySkipped
		return nil, nil
	}

	// First walk over a level filled by its anchor's join.
	if entry, ok := ex.reg.get(key); ok && entry.joined {
		entry.joined = false
		if missing := entry.missing(owners); len(missing) == 0 {
			return entry, ex.stitch(n, nv, owners, entry.related)
		}
	}

	entry, hit := ex.reg.lookup(key)
	ex.loader.metrics.RecordRegistryLookup(ctx, n.path, hit)
	if hit {
		missing := entry.missing(owners)
		if len(missing) == 0 {
			lr.Strategy = StrategyCached
			ex.loader.metrics.RecordFetchesSaved(ctx, 1, "registry")
			return entry, ex.stitch(n, nv, owners, entry.related)
		}
		// Partial coverage: fetch the complement and union.
		lr.Strategy = StrategyKeyed
		fetched, err := ex.fetchKeyed(ctx, n, nv, missing, lr)
		if err != nil {
			return nil, err
		}
		entry = ex.reg.add(key, n.rel, missing, fetched, store.Query{}, true)
		return entry, ex.stitch(n, nv, owners, entry.related)
	}

	if state := nv.fullyLoaded(owners, ex.reg); state != loadUnknown {
		lr.Strategy = StrategyPreloaded
		ex.loader.metrics.RecordFetchesSaved(ctx, 1, "preloaded")
		already := nv.alreadyLoaded(owners)
		if err := ex.stitch(n, nv, owners, already); err != nil {
			return nil, err
		}
		return ex.reg.add(key, n.rel, owners, already, keyedByPrimaryKey(n.rel.Related, already), true), nil
	}

	pending := nv.pending(owners, ex.reg)
	already := nv.alreadyLoaded(owners)
	var (
		fetched []any
		query   store.Query
		keyed   = true
		err     error
	)
	switch {
	case len(pending) == 0:
		lr.Strategy = StrategyPreloaded
		ex.loader.metrics.RecordFetchesSaved(ctx, 1, "preloaded")
	case n.regenerate || len(already) > 0 || !source.subqueryable():
		lr.Strategy = StrategyKeyed
		fetched, err = ex.fetchKeyed(ctx, n, nv, pending, lr)
	default:
		lr.Strategy = StrategySubquery
		query = nv.buildQuery(source.query)
		keyed = false
		fetched, err = ex.fetchAnchored(ctx, n, query, levelSource{query: query}, lr)
	}
	if err != nil {
		return nil, err
	}

	related := distinct(n.rel.Related, append(already, fetched...))
	if keyed {
		query = keyedByPrimaryKey(n.rel.Related, related)
	}
	if err := ex.stitch(n, nv, owners, related); err != nil {
		return nil, err
	}
	return ex.reg.add(key, n.rel, owners, related, query, keyed), nil
}

// fetchKeyed fetches the related records of owners with explicit key lists,
// split into chunks of at most maxInClause keys.
func (ex *execution) fetchKeyed(ctx context.Context, n node, nv navigator, owners []any, lr *LevelReport) ([]any, error) {
	keys := nv.fetchKeys(owners)
	if len(keys) == 0 {
		return nil, nil
	}
	chunks := chunkValues(keys, ex.loader.maxInClause)
	ex.loader.metrics.RecordFetchesSaved(ctx, listBatchQueriesSaved(len(keys), len(chunks)), "batch")

	var related []any
	for _, chunk := range chunks {
		q := nv.keyedQuery(chunk)
		fetched, err := ex.fetchAnchored(ctx, n, q, levelSource{query: q, keyed: true}, lr)
		if err != nil {
			return nil, err
		}
		related = append(related, fetched...)
	}
	return related, nil
}

// fetchAnchored runs q, with the join tree anchored at n when n is a
// collection step, stitches the joined steps and returns the related records.
func (ex *execution) fetchAnchored(ctx context.Context, n node, q store.Query, source levelSource, lr *LevelReport) ([]any, error) {
	anchor := ""
	if n.rel.Kind == schema.ToMany {
		anchor = n.registryKey()
	}
	if anchor != "" {
		q = ex.withJoins(q, anchor)
	}
	q = q.OrderBy(n.rel.Related.PrimaryKey())

	rows, err := ex.fetch(ctx, q)
	lr.Fetches++
	if err != nil {
		return nil, err
	}
	ex.canonicalize(q, rows)
	if anchor != "" {
		if err := ex.stitchJoins(ctx, anchor, rows, source); err != nil {
			return nil, err
		}
	}
	return column(rows, 0), nil
}

// keyedByPrimaryKey selects exactly records from their type's source.
func keyedByPrimaryKey(t *entity.Type, records []any) store.Query {
	keys := make([]any, 0, len(records))
	for _, r := range records {
		if key, ok := t.KeyOf(r); ok {
			keys = append(keys, key)
		}
	}
	return store.From(t).Where(store.In(t.PrimaryKey(), keys))
}

func chunkValues(values []any, max int) [][]any {
	if len(values) == 0 {
		return nil
	}
	if max <= 0 || len(values) <= max {
		return [][]any{values}
	}
	chunks := make([][]any, 0, (len(values)+max-1)/max)
	for start := 0; start < len(values); start += max {
		end := start + max
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

func listBatchQueriesSaved(keyCount, chunkCount int) int64 {
	// Compare one fetch per key with one fetch per chunk.
	if keyCount <= 0 || chunkCount <= 0 {
		return 0
	}
	if saved := keyCount - chunkCount; saved > 0 {
		return int64(saved)
	}
	return 0
}

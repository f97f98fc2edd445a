package planfile

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"navload/internal/entity"
	"navload/internal/navload"
	"navload/internal/schema"
)

// Output is the document written by WriteJSON.
type Output struct {
	Records []any           `json:"records"`
	Report  *navload.Report `json:"report,omitempty"`
}

// Graph converts loaded records into JSON-ready maps. Every record is
// expanded once; later occurrences, including inverse references, render as
// {"$ref": "Type#key"}. Unloaded navigations are omitted.
func Graph(catalog *schema.Catalog, records []any) ([]any, error) {
	g := graphWriter{catalog: catalog, seen: make(map[string]bool)}
	out := make([]any, 0, len(records))
	for _, rec := range records {
		node, err := g.record(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

type graphWriter struct {
	catalog *schema.Catalog
	seen    map[string]bool
}

func (g graphWriter) typeOf(rec any) (*entity.Type, error) {
	rt := reflect.TypeOf(rec)
	if rt == nil || rt.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("render: %T is not a record pointer", rec)
	}
	t, ok := g.catalog.TypeOf(rt.Elem())
	if !ok {
		return nil, fmt.Errorf("render: %s is not a mapped type", rt.Elem())
	}
	return t, nil
}

func (g graphWriter) record(rec any) (any, error) {
	t, err := g.typeOf(rec)
	if err != nil {
		return nil, err
	}
	key, _ := t.KeyOf(rec)
	ref := fmt.Sprintf("%s#%v", t.Name(), key)
	if g.seen[ref] {
		return map[string]any{"$ref": ref}, nil
	}
	g.seen[ref] = true

	node := t.Values(rec)
	node["$type"] = t.Name()
	for _, nav := range t.Navigations() {
		related, loaded := nav.Get(rec)
		if !loaded {
			continue
		}
		if !nav.IsCollection() {
			child, err := g.record(related[0])
			if err != nil {
				return nil, err
			}
			node[nav.Name()] = child
			continue
		}
		children := make([]any, 0, len(related))
		for _, r := range related {
			child, err := g.record(r)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		node[nav.Name()] = children
	}
	return node, nil
}

// WriteJSON renders records and the execution report as indented JSON.
func WriteJSON(w io.Writer, catalog *schema.Catalog, records []any, report *navload.Report) error {
	graph, err := Graph(catalog, records)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Output{Records: graph, Report: report})
}

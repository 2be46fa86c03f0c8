package compiler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/crudkit-io/crudkit/internal/config"
	"github.com/crudkit-io/crudkit/internal/crud"
	"github.com/crudkit-io/crudkit/internal/schema"
)

// Relation is one declared, allow-listed join target.
type Relation struct {
	Name       string
	Alias      string
	Table      *schema.Table
	LocalKey   string
	ForeignKey string
	Required   bool

	allowed    []string
	allowedSet map[string]bool
}

// AllowedColumns returns the relation's exposed columns.
func (r *Relation) AllowedColumns() []string {
	return r.allowed
}

// ColumnAllowed reports whether the relation exposes the column. Primary-key
// columns are always allowed.
func (r *Relation) ColumnAllowed(name string) bool {
	if r.allowedSet[name] {
		return true
	}
	for _, pk := range r.Table.PrimaryColumns {
		if pk == name {
			return true
		}
	}
	return false
}

// Resource combines introspected table metadata with the route's declared
// column allow-list and relation registry. Resources are built once at
// startup and are immutable afterwards.
type Resource struct {
	Name      string
	Table     *schema.Table
	Persist   []string
	Relations map[string]*Relation

	allowed    []string
	allowedSet map[string]bool

	// relCache memoizes resolved relation metadata by path and alias.
	// Entries are derived data; a race to populate the same key is benign.
	relCache sync.Map
}

// NewResource resolves a resource declaration against introspected table
// metadata. relTables maps relation names onto their introspected tables.
func NewResource(cfg config.ResourceConfig, table *schema.Table, relTables map[string]*schema.Table) (*Resource, error) {
	res := &Resource{
		Name:      cfg.Name,
		Table:     table,
		Persist:   append([]string(nil), cfg.Persist...),
		Relations: make(map[string]*Relation, len(cfg.Relations)),
	}
	res.allowed, res.allowedSet = resolveAllowList(table, cfg.Allow, cfg.Exclude)

	for _, relCfg := range cfg.Relations {
		relTable, ok := relTables[relCfg.Name]
		if !ok {
			return nil, fmt.Errorf("resource %q: relation %q has no introspected table", cfg.Name, relCfg.Name)
		}
		if !table.HasColumn(relCfg.LocalKey) {
			return nil, fmt.Errorf("resource %q: relation %q local key %q is not a column of %s", cfg.Name, relCfg.Name, relCfg.LocalKey, table.Name)
		}
		if !relTable.HasColumn(relCfg.ForeignKey) {
			return nil, fmt.Errorf("resource %q: relation %q foreign key %q is not a column of %s", cfg.Name, relCfg.Name, relCfg.ForeignKey, relTable.Name)
		}
		rel := &Relation{
			Name:       relCfg.Name,
			Alias:      relCfg.Name,
			Table:      relTable,
			LocalKey:   relCfg.LocalKey,
			ForeignKey: relCfg.ForeignKey,
			Required:   relCfg.Required,
		}
		rel.allowed, rel.allowedSet = resolveAllowList(relTable, relCfg.Allow, nil)
		res.Relations[rel.Name] = rel
	}
	return res, nil
}

func resolveAllowList(table *schema.Table, allow, exclude []string) ([]string, map[string]bool) {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	var names []string
	if len(allow) > 0 {
		for _, name := range allow {
			if table.HasColumn(name) && !excluded[name] {
				names = append(names, name)
			}
		}
	} else {
		for _, name := range table.ColumnNames() {
			if !excluded[name] {
				names = append(names, name)
			}
		}
	}

	// Primary keys stay addressable even when excluded from the allow-list.
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	for _, pk := range table.PrimaryColumns {
		if !set[pk] {
			names = append(names, pk)
			set[pk] = true
		}
	}
	return names, set
}

// AllowedColumns returns the base table's exposed columns.
func (r *Resource) AllowedColumns() []string {
	return r.allowed
}

// ColumnAllowed reports whether the base table exposes the column.
func (r *Resource) ColumnAllowed(name string) bool {
	return r.allowedSet[name]
}

// AllowedRelation is the memoized, resolved view of a relation used by the
// compiler: a pure cache entry derived from the registry.
type AllowedRelation struct {
	Alias          string
	Name           string
	Path           string
	Columns        []string
	PrimaryColumns []string
	AllowedColumns []string

	relation *Relation
}

// ResolveRelation resolves a relation path against the registry, memoizing
// the result by path (and alias, when the two differ).
func (r *Resource) ResolveRelation(path string) (*AllowedRelation, bool) {
	if cached, ok := r.relCache.Load(path); ok {
		return cached.(*AllowedRelation), true
	}

	rel, ok := r.Relations[path]
	if !ok {
		return nil, false
	}
	entry := &AllowedRelation{
		Alias:          rel.Alias,
		Name:           rel.Name,
		Path:           path,
		Columns:        rel.Table.ColumnNames(),
		PrimaryColumns: rel.Table.PrimaryColumns,
		AllowedColumns: rel.AllowedColumns(),
		relation:       rel,
	}
	r.relCache.Store(path, entry)
	if rel.Alias != path {
		r.relCache.Store(rel.Alias, entry)
	}
	return entry, true
}

// SelectColumns resolves the effective base-table projection: the requested
// fields intersected with the allow-list, or the full allow-list when no
// fields were requested. Primary-key and persist columns are always
// included.
func (r *Resource) SelectColumns(requested []string) []string {
	var cols []string
	seen := make(map[string]bool)

	appendCol := func(name string) {
		if !seen[name] && r.Table.HasColumn(name) {
			seen[name] = true
			cols = append(cols, name)
		}
	}

	if len(requested) > 0 {
		for _, name := range requested {
			if r.allowedSet[name] {
				appendCol(name)
			}
		}
	} else {
		for _, name := range r.allowed {
			appendCol(name)
		}
	}
	for _, pk := range r.Table.PrimaryColumns {
		appendCol(pk)
	}
	for _, p := range r.Persist {
		appendCol(p)
	}
	return cols
}

// FilterPayload keeps only allow-listed columns of a write payload, in
// deterministic column order. Returns crud.ErrEmptyPayload when nothing
// usable remains.
func (r *Resource) FilterPayload(payload map[string]any) ([]string, []any, error) {
	keys := make([]string, 0, len(payload))
	for key := range payload {
		if r.allowedSet[key] && r.Table.HasColumn(key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, nil, crud.ErrEmptyPayload
	}
	sort.Strings(keys)

	values := make([]any, len(keys))
	for i, key := range keys {
		values[i] = payload[key]
	}
	return keys, values, nil
}

// splitFieldPath splits a dotted field reference into relation path and
// column name. Plain references return ("", field).
func splitFieldPath(field string) (string, string) {
	idx := strings.LastIndex(field, ".")
	if idx < 0 {
		return "", field
	}
	return field[:idx], field[idx+1:]
}

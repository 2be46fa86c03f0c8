package compiler

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/crudkit-io/crudkit/internal/crud"
)

// SelectBuilder assembles one SELECT (or its count twin) from the parsed
// request pieces. Builders are single-use.
type SelectBuilder struct {
	c              *Compiler
	fields         []string
	search         *crud.SearchCondition
	joins          []crud.QueryJoin
	sorts          []crud.QuerySort
	limit          *int
	offset         *int
	includeDeleted bool
}

// NewSelect starts a select builder for the compiler's resource.
func (c *Compiler) NewSelect() *SelectBuilder {
	return &SelectBuilder{c: c}
}

// WithFields sets the requested base-table projection.
func (sb *SelectBuilder) WithFields(fields []string) *SelectBuilder {
	sb.fields = fields
	return sb
}

// WithSearch sets the merged search condition.
func (sb *SelectBuilder) WithSearch(search *crud.SearchCondition) *SelectBuilder {
	sb.search = search
	return sb
}

// WithJoins sets the requested joins.
func (sb *SelectBuilder) WithJoins(joins []crud.QueryJoin) *SelectBuilder {
	sb.joins = joins
	return sb
}

// WithSort sets the ORDER BY entries.
func (sb *SelectBuilder) WithSort(sorts []crud.QuerySort) *SelectBuilder {
	sb.sorts = sorts
	return sb
}

// WithLimit sets LIMIT; nil means none.
func (sb *SelectBuilder) WithLimit(limit *int) *SelectBuilder {
	sb.limit = limit
	return sb
}

// WithOffset sets OFFSET; nil means none.
func (sb *SelectBuilder) WithOffset(offset *int) *SelectBuilder {
	sb.offset = offset
	return sb
}

// WithIncludeDeleted disables the soft-delete guard.
func (sb *SelectBuilder) WithIncludeDeleted(include bool) *SelectBuilder {
	sb.includeDeleted = include
	return sb
}

// Build compiles the SELECT statement.
func (sb *SelectBuilder) Build() (string, []any, error) {
	return sb.build(false)
}

// BuildCount compiles the count twin: same FROM/JOIN/WHERE, no projection,
// order or window.
func (sb *SelectBuilder) BuildCount() (string, []any, error) {
	return sb.build(true)
}

func (sb *SelectBuilder) build(forCount bool) (string, []any, error) {
	c := sb.c
	b := newBinder(c.dialect)

	joinClauses, joinSelects, active, err := c.compileJoins(b, sb.joins)
	if err != nil {
		return "", nil, err
	}

	var sql strings.Builder
	sql.WriteString("SELECT ")
	if forCount {
		sql.WriteString("count(*)")
	} else {
		cols := make([]string, 0, 8)
		for _, name := range c.res.SelectColumns(baseFields(sb.fields)) {
			cols = append(cols, c.dialect.QualifyColumn(c.res.Table.Name, name))
		}
		cols = append(cols, joinSelects...)
		sql.WriteString(strings.Join(cols, ", "))
	}
	sql.WriteString(" FROM ")
	sql.WriteString(c.dialect.QualifyColumn(c.res.Table.Schema, c.res.Table.Name))

	for _, clause := range joinClauses {
		sql.WriteString(" ")
		sql.WriteString(clause)
	}

	where, err := c.whereWithGuard(b, active, sb.search, sb.includeDeleted)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		sql.WriteString(" WHERE ")
		sql.WriteString(where)
	}

	if !forCount {
		if len(sb.sorts) > 0 {
			entries := make([]string, 0, len(sb.sorts))
			for _, s := range sb.sorts {
				expr, _, err := c.resolveField(s.Field, active)
				if err != nil {
					return "", nil, err
				}
				entries = append(entries, expr+" "+string(s.Order))
			}
			sql.WriteString(" ORDER BY ")
			sql.WriteString(strings.Join(entries, ", "))
		}
		if sb.limit != nil {
			sql.WriteString(" LIMIT " + b.bind(*sb.limit))
		}
		if sb.offset != nil {
			sql.WriteString(" OFFSET " + b.bind(*sb.offset))
		}
	}

	return sql.String(), b.args, nil
}

// whereWithGuard ANDs the compiled search with the soft-delete guard.
func (c *Compiler) whereWithGuard(b *binder, active map[string]*AllowedRelation, search *crud.SearchCondition, includeDeleted bool) (string, error) {
	var parts []string

	frag, err := c.fragment(b, active, search)
	if err != nil {
		return "", err
	}
	if frag != "" {
		parts = append(parts, frag)
	}

	if c.res.Table.HasDeleteColumn() && !includeDeleted {
		parts = append(parts, c.dialect.QualifyColumn(c.res.Table.Name, c.res.Table.DeleteColumn)+" IS NULL")
	}

	return strings.Join(parts, " AND "), nil
}

// compileJoins emits join clauses for declared relations. A join referencing
// an undeclared relation is skipped with a warning; the request still
// succeeds.
func (c *Compiler) compileJoins(b *binder, joins []crud.QueryJoin) ([]string, []string, map[string]*AllowedRelation, error) {
	active := make(map[string]*AllowedRelation, len(joins))
	var clauses []string
	var selects []string

	for _, join := range joins {
		rel, ok := c.res.ResolveRelation(join.Field)
		if !ok {
			log.Warn().
				Str("resource", c.res.Name).
				Str("relation", join.Field).
				Msg("Skipping join for undeclared relation")
			continue
		}
		if _, seen := active[rel.Name]; seen {
			continue
		}
		active[rel.Name] = rel

		kind := "LEFT JOIN"
		if rel.relation.Required {
			kind = "INNER JOIN"
		}

		on := rel.joinCondition(c.dialect, c.res.Table.Name)
		for _, f := range join.On {
			frag, err := c.joinOnFragment(b, active, f)
			if err != nil {
				return nil, nil, nil, err
			}
			on += " AND " + frag
		}

		clauses = append(clauses, fmt.Sprintf("%s %s %s ON %s",
			kind,
			c.dialect.QualifyColumn(rel.relation.Table.Schema, rel.relation.Table.Name),
			c.dialect.Quote(rel.Alias),
			on,
		))
		selects = append(selects, c.joinSelectColumns(rel, join.Select)...)
	}

	return clauses, selects, active, nil
}

func (r *AllowedRelation) joinCondition(d Dialect, baseTable string) string {
	return d.QualifyColumn(r.Alias, r.relation.ForeignKey) + " = " + d.QualifyColumn(baseTable, r.relation.LocalKey)
}

// joinOnFragment compiles one extra join-time condition. Fields resolve like
// normal condition fields: dotted for the joined relation, bare for the base
// table.
func (c *Compiler) joinOnFragment(b *binder, active map[string]*AllowedRelation, f crud.QueryFilter) (string, error) {
	expr, col, err := c.resolveField(f.Field, active)
	if err != nil {
		return "", err
	}
	return c.operatorFragment(b, expr, col, f.Operator, f.Value)
}

// joinSelectColumns resolves the projected columns of one join: requested
// columns intersected with the allow-list (or the full allow-list), plus
// primary keys regardless of selection. Columns are aliased "relation.column"
// so rows flatten without collisions.
func (c *Compiler) joinSelectColumns(rel *AllowedRelation, requested []string) []string {
	var names []string
	seen := make(map[string]bool)

	appendCol := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	if len(requested) > 0 {
		for _, name := range requested {
			if rel.relation.ColumnAllowed(name) && rel.relation.Table.HasColumn(name) {
				appendCol(name)
			}
		}
	} else {
		for _, name := range rel.AllowedColumns {
			appendCol(name)
		}
	}
	for _, pk := range rel.PrimaryColumns {
		appendCol(pk)
	}

	out := make([]string, len(names))
	for i, name := range names {
		out[i] = c.dialect.QualifyColumn(rel.Alias, name) + " AS " + c.dialect.Quote(rel.Alias+"."+name)
	}
	return out
}

// BuildInsert compiles a single-row INSERT restricted to allow-listed
// columns.
func (c *Compiler) BuildInsert(payload map[string]any) (string, []any, error) {
	keys, values, err := c.res.FilterPayload(payload)
	if err != nil {
		return "", nil, err
	}

	b := newBinder(c.dialect)
	quoted := make([]string, len(keys))
	placeholders := make([]string, len(keys))
	for i, key := range keys {
		quoted[i] = c.dialect.Quote(key)
		placeholders[i] = b.bind(values[i])
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		c.dialect.QualifyColumn(c.res.Table.Schema, c.res.Table.Name),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)
	return sql, b.args, nil
}

// BuildInsertMany compiles a multi-row INSERT. Column shape follows the
// first row; missing keys in later rows insert NULL.
func (c *Compiler) BuildInsertMany(payloads []map[string]any) (string, []any, error) {
	if len(payloads) == 0 {
		return "", nil, crud.ErrEmptyPayload
	}
	keys, _, err := c.res.FilterPayload(payloads[0])
	if err != nil {
		return "", nil, err
	}

	b := newBinder(c.dialect)
	quoted := make([]string, len(keys))
	for i, key := range keys {
		quoted[i] = c.dialect.Quote(key)
	}

	rows := make([]string, len(payloads))
	for i, payload := range payloads {
		placeholders := make([]string, len(keys))
		for j, key := range keys {
			placeholders[j] = b.bind(payload[key])
		}
		rows[i] = "(" + strings.Join(placeholders, ", ") + ")"
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING *",
		c.dialect.QualifyColumn(c.res.Table.Schema, c.res.Table.Name),
		strings.Join(quoted, ", "),
		strings.Join(rows, ", "),
	)
	return sql, b.args, nil
}

// BuildUpdate compiles an UPDATE over the allow-listed payload columns.
// Refuses to build without a condition.
func (c *Compiler) BuildUpdate(payload map[string]any, where *crud.SearchCondition, includeDeleted bool) (string, []any, error) {
	keys, values, err := c.res.FilterPayload(payload)
	if err != nil {
		return "", nil, err
	}

	b := newBinder(c.dialect)
	sets := make([]string, len(keys))
	for i, key := range keys {
		sets[i] = c.dialect.Quote(key) + " = " + b.bind(values[i])
	}

	cond, err := c.whereWithGuard(b, map[string]*AllowedRelation{}, where, includeDeleted)
	if err != nil {
		return "", nil, err
	}
	if cond == "" {
		return "", nil, fmt.Errorf("refusing to update %s without a condition", c.res.Name)
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING *",
		c.dialect.QualifyColumn(c.res.Table.Schema, c.res.Table.Name),
		strings.Join(sets, ", "),
		cond,
	)
	return sql, b.args, nil
}

// BuildReplace compiles an upsert keyed on the primary columns. The payload
// must carry every primary-key column.
func (c *Compiler) BuildReplace(payload map[string]any) (string, []any, error) {
	keys, values, err := c.res.FilterPayload(payload)
	if err != nil {
		return "", nil, err
	}
	primary := make(map[string]bool, len(c.res.Table.PrimaryColumns))
	for _, pk := range c.res.Table.PrimaryColumns {
		primary[pk] = true
		if _, ok := payload[pk]; !ok {
			return "", nil, crud.NewQueryParseError("Replace payload must include primary column %q", pk)
		}
	}

	b := newBinder(c.dialect)
	quoted := make([]string, len(keys))
	placeholders := make([]string, len(keys))
	var updates []string
	for i, key := range keys {
		quoted[i] = c.dialect.Quote(key)
		placeholders[i] = b.bind(values[i])
		if !primary[key] {
			updates = append(updates, c.dialect.Quote(key)+" = EXCLUDED."+c.dialect.Quote(key))
		}
	}

	pkCols := make([]string, len(c.res.Table.PrimaryColumns))
	for i, pk := range c.res.Table.PrimaryColumns {
		pkCols[i] = c.dialect.Quote(pk)
	}

	action := "DO NOTHING"
	if len(updates) > 0 {
		action = "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s RETURNING *",
		c.dialect.QualifyColumn(c.res.Table.Schema, c.res.Table.Name),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(pkCols, ", "),
		action,
	)
	return sql, b.args, nil
}

// BuildDelete compiles either a soft delete (timestamping the delete column)
// or a hard DELETE. Refuses to build without a condition.
func (c *Compiler) BuildDelete(where *crud.SearchCondition, soft bool) (string, []any, error) {
	if soft && !c.res.Table.HasDeleteColumn() {
		return "", nil, fmt.Errorf("resource %s has no soft-delete column", c.res.Name)
	}

	b := newBinder(c.dialect)
	cond, err := c.whereWithGuard(b, map[string]*AllowedRelation{}, where, !soft)
	if err != nil {
		return "", nil, err
	}
	if cond == "" {
		return "", nil, fmt.Errorf("refusing to delete from %s without a condition", c.res.Name)
	}

	table := c.dialect.QualifyColumn(c.res.Table.Schema, c.res.Table.Name)
	if soft {
		sql := fmt.Sprintf("UPDATE %s SET %s = now() WHERE %s RETURNING *",
			table, c.dialect.Quote(c.res.Table.DeleteColumn), cond)
		return sql, b.args, nil
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s RETURNING *", table, cond)
	return sql, b.args, nil
}

// BuildRecover compiles the soft-delete reversal: clears the delete column
// on rows that are currently soft-deleted.
func (c *Compiler) BuildRecover(where *crud.SearchCondition) (string, []any, error) {
	if !c.res.Table.HasDeleteColumn() {
		return "", nil, fmt.Errorf("resource %s has no soft-delete column", c.res.Name)
	}

	b := newBinder(c.dialect)
	frag, err := c.fragment(b, map[string]*AllowedRelation{}, where)
	if err != nil {
		return "", nil, err
	}
	if frag == "" {
		return "", nil, fmt.Errorf("refusing to recover %s without a condition", c.res.Name)
	}

	deleteCol := c.dialect.QualifyColumn(c.res.Table.Name, c.res.Table.DeleteColumn)
	sql := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s AND %s IS NOT NULL RETURNING *",
		c.dialect.QualifyColumn(c.res.Table.Schema, c.res.Table.Name),
		c.dialect.Quote(c.res.Table.DeleteColumn),
		frag,
		deleteCol,
	)
	return sql, b.args, nil
}

// baseFields filters dotted (relation) references out of the requested
// projection; joined columns are projected through the join clause instead.
func baseFields(fields []string) []string {
	var out []string
	for _, f := range fields {
		if !strings.Contains(f, ".") {
			out = append(out, f)
		}
	}
	return out
}

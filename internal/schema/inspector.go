// Package schema introspects entity metadata from PostgreSQL system
// catalogs. Metadata is loaded once per resource at service initialization
// and treated as immutable afterwards.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Column is one introspected table column.
type Column struct {
	Name       string
	DataType   string
	UDTName    string
	IsNullable bool
}

// IsArray reports whether the column holds a PostgreSQL array type.
func (c Column) IsArray() bool {
	return strings.HasPrefix(c.UDTName, "_")
}

// ElementType returns the element type of an array column ("text" for
// "_text"), or "" for non-array columns.
func (c Column) ElementType() string {
	if !c.IsArray() {
		return ""
	}
	return c.UDTName[1:]
}

// softDeleteColumn is the conventional soft-delete marker.
const softDeleteColumn = "deleted_at"

// Table is the immutable metadata of one entity table.
type Table struct {
	Schema         string
	Name           string
	Columns        []Column
	PrimaryColumns []string
	// DeleteColumn is the soft-delete timestamp column, "" when the table
	// has none.
	DeleteColumn string

	byName map[string]Column
}

// Column looks a column up by name.
func (t *Table) Column(name string) (Column, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// HasColumn reports whether the table exposes the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// ColumnNames returns every column name in table order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasDeleteColumn reports soft-delete capability.
func (t *Table) HasDeleteColumn() bool {
	return t.DeleteColumn != ""
}

// Inspector loads table metadata through a pgx pool.
type Inspector struct {
	db *pgxpool.Pool
}

// NewInspector creates an Inspector.
func NewInspector(db *pgxpool.Pool) *Inspector {
	return &Inspector{db: db}
}

// Inspect loads columns, primary-key columns and soft-delete capability for
// schemaName.tableName.
func (i *Inspector) Inspect(ctx context.Context, schemaName, tableName string) (*Table, error) {
	rows, err := i.db.Query(ctx, `
		SELECT column_name, data_type, udt_name, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("introspecting columns of %s.%s: %w", schemaName, tableName, err)
	}
	defer rows.Close()

	table := &Table{
		Schema: schemaName,
		Name:   tableName,
		byName: make(map[string]Column),
	}
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.UDTName, &c.IsNullable); err != nil {
			return nil, fmt.Errorf("scanning column of %s.%s: %w", schemaName, tableName, err)
		}
		table.Columns = append(table.Columns, c)
		table.byName[c.Name] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("table %s.%s not found or has no columns", schemaName, tableName)
	}

	pkRows, err := i.db.Query(ctx, `
		SELECT a.attname
		FROM pg_index x
		JOIN pg_attribute a ON a.attrelid = x.indrelid AND a.attnum = ANY(x.indkey)
		WHERE x.indrelid = to_regclass($1) AND x.indisprimary
		ORDER BY a.attnum
	`, quoteIdentifier(schemaName)+"."+quoteIdentifier(tableName))
	if err != nil {
		return nil, fmt.Errorf("introspecting primary key of %s.%s: %w", schemaName, tableName, err)
	}
	defer pkRows.Close()

	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			return nil, err
		}
		table.PrimaryColumns = append(table.PrimaryColumns, name)
	}
	if err := pkRows.Err(); err != nil {
		return nil, err
	}

	if c, ok := table.byName[softDeleteColumn]; ok && strings.HasPrefix(c.DataType, "timestamp") {
		table.DeleteColumn = c.Name
	}

	log.Debug().
		Str("table", schemaName+"."+tableName).
		Int("columns", len(table.Columns)).
		Strs("primary", table.PrimaryColumns).
		Bool("soft_delete", table.HasDeleteColumn()).
		Msg("Inspected entity table")

	return table, nil
}

// NewTable builds metadata directly, bypassing introspection. Intended for
// tests and static declarations.
func NewTable(schemaName, tableName string, columns []Column, primary []string, deleteColumn string) *Table {
	t := &Table{
		Schema:         schemaName,
		Name:           tableName,
		Columns:        columns,
		PrimaryColumns: primary,
		DeleteColumn:   deleteColumn,
		byName:         make(map[string]Column, len(columns)),
	}
	for _, c := range columns {
		t.byName[c.Name] = c
	}
	return t
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

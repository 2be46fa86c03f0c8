// Package compiler lowers parsed search-condition trees into parameterized
// SQL against an allow-listed resource. It owns column and relation
// authorization, operator dispatch and dialect differences.
package compiler

import (
	"strconv"
	"strings"
)

// Dialect selects placeholder style and case-insensitive matching strategy.
type Dialect int

const (
	// DialectPostgres uses $N placeholders, native ILIKE and array operators.
	DialectPostgres Dialect = iota
	// DialectGeneric uses ? placeholders and LOWER()+LIKE for
	// case-insensitive matching; array containment operators are
	// unavailable.
	DialectGeneric
)

// Placeholder returns the bound-parameter marker for the n-th argument
// (1-based).
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Quote double-quotes an identifier, escaping embedded quotes.
func (d Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QualifyColumn quotes alias.column.
func (d Dialect) QualifyColumn(alias, column string) string {
	return d.Quote(alias) + "." + d.Quote(column)
}

// binder accumulates the positional parameters of one compiled query. Each
// query gets its own binder, so parameter numbering never collides across
// requests.
type binder struct {
	dialect Dialect
	args    []any
}

func newBinder(d Dialect) *binder {
	return &binder{dialect: d}
}

// bind registers a value and returns its placeholder.
func (b *binder) bind(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

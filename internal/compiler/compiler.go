package compiler

import (
	"fmt"
	"strings"

	"github.com/crudkit-io/crudkit/internal/crud"
	"github.com/crudkit-io/crudkit/internal/schema"
)

// Compiler lowers search-condition trees into parameterized boolean
// expressions for one resource. It is immutable and safe for concurrent use;
// per-query state lives in the binder.
type Compiler struct {
	res     *Resource
	dialect Dialect
	custom  map[crud.ComparisonOperator]crud.CustomOperator
}

// New builds a compiler for the resource.
func New(res *Resource, dialect Dialect, custom ...crud.CustomOperator) *Compiler {
	m := make(map[crud.ComparisonOperator]crud.CustomOperator, len(custom))
	for _, c := range custom {
		m[c.Operator()] = c
	}
	return &Compiler{res: res, dialect: dialect, custom: m}
}

// Resource returns the compiled resource.
func (c *Compiler) Resource() *Resource {
	return c.res
}

// Dialect returns the target dialect.
func (c *Compiler) Dialect() Dialect {
	return c.dialect
}

// Where compiles a standalone WHERE expression. Any declared relation may be
// referenced; use a select builder when join enforcement matters.
func (c *Compiler) Where(cond *crud.SearchCondition) (string, []any, error) {
	b := newBinder(c.dialect)
	frag, err := c.fragment(b, nil, cond)
	if err != nil {
		return "", nil, err
	}
	return frag, b.args, nil
}

// fragment recursively compiles one tree node. active restricts dotted field
// references to joined relations; nil allows any declared relation.
func (c *Compiler) fragment(b *binder, active map[string]*AllowedRelation, cond *crud.SearchCondition) (string, error) {
	if cond.IsEmpty() {
		return "", nil
	}

	var parts []string

	for _, fc := range cond.Fields {
		frag, err := c.fieldFragment(b, active, fc)
		if err != nil {
			return "", err
		}
		if frag != "" {
			parts = append(parts, frag)
		}
	}

	if len(cond.And) > 0 {
		frag, err := c.group(b, active, cond.And, " AND ")
		if err != nil {
			return "", err
		}
		if frag != "" {
			parts = append(parts, frag)
		}
	}

	if len(cond.Not) > 0 {
		// The negated group is built in its own bracket sharing the parent's
		// parameter namespace; negating the group is not the same as
		// negating each clause.
		inner, err := c.joinChildren(b, active, cond.Not, " AND ")
		if err != nil {
			return "", err
		}
		if inner != "" {
			parts = append(parts, "NOT ("+inner+")")
		}
	}

	if len(cond.Or) > 0 {
		frag, err := c.group(b, active, cond.Or, " OR ")
		if err != nil {
			return "", err
		}
		if frag != "" {
			parts = append(parts, frag)
		}
	}

	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		return parts[0], nil
	default:
		return "(" + strings.Join(parts, " AND ") + ")", nil
	}
}

// group compiles a combinator's children. A single child collapses without a
// bracket; multiple children join inside one.
func (c *Compiler) group(b *binder, active map[string]*AllowedRelation, children []*crud.SearchCondition, sep string) (string, error) {
	if len(children) == 1 {
		return c.fragment(b, active, children[0])
	}
	joined, err := c.joinChildren(b, active, children, sep)
	if err != nil || joined == "" {
		return "", err
	}
	return "(" + joined + ")", nil
}

func (c *Compiler) joinChildren(b *binder, active map[string]*AllowedRelation, children []*crud.SearchCondition, sep string) (string, error) {
	frags := make([]string, 0, len(children))
	for _, child := range children {
		frag, err := c.fragment(b, active, child)
		if err != nil {
			return "", err
		}
		if frag != "" {
			frags = append(frags, frag)
		}
	}
	return strings.Join(frags, sep), nil
}

// fieldFragment compiles one leaf field condition.
func (c *Compiler) fieldFragment(b *binder, active map[string]*AllowedRelation, fc crud.FieldCondition) (string, error) {
	expr, col, err := c.resolveField(fc.Field, active)
	if err != nil {
		return "", err
	}

	if fc.HasScalar {
		// A null scalar means IS NULL; never emit "= NULL".
		if fc.Scalar == nil {
			return expr + " IS NULL", nil
		}
		return expr + " = " + b.bind(fc.Scalar), nil
	}

	andFrags := make([]string, 0, len(fc.Ops))
	for _, ov := range fc.Ops {
		frag, err := c.operatorFragment(b, expr, col, ov.Operator, ov.Value)
		if err != nil {
			return "", err
		}
		andFrags = append(andFrags, frag)
	}

	if len(fc.OrOps) > 0 {
		orFrags := make([]string, 0, len(fc.OrOps))
		for _, ov := range fc.OrOps {
			frag, err := c.operatorFragment(b, expr, col, ov.Operator, ov.Value)
			if err != nil {
				return "", err
			}
			orFrags = append(orFrags, frag)
		}
		orFrag := orFrags[0]
		if len(orFrags) > 1 {
			orFrag = "(" + strings.Join(orFrags, " OR ") + ")"
		}
		if len(andFrags) == 0 {
			return orFrag, nil
		}
		return "(" + strings.Join(append(andFrags, orFrag), " AND ") + ")", nil
	}

	switch len(andFrags) {
	case 0:
		return "", nil
	case 1:
		return andFrags[0], nil
	default:
		return "(" + strings.Join(andFrags, " AND ") + ")", nil
	}
}

// resolveField authorizes a field reference and returns the quoted,
// alias-qualified column expression plus column metadata.
func (c *Compiler) resolveField(field string, active map[string]*AllowedRelation) (string, schema.Column, error) {
	if err := checkSQLInjection(field); err != nil {
		return "", schema.Column{}, err
	}

	relPath, colName := splitFieldPath(field)
	if relPath == "" {
		if !c.res.ColumnAllowed(colName) {
			return "", schema.Column{}, &crud.ColumnAuthorizationError{Field: field, Reason: "not on the allow-list"}
		}
		col, _ := c.res.Table.Column(colName)
		return c.dialect.QualifyColumn(c.res.Table.Name, colName), col, nil
	}

	rel, ok := c.res.ResolveRelation(relPath)
	if !ok {
		return "", schema.Column{}, &crud.ColumnAuthorizationError{Field: field, Reason: fmt.Sprintf("unknown relation %q", relPath)}
	}
	if active != nil {
		if _, joined := active[rel.Name]; !joined {
			return "", schema.Column{}, &crud.ColumnAuthorizationError{Field: field, Reason: fmt.Sprintf("relation %q is not joined", relPath)}
		}
	}
	if !rel.relation.ColumnAllowed(colName) {
		return "", schema.Column{}, &crud.ColumnAuthorizationError{Field: field, Reason: "not on the relation's allow-list"}
	}
	col, _ := rel.relation.Table.Column(colName)
	return c.dialect.QualifyColumn(rel.Alias, colName), col, nil
}

// operatorFragment compiles one operator application against a resolved
// column expression.
func (c *Compiler) operatorFragment(b *binder, expr string, col schema.Column, op crud.ComparisonOperator, value any) (string, error) {
	switch op {
	case crud.OpEq:
		if value == nil {
			return expr + " IS NULL", nil
		}
		return expr + " = " + b.bind(value), nil
	case crud.OpNe:
		return expr + " != " + b.bind(value), nil
	case crud.OpGt:
		return expr + " > " + b.bind(value), nil
	case crud.OpLt:
		return expr + " < " + b.bind(value), nil
	case crud.OpGte:
		return expr + " >= " + b.bind(value), nil
	case crud.OpLte:
		return expr + " <= " + b.bind(value), nil

	case crud.OpStarts:
		return expr + " LIKE " + b.bind(pattern(value, false, true)), nil
	case crud.OpEnds:
		return expr + " LIKE " + b.bind(pattern(value, true, false)), nil
	case crud.OpCont:
		return expr + " LIKE " + b.bind(pattern(value, true, true)), nil
	case crud.OpExcl:
		return expr + " NOT LIKE " + b.bind(pattern(value, true, true)), nil

	case crud.OpEqLower:
		return "LOWER(" + expr + ") = " + b.bind(lowered(value)), nil
	case crud.OpNeLower:
		return "LOWER(" + expr + ") != " + b.bind(lowered(value)), nil
	case crud.OpStartsLower:
		return c.ilike(b, expr, pattern(value, false, true), false), nil
	case crud.OpEndsLower:
		return c.ilike(b, expr, pattern(value, true, false), false), nil
	case crud.OpContLower:
		return c.ilike(b, expr, pattern(value, true, true), false), nil
	case crud.OpExclLower:
		return c.ilike(b, expr, pattern(value, true, true), true), nil

	case crud.OpIn:
		arr, err := arrayValue(value)
		if err != nil {
			return "", err
		}
		if c.dialect == DialectPostgres {
			return expr + " = ANY(" + b.bind(typedSlice(arr)) + ")", nil
		}
		return expr + " IN (" + b.bindList(arr) + ")", nil
	case crud.OpNotIn:
		arr, err := arrayValue(value)
		if err != nil {
			return "", err
		}
		if c.dialect == DialectPostgres {
			return expr + " <> ALL(" + b.bind(typedSlice(arr)) + ")", nil
		}
		return expr + " NOT IN (" + b.bindList(arr) + ")", nil
	case crud.OpInLower:
		arr, err := arrayValue(value)
		if err != nil {
			return "", err
		}
		if c.dialect == DialectPostgres {
			return "LOWER(" + expr + ") = ANY(" + b.bind(typedSlice(loweredAll(arr))) + ")", nil
		}
		return "LOWER(" + expr + ") IN (" + b.bindList(loweredAll(arr)) + ")", nil
	case crud.OpNotInLower:
		arr, err := arrayValue(value)
		if err != nil {
			return "", err
		}
		if c.dialect == DialectPostgres {
			return "LOWER(" + expr + ") <> ALL(" + b.bind(typedSlice(loweredAll(arr))) + ")", nil
		}
		return "LOWER(" + expr + ") NOT IN (" + b.bindList(loweredAll(arr)) + ")", nil

	case crud.OpIsNull:
		return expr + " IS NULL", nil
	case crud.OpNotNull:
		return expr + " IS NOT NULL", nil

	case crud.OpBetween:
		arr, err := arrayValue(value)
		if err != nil {
			return "", err
		}
		if len(arr) != 2 {
			return "", crud.NewQueryParseError("Invalid filter value")
		}
		return expr + " BETWEEN " + b.bind(arr[0]) + " AND " + b.bind(arr[1]), nil

	case crud.OpContArr:
		return c.arrayOp(b, expr, col, value, "@>")
	case crud.OpIntersectsArr:
		return c.arrayOp(b, expr, col, value, "&&")

	default:
		custom, ok := c.custom[op]
		if !ok {
			return "", crud.NewQueryParseError("Invalid filter operator %q", string(op))
		}
		if custom.IsArray() {
			if _, err := arrayValue(value); err != nil {
				return "", err
			}
		}
		frag, err := custom.Compile(expr, value, b.bind)
		if err != nil {
			return "", crud.NewQueryParseError("Invalid filter value for operator %q: %v", string(op), err)
		}
		return frag, nil
	}
}

// ilike emits the dialect's case-insensitive LIKE.
func (c *Compiler) ilike(b *binder, expr, pat string, negated bool) string {
	if c.dialect == DialectPostgres {
		if negated {
			return expr + " NOT ILIKE " + b.bind(pat)
		}
		return expr + " ILIKE " + b.bind(pat)
	}
	like := " LIKE "
	if negated {
		like = " NOT LIKE "
	}
	return "LOWER(" + expr + ")" + like + b.bind(strings.ToLower(pat))
}

// arrayOp emits array containment/overlap against a typed array parameter.
func (c *Compiler) arrayOp(b *binder, expr string, col schema.Column, value any, op string) (string, error) {
	arr, err := arrayValue(value)
	if err != nil {
		return "", err
	}
	if c.dialect != DialectPostgres {
		return "", crud.NewQueryParseError("Operator not supported by this database")
	}
	elem := col.ElementType()
	if elem == "" {
		elem = "text"
	}
	return expr + " " + op + " " + b.bind(typedSlice(arr)) + "::" + elem + "[]", nil
}

// bindList binds each element and returns the comma-joined placeholders.
func (b *binder) bindList(arr []any) string {
	parts := make([]string, len(arr))
	for i, v := range arr {
		parts[i] = b.bind(v)
	}
	return strings.Join(parts, ", ")
}

func arrayValue(value any) ([]any, error) {
	arr, ok := value.([]any)
	if !ok || len(arr) == 0 {
		return nil, crud.NewQueryParseError("Invalid filter value")
	}
	return arr, nil
}

func pattern(value any, prefix, suffix bool) string {
	pat := fmt.Sprintf("%v", value)
	if prefix {
		pat = "%" + pat
	}
	if suffix {
		pat += "%"
	}
	return pat
}

func lowered(value any) any {
	if s, ok := value.(string); ok {
		return strings.ToLower(s)
	}
	return value
}

func loweredAll(arr []any) []any {
	out := make([]any, len(arr))
	for i, v := range arr {
		out[i] = lowered(v)
	}
	return out
}

// typedSlice narrows a homogeneous []any to a concrete slice so the driver
// can encode it as a typed array parameter.
func typedSlice(arr []any) any {
	if len(arr) == 0 {
		return arr
	}
	switch arr[0].(type) {
	case string:
		out := make([]string, 0, len(arr))
		for _, v := range arr {
			s, ok := v.(string)
			if !ok {
				return arr
			}
			out = append(out, s)
		}
		return out
	case int64:
		out := make([]int64, 0, len(arr))
		for _, v := range arr {
			n, ok := v.(int64)
			if !ok {
				return arr
			}
			out = append(out, n)
		}
		return out
	case float64:
		out := make([]float64, 0, len(arr))
		for _, v := range arr {
			f, ok := v.(float64)
			if !ok {
				return arr
			}
			out = append(out, f)
		}
		return out
	default:
		return arr
	}
}

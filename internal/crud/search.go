package crud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SearchCondition is the recursive filter tree: a tagged union of combinator
// nodes ($and/$or/$not) and leaf field conditions. A node may carry leaf
// fields and an $or group at the same time; the compiler ANDs the leaves with
// the bracketed OR group. Combinator slices are never empty after a
// successful parse.
type SearchCondition struct {
	And    []*SearchCondition
	Or     []*SearchCondition
	Not    []*SearchCondition
	Fields []FieldCondition
}

// FieldCondition is one leaf: either a bare scalar (operator defaults to $eq,
// or IS NULL semantics when the scalar is nil), an ordered operator map, or
// a field-level $or across alternative operator conditions.
type FieldCondition struct {
	Field     string
	Scalar    any
	HasScalar bool
	Ops       []OperatorValue
	OrOps     []OperatorValue
}

// OperatorValue is one operator→value pair inside a field condition.
type OperatorValue struct {
	Operator ComparisonOperator
	Value    any
}

// IsEmpty reports whether the node constrains nothing.
func (s *SearchCondition) IsEmpty() bool {
	return s == nil ||
		(len(s.And) == 0 && len(s.Or) == 0 && len(s.Not) == 0 && len(s.Fields) == 0)
}

// SearchAnd builds {$and: children}.
func SearchAnd(children ...*SearchCondition) *SearchCondition {
	return &SearchCondition{And: children}
}

// SearchOr builds {$or: children}.
func SearchOr(children ...*SearchCondition) *SearchCondition {
	return &SearchCondition{Or: children}
}

// SearchNot builds {$not: children}.
func SearchNot(children ...*SearchCondition) *SearchCondition {
	return &SearchCondition{Not: children}
}

// SearchField builds a single-leaf condition {field: {op: value}}.
func SearchField(field string, op ComparisonOperator, value any) *SearchCondition {
	return &SearchCondition{Fields: []FieldCondition{
		{Field: field, Ops: []OperatorValue{{Operator: op, Value: value}}},
	}}
}

// ConvertFilterToSearch turns one parsed filter triple into its search-tree
// form {field: {op: value}}.
func ConvertFilterToSearch(f QueryFilter) *SearchCondition {
	return SearchField(f.Field, f.Operator, f.Value)
}

// BuildClientSearch derives the client search tree from filter/or arrays when
// no explicit search parameter was supplied:
//   - both present, one of each: {$or: [f, o]}
//   - both present, multiple:    {$or: [{$and: filters}, {$and: ors}]}
//   - only filter:               {$and: filters} (single entry collapses)
//   - only or: single entry passes through, multiple wrap in {$or: ...}
func BuildClientSearch(filters, ors []QueryFilter) *SearchCondition {
	toConds := func(qf []QueryFilter) []*SearchCondition {
		out := make([]*SearchCondition, len(qf))
		for i, f := range qf {
			out[i] = ConvertFilterToSearch(f)
		}
		return out
	}

	switch {
	case len(filters) > 0 && len(ors) > 0:
		if len(filters) == 1 && len(ors) == 1 {
			return SearchOr(ConvertFilterToSearch(filters[0]), ConvertFilterToSearch(ors[0]))
		}
		return SearchOr(SearchAnd(toConds(filters)...), SearchAnd(toConds(ors)...))
	case len(filters) > 0:
		if len(filters) == 1 {
			return ConvertFilterToSearch(filters[0])
		}
		return SearchAnd(toConds(filters)...)
	case len(ors) > 0:
		if len(ors) == 1 {
			return ConvertFilterToSearch(ors[0])
		}
		return SearchOr(toConds(ors)...)
	default:
		return nil
	}
}

// ComposeSearch ANDs the route-parameter filters, the server-declared base
// condition and the client search into one tree. Parameter filters identify
// the addressed row and normally cannot be overridden; with allowOverride a
// client condition on a parameter's field replaces that parameter filter.
func ComposeSearch(params []QueryFilter, base, client *SearchCondition, allowOverride bool) *SearchCondition {
	if allowOverride && !client.IsEmpty() {
		claimed := make(map[string]bool)
		collectSearchFields(client, claimed)
		kept := params[:0:0]
		for _, f := range params {
			if !claimed[f.Field] {
				kept = append(kept, f)
			}
		}
		params = kept
	}

	var children []*SearchCondition
	if len(params) > 0 {
		conds := make([]*SearchCondition, len(params))
		for i, f := range params {
			conds[i] = ConvertFilterToSearch(f)
		}
		if len(conds) == 1 {
			children = append(children, conds[0])
		} else {
			children = append(children, SearchAnd(conds...))
		}
	}
	if !base.IsEmpty() {
		children = append(children, base)
	}
	if !client.IsEmpty() {
		children = append(children, client)
	}

	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	default:
		return SearchAnd(children...)
	}
}

// collectSearchFields gathers every field name referenced anywhere in the
// tree.
func collectSearchFields(cond *SearchCondition, into map[string]bool) {
	if cond.IsEmpty() {
		return
	}
	for _, fc := range cond.Fields {
		into[fc.Field] = true
	}
	for _, child := range cond.And {
		collectSearchFields(child, into)
	}
	for _, child := range cond.Or {
		collectSearchFields(child, into)
	}
	for _, child := range cond.Not {
		collectSearchFields(child, into)
	}
}

// UnmarshalJSON decodes the wire form of the search language. Decoding walks
// tokens instead of unmarshalling into a map so that leaf order is preserved;
// compiled SQL is deterministic for a given input.
func (s *SearchCondition) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("search condition must be a JSON object")
	}
	return s.decodeObject(dec)
}

func (s *SearchCondition) decodeObject(dec *json.Decoder) error {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in search condition", keyTok)
		}

		switch key {
		case "$and", "$or", "$not":
			list, err := decodeConditionList(dec, key)
			if err != nil {
				return err
			}
			switch key {
			case "$and":
				s.And = list
			case "$or":
				s.Or = list
			case "$not":
				s.Not = list
			}
		default:
			fc, err := decodeFieldCondition(dec, key)
			if err != nil {
				return err
			}
			s.Fields = append(s.Fields, fc)
		}
	}
	_, err := dec.Token() // closing brace
	return err
}

func decodeConditionList(dec *json.Decoder, key string) ([]*SearchCondition, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("%s expects an array of conditions", key)
	}

	var list []*SearchCondition
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return nil, fmt.Errorf("%s elements must be objects", key)
		}
		child := &SearchCondition{}
		if err := child.decodeObject(dec); err != nil {
			return nil, err
		}
		list = append(list, child)
	}
	if _, err := dec.Token(); err != nil { // closing bracket
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%s must not be empty", key)
	}
	return list, nil
}

func decodeFieldCondition(dec *json.Decoder, field string) (FieldCondition, error) {
	fc := FieldCondition{Field: field}

	tok, err := dec.Token()
	if err != nil {
		return fc, err
	}

	d, isDelim := tok.(json.Delim)
	if !isDelim {
		fc.Scalar = tokenValue(tok)
		fc.HasScalar = true
		return fc, nil
	}

	switch d {
	case '[':
		arr, err := decodeArray(dec)
		if err != nil {
			return fc, err
		}
		fc.Scalar = arr
		fc.HasScalar = true
		return fc, nil
	case '{':
		for dec.More() {
			opTok, err := dec.Token()
			if err != nil {
				return fc, err
			}
			op, ok := opTok.(string)
			if !ok {
				return fc, fmt.Errorf("unexpected token %v in condition for field %q", opTok, field)
			}
			if op == "$or" {
				orOps, err := decodeOperatorMap(dec, field)
				if err != nil {
					return fc, err
				}
				fc.OrOps = orOps
				continue
			}
			val, err := decodeValue(dec)
			if err != nil {
				return fc, err
			}
			fc.Ops = append(fc.Ops, OperatorValue{Operator: ComparisonOperator(op), Value: val})
		}
		_, err := dec.Token()
		return fc, err
	default:
		return fc, fmt.Errorf("unexpected token %v for field %q", d, field)
	}
}

func decodeOperatorMap(dec *json.Decoder, field string) ([]OperatorValue, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("$or inside field %q expects an operator object", field)
	}

	var ops []OperatorValue
	for dec.More() {
		opTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		op, ok := opTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in $or for field %q", opTok, field)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		ops = append(ops, OperatorValue{Operator: ComparisonOperator(op), Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("$or inside field %q must not be empty", field)
	}
	return ops, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); ok {
		switch d {
		case '[':
			return decodeArray(dec)
		case '{':
			m := make(map[string]any)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected token %v in object value", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				m[key] = val
			}
			_, err := dec.Token()
			return m, err
		}
	}
	return tokenValue(tok), nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	var arr []any
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	_, err := dec.Token() // closing bracket
	return arr, err
}

func tokenValue(tok json.Token) any {
	if n, ok := tok.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return tok
}

// MarshalJSON emits the canonical wire form. Leaf fields are written in
// insertion order, then $and, $or and $not groups.
func (s *SearchCondition) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true

	writeKey := func(key string) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteString(strconv.Quote(key))
		buf.WriteByte(':')
	}

	for _, fc := range s.Fields {
		writeKey(fc.Field)
		b, err := fc.marshalValue()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}

	groups := []struct {
		key  string
		list []*SearchCondition
	}{
		{"$and", s.And},
		{"$or", s.Or},
		{"$not", s.Not},
	}
	for _, g := range groups {
		if len(g.list) == 0 {
			continue
		}
		writeKey(g.key)
		buf.WriteByte('[')
		for i, child := range g.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := json.Marshal(child)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (fc FieldCondition) marshalValue() ([]byte, error) {
	if fc.HasScalar {
		return json.Marshal(fc.Scalar)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	parts := make([]string, 0, len(fc.Ops)+1)
	for _, ov := range fc.Ops {
		b, err := json.Marshal(ov.Value)
		if err != nil {
			return nil, err
		}
		parts = append(parts, strconv.Quote(string(ov.Operator))+":"+string(b))
	}
	if len(fc.OrOps) > 0 {
		orParts := make([]string, 0, len(fc.OrOps))
		for _, ov := range fc.OrOps {
			b, err := json.Marshal(ov.Value)
			if err != nil {
				return nil, err
			}
			orParts = append(orParts, strconv.Quote(string(ov.Operator))+":"+string(b))
		}
		parts = append(parts, `"$or":{`+strings.Join(orParts, ",")+`}`)
	}
	buf.WriteString(strings.Join(parts, ","))
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

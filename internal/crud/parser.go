package crud

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crudkit-io/crudkit/internal/config"
	"github.com/crudkit-io/crudkit/internal/qs"
)

// Parser turns normalized query-string parameters into a ParsedRequest. One
// parser is built per process from the immutable query grammar configuration
// and is safe for concurrent use.
type Parser struct {
	cfg    *config.QueryConfig
	custom []CustomOperator
}

// NewParser builds a parser for the configured grammar. Custom operators are
// accepted by the parser and dispatched by the compiler.
func NewParser(cfg *config.QueryConfig, custom ...CustomOperator) *Parser {
	return &Parser{cfg: cfg, custom: custom}
}

// ParseQuery parses every supported query parameter into a fresh
// ParsedRequest. A search parameter supersedes filter/or entirely.
func (p *Parser) ParseQuery(values url.Values) (*ParsedRequest, error) {
	params := qs.Normalize(values)
	req := NewParsedRequest()

	if raw := params.String(p.cfg.ParamName("fields")); raw != "" {
		req.Fields = splitClean(raw, p.cfg.DelimStr)
	}

	if params.Has(p.cfg.ParamName("search")) {
		raw := params.String(p.cfg.ParamName("search"))
		search := &SearchCondition{}
		if err := json.Unmarshal([]byte(raw), search); err != nil {
			return nil, NewQueryParseError("Invalid search param. JSON expected")
		}
		req.Search = search
	} else {
		for _, raw := range params.Strings(p.cfg.ParamName("filter")) {
			f, err := p.ParseCondition(raw)
			if err != nil {
				return nil, err
			}
			req.Filter = append(req.Filter, f)
		}
		for _, raw := range params.Strings(p.cfg.ParamName("or")) {
			f, err := p.ParseCondition(raw)
			if err != nil {
				return nil, err
			}
			req.Or = append(req.Or, f)
		}
	}

	for _, raw := range params.Strings(p.cfg.ParamName("join")) {
		j, err := p.parseJoin(raw)
		if err != nil {
			return nil, err
		}
		req.Join = append(req.Join, j)
	}

	for _, raw := range params.Strings(p.cfg.ParamName("sort")) {
		s, err := p.parseSort(raw)
		if err != nil {
			return nil, err
		}
		req.Sort = append(req.Sort, s)
	}

	var err error
	if req.Limit, err = p.parseIntOption(params, "limit"); err != nil {
		return nil, err
	}
	if req.Offset, err = p.parseIntOption(params, "offset"); err != nil {
		return nil, err
	}
	if req.Page, err = p.parseIntOption(params, "page"); err != nil {
		return nil, err
	}
	if req.Cache, err = p.parseIntOption(params, "cache"); err != nil {
		return nil, err
	}
	includeDeleted, err := p.parseIntOption(params, "includeDeleted")
	if err != nil {
		return nil, err
	}
	req.IncludeDeleted = includeDeleted != nil && *includeDeleted > 0

	if extra := p.parseExtra(params); len(extra) > 0 {
		req.Extra = extra
	}

	return req, nil
}

// ParseCondition parses one "field<delim>operator<delim>value" triple.
func (p *Parser) ParseCondition(raw string) (QueryFilter, error) {
	parts := strings.SplitN(raw, p.cfg.Delim, 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return QueryFilter{}, NewQueryParseError("Invalid filter param. Expected field%soperator%svalue", p.cfg.Delim, p.cfg.Delim)
	}

	field := parts[0]
	op := NormalizeOperator(parts[1])
	if !IsBuiltinOperator(op) && !p.isCustomOperator(op) {
		return QueryFilter{}, NewQueryParseError("Invalid filter operator %q", parts[1])
	}

	var rawValue string
	if len(parts) == 3 {
		rawValue = parts[2]
	}

	if emptyValueOperators[op] {
		return QueryFilter{Field: field, Operator: op}, nil
	}
	if rawValue == "" {
		return QueryFilter{}, NewQueryParseError("Invalid filter value")
	}

	if IsArrayOperator(op, p.custom) {
		elems := strings.Split(rawValue, p.cfg.DelimStr)
		arr := make([]any, 0, len(elems))
		for _, e := range elems {
			if e == "" {
				continue
			}
			arr = append(arr, coerceValue(e))
		}
		if len(arr) == 0 {
			return QueryFilter{}, NewQueryParseError("Invalid filter value")
		}
		return QueryFilter{Field: field, Operator: op, Value: arr}, nil
	}

	return QueryFilter{Field: field, Operator: op, Value: coerceValue(rawValue)}, nil
}

// ParseParams maps route parameters onto equality filters using the given
// descriptors. Unknown names are rejected, disabled descriptors dropped, and
// typed descriptors validated.
func ParseParams(routeParams map[string]string, descriptors map[string]ParamDescriptor) ([]QueryFilter, error) {
	names := make([]string, 0, len(routeParams))
	for name := range routeParams {
		names = append(names, name)
	}
	sort.Strings(names)

	filters := make([]QueryFilter, 0, len(names))
	for _, name := range names {
		d, ok := descriptors[name]
		if !ok {
			return nil, NewQueryParseError("Invalid route parameter %q", name)
		}
		if d.Disabled {
			continue
		}

		field := d.Field
		if field == "" {
			field = name
		}
		raw := routeParams[name]

		var value any
		switch d.Type {
		case ParamNumber:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, NewQueryParseError("Invalid route parameter %q. Number expected", name)
			}
			value = n
		case ParamUUID:
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, NewQueryParseError("Invalid route parameter %q. UUID expected", name)
			}
			value = id.String()
		default:
			value = raw
		}

		filters = append(filters, QueryFilter{Field: field, Operator: OpEq, Value: value})
	}
	return filters, nil
}

// parseJoin parses "relation<delim>col1,col2<delim>on[0]=f||op||v&on[1]=...".
func (p *Parser) parseJoin(raw string) (QueryJoin, error) {
	parts := strings.SplitN(raw, p.cfg.Delim, 3)
	if parts[0] == "" {
		return QueryJoin{}, NewQueryParseError("Invalid join param")
	}

	join := QueryJoin{Field: parts[0]}
	if len(parts) > 1 && parts[1] != "" {
		join.Select = splitClean(parts[1], p.cfg.DelimStr)
	}
	if len(parts) > 2 && parts[2] != "" {
		onValues, err := url.ParseQuery(parts[2])
		if err != nil {
			return QueryJoin{}, NewQueryParseError("Invalid join on conditions")
		}
		for _, rawOn := range qs.Normalize(onValues).Strings("on") {
			f, err := p.ParseCondition(rawOn)
			if err != nil {
				return QueryJoin{}, err
			}
			join.On = append(join.On, f)
		}
	}
	return join, nil
}

// parseSort parses "field<delimStr>order", normalizing the direction.
func (p *Parser) parseSort(raw string) (QuerySort, error) {
	parts := strings.SplitN(raw, p.cfg.DelimStr, 2)
	if len(parts) < 2 || parts[0] == "" {
		return QuerySort{}, NewQueryParseError("Invalid sort param. Expected field%sorder", p.cfg.DelimStr)
	}
	switch strings.ToUpper(strings.TrimSpace(parts[1])) {
	case "ASC":
		return QuerySort{Field: parts[0], Order: SortAsc}, nil
	case "DESC":
		return QuerySort{Field: parts[0], Order: SortDesc}, nil
	default:
		return QuerySort{}, NewQueryParseError("Invalid sort order %q", parts[1])
	}
}

func (p *Parser) parseIntOption(params qs.Params, logical string) (*int, error) {
	name := p.cfg.ParamName(logical)
	if !params.Has(name) {
		return nil, nil
	}
	raw := params.String(name)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, NewQueryParseError("Invalid %s param. Non-negative integer expected", name)
	}
	return &n, nil
}

// parseExtra collects "extra.<dotted.key>=value" parameters into a nested
// object, coercing each leaf value.
func (p *Parser) parseExtra(params qs.Params) map[string]any {
	prefix := p.cfg.ParamName("extra") + "."
	var extra map[string]any
	keys := make([]string, 0)
	for key := range params {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		if extra == nil {
			extra = make(map[string]any)
		}
		assignNested(extra, strings.Split(strings.TrimPrefix(key, prefix), "."), coerceValue(params.String(key)))
	}
	return extra
}

func assignNested(target map[string]any, path []string, value any) {
	if len(path) == 1 {
		target[path[0]] = value
		return
	}
	child, ok := target[path[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		target[path[0]] = child
	}
	assignNested(child, path[1:], value)
}

func (p *Parser) isCustomOperator(op ComparisonOperator) bool {
	for _, c := range p.custom {
		if c.Operator() == op {
			return true
		}
	}
	return false
}

func splitClean(raw, sep string) []string {
	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// dateLayouts are the ISO-ish formats accepted for filter values.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// coerceValue types a raw string value: JSON scalars are used as-is, objects
// stay raw strings, numbers that lose precision in float64 round-tripping
// stay raw strings, and non-JSON strings are tried as dates before falling
// back to the raw text.
func coerceValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil && !dec.More() {
		switch t := v.(type) {
		case map[string]any:
			// Objects are not valid scalar values; keep the raw text.
			return raw
		case json.Number:
			return coerceNumber(t, raw)
		case []any:
			return t
		default:
			return t
		}
	}

	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return raw
}

// coerceNumber guards against silent precision loss: a numeric literal is
// only accepted as a number when converting it back to text reproduces the
// original, otherwise the raw string is kept (large integer IDs survive).
func coerceNumber(n json.Number, raw string) any {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil && n.String() == raw {
		return i
	}
	if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
		if strconv.FormatFloat(f, 'f', -1, 64) == raw || strconv.FormatFloat(f, 'g', -1, 64) == raw {
			return f
		}
	}
	return raw
}

// Package crud implements the query-condition language: the wire grammar for
// filters, joins, sorting and pagination, and the recursive search tree that
// the compiler lowers into SQL.
package crud

// QueryFilter is a single leaf condition. Field may be dotted
// ("relation.column") to address a joined entity.
type QueryFilter struct {
	Field    string
	Operator ComparisonOperator
	Value    any
}

// QueryJoin declares a relation path to join, an optional column projection
// and optional extra join-time conditions.
type QueryJoin struct {
	Field  string
	Select []string
	On     []QueryFilter
}

// SortOrder is a validated ORDER BY direction.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// QuerySort is one ORDER BY entry.
type QuerySort struct {
	Field string
	Order SortOrder
}

// ParamType validates a typed route parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamUUID   ParamType = "uuid"
)

// ParamDescriptor declares how a route parameter maps onto an entity field.
// Disabled descriptors are accepted and dropped.
type ParamDescriptor struct {
	Field    string
	Type     ParamType
	Disabled bool
	Primary  bool
}

// ParsedRequest aggregates everything parsed from one inbound request. It is
// populated once by ParseQuery/ParseParams and read-only afterwards, except
// that the request assembler overwrites Search once when merging
// authorization and server-declared filters.
type ParsedRequest struct {
	Fields         []string
	ParamsFilter   []QueryFilter
	AuthPersist    map[string]any
	Search         *SearchCondition
	Filter         []QueryFilter
	Or             []QueryFilter
	Join           []QueryJoin
	Sort           []QuerySort
	Limit          *int
	Offset         *int
	Page           *int
	Cache          *int
	IncludeDeleted bool
	Extra          map[string]any
}

// NewParsedRequest returns an empty request.
func NewParsedRequest() *ParsedRequest {
	return &ParsedRequest{}
}

package crud

// ComparisonOperator is a filter operator in the query-condition language.
// Operators carry a "$" prefix on the wire; ParseQuery normalizes bare names.
type ComparisonOperator string

const (
	OpEq            ComparisonOperator = "$eq"
	OpNe            ComparisonOperator = "$ne"
	OpGt            ComparisonOperator = "$gt"
	OpLt            ComparisonOperator = "$lt"
	OpGte           ComparisonOperator = "$gte"
	OpLte           ComparisonOperator = "$lte"
	OpStarts        ComparisonOperator = "$starts"
	OpEnds          ComparisonOperator = "$ends"
	OpCont          ComparisonOperator = "$cont"
	OpExcl          ComparisonOperator = "$excl"
	OpIn            ComparisonOperator = "$in"
	OpNotIn         ComparisonOperator = "$notin"
	OpIsNull        ComparisonOperator = "$isnull"
	OpNotNull       ComparisonOperator = "$notnull"
	OpBetween       ComparisonOperator = "$between"
	OpEqLower       ComparisonOperator = "$eqL"
	OpNeLower       ComparisonOperator = "$neL"
	OpStartsLower   ComparisonOperator = "$startsL"
	OpEndsLower     ComparisonOperator = "$endsL"
	OpContLower     ComparisonOperator = "$contL"
	OpExclLower     ComparisonOperator = "$exclL"
	OpInLower       ComparisonOperator = "$inL"
	OpNotInLower    ComparisonOperator = "$notinL"
	OpContArr       ComparisonOperator = "$contArr"
	OpIntersectsArr ComparisonOperator = "$intersectsArr"
)

// arrayOperators take a delimited list as their value on the wire.
var arrayOperators = map[ComparisonOperator]bool{
	OpIn:            true,
	OpNotIn:         true,
	OpBetween:       true,
	OpInLower:       true,
	OpNotInLower:    true,
	OpContArr:       true,
	OpIntersectsArr: true,
}

// emptyValueOperators need no value on the wire.
var emptyValueOperators = map[ComparisonOperator]bool{
	OpIsNull:  true,
	OpNotNull: true,
}

// builtinOperators is the closed set the compiler handles natively.
var builtinOperators = map[ComparisonOperator]bool{
	OpEq: true, OpNe: true, OpGt: true, OpLt: true, OpGte: true, OpLte: true,
	OpStarts: true, OpEnds: true, OpCont: true, OpExcl: true,
	OpIn: true, OpNotIn: true, OpIsNull: true, OpNotNull: true, OpBetween: true,
	OpEqLower: true, OpNeLower: true, OpStartsLower: true, OpEndsLower: true,
	OpContLower: true, OpExclLower: true, OpInLower: true, OpNotInLower: true,
	OpContArr: true, OpIntersectsArr: true,
}

// IsArrayOperator reports whether op takes an array value, consulting the
// registered custom operators for unknown names.
func IsArrayOperator(op ComparisonOperator, custom []CustomOperator) bool {
	if arrayOperators[op] {
		return true
	}
	for _, c := range custom {
		if c.Operator() == op {
			return c.IsArray()
		}
	}
	return false
}

// IsBuiltinOperator reports whether the compiler handles op natively.
func IsBuiltinOperator(op ComparisonOperator) bool {
	return builtinOperators[op]
}

// NormalizeOperator ensures the "$" prefix used by the condition language.
func NormalizeOperator(raw string) ComparisonOperator {
	if len(raw) > 0 && raw[0] == '$' {
		return ComparisonOperator(raw)
	}
	return ComparisonOperator("$" + raw)
}

// CustomOperator extends the condition language with a deployment-specific
// operator. Compile receives the resolved, quoted column expression and a
// bind callback that registers a parameter value and returns its placeholder;
// it returns the SQL fragment for the leaf condition.
type CustomOperator interface {
	Operator() ComparisonOperator
	IsArray() bool
	Compile(field string, value any, bind func(any) string) (string, error)
}

// CustomOperatorFunc is a convenience implementation of CustomOperator.
type CustomOperatorFunc struct {
	Name      ComparisonOperator
	Array     bool
	CompileFn func(field string, value any, bind func(any) string) (string, error)
}

func (c CustomOperatorFunc) Operator() ComparisonOperator { return c.Name }

func (c CustomOperatorFunc) IsArray() bool { return c.Array }

func (c CustomOperatorFunc) Compile(field string, value any, bind func(any) string) (string, error) {
	return c.CompileFn(field, value, bind)
}

package crud

import (
	"errors"
	"fmt"
)

// QueryParseError reports malformed client query input: bad search JSON,
// bad filter/sort/join grammar, invalid numeric options, or invalid route
// parameters. Handlers translate it to a 400 response.
type QueryParseError struct {
	Message string
}

func (e *QueryParseError) Error() string {
	return e.Message
}

// NewQueryParseError creates a QueryParseError with a formatted message.
func NewQueryParseError(format string, args ...any) *QueryParseError {
	return &QueryParseError{Message: fmt.Sprintf(format, args...)}
}

// IsQueryParseError reports whether err is (or wraps) a QueryParseError.
func IsQueryParseError(err error) bool {
	var qpe *QueryParseError
	return errors.As(err, &qpe)
}

// ColumnAuthorizationError reports a field reference that failed
// authorization: not on the allow-list, an unresolvable relation path, or an
// identifier matching a SQL-injection signature.
type ColumnAuthorizationError struct {
	Field  string
	Reason string
}

func (e *ColumnAuthorizationError) Error() string {
	return fmt.Sprintf("field %q is not permitted: %s", e.Field, e.Reason)
}

// IsColumnAuthorizationError reports whether err is (or wraps) a
// ColumnAuthorizationError.
func IsColumnAuthorizationError(err error) bool {
	var cae *ColumnAuthorizationError
	return errors.As(err, &cae)
}

// ErrEmptyPayload is returned by write operations when no usable fields
// remain after allow-list filtering and authorization-field injection.
var ErrEmptyPayload = errors.New("empty data. Nothing to save")

// ErrNotFound is returned by single-entity operations when no row matches
// the resolved search condition.
var ErrNotFound = errors.New("entity not found")

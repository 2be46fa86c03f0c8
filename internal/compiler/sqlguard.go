package compiler

import (
	"regexp"

	"github.com/crudkit-io/crudkit/internal/crud"
)

// Signature patterns for SQL-injection attempts in resolved identifiers.
// They run against column and relation names only; literal values are always
// parameter-bound and never interpolated.
var sqlInjectionPatterns = []*regexp.Regexp{
	// quote, comment and hash probes
	regexp.MustCompile(`(?i)(%27)|(')|(--)|(%23)|(#)`),
	// = followed by quote/semicolon probes
	regexp.MustCompile(`(?i)((%3D)|(=))[^\n]*((%27)|(')|(--)|(%3B)|(;))`),
	// 'or / 'OR boolean probes
	regexp.MustCompile(`(?i)\w*((%27)|('))((%6F)|o|(%4F))((%72)|r|(%52))`),
	// 'union probes
	regexp.MustCompile(`(?i)((%27)|('))union`),
}

// checkSQLInjection fails the request when an identifier matches a known
// injection signature. Matching identifiers are rejected rather than
// sanitized.
func checkSQLInjection(field string) error {
	for _, pattern := range sqlInjectionPatterns {
		if pattern.MatchString(field) {
			return &crud.ColumnAuthorizationError{Field: field, Reason: "SQL injection signature detected"}
		}
	}
	return nil
}

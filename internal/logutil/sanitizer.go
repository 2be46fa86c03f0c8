// Package logutil configures zerolog and keeps literal values out of logged
// SQL.
package logutil

import (
	"regexp"
	"strings"
)

var (
	stringLiteralRe = regexp.MustCompile(`'(?:[^']|'')*'`)
	placeholderRe   = regexp.MustCompile(`\$\d+`)
	numberRe        = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	uuidRe          = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
)

// SanitizeSQL replaces literal values in a statement with placeholders so
// client-supplied data never reaches the logs. Positional parameters ($1,
// $2, ...) survive; compiled statements carry their values out of band, so
// this guards the hand-written queries and anything interpolated by
// mistake.
func SanitizeSQL(query string) string {
	query = stringLiteralRe.ReplaceAllString(query, "'<redacted>'")

	// UUIDs go first: the numeric pass would eat an all-digit segment.
	query = uuidRe.ReplaceAllString(query, "<uuid>")

	// Shield $N placeholders from the numeric pass.
	params := placeholderRe.FindAllString(query, -1)
	for _, p := range params {
		query = strings.Replace(query, p, "\x00p"+p[1:]+"\x00", 1)
	}
	query = numberRe.ReplaceAllString(query, "<num>")
	for _, p := range params {
		query = strings.Replace(query, "\x00p"+p[1:]+"\x00", p, 1)
	}

	query = strings.ReplaceAll(query, " TRUE", " <bool>")
	query = strings.ReplaceAll(query, " FALSE", " <bool>")
	return query
}

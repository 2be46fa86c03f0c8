// Package qs normalizes raw query-string parameters into the shape the
// condition parser consumes. Standard decoding leaves indexed-array keys
// (filter[0]=a&filter[1]=b) as independent entries; Normalize collapses
// them into ordered slices.
package qs

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
)

var indexedKeyRegex = regexp.MustCompile(`^(.+)\[(\d+)\]$`)

// Params is a normalized view of a decoded query string. Values are either
// string or []string.
type Params map[string]any

// Normalize collapses bracket-indexed keys into ordered string slices and
// drops holes left by missing indexes. It is a pure function and idempotent:
// normalizing already-normalized input returns an equal mapping.
func Normalize(values url.Values) Params {
	out := make(Params, len(values))
	indexed := make(map[string]map[int]string)

	for key, vals := range values {
		if m := indexedKeyRegex.FindStringSubmatch(key); m != nil {
			base := m[1]
			idx, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			if indexed[base] == nil {
				indexed[base] = make(map[int]string)
			}
			if len(vals) > 0 {
				indexed[base][idx] = vals[0]
			}
			continue
		}
		switch len(vals) {
		case 0:
		case 1:
			out[key] = vals[0]
		default:
			out[key] = append([]string(nil), vals...)
		}
	}

	for base, byIndex := range indexed {
		idxs := make([]int, 0, len(byIndex))
		for i := range byIndex {
			idxs = append(idxs, i)
		}
		sort.Ints(idxs)
		ordered := make([]string, 0, len(idxs))
		for _, i := range idxs {
			ordered = append(ordered, byIndex[i])
		}
		// Indexed and plain entries for the same key merge, plain first.
		switch existing := out[base].(type) {
		case nil:
			out[base] = ordered
		case string:
			out[base] = append([]string{existing}, ordered...)
		case []string:
			out[base] = append(existing, ordered...)
		}
	}

	return out
}

// Strings returns the values stored under key as a slice, treating a single
// string as a one-element slice. Missing keys return nil.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	default:
		return nil
	}
}

// String returns the first value stored under key, or "" when absent.
func (p Params) String(key string) string {
	vals := p.Strings(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}
